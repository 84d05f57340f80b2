package tiles

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func solidPNG(t testing.TB, c color.Color, size int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// tileColor gives every tile address a distinct, reproducible color.
func tileColor(z, x, y int) color.RGBA {
	return color.RGBA{R: uint8(x * 37), G: uint8(y * 53), B: uint8(z * 11), A: 0xFF}
}

// fakeSource serves generated tiles and counts requests per address.
type fakeSource struct {
	t     testing.TB
	mu    sync.Mutex
	calls map[[3]int]int
	total atomic.Int64
	delay time.Duration
	fail  map[[3]int]error
}

func newFakeSource(t testing.TB) *fakeSource {
	return &fakeSource{t: t, calls: map[[3]int]int{}, fail: map[[3]int]error{}}
}

func (f *fakeSource) GetTile(ctx context.Context, z, x, y int) ([]byte, error) {
	k := [3]int{z, x, y}
	f.mu.Lock()
	f.calls[k]++
	err := f.fail[k]
	f.mu.Unlock()
	f.total.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err != nil {
		return nil, err
	}
	return solidPNG(f.t, tileColor(z, x, y), TileSize), nil
}

func (f *fakeSource) count(z, x, y int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[[3]int{z, x, y}]
}

// tileServer is an httptest XYZ server recording request paths and times.
type tileServer struct {
	*httptest.Server
	mu    sync.Mutex
	paths []string
	times []time.Time
}

func newTileServer(t *testing.T) *tileServer {
	t.Helper()
	ts := &tileServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		ts.paths = append(ts.paths, r.URL.Path)
		ts.times = append(ts.times, time.Now())
		ts.mu.Unlock()

		var z, x, y int
		if _, err := fmt.Sscanf(strings.TrimPrefix(r.URL.Path, "/"), "%d/%d/%d.png", &z, &x, &y); err != nil {
			http.Error(w, "bad tile path", http.StatusBadRequest)
			return
		}
		if z == 99 {
			http.Error(w, "quota exceeded", http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(solidPNG(t, tileColor(z, x, y), TileSize))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tileServer) requests() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.paths)
}

func (ts *tileServer) preset() Preset {
	return Preset{Name: "test", URLTmpl: ts.URL + "/{z}/{x}/{y}.png", MinZoom: 0, MaxZoom: 99}
}
