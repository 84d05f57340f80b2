package tiles

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/s0ultr4d3r/gpx2video/metrics"
)

// Fetcher reads tiles from TileDir and downloads the missing ones.
// All downloads share one Limiter, so MinInterval spacing holds across goroutines.
type Fetcher struct {
	Client    *http.Client
	Limiter   *rate.Limiter
	TileDir   string
	UserAgent string
	Preset    Preset
	Metrics   *metrics.Metrics
	Log       zerolog.Logger
	// OnDownload, if set, runs after every tile stored from the network.
	OnDownload func()

	inflight singleflight.Group
}

func NewFetcher(tileDir string, preset Preset, minInterval, timeout time.Duration) (*Fetcher, error) {
	if tileDir == "" {
		tileDir = "tiles"
	}
	if err := os.MkdirAll(tileDir, 0o755); err != nil {
		return nil, err
	}
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &Fetcher{
		Client: &http.Client{
			Timeout: timeout,
		},
		Limiter:   rate.NewLimiter(limit, 1),
		TileDir:   tileDir,
		UserAgent: "gpx2video/1.0 (+tiles)",
		Preset:    preset,
		Log:       zerolog.Nop(),
	}, nil
}

func (f *Fetcher) TilePath(z, x, y int) string {
	return filepath.Join(f.TileDir, fmt.Sprintf("%d-%d-%d.png", z, x, y))
}

// GetTile returns the raw tile bytes. A tile already on disk is never re-fetched,
// and concurrent callers for the same missing tile share one download.
func (f *Fetcher) GetTile(ctx context.Context, z, x, y int) ([]byte, error) {
	p := f.TilePath(z, x, y)
	if b, ok, err := f.readDisk(p); ok || err != nil {
		return b, err
	}
	v, err, _ := f.inflight.Do(p, func() (any, error) {
		return f.fetch(ctx, p, z, x, y)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (f *Fetcher) readDisk(p string) ([]byte, bool, error) {
	b, err := os.ReadFile(p)
	if err == nil {
		f.Metrics.IncDiskHit()
		return b, true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	return nil, false, err
}

func (f *Fetcher) fetch(ctx context.Context, p string, z, x, y int) ([]byte, error) {
	u, err := f.Preset.FillURL(z, x, y)
	if err != nil {
		return nil, err
	}
	if err := f.Limiter.Wait(ctx); err != nil {
		return nil, err
	}
	// stored by another process or an earlier flight while this one waited
	if b, ok, err := f.readDisk(p); ok || err != nil {
		return b, err
	}

	start := time.Now()
	body, err := f.download(ctx, u)
	if err != nil {
		return nil, err
	}
	f.Metrics.ObserveFetch(time.Since(start))
	f.Log.Debug().Str("url", u).Dur("took", time.Since(start)).Int("bytes", len(body)).Msg("tile fetched")

	if err := writeAtomic(p, body); err != nil {
		return nil, fmt.Errorf("store tile %s: %w", p, err)
	}
	if f.OnDownload != nil {
		f.OnDownload()
	}
	return body, nil
}

func (f *Fetcher) download(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.UserAgent)

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return nil, fmt.Errorf("tile HTTP %d for %s: %s", resp.StatusCode, u, strings.TrimSpace(string(b)))
	}
	return io.ReadAll(resp.Body)
}

// writeAtomic never exposes a partially written tile to concurrent readers.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
