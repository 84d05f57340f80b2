package tiles

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(t *testing.T, ts *tileServer, interval time.Duration) *Fetcher {
	t.Helper()
	f, err := NewFetcher(filepath.Join(t.TempDir(), "tiles"), ts.preset(), interval, 5*time.Second)
	require.NoError(t, err)
	return f
}

func TestFetcher_PersistsAndReusesDisk(t *testing.T) {
	ts := newTileServer(t)
	f := newTestFetcher(t, ts, 0)
	downloads := 0
	f.OnDownload = func() { downloads++ }
	ctx := context.Background()

	b1, err := f.GetTile(ctx, 16, 58210, 25840)
	require.NoError(t, err)
	assert.Equal(t, 1, ts.requests())
	assert.Equal(t, []string{"/16/58210/25840.png"}, ts.paths)

	onDisk, err := os.ReadFile(filepath.Join(f.TileDir, "16-58210-25840.png"))
	require.NoError(t, err)
	assert.Equal(t, b1, onDisk)

	b2, err := f.GetTile(ctx, 16, 58210, 25840)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
	assert.Equal(t, 1, ts.requests(), "tile on disk must not be re-fetched")
	assert.Equal(t, 1, downloads)

	leftovers, err := filepath.Glob(filepath.Join(f.TileDir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestFetcher_ExistingTileShortCircuits(t *testing.T) {
	ts := newTileServer(t)
	f := newTestFetcher(t, ts, 0)
	require.NoError(t, os.WriteFile(f.TilePath(3, 1, 2), []byte("cached"), 0o644))

	b, err := f.GetTile(context.Background(), 3, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "cached", string(b))
	assert.Zero(t, ts.requests())
}

func TestFetcher_HTTPErrorIsNotPersisted(t *testing.T) {
	ts := newTileServer(t)
	f := newTestFetcher(t, ts, 0)

	_, err := f.GetTile(context.Background(), 99, 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 429")
	assert.NoFileExists(t, f.TilePath(99, 0, 0))
}

func TestFetcher_MinimumSpacingAcrossGoroutines(t *testing.T) {
	ts := newTileServer(t)
	const interval = 100 * time.Millisecond
	f := newTestFetcher(t, ts, interval)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := range 4 {
		wg.Add(1)
		go func(x int) {
			defer wg.Done()
			_, err := f.GetTile(context.Background(), 5, x, 7)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	ts.mu.Lock()
	times := append([]time.Time(nil), ts.times...)
	ts.mu.Unlock()
	require.Len(t, times, 4)
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	for i := 1; i < len(times); i++ {
		gap := times[i].Sub(times[i-1])
		assert.GreaterOrEqual(t, gap, interval*8/10, "fetch %d followed too closely: %s", i, gap)
	}
}

func TestFetcher_DiskHitsSkipPacing(t *testing.T) {
	ts := newTileServer(t)
	f := newTestFetcher(t, ts, time.Hour)
	for x := range 3 {
		require.NoError(t, os.WriteFile(f.TilePath(4, x, 0), []byte("x"), 0o644))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for x := range 3 {
			_, _ = f.GetTile(context.Background(), 4, x, 0)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("disk reads waited on the fetch limiter")
	}
}

func TestFetcher_ContextCancelledWhileWaiting(t *testing.T) {
	ts := newTileServer(t)
	f := newTestFetcher(t, ts, time.Hour)

	_, err := f.GetTile(context.Background(), 2, 0, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = f.GetTile(ctx, 2, 1, 0)
	assert.Error(t, err)
	assert.Equal(t, 1, ts.requests())
}

func TestFetcher_ConcurrentCallersShareDownload(t *testing.T) {
	ts := newTileServer(t)
	f := newTestFetcher(t, ts, 20*time.Millisecond)

	var wg sync.WaitGroup
	got := make([][]byte, 6)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := f.GetTile(context.Background(), 16, 58210, 25840)
			assert.NoError(t, err)
			got[i] = b
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ts.requests())
	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[0], got[i])
	}
}

func TestFetcher_RechecksDiskAfterPacing(t *testing.T) {
	ts := newTileServer(t)
	f := newTestFetcher(t, ts, 300*time.Millisecond)
	require.True(t, f.Limiter.Allow(), "drain the burst token")

	type result struct {
		b   []byte
		err error
	}
	res := make(chan result, 1)
	go func() {
		b, err := f.GetTile(context.Background(), 9, 1, 2)
		res <- result{b, err}
	}()

	// lands while the caller is parked on the limiter
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, writeAtomic(f.TilePath(9, 1, 2), []byte("stored meanwhile")))

	r := <-res
	require.NoError(t, r.err)
	assert.Equal(t, "stored meanwhile", string(r.b))
	assert.Zero(t, ts.requests())
}
