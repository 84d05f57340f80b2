package tiles

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/paulmach/orb/maptile"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/s0ultr4d3r/gpx2video/metrics"
)

const DefaultCacheSize = 10

type panelKey struct {
	X, Y   uint32
	Z      maptile.Zoom
	Radius int
}

func (k panelKey) String() string {
	return fmt.Sprintf("%d/%d/%d/r%d", k.Z, k.X, k.Y, k.Radius)
}

// PanelCache memoizes assembled panels. Entries are evicted in insertion
// order: lookups use Peek, which never promotes an entry, so the underlying
// list stays FIFO. Panels are shared and must not be modified by callers.
//
// mu only guards the list; tile I/O always happens outside it. Concurrent
// misses on one key share a single assembly.
type PanelCache struct {
	mu      sync.Mutex
	panels  *simplelru.LRU[panelKey, *image.RGBA]
	evicted []panelKey
	build   singleflight.Group

	src     TileSource
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewPanelCache(src TileSource, capacity int, m *metrics.Metrics, log zerolog.Logger) (*PanelCache, error) {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	c := &PanelCache{src: src, metrics: m, log: log}
	l, err := simplelru.NewLRU[panelKey, *image.RGBA](capacity, func(k panelKey, _ *image.RGBA) {
		c.evicted = append(c.evicted, k)
	})
	if err != nil {
		return nil, err
	}
	c.panels = l
	return c, nil
}

// Panel returns the panel of radius w centered on tile, assembling it on a miss.
func (c *PanelCache) Panel(ctx context.Context, tile maptile.Tile, w int) (*image.RGBA, error) {
	key := panelKey{X: tile.X, Y: tile.Y, Z: tile.Z, Radius: w}

	c.mu.Lock()
	img, ok := c.panels.Peek(key)
	c.mu.Unlock()
	if ok {
		c.metrics.IncPanelHit()
		return img, nil
	}
	c.metrics.IncPanelMiss()

	v, err, _ := c.build.Do(key.String(), func() (any, error) {
		// a flight for this key may have finished since the Peek above
		c.mu.Lock()
		img, ok := c.panels.Peek(key)
		c.mu.Unlock()
		if ok {
			return img, nil
		}

		img, err := BuildPanel(ctx, c.src, tile, w)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.panels.Add(key, img)
		evicted := c.evicted
		c.evicted = nil
		c.mu.Unlock()

		for _, k := range evicted {
			c.metrics.IncEviction()
			c.log.Debug().Uint32("x", k.X).Uint32("y", k.Y).Msg("panel evicted")
		}
		return img, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*image.RGBA), nil
}

func (c *PanelCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.panels.Len()
}
