package render

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/fogleman/gg"
	"github.com/paulmach/orb/maptile"
	xdraw "golang.org/x/image/draw"

	"github.com/s0ultr4d3r/gpx2video/tiles"
	"github.com/s0ultr4d3r/gpx2video/track"
)

var ErrCrop = errors.New("crop window outside panel")

// Compositor cuts Size x Size frames out of panels and stamps the marker on them.
type Compositor struct {
	Size   int
	Marker image.Image
}

// Compose crops the window centered on (cx, cy) in panel coordinates.
// The panel is only read; the returned frame is a new buffer.
func (c *Compositor) Compose(panel *image.RGBA, cx, cy int) (*image.RGBA, error) {
	half := c.Size / 2
	win := image.Rect(cx-half, cy-half, cx-half+c.Size, cy-half+c.Size)
	if !win.In(panel.Bounds()) {
		return nil, fmt.Errorf("%w: window %v, panel %v", ErrCrop, win, panel.Bounds())
	}

	frame := image.NewRGBA(image.Rect(0, 0, c.Size, c.Size))
	xdraw.Copy(frame, image.Point{}, panel, win, xdraw.Src, nil)
	if c.Marker != nil {
		gg.NewContextForRGBA(frame).DrawImageAnchored(c.Marker, half, half, 0.5, 0.5)
	}
	return frame, nil
}

type PanelSource interface {
	Panel(ctx context.Context, tile maptile.Tile, w int) (*image.RGBA, error)
}

// Renderer turns one resampled position into one frame.
type Renderer struct {
	Panels     PanelSource
	Compositor *Compositor
	Zoom       int
}

func (r *Renderer) Render(ctx context.Context, pos track.Position) (*image.RGBA, error) {
	p := tiles.Project(pos.Lat, pos.Lon, r.Zoom)
	w := tiles.PanelRadius(r.Compositor.Size)

	panel, err := r.Panels.Panel(ctx, p.Tile, w)
	if err != nil {
		return nil, err
	}
	cx := w*p.TileSize + p.PixelX
	cy := w*p.TileSize + p.PixelY
	return r.Compositor.Compose(panel, cx, cy)
}
