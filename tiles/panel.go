package tiles

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	_ "image/gif"

	"github.com/paulmach/orb/maptile"
	xdraw "golang.org/x/image/draw"
)

// TileSource yields raw encoded tile bytes for an XYZ address.
type TileSource interface {
	GetTile(ctx context.Context, z, x, y int) ([]byte, error)
}

// BuildPanel assembles the (2w+1)x(2w+1) grid of tiles centered on center.
// Columns wrap around the antimeridian; rows beyond the poles stay transparent.
func BuildPanel(ctx context.Context, src TileSource, center maptile.Tile, w int) (*image.RGBA, error) {
	if w < 0 {
		return nil, fmt.Errorf("invalid panel radius %d", w)
	}
	side := (2*w + 1) * TileSize
	out := image.NewRGBA(image.Rect(0, 0, side, side))

	z := int(center.Z)
	n := 1 << z
	for dy := -w; dy <= w; dy++ {
		ty := int(center.Y) + dy
		if ty < 0 || ty >= n {
			continue
		}
		for dx := -w; dx <= w; dx++ {
			tx := ((int(center.X)+dx)%n + n) % n

			data, err := src.GetTile(ctx, z, tx, ty)
			if err != nil {
				return nil, fmt.Errorf("get tile %d/%d/%d: %w", z, tx, ty, err)
			}
			img, _, err := decodeTile(data)
			if err != nil {
				return nil, fmt.Errorf("decode tile %d/%d/%d: %w", z, tx, ty, err)
			}

			off := image.Pt((dx+w)*TileSize, (dy+w)*TileSize)
			dst := image.Rectangle{Min: off, Max: off.Add(image.Pt(TileSize, TileSize))}
			if img.Bounds().Dx() == TileSize && img.Bounds().Dy() == TileSize {
				xdraw.Draw(out, dst, img, img.Bounds().Min, xdraw.Src)
			} else {
				// retina/512px sources
				xdraw.ApproxBiLinear.Scale(out, dst, img, img.Bounds(), xdraw.Src, nil)
			}
		}
	}
	return out, nil
}

func decodeTile(b []byte) (image.Image, string, error) {
	// Fast path: check first bytes for PNG/JPEG
	if len(b) >= 8 && bytes.Equal(b[:8], []byte{137, 80, 78, 71, 13, 10, 26, 10}) {
		img, err := png.Decode(bytes.NewReader(b))
		return img, "image/png", err
	}
	if len(b) >= 3 && b[0] == 0xFF && b[1] == 0xD8 && b[2] == 0xFF {
		img, err := jpeg.Decode(bytes.NewReader(b))
		return img, "image/jpeg", err
	}
	// fallback to image.Decode (slower, but robust)
	img, format, err := image.Decode(bytes.NewReader(b))
	return img, format, err
}
