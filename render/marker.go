package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"

	_ "image/png"

	"github.com/fogleman/gg"
	xdraw "golang.org/x/image/draw"
)

var ErrMarker = errors.New("marker icon unavailable")

// LoadMarker reads the icon drawn at the center of every frame.
// With size > 0 the icon is scaled so that its longest side is size pixels.
func LoadMarker(path string, size int) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMarker, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrMarker, path, err)
	}
	if size > 0 {
		img = ScaleMarker(img, size)
	}
	return img, nil
}

func ScaleMarker(img image.Image, size int) image.Image {
	b := img.Bounds()
	w, h := size, size
	if b.Dx() > b.Dy() {
		h = max(1, size*b.Dy()/b.Dx())
	} else if b.Dy() > b.Dx() {
		w = max(1, size*b.Dx()/b.Dy())
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Over, nil)
	return dst
}

// DefaultMarker is a filled dot with a white ring.
func DefaultMarker(size int, fill color.Color) image.Image {
	if size <= 0 {
		size = 24
	}
	r := float64(size) / 2
	dc := gg.NewContext(size, size)
	dc.DrawCircle(r, r, r-1)
	dc.SetColor(color.White)
	dc.Fill()
	dc.DrawCircle(r, r, r*0.65)
	dc.SetColor(fill)
	dc.Fill()
	return dc.Image()
}
