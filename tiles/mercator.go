package tiles

import (
	"math"

	"github.com/paulmach/orb/maptile"
)

const TileSize = 256

// mercX/Y: lon/lat (deg) -> normalized mercator [0..1]
func mercX(lon float64) float64 { return (lon + 180.0) / 360.0 }
func mercY(lat float64) float64 {
	lat = math.Min(85.05112878, math.Max(-85.05112878, lat))
	rad := lat * math.Pi / 180.0
	s := math.Sin(rad)
	y := 0.5 - math.Log((1+s)/(1-s))/(4*math.Pi)
	return y
}

// At zoom z, world size in pixels:
func worldSize(z int) float64 { return float64(TileSize) * math.Exp2(float64(z)) }

// LonLatToPixel returns pixel coords in "world pixels" at zoom z.
func LonLatToPixel(lon, lat float64, z int) (px, py float64) {
	ws := worldSize(z)
	px = mercX(lon) * ws
	py = mercY(lat) * ws
	return
}

// PixelToTile returns tile indices and pixel offset inside tile.
func PixelToTile(px, py float64) (tx, ty int, ox, oy int) {
	tx = int(math.Floor(px / TileSize))
	ty = int(math.Floor(py / TileSize))
	ox = int(math.Floor(px)) - tx*TileSize
	oy = int(math.Floor(py)) - ty*TileSize
	return
}

// Projection is the tile a coordinate falls in and its pixel offset inside that tile.
type Projection struct {
	Tile     maptile.Tile
	PixelX   int
	PixelY   int
	TileSize int
}

// Project maps a coordinate to its tile address at zoom z. It is pure.
func Project(lat, lon float64, z int) Projection {
	px, py := LonLatToPixel(lon, lat, z)
	tx, ty, ox, oy := PixelToTile(px, py)

	// lon=180 and the southern clamp land exactly on the far world edge
	last := 1<<z - 1
	if tx > last {
		tx, ox = last, TileSize-1
	}
	if ty > last {
		ty, oy = last, TileSize-1
	}
	return Projection{
		Tile:     maptile.New(uint32(tx), uint32(ty), maptile.Zoom(z)),
		PixelX:   ox,
		PixelY:   oy,
		TileSize: TileSize,
	}
}

// PanelRadius is the tile radius w used for size x size frames: one tile of
// margin per started tile of frame size. A (2w+1)x(2w+1) panel then contains
// the crop window for any position inside its middle tile.
func PanelRadius(size int) int {
	if size < 1 {
		return 1
	}
	return (size-1)/TileSize + 1
}
