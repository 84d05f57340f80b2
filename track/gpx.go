package track

import (
	"fmt"
	"time"

	"github.com/tkrajina/gpxgo/gpx"
)

// Fix is a single raw GPS reading. T is nil when the source point had no <time>.
type Fix struct {
	Lat float64
	Lon float64
	T   *time.Time
}

// Position is a synthetic sample produced by the Resampler.
type Position struct {
	Lat float64
	Lon float64
	T   time.Time
}

// ParseGPXFile flattens every track and segment of the file, in file order.
func ParseGPXFile(path string) ([]Fix, error) {
	g, err := gpx.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("parse gpx %s: %w", path, err)
	}
	return fixesFromGPX(g), nil
}

// ParseGPX is ParseGPXFile for an in-memory document.
func ParseGPX(b []byte) ([]Fix, error) {
	g, err := gpx.ParseBytes(b)
	if err != nil {
		return nil, fmt.Errorf("parse gpx: %w", err)
	}
	return fixesFromGPX(g), nil
}

func fixesFromGPX(g *gpx.GPX) []Fix {
	out := make([]Fix, 0, 1024)
	for _, tr := range g.Tracks {
		for _, s := range tr.Segments {
			for _, p := range s.Points {
				f := Fix{Lat: p.Latitude, Lon: p.Longitude}
				if !p.Timestamp.IsZero() {
					t := p.Timestamp
					f.T = &t
				}
				out = append(out, f)
			}
		}
	}
	return out
}
