package tiles

import (
	"fmt"
	"net/url"
	"strings"
)

type Preset struct {
	Name        string
	URLTmpl     string // .../{z}/{x}/{y}.png
	Attribution string
	MinZoom     int
	MaxZoom     int
}

var Presets = map[string]Preset{
	"gsi-std": {
		Name:        "GSI Standard",
		URLTmpl:     "https://cyberjapandata.gsi.go.jp/xyz/std/{z}/{x}/{y}.png",
		Attribution: "© Geospatial Information Authority of Japan",
		MinZoom:     2, MaxZoom: 18,
	},
	"osm": {
		Name:        "OpenStreetMap",
		URLTmpl:     "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
		Attribution: "© OpenStreetMap contributors",
		MinZoom:     0, MaxZoom: 19,
	},
	"opentopomap": {
		Name:        "OpenTopoMap",
		URLTmpl:     "https://tile.opentopomap.org/{z}/{x}/{y}.png",
		Attribution: "© OpenTopoMap (CC-BY-SA), © OpenStreetMap contributors",
		MinZoom:     0, MaxZoom: 17,
	},
}

// ResolvePreset accepts a preset name or a literal {z}/{x}/{y} template.
func ResolvePreset(s string) (Preset, error) {
	s = strings.TrimSpace(s)
	if p, ok := Presets[s]; ok {
		return p, nil
	}
	if strings.Contains(s, "{z}") && strings.Contains(s, "{x}") && strings.Contains(s, "{y}") {
		return Preset{Name: "custom", URLTmpl: s, MinZoom: 0, MaxZoom: 22}, nil
	}
	return Preset{}, fmt.Errorf("unknown tile preset %q (want one of gsi-std, osm, opentopomap or a {z}/{x}/{y} template)", s)
}

func (p Preset) FillURL(z, x, y int) (string, error) {
	u := strings.ReplaceAll(p.URLTmpl, "{z}", fmt.Sprintf("%d", z))
	u = strings.ReplaceAll(u, "{x}", fmt.Sprintf("%d", x))
	u = strings.ReplaceAll(u, "{y}", fmt.Sprintf("%d", y))
	_, err := url.Parse(u)
	return u, err
}

func (p Preset) CheckZoom(z int) error {
	if z < p.MinZoom || z > p.MaxZoom {
		return fmt.Errorf("zoom %d outside %s range [%d..%d]", z, p.Name, p.MinZoom, p.MaxZoom)
	}
	return nil
}
