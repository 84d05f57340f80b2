package render

import (
	"encoding/hex"
	"errors"
	"fmt"
	"image/color"
	"strings"
)

// ParseHexColor accepts #RRGGBB or #AARRGGBB.
func ParseHexColor(s string) (color.Color, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "#") {
		return nil, errors.New("hex color must start with #")
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, "#"))
	if err != nil {
		return nil, fmt.Errorf("hex color %q: %w", s, err)
	}
	switch len(b) {
	case 3:
		return color.NRGBA{b[0], b[1], b[2], 0xFF}, nil
	case 4:
		return color.NRGBA{b[1], b[2], b[3], b[0]}, nil
	}
	return nil, errors.New("hex color format: #RRGGBB or #AARRGGBB")
}
