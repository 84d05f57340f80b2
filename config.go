package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const dateLayout = "2006-01-02 15:04:05"

// Config is one run. Every field can come from the YAML file or a flag;
// flags given on the command line win.
type Config struct {
	In    string `yaml:"in" validate:"required"`
	Out   string `yaml:"out" validate:"required"`
	Start string `yaml:"start"`
	End   string `yaml:"end"`

	Size  int    `yaml:"size" validate:"min=64,max=4096"`
	Zoom  int    `yaml:"zoom" validate:"min=0"`
	Tiles string `yaml:"tiles" validate:"required"`

	TileDir       string        `yaml:"tile_dir" validate:"required"`
	FetchInterval time.Duration `yaml:"fetch_interval" validate:"min=0"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout" validate:"gt=0"`

	FPS    int `yaml:"fps" validate:"min=1,max=240"`
	Window int `yaml:"window" validate:"min=1,max=256"`
	Cache  int `yaml:"cache" validate:"min=1,max=1024"`

	Marker      string `yaml:"marker"`
	MarkerSize  int    `yaml:"marker_size" validate:"min=4,max=512"`
	MarkerColor string `yaml:"marker_color" validate:"required"`

	FFmpeg      string        `yaml:"ffmpeg" validate:"required"`
	Timeout     time.Duration `yaml:"timeout" validate:"gt=0"`
	LegacyPhase bool          `yaml:"legacy_phase"`

	LogLevel  string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogJSON   bool   `yaml:"log_json"`
	DebugAddr string `yaml:"debug_addr" validate:"omitempty,hostname_port"`
}

func defaultConfig() Config {
	return Config{
		Out:           "dest.mp4",
		Size:          400,
		Zoom:          16,
		Tiles:         "gsi-std",
		TileDir:       "tiles",
		FetchInterval: time.Second,
		FetchTimeout:  30 * time.Second,
		FPS:           30,
		Window:        6,
		Cache:         10,
		MarkerSize:    24,
		MarkerColor:   "#ff3b30",
		FFmpeg:        "ffmpeg",
		Timeout:       2 * time.Hour,
		LogLevel:      "info",
	}
}

func bindFlags(fs *flag.FlagSet, c *Config, configPath *string) {
	fs.StringVar(configPath, "config", "", "YAML run config; flags given explicitly override it")
	fs.StringVar(&c.In, "in", c.In, "GPX track to render")
	fs.StringVar(&c.Out, "out", c.Out, "output video")
	fs.StringVar(&c.Start, "start", c.Start, "first instant to render, local time `"+dateLayout+"`")
	fs.StringVar(&c.End, "end", c.End, "last instant to render (inclusive), local time `"+dateLayout+"`")
	fs.IntVar(&c.Size, "size", c.Size, "frame size in pixels (square, 64..4096)")
	fs.IntVar(&c.Zoom, "zoom", c.Zoom, "map zoom level")
	fs.StringVar(&c.Tiles, "tiles", c.Tiles, "tile preset (gsi-std, osm, opentopomap) or a {z}/{x}/{y} URL template")
	fs.StringVar(&c.TileDir, "tile-dir", c.TileDir, "directory holding downloaded tiles")
	fs.DurationVar(&c.FetchInterval, "fetch-interval", c.FetchInterval, "minimum spacing between tile downloads")
	fs.DurationVar(&c.FetchTimeout, "fetch-timeout", c.FetchTimeout, "HTTP timeout per tile")
	fs.IntVar(&c.FPS, "fps", c.FPS, "samples per second of track time, also the video frame rate")
	fs.IntVar(&c.Window, "window", c.Window, "frames rendered concurrently")
	fs.IntVar(&c.Cache, "cache", c.Cache, "panels kept in memory")
	fs.StringVar(&c.Marker, "marker", c.Marker, "PNG marker icon, empty for the built-in dot")
	fs.IntVar(&c.MarkerSize, "marker-size", c.MarkerSize, "marker size in pixels")
	fs.StringVar(&c.MarkerColor, "marker-color", c.MarkerColor, "built-in marker color (#RRGGBB or #AARRGGBB)")
	fs.StringVar(&c.FFmpeg, "ffmpeg", c.FFmpeg, "ffmpeg binary")
	fs.DurationVar(&c.Timeout, "timeout", c.Timeout, "hard limit for the whole run")
	fs.BoolVar(&c.LegacyPhase, "legacy-phase", c.LegacyPhase, "space sub-second samples as phase*100/fps ms")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	fs.BoolVar(&c.LogJSON, "log-json", c.LogJSON, "log JSON lines instead of console output")
	fs.StringVar(&c.DebugAddr, "debug-addr", c.DebugAddr, "serve /metrics and /debug/pprof on this address, empty = off")
}

// loadConfig parses args, layers them over the optional YAML file and validates the result.
func loadConfig(args []string, stderr io.Writer) (Config, error) {
	cfg := defaultConfig()
	var configPath string
	fs := flag.NewFlagSet("gpx2video", flag.ContinueOnError)
	fs.SetOutput(stderr)
	bindFlags(fs, &cfg, &configPath)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	if configPath != "" {
		explicit := map[string]string{}
		fs.Visit(func(f *flag.Flag) { explicit[f.Name] = f.Value.String() })

		b, err := os.ReadFile(configPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", configPath, err)
		}
		for name, v := range explicit {
			if err := fs.Set(name, v); err != nil {
				return Config{}, fmt.Errorf("flag -%s: %w", name, err)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %q (got %v)", fe.Field(), fe.ActualTag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	start, end, err := c.TimeBounds()
	if err != nil {
		return err
	}
	if start != nil && end != nil && end.Before(*start) {
		return fmt.Errorf("invalid config: end %s is before start %s", c.End, c.Start)
	}
	return nil
}

// TimeBounds parses Start and End. An empty value leaves that side open.
func (c Config) TimeBounds() (start, end *time.Time, err error) {
	if start, err = parseLocalTime(c.Start); err != nil {
		return nil, nil, fmt.Errorf("start: %w", err)
	}
	if end, err = parseLocalTime(c.End); err != nil {
		return nil, nil, fmt.Errorf("end: %w", err)
	}
	return start, end, nil
}

func parseLocalTime(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(dateLayout, s, time.Local)
	if err != nil {
		return nil, fmt.Errorf("want %q: %w", dateLayout, err)
	}
	return &t, nil
}
