package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/s0ultr4d3r/gpx2video/encoder"
	"github.com/s0ultr4d3r/gpx2video/logger"
	"github.com/s0ultr4d3r/gpx2video/metrics"
	"github.com/s0ultr4d3r/gpx2video/pipeline"
	"github.com/s0ultr4d3r/gpx2video/render"
	"github.com/s0ultr4d3r/gpx2video/tiles"
	"github.com/s0ultr4d3r/gpx2video/track"
)

var version = "dev"

func main() {
	cfg, err := loadConfig(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logger.Build(logger.Config{Level: cfg.LogLevel, Console: !cfg.LogJSON}, os.Stderr)

	ctx, cancel := runContext(context.Background(), cfg.Timeout)
	defer cancel()

	prov := metrics.NewProvider(version)
	if cfg.DebugAddr != "" {
		startDebugServer(ctx, cfg.DebugAddr, prov, log)
	}

	log.Info().Str("in", cfg.In).Str("out", cfg.Out).Int("fps", cfg.FPS).Int("zoom", cfg.Zoom).Msg("starting")
	if err := run(ctx, cfg, metrics.New(prov.Registerer()), log); err != nil {
		log.Fatal().Err(err).Msg("gpx2video failed")
	}
	log.Info().Str("out", cfg.Out).Msg("done")
}

// run wires the pipeline: resampler -> renderer (panel cache, fetcher) -> encoder.
// Input problems are reported before the encoder is started.
func run(ctx context.Context, cfg Config, m *metrics.Metrics, log zerolog.Logger) error {
	start, end, err := cfg.TimeBounds()
	if err != nil {
		return err
	}
	preset, err := tiles.ResolvePreset(cfg.Tiles)
	if err != nil {
		return err
	}
	if err := preset.CheckZoom(cfg.Zoom); err != nil {
		return err
	}
	log.Info().Str("tiles", preset.Name).Str("attribution", preset.Attribution).Msg("basemap")

	fixes, err := track.ParseGPXFile(cfg.In)
	if err != nil {
		return fmt.Errorf("parse gpx %s: %w", cfg.In, err)
	}
	opts := track.Options{FPS: cfg.FPS, Start: start, End: end, LegacyPhase: cfg.LegacyPhase}
	rs, err := track.NewResampler(fixes, opts)
	if err != nil {
		return fmt.Errorf("%s: %w", cfg.In, err)
	}
	ahead := track.NewLookahead[track.Position](rs)
	if _, ok := ahead.Peek(); !ok {
		if err := rs.Err(); err != nil {
			return fmt.Errorf("resample: %w", err)
		}
		return fmt.Errorf("%s: %w", cfg.In, track.ErrEmptyWindow)
	}

	marker, err := loadMarker(cfg)
	if err != nil {
		return err
	}

	tileLog := logger.Component(log, "tiles")
	fetcher, err := tiles.NewFetcher(cfg.TileDir, preset, cfg.FetchInterval, cfg.FetchTimeout)
	if err != nil {
		return fmt.Errorf("tile dir: %w", err)
	}
	fetcher.Metrics = m
	fetcher.Log = tileLog
	cache, err := tiles.NewPanelCache(fetcher, cfg.Cache, m, tileLog)
	if err != nil {
		return err
	}
	renderer := &render.Renderer{
		Panels:     cache,
		Compositor: &render.Compositor{Size: cfg.Size, Marker: marker},
		Zoom:       cfg.Zoom,
	}

	bars := NewBars(track.EstimateSamples(fixes, opts), os.Stderr)
	defer bars.Done()
	fetcher.OnDownload = bars.IncTile

	if err := encode(ctx, cfg, aheadPositions{ahead, rs}, renderer, bars, m, log); err != nil {
		return err
	}
	log.Info().Int64("tiles_downloaded", bars.Tiles()).Msg("tiles")
	return nil
}

// aheadPositions replays the sample pulled to check the time window.
type aheadPositions struct {
	*track.Lookahead[track.Position]
	rs *track.Resampler
}

func (a aheadPositions) Err() error { return a.rs.Err() }

func encode(ctx context.Context, cfg Config, positions pipeline.Positions, renderer pipeline.FrameRenderer, progress pipeline.Progress, m *metrics.Metrics, log zerolog.Logger) error {
	if dir := filepath.Dir(cfg.Out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	part := encoder.PartPath(cfg.Out)
	sink, err := encoder.Start(ctx, encoder.Config{
		Binary: cfg.FFmpeg,
		Output: part,
		Width:  cfg.Size,
		Height: cfg.Size,
		FPS:    float64(cfg.FPS),
		Queue:  cfg.Window,
	}, m, logger.Component(log, "encoder"))
	if err != nil {
		return err
	}

	p := &pipeline.Pipeline{
		Positions: positions,
		Renderer:  renderer,
		Sink:      sink,
		Window:    cfg.Window,
		Progress:  progress,
		Log:       logger.Component(log, "pipeline"),
	}
	n, err := p.Run(ctx)
	if err == nil && n == 0 {
		err = track.ErrEmptyWindow
	}
	if err != nil {
		if aerr := sink.Abort(); aerr != nil {
			log.Debug().Err(aerr).Msg("encoder aborted")
		}
		_ = os.Remove(part)
		return err
	}
	if err := sink.Close(); err != nil {
		_ = os.Remove(part)
		return err
	}
	if err := os.Rename(part, cfg.Out); err != nil {
		return fmt.Errorf("rename %s: %w", part, err)
	}
	log.Info().Int("frames", n).Int("written", sink.Written()).Msg("video encoded")
	return nil
}

func loadMarker(cfg Config) (image.Image, error) {
	if cfg.Marker != "" {
		return render.LoadMarker(cfg.Marker, cfg.MarkerSize)
	}
	fill, err := render.ParseHexColor(cfg.MarkerColor)
	if err != nil {
		return nil, fmt.Errorf("marker color: %w", err)
	}
	return render.DefaultMarker(cfg.MarkerSize, fill), nil
}
