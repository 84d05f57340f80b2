// Package pipeline renders a resampled track into frames and hands them to the
// encoder in timeline order.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/rs/zerolog"

	"github.com/s0ultr4d3r/gpx2video/encoder"
	"github.com/s0ultr4d3r/gpx2video/track"
)

const DefaultWindow = 6

// Positions is a finite stream of samples whose failure is reported by Err
// once Next returns false.
type Positions interface {
	Next() (track.Position, bool)
	Err() error
}

type FrameRenderer interface {
	Render(ctx context.Context, pos track.Position) (*image.RGBA, error)
}

type FrameSink interface {
	Send(ctx context.Context, f encoder.Frame) error
}

// Progress is told about every frame handed to the sink.
type Progress interface {
	Frame(n int)
}

type Pipeline struct {
	Positions Positions
	Renderer  FrameRenderer
	Sink      FrameSink
	// Window is how many frames render concurrently.
	Window   int
	Progress Progress
	Log      zerolog.Logger
}

type result struct {
	img *image.RGBA
	err error
}

// Run renders every position and sends the frames in sample order. It returns
// the number of frames sent. Closing the sink is left to the caller.
func (p *Pipeline) Run(ctx context.Context) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	window := p.Window
	if window < 1 {
		window = DefaultWindow
	}
	batches := track.NewBatcher[track.Position](p.Positions, window)

	sent := 0
	started := time.Now()
	for {
		batch, ok := batches.Next()
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			return sent, err
		}

		results := make([]chan result, len(batch))
		for i, pos := range batch {
			ch := make(chan result, 1)
			results[i] = ch
			go func() {
				img, err := p.Renderer.Render(ctx, pos)
				ch <- result{img: img, err: err}
			}()
		}

		// Awaiting in submission order keeps output order independent of
		// completion order. Cancelling on the first error stops the siblings.
		var failed error
		for i, ch := range results {
			r := <-ch
			if failed != nil {
				continue
			}
			if r.err != nil {
				failed = fmt.Errorf("render frame %d (%s): %w", sent, batch[i].T.Format(time.RFC3339Nano), r.err)
				cancel()
				continue
			}
			if err := p.Sink.Send(ctx, encoder.Frame{Index: sent, Img: r.img}); err != nil {
				failed = fmt.Errorf("send frame %d: %w", sent, err)
				cancel()
				continue
			}
			sent++
			if p.Progress != nil {
				p.Progress.Frame(sent)
			}
		}
		if failed != nil {
			p.Log.Error().Err(failed).Int("frames", sent).Msg("pipeline stopped")
			return sent, failed
		}
		p.Log.Debug().Int("batch", len(batch)).Int("frames", sent).Msg("batch sent")
	}

	if err := p.Positions.Err(); err != nil {
		return sent, fmt.Errorf("resample: %w", err)
	}
	p.Log.Info().Int("frames", sent).Dur("elapsed", time.Since(started)).Msg("all frames rendered")
	return sent, nil
}
