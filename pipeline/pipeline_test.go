package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s0ultr4d3r/gpx2video/encoder"
	"github.com/s0ultr4d3r/gpx2video/track"
)

var t0 = time.Date(2020, 7, 31, 22, 27, 46, 0, time.UTC)

type slicePositions struct {
	pos []track.Position
	i   int
	err error
}

func (s *slicePositions) Next() (track.Position, bool) {
	if s.i >= len(s.pos) {
		return track.Position{}, false
	}
	s.i++
	return s.pos[s.i-1], true
}

func (s *slicePositions) Err() error { return s.err }

func positions(n int) *slicePositions {
	s := &slicePositions{}
	for i := range n {
		s.pos = append(s.pos, track.Position{Lat: float64(i), Lon: float64(i), T: t0.Add(time.Duration(i) * time.Second)})
	}
	return s
}

// jitterRenderer encodes the sample's Lat in the frame and sleeps a random time
// so that completions arrive out of order.
type jitterRenderer struct {
	mu       sync.Mutex
	rng      *rand.Rand
	failAt   float64
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (r *jitterRenderer) Render(ctx context.Context, pos track.Position) (*image.RGBA, error) {
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}

	r.mu.Lock()
	d := time.Duration(r.rng.IntN(5)) * time.Millisecond
	r.mu.Unlock()
	select {
	case <-time.After(d):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if r.failAt > 0 && pos.Lat == r.failAt {
		return nil, assert.AnError
	}
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.SetRGBA(0, 0, color.RGBA{R: uint8(pos.Lat), A: 255})
	return img, nil
}

type recordingSink struct {
	frames []encoder.Frame
	err    error
}

func (s *recordingSink) Send(_ context.Context, f encoder.Frame) error {
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, f)
	return nil
}

type countingProgress struct{ last int }

func (p *countingProgress) Frame(n int) { p.last = n }

func newRenderer(seed uint64) *jitterRenderer {
	return &jitterRenderer{rng: rand.New(rand.NewPCG(seed, seed))}
}

func TestRun_PreservesOrderUnderJitter(t *testing.T) {
	for _, window := range []int{1, 3, 6, 50} {
		sink := &recordingSink{}
		prog := &countingProgress{}
		r := newRenderer(uint64(window))
		p := &Pipeline{
			Positions: positions(40),
			Renderer:  r,
			Sink:      sink,
			Window:    window,
			Progress:  prog,
			Log:       zerolog.Nop(),
		}

		n, err := p.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 40, n)
		assert.Equal(t, 40, prog.last)
		require.Len(t, sink.frames, 40)
		for i, f := range sink.frames {
			assert.Equal(t, i, f.Index)
			assert.Equal(t, uint8(i), f.Img.RGBAAt(0, 0).R, "window %d frame %d", window, i)
		}
		assert.LessOrEqual(t, int(r.peak.Load()), window)
	}
}

func TestRun_Empty(t *testing.T) {
	sink := &recordingSink{}
	p := &Pipeline{Positions: positions(0), Renderer: newRenderer(1), Sink: sink, Log: zerolog.Nop()}
	n, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, sink.frames)
}

func TestRun_SingleFrame(t *testing.T) {
	sink := &recordingSink{}
	p := &Pipeline{Positions: positions(1), Renderer: newRenderer(1), Sink: sink, Window: 6, Log: zerolog.Nop()}
	n, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, sink.frames, 1)
	assert.Equal(t, 0, sink.frames[0].Index)
}

func TestRun_RenderErrorStopsPipeline(t *testing.T) {
	sink := &recordingSink{}
	r := newRenderer(3)
	r.failAt = 8
	p := &Pipeline{Positions: positions(30), Renderer: r, Sink: sink, Window: 4, Log: zerolog.Nop()}

	n, err := p.Run(context.Background())
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 8, n, "frames before the failing one are delivered")
	assert.Len(t, sink.frames, 8)
	assert.Contains(t, err.Error(), "render frame 8")
}

func TestRun_SinkErrorStopsPipeline(t *testing.T) {
	sinkErr := errors.New("encoder gone")
	p := &Pipeline{
		Positions: positions(10),
		Renderer:  newRenderer(4),
		Sink:      &recordingSink{err: sinkErr},
		Window:    3,
		Log:       zerolog.Nop(),
	}
	n, err := p.Run(context.Background())
	assert.ErrorIs(t, err, sinkErr)
	assert.Zero(t, n)
}

func TestRun_ResamplerErrorSurfaces(t *testing.T) {
	src := positions(5)
	src.err = track.ErrCursor
	sink := &recordingSink{}
	p := &Pipeline{Positions: src, Renderer: newRenderer(5), Sink: sink, Window: 2, Log: zerolog.Nop()}

	n, err := p.Run(context.Background())
	assert.ErrorIs(t, err, track.ErrCursor)
	assert.Equal(t, 5, n)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &Pipeline{Positions: positions(10), Renderer: newRenderer(6), Sink: &recordingSink{}, Log: zerolog.Nop()}
	_, err := p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_WithResampler(t *testing.T) {
	fixes := []track.Fix{
		{Lat: 0, Lon: 0, T: ptr(t0)},
		{Lat: 10, Lon: 10, T: ptr(t0.Add(10 * time.Second))},
	}
	rs, err := track.NewResampler(fixes, track.Options{FPS: 2})
	require.NoError(t, err)

	sink := &recordingSink{}
	p := &Pipeline{Positions: rs, Renderer: newRenderer(7), Sink: sink, Window: 4, Log: zerolog.Nop()}
	n, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 21, n)
	for i, f := range sink.frames {
		assert.Equal(t, uint8(i/2), f.Img.RGBAAt(0, 0).R, "frame %d", i)
	}
}

func ptr[T any](v T) *T { return &v }
