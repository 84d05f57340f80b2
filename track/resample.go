package track

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrNoData = errors.New("no timestamped fixes in track")
	ErrCursor = errors.New("resampling cursor out of order")
	// ErrEmptyWindow means the start/end window selects no sample of the track.
	ErrEmptyWindow = errors.New("no positions inside the requested time window")
)

// Options controls the resampling rate and time window.
type Options struct {
	// FPS is the number of samples per second of track time.
	FPS int
	// Start replaces the first fix's timestamp as the initial base time.
	Start *time.Time
	// End is inclusive: samples after it are never produced.
	End *time.Time
	// LegacyPhase maps the sub-second phase as phase*100/FPS milliseconds
	// instead of spreading FPS samples evenly over the second.
	LegacyPhase bool
}

// Resampler turns an irregular fix list into evenly spaced positions.
// It is single-pass: once Next reports false, every later call does too.
type Resampler struct {
	points []Position
	opts   Options

	cursor  int // index of the next fix to bracket with
	started bool
	done    bool
	err     error

	base  time.Time
	phase int
	prev  Position
	next  Position
}

func NewResampler(fixes []Fix, opts Options) (*Resampler, error) {
	if opts.FPS <= 0 {
		return nil, fmt.Errorf("fps must be > 0, got %d", opts.FPS)
	}
	pts := make([]Position, 0, len(fixes))
	for _, f := range fixes {
		if f.T == nil {
			continue
		}
		pts = append(pts, Position{Lat: f.Lat, Lon: f.Lon, T: *f.T})
	}
	if len(pts) == 0 {
		return nil, ErrNoData
	}
	return &Resampler{points: pts, opts: opts}, nil
}

// Next returns the next interpolated position. After false, Err reports
// whether the sequence ended because of a cursor invariant violation.
func (r *Resampler) Next() (Position, bool) {
	if r.done {
		return Position{}, false
	}
	if !r.started {
		first := r.points[0]
		r.prev, r.next = first, first
		r.cursor = 1
		r.base = first.T
		if r.opts.Start != nil {
			r.base = *r.opts.Start
		}
		r.started = true
	}

	target := r.base.Add(r.offset())
	if r.opts.End != nil && target.After(*r.opts.End) {
		return r.stop(nil)
	}
	if !r.bracket(target) {
		return r.stop(nil)
	}
	pos, err := interpolate(r.prev, r.next, target)
	if err != nil {
		return r.stop(err)
	}

	r.phase++
	if r.phase >= r.opts.FPS {
		r.phase = 0
		r.base = r.base.Add(time.Second)
	}
	return pos, true
}

func (r *Resampler) Err() error { return r.err }

func (r *Resampler) stop(err error) (Position, bool) {
	r.done = true
	r.err = err
	return Position{}, false
}

func (r *Resampler) offset() time.Duration {
	if r.opts.LegacyPhase {
		return time.Duration(r.phase*100/r.opts.FPS) * time.Millisecond
	}
	ms := math.Round(float64(r.phase) * 1000 / float64(r.opts.FPS))
	return time.Duration(ms) * time.Millisecond
}

// bracket moves the cursor forward until next.T >= target.
func (r *Resampler) bracket(target time.Time) bool {
	for r.next.T.Before(target) {
		if r.cursor >= len(r.points) {
			return false
		}
		r.prev = r.next
		r.next = r.points[r.cursor]
		r.cursor++
	}
	return true
}

func interpolate(prev, next Position, target time.Time) (Position, error) {
	pm := prev.T.UnixMilli()
	nm := next.T.UnixMilli()
	tm := target.UnixMilli()

	// only the first bracket has prev == next; a target before it is clamped
	if pm == nm {
		return prev, nil
	}
	if tm < pm || tm > nm {
		return Position{}, fmt.Errorf("%w: target %d outside [%d, %d]", ErrCursor, tm, pm, nm)
	}

	ratio := float64(tm-pm) / float64(nm-pm)
	return Position{
		Lat: prev.Lat + (next.Lat-prev.Lat)*ratio,
		Lon: prev.Lon + (next.Lon-prev.Lon)*ratio,
		T:   target,
	}, nil
}

// EstimateSamples approximates how many positions a Resampler built with
// the same arguments will produce. It is only used to size progress output.
func EstimateSamples(fixes []Fix, opts Options) int {
	var first, last *time.Time
	for i := range fixes {
		if fixes[i].T == nil {
			continue
		}
		if first == nil {
			first = fixes[i].T
		}
		last = fixes[i].T
	}
	if first == nil || opts.FPS <= 0 {
		return 0
	}
	from, to := *first, *last
	if opts.Start != nil {
		from = *opts.Start
	}
	if opts.End != nil && opts.End.Before(to) {
		to = *opts.End
	}
	if !to.After(from) {
		return 1
	}
	return int(to.Sub(from).Seconds()*float64(opts.FPS)) + 1
}
