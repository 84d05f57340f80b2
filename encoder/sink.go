// Package encoder streams raw RGBA frames into an external ffmpeg process.
package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/s0ultr4d3r/gpx2video/metrics"
)

var (
	ErrOutOfOrder = errors.New("frame out of order")
	ErrSinkClosed = errors.New("encoder sink closed")
)

// Frame is one output image and its position in the video.
// The sink owns Img once it has been sent.
type Frame struct {
	Index int
	Img   *image.RGBA
}

type Config struct {
	Binary string
	Output string
	Width  int
	Height int
	FPS    float64
	Codec  string
	PixFmt string
	// Queue is the number of frames buffered ahead of the writer.
	Queue int
}

func (c Config) withDefaults() Config {
	if c.Binary == "" {
		c.Binary = "ffmpeg"
	}
	if c.Codec == "" {
		c.Codec = "libx264"
	}
	if c.PixFmt == "" {
		c.PixFmt = "yuv420p"
	}
	if c.Queue < 1 {
		c.Queue = 1
	}
	return c
}

// Args describes the raw input stream and the output file.
func (c Config) Args() []string {
	c = c.withDefaults()
	return []string{
		"-y", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", c.Width, c.Height),
		"-r", strconv.FormatFloat(c.FPS, 'f', -1, 64),
		"-i", "-",
		"-an",
		"-c:v", c.Codec,
		"-pix_fmt", c.PixFmt,
		c.Output,
	}
}

// PartPath is where the video is written until encoding succeeds.
// The extension is kept so ffmpeg can still infer the container.
func PartPath(out string) string {
	ext := filepath.Ext(out)
	return strings.TrimSuffix(out, ext) + ".part" + ext
}

// Sink is the single consumer that writes frames to the encoder in receipt order.
// Frames must arrive with consecutive indexes starting at 0.
type Sink struct {
	frames chan Frame
	failed chan struct{}
	done   chan struct{}

	failErr error
	err     error

	w    io.WriteCloser
	wait func() error
	kill func() error

	width, height int
	next          int
	closeOnce     sync.Once

	metrics *metrics.Metrics
	log     zerolog.Logger
}

func Start(ctx context.Context, cfg Config, m *metrics.Metrics, log zerolog.Logger) (*Sink, error) {
	cfg = cfg.withDefaults()
	return StartCmd(exec.CommandContext(ctx, cfg.Binary, cfg.Args()...), cfg, m, log)
}

// StartCmd runs cmd and feeds its stdin. Only Width, Height and Queue of cfg are used.
func StartCmd(cmd *exec.Cmd, cfg Config, m *metrics.Metrics, log zerolog.Logger) (*Sink, error) {
	cfg = cfg.withDefaults()
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("encoder stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start encoder %s: %w", cmd.Path, err)
	}
	log.Debug().Strs("args", cmd.Args).Int("pid", cmd.Process.Pid).Msg("encoder started")

	wait := func() error {
		if err := cmd.Wait(); err != nil {
			return fmt.Errorf("encoder %s: %w: %s", filepath.Base(cmd.Path), err, strings.TrimSpace(stderr.String()))
		}
		return nil
	}
	kill := func() error { return cmd.Process.Kill() }
	return newSink(stdin, wait, kill, cfg, m, log), nil
}

func newSink(w io.WriteCloser, wait, kill func() error, cfg Config, m *metrics.Metrics, log zerolog.Logger) *Sink {
	s := &Sink{
		frames:  make(chan Frame, cfg.Queue),
		failed:  make(chan struct{}),
		done:    make(chan struct{}),
		w:       w,
		wait:    wait,
		kill:    kill,
		width:   cfg.Width,
		height:  cfg.Height,
		metrics: m,
		log:     log,
	}
	go s.loop()
	return s
}

func (s *Sink) loop() {
	defer close(s.done)
	for f := range s.frames {
		if s.failErr != nil {
			continue
		}
		if err := s.write(f); err != nil {
			s.failErr = err
			close(s.failed)
		}
	}

	closeErr := s.w.Close()
	waitErr := s.wait()
	switch {
	case s.failErr != nil:
		s.err = s.failErr
	case closeErr != nil:
		s.err = fmt.Errorf("close encoder input: %w", closeErr)
	default:
		s.err = waitErr
	}
	s.log.Debug().Int("frames", s.next).Err(s.err).Msg("encoder finished")
}

func (s *Sink) write(f Frame) error {
	if f.Index != s.next {
		return fmt.Errorf("%w: got frame %d, want %d", ErrOutOfOrder, f.Index, s.next)
	}
	b := f.Img.Bounds()
	if b.Dx() != s.width || b.Dy() != s.height {
		return fmt.Errorf("frame %d is %dx%d, encoder expects %dx%d", f.Index, b.Dx(), b.Dy(), s.width, s.height)
	}

	row := 4 * s.width
	if f.Img.Stride == row {
		off := f.Img.PixOffset(b.Min.X, b.Min.Y)
		if _, err := s.w.Write(f.Img.Pix[off : off+row*s.height]); err != nil {
			return fmt.Errorf("write frame %d: %w", f.Index, err)
		}
	} else {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			off := f.Img.PixOffset(b.Min.X, y)
			if _, err := s.w.Write(f.Img.Pix[off : off+row]); err != nil {
				return fmt.Errorf("write frame %d: %w", f.Index, err)
			}
		}
	}
	s.next++
	s.metrics.IncFrame()
	return nil
}

// Send queues f, blocking while the queue is full. It must not be called after Close.
func (s *Sink) Send(ctx context.Context, f Frame) error {
	select {
	case <-s.failed:
		return fmt.Errorf("%w: %w", ErrSinkClosed, s.failErr)
	default:
	}
	select {
	case s.frames <- f:
		return nil
	case <-s.failed:
		return fmt.Errorf("%w: %w", ErrSinkClosed, s.failErr)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the stream, waits for the encoder to exit and returns its result.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() { close(s.frames) })
	<-s.done
	return s.err
}

// Abort kills the encoder and reaps it. The returned error is informational.
func (s *Sink) Abort() error {
	if s.kill != nil {
		_ = s.kill()
	}
	return s.Close()
}

func (s *Sink) Written() int {
	<-s.done
	return s.next
}
