package main

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Bars tracks rendered frames; downloaded tiles are shown in its description.
type Bars struct {
	Frames *progressbar.ProgressBar
	tiles  atomic.Int64
}

func NewBars(totalFrames int, out io.Writer) *Bars {
	theme := progressbar.Theme{
		Saucer:        "=",
		SaucerHead:    ">",
		SaucerPadding: " ",
		BarStart:      "[",
		BarEnd:        "]",
	}
	if totalFrames <= 0 {
		totalFrames = -1
	}
	frames := progressbar.NewOptions(totalFrames,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetTheme(theme),
		progressbar.OptionSetDescription("[video] rendering"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
	return &Bars{Frames: frames}
}

// Frame implements pipeline.Progress. The estimate may be short, so the
// maximum grows with the count.
func (b *Bars) Frame(n int) {
	if m := b.Frames.GetMax(); m >= 0 && n > m {
		b.Frames.ChangeMax(n)
	}
	_ = b.Frames.Set(n)
}

func (b *Bars) IncTile() {
	n := b.tiles.Add(1)
	b.Frames.Describe(fmt.Sprintf("[video] rendering, %d tiles downloaded", n))
}

func (b *Bars) Tiles() int64 { return b.tiles.Load() }

func (b *Bars) Done() {
	_ = b.Frames.Finish()
}
