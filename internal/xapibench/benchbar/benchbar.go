// Package benchbar provides a really simple progress bar for the batch loop.
package benchbar

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Bar counts finished batches. A nil *Bar is valid and draws nothing.
type Bar struct {
	pb          *progressbar.ProgressBar
	description string
	maxItems    int
}

// New returns a bar of maxItems batches drawn on w.
func New(w io.Writer, description string, maxItems int) *Bar {
	pb := progressbar.NewOptions(
		maxItems,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("batches"),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(w)
		}),
	)
	_ = pb.Set(0)

	return &Bar{
		pb:          pb,
		description: description,
		maxItems:    maxItems,
	}
}

func (b *Bar) Inc() {
	if b == nil {
		return
	}
	_ = b.pb.Add(1)
}

// Describe replaces the text shown before the bar.
func (b *Bar) Describe(description string) {
	if b == nil {
		return
	}
	b.description = description
	b.pb.Describe(description)
}

func (b *Bar) Finish() {
	if b == nil {
		return
	}
	_ = b.pb.Finish()
	_ = b.pb.Close()
}
