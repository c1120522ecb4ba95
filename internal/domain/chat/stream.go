package chat

import (
	"context"
	"iter"
	"strings"
	"time"
)

// Words yields each whitespace-delimited word of text followed by a space,
// pausing delay before every word after the first. Iteration stops as soon
// as ctx is done or the consumer breaks.
func Words(ctx context.Context, text string, delay time.Duration) iter.Seq[string] {
	return func(yield func(string) bool) {
		var timer *time.Timer
		if delay > 0 {
			timer = time.NewTimer(delay)
			timer.Stop()
			defer timer.Stop()
		}
		for i, w := range strings.Fields(text) {
			if ctx.Err() != nil {
				return
			}
			if i > 0 && timer != nil {
				timer.Reset(delay)
				select {
				case <-ctx.Done():
					return
				case <-timer.C:
				}
			}
			if !yield(w + " ") {
				return
			}
		}
	}
}
