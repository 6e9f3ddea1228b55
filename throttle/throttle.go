// Package throttle spaces out the delivery of stream elements.
package throttle

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pace forwards every value of in, in order, with at least interval between
// two deliveries. The first value goes out immediately. The returned channel
// closes when in closes or ctx is done; a value held back for pacing is
// dropped on cancellation.
//
// interval <= 0 returns in unchanged.
func Pace[T any](ctx context.Context, in <-chan T, interval time.Duration) <-chan T {
	if interval <= 0 {
		return in
	}

	limiter := rate.NewLimiter(rate.Every(interval), 1)
	out := make(chan T)
	go func() {
		defer close(out)
		for {
			var v T
			select {
			case <-ctx.Done():
				return
			case item, ok := <-in:
				if !ok {
					return
				}
				v = item
			}

			if err := limiter.Wait(ctx); err != nil {
				return
			}

			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
