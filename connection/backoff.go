package connection

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff spaces out connection attempts exponentially.
type Backoff struct {
	InitialDelay time.Duration // Zero retries immediately
	MaxDelay     time.Duration // Zero means no cap
	Multiplier   float64       // Values below 1 keep the delay constant
	Jitter       bool          // Adds up to 25% so many requesters don't retry in lockstep
}

// DefaultBackoff starts at 100ms and doubles up to 2s.
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// delay returns the pause before retry number n (1-based).
func (b Backoff) delay(n int) time.Duration {
	d := b.InitialDelay
	if d <= 0 {
		return 0
	}
	for i := 1; i < n && b.Multiplier > 1; i++ {
		next := time.Duration(float64(d) * b.Multiplier)
		if next < d || (b.MaxDelay > 0 && next > b.MaxDelay) {
			d = b.MaxDelay
			break
		}
		d = next
	}
	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}
	if b.Jitter && d >= 4 {
		d += time.Duration(rand.Int64N(int64(d / 4)))
	}
	return d
}

// wait sleeps for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
