package scheduler

import (
	"context"
	"time"
)

// Default retry policy.
const (
	DefaultMaxAttempts       = 5
	DefaultBackoffInitial    = time.Second
	DefaultBackoffMax        = 30 * time.Second
	DefaultBackoffMultiplier = 2.0
)

// Backoff computes exponential retry delays.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoff returns the default retry delays.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    DefaultBackoffInitial,
		Max:        DefaultBackoffMax,
		Multiplier: DefaultBackoffMultiplier,
	}
}

// Delay returns the wait before attempt+1, given that attempt (1-based)
// just failed. A server supplied retryAfter wins when it is longer.
// The result never exceeds Max.
func (b Backoff) Delay(attempt int, retryAfter time.Duration) time.Duration {
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(b.Initial)
	for i := 1; i < attempt; i++ {
		d *= mult
		if b.Max > 0 && d >= float64(b.Max) {
			d = float64(b.Max)
			break
		}
	}
	delay := time.Duration(d)
	if retryAfter > delay {
		delay = retryAfter
	}
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
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
