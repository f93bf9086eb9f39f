package download

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// minBurst keeps small bandwidth limits usable with regular read sizes.
const minBurst = 32 * 1024

// newBandwidthLimiter returns a limiter for bytesPerSecond, or nil when
// the limit is disabled. One limiter is shared by every download so the
// limit applies to the total throughput.
func newBandwidthLimiter(bytesPerSecond int64) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	burst := max(int(bytesPerSecond), minBurst)
	return rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
}

// throttledReader waits on the limiter before handing out bytes.
type throttledReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (t *throttledReader) Read(p []byte) (int, error) {
	if burst := t.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := t.r.Read(p)
	if n > 0 {
		if werr := t.limiter.WaitN(t.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

// countingReader counts the bytes read through it.
type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

// watchSpeed cancels the transfer with errTooSlow when fewer than
// threshold*grace bytes arrive within any grace period. The returned stop
// function ends the watch.
func watchSpeed(cancel context.CancelCauseFunc, counter *countingReader, threshold int64, grace time.Duration) (stop func()) {
	if threshold <= 0 || grace <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(grace)
		defer ticker.Stop()
		last := counter.n.Load()
		minBytes := int64(float64(threshold) * grace.Seconds())
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				cur := counter.n.Load()
				if cur-last < minBytes {
					cancel(errTooSlow)
					return
				}
				last = cur
			}
		}
	}()
	var stopped atomic.Bool
	return func() {
		if stopped.CompareAndSwap(false, true) {
			close(done)
		}
	}
}
