package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nao1215/dropfetch/internal/host"
	"github.com/nao1215/dropfetch/internal/model"
)

// ProfileSource resolves a host to its profile and budget key.
// *host.Registry satisfies it.
type ProfileSource interface {
	Match(hostname string) host.Profile
	BudgetKey(hostname string) string
}

// GrantFunc is called after every grant with the budget key, the grant time
// and how long the caller waited.
type GrantFunc func(key string, at time.Time, waited time.Duration)

// Limiter is a per-host FIFO rate limiter. It never rejects a request,
// it only delays it. Safe for concurrent use.
type Limiter struct {
	profiles ProfileSource
	logger   *slog.Logger
	onGrant  GrantFunc
	now      func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the logger used for wait diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithGrantFunc registers a callback invoked on every grant.
func WithGrantFunc(fn GrantFunc) Option {
	return func(l *Limiter) {
		l.onGrant = fn
	}
}

// New creates a limiter whose per-host budgets come from profiles.
func New(profiles ProfileSource, opts ...Option) *Limiter {
	l := &Limiter{
		profiles: profiles,
		logger:   slog.Default(),
		now:      time.Now,
		buckets:  make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire blocks until a request to hostname may be sent or ctx is done.
// Requests for one budget key are granted in call order.
func (l *Limiter) Acquire(ctx context.Context, hostname string) error {
	key := l.profiles.BudgetKey(hostname)
	b := l.bucket(key, hostname)
	start := l.now()

	w := b.enqueue()
	for {
		b.mu.Lock()
		if b.queue[0] != w {
			b.mu.Unlock()
			select {
			case <-ctx.Done():
				b.remove(w)
				return ctx.Err()
			case <-w.ready:
			}
			continue
		}

		now := l.now()
		b.prune(now)
		if len(b.grants) < b.limit {
			b.grants = append(b.grants, now)
			b.queue = b.queue[1:]
			b.wakeHead()
			b.mu.Unlock()
			if l.onGrant != nil {
				l.onGrant(key, now, now.Sub(start))
			}
			return nil
		}
		wait := b.grants[0].Add(b.window).Sub(now)
		waiting := len(b.queue)
		b.mu.Unlock()

		l.logger.Debug("rate limit reached, waiting",
			"host", key,
			"wait", wait,
			"queued", waiting,
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			b.remove(w)
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Budget returns a snapshot of the budget used for hostname.
func (l *Limiter) Budget(hostname string) model.RateBudget {
	key := l.profiles.BudgetKey(hostname)
	b := l.bucket(key, hostname)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(l.now())
	return model.RateBudget{
		Host:      key,
		Limit:     b.limit,
		Window:    b.window,
		Available: b.limit - len(b.grants),
		Waiting:   len(b.queue),
	}
}

func (l *Limiter) bucket(key, hostname string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[key]; ok {
		return b
	}
	p := l.profiles.Match(hostname)
	limit, window := p.RateLimit, p.RateWindow
	if limit <= 0 {
		limit = host.DefaultRateLimit
	}
	if window <= 0 {
		window = host.DefaultRateWindow
	}
	b := &bucket{
		limit:  limit,
		window: window,
		grants: make([]time.Time, 0, limit),
	}
	l.buckets[key] = b
	return b
}
