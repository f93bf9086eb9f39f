package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/nao1215/dropfetch/internal/host"
)

// ProfileSource resolves a host to its profile and budget key.
type ProfileSource interface {
	Match(hostname string) host.Profile
	BudgetKey(hostname string) string
}

// HostLimit extracts the per-host slot count from a profile.
type HostLimit func(p host.Profile) int

// Pool bounds simultaneous operations globally and per host.
// Safe for concurrent use.
type Pool struct {
	name        string
	profiles    ProfileSource
	hostLimit   HostLimit
	logger      *slog.Logger
	global      *semaphore.Weighted
	globalLimit int64
	globalInUse atomic.Int64

	mu    sync.Mutex
	hosts map[string]*hostSlots
}

type hostSlots struct {
	sem   *semaphore.Weighted
	limit int64
	inUse atomic.Int64
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// New creates a pool with a global limit and per-host limits computed by
// hostLimit. A non-positive global limit is treated as 1.
func New(name string, global int, profiles ProfileSource, hostLimit HostLimit, opts ...Option) *Pool {
	if global <= 0 {
		global = 1
	}
	p := &Pool{
		name:        name,
		profiles:    profiles,
		hostLimit:   hostLimit,
		logger:      slog.Default(),
		global:      semaphore.NewWeighted(int64(global)),
		globalLimit: int64(global),
		hosts:       make(map[string]*hostSlots),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewCrawlPool bounds crawl requests using HostProfile.Concurrency.
func NewCrawlPool(global int, profiles ProfileSource, opts ...Option) *Pool {
	return New("crawl", global, profiles, func(p host.Profile) int { return p.Concurrency }, opts...)
}

// NewDownloadPool bounds downloads using HostProfile.DownloadConcurrency.
func NewDownloadPool(global int, profiles ProfileSource, opts ...Option) *Pool {
	return New("download", global, profiles, func(p host.Profile) int { return p.DownloadConcurrency }, opts...)
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

// Acquire blocks until both a host slot and a global slot for hostname are
// held, or ctx is done. The host slot is taken first so that a saturated
// host never occupies global capacity while it waits.
// On error nothing is held.
func (p *Pool) Acquire(ctx context.Context, hostname string) (*Slot, error) {
	hs := p.hostSlots(hostname)
	if err := hs.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%s pool: host slot: %w", p.name, err)
	}
	hs.inUse.Add(1)

	if err := p.global.Acquire(ctx, 1); err != nil {
		hs.inUse.Add(-1)
		hs.sem.Release(1)
		return nil, fmt.Errorf("%s pool: global slot: %w", p.name, err)
	}
	p.globalInUse.Add(1)

	return &Slot{pool: p, host: hs}, nil
}

// InUse reports the slots currently held for hostname and globally.
func (p *Pool) InUse(hostname string) (hostInUse, globalInUse int) {
	hs := p.hostSlots(hostname)
	return int(hs.inUse.Load()), int(p.globalInUse.Load())
}

// Limits reports the slot counts for hostname and globally.
func (p *Pool) Limits(hostname string) (hostLimit, globalLimit int) {
	hs := p.hostSlots(hostname)
	return int(hs.limit), int(p.globalLimit)
}

func (p *Pool) hostSlots(hostname string) *hostSlots {
	key := p.profiles.BudgetKey(hostname)

	p.mu.Lock()
	defer p.mu.Unlock()

	if hs, ok := p.hosts[key]; ok {
		return hs
	}
	limit := int64(p.hostLimit(p.profiles.Match(hostname)))
	if limit <= 0 {
		limit = host.DefaultConcurrency
	}
	hs := &hostSlots{sem: semaphore.NewWeighted(limit), limit: limit}
	p.hosts[key] = hs
	p.logger.Debug("created host slots", "pool", p.name, "host", key, "limit", limit)
	return hs
}

// Slot is one acquisition from a Pool. Each level is released at most once;
// extra release calls are no-ops.
type Slot struct {
	pool       *Pool
	host       *hostSlots
	hostOnce   sync.Once
	globalOnce sync.Once
}

// ReleaseHost returns the host-level slot.
func (s *Slot) ReleaseHost() {
	s.hostOnce.Do(func() {
		s.host.inUse.Add(-1)
		s.host.sem.Release(1)
	})
}

// ReleaseGlobal returns the global slot.
func (s *Slot) ReleaseGlobal() {
	s.globalOnce.Do(func() {
		s.pool.globalInUse.Add(-1)
		s.pool.global.Release(1)
	})
}

// Release returns both slots.
func (s *Slot) Release() {
	s.ReleaseGlobal()
	s.ReleaseHost()
}
