package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/dropfetch/internal/crawler"
	"github.com/nao1215/dropfetch/internal/dedup"
	"github.com/nao1215/dropfetch/internal/host"
	"github.com/nao1215/dropfetch/internal/model"
	"github.com/nao1215/dropfetch/internal/pool"
	"github.com/nao1215/dropfetch/internal/progress"
)

// CrawlerSource selects the crawler for an input URL.
type CrawlerSource interface {
	For(in model.InputURL) (crawler.Crawler, error)
}

// Downloader fetches one target. Failures are *download.Error.
type Downloader interface {
	Download(ctx context.Context, t model.ResolvedTarget) (model.DownloadRecord, error)
}

// ProfileSource resolves hosts to profiles and budget keys.
type ProfileSource interface {
	Match(hostname string) host.Profile
	BudgetKey(hostname string) string
}

// SlotPool hands out download slots.
type SlotPool interface {
	Acquire(ctx context.Context, hostname string) (*pool.Slot, error)
}

// Scheduler runs input URLs through crawlers and the download executor.
// A Scheduler may be reused for several runs, one at a time.
type Scheduler struct {
	profiles      ProfileSource
	crawlers      CrawlerSource
	downloader    Downloader
	slots         SlotPool
	index         dedup.Index
	sink          progress.Sink
	logger        *slog.Logger
	maxAttempts   int
	backoff       Backoff
	ignoreHistory bool
	now           func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithIndex sets the index consulted to skip targets downloaded by
// earlier runs.
func WithIndex(index dedup.Index) Option {
	return func(s *Scheduler) {
		s.index = index
	}
}

// WithSink sets the receiver of state transition events.
func WithSink(sink progress.Sink) Option {
	return func(s *Scheduler) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithMaxAttempts sets the number of attempts for retryable failures,
// including the first one.
func WithMaxAttempts(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithBackoff sets the retry delays.
func WithBackoff(b Backoff) Option {
	return func(s *Scheduler) {
		s.backoff = b
	}
}

// WithIgnoreHistory downloads targets even when the index says an
// earlier run completed them.
func WithIgnoreHistory(ignore bool) Option {
	return func(s *Scheduler) {
		s.ignoreHistory = ignore
	}
}

// New creates a scheduler. slots bounds the downloads; crawl requests are
// bounded by the gated client the crawlers were built with.
func New(profiles ProfileSource, crawlers CrawlerSource, downloader Downloader, slots SlotPool, opts ...Option) *Scheduler {
	s := &Scheduler{
		profiles:    profiles,
		crawlers:    crawlers,
		downloader:  downloader,
		slots:       slots,
		sink:        progress.Nop{},
		logger:      slog.Default(),
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run processes inputs until every URL and target reached a terminal
// state. Failures of single URLs or targets are reported through the sink
// and the summary, never as the returned error; the error is non-nil only
// when ctx was cancelled.
func (s *Scheduler) Run(ctx context.Context, inputs []model.InputURL) (*model.Summary, error) {
	r := &run{
		Scheduler:  s,
		id:         uuid.NewString(),
		dispatched: make(map[model.DedupKey]*keyClaim),
	}
	r.summary.RunID = r.id
	r.summary.StartedAt = s.now()

	s.logger.Info("run started", "run_id", r.id, "urls", len(inputs))

	queues := r.queues(inputs)
	var hosts errgroup.Group
	for _, q := range queues {
		hosts.Go(func() error {
			r.drain(ctx, q)
			return nil
		})
	}
	_ = hosts.Wait()       //nolint:errcheck // host queues never fail
	_ = r.downloads.Wait() //nolint:errcheck // downloads never fail

	r.mu.Lock()
	r.summary.Duration = s.now().Sub(r.summary.StartedAt)
	summary := r.summary
	r.mu.Unlock()

	s.logger.Info("run finished",
		"run_id", r.id,
		"completed", summary.Completed,
		"failed", summary.DownloadFailed+summary.CrawlFailed,
		"skipped", summary.Skipped,
		"elapsed", summary.Duration,
	)
	return &summary, ctx.Err()
}

// run is the state of one Run call.
type run struct {
	*Scheduler
	id        string
	halted    atomic.Bool
	downloads errgroup.Group

	mu         sync.Mutex
	summary    model.Summary
	dispatched map[model.DedupKey]*keyClaim
}

// hostQueue holds the input URLs sharing one crawl budget.
type hostQueue struct {
	key         string
	concurrency int
	urls        []*urlTask
}

// queues groups inputs by budget key in input order and reports each
// URL as queued.
func (r *run) queues(inputs []model.InputURL) []*hostQueue {
	byKey := make(map[string]*hostQueue)
	var queues []*hostQueue
	for _, in := range inputs {
		key := r.profiles.BudgetKey(in.Host())
		q, ok := byKey[key]
		if !ok {
			q = &hostQueue{
				key:         key,
				concurrency: max(r.profiles.Match(in.Host()).Concurrency, 1),
			}
			byKey[key] = q
			queues = append(queues, q)
		}
		u := &urlTask{in: in, host: key, state: model.URLQueued}
		q.urls = append(q.urls, u)
		r.emitURL(u, 0, "", "")
	}
	return queues
}

// drain resolves the URLs of one host queue, at most the host's crawl
// concurrency at a time.
func (r *run) drain(ctx context.Context, q *hostQueue) {
	var g errgroup.Group
	g.SetLimit(q.concurrency)
	for _, u := range q.urls {
		if ctx.Err() != nil {
			r.moveURL(u, URLCancel, 0, "", "")
			continue
		}
		g.Go(func() error {
			r.process(ctx, u)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // process never fails
}

func (r *run) emit(e model.Event) {
	e.RunID = r.id
	e.Time = r.now()
	r.mu.Lock()
	r.summary.Add(e)
	r.mu.Unlock()
	r.sink.Emit(e)
}

// keyClaim is the owner of a dedup key within one run. done is closed
// once the owning target is terminal; completed is only read after that.
type keyClaim struct {
	done      chan struct{}
	completed bool
}

func newKeyClaim() *keyClaim {
	return &keyClaim{done: make(chan struct{})}
}

// claim returns the claim of key and whether the caller now owns it.
func (r *run) claim(key model.DedupKey) (*keyClaim, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.dispatched[key]; ok {
		return c, false
	}
	c := newKeyClaim()
	r.dispatched[key] = c
	return c, true
}

// takeOver replaces the finished claim prev of key. It returns the
// current claim and false when another target took over first.
func (r *run) takeOver(key model.DedupKey, prev *keyClaim) (*keyClaim, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.dispatched[key]; c != prev {
		return c, false
	}
	c := newKeyClaim()
	r.dispatched[key] = c
	return c, true
}

func settle(c *keyClaim, completed bool) {
	c.completed = completed
	close(c.done)
}
