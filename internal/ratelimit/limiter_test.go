package ratelimit

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/dropfetch/internal/host"
)

func newRegistry(t *testing.T, profiles ...host.Profile) *host.Registry {
	t.Helper()
	r, err := host.NewRegistry(host.Profile{}, profiles...)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	return r
}

func TestLimiterSlidingWindow(t *testing.T) {
	t.Parallel()

	const window = 80 * time.Millisecond
	reg := newRegistry(t, host.Profile{Pattern: "limited.test", RateLimit: 2, RateWindow: window})

	var mu sync.Mutex
	var grants []time.Time
	l := New(reg, WithGrantFunc(func(_ string, at time.Time, _ time.Duration) {
		mu.Lock()
		grants = append(grants, at)
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	for range 7 {
		wg.Go(func() {
			if err := l.Acquire(context.Background(), "limited.test"); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
	wg.Wait()

	if len(grants) != 7 {
		t.Fatalf("expected 7 grants, got %d", len(grants))
	}
	slices.SortFunc(grants, func(a, b time.Time) int { return a.Compare(b) })
	for i := 0; i+2 < len(grants); i++ {
		if gap := grants[i+2].Sub(grants[i]); gap < window {
			t.Errorf("grants %d and %d are %v apart, want at least %v", i, i+2, gap, window)
		}
	}
}

func TestLimiterFIFO(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t, host.Profile{Pattern: "fifo.test", RateLimit: 1, RateWindow: 150 * time.Millisecond})
	l := New(reg)
	ctx := context.Background()

	if err := l.Acquire(ctx, "fifo.test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := range 5 {
		wg.Go(func() {
			if err := l.Acquire(ctx, "fifo.test"); err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
		waitForQueue(t, l, "fifo.test", i+1)
	}
	wg.Wait()

	if !slices.Equal(order, []int{0, 1, 2, 3, 4}) {
		t.Errorf("expected FIFO order, got %v", order)
	}
}

// waitForQueue polls until at least want requests are waiting for hostname.
func waitForQueue(t *testing.T, l *Limiter, hostname string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if l.Budget(hostname).Waiting >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d queued requests", want)
}

func TestLimiterCancel(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t, host.Profile{Pattern: "slow.test", RateLimit: 1, RateWindow: time.Hour})
	l := New(reg)

	if err := l.Acquire(context.Background(), "slow.test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx, "slow.test")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
	if w := l.Budget("slow.test").Waiting; w != 0 {
		t.Errorf("expected cancelled waiter to leave the queue, got %d waiting", w)
	}
}

func TestLimiterCancelledHeadPassesTurn(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t, host.Profile{Pattern: "turn.test", RateLimit: 1, RateWindow: 100 * time.Millisecond})
	l := New(reg)

	if err := l.Acquire(context.Background(), "turn.test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	headCtx, cancelHead := context.WithCancel(context.Background())
	headDone := make(chan error, 1)
	go func() { headDone <- l.Acquire(headCtx, "turn.test") }()
	waitForQueue(t, l, "turn.test", 1)

	nextDone := make(chan error, 1)
	go func() { nextDone <- l.Acquire(context.Background(), "turn.test") }()
	waitForQueue(t, l, "turn.test", 2)

	cancelHead()
	if err := <-headDone; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	select {
	case err := <-nextDone:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("next waiter was never granted")
	}
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t,
		host.Profile{Pattern: "blocked.test", RateLimit: 1, RateWindow: time.Hour},
		host.Profile{Pattern: "free.test", RateLimit: 100},
	)
	l := New(reg)

	if err := l.Acquire(context.Background(), "blocked.test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	blockedCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Acquire(blockedCtx, "blocked.test") }()
	waitForQueue(t, l, "blocked.test", 1)

	ctx, cancelFree := context.WithTimeout(context.Background(), time.Second)
	defer cancelFree()
	for range 10 {
		if err := l.Acquire(ctx, "free.test"); err != nil {
			t.Fatalf("free host was blocked: %v", err)
		}
	}
}

func TestLimiterBudget(t *testing.T) {
	t.Parallel()

	reg := newRegistry(t, host.Profile{Pattern: "budget.test", RateLimit: 3, RateWindow: time.Hour})
	l := New(reg)

	for range 2 {
		if err := l.Acquire(context.Background(), "budget.test"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	b := l.Budget("www.budget.test")
	if b.Host != "budget.test" {
		t.Errorf("expected key budget.test, got %s", b.Host)
	}
	if b.Limit != 3 || b.Available != 1 {
		t.Errorf("expected limit 3 and 1 available, got %d/%d", b.Limit, b.Available)
	}
	if b.Window != time.Hour {
		t.Errorf("expected 1h window, got %v", b.Window)
	}
}
