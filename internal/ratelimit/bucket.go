package ratelimit

import (
	"slices"
	"sync"
	"time"
)

type waiter struct {
	ready chan struct{}
}

// bucket is the sliding-window state of one budget key.
type bucket struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	// grants holds grant times inside the current window, oldest first.
	grants []time.Time
	queue  []*waiter
}

func (b *bucket) enqueue() *waiter {
	w := &waiter{ready: make(chan struct{}, 1)}
	b.mu.Lock()
	b.queue = append(b.queue, w)
	b.mu.Unlock()
	return w
}

// remove drops a cancelled waiter and hands the turn to the next one.
func (b *bucket) remove(w *waiter) {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := slices.Index(b.queue, w)
	if i < 0 {
		return
	}
	b.queue = slices.Delete(b.queue, i, i+1)
	if i == 0 {
		b.wakeHead()
	}
}

// wakeHead must be called with mu held.
func (b *bucket) wakeHead() {
	if len(b.queue) == 0 {
		return
	}
	select {
	case b.queue[0].ready <- struct{}{}:
	default:
	}
}

// prune must be called with mu held.
func (b *bucket) prune(now time.Time) {
	n := 0
	for n < len(b.grants) && now.Sub(b.grants[n]) >= b.window {
		n++
	}
	if n > 0 {
		b.grants = slices.Delete(b.grants, 0, n)
	}
}
