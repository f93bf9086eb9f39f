package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/nao1215/dropfetch/internal/pool"
)

// RateLimiter delays requests per host.
type RateLimiter interface {
	Acquire(ctx context.Context, hostname string) error
}

// SlotPool bounds concurrent requests per host.
type SlotPool interface {
	Acquire(ctx context.Context, hostname string) (*pool.Slot, error)
}

// Doer sends HTTP requests. *http.Client and *Gate satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Gate sends requests through the concurrency pool and the rate limiter
// of their host.
type Gate struct {
	client  *http.Client
	limiter RateLimiter
	slots   SlotPool
}

// NewGate wraps client. slots may be nil, in which case only the rate
// limit applies and the caller is responsible for concurrency.
func NewGate(client *http.Client, limiter RateLimiter, slots SlotPool) *Gate {
	return &Gate{client: client, limiter: limiter, slots: slots}
}

// Enter blocks until a slot and a rate grant for hostname are held.
// The returned release gives the slot back; calling it more than once is
// a no-op. On error nothing is held.
func (g *Gate) Enter(ctx context.Context, hostname string) (release func(), err error) {
	var slot *pool.Slot
	if g.slots != nil {
		slot, err = g.slots.Acquire(ctx, hostname)
		if err != nil {
			return nil, err
		}
	}
	release = func() {
		if slot != nil {
			slot.Release()
		}
	}

	if g.limiter != nil {
		if err := g.limiter.Acquire(ctx, hostname); err != nil {
			release()
			return nil, fmt.Errorf("rate limit for %s: %w", hostname, err)
		}
	}
	return release, nil
}

// Do sends req once a slot and a rate grant are held for req's host.
// The slot is held until the response body is closed, or released
// immediately when Do returns an error.
func (g *Gate) Do(req *http.Request) (*http.Response, error) {
	release, err := g.Enter(req.Context(), strings.ToLower(req.URL.Hostname()))
	if err != nil {
		return nil, err
	}

	resp, err := g.client.Do(req)
	if err != nil {
		release()
		return nil, err
	}
	resp.Body = &releasingBody{ReadCloser: resp.Body, release: release}
	return resp, nil
}

// releasingBody returns the pool slot on the first Close.
type releasingBody struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}
