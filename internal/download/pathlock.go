package download

import (
	"context"
	"sync"
)

// pathLocks serializes writers per destination path. Entries are
// reference counted and removed when nobody holds or waits for them.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	held chan struct{}
	refs int
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*pathLock)}
}

// lock blocks until path is free or ctx is done. The returned function
// unlocks path.
func (p *pathLocks) lock(ctx context.Context, path string) (func(), error) {
	p.mu.Lock()
	l, ok := p.locks[path]
	if !ok {
		l = &pathLock{held: make(chan struct{}, 1)}
		p.locks[path] = l
	}
	l.refs++
	p.mu.Unlock()

	select {
	case l.held <- struct{}{}:
	case <-ctx.Done():
		p.release(path, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.held
			p.release(path, l)
		})
	}, nil
}

func (p *pathLocks) release(path string, l *pathLock) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(p.locks, path)
	}
}

// active returns the number of paths held or waited for.
func (p *pathLocks) active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}
