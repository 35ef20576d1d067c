// Package callgroup coalesces concurrent calls that share a key.
//
// When several goroutines ask for the same key at once, one of them
// runs the function and the rest wait for its result. The key is
// forgotten as soon as the call finishes, so later calls run afresh.
// Scheduled pipeline runs use this to keep a cron tick from starting a
// second run of the same archive while one is still going.
package callgroup

import "sync"

// Group coalesces in-flight calls by key.
type Group[K comparable] struct {
	mu       sync.Mutex
	inflight map[K]*call
}

type call struct {
	done chan struct{}
	err  error
}

// Do runs fn for key unless a call for key is already in flight, in
// which case it blocks and returns that call's result instead.
func (g *Group[K]) Do(key K, fn func() error) error {
	return <-g.DoChan(key, fn)
}

// DoChan is Do without blocking: the returned channel delivers exactly
// one result and is never closed.
func (g *Group[K]) DoChan(key K, fn func() error) <-chan error {
	g.mu.Lock()
	if g.inflight == nil {
		g.inflight = make(map[K]*call)
	}
	if c, ok := g.inflight[key]; ok {
		g.mu.Unlock()
		return waitFor(c)
	}

	c := &call{done: make(chan struct{})}
	g.inflight[key] = c
	g.mu.Unlock()

	go func() {
		c.err = fn()
		close(c.done)

		g.mu.Lock()
		delete(g.inflight, key)
		g.mu.Unlock()
	}()

	return waitFor(c)
}

func waitFor(c *call) <-chan error {
	ch := make(chan error, 1)
	go func() {
		<-c.done
		ch <- c.err
	}()
	return ch
}
