package store

import "sync"

// Guard serialises the callbacks of one subscription and cuts them off for good on Close.
// Close waits for an in-flight callback to return, so it must not run inside one.
type Guard struct {
	mu     sync.Mutex
	closed bool
}

// Deliver runs fn unless the guard is closed and reports whether it ran.
func (g *Guard) Deliver(fn func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	fn()
	return true
}

func (g *Guard) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

func (g *Guard) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}
