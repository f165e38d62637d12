package engine

import "sync"

// guard is the admission gate of one DB.
//
// enter and close share a mutex, so a command is either admitted before the
// gate shuts (and close waits for it) or rejected after.
type guard struct {
	mu     sync.Mutex
	closed bool
	active sync.WaitGroup
}

// enter admits one command. It returns false once close has begun.
func (g *guard) enter() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return false
	}
	g.active.Add(1)
	return true
}

// leave marks an admitted command finished.
func (g *guard) leave() {
	g.active.Done()
}

// close shuts the gate and blocks until every admitted command has left.
// Only the first call returns true.
func (g *guard) close() bool {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return false
	}
	g.closed = true
	g.mu.Unlock()

	g.active.Wait()
	return true
}

func (g *guard) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}
