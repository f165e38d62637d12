// Package handle maps opaque uint64 tokens to live database instances.
//
// Tokens start at 1 and are never reused within a process, so a stale token
// can never reach a newer instance.
package handle

import "sync"

// Handle is an opaque token. The zero Handle is never issued.
type Handle uint64

// Arena stores values behind Handles.
type Arena[T any] struct {
	mu   sync.RWMutex
	last uint64
	live map[Handle]T
}

// NewArena returns an empty arena.
func NewArena[T any]() *Arena[T] {
	return &Arena[T]{live: make(map[Handle]T)}
}

// Insert stores v under a fresh handle.
func (a *Arena[T]) Insert(v T) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.last++
	h := Handle(a.last)
	a.live[h] = v
	return h
}

// Get returns the value for h.
func (a *Arena[T]) Get(h Handle) (T, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	v, ok := a.live[h]
	return v, ok
}

// Remove deletes h and returns its value. Only the first Remove of a handle
// succeeds.
func (a *Arena[T]) Remove(h Handle) (T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	v, ok := a.live[h]
	if ok {
		delete(a.live, h)
	}
	return v, ok
}

// Len returns the number of live handles.
func (a *Arena[T]) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.live)
}

// Drain removes and returns every live value, in handle order.
func (a *Arena[T]) Drain() []T {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]T, 0, len(a.live))
	for h := Handle(1); h <= Handle(a.last) && len(a.live) > 0; h++ {
		if v, ok := a.live[h]; ok {
			out = append(out, v)
			delete(a.live, h)
		}
	}
	return out
}
