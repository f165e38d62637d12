package boundary

import "sync"

// Ledger records buffers handed to foreign callers. A buffer is released at
// most once; unknown or already released addresses are refused.
type Ledger struct {
	mu   sync.Mutex
	live map[uintptr]int
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{live: make(map[uintptr]int)}
}

// Track records a buffer of n bytes at addr.
func (l *Ledger) Track(addr uintptr, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.live[addr] = n
}

// Release forgets addr and returns its recorded size. It reports false when
// addr was never tracked or was already released.
func (l *Ledger) Release(addr uintptr) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, ok := l.live[addr]
	if ok {
		delete(l.live, addr)
	}
	return n, ok
}

// ReleaseSized forgets addr only when it was tracked with exactly n bytes.
// A size mismatch leaves the buffer tracked so the caller can retry.
func (l *Ledger) ReleaseSized(addr uintptr, n int) (found, sized bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	size, ok := l.live[addr]
	if !ok {
		return false, false
	}
	if size != n {
		return true, false
	}
	delete(l.live, addr)
	return true, true
}

// Outstanding returns the number of unreleased buffers.
func (l *Ledger) Outstanding() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.live)
}
