package module

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultStripes is the stripe count used when none is configured.
const DefaultStripes = 64

// KeyedMutex is a fixed set of RW locks selected by key hash.
// Two operations on the same key always take the same stripe; distinct keys
// usually proceed in parallel.
type KeyedMutex struct {
	stripes []sync.RWMutex
}

// NewKeyedMutex creates n stripes. n < 1 falls back to DefaultStripes.
func NewKeyedMutex(n int) *KeyedMutex {
	if n < 1 {
		n = DefaultStripes
	}
	return &KeyedMutex{stripes: make([]sync.RWMutex, n)}
}

func (m *KeyedMutex) stripe(h uint64) *sync.RWMutex {
	return &m.stripes[h%uint64(len(m.stripes))]
}

// Lock takes the write lock for key and returns its release func.
func (m *KeyedMutex) Lock(key []byte) func() {
	mu := m.stripe(xxhash.Sum64(key))
	mu.Lock()
	return mu.Unlock
}

// RLock takes the read lock for key and returns its release func.
func (m *KeyedMutex) RLock(key []byte) func() {
	mu := m.stripe(xxhash.Sum64(key))
	mu.RLock()
	return mu.RUnlock
}

// LockString is Lock for string keys.
func (m *KeyedMutex) LockString(key string) func() {
	mu := m.stripe(xxhash.Sum64String(key))
	mu.Lock()
	return mu.Unlock
}

// RLockString is RLock for string keys.
func (m *KeyedMutex) RLockString(key string) func() {
	mu := m.stripe(xxhash.Sum64String(key))
	mu.RLock()
	return mu.RUnlock
}

// Stripes returns the stripe count.
func (m *KeyedMutex) Stripes() int {
	return len(m.stripes)
}
