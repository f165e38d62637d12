package engine

import "sync/atomic"

// Sequence numbers admitted commands.
//
// Every admitted command is stamped with a strictly increasing number, so log
// lines for one instance can be ordered without relying on wall-clock time.
//
// Thread-safety: Sequence is safe for concurrent use (atomic operations).
type Sequence struct {
	seq atomic.Int64
}

// NewSequence creates a sequence starting at 0.
func NewSequence() *Sequence {
	return &Sequence{}
}

// NewSequenceAt creates a sequence whose next value is start+1.
func NewSequenceAt(start int64) *Sequence {
	s := &Sequence{}
	s.seq.Store(start)
	return s
}

// Next returns the next sequence number.
// Calls are linearizable - each call returns a unique, increasing value.
func (s *Sequence) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the last issued number without incrementing.
func (s *Sequence) Current() int64 {
	return s.seq.Load()
}
