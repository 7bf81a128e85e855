package events

import "sync/atomic"

// Sequence is a monotonic logical clock for event ordering.
//
// Ordering always uses Seq, never wall time, so two runs of the same
// scripted scenario produce identical traces.
//
// Thread-safety: Sequence is safe for concurrent use (atomic operations).
type Sequence struct {
	seq atomic.Int64
}

// NewSequence creates a sequence starting at 0. The first Next() returns 1.
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
func (s *Sequence) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the last issued sequence number without incrementing.
func (s *Sequence) Current() int64 {
	return s.seq.Load()
}
