package stamp

import (
	"sync/atomic"
	"time"
)

// Clock hands out commit times.
// Implemented by Sequence (production) and testutil.DeterministicClock (tests).
type Clock interface {
	// Next returns a commit time strictly greater than every earlier result.
	Next() int64
	// Observe guarantees later Next calls return values greater than t.
	Observe(t int64)
}

// Sequence is a monotonic commit-time source.
//
// Next returns max(last+1, now()) so times track the wall clock in
// milliseconds while staying strictly increasing and globally unique, even
// when the wall clock steps backwards or many commits land in the same
// millisecond.
//
// Thread-safety: all methods are safe for concurrent use (CAS loop).
type Sequence struct {
	last atomic.Int64
	now  func() int64
}

// NewSequence creates a sequence driven by the wall clock.
func NewSequence() *Sequence {
	return &Sequence{now: func() int64 { return time.Now().UnixMilli() }}
}

// NewSequenceAt creates a sequence that never returns a value <= start and
// ignores the wall clock. Used for replay and tests that need fixed times.
func NewSequenceAt(start int64) *Sequence {
	s := &Sequence{now: func() int64 { return 0 }}
	s.last.Store(start)
	return s
}

// Next returns the next commit time.
func (s *Sequence) Next() int64 {
	for {
		prev := s.last.Load()
		n := max(prev+1, s.now())
		if s.last.CompareAndSwap(prev, n) {
			return n
		}
	}
}

// Observe advances the sequence past t. Called after loading stored
// stamps or replaying changesets so new commits sort after them.
func (s *Sequence) Observe(t int64) {
	if t == SentinelUncommitted {
		return
	}
	for {
		prev := s.last.Load()
		if t <= prev || s.last.CompareAndSwap(prev, t) {
			return
		}
	}
}

// Current returns the last time handed out.
func (s *Sequence) Current() int64 {
	return s.last.Load()
}
