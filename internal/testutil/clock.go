package testutil

import "sync"

// DeterministicClock is a commit clock for tests. It implements stamp.Clock.
//
// Unlike stamp.Sequence it ignores the wall clock and can be reset, so the
// same scenario run twice assigns identical commit times.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	start int64
	step  int64
	seq   int64
}

// NewDeterministicClock creates a clock starting at 0 with step 1.
//
// The first call to Next() returns 1.
func NewDeterministicClock() *DeterministicClock {
	return NewDeterministicClockAt(0, 1)
}

// NewDeterministicClockAt creates a clock whose first Next returns
// start+step. NewDeterministicClockAt(0, 100) yields 100, 200, 300...
func NewDeterministicClockAt(start, step int64) *DeterministicClock {
	if step <= 0 {
		step = 1
	}
	return &DeterministicClock{start: start, step: step, seq: start}
}

// Next advances the clock by one step and returns the new time.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq += c.step
	return c.seq
}

// Observe moves the clock to t if t is ahead of it.
func (c *DeterministicClock) Observe(t int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t > c.seq {
		c.seq = t
	}
}

// Current returns the last time handed out.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset rewinds the clock to its start.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = c.start
}
