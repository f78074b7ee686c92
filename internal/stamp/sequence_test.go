package stamp

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequence_Monotonic(t *testing.T) {
	s := NewSequenceAt(100)

	assert.Equal(t, int64(101), s.Next())
	assert.Equal(t, int64(102), s.Next())
	assert.Equal(t, int64(102), s.Current())
}

func TestSequence_WallClockBackwards(t *testing.T) {
	wall := int64(1000)
	s := &Sequence{now: func() int64 { return wall }}

	assert.Equal(t, int64(1000), s.Next())
	wall = 500
	assert.Equal(t, int64(1001), s.Next(), "must not go backwards")
	wall = 2000
	assert.Equal(t, int64(2000), s.Next())
}

func TestSequence_Observe(t *testing.T) {
	s := NewSequenceAt(0)
	s.Observe(50)
	assert.Equal(t, int64(51), s.Next())

	s.Observe(10)
	assert.Equal(t, int64(52), s.Next(), "observing an older time is a no-op")

	s.Observe(SentinelUncommitted)
	assert.Equal(t, int64(53), s.Next())
}

func TestSequence_ConcurrentUnique(t *testing.T) {
	s := NewSequence()
	const goroutines, perGoroutine = 16, 200

	var mu sync.Mutex
	seen := make(map[int64]bool)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, perGoroutine)
			for i := 0; i < perGoroutine; i++ {
				local = append(local, s.Next())
			}
			mu.Lock()
			for _, v := range local {
				seen[v] = true
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*perGoroutine)
}
