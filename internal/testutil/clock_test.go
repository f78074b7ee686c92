package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/termvc/internal/stamp"
)

var _ stamp.Clock = (*DeterministicClock)(nil)

func TestDeterministicClock_Sequence(t *testing.T) {
	tests := []struct {
		name        string
		clock       *DeterministicClock
		want        []int64
		wantCurrent int64
	}{
		{"default", NewDeterministicClock(), []int64{1, 2, 3, 4}, 4},
		{"scenario step", NewDeterministicClockAt(0, 100), []int64{100, 200, 300}, 300},
		{"offset start", NewDeterministicClockAt(1000, 10), []int64{1010, 1020}, 1020},
		{"non-positive step", NewDeterministicClockAt(5, 0), []int64{6, 7}, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := make([]int64, len(tt.want))
			for i := range got {
				got[i] = tt.clock.Next()
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantCurrent, tt.clock.Current())
		})
	}
}

func TestDeterministicClock_Reset(t *testing.T) {
	clock := NewDeterministicClockAt(0, 100)
	clock.Next()
	clock.Next()
	clock.Observe(950)
	require.Equal(t, int64(950), clock.Current())

	clock.Reset()
	assert.Equal(t, int64(0), clock.Current())
	assert.Equal(t, int64(100), clock.Next())
}

func TestDeterministicClock_Observe(t *testing.T) {
	clock := NewDeterministicClock()
	clock.Observe(41)
	assert.Equal(t, int64(42), clock.Next())

	// Observing the past is ignored.
	clock.Observe(7)
	assert.Equal(t, int64(43), clock.Next())
}

func TestDeterministicClock_ConcurrentNextIsUnique(t *testing.T) {
	clock := NewDeterministicClockAt(0, 100)
	const workers, calls = 50, 200

	var (
		mu   sync.Mutex
		seen = make(map[int64]bool, workers*calls)
		wg   sync.WaitGroup
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, calls)
			for j := range local {
				local[j] = clock.Next()
			}
			mu.Lock()
			defer mu.Unlock()
			for _, v := range local {
				assert.False(t, seen[v], "duplicate time %d", v)
				seen[v] = true
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*calls)
	assert.Equal(t, int64(workers*calls*100), clock.Current())
}

func TestDeterministicClock_Repeatable(t *testing.T) {
	a, b := NewDeterministicClockAt(0, 100), NewDeterministicClockAt(0, 100)
	for range 50 {
		assert.Equal(t, a.Next(), b.Next())
	}
}
