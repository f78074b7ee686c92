package testutil

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// SequentialUUIDs hands out predictable version 7 shaped UUIDs
// 00000000-0000-7000-8000-000000000001, ...-000000000002 and so on.
//
// Golden traces depend on component ids, so scenario runs use this instead
// of random UUIDv7 values.
//
// Thread-safety: safe for concurrent use.
type SequentialUUIDs struct {
	mu sync.Mutex
	n  uint64
}

// NewSequentialUUIDs creates a generator whose first UUID ends in 1.
func NewSequentialUUIDs() *SequentialUUIDs {
	return &SequentialUUIDs{}
}

// New returns the next UUID.
func (g *SequentialUUIDs) New() uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return SeqUUID(g.n)
}

// SeqUUID returns the n-th UUID of a SequentialUUIDs sequence.
func SeqUUID(n uint64) uuid.UUID {
	return uuid.MustParse(fmt.Sprintf("00000000-0000-7000-8000-%012x", n))
}
