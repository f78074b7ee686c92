package engine

import (
	"sync"

	"github.com/google/uuid"
)

// UUIDGenerator hands out public component ids.
// Implemented by UUIDv7Generator (production), FixedGenerator and
// testutil.SequentialUUIDs (tests).
type UUIDGenerator interface {
	New() uuid.UUID
}

// UUIDv7Generator generates time-sortable UUIDv7 component ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// New creates a new UUIDv7.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// FixedGenerator returns predetermined ids for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []uuid.UUID
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
func NewFixedGenerator(ids ...uuid.UUID) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// New returns the next predetermined id.
//
// Panics if all ids have been consumed, which means the test created more
// components than it planned for.
func (g *FixedGenerator) New() uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
