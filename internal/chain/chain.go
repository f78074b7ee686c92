// Package chain stores the append-only revision history of one component.
//
// A Chain holds the primordial (creation) revision plus every later
// revision, strictly ordered by stamp id. Equal stamps collapse to the first
// writer, which makes replaying the same committed fact idempotent and makes
// Merge a pure set union.
//
// Concurrency: the chain keeps an immutable snapshot behind an atomic
// pointer. Readers load it without locking and can never observe a torn
// revision; writers serialize on a narrow mutex and publish a new
// copy-on-write snapshot. Revisions of one component are written rarely, so
// copying the slice is cheaper than a concurrent skip list.
package chain

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/roach88/termvc/internal/stamp"
)

// Revision pairs a stamp with the field delta it introduced.
type Revision[D any] struct {
	Stamp stamp.ID
	Delta D
}

// Snapshot is a point-in-time view of a chain. Its slices are shared with
// the chain and must be treated as read-only.
type Snapshot[D any] struct {
	Primordial Revision[D]
	Revisions  []Revision[D]
}

// Entries returns the primordial revision followed by the revisions.
func (s Snapshot[D]) Entries() []Revision[D] {
	out := make([]Revision[D], 0, len(s.Revisions)+1)
	out = append(out, s.Primordial)
	return append(out, s.Revisions...)
}

// Stamps returns the stamp of every entry, primordial first.
func (s Snapshot[D]) Stamps() []stamp.ID {
	out := make([]stamp.ID, 0, len(s.Revisions)+1)
	out = append(out, s.Primordial.Stamp)
	for _, r := range s.Revisions {
		out = append(out, r.Stamp)
	}
	return out
}

// Len returns the number of entries including the primordial.
func (s Snapshot[D]) Len() int {
	return len(s.Revisions) + 1
}

// Chain is the revision chain of one component.
type Chain[D any] struct {
	mu         sync.Mutex
	snap       atomic.Pointer[Snapshot[D]]
	equivalent func(a, b stamp.ID) bool
}

// Option configures a Chain.
type Option func(*options)

type options struct {
	equivalent func(a, b stamp.ID) bool
}

// WithEquivalence makes inserts treat equivalent stamps (for example alias
// classes from the stamp registry) as duplicates.
func WithEquivalence(fn func(a, b stamp.ID) bool) Option {
	return func(o *options) {
		o.equivalent = fn
	}
}

// New creates a chain whose primordial revision carries the full initial
// fields of the component.
func New[D any](primordial stamp.ID, fields D, opts ...Option) *Chain[D] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Chain[D]{equivalent: o.equivalent}
	c.snap.Store(&Snapshot[D]{Primordial: Revision[D]{Stamp: primordial, Delta: fields}})
	return c
}

// Primordial returns the stamp the component was created with.
func (c *Chain[D]) Primordial() stamp.ID {
	return c.snap.Load().Primordial.Stamp
}

// Snapshot returns the current point-in-time view. Concurrent inserts after
// the call are not reflected in the returned value.
func (c *Chain[D]) Snapshot() Snapshot[D] {
	return *c.snap.Load()
}

// Len returns the number of entries including the primordial.
func (c *Chain[D]) Len() int {
	return c.snap.Load().Len()
}

// AddRevision inserts a revision in stamp order. It returns false, leaving
// the chain unchanged, when the stamp is the primordial stamp or equals
// (or is equivalent to) a stamp already present.
func (c *Chain[D]) AddRevision(id stamp.ID, delta D) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.snap.Load()
	next, ok := c.insert(cur, Revision[D]{Stamp: id, Delta: delta})
	if !ok {
		return false
	}
	c.snap.Store(next)
	return true
}

// Merge unions other into c. The result is independent of argument order:
// when the two chains disagree on the primordial, the lower stamp id stays
// primordial and the other becomes an ordinary revision.
// It returns the number of entries added to c.
func (c *Chain[D]) Merge(other *Chain[D]) int {
	if other == c {
		return 0
	}
	theirs := other.Snapshot()

	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.snap.Load()
	added := 0

	if theirs.Primordial.Stamp != cur.Primordial.Stamp && !c.same(theirs.Primordial.Stamp, cur.Primordial.Stamp) {
		if theirs.Primordial.Stamp < cur.Primordial.Stamp {
			demoted := cur.Primordial
			cur = &Snapshot[D]{
				Primordial: theirs.Primordial,
				Revisions: slices.DeleteFunc(slices.Clone(cur.Revisions), func(r Revision[D]) bool {
					return c.same(r.Stamp, theirs.Primordial.Stamp)
				}),
			}
			if next, ok := c.insert(cur, demoted); ok {
				cur = next
			}
			added++
		} else if next, ok := c.insert(cur, theirs.Primordial); ok {
			cur = next
			added++
		}
	}

	for _, r := range theirs.Revisions {
		if next, ok := c.insert(cur, r); ok {
			cur = next
			added++
		}
	}

	c.snap.Store(cur)
	return added
}

// Clone returns an independent chain with the same entries.
func (c *Chain[D]) Clone() *Chain[D] {
	s := c.Snapshot()
	out := &Chain[D]{equivalent: c.equivalent}
	out.snap.Store(&Snapshot[D]{Primordial: s.Primordial, Revisions: slices.Clone(s.Revisions)})
	return out
}

// insert returns a new snapshot containing r, or false if r is a duplicate.
func (c *Chain[D]) insert(cur *Snapshot[D], r Revision[D]) (*Snapshot[D], bool) {
	if c.same(r.Stamp, cur.Primordial.Stamp) {
		return cur, false
	}
	idx, found := slices.BinarySearchFunc(cur.Revisions, r.Stamp, func(e Revision[D], id stamp.ID) int {
		return cmp.Compare(e.Stamp, id)
	})
	if found {
		return cur, false
	}
	if c.equivalent != nil {
		for _, e := range cur.Revisions {
			if c.equivalent(e.Stamp, r.Stamp) {
				return cur, false
			}
		}
	}

	revs := make([]Revision[D], 0, len(cur.Revisions)+1)
	revs = append(revs, cur.Revisions[:idx]...)
	revs = append(revs, r)
	revs = append(revs, cur.Revisions[idx:]...)
	return &Snapshot[D]{Primordial: cur.Primordial, Revisions: revs}, true
}

func (c *Chain[D]) same(a, b stamp.ID) bool {
	if a == b {
		return true
	}
	return c.equivalent != nil && c.equivalent(a, b)
}
