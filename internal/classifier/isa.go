package classifier

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/termvc/internal/component"
)

// CycleError reports concepts that are stated to be subtypes of each
// other. Cycle is closed: its first and last element are equal.
type CycleError struct {
	Cycle []uuid.UUID
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Cycle))
	for i, id := range e.Cycle {
		parts[i] = id.String()
	}
	return "is-a cycle: " + strings.Join(parts, " -> ")
}

// IsCycleError reports whether err is or wraps a *CycleError.
func IsCycleError(err error) bool {
	var ce *CycleError
	return errors.As(err, &ce)
}

// IsA is a structural classifier over one subtype relationship type.
//
// It infers the transitive reduction of the stated subtype hierarchy
// (redundant parents are dropped) and copies every attribute relationship
// of a concept's ancestors down to the concept. Stated attributes are kept.
type IsA struct {
	// Type is the relationship type meaning "is a".
	Type uuid.UUID
}

// Name returns "is-a".
func (IsA) Name() string { return "is-a" }

// Classify implements Classifier.
func (c IsA) Classify(ctx context.Context, stated []component.Relationship) ([]component.Relationship, error) {
	parents := make(map[uuid.UUID][]uuid.UUID)
	attrs := make(map[uuid.UUID][]component.Relationship)
	for _, r := range stated {
		if r.Type == c.Type {
			if !slices.Contains(parents[r.Source], r.Destination) {
				parents[r.Source] = append(parents[r.Source], r.Destination)
			}
			continue
		}
		attrs[r.Source] = append(attrs[r.Source], r)
	}

	h := &hierarchy{parents: parents, ancestors: make(map[uuid.UUID]map[uuid.UUID]bool), state: make(map[uuid.UUID]uint8)}
	concepts := make([]uuid.UUID, 0, len(parents)+len(attrs))
	for id := range parents {
		concepts = append(concepts, id)
	}
	for id := range attrs {
		if _, ok := parents[id]; !ok {
			concepts = append(concepts, id)
		}
	}
	slices.SortFunc(concepts, compareUUID)

	var out []component.Relationship
	for _, id := range concepts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		anc, err := h.closure(id, nil)
		if err != nil {
			return nil, err
		}

		for _, p := range h.direct(id) {
			out = append(out, component.Relationship{
				Source:         id,
				Type:           c.Type,
				Destination:    p,
				Characteristic: component.Inferred,
			})
		}

		seen := make(map[Key]bool)
		add := func(r component.Relationship) {
			r.Source = id
			r.Characteristic = component.Inferred
			if k := KeyOf(r); !seen[k] {
				seen[k] = true
				out = append(out, r)
			}
		}
		for _, r := range attrs[id] {
			add(r)
		}
		for _, a := range sortedSet(anc) {
			for _, r := range attrs[a] {
				add(r)
			}
		}
	}
	sortRelationships(out)
	return out, nil
}

const (
	unvisited uint8 = iota
	visiting
	done
)

// hierarchy memoizes ancestor sets of the stated subtype graph.
type hierarchy struct {
	parents   map[uuid.UUID][]uuid.UUID
	ancestors map[uuid.UUID]map[uuid.UUID]bool
	state     map[uuid.UUID]uint8
}

// closure returns every proper ancestor of id. trail is the current DFS
// stack, used to report a cycle.
func (h *hierarchy) closure(id uuid.UUID, trail []uuid.UUID) (map[uuid.UUID]bool, error) {
	switch h.state[id] {
	case done:
		return h.ancestors[id], nil
	case visiting:
		start := slices.Index(trail, id)
		cycle := append(slices.Clone(trail[start:]), id)
		return nil, &CycleError{Cycle: cycle}
	}

	h.state[id] = visiting
	trail = append(trail, id)
	anc := make(map[uuid.UUID]bool)
	for _, p := range h.parents[id] {
		up, err := h.closure(p, trail)
		if err != nil {
			return nil, err
		}
		anc[p] = true
		for a := range up {
			anc[a] = true
		}
	}
	h.state[id] = done
	h.ancestors[id] = anc
	return anc, nil
}

// direct returns the parents of id that are not ancestors of another
// parent, sorted. closure(id) must have succeeded.
func (h *hierarchy) direct(id uuid.UUID) []uuid.UUID {
	ps := h.parents[id]
	var out []uuid.UUID
	for _, p := range ps {
		redundant := false
		for _, q := range ps {
			if q != p && h.ancestors[q][p] {
				redundant = true
				break
			}
		}
		if !redundant {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, compareUUID)
	return out
}

func sortedSet(set map[uuid.UUID]bool) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.SortFunc(out, compareUUID)
	return out
}

var _ Classifier = IsA{}

// String renders the classifier for logs.
func (c IsA) String() string {
	return fmt.Sprintf("is-a(%s)", c.Type)
}
