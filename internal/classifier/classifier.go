// Package classifier is the boundary to description-logic classifiers.
//
// A Classifier turns the stated relationships visible under a view
// coordinate into the relationships they imply. Runner reads the stated
// set from the engine, calls the classifier, and writes the difference
// back as inferred relationships through the ordinary commit API: new
// inferences are created, stale ones retired, returning ones reactivated.
// Nothing is ever deleted.
package classifier

import (
	"bytes"
	"cmp"
	"context"
	"slices"

	"github.com/google/uuid"

	"github.com/roach88/termvc/internal/component"
)

// Classifier computes inferred relationships from stated ones.
// Implementations must be deterministic and must not retain the input.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, stated []component.Relationship) ([]component.Relationship, error)
}

// Key identifies a relationship by content. Two relationships with the
// same key are the same fact.
type Key struct {
	Source      uuid.UUID
	Type        uuid.UUID
	Destination uuid.UUID
	Group       int64
}

// KeyOf returns the content key of r.
func KeyOf(r component.Relationship) Key {
	return Key{Source: r.Source, Type: r.Type, Destination: r.Destination, Group: r.Group}
}

func compareUUID(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}

// Compare orders keys by source, type, destination, then group.
func (k Key) Compare(o Key) int {
	if c := compareUUID(k.Source, o.Source); c != 0 {
		return c
	}
	if c := compareUUID(k.Type, o.Type); c != 0 {
		return c
	}
	if c := compareUUID(k.Destination, o.Destination); c != 0 {
		return c
	}
	return cmp.Compare(k.Group, o.Group)
}

// sortRelationships orders rs by key in place.
func sortRelationships(rs []component.Relationship) {
	slices.SortFunc(rs, func(a, b component.Relationship) int {
		return KeyOf(a).Compare(KeyOf(b))
	})
}
