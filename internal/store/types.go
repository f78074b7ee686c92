package store

import (
	"github.com/google/uuid"

	"github.com/roach88/termvc/internal/component"
	"github.com/roach88/termvc/internal/field"
	"github.com/roach88/termvc/internal/path"
	"github.com/roach88/termvc/internal/stamp"
)

// StampRecord is one interned stamp.
type StampRecord struct {
	ID    stamp.ID
	Tuple stamp.Tuple
}

// ComponentRecord is a component header with its primordial fields.
type ComponentRecord struct {
	Nid        int
	UUID       uuid.UUID
	Kind       component.Kind
	Primordial stamp.ID
	Fields     field.Object
}

// RevisionRecord is one chain entry after the primordial.
type RevisionRecord struct {
	Nid   int
	Stamp stamp.ID
	Delta field.Object
}

// Batch is everything one commit makes durable.
type Batch struct {
	Stamps     []StampRecord
	Components []ComponentRecord
	Revisions  []RevisionRecord
	Aliases    []stamp.AliasPair
}

// Empty reports whether the batch writes nothing.
func (b Batch) Empty() bool {
	return len(b.Stamps) == 0 && len(b.Components) == 0 && len(b.Revisions) == 0 && len(b.Aliases) == 0
}

// Snapshot is the full durable state, as read at startup.
type Snapshot struct {
	Stamps     []StampRecord
	Aliases    []stamp.AliasPair
	Paths      []path.Path
	Components []ComponentRecord
	Revisions  []RevisionRecord
}
