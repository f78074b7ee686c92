package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/termvc/internal/component"
	"github.com/roach88/termvc/internal/field"
	"github.com/roach88/termvc/internal/stamp"
)

// Change is one component of a commit batch as checkers see it.
type Change struct {
	Nid     int
	UUID    uuid.UUID
	Kind    component.Kind
	Created bool
	Stamp   stamp.ID
	Tuple   stamp.Tuple
	// Delta is what the revision records; for a created component it is
	// the full primordial field set.
	Delta field.Object
	// Fields is the writer's resulting version.
	Fields field.Object
}

// Batch is a commit batch after stamp assignment.
type Batch struct {
	Time    int64
	Session Session
	Changes []Change
}

// Nids lists the batch's components in edit order.
func (b *Batch) Nids() []int {
	nids := make([]int, len(b.Changes))
	for i, c := range b.Changes {
		nids[i] = c.Nid
	}
	return nids
}

// Checker validates a commit batch before it is written. Returning an
// error rejects the whole batch; wrap per-component problems in
// *Rejection (joined with errors.Join) so the error names them.
type Checker interface {
	Name() string
	Check(ctx context.Context, b *Batch) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc struct {
	CheckerName string
	Fn          func(ctx context.Context, b *Batch) error
}

// Name returns the checker name.
func (c CheckerFunc) Name() string { return c.CheckerName }

// Check calls Fn.
func (c CheckerFunc) Check(ctx context.Context, b *Batch) error { return c.Fn(ctx, b) }

// SchemaChecker validates each resulting version against its kind schema.
type SchemaChecker struct{}

// Name returns "schema".
func (SchemaChecker) Name() string { return "schema" }

// Check validates every change.
func (SchemaChecker) Check(_ context.Context, b *Batch) error {
	var errs []error
	for _, c := range b.Changes {
		if err := component.Validate(c.Kind, c.Fields); err != nil {
			errs = append(errs, &Rejection{Nid: c.Nid, Err: err})
		}
	}
	return errors.Join(errs...)
}

// ReferenceChecker requires every referenced uuid to name a known
// component or one created in the same batch.
type ReferenceChecker struct {
	// Known reports whether a component exists outside the batch.
	Known func(uuid.UUID) bool
}

// Name returns "references".
func (ReferenceChecker) Name() string { return "references" }

// Check runs after SchemaChecker, so references parse.
func (c ReferenceChecker) Check(_ context.Context, b *Batch) error {
	created := make(map[uuid.UUID]bool)
	for _, ch := range b.Changes {
		if ch.Created {
			created[ch.UUID] = true
		}
	}

	var errs []error
	for _, ch := range b.Changes {
		for _, ref := range component.References(ch.Kind, ch.Fields) {
			if created[ref] || (c.Known != nil && c.Known(ref)) {
				continue
			}
			errs = append(errs, &Rejection{Nid: ch.Nid, Err: fmt.Errorf("references unknown component %s", ref)})
		}
	}
	return errors.Join(errs...)
}

// runCheckers returns the first rejection as a ValidationError.
func (e *Engine) runCheckers(ctx context.Context, b *Batch) error {
	for _, c := range e.checkers {
		if err := c.Check(ctx, b); err != nil {
			nids := rejectedNids(err)
			if len(nids) == 0 {
				nids = b.Nids()
			}
			return &ValidationError{
				Code:    ErrCodeValidationRejected,
				Checker: c.Name(),
				Nids:    nids,
				Err:     err,
			}
		}
	}
	return nil
}
