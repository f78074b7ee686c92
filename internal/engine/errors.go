package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrHandleClosed is returned when an edit handle is used after it was
	// committed, rejected or discarded.
	ErrHandleClosed = errors.New("edit handle is closed")

	// ErrUnknownComponent is returned for nids or uuids the engine does not
	// hold.
	ErrUnknownComponent = errors.New("unknown component")

	// ErrKindMismatch is returned when a changeset record disagrees with
	// the kind of an existing component.
	ErrKindMismatch = errors.New("component kind mismatch")

	// ErrEmptyEdit is returned when committing a handle with no changes.
	ErrEmptyEdit = errors.New("edit handle has no changes")

	// ErrEngineClosed is returned by operations after Close.
	ErrEngineClosed = errors.New("engine is closed")
)

// ErrorCode categorizes engine errors.
type ErrorCode string

// ErrCodeValidationRejected indicates a change checker rejected a batch.
const ErrCodeValidationRejected ErrorCode = "VALIDATION_REJECTED"

// ValidationError reports a commit batch rejected by a change checker.
// The batch was discarded as a whole.
type ValidationError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Checker names the checker that rejected the batch.
	Checker string

	// Nids lists the rejected components. When the checker did not name
	// any, it lists every component of the batch.
	Nids []int

	// Err is the checker's error.
	Err error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	nids := make([]string, len(e.Nids))
	for i, n := range e.Nids {
		nids[i] = fmt.Sprint(n)
	}
	return fmt.Sprintf("%s: %s rejected [%s]: %v", e.Code, e.Checker, strings.Join(nids, " "), e.Err)
}

// Unwrap returns the checker's error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Rejection is a checker error about one component. Checkers join several
// with errors.Join.
type Rejection struct {
	Nid int
	Err error
}

// Error implements the error interface.
func (r *Rejection) Error() string {
	return fmt.Sprintf("component %d: %v", r.Nid, r.Err)
}

// Unwrap returns the underlying error.
func (r *Rejection) Unwrap() error {
	return r.Err
}

// rejectedNids collects the nids of every Rejection in err's tree.
func rejectedNids(err error) []int {
	var out []int
	var walk func(error)
	walk = func(err error) {
		if err == nil {
			return
		}
		if r, ok := err.(*Rejection); ok {
			out = append(out, r.Nid)
			return
		}
		switch u := err.(type) {
		case interface{ Unwrap() []error }:
			for _, e := range u.Unwrap() {
				walk(e)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		}
	}
	walk(err)
	return out
}
