// Package stamp interns the (status, time, author, module, path) tuples that
// identify commits, tracks which stamps are equivalent aliases of each
// other, and hands out strictly increasing commit times.
//
// Stamp ids are assigned from a single atomic counter, so id order is the
// total order used by revision chains. Time order is not: aliases and
// replayed changesets can carry times that disagree with id order.
package stamp

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// SentinelUncommitted is the time carried by revisions that have not been
// committed yet. It sorts after every real commit time.
const SentinelUncommitted int64 = math.MaxInt64

// ID identifies an interned stamp. Zero is never assigned.
type ID int64

// Status is the activity status recorded on a stamp.
type Status uint8

const (
	// Active marks a component version as in force.
	Active Status = iota + 1
	// Inactive marks a retirement. Nothing is ever deleted.
	Inactive
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Inactive:
		return "inactive"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// ParseStatus parses "active" or "inactive" (case-insensitive).
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active":
		return Active, nil
	case "inactive":
		return Inactive, nil
	default:
		return 0, fmt.Errorf("unknown status %q", s)
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == Active || s == Inactive
}

// Tuple is the interned content of a stamp.
type Tuple struct {
	Status Status `json:"status"`
	Time   int64  `json:"time"`
	Author int    `json:"author"`
	Module int    `json:"module"`
	Path   int    `json:"path"`
}

// Uncommitted reports whether the tuple still carries the sentinel time.
func (t Tuple) Uncommitted() bool {
	return t.Time == SentinelUncommitted
}

// String renders the tuple for logs and CLI output.
func (t Tuple) String() string {
	ts := fmt.Sprintf("%d", t.Time)
	if t.Uncommitted() {
		ts = "uncommitted"
	}
	return fmt.Sprintf("%s t=%s author=%d module=%d path=%d", t.Status, ts, t.Author, t.Module, t.Path)
}

var (
	// ErrUnknownStamp is returned by lookups of ids that were never interned.
	ErrUnknownStamp = errors.New("unknown stamp")

	// ErrSelfAlias is returned when a stamp is aliased to itself.
	ErrSelfAlias = errors.New("stamp cannot alias itself")

	// ErrStampConflict is returned when a restored id disagrees with an
	// already interned tuple.
	ErrStampConflict = errors.New("stamp id conflicts with interned tuple")
)
