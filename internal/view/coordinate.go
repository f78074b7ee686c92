// Package view defines the reader-side filter applied when resolving a
// component: which statuses and modules count, which path positions bound
// the view, how candidates from different positions are ranked, and what to
// do with a genuine tie.
package view

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/termvc/internal/path"
	"github.com/roach88/termvc/internal/stamp"
)

// Precedence decides between winners admitted by different positions.
type Precedence uint8

const (
	// PrecedencePath prefers the winner of the earliest listed position.
	PrecedencePath Precedence = iota
	// PrecedenceTime prefers the winner with the greatest commit time.
	PrecedenceTime
)

// String returns "path" or "time".
func (p Precedence) String() string {
	switch p {
	case PrecedencePath:
		return "path"
	case PrecedenceTime:
		return "time"
	default:
		return fmt.Sprintf("precedence(%d)", uint8(p))
	}
}

// ParsePrecedence parses "path" or "time". The empty string means path.
func ParsePrecedence(s string) (Precedence, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "path":
		return PrecedencePath, nil
	case "time":
		return PrecedenceTime, nil
	default:
		return 0, fmt.Errorf("unknown precedence %q (want path or time)", s)
	}
}

// PositionSet is an ordered list of positions. Order matters for
// PrecedencePath.
type PositionSet []path.Position

// Coordinate is the full reader-side filter.
type Coordinate struct {
	// Statuses admitted. Empty admits every status.
	Statuses []stamp.Status
	// Positions bounding the view. At least one is required.
	Positions PositionSet
	// Modules admitted, in preference order. Empty admits every module.
	Modules    []int
	Precedence Precedence
	// Manager handles residual ties. Nil means KeepAll.
	Manager ContradictionManager
}

// ErrNoPositions is returned by Validate for a coordinate without positions.
var ErrNoPositions = errors.New("view coordinate needs at least one position")

// Latest returns a coordinate reading the latest state of one path with
// every status admitted.
func Latest(pathID int) Coordinate {
	return Coordinate{Positions: PositionSet{{Path: pathID, Time: path.Latest}}}
}

// Validate checks the coordinate is usable.
func (c Coordinate) Validate() error {
	if len(c.Positions) == 0 {
		return ErrNoPositions
	}
	for _, s := range c.Statuses {
		if !s.Valid() {
			return fmt.Errorf("invalid status %d in view coordinate", s)
		}
	}
	if c.Precedence != PrecedencePath && c.Precedence != PrecedenceTime {
		return fmt.Errorf("invalid precedence %d in view coordinate", c.Precedence)
	}
	return nil
}

// AllowsStatus reports whether s passes the status filter.
func (c Coordinate) AllowsStatus(s stamp.Status) bool {
	return len(c.Statuses) == 0 || slices.Contains(c.Statuses, s)
}

// AllowsModule reports whether m passes the module filter.
func (c Coordinate) AllowsModule(m int) bool {
	return len(c.Modules) == 0 || slices.Contains(c.Modules, m)
}

// ManagerOrDefault returns the configured manager or KeepAll.
func (c Coordinate) ManagerOrDefault() ContradictionManager {
	if c.Manager == nil {
		return KeepAll{}
	}
	return c.Manager
}

// Cacheable reports whether Key fully identifies the coordinate's
// behaviour. Only built-in managers are known by name; a coordinate with
// any other manager must not share cached results.
func (c Coordinate) Cacheable() bool {
	return IsBuiltin(c.ManagerOrDefault())
}

// Key returns a stable string identifying the coordinate, suitable as a
// cache key when Cacheable. Status and module sets are order-normalized
// where order does not change the meaning; positions keep their order.
func (c Coordinate) Key() string {
	var b strings.Builder

	statuses := slices.Clone(c.Statuses)
	slices.Sort(statuses)
	statuses = slices.Compact(statuses)
	b.WriteString("s=")
	for i, s := range statuses {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s.String())
	}

	b.WriteString(";p=")
	for i, p := range c.Positions {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.String())
	}

	// Module order is significant to ModulePriority.
	b.WriteString(";m=")
	for i, m := range c.Modules {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(m))
	}

	b.WriteString(";prec=")
	b.WriteString(c.Precedence.String())
	b.WriteString(";cm=")
	b.WriteString(c.ManagerOrDefault().Name())
	return b.String()
}
