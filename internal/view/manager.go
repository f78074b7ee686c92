package view

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/termvc/internal/path"
	"github.com/roach88/termvc/internal/stamp"
)

// Candidate is one stamp still in contention after latest-selection and
// precedence.
type Candidate struct {
	Stamp    stamp.ID
	Tuple    stamp.Tuple
	Position path.Position
}

// ErrUnresolvable is returned by managers that refuse to pick between tied
// candidates.
var ErrUnresolvable = errors.New("unresolvable contradiction")

// ContradictionManager reduces a set of tied candidates. It may return more
// than one candidate, in which case the caller receives a contradiction set.
type ContradictionManager interface {
	Name() string
	Resolve(coord Coordinate, candidates []Candidate) ([]Candidate, error)
}

// IsBuiltin reports whether m is one of this package's managers.
func IsBuiltin(m ContradictionManager) bool {
	switch m.(type) {
	case KeepAll, FirstWins, LastWins, ModulePriority, Strict:
		return true
	}
	return false
}

// KeepAll returns every tied candidate. Audit and compare tooling uses it to
// enumerate alternatives.
type KeepAll struct{}

func (KeepAll) Name() string { return "keep-all" }

func (KeepAll) Resolve(_ Coordinate, candidates []Candidate) ([]Candidate, error) {
	return candidates, nil
}

// FirstWins keeps the candidate with the lowest stamp id, i.e. the first
// stamp interned.
type FirstWins struct{}

func (FirstWins) Name() string { return "first-wins" }

func (FirstWins) Resolve(_ Coordinate, candidates []Candidate) ([]Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	best := slices.MinFunc(candidates, byStamp)
	return []Candidate{best}, nil
}

// LastWins keeps the candidate with the highest stamp id.
type LastWins struct{}

func (LastWins) Name() string { return "last-wins" }

func (LastWins) Resolve(_ Coordinate, candidates []Candidate) ([]Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	best := slices.MaxFunc(candidates, byStamp)
	return []Candidate{best}, nil
}

// ModulePriority keeps the candidates whose module comes first in the
// coordinate's module preference. Modules not listed rank last. Ties within
// the best module remain a contradiction.
type ModulePriority struct{}

func (ModulePriority) Name() string { return "module-priority" }

func (ModulePriority) Resolve(coord Coordinate, candidates []Candidate) ([]Candidate, error) {
	rank := func(m int) int {
		if i := slices.Index(coord.Modules, m); i >= 0 {
			return i
		}
		return len(coord.Modules)
	}

	best := -1
	var out []Candidate
	for _, c := range candidates {
		r := rank(c.Tuple.Module)
		switch {
		case best < 0 || r < best:
			best = r
			out = []Candidate{c}
		case r == best:
			out = append(out, c)
		}
	}
	return out, nil
}

// Strict fails on any tie.
type Strict struct{}

func (Strict) Name() string { return "strict" }

func (Strict) Resolve(_ Coordinate, candidates []Candidate) ([]Candidate, error) {
	if len(candidates) > 1 {
		return nil, ErrUnresolvable
	}
	return candidates, nil
}

// ManagerNames lists the names accepted by ParseManager.
var ManagerNames = []string{"keep-all", "first-wins", "last-wins", "module-priority", "strict"}

// ParseManager returns the manager with the given name. The empty string
// selects KeepAll.
func ParseManager(name string) (ContradictionManager, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "keep-all":
		return KeepAll{}, nil
	case "first-wins":
		return FirstWins{}, nil
	case "last-wins":
		return LastWins{}, nil
	case "module-priority":
		return ModulePriority{}, nil
	case "strict":
		return Strict{}, nil
	default:
		return nil, fmt.Errorf("unknown contradiction manager %q (want one of %s)", name, strings.Join(ManagerNames, ", "))
	}
}

func byStamp(a, b Candidate) int {
	switch {
	case a.Stamp < b.Stamp:
		return -1
	case a.Stamp > b.Stamp:
		return 1
	default:
		return 0
	}
}
