// Package path models editorial branches (paths) and decides which commit
// times on one path are visible from a position on another.
//
// A path's history before its own first commit is inherited from its
// origins: an origin (P, T) means "everything on P up to time T". Origins
// form a DAG; cycles are rejected when the offending edge is added.
package path

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// Latest is the position time meaning "as of now". It is greater than every
// real commit time and less than the uncommitted sentinel, so uncommitted
// revisions are never visible through a position.
const Latest int64 = math.MaxInt64 - 1

// Origin is an inheritance edge: history of Path up to and including Time.
type Origin struct {
	Path int   `json:"path" yaml:"path"`
	Time int64 `json:"time" yaml:"time"`
}

// Path is an editorial branch.
type Path struct {
	ID      int      `json:"id" yaml:"id"`
	Name    string   `json:"name" yaml:"name"`
	Origins []Origin `json:"origins" yaml:"origins,omitempty"`
}

// Position is a cut point on a path.
type Position struct {
	Path int   `json:"path"`
	Time int64 `json:"time"`
}

// String renders the position as "path@time".
func (p Position) String() string {
	if p.Time == Latest {
		return fmt.Sprintf("%d@latest", p.Path)
	}
	return fmt.Sprintf("%d@%d", p.Path, p.Time)
}

// Graph holds the path DAG.
//
// Reads work on an immutable snapshot loaded from an atomic pointer and never
// block. Writers serialize on a mutex and publish a new snapshot.
type Graph struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

type snapshot struct {
	paths  map[int]Path
	byName map[string]int
}

// NewGraph creates an empty path graph.
func NewGraph() *Graph {
	g := &Graph{}
	g.snap.Store(&snapshot{paths: map[int]Path{}, byName: map[string]int{}})
	return g
}

// AddPath registers a new path. Every origin must refer to an already
// defined path, so a new path can never close a cycle except through itself.
func (g *Graph) AddPath(p Path) error {
	if p.ID <= 0 {
		return &ConfigurationError{Code: ErrCodeInvalidPath, Message: fmt.Sprintf("path id must be positive, got %d", p.ID)}
	}
	if strings.TrimSpace(p.Name) == "" {
		p.Name = fmt.Sprintf("path-%d", p.ID)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	cur := g.snap.Load()
	if _, exists := cur.paths[p.ID]; exists {
		return &ConfigurationError{Code: ErrCodeDuplicatePath, Message: fmt.Sprintf("path %d already defined", p.ID)}
	}
	if _, exists := cur.byName[p.Name]; exists {
		return &ConfigurationError{Code: ErrCodeDuplicatePath, Message: fmt.Sprintf("path name %q already defined", p.Name)}
	}
	for _, o := range p.Origins {
		if o.Path == p.ID {
			return &ConfigurationError{
				Code:    ErrCodeCycle,
				Message: fmt.Sprintf("path %q cannot originate from itself", p.Name),
				Cycle:   []string{p.Name, p.Name},
			}
		}
		if _, ok := cur.paths[o.Path]; !ok {
			return unknownPath(o.Path)
		}
	}

	next := cur.clone()
	p.Origins = slices.Clone(p.Origins)
	next.paths[p.ID] = p
	next.byName[p.Name] = p.ID
	g.snap.Store(next)
	return nil
}

// AddOrigin adds an origin edge to an existing path. The edge is rejected
// with a PATH_CYCLE error if it would make the origin graph cyclic.
// Adding an identical edge twice is a no-op.
func (g *Graph) AddOrigin(pathID int, o Origin) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	cur := g.snap.Load()
	p, ok := cur.paths[pathID]
	if !ok {
		return unknownPath(pathID)
	}
	if _, ok := cur.paths[o.Path]; !ok {
		return unknownPath(o.Path)
	}
	if slices.Contains(p.Origins, o) {
		return nil
	}

	next := cur.clone()
	p.Origins = append(slices.Clone(p.Origins), o)
	next.paths[pathID] = p

	if cycle := findCycle(next.edges()); cycle != nil {
		names := make([]string, len(cycle))
		for i, id := range cycle {
			names[i] = next.paths[id].Name
		}
		return &ConfigurationError{
			Code:    ErrCodeCycle,
			Message: fmt.Sprintf("origin %d@%d on path %q closes a cycle: %s", o.Path, o.Time, p.Name, strings.Join(names, " -> ")),
			Cycle:   names,
		}
	}

	g.snap.Store(next)
	return nil
}

// Get returns the path with the given id.
func (g *Graph) Get(id int) (Path, bool) {
	p, ok := g.snap.Load().paths[id]
	return p, ok
}

// Lookup returns the path with the given name.
func (g *Graph) Lookup(name string) (Path, bool) {
	s := g.snap.Load()
	id, ok := s.byName[name]
	if !ok {
		return Path{}, false
	}
	return s.paths[id], true
}

// Has reports whether id is a defined path.
func (g *Graph) Has(id int) bool {
	_, ok := g.snap.Load().paths[id]
	return ok
}

// Paths returns all paths ordered by id.
func (g *Graph) Paths() []Path {
	s := g.snap.Load()
	out := make([]Path, 0, len(s.paths))
	for _, p := range s.paths {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Path) int { return a.ID - b.ID })
	return out
}

// IsVisible reports whether a stamp at (candidatePath, candidateTime) is
// visible from pos. For many checks in one resolution, use a Memo.
func (g *Graph) IsVisible(candidatePath int, candidateTime int64, pos Position) bool {
	return g.NewMemo().IsVisible(candidatePath, candidateTime, pos)
}

func (s *snapshot) clone() *snapshot {
	next := &snapshot{
		paths:  make(map[int]Path, len(s.paths)+1),
		byName: make(map[string]int, len(s.byName)+1),
	}
	for k, v := range s.paths {
		next.paths[k] = v
	}
	for k, v := range s.byName {
		next.byName[k] = v
	}
	return next
}

// edges maps each path to the paths it originates from.
func (s *snapshot) edges() map[int][]int {
	edges := make(map[int][]int, len(s.paths))
	for id, p := range s.paths {
		targets := make([]int, 0, len(p.Origins))
		for _, o := range p.Origins {
			targets = append(targets, o.Path)
		}
		edges[id] = targets
	}
	return edges
}
