package path

// Frontier maps each path reachable from a position to the greatest time on
// that path that is visible from the position.
type Frontier map[int]int64

// Visible reports whether time t on path p lies inside the frontier.
func (f Frontier) Visible(p int, t int64) bool {
	cutoff, ok := f[p]
	return ok && t <= cutoff
}

// Memo caches frontiers per (path, time) pair for the lifetime of one
// resolution call. Diamond-shaped origin graphs reach the same origin
// position through several routes; the memo computes each once.
//
// A Memo reads one snapshot of the graph and is not safe for concurrent use.
type Memo struct {
	snap      *snapshot
	frontiers map[Position]Frontier
}

// NewMemo starts a memo over the current graph snapshot.
func (g *Graph) NewMemo() *Memo {
	return &Memo{
		snap:      g.snap.Load(),
		frontiers: make(map[Position]Frontier),
	}
}

// IsVisible reports whether a stamp at (candidatePath, candidateTime) is
// visible from pos: on pos.Path it must not be later than pos.Time; on any
// other path it must be visible through some origin edge, where each origin
// (P, T) contributes P's history up to min(T, pos.Time).
func (m *Memo) IsVisible(candidatePath int, candidateTime int64, pos Position) bool {
	return m.Frontier(pos).Visible(candidatePath, candidateTime)
}

// Frontier returns the visibility frontier of pos. The returned map is
// shared with the memo and must not be modified.
func (m *Memo) Frontier(pos Position) Frontier {
	if f, ok := m.frontiers[pos]; ok {
		return f
	}

	f := Frontier{pos.Path: pos.Time}
	if p, ok := m.snap.paths[pos.Path]; ok {
		for _, o := range p.Origins {
			sub := m.Frontier(Position{Path: o.Path, Time: min(o.Time, pos.Time)})
			for path, cutoff := range sub {
				if cur, ok := f[path]; !ok || cutoff > cur {
					f[path] = cutoff
				}
			}
		}
	}

	m.frontiers[pos] = f
	return f
}
