// Package resolve decides which version(s) of a component are visible to a
// reader.
//
// Resolution runs in six steps over one chain snapshot:
//
//  1. Candidate filtering: every published, committed chain entry (expanded
//     to its alias class) is admitted by each position it is visible from,
//     provided its module passes the module filter.
//  2. Grouping by admitting position.
//  3. Latest selection per position: greatest time wins; equal times tie.
//     The status filter is applied to these winners, so a newer retirement
//     hides an older active version instead of exposing it.
//  4. Precedence across positions: PATH takes the first position with a
//     winner, TIME takes the greatest time overall.
//  5. Residual ties go to the coordinate's contradiction manager.
//  6. Each survivor is materialized by folding the primordial fields with
//     the older revisions on its lineage.
package resolve

import (
	"cmp"
	"slices"

	"github.com/roach88/termvc/internal/chain"
	"github.com/roach88/termvc/internal/path"
	"github.com/roach88/termvc/internal/stamp"
	"github.com/roach88/termvc/internal/view"
)

// FoldFunc applies a revision delta to accumulated fields. It must not
// modify acc.
type FoldFunc[D any] func(acc, delta D) D

// Version is a materialized component state at one stamp.
type Version[D any] struct {
	Stamp  stamp.ID
	Tuple  stamp.Tuple
	Fields D
}

// Result holds zero, one, or (for a contradiction set) several versions,
// ordered by stamp id.
type Result[D any] struct {
	Versions []Version[D]
}

// IsAbsent reports that no version is visible. Absence is not an error.
func (r Result[D]) IsAbsent() bool {
	return len(r.Versions) == 0
}

// IsContradiction reports that several versions are equally valid.
func (r Result[D]) IsContradiction() bool {
	return len(r.Versions) > 1
}

// Single returns the only version, or false if the result is absent or a
// contradiction set.
func (r Result[D]) Single() (Version[D], bool) {
	if len(r.Versions) != 1 {
		return Version[D]{}, false
	}
	return r.Versions[0], true
}

// Resolver resolves chains of delta type D. It holds no per-call state and
// is safe for concurrent use.
type Resolver[D any] struct {
	stamps *stamp.Registry
	paths  *path.Graph
	fold   FoldFunc[D]
}

// New creates a resolver over a stamp registry and path graph.
func New[D any](stamps *stamp.Registry, paths *path.Graph, fold FoldFunc[D]) *Resolver[D] {
	return &Resolver[D]{stamps: stamps, paths: paths, fold: fold}
}

// candidate is a chain entry admitted by one position.
type candidate struct {
	entry    stamp.ID    // stamp stored in the chain
	tuple    stamp.Tuple // tuple of the admitting alias
	position int         // index into the coordinate's positions
}

// Resolve returns the versions of snap visible under coord. nid is used only
// for error reporting. A manager error is returned as *ContradictionError.
func (r *Resolver[D]) Resolve(nid int, snap chain.Snapshot[D], coord view.Coordinate) (Result[D], error) {
	memo := r.paths.NewMemo()
	entries := r.admissibleEntries(snap)

	// Steps 1-3: per position, keep the latest admitted entries.
	winners := make([][]candidate, len(coord.Positions))
	for _, id := range entries {
		for i, pos := range coord.Positions {
			c, ok := r.admit(id, pos, coord, memo)
			if !ok {
				continue
			}
			c.position = i
			switch best := winners[i]; {
			case len(best) == 0 || c.tuple.Time > best[0].tuple.Time:
				winners[i] = []candidate{c}
			case c.tuple.Time == best[0].tuple.Time:
				winners[i] = append(best, c)
			}
		}
	}
	for i := range winners {
		winners[i] = slices.DeleteFunc(winners[i], func(c candidate) bool {
			return !coord.AllowsStatus(c.tuple.Status)
		})
	}

	// Step 4: precedence.
	var survivors []candidate
	switch coord.Precedence {
	case view.PrecedenceTime:
		for _, group := range winners {
			for _, c := range group {
				switch {
				case len(survivors) == 0 || c.tuple.Time > survivors[0].tuple.Time:
					survivors = []candidate{c}
				case c.tuple.Time == survivors[0].tuple.Time:
					survivors = append(survivors, c)
				}
			}
		}
	default:
		for _, group := range winners {
			if len(group) > 0 {
				survivors = group
				break
			}
		}
	}
	survivors = dedupe(survivors)
	if len(survivors) == 0 {
		return Result[D]{}, nil
	}

	// Step 5: contradiction management.
	if len(survivors) > 1 {
		cands := make([]view.Candidate, len(survivors))
		for i, c := range survivors {
			cands[i] = view.Candidate{Stamp: c.entry, Tuple: c.tuple, Position: coord.Positions[c.position]}
		}
		kept, err := coord.ManagerOrDefault().Resolve(coord, cands)
		if err != nil {
			ids := make([]stamp.ID, len(cands))
			for i, c := range cands {
				ids[i] = c.Stamp
			}
			return Result[D]{}, &ContradictionError{Code: ErrCodeContradiction, Nid: nid, Candidates: ids, Err: err}
		}
		survivors = slices.DeleteFunc(survivors, func(c candidate) bool {
			return !slices.ContainsFunc(kept, func(k view.Candidate) bool { return k.Stamp == c.entry })
		})
	}

	// Step 6: materialize.
	out := Result[D]{Versions: make([]Version[D], 0, len(survivors))}
	for _, c := range survivors {
		v := r.materialize(snap, c.entry, c.tuple, memo)
		out.Versions = append(out.Versions, v)
	}
	slices.SortFunc(out.Versions, func(a, b Version[D]) int { return cmp.Compare(a.Stamp, b.Stamp) })
	return out, nil
}

// Materialize folds snap up to the entry with the given stamp, using the
// entry's own tuple and no module filter. It returns false if the stamp is
// not in the chain.
func (r *Resolver[D]) Materialize(snap chain.Snapshot[D], id stamp.ID) (Version[D], bool) {
	found := false
	for _, e := range snap.Entries() {
		if e.Stamp == id {
			found = true
			break
		}
	}
	if !found {
		return Version[D]{}, false
	}
	return r.materialize(snap, id, r.stamps.Resolve(id), r.paths.NewMemo()), true
}

// admissibleEntries returns the published, committed chain entries with
// alias duplicates collapsed to the lowest stamp id.
func (r *Resolver[D]) admissibleEntries(snap chain.Snapshot[D]) []stamp.ID {
	seen := make(map[stamp.ID]bool, snap.Len())
	ids := snap.Stamps()
	slices.Sort(ids)

	out := make([]stamp.ID, 0, len(ids))
	for _, id := range ids {
		if !r.stamps.IsPublished(id) || r.stamps.Resolve(id).Uncommitted() {
			continue
		}
		root := r.stamps.Canonical(id)
		if seen[root] {
			continue
		}
		seen[root] = true
		out = append(out, id)
	}
	return out
}

// admit checks whether any alias of id is admitted at pos. When several
// aliases are, the latest one is used (lowest id on equal times).
func (r *Resolver[D]) admit(id stamp.ID, pos path.Position, coord view.Coordinate, memo *path.Memo) (candidate, bool) {
	var best candidate
	ok := false
	for _, alias := range r.stamps.Aliases(id) {
		t, known := r.stamps.Lookup(alias)
		if !known || t.Uncommitted() || !coord.AllowsModule(t.Module) {
			continue
		}
		if !memo.IsVisible(t.Path, t.Time, pos) {
			continue
		}
		if !ok || t.Time > best.tuple.Time {
			best = candidate{entry: id, tuple: t}
			ok = true
		}
	}
	return best, ok
}

// materialize folds the primordial fields with every revision older than
// the winner that is visible from the winner's own position, oldest first,
// and finally the winner itself. Revisions with the winner's time are not
// folded: they are its competitors, not its history. Module preference
// picks winners only; history from every module is folded.
func (r *Resolver[D]) materialize(snap chain.Snapshot[D], winner stamp.ID, wt stamp.Tuple, memo *path.Memo) Version[D] {
	fields := snap.Primordial.Delta
	if winner == snap.Primordial.Stamp {
		return Version[D]{Stamp: winner, Tuple: wt, Fields: fields}
	}

	at := path.Position{Path: wt.Path, Time: wt.Time}
	type step struct {
		id    stamp.ID
		time  int64
		delta D
	}
	var history []step
	var winnerDelta D
	for _, rev := range snap.Revisions {
		if rev.Stamp == winner {
			winnerDelta = rev.Delta
			continue
		}
		if !r.stamps.IsPublished(rev.Stamp) {
			continue
		}
		t := r.stamps.Resolve(rev.Stamp)
		if t.Uncommitted() || t.Time >= wt.Time {
			continue
		}
		if !memo.IsVisible(t.Path, t.Time, at) {
			continue
		}
		history = append(history, step{id: rev.Stamp, time: t.Time, delta: rev.Delta})
	}
	slices.SortFunc(history, func(a, b step) int {
		if c := cmp.Compare(a.time, b.time); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})

	for _, s := range history {
		fields = r.fold(fields, s.delta)
	}
	fields = r.fold(fields, winnerDelta)
	return Version[D]{Stamp: winner, Tuple: wt, Fields: fields}
}

// dedupe drops repeated entries (an entry admitted by several positions)
// keeping the first occurrence.
func dedupe(cs []candidate) []candidate {
	if len(cs) < 2 {
		return cs
	}
	out := make([]candidate, 0, len(cs))
	for _, c := range cs {
		if !slices.ContainsFunc(out, func(o candidate) bool { return o.entry == c.entry }) {
			out = append(out, c)
		}
	}
	return out
}
