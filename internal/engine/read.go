package engine

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/termvc/internal/field"
	"github.com/roach88/termvc/internal/resolve"
	"github.com/roach88/termvc/internal/view"
)

// Result is a resolution outcome: absent, one version, or a contradiction
// set.
type Result = resolve.Result[field.Object]

// Version is one materialized component version.
type Version = resolve.Version[field.Object]

type cacheKey struct {
	nid   int
	coord string
}

// cacheEntry is valid while all three generations are unchanged.
type cacheEntry struct {
	gen      uint64
	aliasGen uint64
	pathGen  uint64
	result   Result
}

// Resolve returns the versions of nid visible under coord.
//
// Absence is not an error. A contradiction the coordinate's manager cannot
// settle returns a *resolve.ContradictionError.
func (e *Engine) Resolve(nid int, coord view.Coordinate) (Result, error) {
	if err := coord.Validate(); err != nil {
		return Result{}, err
	}
	rec, ok := e.lookup(nid)
	if !ok {
		return Result{}, fmt.Errorf("resolve %d: %w", nid, ErrUnknownComponent)
	}

	// Generations are read before the snapshot, so a cached result can only
	// be older than its generations claim, never newer. An odd gen means a
	// batch touching rec is being published; the cache is skipped both ways,
	// as it is for managers the key cannot identify.
	key := cacheKey{nid: nid, coord: coord.Key()}
	gen := rec.gen.Load()
	aliasGen := e.stamps.AliasGeneration()
	pathGen := e.pathGen.Load()
	cacheable := e.cache != nil && gen%2 == 0 && coord.Cacheable()

	if cacheable {
		if ent, ok := e.cache.Get(key); ok && ent.gen == gen && ent.aliasGen == aliasGen && ent.pathGen == pathGen {
			e.metrics.RecordCacheLookup(true)
			e.metrics.RecordResolve(resultLabel(ent.result), 0)
			return copyResult(ent.result), nil
		}
		e.metrics.RecordCacheLookup(false)
	}

	start := time.Now()
	res, err := e.resolver.Resolve(nid, rec.chain.Snapshot(), coord)
	if err != nil {
		e.metrics.RecordResolve("error", time.Since(start))
		if resolve.IsContradictionError(err) {
			e.logger.Warn("contradiction surfaced",
				"nid", nid,
				"manager", coord.ManagerOrDefault().Name(),
				"error", err,
			)
		}
		return Result{}, err
	}
	e.metrics.RecordResolve(resultLabel(res), time.Since(start))

	if cacheable && rec.gen.Load() == gen {
		e.cache.Add(key, cacheEntry{gen: gen, aliasGen: aliasGen, pathGen: pathGen, result: res})
	}
	return copyResult(res), nil
}

// ResolveUUID resolves a component by its public id.
func (e *Engine) ResolveUUID(id uuid.UUID, coord view.Coordinate) (Result, error) {
	nid, ok := e.NidFor(id)
	if !ok {
		return Result{}, fmt.Errorf("resolve %s: %w", id, ErrUnknownComponent)
	}
	return e.Resolve(nid, coord)
}

// History returns every published version of nid, one per chain entry,
// ordered by commit time then stamp id. Each version folds the entries
// visible from its own position.
func (e *Engine) History(nid int) ([]Version, error) {
	rec, ok := e.lookup(nid)
	if !ok {
		return nil, fmt.Errorf("history %d: %w", nid, ErrUnknownComponent)
	}

	snap := rec.chain.Snapshot()
	var out []Version
	for _, entry := range snap.Entries() {
		if !e.stamps.IsPublished(entry.Stamp) {
			continue
		}
		if v, ok := e.resolver.Materialize(snap, entry.Stamp); ok {
			out = append(out, v)
		}
	}
	slices.SortFunc(out, func(a, b Version) int {
		if c := cmp.Compare(a.Tuple.Time, b.Tuple.Time); c != 0 {
			return c
		}
		return cmp.Compare(a.Stamp, b.Stamp)
	})
	return out, nil
}

// CacheLen returns the number of cached resolutions.
func (e *Engine) CacheLen() int {
	if e.cache == nil {
		return 0
	}
	return e.cache.Len()
}

func resultLabel(r Result) string {
	switch {
	case r.IsAbsent():
		return "absent"
	case r.IsContradiction():
		return "contradiction"
	default:
		return "single"
	}
}

// copyResult detaches the version slice from the cache. Field objects are
// shared and must not be modified by callers.
func copyResult(r Result) Result {
	return Result{Versions: slices.Clone(r.Versions)}
}
