package stamp

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
)

// Registry interns stamp tuples.
//
// Reads (Resolve, Lookup, IsPublished, Canonical, Aliases) never take a
// lock. Interning uses LoadOrStore, so two goroutines interning the same
// tuple agree on one id. Alias updates are rare and copy-on-write.
type Registry struct {
	next    atomic.Int64
	byTuple sync.Map // Tuple -> ID
	byID    sync.Map // ID -> *entry

	aliasMu  sync.Mutex
	aliases  atomic.Pointer[aliasTable]
	aliasGen atomic.Uint64
}

// entry points at the publication flag of the batch it was committed in.
// Every stamp of a batch shares one flag, so the batch becomes visible in a
// single store.
type entry struct {
	tuple     Tuple
	published atomic.Pointer[atomic.Bool]
}

// released is the flag of stamps restored as already published.
var released = func() *atomic.Bool {
	b := new(atomic.Bool)
	b.Store(true)
	return b
}()

func (e *entry) isPublished() bool {
	flag := e.published.Load()
	return flag != nil && flag.Load()
}

// aliasTable is immutable once stored.
type aliasTable struct {
	root    map[ID]ID   // member -> canonical
	members map[ID][]ID // canonical -> sorted class, canonical included
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.aliases.Store(&aliasTable{root: map[ID]ID{}, members: map[ID][]ID{}})
	return r
}

// Intern returns the id for t, assigning a new one on first sight.
// Identical tuples always return the same id.
func (r *Registry) Intern(t Tuple) ID {
	if v, ok := r.byTuple.Load(t); ok {
		return v.(ID)
	}

	id := ID(r.next.Add(1))
	r.byID.Store(id, &entry{tuple: t})
	actual, loaded := r.byTuple.LoadOrStore(t, id)
	if loaded {
		// Lost the race; the orphaned id is never handed out.
		r.byID.Delete(id)
		return actual.(ID)
	}
	return id
}

// Restore registers a previously persisted stamp under its original id.
// Restoring the same (id, tuple) twice is a no-op.
func (r *Registry) Restore(id ID, t Tuple, published bool) error {
	if existing, ok := r.byTuple.Load(t); ok {
		if existing.(ID) != id {
			return fmt.Errorf("restore stamp %d: %w (interned as %d)", id, ErrStampConflict, existing.(ID))
		}
	}
	e := &entry{tuple: t}
	if published {
		e.published.Store(released)
	}
	if prior, loaded := r.byID.LoadOrStore(id, e); loaded {
		if prior.(*entry).tuple != t {
			return fmt.Errorf("restore stamp %d: %w", id, ErrStampConflict)
		}
		if published {
			prior.(*entry).published.Store(released)
		}
	}
	r.byTuple.Store(t, id)

	for {
		cur := r.next.Load()
		if int64(id) <= cur || r.next.CompareAndSwap(cur, int64(id)) {
			return nil
		}
	}
}

// Resolve returns the tuple for id in O(1).
// Resolving an id that was never interned is a programming error and panics.
func (r *Registry) Resolve(id ID) Tuple {
	t, ok := r.Lookup(id)
	if !ok {
		panic(fmt.Sprintf("stamp: resolve of unknown stamp %d", id))
	}
	return t
}

// Lookup returns the tuple for id, or false if id is unknown.
func (r *Registry) Lookup(id ID) (Tuple, bool) {
	v, ok := r.byID.Load(id)
	if !ok {
		return Tuple{}, false
	}
	return v.(*entry).tuple, true
}

// Find returns the id of an already interned tuple without interning it.
func (r *Registry) Find(t Tuple) (ID, bool) {
	v, ok := r.byTuple.Load(t)
	if !ok {
		return 0, false
	}
	return v.(ID), true
}

// Publish makes stamps visible to readers, all at once: a reader that sees
// any of ids published sees all of them. The commit pipeline calls it once
// every revision of a batch is in its chain.
func (r *Registry) Publish(ids ...ID) {
	flag := new(atomic.Bool)
	for _, id := range ids {
		v, ok := r.byID.Load(id)
		if !ok {
			continue
		}
		if e := v.(*entry); !e.isPublished() {
			e.published.Store(flag)
		}
	}
	flag.Store(true)
}

// IsPublished reports whether id has been published.
func (r *Registry) IsPublished(id ID) bool {
	v, ok := r.byID.Load(id)
	return ok && v.(*entry).isPublished()
}

// AddAlias records that alias denotes the same commit as canonical.
// Both classes are merged under canonical's root. Adding an alias that is
// already in canonical's class is a no-op.
func (r *Registry) AddAlias(canonical, alias ID) error {
	if canonical == alias {
		return ErrSelfAlias
	}
	if _, ok := r.Lookup(canonical); !ok {
		return fmt.Errorf("alias %d -> %d: %w", alias, canonical, ErrUnknownStamp)
	}
	if _, ok := r.Lookup(alias); !ok {
		return fmt.Errorf("alias %d -> %d: %w", alias, canonical, ErrUnknownStamp)
	}

	r.aliasMu.Lock()
	defer r.aliasMu.Unlock()

	cur := r.aliases.Load()
	rootC := cur.rootOf(canonical)
	rootA := cur.rootOf(alias)
	if rootC == rootA {
		return nil
	}

	next := &aliasTable{
		root:    make(map[ID]ID, len(cur.root)+2),
		members: make(map[ID][]ID, len(cur.members)+1),
	}
	for k, v := range cur.root {
		next.root[k] = v
	}
	for k, v := range cur.members {
		next.members[k] = v
	}

	merged := append(slices.Clone(cur.classOf(rootC)), cur.classOf(rootA)...)
	slices.Sort(merged)
	merged = slices.Compact(merged)
	for _, m := range merged {
		next.root[m] = rootC
	}
	delete(next.members, rootA)
	next.members[rootC] = merged

	r.aliases.Store(next)
	r.aliasGen.Add(1)
	return nil
}

// Canonical returns the canonical id of id's alias class (id itself when it
// has no aliases).
func (r *Registry) Canonical(id ID) ID {
	return r.aliases.Load().rootOf(id)
}

// Aliases returns every id equivalent to id, id included, in ascending order.
func (r *Registry) Aliases(id ID) []ID {
	t := r.aliases.Load()
	return slices.Clone(t.classOf(t.rootOf(id)))
}

// Equivalent reports whether a and b are in the same alias class.
func (r *Registry) Equivalent(a, b ID) bool {
	t := r.aliases.Load()
	return t.rootOf(a) == t.rootOf(b)
}

// AliasGeneration increases every time an alias class changes. Caches of
// resolution results use it to detect stale entries.
func (r *Registry) AliasGeneration() uint64 {
	return r.aliasGen.Load()
}

// AliasPair is one persisted alias edge.
type AliasPair struct {
	Canonical ID
	Alias     ID
}

// AliasPairs lists every non-canonical member with its canonical id,
// ordered by canonical then alias.
func (r *Registry) AliasPairs() []AliasPair {
	t := r.aliases.Load()
	var pairs []AliasPair
	for root, members := range t.members {
		for _, m := range members {
			if m != root {
				pairs = append(pairs, AliasPair{Canonical: root, Alias: m})
			}
		}
	}
	slices.SortFunc(pairs, func(a, b AliasPair) int {
		if c := cmp.Compare(a.Canonical, b.Canonical); c != 0 {
			return c
		}
		return cmp.Compare(a.Alias, b.Alias)
	})
	return pairs
}

// Len returns the number of interned stamps.
func (r *Registry) Len() int {
	n := 0
	r.byID.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (t *aliasTable) rootOf(id ID) ID {
	if root, ok := t.root[id]; ok {
		return root
	}
	return id
}

func (t *aliasTable) classOf(root ID) []ID {
	if m, ok := t.members[root]; ok {
		return m
	}
	return []ID{root}
}
