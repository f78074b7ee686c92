package engine

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/termvc/internal/chain"
	"github.com/roach88/termvc/internal/changeset"
	"github.com/roach88/termvc/internal/component"
	"github.com/roach88/termvc/internal/field"
	"github.com/roach88/termvc/internal/metrics"
	"github.com/roach88/termvc/internal/path"
	"github.com/roach88/termvc/internal/resolve"
	"github.com/roach88/termvc/internal/stamp"
	"github.com/roach88/termvc/internal/store"
)

const (
	// DefaultCacheSize is the default number of cached resolutions.
	DefaultCacheSize = 4096

	// DefaultIndexWorkers is the default size of the index-sync pool.
	DefaultIndexWorkers = 2
)

// Engine is the versioned component store.
//
// Thread-safety model:
//   - BeginEdit, Commit, Resolve, History, ApplyRecord: safe from any goroutine
//   - Commits touching different components proceed in parallel; only
//     commit time assignment is serialized
//   - Close: call once, after which commits fail with ErrEngineClosed
type Engine struct {
	stamps   *stamp.Registry
	paths    *path.Graph
	clock    stamp.Clock
	resolver *resolve.Resolver[field.Object]

	store     *store.Store
	changeset *changeset.Writer
	metrics   *metrics.Metrics
	logger    *slog.Logger
	uuids     UUIDGenerator

	components sync.Map // nid -> *record
	byUUID     sync.Map // uuid.UUID -> *record
	nextNid    atomic.Int64
	count      atomic.Int64

	pathMu  sync.Mutex // serializes path and alias persistence
	pathGen atomic.Uint64

	cache     *lru.Cache[cacheKey, cacheEntry]
	cacheSize int

	checkers []Checker
	hooks    []IndexHook
	queue    *hookQueue
	workers  int
	retry    RetryPolicy
	wg       sync.WaitGroup

	inflightMu sync.Mutex
	inflight   int
	idle       chan struct{} // closed while inflight == 0

	closed atomic.Bool
}

// record is the in-memory state of one component.
type record struct {
	nid   int
	uuid  uuid.UUID
	kind  component.Kind
	chain *chain.Chain[field.Object]
	// gen is odd while a change to the chain's published contents is in
	// flight and even otherwise.
	gen atomic.Uint64
}

// beginChange marks rec as changing. Cached results are bypassed until
// endChange.
func (r *record) beginChange() { r.gen.Add(1) }

func (r *record) endChange() { r.gen.Add(1) }

// Option configures an Engine.
type Option func(*Engine)

// WithStore makes commits durable and loads existing state at startup.
func WithStore(s *store.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithClock replaces the wall-clock commit sequence.
func WithClock(c stamp.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRegistry supplies the stamp registry. Useful when several engines in
// a test must agree on stamp ids.
func WithRegistry(r *stamp.Registry) Option {
	return func(e *Engine) { e.stamps = r }
}

// WithPathGraph supplies the path graph.
func WithPathGraph(g *path.Graph) Option {
	return func(e *Engine) { e.paths = g }
}

// WithChecker adds a change checker after the built-in ones.
func WithChecker(c Checker) Option {
	return func(e *Engine) { e.checkers = append(e.checkers, c) }
}

// WithIndexHook registers a hook run after every successful commit.
func WithIndexHook(h IndexHook) Option {
	return func(e *Engine) { e.hooks = append(e.hooks, h) }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithCacheSize sets the resolve cache capacity. Zero disables the cache.
func WithCacheSize(n int) Option {
	return func(e *Engine) { e.cacheSize = n }
}

// WithChangesetWriter appends every committed component to w.
func WithChangesetWriter(w *changeset.Writer) Option {
	return func(e *Engine) { e.changeset = w }
}

// WithMetrics records engine metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithUUIDGenerator sets the source of public component ids.
func WithUUIDGenerator(g UUIDGenerator) Option {
	return func(e *Engine) { e.uuids = g }
}

// WithIndexWorkers sets the index-sync pool size.
func WithIndexWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithRetryPolicy sets the index-sync retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Engine) { e.retry = p }
}

// New creates an engine, loads the store if one is configured and starts
// the index-sync workers.
func New(ctx context.Context, opts ...Option) (*Engine, error) {
	e := &Engine{
		stamps:    stamp.NewRegistry(),
		paths:     path.NewGraph(),
		clock:     stamp.NewSequence(),
		logger:    slog.Default(),
		uuids:     UUIDv7Generator{},
		cacheSize: DefaultCacheSize,
		workers:   DefaultIndexWorkers,
		retry:     DefaultRetryPolicy(),
		queue:     newHookQueue(),
		idle:      make(chan struct{}),
	}
	close(e.idle)
	e.checkers = []Checker{SchemaChecker{}, ReferenceChecker{Known: e.known}}

	for _, opt := range opts {
		opt(e)
	}

	e.resolver = resolve.New(e.stamps, e.paths, func(acc, delta field.Object) field.Object {
		return acc.Apply(delta)
	})

	if e.cacheSize > 0 {
		cache, err := lru.New[cacheKey, cacheEntry](e.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("create resolve cache: %w", err)
		}
		e.cache = cache
	}

	if e.store != nil {
		if err := e.load(ctx); err != nil {
			return nil, err
		}
	}

	for range max(e.workers, 1) {
		e.wg.Add(1)
		go e.runWorker()
	}

	e.logger.Info("engine started",
		"components", e.count.Load(),
		"stamps", e.stamps.Len(),
		"paths", len(e.paths.Paths()),
		"hooks", len(e.hooks),
	)
	return e, nil
}

// load restores stamps, aliases, paths and chains from the store.
func (e *Engine) load(ctx context.Context) error {
	snap, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load store: %w", err)
	}

	var maxTime int64
	for _, st := range snap.Stamps {
		if err := e.stamps.Restore(st.ID, st.Tuple, true); err != nil {
			return fmt.Errorf("load store: %w", err)
		}
		maxTime = max(maxTime, st.Tuple.Time)
	}
	for _, a := range snap.Aliases {
		if err := e.stamps.AddAlias(a.Canonical, a.Alias); err != nil {
			return fmt.Errorf("load store: alias %d -> %d: %w", a.Alias, a.Canonical, err)
		}
	}

	// Origins may point at paths defined later, so add every path bare first.
	for _, p := range snap.Paths {
		if err := e.paths.AddPath(path.Path{ID: p.ID, Name: p.Name}); err != nil {
			return fmt.Errorf("load store: %w", err)
		}
	}
	for _, p := range snap.Paths {
		for _, o := range p.Origins {
			if err := e.paths.AddOrigin(p.ID, o); err != nil {
				return fmt.Errorf("load store: %w", err)
			}
		}
	}

	maxNid := 0
	for _, c := range snap.Components {
		rec := e.newRecord(c.Nid, c.UUID, c.Kind, c.Primordial, c.Fields)
		e.components.Store(c.Nid, rec)
		e.byUUID.Store(c.UUID, rec)
		e.count.Add(1)
		maxNid = max(maxNid, c.Nid)
	}
	for _, r := range snap.Revisions {
		v, ok := e.components.Load(r.Nid)
		if !ok {
			return fmt.Errorf("load store: revision %d of unknown component %d", r.Stamp, r.Nid)
		}
		v.(*record).chain.AddRevision(r.Stamp, r.Delta)
	}

	e.nextNid.Store(int64(maxNid))
	e.clock.Observe(maxTime)
	e.metrics.SetComponents(int(e.count.Load()))
	return nil
}

func (e *Engine) newRecord(nid int, id uuid.UUID, kind component.Kind, primordial stamp.ID, fields field.Object) *record {
	return &record{
		nid:   nid,
		uuid:  id,
		kind:  kind,
		chain: chain.New(primordial, fields, chain.WithEquivalence(e.stamps.Equivalent)),
	}
}

// Close stops accepting commits, drains queued index-sync jobs and waits
// for the workers. It does not close the store or changeset writer.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.queue.Close()
	e.wg.Wait()
	e.logger.Info("engine stopped")
	return nil
}

// Stamps returns the stamp registry.
func (e *Engine) Stamps() *stamp.Registry {
	return e.stamps
}

// Paths returns the path graph.
func (e *Engine) Paths() *path.Graph {
	return e.paths
}

// Component describes one component without resolving it.
type Component struct {
	Nid        int
	UUID       uuid.UUID
	Kind       component.Kind
	Primordial stamp.ID
	// Revisions counts chain entries after the primordial, published or not.
	Revisions int
}

func (r *record) info() Component {
	snap := r.chain.Snapshot()
	return Component{
		Nid:        r.nid,
		UUID:       r.uuid,
		Kind:       r.kind,
		Primordial: snap.Primordial.Stamp,
		Revisions:  len(snap.Revisions),
	}
}

// Component returns the component with the given nid.
func (e *Engine) Component(nid int) (Component, bool) {
	rec, ok := e.lookup(nid)
	if !ok {
		return Component{}, false
	}
	return rec.info(), true
}

// Components lists every component with a published primordial, ordered
// by nid.
func (e *Engine) Components() []Component {
	var out []Component
	e.components.Range(func(_, v any) bool {
		rec := v.(*record)
		if e.stamps.IsPublished(rec.chain.Primordial()) {
			out = append(out, rec.info())
		}
		return true
	})
	slices.SortFunc(out, func(a, b Component) int { return cmp.Compare(a.Nid, b.Nid) })
	return out
}

// NidFor maps a public component id to its nid.
func (e *Engine) NidFor(id uuid.UUID) (int, bool) {
	v, ok := e.byUUID.Load(id)
	if !ok {
		return 0, false
	}
	return v.(*record).nid, true
}

// known reports whether id names a component with a published primordial.
func (e *Engine) known(id uuid.UUID) bool {
	v, ok := e.byUUID.Load(id)
	return ok && e.stamps.IsPublished(v.(*record).chain.Primordial())
}

func (e *Engine) lookup(nid int) (*record, bool) {
	v, ok := e.components.Load(nid)
	if !ok {
		return nil, false
	}
	return v.(*record), true
}

func (e *Engine) allocNid() int {
	return int(e.nextNid.Add(1))
}
