package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/termvc/internal/component"
	"github.com/roach88/termvc/internal/field"
	"github.com/roach88/termvc/internal/metrics"
	"github.com/roach88/termvc/internal/path"
	"github.com/roach88/termvc/internal/resolve"
	"github.com/roach88/termvc/internal/stamp"
	"github.com/roach88/termvc/internal/store"
	"github.com/roach88/termvc/internal/testutil"
	"github.com/roach88/termvc/internal/view"
)

const (
	mainPath    = 1
	featurePath = 2
)

var (
	alice = Session{Author: 1, Module: 1, Path: mainPath}
	bob   = Session{Author: 2, Module: 1, Path: mainPath}
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEngine creates an engine with paths main and feature (branched
// from main at 150) and a clock that commits at 100, 200, 300...
func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithClock(testutil.NewDeterministicClockAt(0, 100)),
		WithUUIDGenerator(testutil.NewSequentialUUIDs()),
		WithLogger(quietLogger()),
	}
	e, err := New(context.Background(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	ctx := context.Background()
	if !e.Paths().Has(mainPath) {
		require.NoError(t, e.AddPath(ctx, path.Path{ID: mainPath, Name: "main"}))
		require.NoError(t, e.AddPath(ctx, path.Path{
			ID:      featurePath,
			Name:    "feature",
			Origins: []path.Origin{{Path: mainPath, Time: 150}},
		}))
	}
	return e
}

func commit(t *testing.T, e *Engine, h *EditHandle) CommitRecord {
	t.Helper()
	cr, err := e.Commit(context.Background(), h)
	require.NoError(t, err)
	return cr
}

func createConcept(t *testing.T, e *Engine, s Session) int {
	t.Helper()
	h, err := e.BeginEdit(s)
	require.NoError(t, err)
	nid, _, err := h.Create(component.KindConcept, testutil.Concept(false))
	require.NoError(t, err)
	commit(t, e, h)
	return nid
}

func at(pathID int, time int64, statuses ...stamp.Status) view.Coordinate {
	return view.Coordinate{
		Statuses:  statuses,
		Positions: view.PositionSet{{Path: pathID, Time: time}},
	}
}

func single(t *testing.T, res Result) Version {
	t.Helper()
	v, ok := res.Single()
	require.True(t, ok, "expected exactly one version, got %d", len(res.Versions))
	return v
}

func TestCommit_CreateAndResolve(t *testing.T) {
	e := newTestEngine(t)

	h, err := e.BeginEdit(alice)
	require.NoError(t, err)
	nid, id, err := h.Create(component.KindConcept, testutil.Concept(true))
	require.NoError(t, err)

	cr := commit(t, e, h)
	assert.Equal(t, int64(100), cr.Time)
	assert.Equal(t, []int{nid}, cr.Nids)
	assert.Equal(t, testutil.SeqUUID(1), id)
	assert.Equal(t, StateCommitted, h.State())

	v := single(t, must(e.Resolve(nid, view.Latest(mainPath))))
	assert.Equal(t, stamp.Tuple{Status: stamp.Active, Time: 100, Author: 1, Module: 1, Path: mainPath}, v.Tuple)
	assert.Equal(t, testutil.Concept(true), v.Fields)

	got, ok := e.NidFor(id)
	require.True(t, ok)
	assert.Equal(t, nid, got)

	info, ok := e.Component(nid)
	require.True(t, ok)
	assert.Equal(t, component.KindConcept, info.Kind)
	assert.Equal(t, cr.Stamps[0], info.Primordial)
}

func must(res Result, err error) Result {
	if err != nil {
		panic(err)
	}
	return res
}

func TestRetirementScenario(t *testing.T) {
	e := newTestEngine(t)
	nid := createConcept(t, e, alice) // t=100

	h, err := e.BeginEdit(alice)
	require.NoError(t, err)
	require.NoError(t, h.Retire(nid))
	commit(t, e, h) // t=200

	both := []stamp.Status{stamp.Active, stamp.Inactive}

	v := single(t, must(e.Resolve(nid, at(mainPath, 150, both...))))
	assert.Equal(t, stamp.Active, v.Tuple.Status)
	assert.Equal(t, int64(100), v.Tuple.Time)

	v = single(t, must(e.Resolve(nid, at(mainPath, 250, both...))))
	assert.Equal(t, stamp.Inactive, v.Tuple.Status)
	assert.Equal(t, int64(200), v.Tuple.Time)
	assert.Equal(t, testutil.Concept(false), v.Fields, "retirement keeps the fields")

	res, err := e.Resolve(nid, at(mainPath, 250, stamp.Active))
	require.NoError(t, err)
	assert.True(t, res.IsAbsent())
}

func TestEditKeepsStatusUnlessChanged(t *testing.T) {
	e := newTestEngine(t)
	nid := createConcept(t, e, alice)

	h, _ := e.BeginEdit(alice)
	require.NoError(t, h.Retire(nid))
	commit(t, e, h)

	h, _ = e.BeginEdit(alice)
	require.NoError(t, h.SetField(nid, "defined", field.Bool(true)))
	commit(t, e, h)

	v := single(t, must(e.Resolve(nid, view.Latest(mainPath))))
	assert.Equal(t, stamp.Inactive, v.Tuple.Status)
	assert.Equal(t, testutil.Concept(true), v.Fields)

	h, _ = e.BeginEdit(alice)
	require.NoError(t, h.Activate(nid))
	commit(t, e, h)

	v = single(t, must(e.Resolve(nid, view.Latest(mainPath))))
	assert.Equal(t, stamp.Active, v.Tuple.Status)
}

func TestPending_VisibleOnlyToWriter(t *testing.T) {
	e := newTestEngine(t)
	concept := createConcept(t, e, alice)

	h, _ := e.BeginEdit(alice)
	require.NoError(t, h.SetField(concept, "defined", field.Bool(true)))

	fields, tuple, ok := h.Pending(concept)
	require.True(t, ok)
	assert.Equal(t, testutil.Concept(true), fields)
	assert.True(t, tuple.Uncommitted())

	v := single(t, must(e.Resolve(concept, view.Latest(mainPath))))
	assert.Equal(t, testutil.Concept(false), v.Fields, "readers still see the committed version")

	created, _, err := h.Create(component.KindConcept, testutil.Concept(false))
	require.NoError(t, err)
	_, err = e.Resolve(created, view.Latest(mainPath))
	assert.ErrorIs(t, err, ErrUnknownComponent)

	_, _, ok = h.Pending(999)
	assert.False(t, ok)
}

func TestCommit_ValidationRejectsWholeBatch(t *testing.T) {
	e := newTestEngine(t)
	concept := createConcept(t, e, alice)

	h, _ := e.BeginEdit(alice)
	require.NoError(t, h.SetField(concept, "defined", field.Bool(true)))
	bad, _, err := h.Create(component.KindDescription, field.NewObject(
		field.P("concept", field.String(testutil.SeqUUID(1).String())),
	))
	require.NoError(t, err)

	_, err = e.Commit(context.Background(), h)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, ErrCodeValidationRejected, ve.Code)
	assert.Equal(t, "schema", ve.Checker)
	assert.Equal(t, []int{bad}, ve.Nids)
	assert.True(t, component.IsSchemaError(err))
	assert.Equal(t, StateRejected, h.State())

	v := single(t, must(e.Resolve(concept, view.Latest(mainPath))))
	assert.Equal(t, testutil.Concept(false), v.Fields, "no part of a rejected batch is visible")
	_, err = e.Resolve(bad, view.Latest(mainPath))
	assert.ErrorIs(t, err, ErrUnknownComponent)

	_, err = e.Commit(context.Background(), h)
	assert.ErrorIs(t, err, ErrHandleClosed)
	assert.ErrorIs(t, h.SetField(concept, "defined", field.Bool(false)), ErrHandleClosed)
}

func TestCommit_ReferenceChecker(t *testing.T) {
	e := newTestEngine(t)

	h, _ := e.BeginEdit(alice)
	_, _, err := h.Create(component.KindDescription, testutil.Description(testutil.SeqUUID(99), "Heart"))
	require.NoError(t, err)
	_, err = e.Commit(context.Background(), h)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "references", ve.Checker)

	// A concept created in the same batch satisfies the reference.
	h, _ = e.BeginEdit(alice)
	_, conceptID, err := h.Create(component.KindConcept, testutil.Concept(false))
	require.NoError(t, err)
	_, _, err = h.Create(component.KindDescription, testutil.Description(conceptID, "Heart"))
	require.NoError(t, err)
	cr := commit(t, e, h)
	assert.Len(t, cr.Nids, 2)
	assert.Len(t, cr.Stamps, 1, "one stamp per status per batch")
}

func TestCommit_CustomChecker(t *testing.T) {
	noHearts := CheckerFunc{CheckerName: "no-hearts", Fn: func(_ context.Context, b *Batch) error {
		for _, c := range b.Changes {
			if text, _ := c.Fields.Str("text"); text == "Heart" {
				return &Rejection{Nid: c.Nid, Err: fmt.Errorf("hearts are banned")}
			}
		}
		return nil
	}}
	e := newTestEngine(t, WithChecker(noHearts))
	concept := createConcept(t, e, alice)
	info, _ := e.Component(concept)

	h, _ := e.BeginEdit(alice)
	desc, _, err := h.Create(component.KindDescription, testutil.Description(info.UUID, "Heart"))
	require.NoError(t, err)

	_, err = e.Commit(context.Background(), h)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "no-hearts", ve.Checker)
	assert.Equal(t, []int{desc}, ve.Nids)
}

func TestEditHandle_Lifecycle(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.BeginEdit(Session{Path: 42})
	assert.True(t, path.IsConfigurationError(err))

	h, _ := e.BeginEdit(alice)
	_, err = e.Commit(context.Background(), h)
	assert.ErrorIs(t, err, ErrEmptyEdit)
	assert.Equal(t, StateUncommitted, h.State())

	assert.ErrorIs(t, h.SetField(12345, "defined", field.Bool(true)), ErrUnknownComponent)

	_, _, err = h.Create(component.KindConcept, testutil.Concept(false))
	require.NoError(t, err)
	h.Discard()
	assert.Equal(t, StateDiscarded, h.State())
	_, err = e.Commit(context.Background(), h)
	assert.ErrorIs(t, err, ErrHandleClosed)
	assert.Empty(t, e.Components())
}

func TestPathInheritance(t *testing.T) {
	e := newTestEngine(t)
	nid := createConcept(t, e, alice) // main t=100

	h, _ := e.BeginEdit(alice)
	require.NoError(t, h.SetField(nid, "defined", field.Bool(true)))
	commit(t, e, h) // main t=200, after feature branched at 150

	v := single(t, must(e.Resolve(nid, view.Latest(featurePath))))
	assert.Equal(t, int64(100), v.Tuple.Time)
	assert.Equal(t, testutil.Concept(false), v.Fields)

	feature := Session{Author: 2, Module: 1, Path: featurePath}
	h, _ = e.BeginEdit(feature)
	fields, _, _ := pendingAfter(t, h, nid, "defined", field.Bool(false))
	assert.Equal(t, testutil.Concept(false), fields, "writer starts from the feature path's version")
	commit(t, e, h) // feature t=300

	v = single(t, must(e.Resolve(nid, view.Latest(featurePath))))
	assert.Equal(t, int64(300), v.Tuple.Time)

	v = single(t, must(e.Resolve(nid, view.Latest(mainPath))))
	assert.Equal(t, int64(200), v.Tuple.Time, "feature edits never leak into main")
}

func pendingAfter(t *testing.T, h *EditHandle, nid int, name string, value field.Value) (field.Object, stamp.Tuple, bool) {
	t.Helper()
	require.NoError(t, h.SetField(nid, name, value))
	return h.Pending(nid)
}

// lastWinsAsFirst behaves like LastWins but claims FirstWins's name.
type lastWinsAsFirst struct{ view.LastWins }

func (lastWinsAsFirst) Name() string { return view.FirstWins{}.Name() }

func TestResolve_CustomManagerBypassesCache(t *testing.T) {
	e := newTestEngine(t)
	nid := createConcept(t, e, alice)
	base := e.CacheLen()

	custom := view.Latest(mainPath)
	custom.Manager = lastWinsAsFirst{}
	single(t, must(e.Resolve(nid, custom)))
	assert.Equal(t, base, e.CacheLen(), "a custom manager is not identified by its name")

	builtin := view.Latest(mainPath)
	builtin.Manager = view.FirstWins{}
	single(t, must(e.Resolve(nid, builtin)))
	assert.Equal(t, base+1, e.CacheLen())
}

func TestResolve_CacheInvalidation(t *testing.T) {
	e := newTestEngine(t)
	nid := createConcept(t, e, alice)

	coord := view.Latest(featurePath)
	v := single(t, must(e.Resolve(nid, coord)))
	assert.Equal(t, int64(100), v.Tuple.Time)
	single(t, must(e.Resolve(nid, coord)))
	assert.Equal(t, 1, e.CacheLen())

	// A commit bumps the component generation.
	h, _ := e.BeginEdit(Session{Author: 1, Module: 1, Path: featurePath})
	require.NoError(t, h.SetField(nid, "defined", field.Bool(true)))
	commit(t, e, h)
	v = single(t, must(e.Resolve(nid, coord)))
	assert.Equal(t, testutil.Concept(true), v.Fields)

	// A path change bumps the path generation.
	review := view.Latest(3)
	require.NoError(t, e.AddPath(context.Background(), path.Path{ID: 3, Name: "review"}))
	res, err := e.Resolve(nid, review)
	require.NoError(t, err)
	assert.True(t, res.IsAbsent())

	require.NoError(t, e.AddOrigin(context.Background(), 3, path.Origin{Path: mainPath, Time: path.Latest}))
	v = single(t, must(e.Resolve(nid, review)))
	assert.Equal(t, int64(100), v.Tuple.Time)
}

func TestResolve_Errors(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Resolve(1, view.Coordinate{})
	assert.ErrorIs(t, err, view.ErrNoPositions)

	_, err = e.Resolve(77, view.Latest(mainPath))
	assert.ErrorIs(t, err, ErrUnknownComponent)

	_, err = e.ResolveUUID(testutil.SeqUUID(77), view.Latest(mainPath))
	assert.ErrorIs(t, err, ErrUnknownComponent)
}

func TestHistory(t *testing.T) {
	e := newTestEngine(t)
	nid := createConcept(t, e, alice)

	h, _ := e.BeginEdit(alice)
	require.NoError(t, h.SetField(nid, "defined", field.Bool(true)))
	commit(t, e, h)

	h, _ = e.BeginEdit(alice)
	require.NoError(t, h.Retire(nid))
	commit(t, e, h)

	hist, err := e.History(nid)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, []int64{100, 200, 300}, []int64{hist[0].Tuple.Time, hist[1].Tuple.Time, hist[2].Tuple.Time})
	assert.Equal(t, testutil.Concept(false), hist[0].Fields)
	assert.Equal(t, testutil.Concept(true), hist[1].Fields)
	assert.Equal(t, stamp.Inactive, hist[2].Tuple.Status)
	assert.Equal(t, testutil.Concept(true), hist[2].Fields)

	_, err = e.History(404)
	assert.ErrorIs(t, err, ErrUnknownComponent)
}

func TestConcurrentCommits(t *testing.T) {
	e := newTestEngine(t, WithClock(stamp.NewSequence()))
	shared := createConcept(t, e, alice)

	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	times := make(chan int64, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := e.BeginEdit(Session{Author: i + 1, Module: 1, Path: mainPath})
			if err != nil {
				errs <- err
				return
			}
			if err := h.SetField(shared, "defined", field.Bool(i%2 == 0)); err != nil {
				errs <- err
				return
			}
			if _, _, err := h.Create(component.KindConcept, testutil.Concept(false)); err != nil {
				errs <- err
				return
			}
			cr, err := e.Commit(context.Background(), h)
			if err != nil {
				errs <- err
				return
			}
			times <- cr.Time
		}(i)
	}
	wg.Wait()
	close(errs)
	close(times)

	for err := range errs {
		require.NoError(t, err)
	}
	seen := make(map[int64]bool)
	for tm := range times {
		require.False(t, seen[tm], "commit time %d assigned twice", tm)
		seen[tm] = true
	}

	hist, err := e.History(shared)
	require.NoError(t, err)
	assert.Len(t, hist, writers+1)
	assert.Len(t, e.Components(), writers+1)

	// Distinct commit times leave a single latest version.
	single(t, must(e.Resolve(shared, view.Latest(mainPath))))
}

func TestCommit_MixedStatusBatchIsAtomic(t *testing.T) {
	e := newTestEngine(t, WithClock(stamp.NewSequence()))

	const pairs = 200
	retired := make([]int, pairs)
	edited := make([]int, pairs)
	for i := range pairs {
		retired[i] = createConcept(t, e, alice)
		edited[i] = createConcept(t, e, alice)
	}

	var (
		wg      sync.WaitGroup
		partial sync.Map
		done    = make(chan struct{})
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				for i := range pairs {
					select {
					case <-done:
						return
					default:
					}
					a, err := e.Resolve(retired[i], view.Latest(mainPath))
					if err != nil {
						continue
					}
					va, ok := a.Single()
					if !ok || va.Tuple.Status != stamp.Inactive {
						continue
					}
					b, err := e.Resolve(edited[i], view.Latest(mainPath))
					if err != nil {
						continue
					}
					if vb, ok := b.Single(); !ok || !field.Equal(vb.Fields, testutil.Concept(true)) {
						partial.Store(i, true)
					}
				}
			}
		}()
	}

	for i := range pairs {
		h, err := e.BeginEdit(bob)
		require.NoError(t, err)
		require.NoError(t, h.Retire(retired[i]))
		require.NoError(t, h.SetField(edited[i], "defined", field.Bool(true)))
		cr := commit(t, e, h)
		require.Len(t, cr.Stamps, 2, "a retire and an edit intern two stamps")
	}
	close(done)
	wg.Wait()

	partial.Range(func(k, _ any) bool {
		t.Errorf("pair %d: retirement visible without the edit committed with it", k)
		return true
	})
}

func TestEngine_ReloadsFromStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "termvc.db")
	s, err := store.Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	e := newTestEngine(t, WithStore(s))
	concept := createConcept(t, e, alice)
	info, _ := e.Component(concept)

	h, _ := e.BeginEdit(alice)
	desc, descID, err := h.Create(component.KindDescription, testutil.Description(info.UUID, "Heart"))
	require.NoError(t, err)
	commit(t, e, h)

	h, _ = e.BeginEdit(alice)
	require.NoError(t, h.SetField(desc, "text", field.String("Heart structure")))
	commit(t, e, h)
	require.NoError(t, e.Close())

	reopened := newTestEngine(t, WithStore(s))
	require.True(t, reopened.Paths().Has(featurePath))

	nid, ok := reopened.NidFor(descID)
	require.True(t, ok)
	assert.Equal(t, desc, nid)

	v := single(t, must(reopened.Resolve(nid, view.Latest(mainPath))))
	assert.Equal(t, int64(300), v.Tuple.Time)
	text, _ := v.Fields.Str("text")
	assert.Equal(t, "Heart structure", text)

	// New commits sort after everything loaded, and nids do not collide.
	next := createConcept(t, reopened, alice)
	assert.Greater(t, next, desc)
	v = single(t, must(reopened.Resolve(next, view.Latest(mainPath))))
	assert.Equal(t, int64(400), v.Tuple.Time)
}

func TestCommit_Metrics(t *testing.T) {
	m := metrics.New()
	e := newTestEngine(t, WithMetrics(m))
	nid := createConcept(t, e, alice)

	h, _ := e.BeginEdit(alice)
	_, _, err := h.Create(component.KindRelationship, field.Object{})
	require.NoError(t, err)
	_, err = e.Commit(context.Background(), h)
	require.Error(t, err)

	single(t, must(e.Resolve(nid, view.Latest(mainPath))))
	single(t, must(e.Resolve(nid, view.Latest(mainPath))))

	assert.Equal(t, 1.0, promtest.ToFloat64(m.CommitsTotal.WithLabelValues("committed")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.CommitsTotal.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.ComponentsTotal))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.ResolvesTotal.WithLabelValues("single")))
}

func TestStrictManagerSurfacesContradiction(t *testing.T) {
	e := newTestEngine(t)
	nid := contradiction(t, e)

	res, err := e.Resolve(nid, view.Latest(mainPath))
	require.NoError(t, err)
	assert.True(t, res.IsContradiction())
	assert.Len(t, res.Versions, 2)

	coord := view.Latest(mainPath)
	coord.Manager = view.FirstWins{}
	v := single(t, must(e.Resolve(nid, coord)))
	assert.Equal(t, 1, v.Tuple.Author)

	coord.Manager = view.Strict{}
	_, err = e.Resolve(nid, coord)
	require.Error(t, err)
	assert.True(t, resolve.IsContradictionError(err))
}
