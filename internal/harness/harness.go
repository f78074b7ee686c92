package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/termvc/internal/component"
	"github.com/roach88/termvc/internal/config"
	"github.com/roach88/termvc/internal/engine"
	"github.com/roach88/termvc/internal/field"
	"github.com/roach88/termvc/internal/path"
	"github.com/roach88/termvc/internal/testutil"
	"github.com/roach88/termvc/internal/view"
)

const refPrefix = "ref:"

// Harness executes one scenario against a fresh engine.
type Harness struct {
	engine *engine.Engine
	clock  *scenarioClock
	logger *slog.Logger

	// nids, uuids and names map scenario refs to components and back.
	nids  map[string]int
	uuids map[string]uuid.UUID
	names map[uuid.UUID]string
}

// Run executes a scenario and returns its result.
//
// Each run uses a fresh in-memory engine whose clock yields 100, 200, 300
// and whose uuids are sequential, so the trace is identical across runs.
// Expectation and assertion failures are recorded on the result; the error
// is reserved for scenarios that cannot run at all.
func Run(ctx context.Context, s *Scenario) (*Result, error) {
	return RunWithLogger(ctx, s, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// RunWithLogger is Run with engine logs sent to logger.
func RunWithLogger(ctx context.Context, s *Scenario, logger *slog.Logger) (*Result, error) {
	paths := s.Paths
	if s.PathsFile != "" {
		loaded, err := config.LoadPaths(s.PathsFile)
		if err != nil {
			return nil, fmt.Errorf("load paths: %w", err)
		}
		paths = loaded
	}
	graph := path.NewGraph()
	for _, p := range paths {
		if err := graph.AddPath(p); err != nil {
			return nil, fmt.Errorf("add path %q: %w", p.Name, err)
		}
	}

	h := &Harness{
		clock:  &scenarioClock{DeterministicClock: testutil.NewDeterministicClockAt(0, 100)},
		logger: logger,
		nids:   make(map[string]int),
		uuids:  make(map[string]uuid.UUID),
		names:  make(map[uuid.UUID]string),
	}
	e, err := engine.New(ctx,
		engine.WithPathGraph(graph),
		engine.WithClock(h.clock),
		engine.WithUUIDGenerator(testutil.NewSequentialUUIDs()),
		engine.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	defer e.Close()
	h.engine = e

	result := NewResult()
	for i, step := range s.Flow {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ev := h.execute(ctx, i, step)
		result.Trace = append(result.Trace, ev)

		switch {
		case step.Expect != nil:
			for _, msg := range checkExpect(ev, step.Expect) {
				result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, ev.Type, msg))
			}
		case ev.Type == StepCommit && ev.Outcome != OutcomeCommitted:
			result.AddError(fmt.Sprintf("flow[%d] commit: expected committed, got %s: %s", i, ev.Outcome, ev.Error))
		}
	}

	for i, a := range s.Assertions {
		if err := h.evaluate(a, result); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d] %s: %v", i, a.Type, err))
		}
	}

	h.logger.Debug("scenario finished",
		"scenario", s.Name,
		"steps", len(result.Trace),
		"pass", result.Pass,
	)
	return result, nil
}

func (h *Harness) execute(ctx context.Context, i int, step Step) TraceEvent {
	switch {
	case step.Commit != nil:
		return h.commit(ctx, i, step.Commit)
	case step.Resolve != nil:
		ev := TraceEvent{Step: i, Type: StepResolve, Ref: step.Resolve.Ref}
		h.resolve(&ev, step.Resolve.Ref, step.Resolve.View)
		return ev
	default:
		ev := TraceEvent{Step: i, Type: StepHistory, Ref: step.History.Ref}
		h.history(&ev, step.History.Ref)
		return ev
	}
}

func (h *Harness) commit(ctx context.Context, i int, c *CommitStep) TraceEvent {
	ev := TraceEvent{Step: i, Type: StepCommit}

	edit, err := h.engine.BeginEdit(c.Session)
	if err != nil {
		ev.Outcome, ev.Error = OutcomeError, err.Error()
		return ev
	}

	var created []string
	forget := func() {
		for _, ref := range created {
			delete(h.names, h.uuids[ref])
			delete(h.nids, ref)
			delete(h.uuids, ref)
		}
	}
	fail := func(err error) TraceEvent {
		edit.Discard()
		forget()
		ev.Outcome, ev.Error = OutcomeError, err.Error()
		return ev
	}

	for _, op := range c.Create {
		kind, err := component.ParseKind(op.Kind)
		if err != nil {
			return fail(err)
		}
		fields, err := h.fields(op.Fields)
		if err != nil {
			return fail(fmt.Errorf("create %s: %w", op.Ref, err))
		}
		nid, id, err := edit.Create(kind, fields)
		if err != nil {
			return fail(fmt.Errorf("create %s: %w", op.Ref, err))
		}
		h.nids[op.Ref] = nid
		h.uuids[op.Ref] = id
		h.names[id] = op.Ref
		created = append(created, op.Ref)
	}
	for _, op := range c.Set {
		nid, err := h.nid(op.Ref)
		if err != nil {
			return fail(err)
		}
		patch, err := h.fields(op.Fields)
		if err != nil {
			return fail(fmt.Errorf("set %s: %w", op.Ref, err))
		}
		if err := edit.SetFields(nid, patch); err != nil {
			return fail(fmt.Errorf("set %s: %w", op.Ref, err))
		}
	}
	for _, ref := range c.Retire {
		nid, err := h.nid(ref)
		if err != nil {
			return fail(err)
		}
		if err := edit.Retire(nid); err != nil {
			return fail(fmt.Errorf("retire %s: %w", ref, err))
		}
	}
	for _, ref := range c.Activate {
		nid, err := h.nid(ref)
		if err != nil {
			return fail(err)
		}
		if err := edit.Activate(nid); err != nil {
			return fail(fmt.Errorf("activate %s: %w", ref, err))
		}
	}

	if c.Time > 0 {
		h.clock.pin(c.Time)
	}
	rec, err := h.engine.Commit(ctx, edit)
	if err != nil {
		forget()
		ev.Outcome, ev.Error = OutcomeRejected, err.Error()
		return ev
	}
	ev.Outcome = OutcomeCommitted
	ev.Time = rec.Time
	for _, id := range rec.UUIDs {
		ev.Refs = append(ev.Refs, h.names[id])
	}
	return ev
}

// scenarioClock is a deterministic clock whose next value can be pinned.
type scenarioClock struct {
	*testutil.DeterministicClock

	mu     sync.Mutex
	pinned int64
}

func (c *scenarioClock) pin(t int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinned = t
}

// Next returns the pinned time once, then resumes the sequence after the
// greatest time handed out.
func (c *scenarioClock) Next() int64 {
	c.mu.Lock()
	t := c.pinned
	c.pinned = 0
	c.mu.Unlock()
	if t == 0 {
		return c.DeterministicClock.Next()
	}
	c.Observe(t)
	return t
}

func (h *Harness) resolve(ev *TraceEvent, ref string, vc config.ViewConfig) {
	nid, err := h.nid(ref)
	if err != nil {
		ev.Outcome, ev.Error = OutcomeError, err.Error()
		return
	}
	coord, err := coordinate(vc)
	if err != nil {
		ev.Outcome, ev.Error = OutcomeError, err.Error()
		return
	}
	res, err := h.engine.Resolve(nid, coord)
	if err != nil {
		ev.Outcome, ev.Error = OutcomeError, err.Error()
		return
	}

	switch {
	case res.IsAbsent():
		ev.Outcome = OutcomeAbsent
	case res.IsContradiction():
		ev.Outcome = OutcomeContradiction
	default:
		ev.Outcome = OutcomeSingle
	}
	for _, v := range res.Versions {
		ev.Versions = append(ev.Versions, h.version(v))
	}
}

func (h *Harness) history(ev *TraceEvent, ref string) {
	nid, err := h.nid(ref)
	if err != nil {
		ev.Outcome, ev.Error = OutcomeError, err.Error()
		return
	}
	versions, err := h.engine.History(nid)
	if err != nil {
		ev.Outcome, ev.Error = OutcomeError, err.Error()
		return
	}
	ev.Outcome = OutcomeListed
	if len(versions) == 0 {
		ev.Outcome = OutcomeAbsent
	}
	for _, v := range versions {
		ev.Versions = append(ev.Versions, h.version(v))
	}
}

// coordinate parses vc, reading the latest state of path 1 when no
// position is given.
func coordinate(vc config.ViewConfig) (view.Coordinate, error) {
	if len(vc.Positions) == 0 {
		vc.Positions = []config.PositionConfig{{Path: 1, Time: "latest"}}
	}
	return vc.Coordinate()
}

func (h *Harness) nid(ref string) (int, error) {
	nid, ok := h.nids[ref]
	if !ok {
		return 0, fmt.Errorf("unknown ref %q", ref)
	}
	return nid, nil
}

// fields converts scenario fields, replacing "ref:<name>" strings with the
// named component's uuid.
func (h *Harness) fields(m map[string]any) (field.Object, error) {
	obj, err := field.ObjectFromMap(m)
	if err != nil {
		return nil, err
	}
	out, err := h.substitute(obj)
	if err != nil {
		return nil, err
	}
	return out.(field.Object), nil
}

func (h *Harness) substitute(v field.Value) (field.Value, error) {
	switch val := v.(type) {
	case field.String:
		name, ok := strings.CutPrefix(string(val), refPrefix)
		if !ok {
			return val, nil
		}
		id, ok := h.uuids[name]
		if !ok {
			return nil, fmt.Errorf("unknown ref %q", name)
		}
		return field.String(id.String()), nil
	case field.List:
		out := make(field.List, len(val))
		for i, elem := range val {
			s, err := h.substitute(elem)
			if err != nil {
				return nil, err
			}
			out[i] = s
		}
		return out, nil
	case field.Object:
		out := make(field.Object, len(val))
		for k, elem := range val {
			s, err := h.substitute(elem)
			if err != nil {
				return nil, err
			}
			out[k] = s
		}
		return out, nil
	default:
		return v, nil
	}
}

// refs replaces uuids of named components with "ref:<name>".
func (h *Harness) refs(v field.Value) field.Value {
	switch val := v.(type) {
	case field.String:
		if id, err := uuid.Parse(string(val)); err == nil {
			if name, ok := h.names[id]; ok {
				return field.String(refPrefix + name)
			}
		}
		return val
	case field.List:
		out := make(field.List, len(val))
		for i, elem := range val {
			out[i] = h.refs(elem)
		}
		return out
	case field.Object:
		out := make(field.Object, len(val))
		for k, elem := range val {
			out[k] = h.refs(elem)
		}
		return out
	default:
		return v
	}
}

func (h *Harness) version(v engine.Version) VersionTrace {
	fields, _ := h.refs(v.Fields).(field.Object)
	if fields == nil {
		fields = field.Object{}
	}
	return VersionTrace{
		Status: v.Tuple.Status.String(),
		Time:   v.Tuple.Time,
		Author: v.Tuple.Author,
		Module: v.Tuple.Module,
		Path:   v.Tuple.Path,
		Fields: fields,
	}
}
