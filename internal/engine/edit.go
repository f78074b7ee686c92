package engine

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/termvc/internal/component"
	"github.com/roach88/termvc/internal/field"
	"github.com/roach88/termvc/internal/path"
	"github.com/roach88/termvc/internal/resolve"
	"github.com/roach88/termvc/internal/stamp"
	"github.com/roach88/termvc/internal/view"
)

// Session identifies who edits, in which module, on which path.
type Session struct {
	Author int `json:"author" yaml:"author"`
	Module int `json:"module" yaml:"module"`
	Path   int `json:"path" yaml:"path"`
}

// State is the lifecycle state of an edit handle.
type State int

const (
	// StateUncommitted holds changes visible only through the handle.
	StateUncommitted State = iota
	// StateValidating means Commit is running checkers.
	StateValidating
	// StateCommitted is terminal: the batch is published.
	StateCommitted
	// StateRejected is terminal: the batch was discarded.
	StateRejected
	// StateDiscarded is terminal: the writer abandoned the handle.
	StateDiscarded
)

func (s State) String() string {
	switch s {
	case StateUncommitted:
		return "uncommitted"
	case StateValidating:
		return "validating"
	case StateCommitted:
		return "committed"
	case StateRejected:
		return "rejected"
	case StateDiscarded:
		return "discarded"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EditHandle collects uncommitted changes for one commit.
//
// Thread-safety: safe for concurrent use, though a handle normally belongs
// to one writer.
type EditHandle struct {
	engine  *Engine
	session Session

	mu    sync.Mutex
	state State
	order []int
	edits map[int]*pendingEdit
}

// pendingEdit is the uncommitted change to one component.
type pendingEdit struct {
	nid     int
	uuid    uuid.UUID
	kind    component.Kind
	created bool
	// base is the writer's current version when the edit began.
	base   field.Object
	delta  field.Object
	status stamp.Status
}

func (p *pendingEdit) fields() field.Object {
	return p.base.Apply(p.delta)
}

// BeginEdit opens an edit handle for session. The session's path must be
// defined.
func (e *Engine) BeginEdit(s Session) (*EditHandle, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	if !e.paths.Has(s.Path) {
		return nil, &path.ConfigurationError{
			Code:    path.ErrCodeUnknownPath,
			Message: fmt.Sprintf("session path %d is not defined", s.Path),
		}
	}
	return &EditHandle{
		engine:  e,
		session: s,
		edits:   make(map[int]*pendingEdit),
	}, nil
}

// Session returns the handle's session.
func (h *EditHandle) Session() Session {
	return h.session
}

// State returns the handle's lifecycle state.
func (h *EditHandle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Create adds a new component. Its nid and uuid are assigned now; it
// becomes visible to readers when the handle commits.
func (h *EditHandle) Create(kind component.Kind, fields field.Object) (int, uuid.UUID, error) {
	if !kind.Valid() {
		return 0, uuid.Nil, fmt.Errorf("create: invalid kind %d", kind)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateUncommitted {
		return 0, uuid.Nil, ErrHandleClosed
	}

	nid := h.engine.allocNid()
	id := h.engine.uuids.New()
	h.edits[nid] = &pendingEdit{
		nid:     nid,
		uuid:    id,
		kind:    kind,
		created: true,
		base:    field.Object{},
		delta:   fields.Clone(),
		status:  stamp.Active,
	}
	h.order = append(h.order, nid)
	return nid, id, nil
}

// SetField sets one field. A field.Null value removes the field.
func (h *EditHandle) SetField(nid int, name string, value field.Value) error {
	return h.SetFields(nid, field.Object{name: value})
}

// SetFields applies patch to the component's pending fields.
func (h *EditHandle) SetFields(nid int, patch field.Object) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, err := h.touch(nid)
	if err != nil {
		return err
	}
	for k, v := range patch {
		p.delta[k] = v
	}
	return nil
}

// Retire records an inactive revision of the component.
func (h *EditHandle) Retire(nid int) error {
	return h.setStatus(nid, stamp.Inactive)
}

// Activate records an active revision of the component.
func (h *EditHandle) Activate(nid int) error {
	return h.setStatus(nid, stamp.Active)
}

func (h *EditHandle) setStatus(nid int, s stamp.Status) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, err := h.touch(nid)
	if err != nil {
		return err
	}
	p.status = s
	return nil
}

// Pending returns the writer's view of a component inside this handle:
// its fields with the uncommitted changes applied and a stamp tuple
// carrying the uncommitted sentinel time.
func (h *EditHandle) Pending(nid int) (field.Object, stamp.Tuple, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.edits[nid]
	if !ok {
		return nil, stamp.Tuple{}, false
	}
	return p.fields(), h.tuple(p.status, stamp.SentinelUncommitted), true
}

// Nids lists the components touched by the handle in first-touch order.
func (h *EditHandle) Nids() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int(nil), h.order...)
}

// Discard abandons the handle. Nothing was ever visible, so there is
// nothing to undo.
func (h *EditHandle) Discard() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateUncommitted {
		h.state = StateDiscarded
	}
}

// touch returns the pending edit of nid, starting one from the writer's
// current version if needed. Caller holds h.mu.
func (h *EditHandle) touch(nid int) (*pendingEdit, error) {
	if h.state != StateUncommitted {
		return nil, ErrHandleClosed
	}
	if p, ok := h.edits[nid]; ok {
		return p, nil
	}

	rec, ok := h.engine.lookup(nid)
	if !ok || !h.engine.stamps.IsPublished(rec.chain.Primordial()) {
		return nil, fmt.Errorf("edit %d: %w", nid, ErrUnknownComponent)
	}

	p := &pendingEdit{
		nid:    nid,
		uuid:   rec.uuid,
		kind:   rec.kind,
		base:   field.Object{},
		delta:  field.Object{},
		status: stamp.Active,
	}
	if v, ok := h.engine.current(rec, h.session.Path); ok {
		p.base = v.Fields
		p.status = v.Tuple.Status
	}
	h.edits[nid] = p
	h.order = append(h.order, nid)
	return p, nil
}

func (h *EditHandle) tuple(s stamp.Status, t int64) stamp.Tuple {
	return stamp.Tuple{
		Status: s,
		Time:   t,
		Author: h.session.Author,
		Module: h.session.Module,
		Path:   h.session.Path,
	}
}

// begin moves the handle to validating and returns its edits.
func (h *EditHandle) begin() ([]*pendingEdit, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateUncommitted {
		return nil, ErrHandleClosed
	}
	if len(h.order) == 0 {
		return nil, ErrEmptyEdit
	}
	h.state = StateValidating

	edits := make([]*pendingEdit, len(h.order))
	for i, nid := range h.order {
		edits[i] = h.edits[nid]
	}
	return edits, nil
}

func (h *EditHandle) finish(s State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = s
}

// current resolves the latest version of rec on a path with every status
// admitted. A contradiction yields the lowest stamp.
func (e *Engine) current(rec *record, pathID int) (resolve.Version[field.Object], bool) {
	coord := view.Latest(pathID)
	coord.Manager = view.FirstWins{}
	res, err := e.resolver.Resolve(rec.nid, rec.chain.Snapshot(), coord)
	if err != nil || res.IsAbsent() {
		return resolve.Version[field.Object]{}, false
	}
	return res.Versions[0], true
}
