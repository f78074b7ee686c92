package cli

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/termvc/internal/component"
	"github.com/roach88/termvc/internal/engine"
	"github.com/roach88/termvc/internal/field"
)

// EditScript is a YAML batch of edits committed as one unit:
//
//	session: {author: 2, module: 1, path: 1}
//	create:
//	  - {ref: heart, kind: concept, fields: {defined: false}}
//	  - {ref: name, kind: description, fields: {concept: "ref:heart", text: "Heart"}}
//	set:
//	  - {component: 0190a1b2-..., fields: {text: "Cardiac structure"}}
//	retire: [0190a1b2-...]
//
// Components are named by uuid, or by "ref:<name>" for those created in
// the same script. Field values of the form "ref:<name>" are replaced by
// the created component's uuid. Session defaults to the configured one.
type EditScript struct {
	Session  *engine.Session `yaml:"session,omitempty"`
	Create   []EditCreate    `yaml:"create,omitempty"`
	Set      []EditSet       `yaml:"set,omitempty"`
	Retire   []string        `yaml:"retire,omitempty"`
	Activate []string        `yaml:"activate,omitempty"`
}

// EditCreate creates a component.
type EditCreate struct {
	Ref    string         `yaml:"ref,omitempty"`
	Kind   string         `yaml:"kind"`
	Fields map[string]any `yaml:"fields"`
}

// EditSet patches a component's fields. A null value removes a field.
type EditSet struct {
	Component string         `yaml:"component"`
	Fields    map[string]any `yaml:"fields"`
}

// EditResult reports a committed edit script.
type EditResult struct {
	Time       int64             `json:"time"`
	Session    engine.Session    `json:"session"`
	Components []string          `json:"components"`
	Refs       map[string]string `json:"refs,omitempty"`
}

// LoadEditScript reads an edit script, rejecting unknown keys.
func LoadEditScript(file string) (*EditScript, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read edit script: %w", err)
	}
	var s EditScript
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse edit script %s: %w", file, err)
	}
	if len(s.Create)+len(s.Set)+len(s.Retire)+len(s.Activate) == 0 {
		return nil, fmt.Errorf("edit script %s has no edits", file)
	}
	return &s, nil
}

// NewEditCommand creates the edit command.
func NewEditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := rootOpts

	cmd := &cobra.Command{
		Use:   "edit <script.yaml>",
		Short: "Commit an edit script as one batch",
		Long: `Apply the creations, field changes, retirements and activations of an
edit script in one commit. The batch is all-or-nothing: a rejected change
rejects the whole script.

Exit codes:
  0 - Committed
  1 - Rejected by validation
  2 - Command error (unreadable script, unknown component, etc.)

Example:
  termvc edit heart.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(opts, args[0], cmd)
		},
	}

	return cmd
}

func runEdit(opts *RootOptions, file string, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts)

	script, err := LoadEditScript(file)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "failed to load edit script", err))
	}

	a, err := openApp(cmd, opts, appOptions{changesets: true})
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	session := a.cfg.Session
	if script.Session != nil {
		session = *script.Session
	}

	result, err := applyEditScript(cmd, a.engine, session, script)
	if err != nil {
		return f.Fail(err)
	}

	if f.JSON() {
		return f.Success(result)
	}
	f.Printf("Committed %d components at %d (author %d, module %d, path %s)\n",
		len(result.Components), result.Time, session.Author, session.Module,
		describePath(a.engine.Paths(), session.Path))
	for _, id := range result.Components {
		f.Printf("  %s\n", id)
	}
	return nil
}

// scriptEdit tracks the refs of one script while it is applied.
type scriptEdit struct {
	engine *engine.Engine
	refs   map[string]uuid.UUID
	nids   map[string]int
}

func applyEditScript(cmd *cobra.Command, e *engine.Engine, session engine.Session, script *EditScript) (*EditResult, error) {
	h, err := e.BeginEdit(session)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to begin edit", err)
	}
	se := &scriptEdit{engine: e, refs: make(map[string]uuid.UUID), nids: make(map[string]int)}

	fail := func(err error) (*EditResult, error) {
		h.Discard()
		return nil, WrapExitError(ExitCommandError, "invalid edit script", err)
	}

	for i, c := range script.Create {
		kind, err := component.ParseKind(c.Kind)
		if err != nil {
			return fail(fmt.Errorf("create[%d]: %w", i, err))
		}
		fields, err := se.fields(c.Fields)
		if err != nil {
			return fail(fmt.Errorf("create[%d]: %w", i, err))
		}
		nid, id, err := h.Create(kind, fields)
		if err != nil {
			return fail(fmt.Errorf("create[%d]: %w", i, err))
		}
		if c.Ref != "" {
			if _, dup := se.refs[c.Ref]; dup {
				return fail(fmt.Errorf("create[%d]: ref %q already defined", i, c.Ref))
			}
			se.refs[c.Ref] = id
			se.nids[c.Ref] = nid
		}
	}
	for i, s := range script.Set {
		nid, err := se.nid(s.Component)
		if err != nil {
			return fail(fmt.Errorf("set[%d]: %w", i, err))
		}
		patch, err := se.fields(s.Fields)
		if err != nil {
			return fail(fmt.Errorf("set[%d]: %w", i, err))
		}
		if err := h.SetFields(nid, patch); err != nil {
			return fail(fmt.Errorf("set[%d]: %w", i, err))
		}
	}
	for _, name := range script.Retire {
		nid, err := se.nid(name)
		if err != nil {
			return fail(fmt.Errorf("retire: %w", err))
		}
		if err := h.Retire(nid); err != nil {
			return fail(fmt.Errorf("retire %s: %w", name, err))
		}
	}
	for _, name := range script.Activate {
		nid, err := se.nid(name)
		if err != nil {
			return fail(fmt.Errorf("activate: %w", err))
		}
		if err := h.Activate(nid); err != nil {
			return fail(fmt.Errorf("activate %s: %w", name, err))
		}
	}

	rec, err := e.Commit(commandContext(cmd), h)
	if err != nil {
		return nil, WrapEngineError("commit rejected", err)
	}

	result := &EditResult{Time: rec.Time, Session: rec.Session, Components: make([]string, len(rec.UUIDs))}
	for i, id := range rec.UUIDs {
		result.Components[i] = id.String()
	}
	if len(se.refs) > 0 {
		result.Refs = make(map[string]string, len(se.refs))
		for name, id := range se.refs {
			result.Refs[name] = id.String()
		}
	}
	return result, nil
}

// nid resolves a uuid or "ref:<name>".
func (se *scriptEdit) nid(name string) (int, error) {
	if ref, ok := strings.CutPrefix(name, refPrefix); ok {
		nid, ok := se.nids[ref]
		if !ok {
			return 0, fmt.Errorf("unknown ref %q", ref)
		}
		return nid, nil
	}
	id, err := uuid.Parse(name)
	if err != nil {
		return 0, fmt.Errorf("invalid component %q: %w", name, err)
	}
	nid, ok := se.engine.NidFor(id)
	if !ok {
		return 0, fmt.Errorf("component %s: %w", id, engine.ErrUnknownComponent)
	}
	return nid, nil
}

func (se *scriptEdit) fields(m map[string]any) (field.Object, error) {
	obj, err := field.ObjectFromMap(m)
	if err != nil {
		return nil, err
	}
	for k, v := range obj {
		s, ok := v.(field.String)
		if !ok {
			continue
		}
		ref, ok := strings.CutPrefix(string(s), refPrefix)
		if !ok {
			continue
		}
		id, ok := se.refs[ref]
		if !ok {
			return nil, fmt.Errorf("field %s: unknown ref %q", k, ref)
		}
		obj[k] = field.String(id.String())
	}
	return obj, nil
}

const refPrefix = "ref:"
