package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/termvc/internal/component"
	"github.com/roach88/termvc/internal/config"
	"github.com/roach88/termvc/internal/engine"
	"github.com/roach88/termvc/internal/path"
)

// Scenario defines a versioning scenario: a path graph, a flow of commits
// and reads, and assertions on the resulting trace.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Paths defines the path graph inline, in dependency order.
	Paths []path.Path `yaml:"paths,omitempty"`

	// PathsFile names a CUE path-graph file, relative to the scenario.
	PathsFile string `yaml:"paths_file,omitempty"`

	Flow       []Step      `yaml:"flow"`
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one flow step. Exactly one of Commit, Resolve and History is set.
type Step struct {
	Commit  *CommitStep  `yaml:"commit,omitempty"`
	Resolve *ResolveStep `yaml:"resolve,omitempty"`
	History *HistoryStep `yaml:"history,omitempty"`

	// Expect checks the step's trace event. Commit steps without Expect
	// must commit.
	Expect *Expect `yaml:"expect,omitempty"`
}

// CommitStep is one edit handle committed as a batch.
//
// Time pins the commit time instead of taking the next clock value, so two
// steps can commit concurrently-made edits. Field values of the form "ref:<name>" are replaced by the uuid of the
// component created under that name.
type CommitStep struct {
	Session  engine.Session `yaml:"session"`
	Time     int64          `yaml:"time,omitempty"`
	Create   []CreateOp     `yaml:"create,omitempty"`
	Set      []SetOp        `yaml:"set,omitempty"`
	Retire   []string       `yaml:"retire,omitempty"`
	Activate []string       `yaml:"activate,omitempty"`
}

// CreateOp creates a component and names it Ref.
type CreateOp struct {
	Ref    string         `yaml:"ref"`
	Kind   string         `yaml:"kind"`
	Fields map[string]any `yaml:"fields"`
}

// SetOp patches fields of a named component. A null value removes a field.
type SetOp struct {
	Ref    string         `yaml:"ref"`
	Fields map[string]any `yaml:"fields"`
}

// ResolveStep resolves a named component under View. An empty view reads
// the latest state of path 1.
type ResolveStep struct {
	Ref  string            `yaml:"ref"`
	View config.ViewConfig `yaml:"view,omitempty"`
}

// HistoryStep lists every committed version of a named component.
type HistoryStep struct {
	Ref string `yaml:"ref"`
}

// Expect checks a trace event. Unset fields are not checked; Status, Time
// and Fields apply to the first version.
type Expect struct {
	Outcome string `yaml:"outcome,omitempty"`
	// Versions is the expected number of versions.
	Versions *int   `yaml:"versions,omitempty"`
	Status   string `yaml:"status,omitempty"`
	Time     *int64 `yaml:"time,omitempty"`
	// Fields is a subset match against the first version's fields.
	Fields map[string]any `yaml:"fields,omitempty"`
	// Error is a substring of the step's error.
	Error string `yaml:"error,omitempty"`
}

// Assertion checks the whole trace or the final state.
type Assertion struct {
	// Type is one of trace_contains, trace_count, final_version.
	Type string `yaml:"type"`

	// Step is the step type matched by trace_contains and trace_count.
	Step    string `yaml:"step,omitempty"`
	Ref     string `yaml:"ref,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`
	Count   int    `yaml:"count,omitempty"`

	// View and Expect are used by final_version.
	View   config.ViewConfig `yaml:"view,omitempty"`
	Expect *Expect           `yaml:"expect,omitempty"`
}

// Assertion types.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceCount    = "trace_count"
	AssertFinalVersion  = "final_version"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos surface. A relative PathsFile is resolved against the
// scenario's directory.
func LoadScenario(file string) (*Scenario, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if s.PathsFile != "" && !filepath.IsAbs(s.PathsFile) {
		s.PathsFile = filepath.Join(filepath.Dir(file), s.PathsFile)
	}
	return s, nil
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Paths) == 0 && s.PathsFile == "" {
		return fmt.Errorf("paths or paths_file is required")
	}
	if len(s.Paths) > 0 && s.PathsFile != "" {
		return fmt.Errorf("paths and paths_file are mutually exclusive")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	refs := make(map[string]bool)
	for i, step := range s.Flow {
		if err := validateStep(step, refs); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a, refs); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step, refs map[string]bool) error {
	set := 0
	for _, present := range []bool{step.Commit != nil, step.Resolve != nil, step.History != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("exactly one of commit, resolve, history is required")
	}

	known := func(ref string) error {
		if !refs[ref] {
			return fmt.Errorf("unknown ref %q", ref)
		}
		return nil
	}
	switch {
	case step.Commit != nil:
		c := step.Commit
		if len(c.Create)+len(c.Set)+len(c.Retire)+len(c.Activate) == 0 {
			return fmt.Errorf("commit has no operations")
		}
		if c.Time < 0 {
			return fmt.Errorf("commit time must be non-negative")
		}
		for _, op := range c.Create {
			if op.Ref == "" {
				return fmt.Errorf("create: ref is required")
			}
			if refs[op.Ref] {
				return fmt.Errorf("create: ref %q already defined", op.Ref)
			}
			if _, err := component.ParseKind(op.Kind); err != nil {
				return fmt.Errorf("create %s: %w", op.Ref, err)
			}
			refs[op.Ref] = true
		}
		for _, op := range c.Set {
			if err := known(op.Ref); err != nil {
				return fmt.Errorf("set: %w", err)
			}
		}
		for _, ref := range append(append([]string(nil), c.Retire...), c.Activate...) {
			if err := known(ref); err != nil {
				return err
			}
		}
	case step.Resolve != nil:
		return known(step.Resolve.Ref)
	case step.History != nil:
		return known(step.History.Ref)
	}
	return nil
}

func validateAssertion(a Assertion, refs map[string]bool) error {
	switch a.Type {
	case AssertTraceContains:
		if a.Step == "" {
			return fmt.Errorf("step is required for trace_contains")
		}
	case AssertTraceCount:
		if a.Step == "" {
			return fmt.Errorf("step is required for trace_count")
		}
		if a.Count < 0 {
			return fmt.Errorf("count must be non-negative for trace_count")
		}
	case AssertFinalVersion:
		if !refs[a.Ref] {
			return fmt.Errorf("unknown ref %q for final_version", a.Ref)
		}
		if a.Expect == nil {
			return fmt.Errorf("expect is required for final_version")
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
