package harness

import (
	"github.com/roach88/termvc/internal/field"
)

// Step types recorded in the trace.
const (
	StepCommit  = "commit"
	StepResolve = "resolve"
	StepHistory = "history"
)

// Outcomes recorded in the trace.
const (
	OutcomeCommitted     = "committed"
	OutcomeRejected      = "rejected"
	OutcomeAbsent        = "absent"
	OutcomeSingle        = "single"
	OutcomeContradiction = "contradiction"
	OutcomeListed        = "listed"
	OutcomeError         = "error"
)

// TraceEvent records one executed flow step.
type TraceEvent struct {
	Step    int    `json:"step"`
	Type    string `json:"type"`
	Outcome string `json:"outcome"`
	// Ref names the component of a resolve or history step.
	Ref string `json:"ref,omitempty"`
	// Time is the commit time of a committed batch.
	Time int64 `json:"time,omitempty"`
	// Refs lists the components of a commit step in edit order.
	Refs     []string       `json:"refs,omitempty"`
	Versions []VersionTrace `json:"versions,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// VersionTrace is a resolved version with uuids replaced by scenario refs.
type VersionTrace struct {
	Status string       `json:"status"`
	Time   int64        `json:"time"`
	Author int          `json:"author"`
	Module int          `json:"module"`
	Path   int          `json:"path"`
	Fields field.Object `json:"fields"`
}

// value converts the event to a field value for canonical encoding.
func (e TraceEvent) value() field.Object {
	obj := field.NewObject(
		field.P("step", field.Int(e.Step)),
		field.P("type", field.String(e.Type)),
		field.P("outcome", field.String(e.Outcome)),
	)
	if e.Ref != "" {
		obj["ref"] = field.String(e.Ref)
	}
	if e.Time != 0 {
		obj["time"] = field.Int(e.Time)
	}
	if len(e.Refs) > 0 {
		refs := make(field.List, len(e.Refs))
		for i, r := range e.Refs {
			refs[i] = field.String(r)
		}
		obj["refs"] = refs
	}
	if len(e.Versions) > 0 {
		versions := make(field.List, len(e.Versions))
		for i, v := range e.Versions {
			versions[i] = field.NewObject(
				field.P("status", field.String(v.Status)),
				field.P("time", field.Int(v.Time)),
				field.P("author", field.Int(v.Author)),
				field.P("module", field.Int(v.Module)),
				field.P("path", field.Int(v.Path)),
				field.P("fields", v.Fields),
			)
		}
		obj["versions"] = versions
	}
	if e.Error != "" {
		obj["error"] = field.String(e.Error)
	}
	return obj
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass   bool         `json:"pass"`
	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Find returns the first event of type typ about ref, or false.
func (r *Result) Find(typ, ref string) (TraceEvent, bool) {
	for _, e := range r.Trace {
		if e.Type == typ && e.Ref == ref {
			return e, true
		}
	}
	return TraceEvent{}, false
}
