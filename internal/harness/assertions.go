package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/termvc/internal/field"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", ev.Step, describe(ev))
		}
	}
	return buf.String()
}

func describe(ev TraceEvent) string {
	var parts []string
	parts = append(parts, ev.Type)
	if ev.Ref != "" {
		parts = append(parts, ev.Ref)
	}
	if len(ev.Refs) > 0 {
		parts = append(parts, strings.Join(ev.Refs, ","))
	}
	parts = append(parts, ev.Outcome)
	return strings.Join(parts, " ")
}

func (h *Harness) evaluate(a Assertion, result *Result) error {
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(result.Trace, a)
	case AssertTraceCount:
		return assertTraceCount(result.Trace, a)
	case AssertFinalVersion:
		ev := TraceEvent{Step: -1, Type: StepResolve, Ref: a.Ref}
		h.resolve(&ev, a.Ref, a.View)
		if msgs := checkExpect(ev, a.Expect); len(msgs) > 0 {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("%s matches expectation", a.Ref),
				Actual:   strings.Join(msgs, "; "),
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

// matches reports whether ev is a step of type a.Step about a.Ref with
// outcome a.Outcome. Empty Ref and Outcome match anything; a commit
// matches a Ref it touched.
func matches(ev TraceEvent, a Assertion) bool {
	if ev.Type != a.Step {
		return false
	}
	if a.Outcome != "" && ev.Outcome != a.Outcome {
		return false
	}
	if a.Ref == "" || ev.Ref == a.Ref {
		return true
	}
	for _, r := range ev.Refs {
		if r == a.Ref {
			return true
		}
	}
	return false
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if matches(ev, a) {
			return nil
		}
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("trace contains %s", describe(TraceEvent{Type: a.Step, Ref: a.Ref, Outcome: a.Outcome})),
		Actual:   "no matching step",
		Trace:    trace,
	}
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if matches(ev, a) {
			n++
		}
	}
	if n != a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%d matching steps", a.Count),
			Actual:   fmt.Sprintf("%d matching steps", n),
			Trace:    trace,
		}
	}
	return nil
}

// checkExpect returns one message per unmet expectation.
func checkExpect(ev TraceEvent, x *Expect) []string {
	var msgs []string
	if x.Outcome != "" && ev.Outcome != x.Outcome {
		msgs = append(msgs, fmt.Sprintf("outcome: expected %s, got %s", x.Outcome, ev.Outcome))
	}
	if x.Error != "" && !strings.Contains(ev.Error, x.Error) {
		msgs = append(msgs, fmt.Sprintf("error: expected %q in %q", x.Error, ev.Error))
	}
	if x.Versions != nil && len(ev.Versions) != *x.Versions {
		msgs = append(msgs, fmt.Sprintf("versions: expected %d, got %d", *x.Versions, len(ev.Versions)))
	}

	if x.Status == "" && x.Time == nil && len(x.Fields) == 0 {
		return msgs
	}
	if len(ev.Versions) == 0 {
		return append(msgs, "no version to check")
	}
	v := ev.Versions[0]
	if x.Status != "" && v.Status != x.Status {
		msgs = append(msgs, fmt.Sprintf("status: expected %s, got %s", x.Status, v.Status))
	}
	if x.Time != nil && v.Time != *x.Time {
		msgs = append(msgs, fmt.Sprintf("time: expected %d, got %d", *x.Time, v.Time))
	}
	for k, want := range x.Fields {
		wantValue, err := field.FromAny(want)
		if err != nil {
			msgs = append(msgs, fmt.Sprintf("fields.%s: %v", k, err))
			continue
		}
		got, present := v.Fields[k]
		if _, null := wantValue.(field.Null); null {
			if present {
				msgs = append(msgs, fmt.Sprintf("fields.%s: expected absent, got %s", k, field.MustCanonical(got)))
			}
			continue
		}
		if !present {
			msgs = append(msgs, fmt.Sprintf("fields.%s: expected %s, got nothing", k, field.MustCanonical(wantValue)))
			continue
		}
		if !field.Equal(got, wantValue) {
			msgs = append(msgs, fmt.Sprintf("fields.%s: expected %s, got %s", k, field.MustCanonical(wantValue), field.MustCanonical(got)))
		}
	}
	return msgs
}
