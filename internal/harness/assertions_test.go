package harness

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/termvc/internal/field"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Step: 0, Type: StepCommit, Outcome: OutcomeCommitted, Time: 100, Refs: []string{"heart", "name"}},
		{Step: 1, Type: StepCommit, Outcome: OutcomeRejected, Error: "VALIDATION_REJECTED"},
		{Step: 2, Type: StepResolve, Ref: "name", Outcome: OutcomeSingle, Versions: []VersionTrace{{
			Status: "active", Time: 100, Author: 1, Module: 1, Path: 1,
			Fields: field.Object{"text": field.String("Heart"), "concept": field.String("ref:heart")},
		}}},
		{Step: 3, Type: StepResolve, Ref: "heart", Outcome: OutcomeAbsent},
	}
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	tests := []struct {
		name string
		a    Assertion
		ok   bool
	}{
		{"any commit", Assertion{Step: StepCommit}, true},
		{"commit touching ref", Assertion{Step: StepCommit, Ref: "name"}, true},
		{"rejected commit", Assertion{Step: StepCommit, Outcome: OutcomeRejected}, true},
		{"resolve ref and outcome", Assertion{Step: StepResolve, Ref: "heart", Outcome: OutcomeAbsent}, true},
		{"wrong outcome", Assertion{Step: StepResolve, Ref: "name", Outcome: OutcomeAbsent}, false},
		{"missing step type", Assertion{Step: StepHistory}, false},
		{"ref never touched", Assertion{Step: StepCommit, Ref: "lung"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.a.Type = AssertTraceContains
			err := assertTraceContains(trace, tt.a)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var ae *AssertionError
			require.True(t, errors.As(err, &ae))
			assert.Equal(t, AssertTraceContains, ae.Type)
			assert.Len(t, ae.Trace, len(trace))
		})
	}
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceCount(trace, Assertion{Type: AssertTraceCount, Step: StepCommit, Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Type: AssertTraceCount, Step: StepCommit, Outcome: OutcomeCommitted, Count: 1}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Type: AssertTraceCount, Step: StepHistory, Count: 0}))

	err := assertTraceCount(trace, Assertion{Type: AssertTraceCount, Step: StepResolve, Count: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected: 3 matching steps")
	assert.Contains(t, err.Error(), "Actual: 2 matching steps")
	assert.Contains(t, err.Error(), "[1] commit rejected")
	assert.Contains(t, err.Error(), "[0] commit heart,name committed")
}

func TestCheckExpect(t *testing.T) {
	ev := sampleTrace()[2]
	one := 1
	two := 2
	t100 := int64(100)
	t200 := int64(200)

	tests := []struct {
		name string
		x    Expect
		want []string
	}{
		{"empty", Expect{}, nil},
		{"all match", Expect{Outcome: OutcomeSingle, Versions: &one, Status: "active", Time: &t100,
			Fields: map[string]any{"text": "Heart", "concept": "ref:heart", "language": nil}}, nil},
		{"outcome", Expect{Outcome: OutcomeAbsent}, []string{"outcome: expected absent, got single"}},
		{"versions", Expect{Versions: &two}, []string{"versions: expected 2, got 1"}},
		{"time", Expect{Time: &t200}, []string{"time: expected 200, got 100"}},
		{"field value", Expect{Fields: map[string]any{"text": "Lung"}}, []string{`fields.text: expected "Lung", got "Heart"`}},
		{"field missing", Expect{Fields: map[string]any{"language": "en"}}, []string{`fields.language: expected "en", got nothing`}},
		{"field present", Expect{Fields: map[string]any{"text": nil}}, []string{`fields.text: expected absent, got "Heart"`}},
		{"error", Expect{Error: "boom"}, []string{`error: expected "boom" in ""`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, checkExpect(ev, &tt.x))
		})
	}
}

func TestCheckExpect_NoVersion(t *testing.T) {
	ev := sampleTrace()[3]
	msgs := checkExpect(ev, &Expect{Outcome: OutcomeAbsent, Status: "active"})
	assert.Equal(t, []string{"no version to check"}, msgs)
}
