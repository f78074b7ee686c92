package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_GoldenScenarios(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		s, err := LoadScenario(file)
		require.NoError(t, err, file)

		t.Run(s.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/concurrent_edits.yaml")
	require.NoError(t, err)

	first, err := Run(context.Background(), s)
	require.NoError(t, err)
	second, err := Run(context.Background(), s)
	require.NoError(t, err)

	a, err := Snapshot(s.Name, first)
	require.NoError(t, err)
	b, err := Snapshot(s.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_StrictContradictionIsStepError(t *testing.T) {
	s := mustParse(t, `
name: strict
description: "strict manager refuses contradictions"
paths: [{id: 1, name: main}]
flow:
  - commit:
      session: {author: 1, module: 1, path: 1}
      create: [{ref: c, kind: concept, fields: {defined: false}}]
  - commit:
      session: {author: 1, module: 1, path: 1}
      time: 200
      set: [{ref: c, fields: {defined: true}}]
  - commit:
      session: {author: 2, module: 1, path: 1}
      time: 200
      set: [{ref: c, fields: {defined: false}}]
  - resolve:
      ref: c
      view: {contradictions: strict}
    expect: {outcome: error, error: "2 candidates"}
`)
	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Trace[3].Versions)
}

func TestRun_RejectedCommitForgetsRefs(t *testing.T) {
	s := mustParse(t, `
name: rejected
description: "schema violations reject the whole batch"
paths: [{id: 1, name: main}]
flow:
  - commit:
      session: {author: 1, module: 1, path: 1}
      create:
        - {ref: c, kind: concept, fields: {defined: false}}
        - {ref: d, kind: description, fields: {concept: "ref:c"}}
    expect: {outcome: rejected, error: "text"}
  - commit:
      session: {author: 1, module: 1, path: 1}
      create: [{ref: e, kind: concept, fields: {defined: true}}]
  - resolve: {ref: c}
    expect: {outcome: error, error: "unknown ref"}
  - resolve: {ref: e}
    expect: {outcome: single, time: 200, fields: {defined: true}}
`)
	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Trace[0].Refs)
}

func TestRun_RecordsFailures(t *testing.T) {
	s := mustParse(t, `
name: failing
description: "failed expectations are reported, not returned"
paths: [{id: 1, name: main}]
flow:
  - commit:
      session: {author: 1, module: 1, path: 1}
      create: [{ref: c, kind: concept, fields: {defined: false}}]
  - resolve: {ref: c}
    expect: {status: inactive, fields: {defined: true}}
  - commit:
      session: {author: 1, module: 1, path: 7}
      retire: [c]
assertions:
  - {type: trace_count, step: commit, count: 1}
  - {type: trace_contains, step: history}
`)
	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 5)
	assert.Contains(t, result.Errors[0], "status: expected inactive, got active")
	assert.Contains(t, result.Errors[1], "fields.defined: expected true, got false")
	assert.Contains(t, result.Errors[2], "flow[2] commit: expected committed, got error")
	assert.Contains(t, result.Errors[3], "trace_count")
	assert.Contains(t, result.Errors[4], "trace_contains")
}

func TestRun_NullFieldRemoves(t *testing.T) {
	s := mustParse(t, `
name: remove_field
description: "a null patch value removes the field"
paths: [{id: 1, name: main}]
flow:
  - commit:
      session: {author: 1, module: 1, path: 1}
      create:
        - {ref: c, kind: concept}
        - ref: d
          kind: description
          fields: {concept: "ref:c", text: "Heart", language: en}
  - commit:
      session: {author: 1, module: 1, path: 1}
      set: [{ref: d, fields: {language: null}}]
  - resolve: {ref: d}
    expect: {fields: {language: null, text: "Heart", concept: "ref:c"}}
`)
	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_PathErrors(t *testing.T) {
	s := mustParse(t, `
name: bad_paths
description: "path graph errors stop the run"
paths:
  - {id: 2, name: feature, origins: [{path: 1, time: 10}]}
flow:
  - commit:
      session: {author: 1, module: 1, path: 2}
      create: [{ref: c, kind: concept}]
`)
	_, err := Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feature")

	s.Paths = nil
	s.PathsFile = filepath.Join(t.TempDir(), "absent.cue")
	_, err = Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load paths")
}

func TestRun_Canceled(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/retire_component.yaml")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Run(ctx, s)
	assert.ErrorIs(t, err, context.Canceled)
}

func mustParse(t *testing.T, src string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(src))
	require.NoError(t, err)
	return s
}
