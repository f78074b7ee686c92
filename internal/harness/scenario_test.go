package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/termvc/internal/engine"
	"github.com/roach88/termvc/internal/path"
)

func TestLoadScenario_ValidFile(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/retire_component.yaml")
	require.NoError(t, err)

	assert.Equal(t, "retire_component", s.Name)
	assert.Equal(t, []path.Path{{ID: 1, Name: "main"}}, s.Paths)
	require.Len(t, s.Flow, 6)
	require.NotNil(t, s.Flow[0].Commit)
	assert.Equal(t, engine.Session{Author: 1, Module: 1, Path: 1}, s.Flow[0].Commit.Session)
	assert.Equal(t, "heart", s.Flow[0].Commit.Create[0].Ref)
	assert.Equal(t, []string{"heart"}, s.Flow[1].Commit.Retire)

	require.NotNil(t, s.Flow[2].Resolve)
	assert.Equal(t, []string{"active", "inactive"}, s.Flow[2].Resolve.View.Statuses)
	assert.Equal(t, "150", s.Flow[2].Resolve.View.Positions[0].Time)
	require.NotNil(t, s.Flow[2].Expect.Time)
	assert.Equal(t, int64(100), *s.Flow[2].Expect.Time)

	require.NotNil(t, s.Flow[5].History)
	assert.Len(t, s.Assertions, 2)
}

func TestLoadScenario_ResolvesPathsFile(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/concurrent_edits.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("testdata", "scenarios", "paths.cue"), s.PathsFile)
	assert.Equal(t, int64(200), s.Flow[1].Commit.Time)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	file := filepath.Join(t.TempDir(), "typo.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
name: typo
description: "misspelled key"
paths: [{id: 1, name: main}]
flow:
  - commit:
      session: {author: 1, module: 1, path: 1}
      craete: [{ref: c, kind: concept}]
`), 0o644))

	_, err := LoadScenario(file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
	assert.Contains(t, err.Error(), "craete")
}

func TestParseScenario_Invalid(t *testing.T) {
	const header = "name: n\ndescription: d\npaths: [{id: 1, name: main}]\n"
	const create = "  - commit: {session: {author: 1, module: 1, path: 1}, create: [{ref: c, kind: concept}]}\n"

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"missing name", "description: d\npaths: [{id: 1, name: main}]\nflow:\n" + create, "name is required"},
		{"missing description", "name: n\npaths: [{id: 1, name: main}]\nflow:\n" + create, "description is required"},
		{"missing paths", "name: n\ndescription: d\nflow:\n" + create, "paths or paths_file is required"},
		{"both paths", header + "paths_file: p.cue\nflow:\n" + create, "mutually exclusive"},
		{"empty flow", header + "flow: []\n", "flow list is required"},
		{"two actions", header + "flow:\n  - {commit: {session: {path: 1}, retire: [c]}, history: {ref: c}}\n", "exactly one of"},
		{"no action", header + "flow:\n  - expect: {outcome: single}\n", "exactly one of"},
		{"empty commit", header + "flow:\n  - commit: {session: {path: 1}}\n", "no operations"},
		{"negative time", header + "flow:\n  - commit: {session: {path: 1}, time: -1, create: [{ref: c, kind: concept}]}\n", "non-negative"},
		{"bad kind", header + "flow:\n  - commit: {session: {path: 1}, create: [{ref: c, kind: widget}]}\n", "create c"},
		{"missing ref", header + "flow:\n  - commit: {session: {path: 1}, create: [{kind: concept}]}\n", "ref is required"},
		{"duplicate ref", header + "flow:\n" + create + create, `ref "c" already defined`},
		{"unknown set ref", header + "flow:\n  - commit: {session: {path: 1}, set: [{ref: x, fields: {}}]}\n", `unknown ref "x"`},
		{"unknown retire ref", header + "flow:\n" + create + "  - commit: {session: {path: 1}, retire: [x]}\n", `unknown ref "x"`},
		{"resolve before create", header + "flow:\n  - resolve: {ref: c}\n" + create, `flow[0]: unknown ref "c"`},
		{"unknown assertion", header + "flow:\n" + create + "assertions:\n  - {type: final_state}\n", "unknown assertion type"},
		{"assertion without type", header + "flow:\n" + create + "assertions:\n  - {step: commit}\n", "type is required"},
		{"contains without step", header + "flow:\n" + create + "assertions:\n  - {type: trace_contains}\n", "step is required"},
		{"negative count", header + "flow:\n" + create + "assertions:\n  - {type: trace_count, step: commit, count: -1}\n", "non-negative"},
		{"final without expect", header + "flow:\n" + create + "assertions:\n  - {type: final_version, ref: c}\n", "expect is required"},
		{"final unknown ref", header + "flow:\n" + create + "assertions:\n  - {type: final_version, ref: x, expect: {}}\n", `unknown ref "x"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
