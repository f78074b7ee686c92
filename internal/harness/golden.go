package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/termvc/internal/field"
)

// Snapshot encodes a scenario trace as canonical JSON:
//
//	{"scenario":"...","trace":[{"outcome":"committed","refs":[...],"step":0,...}]}
//
// Keys are sorted and uuids appear as scenario refs, so the bytes depend
// only on the scenario.
func Snapshot(name string, result *Result) ([]byte, error) {
	trace := make(field.List, len(result.Trace))
	for i, ev := range result.Trace {
		trace[i] = ev.value()
	}
	return field.Canonical(field.NewObject(
		field.P("scenario", field.String(name)),
		field.P("trace", trace),
	))
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result's trace against a golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := Snapshot(name, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
