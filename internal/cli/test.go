package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/termvc/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update    bool   // regenerate golden files
	Filter    string // scenario filter (glob pattern)
	GoldenDir string // golden file directory; default <scenario dir>/golden
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios>",
		Short: "Run conformance scenarios",
		Long: `Run scenario files (a file, or every .yaml/.yml below a directory) in
fresh in-memory engines, checking step expectations, assertions and,
when one exists, the golden trace <golden-dir>/<scenario name>.golden.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  termvc test ./scenarios
  termvc test ./scenarios --filter "retire_*"
  termvc test ./scenarios --update
  termvc test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.GoldenDir, "golden-dir", "", "golden file directory (default <scenario dir>/golden)")

	return cmd
}

func runTests(opts *TestOptions, target string, cmd *cobra.Command) error {
	files, err := scenarioTargets(target, opts.Filter)
	if err != nil {
		return err
	}

	r := &scenarioRunner{opts: opts, cmd: cmd, text: opts.Format != "json"}
	result := TestResult{Scenarios: make([]ScenarioResult, 0, len(files)), Total: len(files)}
	if len(files) == 0 && r.text {
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	for _, file := range files {
		res := r.run(file)
		if res.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Scenarios = append(result.Scenarios, res)
	}
	return writeTestSummary(cmd, opts, result)
}

// scenarioTargets expands target into scenario files.
func scenarioTargets(target, filter string) ([]string, error) {
	info, err := os.Stat(target)
	if err != nil {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("scenarios not found: %s", target))
	}
	if !info.IsDir() {
		return []string{target}, nil
	}
	files, err := findScenarioFiles(target, filter)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}
	return files, nil
}

// findScenarioFiles lists the .yaml and .yml files below dir whose base
// name, without extension, matches filter.
func findScenarioFiles(dir string, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		ext := filepath.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			ok, err := filepath.Match(filter, strings.TrimSuffix(d.Name(), ext))
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !ok {
				return nil
			}
		}
		files = append(files, p)
		return nil
	})
	return files, err
}

// scenarioRunner runs one scenario file at a time, printing a line per
// scenario in text mode.
type scenarioRunner struct {
	opts *TestOptions
	cmd  *cobra.Command
	text bool
}

func (r *scenarioRunner) report(res ScenarioResult, note string) ScenarioResult {
	if !r.text {
		return res
	}
	w := r.cmd.OutOrStdout()
	mark := "\u2713"
	if !res.Pass {
		mark = "\u2717"
	}
	fmt.Fprintf(w, "%s %s%s\n", mark, res.Name, note)
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
	return res
}

func (r *scenarioRunner) fail(name string, errs ...string) ScenarioResult {
	return r.report(ScenarioResult{Name: name, Errors: errs}, "")
}

func (r *scenarioRunner) run(file string) ScenarioResult {
	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return r.fail(filepath.Base(file), fmt.Sprintf("failed to load scenario: %v", err))
	}
	name := scenario.Name

	result, err := harness.Run(commandContext(r.cmd), scenario)
	if err != nil {
		return r.fail(name, fmt.Sprintf("execution failed: %v", err))
	}
	snapshot, err := harness.Snapshot(name, result)
	if err != nil {
		return r.fail(name, fmt.Sprintf("failed to encode trace: %v", err))
	}

	golden := goldenFilePath(r.opts.GoldenDir, file, name)
	if r.opts.Update {
		if err := updateGoldenFile(golden, snapshot); err != nil {
			return r.fail(name, fmt.Sprintf("failed to update golden file: %v", err))
		}
		return r.report(ScenarioResult{Name: name, Pass: true}, " (golden updated)")
	}

	errs := result.Errors
	want, err := os.ReadFile(golden)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// assertions only
	case err != nil:
		return r.fail(name, fmt.Sprintf("golden comparison failed: %v", err))
	case !bytes.Equal(want, snapshot):
		errs = append(errs, "trace does not match golden file (run with --update to regenerate)")
	}
	if len(errs) > 0 || !result.Pass {
		return r.fail(name, errs...)
	}
	return r.report(ScenarioResult{Name: name, Pass: true}, "")
}

// goldenFilePath returns the golden file of a scenario.
func goldenFilePath(goldenDir, scenarioFile, name string) string {
	if goldenDir == "" {
		goldenDir = filepath.Join(filepath.Dir(scenarioFile), "golden")
	}
	return filepath.Join(goldenDir, name+".golden")
}

func updateGoldenFile(goldenPath string, snapshot []byte) error {
	if err := os.MkdirAll(filepath.Dir(goldenPath), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(goldenPath, snapshot, 0o644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

// writeTestSummary prints the totals, or the JSON envelope, and turns
// failures into exit code 1.
func writeTestSummary(cmd *cobra.Command, opts *TestOptions, result TestResult) error {
	var failed error
	if result.Failed > 0 {
		failed = NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	if opts.Format == "json" {
		response := CLIResponse{Status: "ok", Data: result}
		if failed != nil {
			response.Status = "error"
			response.Error = &CLIError{Code: "E_TEST_FAILED", Message: failed.Error()}
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(response); err != nil {
			return err
		}
		return failed
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "\nTest Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	if failed == nil {
		fmt.Fprintln(w, "\u2713 All scenarios passed")
	}
	return failed
}
