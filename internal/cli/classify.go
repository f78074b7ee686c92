package cli

import (
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/termvc/internal/classifier"
)

// ClassifyOptions holds flags for the classify command.
type ClassifyOptions struct {
	*RootOptions
	IsA string // uuid of the "is a" relationship type
}

// ClassifyResult summarizes a classification run.
type ClassifyResult struct {
	Stated      int    `json:"stated"`
	Inferred    int    `json:"inferred"`
	Added       int    `json:"added"`
	Retired     int    `json:"retired"`
	Reactivated int    `json:"reactivated"`
	Time        *int64 `json:"time,omitempty"`
}

// NewClassifyCommand creates the classify command.
func NewClassifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClassifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Infer relationships from the stated hierarchy",
		Long: `Classify the stated relationships visible under the configured view and
commit the inferred set as the configured session. Inferred relationships
that are no longer entailed are retired; nothing is committed when the
inferred set is already current.

Exit codes:
  0 - Classified
  1 - Rejected (cycle in the hierarchy, or the commit failed validation)
  2 - Command error

Example:
  termvc classify --isa 116680003-...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClassify(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.IsA, "isa", "", "uuid of the is-a relationship type (required)")
	_ = cmd.MarkFlagRequired("isa")

	return cmd
}

func runClassify(opts *ClassifyOptions, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts.RootOptions)

	isa, err := uuid.Parse(opts.IsA)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "invalid --isa", err))
	}

	a, err := openApp(cmd, opts.RootOptions, appOptions{changesets: true})
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	coord, err := a.cfg.View.Coordinate()
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "invalid view", err))
	}

	runner := &classifier.Runner{
		Engine:     a.engine,
		Classifier: classifier.IsA{Type: isa},
		Coordinate: coord,
		Session:    a.cfg.Session,
		Logger:     a.logger,
	}
	res, err := runner.Run(commandContext(cmd))
	if err != nil {
		if classifier.IsCycleError(err) {
			return f.Fail(WrapExitError(ExitFailure, "classification failed", err))
		}
		return f.Fail(WrapEngineError("classification failed", err))
	}

	result := ClassifyResult{
		Stated:      res.Stated,
		Inferred:    res.Inferred,
		Added:       res.Added,
		Retired:     res.Retired,
		Reactivated: res.Reactivated,
	}
	if res.Changed() {
		result.Time = &res.Commit.Time
	}

	if f.JSON() {
		return f.Success(result)
	}
	f.Printf("Stated %d, inferred %d: %d added, %d retired, %d reactivated\n",
		result.Stated, result.Inferred, result.Added, result.Retired, result.Reactivated)
	if result.Time != nil {
		f.Printf("Committed at %d\n", *result.Time)
	} else {
		f.Printf("Inferred set already current.\n")
	}
	return nil
}
