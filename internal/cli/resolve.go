package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/termvc/internal/config"
	"github.com/roach88/termvc/internal/engine"
	"github.com/roach88/termvc/internal/field"
	"github.com/roach88/termvc/internal/resolve"
	"github.com/roach88/termvc/internal/view"
)

// ViewFlags override the configured view.
type ViewFlags struct {
	At             []string // path[@time]
	Statuses       []string
	Modules        []int
	Precedence     string
	Contradictions string
}

func (v *ViewFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&v.At, "at", nil, "position path[@time], repeatable; time defaults to latest")
	cmd.Flags().StringSliceVar(&v.Statuses, "status", nil, "allowed statuses (active, inactive)")
	cmd.Flags().IntSliceVar(&v.Modules, "module", nil, "module preference, most preferred first")
	cmd.Flags().StringVar(&v.Precedence, "precedence", "", "precedence between positions (path|time)")
	cmd.Flags().StringVar(&v.Contradictions, "contradictions", "", "contradiction manager (keep-all|first-wins|last-wins|module-priority|strict)")
}

// apply overlays the flags on the configured view.
func (v *ViewFlags) apply(base config.ViewConfig) (view.Coordinate, error) {
	vc := base
	if len(v.Statuses) > 0 {
		vc.Statuses = v.Statuses
	}
	if len(v.Modules) > 0 {
		vc.Modules = v.Modules
	}
	if v.Precedence != "" {
		vc.Precedence = v.Precedence
	}
	if v.Contradictions != "" {
		vc.Contradictions = v.Contradictions
	}
	coord, err := vc.Coordinate()
	if err != nil {
		return view.Coordinate{}, err
	}
	if len(v.At) == 0 {
		return coord, nil
	}

	coord.Positions = nil
	for _, s := range v.At {
		pos, err := config.ParsePosition(s)
		if err != nil {
			return view.Coordinate{}, err
		}
		coord.Positions = append(coord.Positions, pos)
	}
	if err := coord.Validate(); err != nil {
		return view.Coordinate{}, err
	}
	return coord, nil
}

// VersionOutput is one component version in command output.
type VersionOutput struct {
	Stamp  int64        `json:"stamp"`
	Status string       `json:"status"`
	Time   int64        `json:"time"`
	Author int          `json:"author"`
	Module int          `json:"module"`
	Path   int          `json:"path"`
	Fields field.Object `json:"fields"`
}

func versionOutput(v engine.Version) VersionOutput {
	return VersionOutput{
		Stamp:  int64(v.Stamp),
		Status: v.Tuple.Status.String(),
		Time:   v.Tuple.Time,
		Author: v.Tuple.Author,
		Module: v.Tuple.Module,
		Path:   v.Tuple.Path,
		Fields: v.Fields,
	}
}

func (v VersionOutput) String() string {
	fields, err := field.Canonical(v.Fields)
	if err != nil {
		fields = []byte(err.Error())
	}
	return fmt.Sprintf("%s t=%d author=%d module=%d path=%d stamp=%d\n  %s",
		v.Status, v.Time, v.Author, v.Module, v.Path, v.Stamp, fields)
}

// ResolveResult reports a resolution.
type ResolveResult struct {
	UUID     string          `json:"uuid"`
	Kind     string          `json:"kind"`
	Outcome  string          `json:"outcome"` // absent | single | contradiction
	Versions []VersionOutput `json:"versions"`
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &ViewFlags{}

	cmd := &cobra.Command{
		Use:   "resolve <uuid>",
		Short: "Resolve a component under a view",
		Long: `Resolve a component as of a view. The view starts from the configured
one; flags replace its parts.

Exit codes:
  0 - Absent or a single version
  1 - Contradiction (several versions, or refused by a strict manager)
  2 - Command error

Examples:
  termvc resolve 0190a1b2-...
  termvc resolve 0190a1b2-... --at 2@150 --at 1 --status active
  termvc resolve 0190a1b2-... --contradictions first-wins --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(rootOpts, flags, args[0], cmd)
		},
	}
	flags.register(cmd)

	return cmd
}

func runResolve(opts *RootOptions, flags *ViewFlags, arg string, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts)

	id, err := uuid.Parse(arg)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "invalid uuid", err))
	}

	a, err := openApp(cmd, opts, appOptions{})
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	coord, err := flags.apply(a.cfg.View)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "invalid view", err))
	}
	nid, ok := a.engine.NidFor(id)
	if !ok {
		return f.Fail(WrapExitError(ExitCommandError, "unknown component", fmt.Errorf("%s: %w", id, engine.ErrUnknownComponent)))
	}
	c, _ := a.engine.Component(nid)

	res, err := a.engine.Resolve(nid, coord)
	if err != nil {
		if resolve.IsContradictionError(err) {
			a.logger.Warn("contradiction refused", "uuid", id, "error", err)
		}
		return f.Fail(WrapEngineError("resolve failed", err))
	}

	result := ResolveResult{UUID: id.String(), Kind: c.Kind.String(), Versions: []VersionOutput{}}
	switch {
	case res.IsAbsent():
		result.Outcome = "absent"
	case res.IsContradiction():
		result.Outcome = "contradiction"
	default:
		result.Outcome = "single"
	}
	for _, v := range res.Versions {
		result.Versions = append(result.Versions, versionOutput(v))
	}

	if f.JSON() {
		if err := f.Success(result); err != nil {
			return err
		}
	} else {
		f.Printf("%s %s: %s\n", result.Kind, result.UUID, result.Outcome)
		for _, v := range result.Versions {
			f.Printf("%s\n", v)
		}
	}

	if res.IsContradiction() {
		return NewExitError(ExitFailure, fmt.Sprintf("%d contradicting versions", len(res.Versions)))
	}
	return nil
}

// HistoryResult lists every committed version of a component.
type HistoryResult struct {
	UUID     string          `json:"uuid"`
	Kind     string          `json:"kind"`
	Versions []VersionOutput `json:"versions"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <uuid>",
		Short: "List every committed version of a component",
		Long: `List every committed version of a component in commit-time order,
each as seen from its own path and time.

Example:
  termvc history 0190a1b2-...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runHistory(opts *RootOptions, arg string, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts)

	id, err := uuid.Parse(arg)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "invalid uuid", err))
	}

	a, err := openApp(cmd, opts, appOptions{})
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	nid, ok := a.engine.NidFor(id)
	if !ok {
		return f.Fail(WrapExitError(ExitCommandError, "unknown component", fmt.Errorf("%s: %w", id, engine.ErrUnknownComponent)))
	}
	c, _ := a.engine.Component(nid)
	versions, err := a.engine.History(nid)
	if err != nil {
		return f.Fail(WrapEngineError("history failed", err))
	}

	result := HistoryResult{UUID: id.String(), Kind: c.Kind.String(), Versions: make([]VersionOutput, len(versions))}
	for i, v := range versions {
		result.Versions[i] = versionOutput(v)
	}

	if f.JSON() {
		return f.Success(result)
	}
	f.Printf("%s %s: %d versions\n", result.Kind, result.UUID, len(result.Versions))
	for _, v := range result.Versions {
		f.Printf("%s\n", v)
	}
	return nil
}
