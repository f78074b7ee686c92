package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/termvc/internal/changeset"
	"github.com/roach88/termvc/internal/engine"
)

// ChangesetResult reports an export or import.
type ChangesetResult struct {
	File      string `json:"file"`
	Records   int    `json:"records"`
	Offset    int64  `json:"offset,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

// NewChangesetCommand creates the changeset command group.
func NewChangesetCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "changeset",
		Short: "Exchange component chronologies with other installations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "export <file> [uuid...]",
		Short: "Append component chronologies to a changeset file",
		Long: `Append the published chronology of the given components (all components
when none are given) to a changeset file, one record per component.

Example:
  termvc changeset export out.changeset`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChangesetExport(rootOpts, args[0], args[1:], cmd)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Replay a changeset file",
		Long: `Apply every record of a changeset file after its offset marker
(<file>.offset). Records already known are skipped, so importing a file
twice changes nothing. A truncated trailing record is left for the next
import.

Exit codes:
  0 - Replayed
  1 - A record was rejected
  2 - Command error

Example:
  termvc changeset import incoming/module-2.changeset`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChangesetImport(rootOpts, args[0], cmd)
		},
	})

	return cmd
}

func runChangesetExport(opts *RootOptions, file string, ids []string, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts)

	a, err := openApp(cmd, opts, appOptions{})
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	nids := make([]int, 0, len(ids))
	for _, s := range ids {
		id, err := uuid.Parse(s)
		if err != nil {
			return f.Fail(WrapExitError(ExitCommandError, "invalid uuid", err))
		}
		nid, ok := a.engine.NidFor(id)
		if !ok {
			return f.Fail(WrapExitError(ExitCommandError, "unknown component", fmt.Errorf("%s: %w", id, engine.ErrUnknownComponent)))
		}
		nids = append(nids, nid)
	}

	records, err := a.engine.ExportRecords(nids...)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "failed to export", err))
	}

	w, err := changeset.OpenWriter(file)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "failed to open changeset", err))
	}
	for _, rec := range records {
		if err := w.Append(lastCommit(rec), rec); err != nil {
			_ = w.Close()
			return f.Fail(WrapExitError(ExitCommandError, "failed to write changeset", err))
		}
	}
	if err := w.Close(); err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "failed to close changeset", err))
	}
	a.logger.Info("changeset exported", "file", file, "records", len(records))

	result := ChangesetResult{File: file, Records: len(records)}
	if f.JSON() {
		return f.Success(result)
	}
	f.Printf("Exported %d records to %s\n", result.Records, result.File)
	return nil
}

// lastCommit is the time of a record's newest entry.
func lastCommit(rec changeset.Record) int64 {
	t := rec.Primordial.Stamp.Time
	for _, e := range rec.Revisions {
		t = max(t, e.Stamp.Time)
	}
	return t
}

func runChangesetImport(opts *RootOptions, file string, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts)

	a, err := openApp(cmd, opts, appOptions{})
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	stats, err := changeset.Replay(commandContext(cmd), file, a.engine, a.logger)
	result := ChangesetResult{File: file, Records: stats.Records, Offset: stats.Offset, Truncated: stats.Truncated}
	if err != nil {
		return f.Fail(WrapEngineError(fmt.Sprintf("replay stopped after %d records", stats.Records), err))
	}

	if f.JSON() {
		return f.Success(result)
	}
	f.Printf("Imported %d records from %s (offset %d)\n", result.Records, result.File, result.Offset)
	if result.Truncated {
		f.Printf("Trailing partial record left for the next import.\n")
	}
	return nil
}
