package cli

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/termvc/internal/config"
	"github.com/roach88/termvc/internal/path"
)

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	Force bool // overwrite an existing config file
}

// InitResult reports what init created.
type InitResult struct {
	Config     string `json:"config,omitempty"`
	Database   string `json:"database"`
	Changesets string `json:"changesets"`
	Paths      int    `json:"paths"`
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the database, changeset directory and main path",
		Long: `Create a termvc installation.

Writes the default configuration to --config (when given and absent),
creates the database and changeset directory, and defines path 1 "main"
when no path exists yet.

Examples:
  termvc init
  termvc init --config termvc.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite an existing config file")

	return cmd
}

func runInit(opts *InitOptions, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts.RootOptions)
	var result InitResult

	if opts.Config != "" {
		_, err := os.Stat(opts.Config)
		switch {
		case errors.Is(err, os.ErrNotExist) || (err == nil && opts.Force):
			if err := config.DefaultConfig().Save(opts.Config); err != nil {
				return f.Fail(WrapExitError(ExitCommandError, "failed to write config", err))
			}
			result.Config = opts.Config
		case err != nil:
			return f.Fail(WrapExitError(ExitCommandError, "failed to stat config", err))
		}
	}

	a, err := openApp(cmd, opts.RootOptions, appOptions{})
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	if err := os.MkdirAll(a.cfg.ChangesetDir, 0o755); err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "failed to create changeset directory", err))
	}
	if len(a.engine.Paths().Paths()) == 0 {
		if err := a.engine.AddPath(commandContext(cmd), path.Path{ID: 1, Name: "main"}); err != nil {
			return f.Fail(WrapExitError(ExitCommandError, "failed to define main path", err))
		}
	}

	result.Database = a.cfg.Database
	result.Changesets = a.cfg.ChangesetDir
	result.Paths = len(a.engine.Paths().Paths())

	if f.JSON() {
		return f.Success(result)
	}
	if result.Config != "" {
		f.Printf("Wrote %s\n", result.Config)
	}
	f.Printf("Database:   %s\n", result.Database)
	f.Printf("Changesets: %s\n", result.Changesets)
	f.Printf("Paths:      %d\n", result.Paths)
	return nil
}
