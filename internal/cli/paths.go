package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/termvc/internal/config"
	"github.com/roach88/termvc/internal/path"
)

// PathsOptions holds flags for the paths commands.
type PathsOptions struct {
	*RootOptions
}

// PathOutput is one path in command output.
type PathOutput struct {
	ID      int           `json:"id"`
	Name    string        `json:"name"`
	Origins []path.Origin `json:"origins,omitempty"`
}

// NewPathsCommand creates the paths command group.
func NewPathsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PathsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "paths",
		Short: "Define and list editorial paths",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "load <paths.cue>",
		Short: "Define the paths of a CUE path graph",
		Long: `Define every path of a CUE path-graph file that is not defined yet,
and add origins missing from existing ones.

The file has the form:

  path: main: {id: 1}
  path: feature: {id: 2, origins: [{path: "main", time: 150}]}

Example:
  termvc paths load paths.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPathsLoad(opts, args[0], cmd)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List defined paths",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPathsList(opts, cmd)
		},
	})

	return cmd
}

func runPathsLoad(opts *PathsOptions, file string, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts.RootOptions)

	defs, err := config.LoadPaths(file)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "failed to load paths", err))
	}

	a, err := openApp(cmd, opts.RootOptions, appOptions{})
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	added, err := syncPaths(commandContext(cmd), a.engine, defs)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "failed to define paths", err))
	}

	if f.JSON() {
		return f.Success(map[string]int{"defined": len(defs), "added": added})
	}
	f.Printf("Loaded %d paths from %s (%d changes)\n", len(defs), file, added)
	return nil
}

func runPathsList(opts *PathsOptions, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts.RootOptions)

	a, err := openApp(cmd, opts.RootOptions, appOptions{})
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	paths := a.engine.Paths().Paths()
	out := make([]PathOutput, len(paths))
	for i, p := range paths {
		out[i] = PathOutput{ID: p.ID, Name: p.Name, Origins: p.Origins}
	}

	if f.JSON() {
		return f.Success(out)
	}
	if len(out) == 0 {
		f.Printf("No paths defined.\n")
		return nil
	}
	for _, p := range out {
		f.Printf("%d\t%s", p.ID, p.Name)
		for _, o := range p.Origins {
			f.Printf("\t<- %d@%d", o.Path, o.Time)
		}
		f.Printf("\n")
	}
	return nil
}

// describePath renders a path id with its name when defined.
func describePath(g *path.Graph, id int) string {
	if p, ok := g.Get(id); ok {
		return fmt.Sprintf("%d (%s)", id, p.Name)
	}
	return fmt.Sprintf("%d", id)
}
