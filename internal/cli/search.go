package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/termvc/internal/index"
)

// SearchOptions holds flags for the search command.
type SearchOptions struct {
	*RootOptions
	Active   bool
	Language string
	Limit    int
	Reindex  bool
}

// SearchResult lists description hits, best first.
type SearchResult struct {
	Query string      `json:"query"`
	Hits  []index.Hit `json:"hits"`
}

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SearchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "search <text>",
		Short: "Full-text search over descriptions",
		Long: `Search description text as resolved under the configured view.

Without a configured index_path the index is built in memory for the
search. A persistent index is rebuilt when empty or with --reindex.

Examples:
  termvc search heart
  termvc search "cardiac structure" --active --language en --limit 5`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Active, "active", false, "only active descriptions")
	cmd.Flags().StringVar(&opts.Language, "language", "", "language code filter")
	cmd.Flags().IntVar(&opts.Limit, "limit", 10, "maximum hits")
	cmd.Flags().BoolVar(&opts.Reindex, "reindex", false, "rebuild the index before searching")

	return cmd
}

func runSearch(opts *SearchOptions, text string, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts.RootOptions)
	ctx := commandContext(cmd)

	if opts.Limit <= 0 {
		return f.Fail(NewExitError(ExitCommandError, "limit must be positive"))
	}

	a, err := openApp(cmd, opts.RootOptions, appOptions{memoryIndex: true})
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	n, err := a.index.Count()
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "failed to read index", err))
	}
	if opts.Reindex || a.cfg.IndexPath == "" || n == 0 {
		if err := a.index.Reindex(ctx); err != nil {
			return f.Fail(WrapExitError(ExitCommandError, "failed to build index", err))
		}
		a.logger.Debug("index rebuilt", "persistent", a.cfg.IndexPath != "")
	}

	hits, err := a.index.Search(ctx, index.Query{
		Text:       text,
		ActiveOnly: opts.Active,
		Language:   opts.Language,
		Limit:      opts.Limit,
	})
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "search failed", err))
	}

	result := SearchResult{Query: text, Hits: hits}
	if result.Hits == nil {
		result.Hits = []index.Hit{}
	}
	if f.JSON() {
		return f.Success(result)
	}
	if len(hits) == 0 {
		f.Printf("No matches.\n")
		return nil
	}
	for _, h := range hits {
		f.Printf("%.3f %s %q (concept %s, %s)\n", h.Score, h.UUID, h.Text, h.Concept, h.Status)
	}
	return nil
}
