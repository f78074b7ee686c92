package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/termvc/internal/changeset"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	MetricsAddr string
	Once        bool // replay pending files and exit
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Replay changeset files as they arrive",
		Long: `Replay every changeset file in a directory (the configured changeset
directory by default), then keep replaying files as they are created or
extended until interrupted.

When a metrics address is set, Prometheus metrics are served on
/metrics and a liveness probe on /health.

Examples:
  termvc watch
  termvc watch incoming --metrics-addr :9090
  termvc watch --once`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			return runWatch(opts, dir, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "metrics listen address (default from config)")
	cmd.Flags().BoolVar(&opts.Once, "once", false, "replay pending changesets and exit")

	return cmd
}

func runWatch(opts *WatchOptions, dir string, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts.RootOptions)

	a, err := openApp(cmd, opts.RootOptions, appOptions{metrics: true})
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	if dir == "" {
		dir = a.cfg.ChangesetDir
	}
	addr := opts.MetricsAddr
	if addr == "" {
		addr = a.cfg.MetricsAddr
	}

	w := changeset.NewWatcher(dir, a.engine, a.logger)
	w.OnReplay = func(s changeset.Stats, err error) {
		if err == nil && s.Records > 0 {
			f.VerboseLog("replayed %s: %d records, offset %d", s.File, s.Records, s.Offset)
		}
	}

	if opts.Once {
		if err := w.ReplayAll(commandContext(cmd)); err != nil {
			return f.Fail(WrapEngineError("replay failed", err))
		}
		if f.JSON() {
			return f.Success(map[string]string{"dir": dir})
		}
		f.Printf("Replayed changesets in %s\n", dir)
		return nil
	}

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			a.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Run(gctx)
	})
	if addr != "" {
		g.Go(func() error {
			return a.metrics.Serve(gctx, addr)
		})
		a.logger.Info("serving metrics", "addr", addr)
	}

	f.Printf("Watching %s. Press Ctrl-C to stop.\n", dir)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return f.Fail(WrapExitError(ExitFailure, "watch stopped", fmt.Errorf("%s: %w", dir, err)))
	}
	a.logger.Info("watcher stopped")
	return nil
}
