package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/termvc/internal/changeset"
	"github.com/roach88/termvc/internal/config"
	"github.com/roach88/termvc/internal/engine"
	"github.com/roach88/termvc/internal/index"
	"github.com/roach88/termvc/internal/metrics"
	"github.com/roach88/termvc/internal/path"
	"github.com/roach88/termvc/internal/store"
)

// hookDrainTimeout bounds how long Close waits for queued index syncs.
const hookDrainTimeout = 10 * time.Second

// app is an opened installation: the store, the engine over it and the
// collaborators the config enables.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	engine  *engine.Engine
	index   *index.Index
	writer  *changeset.Writer
	metrics *metrics.Metrics
}

type appOptions struct {
	// memoryIndex opens an in-memory index when none is configured.
	memoryIndex bool
	// changesets appends every commit to the outgoing changeset file.
	changesets bool
	metrics    bool
}

// commandContext returns the command's context, or Background when the
// command was not started with one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// setupLogging installs a text logger on stderr at the configured level,
// or debug with --verbose.
func setupLogging(cmd *cobra.Command, opts *RootOptions, cfg *config.Config) (*slog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid log level", err)
	}
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger, nil
}

// outgoingChangeset is the file local commits are appended to. It lives
// below the changeset directory so watchers of that directory skip it.
func outgoingChangeset(cfg *config.Config) string {
	name := fmt.Sprintf("module-%d%s", cfg.Session.Module, changeset.Extension)
	return filepath.Join(cfg.ChangesetDir, "outgoing", name)
}

func openApp(cmd *cobra.Command, opts *RootOptions, ao appOptions) (a *app, err error) {
	ctx := commandContext(cmd)

	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger, err := setupLogging(cmd, opts, cfg)
	if err != nil {
		return nil, err
	}

	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.store, err = store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	logger.Debug("database ready", "path", cfg.Database)

	engineOpts := []engine.Option{
		engine.WithStore(a.store),
		engine.WithLogger(logger),
		engine.WithCacheSize(cfg.CacheSize),
		engine.WithIndexWorkers(cfg.IndexWorkers),
		engine.WithRetryPolicy(cfg.RetryPolicy()),
	}

	if ao.metrics {
		a.metrics = metrics.New()
		engineOpts = append(engineOpts, engine.WithMetrics(a.metrics))
	}

	if ao.changesets {
		file := outgoingChangeset(cfg)
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to create changeset directory", err)
		}
		a.writer, err = changeset.OpenWriter(file)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open changeset writer", err)
		}
		engineOpts = append(engineOpts, engine.WithChangesetWriter(a.writer))
	}

	if cfg.IndexPath != "" || ao.memoryIndex {
		coord, err := cfg.View.Coordinate()
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid view", err)
		}
		// The index stores status per document; filtering happens at query time.
		coord.Statuses = nil
		a.index, err = index.Open(cfg.IndexPath, coord, index.WithLogger(logger))
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open index", err)
		}
		engineOpts = append(engineOpts, engine.WithIndexHook(a.index))
	}

	a.engine, err = engine.New(ctx, engineOpts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to start engine", err)
	}
	if a.index != nil {
		a.index.Bind(a.engine)
	}

	if cfg.PathsFile != "" {
		paths, err := config.LoadPaths(cfg.PathsFile)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load paths", err)
		}
		if _, err := syncPaths(ctx, a.engine, paths); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to define paths", err)
		}
	}
	return a, nil
}

// Close drains index syncs and closes everything the app opened.
func (a *app) Close() error {
	var errs []error
	if a.engine != nil {
		if a.index != nil {
			ctx, cancel := context.WithTimeout(context.Background(), hookDrainTimeout)
			if err := a.engine.WaitForHooks(ctx); err != nil {
				a.logger.Warn("index sync still pending at shutdown", "error", err)
			}
			cancel()
		}
		errs = append(errs, a.engine.Close())
	}
	if a.index != nil {
		errs = append(errs, a.index.Close())
	}
	if a.writer != nil {
		errs = append(errs, a.writer.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

// syncPaths defines every path of defs the engine does not know yet and
// adds missing origins to the ones it does. It returns the number of paths
// and origins added. defs must be ordered origins first.
func syncPaths(ctx context.Context, e *engine.Engine, defs []path.Path) (int, error) {
	added := 0
	for _, p := range defs {
		existing, ok := e.Paths().Get(p.ID)
		if !ok {
			if err := e.AddPath(ctx, p); err != nil {
				return added, err
			}
			added++
			continue
		}
		if existing.Name != p.Name {
			return added, &path.ConfigurationError{
				Code:    path.ErrCodeDuplicatePath,
				Message: fmt.Sprintf("path %d is %q, not %q", p.ID, existing.Name, p.Name),
			}
		}
		for _, o := range p.Origins {
			if slices.Contains(existing.Origins, o) {
				continue
			}
			if err := e.AddOrigin(ctx, p.ID, o); err != nil {
				return added, err
			}
			added++
		}
	}
	return added, nil
}
