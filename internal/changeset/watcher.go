package changeset

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Extension is the file extension of changeset files.
const Extension = ".changeset"

// Watcher replays changeset files as the sync service drops or extends them
// in a directory.
type Watcher struct {
	dir     string
	applier Applier
	logger  *slog.Logger
	// OnReplay, if set, is called after every replay attempt.
	OnReplay func(Stats, error)
}

// NewWatcher creates a watcher over dir.
func NewWatcher(dir string, applier Applier, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{dir: dir, applier: applier, logger: logger}
}

// ReplayAll replays every changeset file in the directory in name order.
// Errors are logged and the first one returned; remaining files are still
// replayed.
func (w *Watcher) ReplayAll(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read changeset dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && isChangeset(e.Name()) {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)

	var first error
	for _, name := range names {
		if err := w.replay(ctx, filepath.Join(w.dir, name)); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Run replays existing files, then watches the directory until ctx is
// cancelled. Replay failures are logged and do not stop the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create changeset dir: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	_ = w.ReplayAll(ctx)
	w.logger.Info("changeset watcher started", "dir", w.dir)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("changeset watcher stopping", "dir", w.dir)
			return ctx.Err()

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !isChangeset(ev.Name) || ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			_ = w.replay(ctx, ev.Name)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("changeset watcher error", "dir", w.dir, "error", err)
		}
	}
}

func (w *Watcher) replay(ctx context.Context, file string) error {
	stats, err := Replay(ctx, file, w.applier, w.logger)
	if err != nil {
		w.logger.Error("changeset replay failed", "file", file, "offset", stats.Offset, "error", err)
	}
	if w.OnReplay != nil {
		w.OnReplay(stats, err)
	}
	return err
}

func isChangeset(name string) bool {
	return strings.HasSuffix(name, Extension)
}
