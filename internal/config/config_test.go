package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/termvc/internal/engine"
	"github.com/roach88/termvc/internal/path"
	"github.com/roach88/termvc/internal/stamp"
	"github.com/roach88/termvc/internal/view"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))
	return file
}

func TestLoad_EmptyNameReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	require.NoError(t, cfg.Validate())

	coord, err := cfg.View.Coordinate()
	require.NoError(t, err)
	assert.Equal(t, view.PositionSet{{Path: 1, Time: path.Latest}}, coord.Positions)
	assert.Equal(t, view.KeepAll{}, coord.Manager)
}

func TestLoad_OverridesAndDefaults(t *testing.T) {
	file := writeFile(t, "termvc.yaml", `
database: /var/lib/termvc/main.db
index_path: /var/lib/termvc/index
cache_size: 128
log_level: debug
metrics_addr: ":9102"
session:
  author: 7
  module: 3
  path: 2
view:
  statuses: [active]
  positions:
    - {path: 2, time: 150}
    - {path: 1, time: latest}
  modules: [3, 1]
  precedence: time
  contradictions: module-priority
`)

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/termvc/main.db", cfg.Database)
	assert.Equal(t, "changesets", cfg.ChangesetDir, "unset fields keep defaults")
	assert.Equal(t, 128, cfg.CacheSize)
	assert.Equal(t, 2, cfg.IndexWorkers)
	assert.Equal(t, ":9102", cfg.MetricsAddr)
	assert.Equal(t, engine.Session{Author: 7, Module: 3, Path: 2}, cfg.Session)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	coord, err := cfg.View.Coordinate()
	require.NoError(t, err)
	assert.Equal(t, []stamp.Status{stamp.Active}, coord.Statuses)
	assert.Equal(t, view.PositionSet{{Path: 2, Time: 150}, {Path: 1, Time: path.Latest}}, coord.Positions)
	assert.Equal(t, []int{3, 1}, coord.Modules)
	assert.Equal(t, view.PrecedenceTime, coord.Precedence)
	assert.Equal(t, view.ModulePriority{}, coord.Manager)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad yaml", "database: [", "parse config file"},
		{"bad level", "log_level: loud", "log_level"},
		{"bad status", "view: {statuses: [archived]}", "unknown status"},
		{"bad time", "view: {positions: [{path: 1, time: soon}]}", "invalid position time"},
		{"bad manager", "view: {contradictions: coin-flip}", "unknown contradiction manager"},
		{"bad precedence", "view: {precedence: alphabetical}", "unknown precedence"},
		{"negative cache", "cache_size: -1", "cache_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "termvc.yaml", tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSave_RoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MetricsAddr = "localhost:9102"
	cfg.View.Statuses = []string{"active"}

	file := filepath.Join(t.TempDir(), "nested", "termvc.yaml")
	require.NoError(t, cfg.Save(file))

	loaded, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestRetryPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IndexRetries = 5
	p := cfg.RetryPolicy()
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, engine.DefaultRetryPolicy().InitialDelay, p.InitialDelay)
}

func TestParsePosition(t *testing.T) {
	tests := []struct {
		in      string
		want    path.Position
		wantErr bool
	}{
		{in: "1", want: path.Position{Path: 1, Time: path.Latest}},
		{in: "2@150", want: path.Position{Path: 2, Time: 150}},
		{in: "3@latest", want: path.Position{Path: 3, Time: path.Latest}},
		{in: " 4@0 ", want: path.Position{Path: 4, Time: 0}},
		{in: "main", wantErr: true},
		{in: "0@10", wantErr: true},
		{in: "1@-5", wantErr: true},
		{in: "1@later", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePosition(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
