// Package config loads termvc configuration: a YAML settings file and a
// CUE document defining the path graph.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/termvc/internal/engine"
	"github.com/roach88/termvc/internal/path"
	"github.com/roach88/termvc/internal/stamp"
	"github.com/roach88/termvc/internal/view"
)

// Config is the complete termvc configuration.
type Config struct {
	// Database is the SQLite file holding the durable log.
	Database string `yaml:"database"`
	// ChangesetDir receives outgoing changesets and is watched for
	// incoming ones.
	ChangesetDir string `yaml:"changeset_dir"`
	// IndexPath is the bleve index directory (empty = in-memory).
	IndexPath string `yaml:"index_path,omitempty"`
	// PathsFile is a CUE path-graph definition applied at startup.
	PathsFile    string `yaml:"paths_file,omitempty"`
	CacheSize    int    `yaml:"cache_size"`
	IndexWorkers int    `yaml:"index_workers"`
	IndexRetries int    `yaml:"index_retries"`
	LogLevel     string `yaml:"log_level"`
	// MetricsAddr is the listen address of the metrics endpoint (empty =
	// disabled).
	MetricsAddr string         `yaml:"metrics_addr,omitempty"`
	Session     engine.Session `yaml:"session"`
	View        ViewConfig     `yaml:"view"`
}

// ViewConfig is the default reader coordinate.
type ViewConfig struct {
	Statuses       []string         `yaml:"statuses,omitempty"`
	Positions      []PositionConfig `yaml:"positions"`
	Modules        []int            `yaml:"modules,omitempty"`
	Precedence     string           `yaml:"precedence"`
	Contradictions string           `yaml:"contradictions"`
}

// PositionConfig is a position in the config file. Time is an integer or
// "latest".
type PositionConfig struct {
	Path int    `yaml:"path"`
	Time string `yaml:"time"`
}

// DefaultConfig returns a Config with defaults for every field.
func DefaultConfig() *Config {
	return &Config{
		Database:     "termvc.db",
		ChangesetDir: "changesets",
		CacheSize:    4096,
		IndexWorkers: 2,
		IndexRetries: 3,
		LogLevel:     "info",
		Session:      engine.Session{Author: 1, Module: 1, Path: 1},
		View: ViewConfig{
			Positions:      []PositionConfig{{Path: 1, Time: "latest"}},
			Precedence:     "path",
			Contradictions: "keep-all",
		},
	}
}

// Load reads the YAML file at file over the defaults. An empty file name
// returns the defaults.
func Load(file string) (*Config, error) {
	cfg := DefaultConfig()
	if file == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", file, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", file, err)
	}
	return cfg, nil
}

// applyDefaults fills fields a file explicitly left zero.
func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Database == "" {
		c.Database = d.Database
	}
	if c.ChangesetDir == "" {
		c.ChangesetDir = d.ChangesetDir
	}
	if c.CacheSize == 0 {
		c.CacheSize = d.CacheSize
	}
	if c.IndexWorkers == 0 {
		c.IndexWorkers = d.IndexWorkers
	}
	if c.IndexRetries == 0 {
		c.IndexRetries = d.IndexRetries
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if len(c.View.Positions) == 0 {
		c.View.Positions = d.View.Positions
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.CacheSize < 0 {
		return fmt.Errorf("cache_size must not be negative")
	}
	if c.IndexWorkers < 1 {
		return fmt.Errorf("index_workers must be at least 1")
	}
	if c.IndexRetries < 1 {
		return fmt.Errorf("index_retries must be at least 1")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.Session.Path <= 0 {
		return fmt.Errorf("session.path must be positive")
	}
	if _, err := c.View.Coordinate(); err != nil {
		return fmt.Errorf("view: %w", err)
	}
	return nil
}

// Level returns the slog level named by LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// RetryPolicy returns the index-sync retry policy.
func (c *Config) RetryPolicy() engine.RetryPolicy {
	p := engine.DefaultRetryPolicy()
	p.MaxAttempts = c.IndexRetries
	return p
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(file string) error {
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(file, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Coordinate parses the view into a coordinate.
func (v ViewConfig) Coordinate() (view.Coordinate, error) {
	var coord view.Coordinate
	for _, s := range v.Statuses {
		st, err := stamp.ParseStatus(s)
		if err != nil {
			return view.Coordinate{}, err
		}
		coord.Statuses = append(coord.Statuses, st)
	}
	for _, p := range v.Positions {
		t, err := ParseTime(p.Time)
		if err != nil {
			return view.Coordinate{}, err
		}
		coord.Positions = append(coord.Positions, path.Position{Path: p.Path, Time: t})
	}
	coord.Modules = v.Modules

	var err error
	if coord.Precedence, err = view.ParsePrecedence(v.Precedence); err != nil {
		return view.Coordinate{}, err
	}
	if v.Contradictions != "" {
		if coord.Manager, err = view.ParseManager(v.Contradictions); err != nil {
			return view.Coordinate{}, err
		}
	}
	if err := coord.Validate(); err != nil {
		return view.Coordinate{}, err
	}
	return coord, nil
}

// ParseTime parses a position time: an integer, or "latest" (also the
// meaning of the empty string).
func ParseTime(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "latest") {
		return path.Latest, nil
	}
	t, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid position time %q: want an integer or latest", s)
	}
	if t < 0 || t > path.Latest {
		return 0, fmt.Errorf("position time %d out of range", t)
	}
	return t, nil
}

// ParsePosition parses "path" or "path@time", e.g. "2@150" or "1@latest".
func ParsePosition(s string) (path.Position, error) {
	id, at, _ := strings.Cut(strings.TrimSpace(s), "@")
	p, err := strconv.Atoi(id)
	if err != nil || p <= 0 {
		return path.Position{}, fmt.Errorf("invalid position %q: want path or path@time", s)
	}
	t, err := ParseTime(at)
	if err != nil {
		return path.Position{}, err
	}
	return path.Position{Path: p, Time: t}, nil
}
