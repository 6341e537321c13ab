// Package config provides layered configuration: compiled defaults,
// user config file, then XF_* environment variables. CLI flags override
// all of it at the call site.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config is the persisted configuration.
type Config struct {
	Paths    PathsConfig    `json:"paths"`
	Search   SearchConfig   `json:"search"`
	Indexing IndexingConfig `json:"indexing"`
	Output   OutputConfig   `json:"output"`
}

// PathsConfig locates the database, index, and default archive.
type PathsConfig struct {
	// DB is the SQLite database file. Environment variable: XF_DB.
	DB string `json:"db,omitempty"`
	// Index is the search index directory. Environment variable: XF_INDEX.
	Index string `json:"index,omitempty"`
	// Archive is the default export path. Environment variable: XF_ARCHIVE.
	Archive string `json:"archive,omitempty"`
}

// SearchConfig tunes search behavior.
type SearchConfig struct {
	// DefaultLimit is the result count when --limit is absent.
	// Environment variable: XF_LIMIT.
	DefaultLimit int `json:"default_limit"`
	// Mode is the default search mode: lexical, semantic, or hybrid.
	Mode string `json:"mode"`
}

// IndexingConfig tunes ingest behavior.
type IndexingConfig struct {
	// BufferMB is the index writer staging budget in MiB.
	// Environment variable: XF_BUFFER_MB.
	BufferMB int `json:"buffer_mb"`
	// Threads bounds parallel parsing; 0 means one per CPU.
	// Environment variable: XF_THREADS.
	Threads int `json:"threads"`
	// EmbedDimension is the hash embedder's output dimension.
	EmbedDimension int `json:"embed_dimension"`
}

// OutputConfig tunes CLI output.
type OutputConfig struct {
	// Format is the default output format: text, json, jsonl, csv.
	// Environment variable: XF_FORMAT.
	Format string `json:"format"`
	// Colors enables colored output; NO_COLOR wins when set.
	Colors bool `json:"colors"`
}

// Default returns the compiled defaults.
func Default() Config {
	return Config{
		Search:   SearchConfig{DefaultLimit: 20, Mode: "hybrid"},
		Indexing: IndexingConfig{BufferMB: 64, EmbedDimension: 384},
		Output:   OutputConfig{Format: "text", Colors: true},
	}
}

// Path returns the config file location (~/.config/xf/config.json).
func Path() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "xf", "config.json")
}

// DataDir returns the default data directory (~/.local/share/xf).
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".local", "share", "xf")
}

// Load reads defaults, the config file (when present), and environment
// overrides, in that order.
func Load() (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(Path())
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("config: read %s: %w", Path(), err)
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", Path(), err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// Save writes the config file, creating its directory when needed.
func Save(cfg Config) error {
	path := Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create %s: %w", filepath.Dir(path), err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("XF_DB"); v != "" {
		cfg.Paths.DB = v
	}
	if v := os.Getenv("XF_INDEX"); v != "" {
		cfg.Paths.Index = v
	}
	if v := os.Getenv("XF_ARCHIVE"); v != "" {
		cfg.Paths.Archive = v
	}
	if v := os.Getenv("XF_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Search.DefaultLimit = n
		}
	}
	if v := os.Getenv("XF_FORMAT"); v != "" {
		cfg.Output.Format = v
	}
	if v := os.Getenv("XF_BUFFER_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Indexing.BufferMB = n
		}
	}
	if v := os.Getenv("XF_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Indexing.Threads = n
		}
	}
	if os.Getenv("NO_COLOR") != "" {
		cfg.Output.Colors = false
	}
}

// DBPath resolves the database path, falling back to the data directory.
func (c *Config) DBPath() string {
	if c.Paths.DB != "" {
		return c.Paths.DB
	}
	return filepath.Join(DataDir(), "xf.db")
}

// IndexPath resolves the index directory.
func (c *Config) IndexPath() string {
	if c.Paths.Index != "" {
		return c.Paths.Index
	}
	return filepath.Join(DataDir(), "xf_index")
}

// VectorPath resolves the vector file path.
func (c *Config) VectorPath() string {
	if c.Paths.Index != "" {
		return filepath.Join(filepath.Dir(c.Paths.Index), "xf.vec")
	}
	return filepath.Join(DataDir(), "xf.vec")
}

// Set applies one "key=value" assignment using dotted keys, e.g.
// "search.default_limit=50".
func (c *Config) Set(raw string) error {
	key, value, found := strings.Cut(raw, "=")
	if !found {
		return fmt.Errorf("config: expected key=value, got %q", raw)
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)

	switch key {
	case "paths.db":
		c.Paths.DB = value
	case "paths.index":
		c.Paths.Index = value
	case "paths.archive":
		c.Paths.Archive = value
	case "search.default_limit":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("config: %s must be a positive integer", key)
		}
		c.Search.DefaultLimit = n
	case "search.mode":
		if value != "lexical" && value != "semantic" && value != "hybrid" {
			return fmt.Errorf("config: %s must be lexical, semantic, or hybrid", key)
		}
		c.Search.Mode = value
	case "indexing.buffer_mb":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("config: %s must be a positive integer", key)
		}
		c.Indexing.BufferMB = n
	case "indexing.threads":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("config: %s must be a non-negative integer", key)
		}
		c.Indexing.Threads = n
	case "indexing.embed_dimension":
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("config: %s must be a positive integer", key)
		}
		c.Indexing.EmbedDimension = n
	case "output.format":
		switch value {
		case "text", "json", "jsonl", "csv":
			c.Output.Format = value
		default:
			return fmt.Errorf("config: %s must be text, json, jsonl, or csv", key)
		}
	case "output.colors":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("config: %s must be a boolean", key)
		}
		c.Output.Colors = b
	default:
		return fmt.Errorf("config: unknown key %q", key)
	}
	return nil
}
