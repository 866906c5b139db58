// Package config holds service configuration: compiled-in defaults
// overlaid by an optional YAML file. Command-line overrides are applied
// by the caller after loading.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML scalars like "100ms" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for "1s" / "250ms" scalars.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the top-level service configuration.
type Config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string `yaml:"listen_addr"`

	// DataDir roots the message database and the session index.
	DataDir string `yaml:"data_dir"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// PollInterval is the fallback scan interval for tailed files. The
	// poll catches changes the filesystem watcher misses.
	PollInterval Duration `yaml:"poll_interval"`

	// DebounceWindow coalesces bursts of file change notifications into
	// a single read.
	DebounceWindow Duration `yaml:"debounce_window"`

	// SubscriberBuffer is the per-subscriber frame buffer size. A
	// subscriber that falls this many frames behind is disconnected.
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr:       "127.0.0.1:8787",
		DataDir:          defaultDataDir(),
		LogLevel:         "info",
		PollInterval:     Duration(time.Second),
		DebounceWindow:   Duration(100 * time.Millisecond),
		SubscriberBuffer: 64,
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tailfeed"
	}
	return filepath.Join(home, ".tailfeed")
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults unchanged; a named file must exist and validate.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q (supported: debug, info, warn, error)", c.LogLevel)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.DebounceWindow < 0 {
		return fmt.Errorf("debounce_window cannot be negative")
	}
	if c.SubscriberBuffer <= 0 {
		return fmt.Errorf("subscriber_buffer must be positive")
	}
	return nil
}

// SlogLevel maps LogLevel onto its slog value.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// MessageDBPath returns the SQLite database path under DataDir.
func (c *Config) MessageDBPath() string {
	return filepath.Join(c.DataDir, "messages.db")
}

// SessionIndexPath returns the session registry path under DataDir.
func (c *Config) SessionIndexPath() string {
	return filepath.Join(c.DataDir, "sessions.json")
}
