// ABOUTME: Configuration loading and parsing for the chatsync client
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Engine kinds
const (
	EngineLocal  = "local"
	EngineMatrix = "matrix"
)

// Defaults applied by Load for unset fields
const (
	DefaultPageSize     = 30
	DefaultQueueSize    = 64
	DefaultFetchTimeout = 30 * time.Second
	DefaultSendTimeout  = 30 * time.Second
	DefaultMetricsPath  = "/metrics"
)

// Config represents the complete chatsync configuration
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Session  SessionConfig  `yaml:"session"`
	Engine   EngineConfig   `yaml:"engine"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// DatabaseConfig holds the local ledger location
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SessionConfig holds conversation session tuning
type SessionConfig struct {
	PageSize  int    `yaml:"page_size"`
	QueueSize int    `yaml:"queue_size"` // per-subscriber broadcast buffer
	Self      string `yaml:"self"`       // author name for local sends
}

// EngineConfig selects and tunes the chat engine
type EngineConfig struct {
	Kind string `yaml:"kind"`

	FetchTimeout time.Duration `yaml:"-"`
	SendTimeout  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	FetchTimeoutRaw string `yaml:"fetch_timeout"`
	SendTimeoutRaw  string `yaml:"send_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML content, applying the same expansion,
// defaults and validation as Load.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{
		Database: DatabaseConfig{Path: defaultDatabasePath()},
	}
	cfg.applyDefaults()
	return cfg
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = defaultDatabasePath()
	}
	if c.Session.PageSize == 0 {
		c.Session.PageSize = DefaultPageSize
	}
	if c.Session.QueueSize == 0 {
		c.Session.QueueSize = DefaultQueueSize
	}
	if c.Engine.Kind == "" {
		c.Engine.Kind = EngineLocal
	}
	if c.Engine.FetchTimeout == 0 {
		c.Engine.FetchTimeout = DefaultFetchTimeout
	}
	if c.Engine.SendTimeout == 0 {
		c.Engine.SendTimeout = DefaultSendTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks that all configuration fields are valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Session.PageSize < 1 {
		return fmt.Errorf("session.page_size must be positive, got %d", c.Session.PageSize)
	}
	if c.Session.QueueSize < 1 {
		return fmt.Errorf("session.queue_size must be positive, got %d", c.Session.QueueSize)
	}

	switch c.Engine.Kind {
	case EngineLocal:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the local engine")
		}
	case EngineMatrix:
	default:
		return fmt.Errorf("engine.kind must be %q or %q, got %q", EngineLocal, EngineMatrix, c.Engine.Kind)
	}

	if c.Engine.FetchTimeout < 0 || c.Engine.SendTimeout < 0 {
		return fmt.Errorf("engine timeouts must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Engine.FetchTimeoutRaw != "" {
		cfg.Engine.FetchTimeout, err = time.ParseDuration(cfg.Engine.FetchTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing fetch_timeout %q: %w", cfg.Engine.FetchTimeoutRaw, err)
		}
	}

	if cfg.Engine.SendTimeoutRaw != "" {
		cfg.Engine.SendTimeout, err = time.ParseDuration(cfg.Engine.SendTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing send_timeout %q: %w", cfg.Engine.SendTimeoutRaw, err)
		}
	}

	return nil
}

// defaultDatabasePath returns $XDG_DATA_HOME/chatsync/ledger.db, falling
// back to ~/.local/share and then the working directory.
func defaultDatabasePath() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "chatsync", "ledger.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "chatsync.db"
	}
	return filepath.Join(home, ".local", "share", "chatsync", "ledger.db")
}

// FindPath returns the first existing config file among CHATSYNC_CONFIG,
// ./chatsync.yaml and ~/.config/chatsync/config.yaml, or "" if none exists.
func FindPath() string {
	if p := os.Getenv("CHATSYNC_CONFIG"); p != "" {
		return p
	}

	candidates := []string{"chatsync.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "chatsync", "config.yaml"))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
