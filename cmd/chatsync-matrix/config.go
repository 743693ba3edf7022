// ABOUTME: Configuration loading for the chatsync Matrix client
// ABOUTME: Loads TOML config from XDG path with environment variable expansion

package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	defaultPageSize      = 30
	defaultBackfillLimit = 50
)

type Config struct {
	Matrix  MatrixConfig  `toml:"matrix"`
	Session SessionConfig `toml:"session"`
	Logging LoggingConfig `toml:"logging"`
}

type MatrixConfig struct {
	Homeserver  string `toml:"homeserver"`
	UserID      string `toml:"user_id"`
	AccessToken string `toml:"access_token"`
	DeviceID    string `toml:"device_id"`
	RecoveryKey string `toml:"recovery_key"`
	Encryption  bool   `toml:"encryption"`
	Room        string `toml:"room"`
}

type SessionConfig struct {
	PageSize      int `toml:"page_size"`
	BackfillLimit int `toml:"backfill_limit"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// getConfigPath returns the path to the client config file.
// Priority: CHATSYNC_MATRIX_CONFIG env var > XDG_CONFIG_HOME/chatsync/matrix.toml > ~/.config/chatsync/matrix.toml
func getConfigPath() string {
	if envPath := os.Getenv("CHATSYNC_MATRIX_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "matrix.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "chatsync", "matrix.toml")
}

// getDataPath returns the directory holding the crypto store.
// Priority: XDG_DATA_HOME/chatsync > ~/.local/share/chatsync
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "chatsync")
}

// Load reads config from the given path, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(string(data))
}

// Parse decodes TOML content with the same expansion, defaults and
// validation as Load.
func Parse(data string) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(expandEnvVars(data), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Session.PageSize == 0 {
		c.Session.PageSize = defaultPageSize
	}
	if c.Session.BackfillLimit == 0 {
		c.Session.BackfillLimit = defaultBackfillLimit
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "warn"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	u, err := url.Parse(c.Matrix.Homeserver)
	if err != nil {
		return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("matrix.homeserver must use http or https scheme")
	}
	if !strings.HasPrefix(c.Matrix.UserID, "@") || !strings.Contains(c.Matrix.UserID, ":") {
		return fmt.Errorf("matrix.user_id must look like @user:server, got %q", c.Matrix.UserID)
	}
	if c.Matrix.AccessToken == "" {
		return fmt.Errorf("matrix.access_token is required")
	}
	if c.Matrix.Room != "" && !strings.HasPrefix(c.Matrix.Room, "!") {
		return fmt.Errorf("matrix.room must be a room ID (!id:server), got %q", c.Matrix.Room)
	}
	if c.Session.PageSize < 1 {
		return fmt.Errorf("session.page_size must be positive, got %d", c.Session.PageSize)
	}
	if c.Session.BackfillLimit < 1 {
		return fmt.Errorf("session.backfill_limit must be positive, got %d", c.Session.BackfillLimit)
	}
	return nil
}
