// Package config handles loading and managing chatvault configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir string `toml:"data_dir"` // overrides the default home directory
}

// FetchConfig tunes the retrieval pipeline.
type FetchConfig struct {
	MaxChunkDays         int     `toml:"max_chunk_days"`         // gap split threshold (default: 7)
	MaxConcurrentFetches int     `toml:"max_concurrent_fetches"` // outbound request bound (default: 5)
	PageSize             int     `toml:"page_size"`              // platform max page size (default: 1000)
	RateLimitQPS         float64 `toml:"rate_limit_qps"`         // outbound request rate (default: 5)
}

// WebexConfig holds Webex API access configuration. Token issuance and
// refresh happen outside chatvault.
type WebexConfig struct {
	Token  string `toml:"token"`
	APIURL string `toml:"api_url"` // override for testing
}

// AccountConfig declares one account and its prefetch schedule.
type AccountConfig struct {
	Platform      string   `toml:"platform"`
	Identifier    string   `toml:"identifier"`
	Timezone      string   `toml:"timezone"`
	Conversations []string `toml:"conversations"` // conversation ids to prefetch
	Schedule      string   `toml:"schedule"`      // cron expression
	Enabled       bool     `toml:"enabled"`
}

// Config is the main configuration structure.
type Config struct {
	Data     DataConfig      `toml:"data"`
	Fetch    FetchConfig     `toml:"fetch"`
	Webex    WebexConfig     `toml:"webex"`
	Accounts []AccountConfig `toml:"accounts"`

	// Computed at load time, not read from the file.
	HomeDir    string `toml:"-"`
	ConfigFile string `toml:"-"`
}

// DefaultHome returns the chatvault home directory: CHATVAULT_HOME if set,
// otherwise ~/.chatvault.
func DefaultHome() string {
	if env := os.Getenv("CHATVAULT_HOME"); env != "" {
		return expandHome(env)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatvault"
	}
	return filepath.Join(home, ".chatvault")
}

// Load reads configuration from the given file, or from <home>/config.toml
// when cfgFile is empty. A missing config file is not an error; defaults
// apply. homeDir overrides CHATVAULT_HOME when non-empty.
func Load(cfgFile, homeDir string) (*Config, error) {
	cfg := &Config{
		Fetch: FetchConfig{
			MaxChunkDays:         7,
			MaxConcurrentFetches: 5,
			PageSize:             1000,
			RateLimitQPS:         5,
		},
	}

	home := DefaultHome()
	if homeDir != "" {
		home = expandHome(homeDir)
	}
	cfg.HomeDir = home

	path := cfgFile
	if path == "" {
		path = filepath.Join(home, "config.toml")
	} else {
		path = expandHome(path)
	}
	cfg.ConfigFile = path

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	} else if cfgFile != "" {
		// An explicitly requested config file must exist.
		return nil, fmt.Errorf("config file %s: %w", cfgFile, err)
	}

	if cfg.Data.DataDir != "" {
		cfg.HomeDir = expandHome(cfg.Data.DataDir)
	}

	if cfg.Fetch.MaxChunkDays <= 0 {
		cfg.Fetch.MaxChunkDays = 7
	}
	if cfg.Fetch.MaxConcurrentFetches <= 0 {
		cfg.Fetch.MaxConcurrentFetches = 5
	}
	if cfg.Fetch.PageSize <= 0 {
		cfg.Fetch.PageSize = 1000
	}
	if cfg.Fetch.RateLimitQPS <= 0 {
		cfg.Fetch.RateLimitQPS = 5
	}

	return cfg, nil
}

// EnsureHomeDir creates the home directory if it doesn't exist.
func (c *Config) EnsureHomeDir() error {
	return os.MkdirAll(c.HomeDir, 0o755)
}

// DatabasePath returns the path to the SQLite database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.HomeDir, "chatvault.db")
}

// CacheDir returns the root of the per-day message cache.
func (c *Config) CacheDir() string {
	return filepath.Join(c.HomeDir, "cache")
}

// ScheduledAccounts returns the enabled accounts that carry a schedule.
func (c *Config) ScheduledAccounts() []AccountConfig {
	var out []AccountConfig
	for _, a := range c.Accounts {
		if a.Enabled && a.Schedule != "" {
			out = append(out, a)
		}
	}
	return out
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/"))
	}
	return path
}
