// Package config handles loading and validation of logscope configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Source kinds.
const (
	SourceFile    = "file"
	SourceJournal = "journal"
	SourceSQLite  = "sqlite"
)

// Config represents the logscope configuration.
type Config struct {
	// Source selects and configures the event log provider.
	Source SourceConfig `json:"source" toml:"source"`

	// PageSize is the number of records per page.
	PageSize int `json:"page_size" toml:"page_size"`

	// LiveRecordCap bounds records kept while monitoring. Zero uses PageSize.
	LiveRecordCap int `json:"live_record_cap" toml:"live_record_cap"`

	// MonitorQueueSize is the delivery buffer of a live subscription.
	MonitorQueueSize int `json:"monitor_queue_size" toml:"monitor_queue_size"`

	// SearchDebounceMillis is the quiet interval before a search runs.
	SearchDebounceMillis int `json:"search_debounce_millis" toml:"search_debounce_millis"`

	// CountProgressInterval is the number of records between running counts.
	CountProgressInterval int `json:"count_progress_interval" toml:"count_progress_interval"`

	// ParallelChannels bounds concurrent scans for the merged view.
	ParallelChannels int `json:"parallel_channels" toml:"parallel_channels"`

	// MaxMonitorRestarts is how often a failed live feed is reopened.
	MaxMonitorRestarts int `json:"max_monitor_restarts" toml:"max_monitor_restarts"`

	// MonitorRestartCooldownSeconds is the wait before reopening a live feed.
	MonitorRestartCooldownSeconds int `json:"monitor_restart_cooldown_seconds" toml:"monitor_restart_cooldown_seconds"`

	// LogDirectory is the directory for log files.
	LogDirectory string `json:"log_directory" toml:"log_directory"`

	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `json:"log_level" toml:"log_level"`

	// API configures the HTTP query service.
	API APIConfig `json:"api" toml:"api"`
}

// SourceConfig selects the provider backing every channel.
type SourceConfig struct {
	Kind string `json:"kind" toml:"kind"`
	// Directory holds <channel>.jsonl files for the file source.
	Directory string `json:"directory" toml:"directory"`
	// Database is the SQLite file for the sqlite source.
	Database string `json:"database" toml:"database"`
	// Journalctl is the journalctl binary for the journal source.
	Journalctl string `json:"journalctl" toml:"journalctl"`
}

// APIConfig holds the HTTP service settings.
type APIConfig struct {
	Listen              string `json:"listen" toml:"listen"`
	Username            string `json:"username" toml:"username"`
	PasswordHash        string `json:"password_hash" toml:"password_hash"`
	JWTSecret           string `json:"jwt_secret" toml:"jwt_secret"`
	AccessTokenMinutes  int    `json:"access_token_minutes" toml:"access_token_minutes"`
	RefreshTokenMinutes int    `json:"refresh_token_minutes" toml:"refresh_token_minutes"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			Kind:       SourceFile,
			Directory:  "./eventlogs",
			Database:   "./eventlogs.db",
			Journalctl: "journalctl",
		},
		PageSize:                      50,
		MonitorQueueSize:              256,
		SearchDebounceMillis:          300,
		CountProgressInterval:         500,
		ParallelChannels:              4,
		MaxMonitorRestarts:            3,
		MonitorRestartCooldownSeconds: 5,
		LogDirectory:                  "./logs",
		LogLevel:                      "info",
		API: APIConfig{
			Listen:              "127.0.0.1:8087",
			Username:            "admin",
			AccessTokenMinutes:  15,
			RefreshTokenMinutes: 7 * 24 * 60,
		},
	}
}

// Load reads configuration from a JSON or TOML file, chosen by extension.
// If the file doesn't exist, it returns DefaultConfig.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if isTOML(path) {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply defaults for zero values
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// applyDefaults fills in default values for any fields that are zero/empty.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.Source.Kind == "" {
		c.Source.Kind = defaults.Source.Kind
	}
	if c.Source.Directory == "" {
		c.Source.Directory = defaults.Source.Directory
	}
	if c.Source.Database == "" {
		c.Source.Database = defaults.Source.Database
	}
	if c.Source.Journalctl == "" {
		c.Source.Journalctl = defaults.Source.Journalctl
	}
	if c.PageSize <= 0 {
		c.PageSize = defaults.PageSize
	}
	if c.LiveRecordCap <= 0 {
		c.LiveRecordCap = c.PageSize
	}
	if c.MonitorQueueSize <= 0 {
		c.MonitorQueueSize = defaults.MonitorQueueSize
	}
	if c.SearchDebounceMillis < 0 {
		c.SearchDebounceMillis = defaults.SearchDebounceMillis
	}
	if c.CountProgressInterval <= 0 {
		c.CountProgressInterval = defaults.CountProgressInterval
	}
	if c.ParallelChannels <= 0 {
		c.ParallelChannels = defaults.ParallelChannels
	}
	if c.MaxMonitorRestarts < 0 {
		c.MaxMonitorRestarts = defaults.MaxMonitorRestarts
	}
	if c.MonitorRestartCooldownSeconds < 0 {
		c.MonitorRestartCooldownSeconds = defaults.MonitorRestartCooldownSeconds
	}
	if c.LogDirectory == "" {
		c.LogDirectory = defaults.LogDirectory
	}
	if c.LogLevel == "" {
		c.LogLevel = defaults.LogLevel
	}
	if c.API.Listen == "" {
		c.API.Listen = defaults.API.Listen
	}
	if c.API.Username == "" {
		c.API.Username = defaults.API.Username
	}
	if c.API.AccessTokenMinutes <= 0 {
		c.API.AccessTokenMinutes = defaults.API.AccessTokenMinutes
	}
	if c.API.RefreshTokenMinutes <= 0 {
		c.API.RefreshTokenMinutes = defaults.API.RefreshTokenMinutes
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Source.Kind {
	case SourceFile, SourceJournal, SourceSQLite:
	default:
		return fmt.Errorf("invalid source.kind: %s (must be file, journal, or sqlite)", c.Source.Kind)
	}
	if c.PageSize < 1 {
		return fmt.Errorf("page_size must be at least 1, got %d", c.PageSize)
	}
	if c.PageSize > 10000 {
		return fmt.Errorf("page_size should not exceed 10000, got %d", c.PageSize)
	}
	if c.LiveRecordCap < 1 {
		return fmt.Errorf("live_record_cap must be at least 1, got %d", c.LiveRecordCap)
	}
	if c.MonitorQueueSize < 1 {
		return fmt.Errorf("monitor_queue_size must be at least 1, got %d", c.MonitorQueueSize)
	}
	if c.ParallelChannels > 64 {
		return fmt.Errorf("parallel_channels should not exceed 64, got %d", c.ParallelChannels)
	}

	// Validate log level
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
		// Valid
	default:
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// ValidateAPI checks the settings needed to serve the HTTP API.
func (c *Config) ValidateAPI() error {
	if c.API.PasswordHash == "" {
		return fmt.Errorf("api.password_hash is required")
	}
	if len(c.API.JWTSecret) < 32 {
		return fmt.Errorf("api.jwt_secret must be at least 32 characters")
	}
	return nil
}

// SearchDebounce returns the search quiet interval.
func (c *Config) SearchDebounce() time.Duration {
	return time.Duration(c.SearchDebounceMillis) * time.Millisecond
}

// MonitorRestartCooldown returns the wait before reopening a live feed.
func (c *Config) MonitorRestartCooldown() time.Duration {
	return time.Duration(c.MonitorRestartCooldownSeconds) * time.Second
}

// Save writes the configuration to a JSON or TOML file, chosen by extension.
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if isTOML(path) {
		data, err = toml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
