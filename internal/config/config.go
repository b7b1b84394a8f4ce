package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// API configuration
	API APIConfig `mapstructure:"api" json:"api"`

	// Authentication configuration
	Auth AuthConfig `mapstructure:"auth" json:"auth"`

	// Storage paths
	Storage StorageConfig `mapstructure:"storage" json:"storage"`

	// Step tracking and sync scheduling
	Tracker TrackerConfig `mapstructure:"tracker" json:"tracker"`

	// Display reconciliation
	UI UIConfig `mapstructure:"ui" json:"ui"`

	// Logging
	Log LogConfig `mapstructure:"log" json:"log"`

	// Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" json:"metrics"`
}

// APIConfig for fitness backend communication.
type APIConfig struct {
	BaseURL    string        `mapstructure:"base_url" json:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout" json:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" json:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay" json:"retry_delay"`
	UserAgent  string        `mapstructure:"user_agent" json:"user_agent"`
}

// AuthConfig for bearer token sources.
type AuthConfig struct {
	// Token persistence written by `stepsync login`
	TokenFile string `mapstructure:"token_file" json:"token_file"`

	// Optional combined credentials file {"auth": {...}}
	CredentialsFile string `mapstructure:"credentials_file" json:"credentials_file,omitempty"`

	// Optional Secrets Manager secret holding combined credentials
	TokenSecretID string `mapstructure:"token_secret_id" json:"token_secret_id,omitempty"`
}

// StorageConfig for local state persistence.
type StorageConfig struct {
	DataDir       string `mapstructure:"data_dir" json:"data_dir"`             // Base directory for all data
	StateDir      string `mapstructure:"state_dir" json:"state_dir"`           // JSON state files
	Backend       string `mapstructure:"backend" json:"backend"`               // json, sqlite, dynamodb
	SQLitePath    string `mapstructure:"sqlite_path" json:"sqlite_path"`       // sqlite backend file
	DynamoDBTable string `mapstructure:"dynamodb_table" json:"dynamodb_table"` // dynamodb backend table
}

// TrackerConfig for the accumulator and sync scheduler.
type TrackerConfig struct {
	SensorMode    string        `mapstructure:"sensor_mode" json:"sensor_mode"`       // auto, counter, detector
	BridgeURL     string        `mapstructure:"bridge_url" json:"bridge_url"`         // device bridge websocket
	StepThreshold int           `mapstructure:"step_threshold" json:"step_threshold"` // sync every N steps
	SyncInterval  time.Duration `mapstructure:"sync_interval" json:"sync_interval"`   // max staleness
	StartGrace    time.Duration `mapstructure:"start_grace" json:"start_grace"`       // force sync on start after this
	PushTimeout   time.Duration `mapstructure:"push_timeout" json:"push_timeout"`     // per push deadline
}

// UIConfig for the reconciliation layer.
type UIConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
	AutoSyncDelay time.Duration `mapstructure:"auto_sync_delay" json:"auto_sync_delay"`
	HistoryLimit  int           `mapstructure:"history_limit" json:"history_limit"`
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level     string `mapstructure:"level" json:"level"`         // debug, info, warn, error
	Format    string `mapstructure:"format" json:"format"`       // text, json
	File      string `mapstructure:"file" json:"file"`           // Log file path (empty = stderr)
	Color     bool   `mapstructure:"color" json:"color"`         // Enable colored output
	Timestamp bool   `mapstructure:"timestamp" json:"timestamp"` // Include timestamps
}

// MetricsConfig for the Prometheus listener.
type MetricsConfig struct {
	Addr      string `mapstructure:"addr" json:"addr"` // empty disables the listener
	Namespace string `mapstructure:"namespace" json:"namespace"`
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".stepsync"

	return &Config{
		API: APIConfig{
			BaseURL:    "http://localhost:3000/api",
			Timeout:    15 * time.Second,
			MaxRetries: 2,
			RetryDelay: 500 * time.Millisecond,
			UserAgent:  "stepsync/1.0",
		},
		Auth: AuthConfig{
			TokenFile: filepath.Join(dataDir, "auth", "token.json"),
		},
		Storage: StorageConfig{
			DataDir:       dataDir,
			StateDir:      filepath.Join(dataDir, "state"),
			Backend:       "json",
			SQLitePath:    filepath.Join(dataDir, "state.db"),
			DynamoDBTable: "stepsync-state",
		},
		Tracker: TrackerConfig{
			SensorMode:    "auto",
			StepThreshold: 50,
			SyncInterval:  5 * time.Minute,
			StartGrace:    60 * time.Second,
			PushTimeout:   30 * time.Second,
		},
		UI: UIConfig{
			PollInterval:  time.Second,
			AutoSyncDelay: 2 * time.Second,
			HistoryLimit:  5,
		},
		Log: LogConfig{
			Level:     "info",
			Format:    "text",
			File:      "",
			Color:     true,
			Timestamp: true,
		},
		Metrics: MetricsConfig{
			Namespace: "stepsync",
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}

	if c.API.Timeout <= 0 {
		return errors.New("api.timeout must be positive")
	}

	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries cannot be negative")
	}

	validBackends := map[string]bool{"json": true, "sqlite": true, "dynamodb": true}
	if !validBackends[c.Storage.Backend] {
		return fmt.Errorf("invalid storage backend: %s", c.Storage.Backend)
	}

	validModes := map[string]bool{"auto": true, "counter": true, "detector": true}
	if !validModes[c.Tracker.SensorMode] {
		return fmt.Errorf("invalid sensor mode: %s", c.Tracker.SensorMode)
	}

	if c.Tracker.StepThreshold <= 0 {
		return errors.New("tracker.step_threshold must be positive")
	}

	if c.Tracker.SyncInterval <= 0 {
		return errors.New("tracker.sync_interval must be positive")
	}

	if c.Tracker.StartGrace < 0 {
		return errors.New("tracker.start_grace cannot be negative")
	}

	if c.UI.PollInterval <= 0 {
		return errors.New("ui.poll_interval must be positive")
	}

	if c.UI.HistoryLimit <= 0 {
		return errors.New("ui.history_limit must be positive")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDir,
		c.Storage.StateDir,
	}

	if c.Auth.TokenFile != "" {
		dirs = append(dirs, filepath.Dir(c.Auth.TokenFile))
	}

	if c.Storage.Backend == "sqlite" && c.Storage.SQLitePath != "" {
		dirs = append(dirs, filepath.Dir(c.Storage.SQLitePath))
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
