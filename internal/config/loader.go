package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	envPrefix  string
	v          *viper.Viper
}

// NewLoader creates a config loader.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envPrefix:  "STEPSYNC",
		v:          viper.New(),
	}
}

// Load reads configuration from file and environment.
func (l *Loader) Load() (*Config, error) {
	v := l.v

	// Defaults double as the key registry for AutomaticEnv
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(l.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.configPath != "" {
		v.SetConfigFile(l.configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	} else {
		for _, path := range l.defaultPaths() {
			if _, err := os.Stat(path); err == nil {
				l.configPath = path
				v.SetConfigFile(path)
				if err := v.ReadInConfig(); err != nil {
					return nil, fmt.Errorf("load config file %s: %w", path, err)
				}
				break
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// A relocated data dir drags its dependent paths along unless set explicitly
	if v.IsSet("storage.data_dir") {
		dataDir := cfg.Storage.DataDir
		if !l.explicit("storage.state_dir") {
			cfg.Storage.StateDir = filepath.Join(dataDir, "state")
		}
		if !l.explicit("storage.sqlite_path") {
			cfg.Storage.SQLitePath = filepath.Join(dataDir, "state.db")
		}
		if !l.explicit("auth.token_file") {
			cfg.Auth.TokenFile = filepath.Join(dataDir, "auth", "token.json")
		}
	}

	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ConfigFile returns the file the loader read, if any.
func (l *Loader) ConfigFile() string {
	return l.configPath
}

// explicit reports whether key came from the file or environment rather than defaults.
func (l *Loader) explicit(key string) bool {
	if l.v.InConfig(key) {
		return true
	}
	_, ok := os.LookupEnv(l.envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	return ok
}

// defaultPaths returns default config file locations.
func (l *Loader) defaultPaths() []string {
	paths := []string{
		"stepsync.yaml",
		"stepsync.json",
		".stepsync.json",
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(homeDir, ".config", "stepsync", "config.yaml"),
			filepath.Join(homeDir, ".config", "stepsync", "config.json"),
			filepath.Join(homeDir, ".stepsync", "config.json"),
		)
	}

	return paths
}

// setDefaults registers every leaf of cfg under its mapstructure key.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("api.base_url", cfg.API.BaseURL)
	v.SetDefault("api.timeout", cfg.API.Timeout)
	v.SetDefault("api.max_retries", cfg.API.MaxRetries)
	v.SetDefault("api.retry_delay", cfg.API.RetryDelay)
	v.SetDefault("api.user_agent", cfg.API.UserAgent)

	v.SetDefault("auth.token_file", cfg.Auth.TokenFile)
	v.SetDefault("auth.credentials_file", cfg.Auth.CredentialsFile)
	v.SetDefault("auth.token_secret_id", cfg.Auth.TokenSecretID)

	v.SetDefault("storage.data_dir", cfg.Storage.DataDir)
	v.SetDefault("storage.state_dir", cfg.Storage.StateDir)
	v.SetDefault("storage.backend", cfg.Storage.Backend)
	v.SetDefault("storage.sqlite_path", cfg.Storage.SQLitePath)
	v.SetDefault("storage.dynamodb_table", cfg.Storage.DynamoDBTable)

	v.SetDefault("tracker.sensor_mode", cfg.Tracker.SensorMode)
	v.SetDefault("tracker.bridge_url", cfg.Tracker.BridgeURL)
	v.SetDefault("tracker.step_threshold", cfg.Tracker.StepThreshold)
	v.SetDefault("tracker.sync_interval", cfg.Tracker.SyncInterval)
	v.SetDefault("tracker.start_grace", cfg.Tracker.StartGrace)
	v.SetDefault("tracker.push_timeout", cfg.Tracker.PushTimeout)

	v.SetDefault("ui.poll_interval", cfg.UI.PollInterval)
	v.SetDefault("ui.auto_sync_delay", cfg.UI.AutoSyncDelay)
	v.SetDefault("ui.history_limit", cfg.UI.HistoryLimit)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.color", cfg.Log.Color)
	v.SetDefault("log.timestamp", cfg.Log.Timestamp)

	v.SetDefault("metrics.addr", cfg.Metrics.Addr)
	v.SetDefault("metrics.namespace", cfg.Metrics.Namespace)
}

// SaveExample writes an example config file.
func SaveExample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.New("config file already exists")
	}

	data, err := json.MarshalIndent(DefaultConfig(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return nil
}
