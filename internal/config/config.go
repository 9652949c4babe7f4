// Package config loads daemon configuration from file and environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full daemon configuration.
type Config struct {
	Remote    RemoteConfig    `mapstructure:"remote"`
	Health    HealthConfig    `mapstructure:"health"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Store     StoreConfig     `mapstructure:"store"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// RemoteConfig points at the central server.
type RemoteConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries uint          `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// HealthConfig controls the connectivity checker.
type HealthConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	Attempts   uint          `mapstructure:"attempts"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// SyncConfig controls the sync engine and scheduler.
type SyncConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
	PageSize  int           `mapstructure:"page_size"`
	Scheduled bool          `mapstructure:"scheduled"`
}

// StoreConfig selects and locates the local replica.
type StoreConfig struct {
	// Engine is "sqlite" or "postgres".
	Engine      string `mapstructure:"engine"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresURL string `mapstructure:"postgres_url"`
}

// ServerConfig is the local control API listener.
type ServerConfig struct {
	Addr   string `mapstructure:"addr"`
	APIKey string `mapstructure:"api_key"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	Environment  string `mapstructure:"environment"`
}

// Load reads configuration from the given file (optional), the working
// directory, and SYNCD_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("remote.timeout", 10*time.Second)
	v.SetDefault("remote.max_retries", 3)
	v.SetDefault("remote.retry_delay", time.Second)
	v.SetDefault("health.interval", 30*time.Second)
	v.SetDefault("health.attempts", 2)
	v.SetDefault("health.retry_delay", time.Second)
	v.SetDefault("sync.interval", time.Hour)
	v.SetDefault("sync.batch_size", 100)
	v.SetDefault("sync.page_size", 500)
	v.SetDefault("sync.scheduled", true)
	v.SetDefault("store.engine", "sqlite")
	v.SetDefault("store.sqlite_path", "storesync.db")
	v.SetDefault("server.addr", "127.0.0.1:8787")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")
	v.SetDefault("telemetry.environment", "production")

	v.SetEnvPrefix("SYNCD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else {
		v.SetConfigName("syncd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no safe default.
func (c *Config) Validate() error {
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	switch c.Store.Engine {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite engine")
		}
	case "postgres":
		if c.Store.PostgresURL == "" {
			return fmt.Errorf("store.postgres_url is required for the postgres engine")
		}
	default:
		return fmt.Errorf("unknown store engine %q", c.Store.Engine)
	}
	return nil
}
