// Package config loads sigledger settings from an optional YAML file and
// SIGLEDGER_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: database.dsn is SIGLEDGER_DATABASE_DSN.
const EnvPrefix = "SIGLEDGER"

// Config holds all configuration of the sigledger binary.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Log       LogConfig       `mapstructure:"log"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Processor ProcessorConfig `mapstructure:"processor"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// DatabaseConfig selects the event store.
type DatabaseConfig struct {
	// Driver is sqlite, postgres or mysql.
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	// Migrate applies the embedded schema on startup.
	Migrate bool `mapstructure:"migrate"`
}

// ReconcileConfig tunes the reconciliation engine.
type ReconcileConfig struct {
	MaxRetries         int  `mapstructure:"max_retries"`
	FractionalPercents bool `mapstructure:"fractional_percents"`
}

// LogConfig tunes event log reads.
type LogConfig struct {
	PageSize int `mapstructure:"page_size"`
}

// CacheConfig selects the projection cache.
type CacheConfig struct {
	// Backend is memory, redis or sql. The sql backend keeps snapshots in
	// the log database; TTL does not apply to it.
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig holds NATS connection settings for the publish command.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// ProcessorConfig tunes projection processors.
type ProcessorConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig configures the Prometheus endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads configuration from configPath, if set, and the environment.
func Load(configPath string) (*Config, error) {
	v := New()
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return FromViper(v)
}

// New returns a viper instance with defaults and environment binding set,
// so callers can bind command line flags before decoding.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "sigledger.db")
	v.SetDefault("database.migrate", true)

	v.SetDefault("reconcile.max_retries", 3)
	v.SetDefault("reconcile.fractional_percents", false)

	v.SetDefault("log.page_size", 200)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", "24h")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject_prefix", "sigledger.events")

	v.SetDefault("processor.batch_size", 100)
	v.SetDefault("processor.poll_interval", "500ms")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("metrics.addr", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// FromViper decodes and validates v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerated and positive settings.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn: required")
	}
	switch c.Cache.Backend {
	case "memory", "redis", "sql":
	default:
		return fmt.Errorf("cache.backend: unsupported backend %q", c.Cache.Backend)
	}
	if c.Log.PageSize <= 0 {
		return fmt.Errorf("log.page_size: must be positive")
	}
	if c.Processor.BatchSize <= 0 {
		return fmt.Errorf("processor.batch_size: must be positive")
	}
	if c.Processor.PollInterval <= 0 {
		return fmt.Errorf("processor.poll_interval: must be positive")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format: unsupported format %q", c.Logging.Format)
	}
	return nil
}
