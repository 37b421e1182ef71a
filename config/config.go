// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Feed     FeedConfig     `yaml:"feed"`
	Usage    UsageConfig    `yaml:"usage"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// AuthConfig configures API key authentication.
type AuthConfig struct {
	KeyPrefix string `yaml:"key_prefix"`
}

// DatabaseConfig configures the event and key store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite"
	DSN    string `yaml:"dsn"`
}

// FeedConfig configures the live event feed.
// Use "memory" for single-instance deployments or "redis" to share the
// feed across instances.
type FeedConfig struct {
	Mode     string `yaml:"mode"` // "memory" or "redis"
	RedisURL string `yaml:"redis_url,omitempty"`
}

// UsageConfig configures dashboard snapshot behavior.
type UsageConfig struct {
	// ReconcileInterval is how often a live session re-derives its
	// snapshot from the store. Zero disables periodic reconciliation.
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"` // Enable /metrics endpoint
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(&cfg)

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// This is useful for Docker deployments where no config file is needed.
//
// Environment variables:
//
//	AGENTMETER_SERVER_HOST         - Server host (default: 0.0.0.0)
//	AGENTMETER_SERVER_PORT         - Server port (default: 8080)
//	AGENTMETER_AUTH_KEY_PREFIX     - API key prefix (default: am_)
//	AGENTMETER_DATABASE_DSN        - Database path (default: agentmeter.db)
//	AGENTMETER_FEED_MODE           - Feed mode: memory or redis (default: memory)
//	AGENTMETER_FEED_REDIS_URL      - Redis URL when feed mode is redis
//	AGENTMETER_RECONCILE_INTERVAL  - Session reconcile interval (default: 0, disabled)
//	AGENTMETER_LOG_LEVEL           - Log level: debug, info, warn, error (default: info)
//	AGENTMETER_LOG_FORMAT          - Log format: json or console (default: json)
//	AGENTMETER_METRICS_ENABLED     - Enable /metrics endpoint (default: false)
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment
// variables. This is the recommended method for Docker deployments.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies AGENTMETER_* environment variables to the
// config. Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTMETER_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("AGENTMETER_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("AGENTMETER_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("AGENTMETER_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	if v := os.Getenv("AGENTMETER_AUTH_KEY_PREFIX"); v != "" {
		cfg.Auth.KeyPrefix = v
	}

	if v := os.Getenv("AGENTMETER_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("AGENTMETER_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	if v := os.Getenv("AGENTMETER_FEED_MODE"); v != "" {
		cfg.Feed.Mode = v
	}
	if v := os.Getenv("AGENTMETER_FEED_REDIS_URL"); v != "" {
		cfg.Feed.RedisURL = v
	}

	if v := os.Getenv("AGENTMETER_RECONCILE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Usage.ReconcileInterval = d
		}
	}

	if v := os.Getenv("AGENTMETER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("AGENTMETER_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("AGENTMETER_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		// The dashboard stream holds its connection open; per-request
		// timeouts are applied in the router instead.
		cfg.Server.WriteTimeout = 0
	}

	if cfg.Auth.KeyPrefix == "" {
		cfg.Auth.KeyPrefix = "am_"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "agentmeter.db"
	}

	if cfg.Feed.Mode == "" {
		cfg.Feed.Mode = "memory"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	if cfg.Database.Driver != "sqlite" {
		return fmt.Errorf("database.driver must be 'sqlite', got %q", cfg.Database.Driver)
	}

	validFeedModes := map[string]bool{"memory": true, "redis": true}
	if !validFeedModes[cfg.Feed.Mode] {
		return fmt.Errorf("feed.mode must be 'memory' or 'redis', got %q", cfg.Feed.Mode)
	}
	if cfg.Feed.Mode == "redis" && cfg.Feed.RedisURL == "" {
		return fmt.Errorf("feed.redis_url is required when feed.mode is 'redis'")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	if cfg.Usage.ReconcileInterval < 0 {
		return fmt.Errorf("usage.reconcile_interval must not be negative")
	}

	return nil
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

// Addr returns the host:port the server listens on.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
