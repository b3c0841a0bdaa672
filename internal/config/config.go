package config

import (
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure
type Config struct {
	API         APIConfig         `yaml:"api"`
	Storage     StorageConfig     `yaml:"storage"`
	DNS         DNSConfig         `yaml:"dns"`
	Lifecycle   LifecycleConfig   `yaml:"lifecycle"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	AuthToken    string        `yaml:"auth_token"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // HTTP read timeout (default: 30s)
	WriteTimeout time.Duration `yaml:"write_timeout"` // HTTP write timeout (default: 30s)
	IdleTimeout  time.Duration `yaml:"idle_timeout"`  // HTTP idle timeout (default: 60s)
}

// StorageConfig contains storage settings
type StorageConfig struct {
	Path string `yaml:"path"`
}

// DNSConfig contains verification resolver settings
type DNSConfig struct {
	Server  string        `yaml:"server"`  // nameserver addr, empty = system resolver
	Timeout time.Duration `yaml:"timeout"` // per-query timeout (default: 5s)
}

// LifecycleConfig contains key expiry settings
type LifecycleConfig struct {
	// KeyMaxAge sets expires_at on newly created keys. Zero means keys
	// never expire.
	KeyMaxAge time.Duration `yaml:"key_max_age"`

	// WarningWindow is how long before expiry active keys are flagged
	// as expiring (default: 168h).
	WarningWindow time.Duration `yaml:"warning_window"`

	// SweepSchedule is a cron expression for the expiry sweep
	// (default: @every 1h).
	SweepSchedule string `yaml:"sweep_schedule"`
}

// CredentialsConfig contains credential issuance settings
type CredentialsConfig struct {
	MaxPerAccount int `yaml:"max_per_account"` // default: 10
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads, defaults and validates a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with all defaults applied
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 30 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/relaykeys/relaykeys.db"
	}

	if c.DNS.Timeout == 0 {
		c.DNS.Timeout = 5 * time.Second
	}

	if c.Lifecycle.WarningWindow == 0 {
		c.Lifecycle.WarningWindow = 7 * 24 * time.Hour
	}
	if c.Lifecycle.SweepSchedule == "" {
		c.Lifecycle.SweepSchedule = "@every 1h"
	}

	if c.Credentials.MaxPerAccount == 0 {
		c.Credentials.MaxPerAccount = 10
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Credentials.MaxPerAccount < 0 {
		return fmt.Errorf("credentials.max_per_account must not be negative")
	}
	if c.Lifecycle.KeyMaxAge < 0 {
		return fmt.Errorf("lifecycle.key_max_age must not be negative")
	}
	if c.Lifecycle.WarningWindow < 0 {
		return fmt.Errorf("lifecycle.warning_window must not be negative")
	}

	if _, err := cron.ParseStandard(c.Lifecycle.SweepSchedule); err != nil {
		return fmt.Errorf("invalid lifecycle.sweep_schedule: %w", err)
	}

	return nil
}
