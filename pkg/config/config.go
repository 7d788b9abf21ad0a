// Package config loads the server configuration from hiveboard.yaml,
// expands environment references, applies defaults and validates the
// result.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Config is the complete server configuration.
type Config struct {
	ListenAddr  string          `yaml:"listen_addr"`
	LogLevel    string          `yaml:"log_level"`
	Storage     StorageConfig   `yaml:"storage"`
	PricingPath string          `yaml:"pricing_path"`
	Retention   RetentionConfig `yaml:"retention"`
	Stream      StreamConfig    `yaml:"stream"`
}

// StorageConfig selects and parameterises the storage backend. The
// postgres backend reads its connection settings from DB_* environment
// variables.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	DataDir string `yaml:"data_dir"`
}

// RetentionConfig controls the background retention loop.
type RetentionConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// StreamConfig controls the WebSocket fan-out.
type StreamConfig struct {
	PingInterval time.Duration `yaml:"ping_interval"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr:  ":8080",
		LogLevel:    "info",
		Storage:     StorageConfig{Backend: BackendFile, DataDir: "./data"},
		PricingPath: "./data/pricing.json",
		Retention:   RetentionConfig{Interval: 15 * time.Minute},
		Stream:      StreamConfig{PingInterval: 30 * time.Second},
	}
}

// Load reads path, expands environment references and merges the file
// over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(ExpandEnv(data), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Storage.Backend != BackendFile && c.Storage.Backend != BackendPostgres {
		return fmt.Errorf("storage.backend must be %q or %q, got %q", BackendFile, BackendPostgres, c.Storage.Backend)
	}
	if c.Storage.Backend == BackendFile && c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir is required for the file backend")
	}
	if c.Retention.Interval <= 0 {
		return fmt.Errorf("retention.interval must be positive")
	}
	if c.Stream.PingInterval <= 0 {
		return fmt.Errorf("stream.ping_interval must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}
