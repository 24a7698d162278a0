// Package config loads and validates the healoor configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultListen is the default HTTP listen address.
	DefaultListen = ":8080"

	// DefaultEngineTimeout bounds a single scenario execution.
	DefaultEngineTimeout = "10m"

	// DefaultCleanupGrace is how long a finished run's event producer
	// stays registered so an in-flight viewer can receive the final
	// event.
	DefaultCleanupGrace = "5s"

	// DefaultHeartbeatInterval is the interval between synthetic
	// heartbeat events on a live stream.
	DefaultHeartbeatInterval = "30s"
)

// Config is the root configuration for healoor.
type Config struct {
	Global    GlobalConfig    `yaml:"global"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Engine    EngineConfig    `yaml:"engine"`
	Execution ExecutionConfig `yaml:"execution"`
	Artifacts ArtifactsConfig `yaml:"artifacts,omitempty"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled"`
	Public  RateLimitTier `yaml:"public,omitempty"`
	Write   RateLimitTier `yaml:"write,omitempty"`
}

// RateLimitTier defines request limits for a specific tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite,omitempty"`
	Postgres PostgresConfig `yaml:"postgres,omitempty"`
}

// SQLiteConfig contains SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty"`
}

// EngineConfig points at the remote automation driver that executes
// scenario steps and streams back execution events.
type EngineConfig struct {
	Endpoint string `yaml:"endpoint"`
	Timeout  string `yaml:"timeout,omitempty"`
}

// ExecutionConfig tunes run-lifecycle behavior. Both durations are
// configurable so tests can use near-zero values.
type ExecutionConfig struct {
	CleanupGrace      string `yaml:"cleanup_grace,omitempty"`
	HeartbeatInterval string `yaml:"heartbeat_interval,omitempty"`
}

// ArtifactsConfig contains storage backend settings for serving step
// artifacts (screenshots, console logs, HTML snapshots). Only one
// backend may be enabled at a time.
type ArtifactsConfig struct {
	Local *LocalArtifactsConfig `yaml:"local,omitempty"`
	S3    *S3ArtifactsConfig    `yaml:"s3,omitempty"`
}

// LocalArtifactsConfig serves artifacts directly from a local directory.
type LocalArtifactsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// S3ArtifactsConfig contains S3 settings for presigned URL generation.
type S3ArtifactsConfig struct {
	Enabled         bool           `yaml:"enabled"`
	EndpointURL     string         `yaml:"endpoint_url,omitempty"`
	Region          string         `yaml:"region,omitempty"`
	Bucket          string         `yaml:"bucket"`
	AccessKeyID     string         `yaml:"access_key_id,omitempty"`
	SecretAccessKey string         `yaml:"secret_access_key,omitempty"`
	ForcePathStyle  bool           `yaml:"force_path_style"`
	KeyPrefix       string         `yaml:"key_prefix,omitempty"`
	PresignedURLs   S3PresignedURL `yaml:"presigned_urls,omitempty"`
}

// S3PresignedURL contains presigned URL generation settings.
type S3PresignedURL struct {
	Expiry string `yaml:"expiry,omitempty"`
}

// Load reads and parses a configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	if c.Engine.Timeout == "" {
		c.Engine.Timeout = DefaultEngineTimeout
	}

	if c.Execution.CleanupGrace == "" {
		c.Execution.CleanupGrace = DefaultCleanupGrace
	}

	if c.Execution.HeartbeatInterval == "" {
		c.Execution.HeartbeatInterval = DefaultHeartbeatInterval
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}

		if c.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
	default:
		return fmt.Errorf(
			"database.driver must be sqlite or postgres, got %q",
			c.Database.Driver,
		)
	}

	if c.Engine.Endpoint == "" {
		return fmt.Errorf("engine.endpoint is required")
	}

	for _, d := range []struct {
		name  string
		value string
	}{
		{"engine.timeout", c.Engine.Timeout},
		{"execution.cleanup_grace", c.Execution.CleanupGrace},
		{"execution.heartbeat_interval", c.Execution.HeartbeatInterval},
	} {
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("parsing %s: %w", d.name, err)
		}
	}

	if c.Artifacts.Local != nil && c.Artifacts.Local.Enabled &&
		c.Artifacts.S3 != nil && c.Artifacts.S3.Enabled {
		return fmt.Errorf("only one artifacts backend may be enabled")
	}

	if c.Artifacts.Local != nil && c.Artifacts.Local.Enabled &&
		c.Artifacts.Local.Dir == "" {
		return fmt.Errorf("artifacts.local.dir is required")
	}

	if c.Artifacts.S3 != nil && c.Artifacts.S3.Enabled {
		if c.Artifacts.S3.Bucket == "" {
			return fmt.Errorf("artifacts.s3.bucket is required")
		}

		if c.Artifacts.S3.PresignedURLs.Expiry != "" {
			if _, err := time.ParseDuration(
				c.Artifacts.S3.PresignedURLs.Expiry,
			); err != nil {
				return fmt.Errorf(
					"parsing artifacts.s3.presigned_urls.expiry: %w", err,
				)
			}
		}
	}

	return nil
}

// CleanupGraceDuration returns the parsed registry cleanup grace delay.
func (c *ExecutionConfig) CleanupGraceDuration() time.Duration {
	d, err := time.ParseDuration(c.CleanupGrace)
	if err != nil {
		d, _ = time.ParseDuration(DefaultCleanupGrace)
	}

	return d
}

// HeartbeatIntervalDuration returns the parsed heartbeat interval.
func (c *ExecutionConfig) HeartbeatIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.HeartbeatInterval)
	if err != nil {
		d, _ = time.ParseDuration(DefaultHeartbeatInterval)
	}

	return d
}

// TimeoutDuration returns the parsed engine execution timeout.
func (c *EngineConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		d, _ = time.ParseDuration(DefaultEngineTimeout)
	}

	return d
}
