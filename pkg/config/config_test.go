package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: sqlite
  sqlite:
    path: /tmp/healoor.db
engine:
  endpoint: http://localhost:9222
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultLogLevel, cfg.Global.LogLevel)
	assert.Equal(t, DefaultListen, cfg.Server.Listen)
	assert.Equal(t, DefaultEngineTimeout, cfg.Engine.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Execution.CleanupGraceDuration())
	assert.Equal(t, 30*time.Second, cfg.Execution.HeartbeatIntervalDuration())
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
global:
  log_level: debug
server:
  listen: ":9090"
  cors_origins:
    - https://app.example.com
  rate_limit:
    enabled: true
    public:
      requests_per_minute: 120
    write:
      requests_per_minute: 30
database:
  driver: postgres
  postgres:
    host: db.internal
    port: 5432
    user: healoor
    password: secret
    database: healoor
engine:
  endpoint: http://engine:9222
  timeout: 5m
execution:
  cleanup_grace: 2s
  heartbeat_interval: 15s
artifacts:
  s3:
    enabled: true
    bucket: healoor-artifacts
    region: eu-west-1
    presigned_urls:
      expiry: 30m
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.Global.LogLevel)
	assert.Equal(t, ":9090", cfg.Server.Listen)
	assert.True(t, cfg.Server.RateLimit.Enabled)
	assert.Equal(t, 120, cfg.Server.RateLimit.Public.RequestsPerMinute)
	assert.Equal(t, "db.internal", cfg.Database.Postgres.Host)
	assert.Equal(t, 2*time.Second, cfg.Execution.CleanupGraceDuration())
	assert.Equal(t, 5*time.Minute, cfg.Engine.TimeoutDuration())
	assert.Equal(t, "healoor-artifacts", cfg.Artifacts.S3.Bucket)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Database.Driver = "mysql" },
			wantErr: "database.driver",
		},
		{
			name:    "sqlite path missing",
			mutate:  func(c *Config) { c.Database.SQLite.Path = "" },
			wantErr: "database.sqlite.path",
		},
		{
			name:    "engine endpoint missing",
			mutate:  func(c *Config) { c.Engine.Endpoint = "" },
			wantErr: "engine.endpoint",
		},
		{
			name:    "bad duration",
			mutate:  func(c *Config) { c.Execution.CleanupGrace = "soon" },
			wantErr: "cleanup_grace",
		},
		{
			name: "both artifact backends enabled",
			mutate: func(c *Config) {
				c.Artifacts.Local = &LocalArtifactsConfig{
					Enabled: true, Dir: "/var/artifacts",
				}
				c.Artifacts.S3 = &S3ArtifactsConfig{
					Enabled: true, Bucket: "b",
				}
			},
			wantErr: "one artifacts backend",
		},
		{
			name: "s3 bucket missing",
			mutate: func(c *Config) {
				c.Artifacts.S3 = &S3ArtifactsConfig{Enabled: true}
			},
			wantErr: "artifacts.s3.bucket",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Database: DatabaseConfig{
					Driver: "sqlite",
					SQLite: SQLiteConfig{Path: "/tmp/test.db"},
				},
				Engine: EngineConfig{Endpoint: "http://localhost:9222"},
			}
			cfg.applyDefaults()

			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
