package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	yaml := `
api:
  base_url: https://scores.example.com
  timeout: 5s
  retries: 0
realtime:
  url: wss://scores.example.com
  max_reconnect_attempts: 3
feed:
  watch: [5, 9]
  refresh_interval: 30s
  refresh_on_reconnect: true
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://scores.example.com", cfg.API.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
	require.NotNil(t, cfg.API.Retries)
	assert.Equal(t, 0, *cfg.API.Retries)
	assert.Equal(t, 3, cfg.Realtime.MaxReconnectAttempts)
	assert.Equal(t, []int64{5, 9}, cfg.Feed.Watch)
	assert.Equal(t, 30*time.Second, cfg.Feed.RefreshInterval)
	assert.True(t, cfg.Feed.RefreshOnReconnect)
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")
	t.Setenv("TEST_API_HOST", "api.internal:8000")

	yaml := `
api:
  base_url: http://${TEST_API_HOST}
journal:
  enabled: true
  database:
    host: localhost
    name: sportzy
    user: sportzy
    password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "secret123", cfg.Journal.Database.Password)
	assert.Equal(t, "http://api.internal:8000", cfg.API.BaseURL)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config file")

	path := writeTempFile(t, "api: [not, a, map")
	_, err = Load(path)
	assert.ErrorContains(t, err, "parse config yaml")

	path = writeTempFile(t, "api:\n  retry_dealy: 2s\n")
	_, err = Load(path)
	assert.ErrorContains(t, err, "field retry_dealy not found")
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := LoadWithDefaults(writeTempFile(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWithDefaults(t *testing.T) {
	path := writeTempFile(t, "log:\n  level: debug\n")

	cfg, err := LoadWithDefaults(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultBaseURL, cfg.API.BaseURL)
	assert.Equal(t, DefaultAPITimeout, cfg.API.Timeout)
	require.NotNil(t, cfg.API.Retries)
	assert.Equal(t, DefaultRetries, *cfg.API.Retries)
	assert.Equal(t, DefaultRetryDelay, cfg.API.RetryDelay)
	assert.Equal(t, "ws://localhost:8000/ws", cfg.Realtime.Endpoint())
	assert.Equal(t, DefaultMaxReconnectAttempts, cfg.Realtime.MaxReconnectAttempts)
	assert.Equal(t, DefaultDBPort, cfg.Journal.Database.Port)
	assert.Equal(t, DefaultMetricsPort, cfg.Metrics.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadAndValidate(t *testing.T) {
	t.Run("empty path uses defaults", func(t *testing.T) {
		cfg, err := LoadAndValidate("")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("invalid file", func(t *testing.T) {
		path := writeTempFile(t, "api:\n  base_url: ftp://example.com\n")
		_, err := LoadAndValidate(path)
		assert.ErrorContains(t, err, "validate config: api.base_url scheme")
	})
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		url, path, want string
	}{
		{"ws://localhost:8000", "/ws", "ws://localhost:8000/ws"},
		{"ws://localhost:8000/", "/ws", "ws://localhost:8000/ws"},
		{"wss://scores.example.com", "live", "wss://scores.example.com/live"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RealtimeConfig{URL: tt.url, Path: tt.path}.Endpoint())
	}
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LogConfig{Level: "DEBUG"}.SlogLevel())
	assert.Equal(t, slog.LevelWarn, LogConfig{Level: "warn"}.SlogLevel())
	assert.Equal(t, slog.LevelError, LogConfig{Level: "error"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, LogConfig{Level: ""}.SlogLevel())
}

func TestValidate(t *testing.T) {
	negative := -1

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid defaults",
			mutate:  func(*Config) {},
			wantErr: "",
		},
		{
			name:    "relative base url",
			mutate:  func(c *Config) { c.API.BaseURL = "/matches" },
			wantErr: `api.base_url must be an absolute URL, got "/matches"`,
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.API.Retries = &negative },
			wantErr: "api.retries must be >= 0, got -1",
		},
		{
			name:    "http realtime url",
			mutate:  func(c *Config) { c.Realtime.URL = "http://localhost:8000" },
			wantErr: `realtime.url scheme must be one of ws, wss, got "http"`,
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Feed.Concurrency = 0 },
			wantErr: "feed.concurrency must be >= 1",
		},
		{
			name:    "invalid watch id",
			mutate:  func(c *Config) { c.Feed.Watch = []int64{3, 0} },
			wantErr: "feed.watch contains invalid match id 0",
		},
		{
			name:    "journal without database host",
			mutate:  func(c *Config) { c.Journal.Enabled = true },
			wantErr: "journal.database.host is required",
		},
		{
			name: "journal min_conns exceeds max_conns",
			mutate: func(c *Config) {
				c.Journal.Enabled = true
				c.Journal.Database = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 2, MinConns: 5}
			},
			wantErr: "journal.database.min_conns (5) cannot exceed max_conns (2)",
		},
		{
			name:    "disabled journal ignores database",
			mutate:  func(c *Config) { c.Journal.Database = DBConfig{} },
			wantErr: "",
		},
		{
			name:    "metrics port out of range",
			mutate:  func(c *Config) { c.Metrics.Port = 70000 },
			wantErr: "metrics.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: `log.level must be one of debug, info, warn, error, got "verbose"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
