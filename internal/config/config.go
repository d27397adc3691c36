package config

import (
	"log/slog"
	"strings"
	"time"
)

// Config is the root configuration.
type Config struct {
	API      APIConfig      `yaml:"api"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Feed     FeedConfig     `yaml:"feed"`
	Journal  JournalConfig  `yaml:"journal"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// APIConfig holds REST client settings.
type APIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	Retries    *int          `yaml:"retries"` // nil uses the default; 0 disables retry
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// RealtimeConfig holds push connection settings.
type RealtimeConfig struct {
	URL                  string        `yaml:"url"`
	Path                 string        `yaml:"path"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	PingTimeout          time.Duration `yaml:"ping_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
}

// Endpoint joins URL and Path.
func (r RealtimeConfig) Endpoint() string {
	return strings.TrimSuffix(r.URL, "/") + "/" + strings.TrimPrefix(r.Path, "/")
}

// FeedConfig controls what the watch loop loads and follows.
type FeedConfig struct {
	MatchLimit         int           `yaml:"match_limit"`
	CommentaryLimit    int           `yaml:"commentary_limit"`
	Watch              []int64       `yaml:"watch"`            // match ids subscribed at startup
	RefreshInterval    time.Duration `yaml:"refresh_interval"` // 0 disables periodic refresh
	RefreshOnReconnect bool          `yaml:"refresh_on_reconnect"`
	Concurrency        int           `yaml:"concurrency"`
}

// JournalConfig holds event journal settings.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Database      DBConfig      `yaml:"database"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// SlogLevel converts Level to a slog.Level. Unknown values map to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
