// Package config loads and validates validator configuration via Viper.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends accepted in storage.backend.
const (
	StorageLocal  = "local"
	StorageMemory = "memory"
	StorageGCS    = "gcs"
)

// Publisher backends accepted in pubsub.backend.
const (
	PublisherPubSub = "pubsub"
	PublisherMemory = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Session  SessionConfig  `mapstructure:"session"`
	Prober   ProberConfig   `mapstructure:"prober"`
	Runner   RunnerConfig   `mapstructure:"runner"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Progress ProgressConfig `mapstructure:"progress"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int      `mapstructure:"port"`
	CORSOrigins           []string `mapstructure:"cors_origins"`
	MaxBodyBytes          int64    `mapstructure:"max_body_bytes"`
	RequestTimeoutSeconds int      `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SessionConfig drives the authenticated browser session.
type SessionConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	URL                  string `mapstructure:"url"`
	UserDataDir          string `mapstructure:"user_data_dir"`
	ChromePath           string `mapstructure:"chrome_path"`
	Headless             bool   `mapstructure:"headless"`
	PollIntervalMs       int    `mapstructure:"poll_interval_ms"`
	LookupTimeoutSeconds int    `mapstructure:"lookup_timeout_seconds"`
}

// ProberConfig tunes the click-to-chat fallback.
type ProberConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
	AcceptLanguage string `mapstructure:"accept_language"`
	// MaxRPS caps probes per second; 0 disables the limit.
	MaxRPS float64 `mapstructure:"max_rps"`
	Burst  int     `mapstructure:"burst"`
}

// RunnerConfig paces verification runs.
type RunnerConfig struct {
	ItemDelayMs     int `mapstructure:"item_delay_ms"`
	DiagnosticLimit int `mapstructure:"diagnostic_limit"`
}

// StorageConfig selects where reports and diagnostics are written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls the optional run history table.
type DBConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// PubSubConfig holds metadata for run-completed notifications.
// Notifications are off while TopicName is empty.
type PubSubConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the event hub.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WAV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Cloud Run and most PaaS hosts inject PORT.
	if raw := os.Getenv("PORT"); raw != "" && os.Getenv("WAV_SERVER_PORT") == "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse PORT %q: %w", raw, err)
		}
		cfg.Server.Port = port
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("session.enabled", true)
	v.SetDefault("session.url", "https://web.whatsapp.com")
	v.SetDefault("session.user_data_dir", "data/session")
	v.SetDefault("session.headless", true)
	v.SetDefault("session.poll_interval_ms", 2000)
	v.SetDefault("session.lookup_timeout_seconds", 30)
	v.SetDefault("prober.base_url", "https://api.whatsapp.com/send/?phone=")
	v.SetDefault("prober.timeout_seconds", 15)
	v.SetDefault("prober.accept_language", "pt-BR,pt;q=0.9,en;q=0.8")
	v.SetDefault("prober.max_rps", 0)
	v.SetDefault("prober.burst", 1)
	v.SetDefault("runner.item_delay_ms", 30)
	v.SetDefault("runner.diagnostic_limit", 5)
	v.SetDefault("storage.backend", StorageLocal)
	v.SetDefault("storage.base_dir", "data")
	v.SetDefault("storage.prefix", "runs")
	v.SetDefault("db.table", "verification_runs")
	v.SetDefault("pubsub.backend", PublisherPubSub)
	v.SetDefault("progress.buffer_size", 256)
	v.SetDefault("progress.max_batch_events", 32)
	v.SetDefault("progress.max_batch_wait_ms", 50)

	// Keys without defaults must be bound for Unmarshal to see the environment.
	for _, key := range []string{
		"auth.enabled", "auth.api_key", "session.chrome_path", "prober.user_agent",
		"storage.gcs_bucket", "db.dsn", "pubsub.project_id", "pubsub.topic_name",
	} {
		_ = v.BindEnv(key)
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Prober.TimeoutSeconds <= 0 {
		return fmt.Errorf("prober.timeout_seconds must be > 0")
	}
	if c.Prober.MaxRPS < 0 {
		return fmt.Errorf("prober.max_rps must be >= 0")
	}
	if c.Runner.ItemDelayMs < 0 {
		return fmt.Errorf("runner.item_delay_ms must be >= 0")
	}
	if c.Runner.DiagnosticLimit < 0 {
		return fmt.Errorf("runner.diagnostic_limit must be >= 0")
	}
	if c.Session.Enabled && c.Session.LookupTimeoutSeconds <= 0 {
		return fmt.Errorf("session.lookup_timeout_seconds must be > 0 when the session is enabled")
	}
	switch c.Storage.Backend {
	case StorageLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for the local backend")
		}
	case StorageMemory:
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of local, memory, gcs", c.Storage.Backend)
	}
	switch c.PubSub.Backend {
	case "", PublisherPubSub:
		if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
			return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
		}
	case PublisherMemory:
	default:
		return fmt.Errorf("pubsub.backend %q is not one of pubsub, memory", c.PubSub.Backend)
	}
	if c.Progress.BufferSize <= 0 {
		return fmt.Errorf("progress.buffer_size must be > 0")
	}
	return nil
}

// ItemDelay converts runner.item_delay_ms to a duration.
func (c Config) ItemDelay() time.Duration {
	return time.Duration(c.Runner.ItemDelayMs) * time.Millisecond
}

// ProbeTimeout converts prober.timeout_seconds to a duration.
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Prober.TimeoutSeconds) * time.Second
}

// PollInterval converts session.poll_interval_ms to a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Session.PollIntervalMs) * time.Millisecond
}

// LookupTimeout converts session.lookup_timeout_seconds to a duration.
func (c Config) LookupTimeout() time.Duration {
	return time.Duration(c.Session.LookupTimeoutSeconds) * time.Second
}

// RequestTimeout converts server.request_timeout_seconds to a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// BatchWait converts progress.max_batch_wait_ms to a duration.
func (c Config) BatchWait() time.Duration {
	return time.Duration(c.Progress.MaxBatchWaitMs) * time.Millisecond
}
