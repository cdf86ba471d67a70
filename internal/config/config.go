// Package config loads and validates tracker configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/follower-tracker/internal/scheduler"
)

// Storage, archive and lock backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendNone     = "none"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendRedis    = "redis"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Refresh  RefreshConfig  `mapstructure:"refresh"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Push     PushConfig     `mapstructure:"push"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features and the optional rotating file.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

// FetchConfig configures page fetching, retries and per-host politeness.
type FetchConfig struct {
	UserAgent        string  `mapstructure:"user_agent"`
	AcceptLanguage   string  `mapstructure:"accept_language"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	MinBodyBytes     int     `mapstructure:"min_body_bytes"`
	MaxBodyBytes     int     `mapstructure:"max_body_bytes"`
	MaxRetries       int     `mapstructure:"max_retries"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	RatePerHost      float64 `mapstructure:"rate_per_host"`
	Burst            int     `mapstructure:"burst"`
}

// HeadlessConfig configures the headless rendering fallback.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	SettleDelayMs int  `mapstructure:"settle_delay_ms"`
}

// RefreshConfig governs batch refreshes and their overlap guard.
type RefreshConfig struct {
	Concurrency       int    `mapstructure:"concurrency"`
	Schedule          string `mapstructure:"schedule"`
	SchedulerEnabled  bool   `mapstructure:"scheduler_enabled"`
	RunTimeoutMinutes int    `mapstructure:"run_timeout_minutes"`
	LockBackend       string `mapstructure:"lock_backend"`
	LockTTLSeconds    int    `mapstructure:"lock_ttl_seconds"`
	RedisURL          string `mapstructure:"redis_url"`
}

// NotifyConfig selects which refresh events produce push notifications.
type NotifyConfig struct {
	GoalEnabled   bool `mapstructure:"goal_enabled"`
	ChangeEnabled bool `mapstructure:"change_enabled"`
}

// PushConfig holds the VAPID identity and delivery settings.
type PushConfig struct {
	VAPIDPublicKey  string `mapstructure:"vapid_public_key"`
	VAPIDPrivateKey string `mapstructure:"vapid_private_key"`
	Subject         string `mapstructure:"subject"`
	TTLSeconds      int    `mapstructure:"ttl_seconds"`
	Encrypt         bool   `mapstructure:"encrypt"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	Concurrency     int    `mapstructure:"concurrency"`
}

// StorageConfig selects the channel/snapshot/subscription backend.
type StorageConfig struct {
	Backend                string `mapstructure:"backend"`
	DSN                    string `mapstructure:"dsn"`
	SQLitePath             string `mapstructure:"sqlite_path"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// ArchiveConfig controls where unmatched pages are kept for diagnosis.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig holds the snapshot event destination.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TRACKER")
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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("fetch.user_agent", "")
	v.SetDefault("fetch.accept_language", "")
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.min_body_bytes", 512)
	v.SetDefault("fetch.max_body_bytes", 5<<20)
	v.SetDefault("fetch.max_retries", 2)
	v.SetDefault("fetch.backoff_initial_ms", 500)
	v.SetDefault("fetch.backoff_max_ms", 5000)
	v.SetDefault("fetch.rate_per_host", 1.0)
	v.SetDefault("fetch.burst", 2)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.settle_delay_ms", 750)
	v.SetDefault("refresh.concurrency", 4)
	v.SetDefault("refresh.schedule", "@every 30m")
	v.SetDefault("refresh.scheduler_enabled", true)
	v.SetDefault("refresh.run_timeout_minutes", 20)
	v.SetDefault("refresh.lock_backend", BackendMemory)
	v.SetDefault("refresh.lock_ttl_seconds", 1800)
	v.SetDefault("notify.goal_enabled", true)
	v.SetDefault("notify.change_enabled", false)
	v.SetDefault("push.subject", "mailto:noreply@socialtracker.app")
	v.SetDefault("push.ttl_seconds", 86400)
	v.SetDefault("push.encrypt", true)
	v.SetDefault("push.timeout_seconds", 15)
	v.SetDefault("push.concurrency", 4)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.sqlite_path", "tracker.db")
	v.SetDefault("storage.max_conns", 8)
	v.SetDefault("storage.max_conn_lifetime_minutes", 30)
	v.SetDefault("archive.backend", BackendNone)
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("pubsub.topic", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.MinBodyBytes < 0 {
		return fmt.Errorf("fetch.min_body_bytes must be >= 0")
	}
	if c.Fetch.MaxRetries < 0 {
		return fmt.Errorf("fetch.max_retries must be >= 0")
	}
	if c.Fetch.RatePerHost <= 0 {
		return fmt.Errorf("fetch.rate_per_host must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Refresh.Concurrency <= 0 {
		return fmt.Errorf("refresh.concurrency must be > 0")
	}
	if c.Refresh.SchedulerEnabled {
		if err := scheduler.ValidateSchedule(c.Refresh.Schedule, scheduler.MinInterval); err != nil {
			return fmt.Errorf("refresh.schedule: %w", err)
		}
	}
	switch c.Refresh.LockBackend {
	case BackendMemory:
	case BackendRedis:
		if c.Refresh.RedisURL == "" {
			return fmt.Errorf("refresh.redis_url must be set when refresh.lock_backend is redis")
		}
	default:
		return fmt.Errorf("refresh.lock_backend must be memory or redis, got %q", c.Refresh.LockBackend)
	}
	if (c.Push.VAPIDPublicKey == "") != (c.Push.VAPIDPrivateKey == "") {
		return fmt.Errorf("push.vapid_public_key and push.vapid_private_key must be set together")
	}
	if c.Push.TTLSeconds < 0 {
		return fmt.Errorf("push.ttl_seconds must be >= 0")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn must be set when storage.backend is postgres")
		}
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path must be set when storage.backend is sqlite")
		}
	default:
		return fmt.Errorf("storage.backend must be memory, postgres or sqlite, got %q", c.Storage.Backend)
	}
	switch c.Archive.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir must be set when archive.backend is local")
		}
	case BackendGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must be set when archive.backend is gcs")
		}
	default:
		return fmt.Errorf("archive.backend must be none, memory, local or gcs, got %q", c.Archive.Backend)
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	return nil
}

// PushEnabled reports whether a VAPID identity is configured.
func (c Config) PushEnabled() bool {
	return c.Push.VAPIDPrivateKey != ""
}

// FetchTimeout is the per-request fetch bound.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// RefreshRunTimeout bounds one batch run; zero means unbounded.
func (c Config) RefreshRunTimeout() time.Duration {
	return time.Duration(c.Refresh.RunTimeoutMinutes) * time.Minute
}

// ShutdownTimeout bounds graceful HTTP shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
