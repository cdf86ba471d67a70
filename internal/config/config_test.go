package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 15*time.Second, cfg.FetchTimeout())
	require.Equal(t, 512, cfg.Fetch.MinBodyBytes)
	require.Equal(t, 2, cfg.Fetch.MaxRetries)
	require.Equal(t, "@every 30m", cfg.Refresh.Schedule)
	require.Equal(t, BackendMemory, cfg.Storage.Backend)
	require.Equal(t, BackendNone, cfg.Archive.Backend)
	require.Equal(t, 86400, cfg.Push.TTLSeconds)
	require.True(t, cfg.Push.Encrypt)
	require.True(t, cfg.Notify.GoalEnabled)
	require.False(t, cfg.Notify.ChangeEnabled)
	require.False(t, cfg.PushEnabled())
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
fetch:
  timeout_seconds: 10
  max_retries: 4
  rate_per_host: 0.5
refresh:
  concurrency: 8
  schedule: "0 * * * *"
  lock_backend: redis
  redis_url: redis://localhost:6379/0
notify:
  change_enabled: true
push:
  vapid_public_key: pub
  vapid_private_key: priv
  encrypt: false
storage:
  backend: sqlite
  sqlite_path: /tmp/tracker.db
archive:
  backend: local
  base_dir: /tmp/pages
pubsub:
  project_id: proj
  topic: snapshots
logging:
  development: false
  file: /tmp/tracker.log
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, 10*time.Second, cfg.FetchTimeout())
	require.InDelta(t, 0.5, cfg.Fetch.RatePerHost, 1e-9)
	require.Equal(t, 8, cfg.Refresh.Concurrency)
	require.Equal(t, BackendRedis, cfg.Refresh.LockBackend)
	require.True(t, cfg.Notify.ChangeEnabled)
	require.True(t, cfg.PushEnabled())
	require.False(t, cfg.Push.Encrypt)
	require.Equal(t, BackendSQLite, cfg.Storage.Backend)
	require.Equal(t, "/tmp/pages", cfg.Archive.BaseDir)
	require.Equal(t, "snapshots", cfg.PubSub.Topic)
	require.Equal(t, "/tmp/tracker.log", cfg.Logging.File)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	cases := map[string]func(*Config){
		"port":             func(c *Config) { c.Server.Port = 0 },
		"auth key":         func(c *Config) { c.Auth.Enabled = true },
		"fetch timeout":    func(c *Config) { c.Fetch.TimeoutSeconds = 0 },
		"rate":             func(c *Config) { c.Fetch.RatePerHost = 0 },
		"headless":         func(c *Config) { c.Headless.Enabled = true; c.Headless.MaxParallel = 0 },
		"concurrency":      func(c *Config) { c.Refresh.Concurrency = 0 },
		"schedule too hot": func(c *Config) { c.Refresh.Schedule = "@every 5m" },
		"lock backend":     func(c *Config) { c.Refresh.LockBackend = "etcd" },
		"redis url":        func(c *Config) { c.Refresh.LockBackend = BackendRedis },
		"half vapid":       func(c *Config) { c.Push.VAPIDPublicKey = "pub" },
		"storage":          func(c *Config) { c.Storage.Backend = "mongo" },
		"postgres dsn":     func(c *Config) { c.Storage.Backend = BackendPostgres },
		"archive":          func(c *Config) { c.Archive.Backend = "s3" },
		"gcs bucket":       func(c *Config) { c.Archive.Backend = BackendGCS },
		"local dir":        func(c *Config) { c.Archive.Backend = BackendLocal },
		"pubsub project":   func(c *Config) { c.PubSub.Topic = "snapshots" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}

	disabled := base
	disabled.Refresh.SchedulerEnabled = false
	disabled.Refresh.Schedule = "@every 1m"
	require.NoError(t, disabled.Validate())
}
