package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/follower-tracker/internal/config"
	"github.com/JakeFAU/follower-tracker/internal/push"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Logging.Level = "error"
	cfg.Refresh.SchedulerEnabled = false
	return &cfg
}

func get(t *testing.T, h http.Handler, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body := map[string]any{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestBuildWithMemoryBackends(t *testing.T) {
	t.Parallel()

	app, err := Build(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })

	code, _ := get(t, app.Handler(), "/healthz")
	require.Equal(t, http.StatusOK, code)
	code, body := get(t, app.Handler(), "/readyz")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ready", body["status"])

	code, _ = get(t, app.Handler(), "/v1/push/vapid-public-key")
	require.Equal(t, http.StatusServiceUnavailable, code)

	results, err := app.RefreshAll(context.Background())
	require.NoError(t, err)
	require.Empty(t, results)
	require.Nil(t, app.scheduler)
}

func TestBuildWithSQLiteAndPush(t *testing.T) {
	t.Parallel()

	keys, err := push.GenerateKeys()
	require.NoError(t, err)
	cfg := testConfig(t)
	cfg.Storage.Backend = config.BackendSQLite
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "tracker.db")
	cfg.Archive.Backend = config.BackendLocal
	cfg.Archive.BaseDir = filepath.Join(t.TempDir(), "pages")
	cfg.Push.VAPIDPrivateKey = keys.Private
	cfg.Push.VAPIDPublicKey = keys.Public
	cfg.Refresh.SchedulerEnabled = true

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, app.Close(context.Background())) })

	require.Contains(t, app.checks, "store")
	require.NotNil(t, app.scheduler)

	code, body := get(t, app.Handler(), "/v1/push/vapid-public-key")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, keys.Public, body["publicKey"])

	code, _ = get(t, app.Handler(), "/readyz")
	require.Equal(t, http.StatusOK, code)
}

func TestBuildRejectsMismatchedVAPIDKeys(t *testing.T) {
	t.Parallel()

	a, err := push.GenerateKeys()
	require.NoError(t, err)
	b, err := push.GenerateKeys()
	require.NoError(t, err)
	cfg := testConfig(t)
	cfg.Push.VAPIDPrivateKey = a.Private
	cfg.Push.VAPIDPublicKey = b.Public

	_, err = Build(context.Background(), cfg)
	require.ErrorContains(t, err, "vapid signer init failed")
}

func TestBuildRejectsBadRedisURL(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Refresh.LockBackend = config.BackendRedis
	cfg.Refresh.RedisURL = "not-a-redis-url"

	_, err := Build(context.Background(), cfg)
	require.ErrorContains(t, err, "redis lock init failed")
}
