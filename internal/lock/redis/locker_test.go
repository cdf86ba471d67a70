package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// fakeClient emulates SET NX and the compare-and-delete script.
type fakeClient struct {
	mu      sync.Mutex
	values  map[string]string
	ttls    map[string]time.Duration
	setErr  error
	evalErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeClient) SetNX(_ context.Context, key string, value any, exp time.Duration) *goredis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return goredis.NewBoolResult(false, f.setErr)
	}
	if _, exists := f.values[key]; exists {
		return goredis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	f.ttls[key] = exp
	return goredis.NewBoolResult(true, nil)
}

func (f *fakeClient) Eval(_ context.Context, _ string, keys []string, args ...any) *goredis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.evalErr != nil {
		return goredis.NewCmdResult(nil, f.evalErr)
	}
	if f.values[keys[0]] == args[0].(string) {
		delete(f.values, keys[0])
		return goredis.NewCmdResult(int64(1), nil)
	}
	return goredis.NewCmdResult(int64(0), nil)
}

func (f *fakeClient) Ping(context.Context) *goredis.StatusCmd {
	return goredis.NewStatusResult("PONG", nil)
}

func TestTryLockAcquireAndRelease(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	l, err := New(fc, Config{TTL: time.Minute}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	unlock, ok, err := l.TryLock(ctx, "refresh-all")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, time.Minute, fc.ttls["tracker:lock:refresh-all"])

	_, ok, err = l.TryLock(ctx, "refresh-all")
	require.NoError(t, err)
	require.False(t, ok)

	unlock()
	_, ok, err = l.TryLock(ctx, "refresh-all")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestUnlockLeavesForeignHolderAlone(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	l, err := New(fc, Config{Prefix: "p:"}, nil)
	require.NoError(t, err)

	unlock, ok, err := l.TryLock(context.Background(), "job")
	require.NoError(t, err)
	require.True(t, ok)

	// Our key expired and another replica took it over.
	fc.mu.Lock()
	fc.values["p:job"] = "someone-else"
	fc.mu.Unlock()

	unlock()
	fc.mu.Lock()
	defer fc.mu.Unlock()
	require.Equal(t, "someone-else", fc.values["p:job"])
}

func TestTryLockSurfacesErrors(t *testing.T) {
	t.Parallel()

	fc := newFakeClient()
	fc.setErr = errors.New("connection refused")
	l, err := New(fc, Config{}, nil)
	require.NoError(t, err)

	_, ok, err := l.TryLock(context.Background(), "refresh-all")
	require.Error(t, err)
	require.False(t, ok)
	require.NoError(t, l.Ping(context.Background()))

	_, err = New(nil, Config{}, nil)
	require.Error(t, err)
}
