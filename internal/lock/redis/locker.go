// Package redis guards batch refreshes across replicas with a Redis key.
package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only if we still own it.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`

// client is the subset of *goredis.Client the locker uses.
type client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *goredis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *goredis.Cmd
	Ping(ctx context.Context) *goredis.StatusCmd
}

// Config controls key naming and expiry.
type Config struct {
	// Prefix namespaces lock keys, e.g. "tracker:lock:".
	Prefix string
	// TTL bounds how long a crashed holder can block others.
	TTL time.Duration
}

// Locker implements tracker.Locker with SET NX PX and a compare-and-delete release.
type Locker struct {
	client client
	cfg    Config
	logger *zap.Logger
}

// Dial parses a redis:// URL, verifies connectivity and returns a Locker.
func Dial(ctx context.Context, redisURL string, cfg Config, logger *zap.Logger) (*Locker, *goredis.Client, error) {
	opt, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rc := goredis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		_ = rc.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	locker, err := New(rc, cfg, logger)
	if err != nil {
		_ = rc.Close()
		return nil, nil, err
	}
	return locker, rc, nil
}

// New wraps an existing client.
func New(c client, cfg Config, logger *zap.Logger) (*Locker, error) {
	if c == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "tracker:lock:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locker{client: c, cfg: cfg, logger: logger}, nil
}

// TryLock sets the key if absent. The returned unlock releases it only
// while this holder's token is still stored.
func (l *Locker) TryLock(ctx context.Context, name string) (func(), bool, error) {
	key := l.cfg.Prefix + strings.TrimSpace(name)
	token, err := newToken()
	if err != nil {
		return nil, false, err
	}
	ok, err := l.client.SetNX(ctx, key, token, l.cfg.TTL).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.client.Eval(releaseCtx, releaseScript, []string{key}, token).Err(); err != nil {
			l.logger.Warn("release lock failed", zap.String("key", key), zap.Error(err))
		}
	}, true, nil
}

// Ping reports whether Redis is reachable.
func (l *Locker) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
