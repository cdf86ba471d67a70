// Package postgres provides Postgres-backed persistence for channels,
// snapshots and push subscriptions.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/follower-tracker/internal/tracker"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// querier is the subset of *pgxpool.Pool used by Store, so pgxmock can stand in.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements tracker.Store on Postgres.
type Store struct {
	pool querier
}

var _ tracker.Store = (*Store)(nil)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS channels (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	url           TEXT NOT NULL,
	display_name  TEXT NOT NULL DEFAULT '',
	platform      TEXT NOT NULL,
	is_active     BOOLEAN NOT NULL DEFAULT TRUE,
	follower_goal BIGINT CHECK (follower_goal IS NULL OR follower_goal >= 0),
	created_at    TIMESTAMPTZ NOT NULL,
	UNIQUE (user_id, url)
);
CREATE TABLE IF NOT EXISTS snapshots (
	id             TEXT PRIMARY KEY,
	seq            BIGSERIAL NOT NULL,
	channel_id     TEXT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
	follower_count BIGINT CHECK (follower_count IS NULL OR follower_count >= 0),
	raw_text       TEXT NOT NULL DEFAULT '',
	error          TEXT,
	created_at     TIMESTAMPTZ NOT NULL,
	CHECK (follower_count IS NULL OR error IS NULL)
);
CREATE INDEX IF NOT EXISTS snapshots_channel_created_idx ON snapshots (channel_id, created_at DESC, seq DESC);
CREATE TABLE IF NOT EXISTS push_subscriptions (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	endpoint   TEXT NOT NULL,
	p256dh     TEXT NOT NULL,
	auth       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (user_id, endpoint)
);`

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool querier) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return tracker.ErrNotFound
	}
	return err
}
