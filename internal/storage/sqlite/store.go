// Package sqlite provides an embedded, single-file persistence backend built
// on the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JakeFAU/follower-tracker/internal/tracker"
)

// Store implements tracker.Store on SQLite.
type Store struct {
	db *sql.DB
}

var _ tracker.Store = (*Store)(nil)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS channels (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	url           TEXT NOT NULL,
	display_name  TEXT NOT NULL DEFAULT '',
	platform      TEXT NOT NULL,
	is_active     INTEGER NOT NULL DEFAULT 1,
	follower_goal INTEGER CHECK (follower_goal IS NULL OR follower_goal >= 0),
	created_at    INTEGER NOT NULL,
	UNIQUE (user_id, url)
);
CREATE TABLE IF NOT EXISTS snapshots (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	id             TEXT NOT NULL UNIQUE,
	channel_id     TEXT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
	follower_count INTEGER CHECK (follower_count IS NULL OR follower_count >= 0),
	raw_text       TEXT NOT NULL DEFAULT '',
	error          TEXT,
	created_at     INTEGER NOT NULL,
	CHECK (follower_count IS NULL OR error IS NULL)
);
CREATE INDEX IF NOT EXISTS snapshots_channel_created_idx ON snapshots (channel_id, created_at, seq);
CREATE TABLE IF NOT EXISTS push_subscriptions (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	endpoint   TEXT NOT NULL,
	p256dh     TEXT NOT NULL,
	auth       TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE (user_id, endpoint)
);`

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage.sqlite_path is required")
	}
	dsn := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		dsn = "file:" + path
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Ping checks that the database file is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// violates reports whether err is the given extended constraint failure.
// Primary-code errors are disambiguated by the driver message.
func violates(err error, extended int, fragment string) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	if se.Code() == extended {
		return true
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), fragment)
}

func toMicros(t time.Time) int64 { return t.UTC().UnixMicro() }

func fromMicros(v int64) time.Time { return time.UnixMicro(v).UTC() }

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func fromNullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func rowsAffected(res sql.Result, err error, op string) error {
	if err != nil {
		return tracker.PersistenceError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return tracker.PersistenceError(op, err)
	}
	if n == 0 {
		return tracker.ErrNotFound
	}
	return nil
}

// CreateChannel inserts a channel; a duplicate (user_id, url) yields ErrConflict.
func (s *Store) CreateChannel(ctx context.Context, ch tracker.Channel) (tracker.Channel, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels (id, user_id, url, display_name, platform, is_active, follower_goal, created_at)
VALUES (?,?,?,?,?,?,?,?)`,
		ch.ID, ch.UserID, ch.URL, ch.DisplayName, string(ch.Platform), ch.IsActive, nullInt(ch.FollowerGoal), toMicros(ch.CreatedAt))
	if err != nil {
		if violates(err, sqlite3.SQLITE_CONSTRAINT_UNIQUE, "UNIQUE") ||
			violates(err, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, "UNIQUE") {
			return tracker.Channel{}, fmt.Errorf("channel %s: %w", ch.URL, tracker.ErrConflict)
		}
		return tracker.Channel{}, tracker.PersistenceError("insert channel", err)
	}
	return ch, nil
}

// UpdateChannel writes the mutable fields of a channel.
func (s *Store) UpdateChannel(ctx context.Context, ch tracker.Channel) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE channels SET display_name = ?, platform = ?, is_active = ?, follower_goal = ? WHERE id = ?`,
		ch.DisplayName, string(ch.Platform), ch.IsActive, nullInt(ch.FollowerGoal), ch.ID)
	return rowsAffected(res, err, "update channel")
}

const channelSelect = `SELECT id, user_id, url, display_name, platform, is_active, follower_goal, created_at FROM channels`

// GetChannel fetches a channel by ID.
func (s *Store) GetChannel(ctx context.Context, id string) (tracker.Channel, error) {
	return scanChannel(s.db.QueryRowContext(ctx, channelSelect+` WHERE id = ?`, id))
}

// FindChannelByURL looks a channel up by owner and URL.
func (s *Store) FindChannelByURL(ctx context.Context, userID, url string) (tracker.Channel, error) {
	return scanChannel(s.db.QueryRowContext(ctx, channelSelect+` WHERE user_id = ? AND url = ?`, userID, url))
}

// ListChannels returns a user's channels ordered by creation time.
func (s *Store) ListChannels(ctx context.Context, userID string) ([]tracker.Channel, error) {
	return s.queryChannels(ctx, channelSelect+` WHERE user_id = ? ORDER BY created_at, id`, userID)
}

// ListActiveChannels returns every active channel.
func (s *Store) ListActiveChannels(ctx context.Context) ([]tracker.Channel, error) {
	return s.queryChannels(ctx, channelSelect+` WHERE is_active = 1 ORDER BY created_at, id`)
}

// DeleteChannel removes a channel and cascades its snapshots.
func (s *Store) DeleteChannel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM channels WHERE id = ?`, id)
	return rowsAffected(res, err, "delete channel")
}

func (s *Store) queryChannels(ctx context.Context, query string, args ...any) ([]tracker.Channel, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]tracker.Channel, 0)
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChannel(row scanner) (tracker.Channel, error) {
	var (
		ch       tracker.Channel
		platform string
		goal     sql.NullInt64
		created  int64
	)
	err := row.Scan(&ch.ID, &ch.UserID, &ch.URL, &ch.DisplayName, &platform, &ch.IsActive, &goal, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return tracker.Channel{}, tracker.ErrNotFound
	}
	if err != nil {
		return tracker.Channel{}, fmt.Errorf("scan channel: %w", err)
	}
	ch.Platform = tracker.Platform(platform)
	ch.FollowerGoal = fromNullInt(goal)
	ch.CreatedAt = fromMicros(created)
	return ch, nil
}

// AppendSnapshot inserts an immutable snapshot and returns it with its sequence.
func (s *Store) AppendSnapshot(ctx context.Context, snap tracker.Snapshot) (tracker.Snapshot, error) {
	if snap.FollowerCount != nil && snap.Error != "" {
		return tracker.Snapshot{}, tracker.InvalidInput("snapshot cannot carry both a count and an error")
	}
	var errText sql.NullString
	if snap.Error != "" {
		errText = sql.NullString{String: snap.Error, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, channel_id, follower_count, raw_text, error, created_at) VALUES (?,?,?,?,?,?)`,
		snap.ID, snap.ChannelID, nullInt(snap.FollowerCount), snap.RawText, errText, toMicros(snap.CreatedAt))
	if err != nil {
		switch {
		case violates(err, sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY, "FOREIGN KEY"):
			return tracker.Snapshot{}, fmt.Errorf("append snapshot for %s: %w", snap.ChannelID, tracker.ErrNotFound)
		case violates(err, sqlite3.SQLITE_CONSTRAINT_CHECK, "CHECK"):
			return tracker.Snapshot{}, tracker.InvalidInput("snapshot violates a check constraint")
		}
		return tracker.Snapshot{}, tracker.PersistenceError("insert snapshot", err)
	}
	if snap.Seq, err = res.LastInsertId(); err != nil {
		return tracker.Snapshot{}, tracker.PersistenceError("read snapshot sequence", err)
	}
	return snap, nil
}

const snapshotSelect = `SELECT seq, id, channel_id, follower_count, raw_text, error, created_at FROM snapshots`

// LatestSnapshot returns the max-created_at snapshot, ties broken by seq.
func (s *Store) LatestSnapshot(ctx context.Context, channelID string) (tracker.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		snapshotSelect+` WHERE channel_id = ? ORDER BY created_at DESC, seq DESC LIMIT 1`, channelID)
	return scanSnapshot(row)
}

// ListSnapshots returns up to limit of the most recent snapshots, ascending.
func (s *Store) ListSnapshots(ctx context.Context, channelID string, limit int) ([]tracker.Snapshot, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT * FROM (`+snapshotSelect+` WHERE channel_id = ? ORDER BY created_at DESC, seq DESC LIMIT ?)
ORDER BY created_at ASC, seq ASC`, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]tracker.Snapshot, 0)
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

func scanSnapshot(row scanner) (tracker.Snapshot, error) {
	var (
		snap    tracker.Snapshot
		count   sql.NullInt64
		errText sql.NullString
		created int64
	)
	err := row.Scan(&snap.Seq, &snap.ID, &snap.ChannelID, &count, &snap.RawText, &errText, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return tracker.Snapshot{}, tracker.ErrNotFound
	}
	if err != nil {
		return tracker.Snapshot{}, fmt.Errorf("scan snapshot: %w", err)
	}
	snap.FollowerCount = fromNullInt(count)
	snap.Error = errText.String
	snap.CreatedAt = fromMicros(created)
	return snap, nil
}

// UpsertSubscription inserts a subscription or refreshes the keys of an
// existing (user_id, endpoint) row.
func (s *Store) UpsertSubscription(ctx context.Context, sub tracker.PushSubscription) (tracker.PushSubscription, error) {
	var created int64
	err := s.db.QueryRowContext(ctx, `
INSERT INTO push_subscriptions (id, user_id, endpoint, p256dh, auth, created_at) VALUES (?,?,?,?,?,?)
ON CONFLICT (user_id, endpoint) DO UPDATE SET p256dh = excluded.p256dh, auth = excluded.auth
RETURNING id, created_at`,
		sub.ID, sub.UserID, sub.Endpoint, sub.P256dh, sub.Auth, toMicros(sub.CreatedAt)).Scan(&sub.ID, &created)
	if err != nil {
		return tracker.PushSubscription{}, tracker.PersistenceError("upsert subscription", err)
	}
	sub.CreatedAt = fromMicros(created)
	return sub, nil
}

// ListSubscriptions returns a user's subscriptions ordered by creation time.
func (s *Store) ListSubscriptions(ctx context.Context, userID string) ([]tracker.PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, endpoint, p256dh, auth, created_at FROM push_subscriptions WHERE user_id = ? ORDER BY created_at, id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]tracker.PushSubscription, 0)
	for rows.Next() {
		var (
			sub     tracker.PushSubscription
			created int64
		)
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dh, &sub.Auth, &created); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		sub.CreatedAt = fromMicros(created)
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return out, nil
}

// DeleteSubscription removes a subscription by ID.
func (s *Store) DeleteSubscription(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE id = ?`, id)
	return rowsAffected(res, err, "delete subscription")
}

// DeleteSubscriptionByEndpoint removes a user's subscription for endpoint.
func (s *Store) DeleteSubscriptionByEndpoint(ctx context.Context, userID, endpoint string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE user_id = ? AND endpoint = ?`, userID, endpoint)
	return rowsAffected(res, err, "delete subscription")
}

// DeleteUserSubscriptions removes every subscription of a user.
func (s *Store) DeleteUserSubscriptions(ctx context.Context, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE user_id = ?`, userID)
	if err != nil {
		return 0, tracker.PersistenceError("delete subscriptions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, tracker.PersistenceError("delete subscriptions", err)
	}
	return int(n), nil
}
