package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/follower-tracker/internal/tracker"
)

const channelColumns = `id, user_id, url, display_name, platform, is_active, follower_goal, created_at`

// CreateChannel inserts a channel; a duplicate (user_id, url) yields ErrConflict.
func (s *Store) CreateChannel(ctx context.Context, ch tracker.Channel) (tracker.Channel, error) {
	query := `INSERT INTO channels (` + channelColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := s.pool.Exec(ctx, query,
		ch.ID, ch.UserID, ch.URL, ch.DisplayName, string(ch.Platform), ch.IsActive, ch.FollowerGoal, ch.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return tracker.Channel{}, fmt.Errorf("channel %s: %w", ch.URL, tracker.ErrConflict)
		}
		return tracker.Channel{}, tracker.PersistenceError("insert channel", err)
	}
	return ch, nil
}

// UpdateChannel writes the mutable fields of a channel.
func (s *Store) UpdateChannel(ctx context.Context, ch tracker.Channel) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE channels SET display_name = $2, platform = $3, is_active = $4, follower_goal = $5 WHERE id = $1`,
		ch.ID, ch.DisplayName, string(ch.Platform), ch.IsActive, ch.FollowerGoal)
	if err != nil {
		return tracker.PersistenceError("update channel", err)
	}
	if tag.RowsAffected() == 0 {
		return tracker.ErrNotFound
	}
	return nil
}

// GetChannel fetches a channel by ID.
func (s *Store) GetChannel(ctx context.Context, id string) (tracker.Channel, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE id = $1`, id)
	ch, err := scanChannel(row)
	if err != nil {
		return tracker.Channel{}, mapNoRows(err)
	}
	return ch, nil
}

// FindChannelByURL looks a channel up by owner and URL.
func (s *Store) FindChannelByURL(ctx context.Context, userID, url string) (tracker.Channel, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE user_id = $1 AND url = $2`, userID, url)
	ch, err := scanChannel(row)
	if err != nil {
		return tracker.Channel{}, mapNoRows(err)
	}
	return ch, nil
}

// ListChannels returns a user's channels ordered by creation time.
func (s *Store) ListChannels(ctx context.Context, userID string) ([]tracker.Channel, error) {
	return s.queryChannels(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE user_id = $1 ORDER BY created_at, id`, userID)
}

// ListActiveChannels returns every active channel.
func (s *Store) ListActiveChannels(ctx context.Context) ([]tracker.Channel, error) {
	return s.queryChannels(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE is_active ORDER BY created_at, id`)
}

// DeleteChannel removes a channel; snapshots go with it via ON DELETE CASCADE.
func (s *Store) DeleteChannel(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM channels WHERE id = $1`, id)
	if err != nil {
		return tracker.PersistenceError("delete channel", err)
	}
	if tag.RowsAffected() == 0 {
		return tracker.ErrNotFound
	}
	return nil
}

func (s *Store) queryChannels(ctx context.Context, query string, args ...any) ([]tracker.Channel, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	out := make([]tracker.Channel, 0)
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return out, nil
}

func scanChannel(row pgx.Row) (tracker.Channel, error) {
	var (
		ch       tracker.Channel
		platform string
		goal     *int64
	)
	if err := row.Scan(&ch.ID, &ch.UserID, &ch.URL, &ch.DisplayName, &platform, &ch.IsActive, &goal, &ch.CreatedAt); err != nil {
		return tracker.Channel{}, err
	}
	ch.Platform = tracker.Platform(platform)
	ch.FollowerGoal = goal
	return ch, nil
}
