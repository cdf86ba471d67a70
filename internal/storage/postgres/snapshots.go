package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/follower-tracker/internal/tracker"
)

const snapshotColumns = `id, seq, channel_id, follower_count, raw_text, error, created_at`

// AppendSnapshot inserts an immutable snapshot and returns it with its sequence.
func (s *Store) AppendSnapshot(ctx context.Context, snap tracker.Snapshot) (tracker.Snapshot, error) {
	if snap.FollowerCount != nil && snap.Error != "" {
		return tracker.Snapshot{}, tracker.InvalidInput("snapshot cannot carry both a count and an error")
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO snapshots (id, channel_id, follower_count, raw_text, error, created_at)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING seq`,
		snap.ID, snap.ChannelID, snap.FollowerCount, snap.RawText, nullableText(snap.Error), snap.CreatedAt)
	if err := row.Scan(&snap.Seq); err != nil {
		if isForeignKeyViolation(err) {
			return tracker.Snapshot{}, fmt.Errorf("append snapshot for %s: %w", snap.ChannelID, tracker.ErrNotFound)
		}
		return tracker.Snapshot{}, tracker.PersistenceError("insert snapshot", err)
	}
	return snap, nil
}

// LatestSnapshot returns the max-created_at snapshot, ties broken by seq.
func (s *Store) LatestSnapshot(ctx context.Context, channelID string) (tracker.Snapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE channel_id = $1 ORDER BY created_at DESC, seq DESC LIMIT 1`,
		channelID)
	snap, err := scanSnapshot(row)
	if err != nil {
		return tracker.Snapshot{}, mapNoRows(err)
	}
	return snap, nil
}

// ListSnapshots returns up to limit of the most recent snapshots, ascending.
// A non-positive limit returns the full history.
func (s *Store) ListSnapshots(ctx context.Context, channelID string, limit int) ([]tracker.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM (
	SELECT ` + snapshotColumns + ` FROM snapshots WHERE channel_id = $1 ORDER BY created_at DESC, seq DESC LIMIT $2
) recent ORDER BY created_at ASC, seq ASC`
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.pool.Query(ctx, query, channelID, limitArg)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	out := make([]tracker.Snapshot, 0)
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

func scanSnapshot(row pgx.Row) (tracker.Snapshot, error) {
	var (
		snap   tracker.Snapshot
		count  *int64
		errTxt *string
	)
	if err := row.Scan(&snap.ID, &snap.Seq, &snap.ChannelID, &count, &snap.RawText, &errTxt, &snap.CreatedAt); err != nil {
		return tracker.Snapshot{}, err
	}
	snap.FollowerCount = count
	if errTxt != nil {
		snap.Error = *errTxt
	}
	return snap, nil
}

func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
