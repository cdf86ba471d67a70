package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/follower-tracker/internal/tracker"
)

// UpsertSubscription inserts a subscription or refreshes the keys of an
// existing (user_id, endpoint) row, returning the stored row.
func (s *Store) UpsertSubscription(ctx context.Context, sub tracker.PushSubscription) (tracker.PushSubscription, error) {
	row := s.pool.QueryRow(ctx, `
INSERT INTO push_subscriptions (id, user_id, endpoint, p256dh, auth, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (user_id, endpoint) DO UPDATE SET p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth
RETURNING id, created_at`,
		sub.ID, sub.UserID, sub.Endpoint, sub.P256dh, sub.Auth, sub.CreatedAt)
	if err := row.Scan(&sub.ID, &sub.CreatedAt); err != nil {
		return tracker.PushSubscription{}, tracker.PersistenceError("upsert subscription", err)
	}
	return sub, nil
}

// ListSubscriptions returns a user's subscriptions ordered by creation time.
func (s *Store) ListSubscriptions(ctx context.Context, userID string) ([]tracker.PushSubscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, endpoint, p256dh, auth, created_at FROM push_subscriptions WHERE user_id = $1 ORDER BY created_at, id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	out := make([]tracker.PushSubscription, 0)
	for rows.Next() {
		var sub tracker.PushSubscription
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dh, &sub.Auth, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return out, nil
}

// DeleteSubscription removes a subscription by ID.
func (s *Store) DeleteSubscription(ctx context.Context, id string) error {
	return s.deleteOne(ctx, `DELETE FROM push_subscriptions WHERE id = $1`, id)
}

// DeleteSubscriptionByEndpoint removes a user's subscription for endpoint.
func (s *Store) DeleteSubscriptionByEndpoint(ctx context.Context, userID, endpoint string) error {
	return s.deleteOne(ctx, `DELETE FROM push_subscriptions WHERE user_id = $1 AND endpoint = $2`, userID, endpoint)
}

// DeleteUserSubscriptions removes every subscription of a user.
func (s *Store) DeleteUserSubscriptions(ctx context.Context, userID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM push_subscriptions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, tracker.PersistenceError("delete subscriptions", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) deleteOne(ctx context.Context, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return tracker.PersistenceError("delete subscription", err)
	}
	if tag.RowsAffected() == 0 {
		return tracker.ErrNotFound
	}
	return nil
}
