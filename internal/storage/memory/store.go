// Package memory provides in-process implementations of the persistence and
// archive ports for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/follower-tracker/internal/tracker"
)

// Store keeps channels, snapshots and push subscriptions in maps.
type Store struct {
	mu        sync.RWMutex
	channels  map[string]tracker.Channel
	snapshots map[string][]tracker.Snapshot
	subs      map[string]tracker.PushSubscription
	seq       int64
}

var _ tracker.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		channels:  make(map[string]tracker.Channel),
		snapshots: make(map[string][]tracker.Snapshot),
		subs:      make(map[string]tracker.PushSubscription),
	}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// CreateChannel inserts a channel; (UserID, URL) must be unique.
func (s *Store) CreateChannel(_ context.Context, ch tracker.Channel) (tracker.Channel, error) {
	if ch.ID == "" {
		return tracker.Channel{}, tracker.InvalidInput("channel id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.channels[ch.ID]; exists {
		return tracker.Channel{}, fmt.Errorf("channel %s: %w", ch.ID, tracker.ErrConflict)
	}
	for _, existing := range s.channels {
		if existing.UserID == ch.UserID && existing.URL == ch.URL {
			return tracker.Channel{}, fmt.Errorf("channel %s: %w", ch.URL, tracker.ErrConflict)
		}
	}
	s.channels[ch.ID] = cloneChannel(ch)
	return cloneChannel(ch), nil
}

// UpdateChannel replaces the mutable fields of an existing channel.
func (s *Store) UpdateChannel(_ context.Context, ch tracker.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.channels[ch.ID]
	if !ok {
		return tracker.ErrNotFound
	}
	existing.DisplayName = ch.DisplayName
	existing.Platform = ch.Platform
	existing.IsActive = ch.IsActive
	existing.FollowerGoal = ch.FollowerGoal
	s.channels[ch.ID] = cloneChannel(existing)
	return nil
}

// GetChannel fetches a channel by ID.
func (s *Store) GetChannel(_ context.Context, id string) (tracker.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[id]
	if !ok {
		return tracker.Channel{}, tracker.ErrNotFound
	}
	return cloneChannel(ch), nil
}

// FindChannelByURL looks a channel up by its owner and canonical URL.
func (s *Store) FindChannelByURL(_ context.Context, userID, url string) (tracker.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.channels {
		if ch.UserID == userID && ch.URL == url {
			return cloneChannel(ch), nil
		}
	}
	return tracker.Channel{}, tracker.ErrNotFound
}

// ListChannels returns a user's channels ordered by creation time.
func (s *Store) ListChannels(_ context.Context, userID string) ([]tracker.Channel, error) {
	return s.filterChannels(func(ch tracker.Channel) bool { return ch.UserID == userID }), nil
}

// ListActiveChannels returns every channel with IsActive set.
func (s *Store) ListActiveChannels(_ context.Context) ([]tracker.Channel, error) {
	return s.filterChannels(func(ch tracker.Channel) bool { return ch.IsActive }), nil
}

func (s *Store) filterChannels(keep func(tracker.Channel) bool) []tracker.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tracker.Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		if keep(ch) {
			out = append(out, cloneChannel(ch))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// DeleteChannel removes a channel and all of its snapshots.
func (s *Store) DeleteChannel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[id]; !ok {
		return tracker.ErrNotFound
	}
	delete(s.channels, id)
	delete(s.snapshots, id)
	return nil
}

// AppendSnapshot stores an immutable snapshot and assigns its sequence.
func (s *Store) AppendSnapshot(_ context.Context, snap tracker.Snapshot) (tracker.Snapshot, error) {
	if snap.FollowerCount != nil && snap.Error != "" {
		return tracker.Snapshot{}, tracker.InvalidInput("snapshot cannot carry both a count and an error")
	}
	if snap.FollowerCount != nil && *snap.FollowerCount < 0 {
		return tracker.Snapshot{}, tracker.InvalidInput("follower count must be non-negative")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[snap.ChannelID]; !ok {
		return tracker.Snapshot{}, fmt.Errorf("append snapshot for %s: %w", snap.ChannelID, tracker.ErrNotFound)
	}
	s.seq++
	snap.Seq = s.seq
	snap.FollowerCount = cloneCount(snap.FollowerCount)
	s.snapshots[snap.ChannelID] = append(s.snapshots[snap.ChannelID], snap)
	return snap, nil
}

// LatestSnapshot returns the max-CreatedAt snapshot of a channel.
func (s *Store) LatestSnapshot(_ context.Context, channelID string) (tracker.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	latest, ok := tracker.LatestSnapshot(s.snapshots[channelID])
	if !ok {
		return tracker.Snapshot{}, tracker.ErrNotFound
	}
	latest.FollowerCount = cloneCount(latest.FollowerCount)
	return latest, nil
}

// ListSnapshots returns up to limit of the most recent snapshots, ascending.
func (s *Store) ListSnapshots(_ context.Context, channelID string, limit int) ([]tracker.Snapshot, error) {
	s.mu.RLock()
	out := make([]tracker.Snapshot, len(s.snapshots[channelID]))
	copy(out, s.snapshots[channelID])
	s.mu.RUnlock()

	tracker.SortSnapshots(out)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	for i := range out {
		out[i].FollowerCount = cloneCount(out[i].FollowerCount)
	}
	return out, nil
}

// UpsertSubscription inserts or refreshes the keys of a (user, endpoint) pair.
func (s *Store) UpsertSubscription(_ context.Context, sub tracker.PushSubscription) (tracker.PushSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.subs {
		if existing.UserID == sub.UserID && existing.Endpoint == sub.Endpoint {
			existing.P256dh = sub.P256dh
			existing.Auth = sub.Auth
			s.subs[id] = existing
			return existing, nil
		}
	}
	if sub.ID == "" {
		return tracker.PushSubscription{}, tracker.InvalidInput("subscription id is required")
	}
	s.subs[sub.ID] = sub
	return sub, nil
}

// ListSubscriptions returns a user's subscriptions ordered by creation time.
func (s *Store) ListSubscriptions(_ context.Context, userID string) ([]tracker.PushSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tracker.PushSubscription, 0)
	for _, sub := range s.subs {
		if sub.UserID == userID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteSubscription removes a subscription by ID.
func (s *Store) DeleteSubscription(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[id]; !ok {
		return tracker.ErrNotFound
	}
	delete(s.subs, id)
	return nil
}

// DeleteSubscriptionByEndpoint removes a user's subscription for endpoint.
func (s *Store) DeleteSubscriptionByEndpoint(_ context.Context, userID, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sub := range s.subs {
		if sub.UserID == userID && sub.Endpoint == endpoint {
			delete(s.subs, id)
			return nil
		}
	}
	return tracker.ErrNotFound
}

// DeleteUserSubscriptions removes every subscription of a user.
func (s *Store) DeleteUserSubscriptions(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sub := range s.subs {
		if sub.UserID == userID {
			delete(s.subs, id)
			removed++
		}
	}
	return removed, nil
}

func cloneChannel(ch tracker.Channel) tracker.Channel {
	ch.FollowerGoal = cloneCount(ch.FollowerGoal)
	return ch
}

func cloneCount(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
