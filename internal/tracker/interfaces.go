package tracker

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Extractor turns raw page markup into an Extraction.
type Extractor interface {
	Extract(html, sourceURL string) Extraction
}

// ChannelStore persists channel records.
type ChannelStore interface {
	CreateChannel(ctx context.Context, channel Channel) (Channel, error)
	UpdateChannel(ctx context.Context, channel Channel) error
	GetChannel(ctx context.Context, id string) (Channel, error)
	FindChannelByURL(ctx context.Context, userID, url string) (Channel, error)
	ListChannels(ctx context.Context, userID string) ([]Channel, error)
	ListActiveChannels(ctx context.Context) ([]Channel, error)
	DeleteChannel(ctx context.Context, id string) error
}

// SnapshotStore is the append-only time series per channel.
type SnapshotStore interface {
	AppendSnapshot(ctx context.Context, snapshot Snapshot) (Snapshot, error)
	LatestSnapshot(ctx context.Context, channelID string) (Snapshot, error)
	// ListSnapshots returns up to limit of the most recent snapshots, ascending.
	ListSnapshots(ctx context.Context, channelID string, limit int) ([]Snapshot, error)
}

// SubscriptionStore persists Web Push subscriptions.
type SubscriptionStore interface {
	UpsertSubscription(ctx context.Context, sub PushSubscription) (PushSubscription, error)
	ListSubscriptions(ctx context.Context, userID string) ([]PushSubscription, error)
	DeleteSubscription(ctx context.Context, id string) error
	DeleteSubscriptionByEndpoint(ctx context.Context, userID, endpoint string) error
	DeleteUserSubscriptions(ctx context.Context, userID string) (int, error)
}

// Store bundles every persistence port behind one backend.
type Store interface {
	ChannelStore
	SnapshotStore
	SubscriptionStore
	Close() error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes domain events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Notifier delivers a notification to every device of a user and reports
// how many deliveries succeeded.
type Notifier interface {
	Send(ctx context.Context, userID string, n Notification) (int, error)
}

// Locker guards against overlapping batch refreshes. A false ok with a nil
// error means somebody else holds the lock.
type Locker interface {
	TryLock(ctx context.Context, name string) (unlock func(), ok bool, err error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher produces content digests used to name archived pages.
type Hasher interface {
	Hash(data []byte) (string, error)
}
