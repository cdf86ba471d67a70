package tracker

import (
	"net/http"
	"sort"
	"time"
)

// Platform enumerates the social networks a channel URL can belong to.
type Platform string

// Known platforms. PlatformOther covers every URL that no rule claims.
const (
	PlatformWhatsApp  Platform = "whatsapp"
	PlatformTikTok    Platform = "tiktok"
	PlatformInstagram Platform = "instagram"
	PlatformYouTube   Platform = "youtube"
	PlatformOther     Platform = "other"
)

// Valid reports whether p is one of the known platform values.
func (p Platform) Valid() bool {
	switch p {
	case PlatformWhatsApp, PlatformTikTok, PlatformInstagram, PlatformYouTube, PlatformOther:
		return true
	default:
		return false
	}
}

// Channel is a tracked public profile page.
type Channel struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	URL          string    `json:"url"`
	DisplayName  string    `json:"display_name"`
	Platform     Platform  `json:"platform"`
	IsActive     bool      `json:"is_active"`
	FollowerGoal *int64    `json:"follower_goal,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Snapshot is one immutable observation of a channel's follower count.
// FollowerCount and Error are mutually exclusive.
type Snapshot struct {
	ID            string    `json:"id"`
	ChannelID     string    `json:"channel_id"`
	FollowerCount *int64    `json:"follower_count"`
	RawText       string    `json:"raw_text"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	// Seq is the store-assigned insertion sequence used to break CreatedAt ties.
	Seq int64 `json:"-"`
}

// Before reports whether s sorts before other in time-series order.
func (s Snapshot) Before(other Snapshot) bool {
	if !s.CreatedAt.Equal(other.CreatedAt) {
		return s.CreatedAt.Before(other.CreatedAt)
	}
	return s.Seq < other.Seq
}

// SortSnapshots orders snapshots ascending by CreatedAt, then insertion sequence.
func SortSnapshots(snaps []Snapshot) {
	sort.SliceStable(snaps, func(i, j int) bool { return snaps[i].Before(snaps[j]) })
}

// LatestSnapshot returns the max-CreatedAt snapshot regardless of slice order.
func LatestSnapshot(snaps []Snapshot) (Snapshot, bool) {
	if len(snaps) == 0 {
		return Snapshot{}, false
	}
	latest := snaps[0]
	for _, s := range snaps[1:] {
		if latest.Before(s) {
			latest = s
		}
	}
	return latest, true
}

// PushSubscription is a browser Web Push registration owned by a user.
// (UserID, Endpoint) is unique.
type PushSubscription struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"p256dh"`
	Auth      string    `json:"auth"`
	CreatedAt time.Time `json:"created_at"`
}

// Extraction is the outcome of running the extractor over one page.
// A nil FollowerCount is a legitimate miss, not an error.
type Extraction struct {
	FollowerCount *int64   `json:"followerCount"`
	ChannelName   string   `json:"channelName"`
	RawText       string   `json:"rawText"`
	Platform      Platform `json:"platform"`
	// Strategy names the cascade step that matched, empty on a miss.
	Strategy string `json:"-"`
}

// Found reports whether a follower count was extracted.
func (e Extraction) Found() bool {
	return e.FollowerCount != nil
}

// RefreshState tracks a single channel refresh through the pipeline.
type RefreshState string

// Refresh states. Persisted is terminal for both the success and the error path.
const (
	StatePending     RefreshState = "pending"
	StateFetching    RefreshState = "fetching"
	StateExtracted   RefreshState = "extracted"
	StateFetchFailed RefreshState = "fetch_failed"
	StatePersisted   RefreshState = "persisted"
)

// RefreshResult reports what happened to one channel during a refresh.
type RefreshResult struct {
	Channel    Channel
	Snapshot   Snapshot
	Extraction Extraction
	State      RefreshState
	ScrapedAt  time.Time
	Err        error
}

// Notification is the user-facing push payload.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// FetchRequest captures everything needed to fetch a page.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}
