package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/follower-tracker/internal/clock/system"
	"github.com/JakeFAU/follower-tracker/internal/extract"
	"github.com/JakeFAU/follower-tracker/internal/id/uuid"
	pubmemory "github.com/JakeFAU/follower-tracker/internal/publisher/memory"
	"github.com/JakeFAU/follower-tracker/internal/storage/memory"
	"github.com/JakeFAU/follower-tracker/internal/tracker"
)

func page(name, description string) string {
	return fmt.Sprintf(`<html><head>
<meta property="og:title" content="%s" />
<meta property="og:description" content="%s" />
</head><body><p>%s</p></body></html>`, name, description, strings.Repeat("filler ", 20))
}

type fetchStep struct {
	body  string
	err   error
	panic bool
}

// fakeFetcher replays a script of responses per URL; the last step repeats.
type fakeFetcher struct {
	mu      sync.Mutex
	scripts map[string][]fetchStep
	calls   map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{scripts: map[string][]fetchStep{}, calls: map[string]int{}}
}

func (f *fakeFetcher) on(url string, steps ...fetchStep) *fakeFetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[url] = steps
	return f
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) Fetch(_ context.Context, req tracker.FetchRequest) (tracker.FetchResponse, error) {
	f.mu.Lock()
	steps, ok := f.scripts[req.URL]
	n := f.calls[req.URL]
	f.calls[req.URL]++
	f.mu.Unlock()
	if !ok {
		return tracker.FetchResponse{}, &tracker.FetchError{URL: req.URL, StatusCode: http.StatusNotFound}
	}
	if n >= len(steps) {
		n = len(steps) - 1
	}
	step := steps[n]
	if step.panic {
		panic("renderer crashed")
	}
	if step.err != nil {
		return tracker.FetchResponse{}, step.err
	}
	return tracker.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(step.body)}, nil
}

type sentNotification struct {
	userID string
	n      tracker.Notification
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (f *fakeNotifier) Send(_ context.Context, userID string, n tracker.Notification) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.sent = append(f.sent, sentNotification{userID: userID, n: n})
	return 1, nil
}

func (f *fakeNotifier) titles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.n.Title)
	}
	return out
}

type harness struct {
	svc       *Service
	store     *memory.Store
	fetcher   *fakeFetcher
	clock     *system.Manual
	publisher *pubmemory.Publisher
	archive   *memory.BlobStore
	notifier  *fakeNotifier
}

func newHarness(t *testing.T, cfg Config, mutate func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		store:     memory.NewStore(),
		fetcher:   newFakeFetcher(),
		clock:     system.NewManual(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)),
		publisher: pubmemory.New(),
		archive:   memory.NewBlobStore(),
		notifier:  &fakeNotifier{},
	}
	deps := Deps{
		Store:     h.store,
		Fetcher:   h.fetcher,
		Extractor: extract.New(),
		Archive:   h.archive,
		Publisher: h.publisher,
		Notifier:  h.notifier,
		Clock:     h.clock,
		IDs:       uuid.New(),
	}
	if mutate != nil {
		mutate(&deps)
	}
	svc, err := New(deps, cfg)
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *harness) seedChannel(t *testing.T, id, url string, goal *int64) tracker.Channel {
	t.Helper()
	ch, err := h.store.CreateChannel(context.Background(), tracker.Channel{
		ID:           id,
		UserID:       "user-1",
		URL:          url,
		Platform:     extract.DetectPlatform(url),
		IsActive:     true,
		FollowerGoal: goal,
		CreatedAt:    h.clock.Now(),
	})
	require.NoError(t, err)
	return ch
}

func ptr(v int64) *int64 { return &v }

func TestRefreshOneCreatesChannelAndSnapshot(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	h.fetcher.on("https://instagram.com/acme", fetchStep{body: page("Acme Co", "1.2K Followers, 30 Following, 12 Posts")})

	res, err := h.svc.RefreshOne(context.Background(), "user-1", "instagram.com/acme")
	require.NoError(t, err)
	require.Equal(t, tracker.StatePersisted, res.State)
	require.Equal(t, int64(1200), *res.Extraction.FollowerCount)
	require.Equal(t, "Acme Co", res.Channel.DisplayName)
	require.Equal(t, tracker.PlatformInstagram, res.Channel.Platform)
	require.Equal(t, h.clock.Now(), res.ScrapedAt)

	stored, err := h.store.FindChannelByURL(context.Background(), "user-1", "https://instagram.com/acme")
	require.NoError(t, err)
	require.Equal(t, res.Channel.ID, stored.ID)

	latest, err := h.store.LatestSnapshot(context.Background(), stored.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1200), *latest.FollowerCount)
	require.Equal(t, "1.2K Followers", latest.RawText)

	// A second refresh of the same URL in another spelling reuses the channel.
	h.clock.Advance(time.Minute)
	again, err := h.svc.RefreshOne(context.Background(), "user-1", "HTTPS://Instagram.com:443/acme#top")
	require.NoError(t, err)
	require.Equal(t, stored.ID, again.Channel.ID)
	channels, err := h.store.ListChannels(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, channels, 1)

	events := h.publisher.Messages(EventSnapshotRecorded)
	require.Len(t, events, 2)
	event, ok := events[0].Payload.(SnapshotEvent)
	require.True(t, ok)
	require.Equal(t, stored.ID, event.ChannelID)
}

func TestRefreshOneFetchFailurePropagates(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	res, err := h.svc.RefreshOne(context.Background(), "user-1", "https://example.com/missing")
	require.ErrorIs(t, err, tracker.ErrFetch)
	require.Equal(t, tracker.StateFetchFailed, res.State)

	channels, err := h.store.ListChannels(context.Background(), "user-1")
	require.NoError(t, err)
	require.Empty(t, channels)
}

func TestRefreshOneRejectsEmptyURL(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	_, err := h.svc.RefreshOne(context.Background(), "user-1", "  ")
	require.ErrorIs(t, err, tracker.ErrInvalidInput)
}

func TestRefreshOneMissArchivesPage(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{ArchivePrefix: "misses"}, nil)
	body := page("Quiet", "nothing to count here")
	h.fetcher.on("https://example.com/quiet", fetchStep{body: body})

	res, err := h.svc.RefreshOne(context.Background(), "user-1", "https://example.com/quiet")
	require.NoError(t, err)
	require.False(t, res.Extraction.Found())
	require.Equal(t, extract.NoMatchText, res.Snapshot.RawText)
	require.Nil(t, res.Snapshot.FollowerCount)

	keys := h.archive.Keys("misses/" + res.Channel.ID + "/")
	require.Len(t, keys, 1)
	require.True(t, strings.HasSuffix(keys[0], ".html"))
	stored, ok := h.archive.Get(keys[0])
	require.True(t, ok)
	require.Equal(t, body, string(stored))
}

func TestRefreshOneHeadlessFallback(t *testing.T) {
	t.Parallel()

	headless := newFakeFetcher().on("https://www.tiktok.com/@acme", fetchStep{body: page("acme", "42.1K Followers. Watch the latest video")})
	h := newHarness(t, Config{}, func(d *Deps) { d.Headless = headless })
	h.fetcher.on("https://www.tiktok.com/@acme", fetchStep{body: page("acme", "loading")})

	res, err := h.svc.RefreshOne(context.Background(), "user-1", "https://www.tiktok.com/@acme")
	require.NoError(t, err)
	require.Equal(t, int64(42100), *res.Extraction.FollowerCount)
	require.Equal(t, 1, headless.count("https://www.tiktok.com/@acme"))
	require.Empty(t, h.archive.Keys(""))
}

func TestRefreshRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	retry := RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	h := newHarness(t, Config{Retry: retry}, nil)
	unavailable := &tracker.FetchError{URL: "https://example.com/flaky", StatusCode: http.StatusServiceUnavailable}
	h.fetcher.on("https://example.com/flaky",
		fetchStep{err: unavailable},
		fetchStep{err: unavailable},
		fetchStep{body: page("Flaky", "900 followers")},
	)
	h.fetcher.on("https://example.com/forbidden",
		fetchStep{err: &tracker.FetchError{URL: "https://example.com/forbidden", StatusCode: http.StatusForbidden}},
	)

	res, err := h.svc.RefreshOne(context.Background(), "user-1", "https://example.com/flaky")
	require.NoError(t, err)
	require.Equal(t, int64(900), *res.Extraction.FollowerCount)
	require.Equal(t, 3, h.fetcher.count("https://example.com/flaky"))

	_, err = h.svc.RefreshOne(context.Background(), "user-1", "https://example.com/forbidden")
	require.Error(t, err)
	require.Equal(t, 1, h.fetcher.count("https://example.com/forbidden"))
}

func TestRefreshAllIsolatesFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Concurrency: 2}, nil)
	good := h.seedChannel(t, "ch-good", "https://www.youtube.com/@good", nil)
	bad := h.seedChannel(t, "ch-bad", "https://example.com/down", nil)
	crash := h.seedChannel(t, "ch-crash", "https://example.com/crash", nil)
	inactive := h.seedChannel(t, "ch-off", "https://example.com/off", nil)
	inactive.IsActive = false
	require.NoError(t, h.store.UpdateChannel(context.Background(), inactive))

	h.fetcher.on(good.URL, fetchStep{body: page("Good Tube", "1.5M subscribers")})
	h.fetcher.on(bad.URL, fetchStep{err: &tracker.FetchError{URL: bad.URL, Err: errors.New("connection refused")}})
	h.fetcher.on(crash.URL, fetchStep{panic: true})

	results, err := h.svc.RefreshAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)

	byID := map[string]tracker.RefreshResult{}
	for _, r := range results {
		byID[r.Channel.ID] = r
	}
	require.NoError(t, byID[good.ID].Err)
	require.Equal(t, int64(1500000), *byID[good.ID].Snapshot.FollowerCount)
	require.Equal(t, "Good Tube", byID[good.ID].Channel.DisplayName)

	require.ErrorIs(t, byID[bad.ID].Err, tracker.ErrFetch)
	require.Equal(t, tracker.StatePersisted, byID[bad.ID].State)
	badSnap, err := h.store.LatestSnapshot(context.Background(), bad.ID)
	require.NoError(t, err)
	require.Nil(t, badSnap.FollowerCount)
	require.Contains(t, badSnap.Error, "connection refused")

	require.Error(t, byID[crash.ID].Err)
	crashSnap, err := h.store.LatestSnapshot(context.Background(), crash.ID)
	require.NoError(t, err)
	require.Contains(t, crashSnap.Error, "panicked")

	_, err = h.store.LatestSnapshot(context.Background(), inactive.ID)
	require.ErrorIs(t, err, tracker.ErrNotFound)
}

func TestRefreshAllWithoutChannels(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, nil)
	results, err := h.svc.RefreshAll(context.Background())
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestGoalNotificationFiresOncePerCrossing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{NotifyGoal: true}, nil)
	ch := h.seedChannel(t, "ch-goal", "https://example.com/goal", ptr(100))

	for _, count := range []string{"50", "80", "120", "150"} {
		h.fetcher.on(ch.URL, fetchStep{body: page("Goal Co", count+" followers")})
		h.clock.Advance(time.Minute)
		results, err := h.svc.RefreshAll(context.Background())
		require.NoError(t, err)
		require.NoError(t, results[0].Err)
	}
	require.Equal(t, []string{"Goal reached"}, h.notifier.titles())
	require.Equal(t, "user-1", h.notifier.sent[0].userID)
	require.Equal(t, "Goal Co reached 100 followers", h.notifier.sent[0].n.Body)
	require.Equal(t, "/channels/ch-goal", h.notifier.sent[0].n.URL)
}

func TestChangeNotificationAndNotifierFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{NotifyChange: true}, nil)
	ch := h.seedChannel(t, "ch-change", "https://example.com/change", nil)

	for _, count := range []string{"1,000", "1,000", "1,250"} {
		h.fetcher.on(ch.URL, fetchStep{body: page("Changer", count+" followers")})
		h.clock.Advance(time.Minute)
		_, err := h.svc.RefreshAll(context.Background())
		require.NoError(t, err)
	}
	require.Len(t, h.notifier.sent, 1)
	require.Equal(t, "+250 followers (now 1,250)", h.notifier.sent[0].n.Body)

	h.notifier.err = errors.New("push down")
	h.fetcher.on(ch.URL, fetchStep{body: page("Changer", "1,100 followers")})
	results, err := h.svc.RefreshAll(context.Background())
	require.NoError(t, err)
	require.NoError(t, results[0].Err)
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{}, Config{})
	require.Error(t, err)
}

func TestFormatCount(t *testing.T) {
	t.Parallel()

	require.Equal(t, "0", formatCount(0))
	require.Equal(t, "999", formatCount(999))
	require.Equal(t, "1,000", formatCount(1000))
	require.Equal(t, "-12,345,678", formatCount(-12345678))
}
