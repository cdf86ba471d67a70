// Package scraper drives channel refreshes: fetch, extract, persist, and the
// side effects that follow a recorded snapshot.
package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/follower-tracker/internal/extract"
	"github.com/JakeFAU/follower-tracker/internal/fetcher"
	hashsha "github.com/JakeFAU/follower-tracker/internal/hash/sha256"
	"github.com/JakeFAU/follower-tracker/internal/metrics"
	"github.com/JakeFAU/follower-tracker/internal/tracker"
)

// EventSnapshotRecorded is the event type published for each appended snapshot.
const EventSnapshotRecorded = "snapshot.recorded"

// historyWindow bounds how far back the previous known count is searched.
const historyWindow = 20

// Repository is the persistence the scraper needs.
type Repository interface {
	tracker.ChannelStore
	tracker.SnapshotStore
}

// Config tunes the refresh flow.
type Config struct {
	// Concurrency caps parallel channels in RefreshAll.
	Concurrency int
	// NotifyGoal sends a push when a channel crosses its follower goal.
	NotifyGoal bool
	// NotifyChange sends a push whenever the known count changes.
	NotifyChange bool
	// ArchivePrefix is prepended to archived page paths.
	ArchivePrefix string
	// EventTopic names the topic snapshot events go to.
	EventTopic string
	Retry      RetryPolicy
}

// Deps are the collaborators of a Service. Headless, Archive, Hasher,
// Publisher and Notifier are optional.
type Deps struct {
	Store     Repository
	Fetcher   tracker.Fetcher
	Headless  tracker.Fetcher
	Extractor tracker.Extractor
	Archive   tracker.BlobStore
	Hasher    tracker.Hasher
	Publisher tracker.Publisher
	Notifier  tracker.Notifier
	Clock     tracker.Clock
	IDs       tracker.IDGenerator
	Logger    *zap.Logger
}

// SnapshotEvent is the payload published after each appended snapshot.
type SnapshotEvent struct {
	Event         string           `json:"event"`
	ChannelID     string           `json:"channel_id"`
	UserID        string           `json:"user_id"`
	URL           string           `json:"url"`
	Platform      tracker.Platform `json:"platform"`
	SnapshotID    string           `json:"snapshot_id"`
	FollowerCount *int64           `json:"follower_count"`
	RawText       string           `json:"raw_text,omitempty"`
	Error         string           `json:"error,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Service implements refreshOne and refreshAll.
type Service struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New validates deps and applies defaults.
func New(deps Deps, cfg Config) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("store is required")
	case deps.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case deps.Extractor == nil:
		return nil, errors.New("extractor is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	}
	if deps.Hasher == nil {
		deps.Hasher = hashsha.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.EventTopic == "" {
		cfg.EventTopic = EventSnapshotRecorded
	}
	metrics.Init()
	return &Service{deps: deps, cfg: cfg, logger: deps.Logger.Named("scraper")}, nil
}

// RefreshOne fetches url for userID, creating the channel on first sight,
// and appends a snapshot. Fetch and persistence failures are returned.
func (s *Service) RefreshOne(ctx context.Context, userID, rawURL string) (tracker.RefreshResult, error) {
	result := tracker.RefreshResult{State: tracker.StatePending}
	target, err := fetcher.NormalizeURL(rawURL)
	if err != nil {
		result.Err = err
		return result, err
	}
	metrics.IncActiveRefreshes()
	defer metrics.DecActiveRefreshes()

	result.State = tracker.StateFetching
	page, err := s.fetch(ctx, target)
	if err != nil {
		metrics.ObserveRefresh(string(extract.DetectPlatform(target)), metrics.OutcomeFetchError)
		result.State = tracker.StateFetchFailed
		result.Err = err
		return result, err
	}
	extraction := s.extract(ctx, target, page)
	result.State = tracker.StateExtracted
	result.Extraction = extraction

	channel, err := s.ensureChannel(ctx, userID, target, extraction)
	if err != nil {
		result.Err = err
		return result, err
	}
	result = s.persist(ctx, channel, extraction, page)
	return result, result.Err
}

// RefreshAll refreshes every active channel with bounded parallelism. A
// failing channel gets an error snapshot and never affects the others; the
// returned slice has one entry per channel. Only listing errors are returned.
func (s *Service) RefreshAll(ctx context.Context) ([]tracker.RefreshResult, error) {
	start := time.Now()
	channels, err := s.deps.Store.ListActiveChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active channels: %w", err)
	}
	results := make([]tracker.RefreshResult, len(channels))

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, channel := range channels {
		g.Go(func() error {
			results[i] = s.refreshChannel(ctx, channel)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	metrics.ObserveRefreshBatch(time.Since(start))
	s.logger.Info("refresh batch finished",
		zap.Int("channels", len(channels)),
		zap.Int("failed", failed),
		zap.Duration("elapsed", time.Since(start)),
	)
	return results, nil
}

func (s *Service) refreshChannel(ctx context.Context, channel tracker.Channel) (result tracker.RefreshResult) {
	metrics.IncActiveRefreshes()
	defer metrics.DecActiveRefreshes()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("refresh panicked", zap.String("channel_id", channel.ID), zap.Any("panic", r))
			result = s.recordFailure(ctx, channel, fmt.Errorf("refresh panicked: %v", r))
		}
	}()

	page, err := s.fetch(ctx, channel.URL)
	if err != nil {
		return s.recordFailure(ctx, channel, err)
	}
	extraction := s.extract(ctx, channel.URL, page)
	channel = s.syncChannel(ctx, channel, extraction)
	return s.persist(ctx, channel, extraction, page)
}

// fetch runs the static fetcher under the retry policy.
func (s *Service) fetch(ctx context.Context, target string) (tracker.FetchResponse, error) {
	req := tracker.FetchRequest{URL: target}
	for attempt := 0; ; attempt++ {
		resp, err := s.deps.Fetcher.Fetch(ctx, req)
		if err == nil {
			metrics.ObserveFetch(target, false, resp.Duration)
			return resp, nil
		}
		if !s.cfg.Retry.ShouldRetry(err, attempt) {
			return tracker.FetchResponse{}, err
		}
		wait := s.cfg.Retry.Backoff(attempt)
		s.logger.Debug("retrying fetch",
			zap.String("url", target),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if sleepErr := sleep(ctx, wait); sleepErr != nil {
			return tracker.FetchResponse{}, err
		}
	}
}

// extract runs the cascade and, on a miss, renders the page headlessly and
// tries once more.
func (s *Service) extract(ctx context.Context, target string, page tracker.FetchResponse) tracker.Extraction {
	extraction := s.deps.Extractor.Extract(string(page.Body), target)
	if extraction.Found() || s.deps.Headless == nil {
		metrics.ObserveExtraction(string(extraction.Platform), extraction.Strategy)
		return extraction
	}
	rendered, err := s.deps.Headless.Fetch(ctx, tracker.FetchRequest{URL: target})
	if err != nil {
		s.logger.Warn("headless fallback failed", zap.String("url", target), zap.Error(err))
		metrics.ObserveExtraction(string(extraction.Platform), extraction.Strategy)
		return extraction
	}
	metrics.ObserveFetch(target, true, rendered.Duration)
	second := s.deps.Extractor.Extract(string(rendered.Body), target)
	metrics.ObserveExtraction(string(second.Platform), second.Strategy)
	if second.Found() {
		return second
	}
	if second.ChannelName != extract.UnknownChannel && extraction.ChannelName == extract.UnknownChannel {
		extraction.ChannelName = second.ChannelName
	}
	return extraction
}

func (s *Service) ensureChannel(
	ctx context.Context,
	userID, target string,
	extraction tracker.Extraction,
) (tracker.Channel, error) {
	channel, err := s.deps.Store.FindChannelByURL(ctx, userID, target)
	switch {
	case err == nil:
		return s.syncChannel(ctx, channel, extraction), nil
	case !errors.Is(err, tracker.ErrNotFound):
		return tracker.Channel{}, fmt.Errorf("find channel: %w", err)
	}

	id, err := s.deps.IDs.NewID()
	if err != nil {
		return tracker.Channel{}, fmt.Errorf("generate channel id: %w", err)
	}
	created, err := s.deps.Store.CreateChannel(ctx, tracker.Channel{
		ID:          id,
		UserID:      userID,
		URL:         target,
		DisplayName: extraction.ChannelName,
		Platform:    extraction.Platform,
		IsActive:    true,
		CreatedAt:   s.deps.Clock.Now(),
	})
	if errors.Is(err, tracker.ErrConflict) {
		// Lost a race with a concurrent refresh of the same URL.
		return s.deps.Store.FindChannelByURL(ctx, userID, target)
	}
	if err != nil {
		return tracker.Channel{}, tracker.PersistenceError("create channel", err)
	}
	s.logger.Info("channel created",
		zap.String("channel_id", created.ID),
		zap.String("user_id", userID),
		zap.String("platform", string(created.Platform)),
	)
	return created, nil
}

// syncChannel refreshes the display name and platform from a concrete
// extraction. Update failures are logged; the refresh carries on.
func (s *Service) syncChannel(ctx context.Context, channel tracker.Channel, extraction tracker.Extraction) tracker.Channel {
	updated := channel
	if extraction.ChannelName != "" && extraction.ChannelName != extract.UnknownChannel {
		updated.DisplayName = extraction.ChannelName
	}
	if extraction.Platform != "" {
		updated.Platform = extraction.Platform
	}
	if updated.DisplayName == channel.DisplayName && updated.Platform == channel.Platform {
		return channel
	}
	if err := s.deps.Store.UpdateChannel(ctx, updated); err != nil {
		s.logger.Warn("update channel failed", zap.String("channel_id", channel.ID), zap.Error(err))
		return channel
	}
	return updated
}

func (s *Service) persist(
	ctx context.Context,
	channel tracker.Channel,
	extraction tracker.Extraction,
	page tracker.FetchResponse,
) tracker.RefreshResult {
	result := tracker.RefreshResult{
		Channel:    channel,
		Extraction: extraction,
		State:      tracker.StateExtracted,
	}
	previous := s.previousCount(ctx, channel.ID)

	snapshot, err := s.appendSnapshot(ctx, channel.ID, extraction.FollowerCount, extraction.RawText, "")
	if err != nil {
		metrics.ObserveRefresh(string(channel.Platform), metrics.OutcomeStoreError)
		s.logger.Error("append snapshot failed", zap.String("channel_id", channel.ID), zap.Error(err))
		result.Err = err
		return result
	}
	result.Snapshot = snapshot
	result.ScrapedAt = snapshot.CreatedAt
	result.State = tracker.StatePersisted

	if extraction.Found() {
		metrics.ObserveRefresh(string(channel.Platform), metrics.OutcomeSuccess)
	} else {
		metrics.ObserveRefresh(string(channel.Platform), metrics.OutcomeMiss)
		s.archive(ctx, channel, page)
	}
	s.publish(ctx, channel, snapshot)
	s.notify(ctx, channel, previous, snapshot.FollowerCount)
	return result
}

// recordFailure writes an error snapshot so the history shows the gap.
func (s *Service) recordFailure(ctx context.Context, channel tracker.Channel, cause error) tracker.RefreshResult {
	result := tracker.RefreshResult{Channel: channel, State: tracker.StateFetchFailed, Err: cause}
	outcome := metrics.OutcomeFetchError
	if !errors.Is(cause, tracker.ErrFetch) {
		outcome = metrics.OutcomeStoreError
	}
	metrics.ObserveRefresh(string(channel.Platform), outcome)
	s.logger.Warn("channel refresh failed",
		zap.String("channel_id", channel.ID),
		zap.String("url", channel.URL),
		zap.Error(cause),
	)

	snapshot, err := s.appendSnapshot(ctx, channel.ID, nil, "", cause.Error())
	if err != nil {
		s.logger.Error("append error snapshot failed", zap.String("channel_id", channel.ID), zap.Error(err))
		result.Err = errors.Join(cause, err)
		return result
	}
	result.Snapshot = snapshot
	result.ScrapedAt = snapshot.CreatedAt
	result.State = tracker.StatePersisted
	s.publish(ctx, channel, snapshot)
	return result
}

func (s *Service) appendSnapshot(
	ctx context.Context,
	channelID string,
	count *int64,
	rawText, errText string,
) (tracker.Snapshot, error) {
	id, err := s.deps.IDs.NewID()
	if err != nil {
		return tracker.Snapshot{}, fmt.Errorf("generate snapshot id: %w", err)
	}
	snapshot, err := s.deps.Store.AppendSnapshot(ctx, tracker.Snapshot{
		ID:            id,
		ChannelID:     channelID,
		FollowerCount: count,
		RawText:       rawText,
		Error:         errText,
		CreatedAt:     s.deps.Clock.Now(),
	})
	if err != nil {
		if errors.Is(err, tracker.ErrPersistence) {
			return tracker.Snapshot{}, err
		}
		return tracker.Snapshot{}, tracker.PersistenceError("append snapshot", err)
	}
	return snapshot, nil
}

// previousCount returns the last known count before this refresh, or nil.
func (s *Service) previousCount(ctx context.Context, channelID string) *int64 {
	if s.deps.Notifier == nil {
		return nil
	}
	snaps, err := s.deps.Store.ListSnapshots(ctx, channelID, historyWindow)
	if err != nil {
		s.logger.Warn("load history failed", zap.String("channel_id", channelID), zap.Error(err))
		return nil
	}
	for i := len(snaps) - 1; i >= 0; i-- {
		if snaps[i].FollowerCount != nil {
			v := *snaps[i].FollowerCount
			return &v
		}
	}
	return nil
}

func (s *Service) archive(ctx context.Context, channel tracker.Channel, page tracker.FetchResponse) {
	if s.deps.Archive == nil || len(page.Body) == 0 {
		return
	}
	digest, err := s.deps.Hasher.Hash(page.Body)
	if err != nil {
		s.logger.Warn("hash page failed", zap.String("channel_id", channel.ID), zap.Error(err))
		return
	}
	path := hashsha.ArchivePath(s.cfg.ArchivePrefix, channel.ID, digest)
	uri, err := s.deps.Archive.PutObject(ctx, path, "text/html; charset=utf-8", bytes.NewReader(page.Body))
	if err != nil {
		s.logger.Warn("archive page failed", zap.String("channel_id", channel.ID), zap.Error(err))
		return
	}
	s.logger.Debug("archived unmatched page", zap.String("channel_id", channel.ID), zap.String("uri", uri))
}

func (s *Service) publish(ctx context.Context, channel tracker.Channel, snapshot tracker.Snapshot) {
	if s.deps.Publisher == nil {
		return
	}
	event := SnapshotEvent{
		Event:         EventSnapshotRecorded,
		ChannelID:     channel.ID,
		UserID:        channel.UserID,
		URL:           channel.URL,
		Platform:      channel.Platform,
		SnapshotID:    snapshot.ID,
		FollowerCount: snapshot.FollowerCount,
		RawText:       snapshot.RawText,
		Error:         snapshot.Error,
		CreatedAt:     snapshot.CreatedAt,
	}
	if _, err := s.deps.Publisher.Publish(ctx, s.cfg.EventTopic, event); err != nil {
		s.logger.Warn("publish snapshot event failed", zap.String("channel_id", channel.ID), zap.Error(err))
	}
}
