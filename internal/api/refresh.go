package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/follower-tracker/internal/tracker"
)

const defaultUserID = "default"

type refreshRequest struct {
	Mode   string `json:"mode" validate:"omitempty,oneof=cron"`
	URL    string `json:"url"`
	UserID string `json:"userId"`
}

type refreshOneResponse struct {
	Success       bool             `json:"success"`
	FollowerCount *int64           `json:"followerCount"`
	ChannelName   string           `json:"channelName"`
	RawText       string           `json:"rawText"`
	Platform      tracker.Platform `json:"platform"`
	ScrapedAt     time.Time        `json:"scrapedAt"`
	ChannelID     string           `json:"channelId"`
}

type batchSuccess struct {
	ChannelID     string           `json:"channel_id"`
	FollowerCount *int64           `json:"followerCount"`
	ChannelName   string           `json:"channelName"`
	RawText       string           `json:"rawText"`
	Platform      tracker.Platform `json:"platform"`
}

type batchFailure struct {
	ChannelID string `json:"channel_id"`
	Error     string `json:"error"`
}

// batchResponse.Results holds batchSuccess and batchFailure values.
type batchResponse struct {
	Success bool   `json:"success"`
	Results []any  `json:"results,omitempty"`
	Message string `json:"message,omitempty"`
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Mode == "cron" {
		s.refreshAll(w, r)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "URL is required")
		return
	}
	owner := userID(r, req.UserID)
	if owner == "" {
		owner = defaultUserID
	}
	res, err := s.deps.Scraper.RefreshOne(r.Context(), owner, req.URL)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refreshOneResponse{
		Success:       true,
		FollowerCount: res.Extraction.FollowerCount,
		ChannelName:   res.Extraction.ChannelName,
		RawText:       res.Extraction.RawText,
		Platform:      res.Extraction.Platform,
		ScrapedAt:     res.ScrapedAt,
		ChannelID:     res.Channel.ID,
	})
}

func (s *Server) refreshAll(w http.ResponseWriter, r *http.Request) {
	// A disconnecting trigger must not abort fetches already in flight.
	ctx := context.WithoutCancel(r.Context())
	if timeout := s.cfg.RefreshRunTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	results, err := s.deps.Batch.RefreshAll(ctx)
	if err != nil {
		if errors.Is(err, tracker.ErrBusy) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeServiceError(w, err)
		return
	}
	if len(results) == 0 {
		writeJSON(w, http.StatusOK, batchResponse{Success: true, Message: "No active channels"})
		return
	}
	entries := make([]any, 0, len(results))
	for _, res := range results {
		if res.Err != nil {
			entries = append(entries, batchFailure{ChannelID: res.Channel.ID, Error: res.Err.Error()})
			continue
		}
		entries = append(entries, batchSuccess{
			ChannelID:     res.Channel.ID,
			FollowerCount: res.Extraction.FollowerCount,
			ChannelName:   res.Extraction.ChannelName,
			RawText:       res.Extraction.RawText,
			Platform:      res.Extraction.Platform,
		})
	}
	writeJSON(w, http.StatusOK, batchResponse{Success: true, Results: entries})
}
