package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/follower-tracker/internal/goal"
	"github.com/JakeFAU/follower-tracker/internal/tracker"
)

const maxHistory = 100

type channelView struct {
	tracker.Channel
	Latest *tracker.Snapshot `json:"latest"`
}

// nullableInt64 tells an absent JSON field apart from an explicit null.
type nullableInt64 struct {
	Set   bool
	Value *int64
}

func (n *nullableInt64) UnmarshalJSON(b []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		n.Value = nil
		return nil
	}
	var v int64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

type updateChannelRequest struct {
	FollowerGoal nullableInt64 `json:"followerGoal"`
	IsActive     *bool         `json:"isActive"`
}

func (s *Server) listChannels(w http.ResponseWriter, r *http.Request) {
	owner := userID(r, r.URL.Query().Get("user_id"))
	if owner == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	channels, err := s.deps.Store.ListChannels(r.Context(), owner)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	views := make([]channelView, 0, len(channels))
	for _, ch := range channels {
		view := channelView{Channel: ch}
		latest, err := s.deps.Store.LatestSnapshot(r.Context(), ch.ID)
		switch {
		case err == nil:
			view.Latest = &latest
		case !errors.Is(err, tracker.ErrNotFound):
			s.writeServiceError(w, err)
			return
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "channels": views})
}

// loadChannel fetches the path channel and hides other users' channels.
func (s *Server) loadChannel(w http.ResponseWriter, r *http.Request) (tracker.Channel, bool) {
	ch, err := s.deps.Store.GetChannel(r.Context(), chi.URLParam(r, "channel_id"))
	if err != nil {
		s.writeServiceError(w, err)
		return tracker.Channel{}, false
	}
	if owner := r.Header.Get(userHeader); owner != "" && owner != ch.UserID {
		writeError(w, http.StatusNotFound, tracker.ErrNotFound.Error())
		return tracker.Channel{}, false
	}
	return ch, true
}

func (s *Server) getChannel(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.loadChannel(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "channel": ch})
}

func (s *Server) updateChannel(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.loadChannel(w, r)
	if !ok {
		return
	}
	var req updateChannelRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.FollowerGoal.Set {
		if req.FollowerGoal.Value != nil && *req.FollowerGoal.Value < 0 {
			writeError(w, http.StatusBadRequest, "followerGoal must be >= 0")
			return
		}
		ch.FollowerGoal = req.FollowerGoal.Value
	}
	if req.IsActive != nil {
		ch.IsActive = *req.IsActive
	}
	if err := s.deps.Store.UpdateChannel(r.Context(), ch); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "channel": ch})
}

func (s *Server) deleteChannel(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.loadChannel(w, r)
	if !ok {
		return
	}
	if err := s.deps.Store.DeleteChannel(r.Context(), ch.ID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) listSnapshots(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.loadChannel(w, r)
	if !ok {
		return
	}
	limit := maxHistory
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistory)
	}
	snaps, err := s.deps.Store.ListSnapshots(r.Context(), ch.ID, limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"snapshots": snaps,
		"summary":   goal.Summarize(snaps),
	})
}
