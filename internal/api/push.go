package api

import (
	"net/http"

	"github.com/JakeFAU/follower-tracker/internal/tracker"
)

const pushDisabled = "push is not configured"

type subscriptionKeys struct {
	P256dh string `json:"p256dh" validate:"required"`
	Auth   string `json:"auth" validate:"required"`
}

type subscribeRequest struct {
	UserID   string           `json:"userId"`
	Endpoint string           `json:"endpoint" validate:"required,url"`
	Keys     subscriptionKeys `json:"keys" validate:"required"`
}

type unsubscribeRequest struct {
	UserID   string `json:"userId"`
	Endpoint string `json:"endpoint" validate:"omitempty,url"`
}

type sendRequest struct {
	UserID string `json:"userId"`
	Title  string `json:"title" validate:"required"`
	Body   string `json:"body"`
	URL    string `json:"url"`
}

func (s *Server) vapidPublicKey(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Push == nil {
		writeError(w, http.StatusServiceUnavailable, pushDisabled)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "publicKey": s.deps.Push.PublicKey()})
}

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if !s.decode(w, r, &req) {
		return
	}
	owner := userID(r, req.UserID)
	if owner == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	id, err := s.deps.IDs.NewID()
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	sub, err := s.deps.Store.UpsertSubscription(r.Context(), tracker.PushSubscription{
		ID:        id,
		UserID:    owner,
		Endpoint:  req.Endpoint,
		P256dh:    req.Keys.P256dh,
		Auth:      req.Keys.Auth,
		CreatedAt: s.deps.Clock.Now(),
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "subscription": sub})
}

func (s *Server) unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if !s.decode(w, r, &req) {
		return
	}
	owner := userID(r, req.UserID)
	if owner == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if req.Endpoint != "" {
		if err := s.deps.Store.DeleteSubscriptionByEndpoint(r.Context(), owner, req.Endpoint); err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": 1})
		return
	}
	n, err := s.deps.Store.DeleteUserSubscriptions(r.Context(), owner)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": n})
}

func (s *Server) sendPush(w http.ResponseWriter, r *http.Request) {
	if s.deps.Push == nil {
		writeError(w, http.StatusServiceUnavailable, pushDisabled)
		return
	}
	var req sendRequest
	if !s.decode(w, r, &req) {
		return
	}
	target := userID(r, req.UserID)
	if target == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	sent, err := s.deps.Push.Send(r.Context(), target, tracker.Notification{
		Title: req.Title,
		Body:  req.Body,
		URL:   req.URL,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "sent": sent})
}
