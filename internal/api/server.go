package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/follower-tracker/internal/config"
	"github.com/JakeFAU/follower-tracker/internal/metrics"
	"github.com/JakeFAU/follower-tracker/internal/tracker"
)

// userHeader carries the caller's user ID, set by the fronting auth layer.
const userHeader = "X-User-ID"

// Refresher runs a single-URL refresh.
type Refresher interface {
	RefreshOne(ctx context.Context, userID, url string) (tracker.RefreshResult, error)
}

// BatchRefresher runs a batch refresh, returning tracker.ErrBusy if one is in flight.
type BatchRefresher interface {
	RefreshAll(ctx context.Context) ([]tracker.RefreshResult, error)
}

// PushService delivers notifications and exposes the VAPID public key.
type PushService interface {
	tracker.Notifier
	PublicKey() string
}

// Check is a named readiness probe.
type Check func(ctx context.Context) error

// Deps are the collaborators behind the handlers. Push may be nil when no
// VAPID identity is configured.
type Deps struct {
	Store   tracker.Store
	Scraper Refresher
	Batch   BatchRefresher
	Push    PushService
	IDs     tracker.IDGenerator
	Clock   tracker.Clock
	Checks  map[string]Check
	Logger  *zap.Logger
}

// Server wires HTTP handlers to the scraper, stores and push dispatcher.
type Server struct {
	router   chi.Router
	deps     Deps
	cfg      config.Config
	logger   *zap.Logger
	validate *validator.Validate
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{
		deps:     deps,
		cfg:      cfg,
		logger:   deps.Logger.Named("api"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		// Batch refreshes can outlive any fixed request timeout.
		r.Post("/refresh", s.refresh)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(60 * time.Second))
			r.Route("/channels", func(r chi.Router) {
				r.Get("/", s.listChannels)
				r.Route("/{channel_id}", func(r chi.Router) {
					r.Get("/", s.getChannel)
					r.Patch("/", s.updateChannel)
					r.Delete("/", s.deleteChannel)
					r.Get("/snapshots", s.listSnapshots)
				})
			})
			r.Route("/push", func(r chi.Router) {
				r.Get("/vapid-public-key", s.vapidPublicKey)
				r.Post("/subscriptions", s.subscribe)
				r.Delete("/subscriptions", s.unsubscribe)
				r.Post("/send", s.sendPush)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	failures := map[string]string{}
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// userID resolves the caller from the auth header, then the given fallback.
func userID(r *http.Request, fallback string) string {
	if id := r.Header.Get(userHeader); id != "" {
		return id
	}
	return fallback
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Tag() {
		case "required":
			return fe.Field() + " is required"
		case "url", "http_url":
			return fe.Field() + " must be a URL"
		default:
			return fe.Field() + " is invalid (" + fe.Tag() + ")"
		}
	}
	return err.Error()
}

// writeServiceError maps the tracker error taxonomy onto status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tracker.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tracker.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, tracker.ErrConflict), errors.Is(err, tracker.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.String("request_id", requestID(r.Context())),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"success":false,"error":"request timed out"}`)
	}
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Error: msg})
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
