package push

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/follower-tracker/internal/storage/memory"
	"github.com/JakeFAU/follower-tracker/internal/tracker"
)

type capturedRequest struct {
	path    string
	headers http.Header
	body    []byte
}

type pushServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []capturedRequest
}

func newPushServer(t *testing.T) *pushServer {
	t.Helper()
	ps := &pushServer{}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ps.mu.Lock()
		ps.requests = append(ps.requests, capturedRequest{path: r.URL.Path, headers: r.Header.Clone(), body: body})
		ps.mu.Unlock()
		switch r.URL.Path {
		case "/gone":
			w.WriteHeader(http.StatusGone)
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/boom":
			http.Error(w, "upstream exploded", http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusCreated)
		}
	}))
	t.Cleanup(ps.Close)
	return ps
}

func (ps *pushServer) request(path string) (capturedRequest, bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, r := range ps.requests {
		if r.path == path {
			return r, true
		}
	}
	return capturedRequest{}, false
}

func seedSubscriptions(t *testing.T, store *memory.Store, userID string, endpoints map[string]string) {
	t.Helper()
	for id, endpoint := range endpoints {
		_, err := store.UpsertSubscription(context.Background(), tracker.PushSubscription{
			ID:        id,
			UserID:    userID,
			Endpoint:  endpoint,
			P256dh:    "BPlaceholderKey",
			Auth:      "c2VjcmV0",
			CreatedAt: time.Now(),
		})
		require.NoError(t, err)
	}
}

func TestSendDeliversAndPrunes(t *testing.T) {
	t.Parallel()

	server := newPushServer(t)
	store := memory.NewStore()
	signer, keys := newTestSigner(t, time.Now())
	seedSubscriptions(t, store, "user-1", map[string]string{
		"ok":      server.URL + "/ok",
		"gone":    server.URL + "/gone",
		"missing": server.URL + "/missing",
		"boom":    server.URL + "/boom",
	})
	seedSubscriptions(t, store, "user-2", map[string]string{"other": server.URL + "/other"})

	d, err := NewDispatcher(store, signer, server.Client(), nil, Config{})
	require.NoError(t, err)

	sent, err := d.Send(context.Background(), "user-1", tracker.Notification{Title: "Goal reached!", Body: "Acme hit 1,000", URL: "/"})
	require.NoError(t, err)
	require.Equal(t, 1, sent)

	remaining, err := store.ListSubscriptions(context.Background(), "user-1")
	require.NoError(t, err)
	ids := make([]string, 0, len(remaining))
	for _, s := range remaining {
		ids = append(ids, s.ID)
	}
	require.ElementsMatch(t, []string{"ok", "boom"}, ids)

	_, touched := server.request("/other")
	require.False(t, touched)

	req, ok := server.request("/ok")
	require.True(t, ok)
	require.Equal(t, "86400", req.headers.Get("TTL"))
	require.Equal(t, "application/octet-stream", req.headers.Get("Content-Type"))
	require.Empty(t, req.headers.Get("Content-Encoding"))
	require.True(t, strings.HasPrefix(req.headers.Get("Authorization"), "vapid t="))
	require.True(t, strings.HasSuffix(req.headers.Get("Authorization"), ", k="+keys.Public))

	var payload tracker.Notification
	require.NoError(t, json.Unmarshal(req.body, &payload))
	require.Equal(t, "Goal reached!", payload.Title)
}

func TestSendWithoutSubscriptions(t *testing.T) {
	t.Parallel()

	signer, _ := newTestSigner(t, time.Now())
	d, err := NewDispatcher(memory.NewStore(), signer, nil, nil, Config{})
	require.NoError(t, err)

	sent, err := d.Send(context.Background(), "nobody", tracker.Notification{Title: "x"})
	require.NoError(t, err)
	require.Zero(t, sent)
}

func TestDeliverEncryptsWhenEnabled(t *testing.T) {
	t.Parallel()

	server := newPushServer(t)
	signer, _ := newTestSigner(t, time.Now())
	d, err := NewDispatcher(memory.NewStore(), signer, server.Client(), nil, Config{Encrypt: true, TTL: time.Hour})
	require.NoError(t, err)

	ua := newUserAgentKeys(t)
	sub := tracker.PushSubscription{
		ID:       "enc",
		Endpoint: server.URL + "/enc",
		P256dh:   ua.p256dh,
		Auth:     base64.StdEncoding.EncodeToString(ua.auth),
	}
	plaintext := []byte(`{"title":"t","body":"b","url":"/"}`)
	require.NoError(t, d.Deliver(context.Background(), sub, plaintext))

	req, ok := server.request("/enc")
	require.True(t, ok)
	require.Equal(t, ContentEncoding, req.headers.Get("Content-Encoding"))
	require.Equal(t, "3600", req.headers.Get("TTL"))
	require.Equal(t, plaintext, decrypt(t, ua, req.body))
}

func TestDeliverClassifiesFailures(t *testing.T) {
	t.Parallel()

	server := newPushServer(t)
	signer, _ := newTestSigner(t, time.Now())
	d, err := NewDispatcher(memory.NewStore(), signer, server.Client(), nil, Config{})
	require.NoError(t, err)

	err = d.Deliver(context.Background(), tracker.PushSubscription{Endpoint: server.URL + "/gone"}, []byte("{}"))
	require.ErrorIs(t, err, tracker.ErrEndpointGone)

	err = d.Deliver(context.Background(), tracker.PushSubscription{Endpoint: server.URL + "/boom"}, []byte("{}"))
	var de *DeliveryError
	require.True(t, errors.As(err, &de))
	require.Equal(t, http.StatusInternalServerError, de.StatusCode)
	require.Contains(t, de.Body, "upstream exploded")
	require.NotErrorIs(t, err, tracker.ErrEndpointGone)
}

func TestNewDispatcherValidates(t *testing.T) {
	t.Parallel()

	signer, _ := newTestSigner(t, time.Now())
	_, err := NewDispatcher(nil, signer, nil, nil, Config{})
	require.Error(t, err)
	_, err = NewDispatcher(memory.NewStore(), nil, nil, nil, Config{})
	require.Error(t, err)
}
