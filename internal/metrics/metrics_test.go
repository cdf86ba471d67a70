package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"http://example.com/path":  "example.com",
		"https://Example.com/path": "example.com",
		"www.tiktok.com/@x":        "www.tiktok.com",
		"example.com:8080":         "example.com",
		"http://%":                 "unknown",
		"":                         "unknown",
	}
	for in, want := range cases {
		require.Equal(t, want, SanitizeSite(in), in)
	}
}

func TestObserveHelpers(t *testing.T) {
	Init()
	Init()

	ObserveRefresh("tiktok", OutcomeSuccess)
	require.InDelta(t, 1, testutil.ToFloat64(refreshTotal.WithLabelValues("tiktok", OutcomeSuccess)), 0)

	ObserveExtraction("youtube", "")
	require.InDelta(t, 1, testutil.ToFloat64(extractionTotal.WithLabelValues("youtube", "none")), 0)

	ObservePush("gone")
	require.InDelta(t, 1, testutil.ToFloat64(pushTotal.WithLabelValues("gone")), 0)

	IncActiveRefreshes()
	IncActiveRefreshes()
	DecActiveRefreshes()
	require.InDelta(t, 1, testutil.ToFloat64(activeRefreshes), 0)
	DecActiveRefreshes()

	ObserveFetch("https://www.instagram.com/x", true, 1500*time.Millisecond)
	ObserveRefreshBatch(3 * time.Second)
	ObserveRateLimitDelay("tiktok.com", 200*time.Millisecond)
	require.Positive(t, testutil.CollectAndCount(fetchDurationSeconds))
	require.Positive(t, testutil.CollectAndCount(refreshBatchSeconds))
	require.Positive(t, testutil.CollectAndCount(rateLimitDelaySeconds))
}

func TestMiddleware(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/channels/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418"))
	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/channels/"+id, nil))
		require.Equal(t, http.StatusTeapot, rec.Code)
	}
	require.InDelta(t, before+2, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418")), 0)
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}
