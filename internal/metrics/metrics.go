// Package metrics exposes Prometheus collectors for the tracker service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Refresh outcomes.
const (
	OutcomeSuccess    = "success"
	OutcomeMiss       = "miss"
	OutcomeFetchError = "fetch_error"
	OutcomeStoreError = "store_error"
)

var (
	refreshTotal               *prometheus.CounterVec
	extractionTotal            *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	pushTotal                  *prometheus.CounterVec
	refreshBatchSeconds        prometheus.Histogram
	activeRefreshes            prometheus.Gauge
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		refreshTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_refresh_total",
				Help: "Channel refreshes, labeled by platform and outcome.",
			},
			[]string{"platform", "outcome"},
		)

		extractionTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_extraction_total",
				Help: "Extraction results, labeled by platform and the strategy that matched (none on a miss).",
			},
			[]string{"platform", "strategy"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracker_fetch_duration_seconds",
				Help:    "Page fetch latency, labeled by site and backend.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15, 30},
			},
			[]string{"site", "backend"},
		)

		pushTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_push_total",
				Help: "Web Push deliveries, labeled by outcome (sent, gone, failed).",
			},
			[]string{"outcome"},
		)

		refreshBatchSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tracker_refresh_batch_seconds",
				Help:    "Wall time of a full refresh over all active channels.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
		)

		activeRefreshes = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracker_active_refreshes",
				Help: "Channel refreshes currently in flight.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tracker_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the per-host limiter.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite reduces a URL to a lowercase hostname label, or "unknown".
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRefresh counts one channel refresh.
func ObserveRefresh(platform, outcome string) {
	refreshTotal.WithLabelValues(platform, outcome).Inc()
}

// ObserveExtraction counts which strategy produced a result.
func ObserveExtraction(platform, strategy string) {
	if strategy == "" {
		strategy = "none"
	}
	extractionTotal.WithLabelValues(platform, strategy).Inc()
}

// ObserveFetch records the latency of one page fetch.
func ObserveFetch(rawURL string, headless bool, duration time.Duration) {
	backend := "static"
	if headless {
		backend = "headless"
	}
	fetchDurationSeconds.WithLabelValues(SanitizeSite(rawURL), backend).Observe(duration.Seconds())
}

// ObservePush counts one push delivery attempt.
func ObservePush(outcome string) {
	pushTotal.WithLabelValues(outcome).Inc()
}

// ObserveRefreshBatch records the duration of a RefreshAll run.
func ObserveRefreshBatch(duration time.Duration) {
	refreshBatchSeconds.Observe(duration.Seconds())
}

// IncActiveRefreshes increments the in-flight gauge.
func IncActiveRefreshes() {
	activeRefreshes.Inc()
}

// DecActiveRefreshes decrements the in-flight gauge.
func DecActiveRefreshes() {
	activeRefreshes.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
