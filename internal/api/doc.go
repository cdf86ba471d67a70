// Package api hosts the HTTP server, middleware, and JSON handlers. Notable routes:
//   - GET /healthz and /readyz for probes, GET /metrics for Prometheus.
//   - POST /v1/refresh runs a single-URL refresh or, with mode "cron", a batch.
//   - /v1/channels for listing, editing and deleting channels and reading history.
//   - /v1/push for subscription management, the VAPID key and push delivery.
package api
