// Package api hosts the operations HTTP server. Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/ingest/status for the scheduler snapshot.
//   - POST /v1/ingest/runs to start a run outside the schedule.
package api
