// Package cmd implements the newsingest command line.
//
// Architecture overview:
//   - Scheduler: internal/scheduler fires an ingestion run on a fixed interval and once at boot. A single
//     in-progress flag guarantees at most one run at a time; overlapping ticks are skipped and counted.
//   - Run controller: internal/ingest pages through the upstream latest-news feed with the page cursor, stopping
//     on an empty page, a missing cursor, the page cap or the first failure. Each page is normalized and upserted
//     before the next is requested.
//   - Upstream: internal/upstream/newsdata wraps a resty client with a token-bucket limiter and classifies
//     failures as rejected (the API said no) or unavailable (transport or HTTP error).
//   - Persistence: articles are upserted on their upstream id into memory, bbolt or Postgres. Raw pages can be
//     archived to memory, the local filesystem or GCS.
//   - Fanout: run milestones flow through the progress Hub to log, Prometheus and Pub/Sub or SNS sinks.
//   - Operations: internal/api serves health, readiness, metrics, scheduler status and a manual trigger.
//
// Operational notes:
//   - Without an upstream API key the service still serves the operations API but never arms the scheduler.
//   - SIGINT/SIGTERM stops the scheduler, drains HTTP and waits for an in-flight run up to the shutdown timeout.
package cmd
