// Package progress carries ingestion run milestones from the run controller to
// pluggable sinks. Emitters never block: events are buffered, batched on a
// background goroutine and fanned out to sinks such as structured logs,
// Prometheus collectors or message topics.
package progress
