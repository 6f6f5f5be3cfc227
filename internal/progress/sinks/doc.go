// Package sinks implements concrete progress consumers: structured logging,
// Prometheus run collectors, topic publishing of run summaries and an
// in-memory recorder. Each sink satisfies progress.Sink and is safe for
// repeated Consume/Close cycles.
package sinks
