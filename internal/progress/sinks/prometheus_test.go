package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-news-ingest/internal/news"
	"github.com/JakeFAU/realtime-news-ingest/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	start := time.Now()
	summary := news.Summary{
		RunID:       "run-1",
		State:       news.StateAborted,
		Skipped:     2,
		StartedAt:   start,
		CompletedAt: start.Add(3 * time.Second),
	}
	batch := []progress.Event{
		{RunID: "run-1", TS: start, Stage: progress.StageRunStart},
		{RunID: "run-1", TS: start, Stage: progress.StagePageDone, Page: 1, Articles: 10, Inserted: 7, Updated: 3, Dur: 200 * time.Millisecond},
		{RunID: "run-1", TS: start, Stage: progress.StagePageError, Page: 2, ErrorKind: news.KindUpstreamUnavailable},
		progress.RunDone(summary),
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsStarted), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("aborted")), 1e-9)
	require.InDelta(t, 0.0, testutil.ToFloat64(sink.runsRunning), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.pages.WithLabelValues("ok")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.pages.WithLabelValues("error")), 1e-9)
	require.InDelta(t, 7.0, testutil.ToFloat64(sink.articles.WithLabelValues("inserted")), 1e-9)
	require.InDelta(t, 2.0, testutil.ToFloat64(sink.articles.WithLabelValues("skipped")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.runDuration, "newsingest_run_duration_seconds"))
}

func TestPrometheusSinkRunningGaugeIgnoresDuplicates(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	evt := progress.Event{RunID: "run-2", TS: time.Now(), Stage: progress.StageRunStart}
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{evt, evt}))
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.runsRunning), 1e-9)
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
