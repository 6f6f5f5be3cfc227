package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/realtime-news-ingest/internal/progress"
)

// PrometheusSink exports run progress metrics via Prometheus. It owns the
// collectors for runs started/completed/running, page outcomes and article
// counts.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	pages       *prometheus.CounterVec
	pageLatency prometheus.Histogram
	articles    *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newsingest_runs_started_total",
			Help: "Total ingestion runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsingest_runs_completed_total",
			Help: "Total ingestion runs completed partitioned by terminal state.",
		}, []string{"state"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "newsingest_runs_running",
			Help: "Ingestion runs currently paging.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "newsingest_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"state"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsingest_pages_total",
			Help: "Pages processed partitioned by outcome.",
		}, []string{"outcome"}),
		pageLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "newsingest_page_duration_seconds",
			Help:    "Fetch plus write latency per successful page.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
		}),
		articles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsingest_run_articles_total",
			Help: "Articles handled by runs partitioned by result.",
		}, []string{"result"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.pages,
		s.pageLatency,
		s.articles,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StagePageDone:
		s.pages.WithLabelValues("ok").Inc()
		if evt.Dur > 0 {
			s.pageLatency.Observe(evt.Dur.Seconds())
		}
		s.articles.WithLabelValues("inserted").Add(float64(evt.Inserted))
		s.articles.WithLabelValues("updated").Add(float64(evt.Updated))
		s.articles.WithLabelValues("failed").Add(float64(evt.Failed))
	case progress.StagePageError:
		s.pages.WithLabelValues("error").Inc()
	case progress.StageRunDone:
		state := "unknown"
		if evt.Summary != nil {
			state = string(evt.Summary.State)
			s.articles.WithLabelValues("skipped").Add(float64(evt.Summary.Skipped))
		}
		s.runsCompleted.WithLabelValues(state).Inc()
		if evt.Dur > 0 {
			s.runDuration.WithLabelValues(state).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.RunID) {
			s.runsRunning.Dec()
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[string]struct{})}
}

func (t *runTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
