// Package scheduler fires ingestion runs on a fixed interval and guarantees
// that at most one run executes at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-ingest/internal/ingest"
	"github.com/JakeFAU/realtime-news-ingest/internal/metrics"
	"github.com/JakeFAU/realtime-news-ingest/internal/news"
)

// DefaultInterval is the tick period when none is configured.
const DefaultInterval = time.Hour

// Runner executes one ingestion run.
type Runner interface {
	Run(ctx context.Context, opts ingest.Options) (news.Summary, error)
}

// Config controls the tick period and the options used for scheduled runs.
type Config struct {
	Interval time.Duration
	Options  ingest.Options
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	Armed       bool          `json:"armed"`
	Running     bool          `json:"running"`
	Interval    string        `json:"interval"`
	Runs        int64         `json:"runs"`
	Skipped     int64         `json:"skipped_ticks"`
	NextTick    *time.Time    `json:"next_tick,omitempty"`
	LastSummary *news.Summary `json:"last_summary,omitempty"`
	LastError   string        `json:"last_error,omitempty"`
}

// Scheduler owns the in-progress flag shared by ticks and manual triggers.
type Scheduler struct {
	runner Runner
	cfg    Config
	logger *zap.Logger

	running atomic.Bool
	runs    atomic.Int64
	skipped atomic.Int64

	mu      sync.Mutex
	cron    *cron.Cron
	entry   cron.EntryID
	idle    chan struct{}
	last    *news.Summary
	lastErr string
}

// New builds a Scheduler. The interval must be at least one second.
func New(runner Runner, cfg Config, logger *zap.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Interval < time.Second {
		return nil, fmt.Errorf("interval %s must be at least 1s", cfg.Interval)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	idle := make(chan struct{})
	close(idle)
	return &Scheduler{runner: runner, cfg: cfg, logger: logger, idle: idle}, nil
}

// Start arms the periodic tick. Calling Start while armed logs a warning and
// does nothing. ctx is the parent for every scheduled run; cancelling it does
// not interrupt a run already in flight.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		s.logger.Warn("scheduler already armed")
		return
	}
	c := cron.New(cron.WithLocation(time.UTC))
	s.entry = c.Schedule(cron.Every(s.cfg.Interval), cron.FuncJob(func() {
		s.Tick(ctx)
	}))
	c.Start()
	s.cron = c
	s.logger.Info("scheduler armed", zap.Duration("interval", s.cfg.Interval))
}

// Stop disarms the tick. It is idempotent and never interrupts a run in
// flight; use Wait for that.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return
	}
	s.cron.Stop()
	s.cron = nil
	s.entry = 0
	s.logger.Info("scheduler disarmed")
}

// Tick runs one ingestion with the configured options unless a run is
// already executing, in which case the tick is skipped. It reports whether a
// run happened.
func (s *Scheduler) Tick(ctx context.Context) (news.Summary, bool) {
	if !s.acquire() {
		s.skip("tick")
		return news.Summary{}, false
	}
	return s.execute(ctx, s.cfg.Options), true
}

// TriggerAsync starts a run in the background with opts layered over the
// configured options. It returns false when a run is already executing.
func (s *Scheduler) TriggerAsync(ctx context.Context, opts ingest.Options) bool {
	if !s.acquire() {
		s.skip("trigger")
		return false
	}
	merged := s.cfg.Options
	if opts.MaxPages > 0 {
		merged.MaxPages = opts.MaxPages
	}
	if opts.Language != "" {
		merged.Language = opts.Language
	}
	if opts.Category != "" {
		merged.Category = opts.Category
	}
	go s.execute(ctx, merged)
	return true
}

// Wait blocks until no run is executing or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for in-flight run: %w", ctx.Err())
	}
}

// Running reports whether a run is executing.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Status returns a snapshot of the scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Armed:     s.cron != nil,
		Running:   s.running.Load(),
		Interval:  s.cfg.Interval.String(),
		Runs:      s.runs.Load(),
		Skipped:   s.skipped.Load(),
		LastError: s.lastErr,
	}
	if s.cron != nil {
		if next := s.cron.Entry(s.entry).Next; !next.IsZero() {
			st.NextTick = &next
		}
	}
	if s.last != nil {
		last := *s.last
		st.LastSummary = &last
	}
	return st
}

func (s *Scheduler) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.CompareAndSwap(false, true) {
		return false
	}
	s.idle = make(chan struct{})
	return true
}

func (s *Scheduler) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running.Store(false)
	close(s.idle)
}

func (s *Scheduler) skip(source string) {
	s.skipped.Add(1)
	metrics.ObserveSkippedTick()
	s.logger.Info("ingestion already running; skipping", zap.String("source", source))
}

func (s *Scheduler) execute(ctx context.Context, opts ingest.Options) (summary news.Summary) {
	defer s.release()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("ingestion run panicked: %v", r)
			s.logger.Error("ingestion run panicked", zap.Any("panic", r))
			s.runs.Add(1)
			s.record(nil, err)
		}
	}()

	summary, err := s.runner.Run(context.WithoutCancel(ctx), opts)
	s.runs.Add(1)
	if err != nil {
		s.logger.Error("ingestion run failed", zap.String("run_id", summary.RunID), zap.Error(err))
	}
	s.record(&summary, err)
	return summary
}

func (s *Scheduler) record(summary *news.Summary, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if summary != nil {
		last := *summary
		s.last = &last
	}
	switch {
	case err != nil:
		s.lastErr = err.Error()
	case summary != nil && summary.LastError != "":
		s.lastErr = summary.LastError
	case summary != nil:
		s.lastErr = ""
	}
}
