package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-ingest/internal/ingest"
	"github.com/JakeFAU/realtime-news-ingest/internal/metrics"
	"github.com/JakeFAU/realtime-news-ingest/internal/scheduler"
)

const (
	defaultRequestTimeout = 30 * time.Second
	readyTimeout          = 2 * time.Second
	maxBodyBytes          = 1 << 16

	// DefaultMaxPagesLimit bounds max_pages on triggered runs when Config
	// leaves it unset.
	DefaultMaxPagesLimit = 20
)

// Scheduler is the subset of the ingestion scheduler the API drives.
type Scheduler interface {
	Status() scheduler.Status
	TriggerAsync(ctx context.Context, opts ingest.Options) bool
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config tunes the server.
type Config struct {
	RequestTimeout time.Duration
	// IngestionEnabled is false when no upstream API key is configured.
	IngestionEnabled bool
	// MaxPagesLimit is the largest max_pages a trigger request may ask for.
	MaxPagesLimit int
}

// Server wires HTTP handlers to the scheduler and article store.
type Server struct {
	router    chi.Router
	handler   http.Handler
	scheduler Scheduler
	store     Pinger
	cfg       Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(sched Scheduler, store Pinger, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.MaxPagesLimit <= 0 {
		cfg.MaxPagesLimit = DefaultMaxPagesLimit
	}
	s := &Server{
		scheduler: sched,
		store:     store,
		cfg:       cfg,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1/ingest", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Post("/runs", s.triggerRun)
	})

	s.router = r
	s.handler = otelhttp.NewHandler(r, "newsingest.api",
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return req.Method + " " + req.URL.Path
		}),
	)
	return s
}

// Handler returns the traced Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "article store not configured")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "article store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, statusResponse{
		IngestionEnabled: s.cfg.IngestionEnabled,
		Status:           s.scheduler.Status(),
	})
}

func (s *Server) triggerRun(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.IngestionEnabled {
		s.writeError(w, http.StatusServiceUnavailable, "ingestion disabled: upstream api key not configured")
		return
	}
	opts, err := decodeRunRequest(r, s.cfg.MaxPagesLimit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.scheduler.TriggerAsync(context.WithoutCancel(r.Context()), opts) {
		s.writeError(w, http.StatusConflict, "ingestion run already in progress")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

type statusResponse struct {
	IngestionEnabled bool `json:"ingestion_enabled"`
	scheduler.Status
}

type runRequest struct {
	MaxPages *int   `json:"max_pages"`
	Language string `json:"language"`
	Category string `json:"category"`
}

func decodeRunRequest(r *http.Request, maxPagesLimit int) (ingest.Options, error) {
	var req runRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return ingest.Options{}, errors.New("invalid JSON")
	}
	opts := ingest.Options{
		Language: strings.TrimSpace(req.Language),
		Category: strings.TrimSpace(req.Category),
	}
	if req.MaxPages != nil {
		if *req.MaxPages <= 0 {
			return ingest.Options{}, errors.New("max_pages must be > 0")
		}
		if *req.MaxPages > maxPagesLimit {
			return ingest.Options{}, fmt.Errorf("max_pages must be at most %d", maxPagesLimit)
		}
		opts.MaxPages = *req.MaxPages
	}
	return opts, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
