// Package ingest drives one ingestion run: it pages through the upstream feed,
// normalizes each page and upserts it into the article store.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-ingest/internal/metrics"
	"github.com/JakeFAU/realtime-news-ingest/internal/news"
	"github.com/JakeFAU/realtime-news-ingest/internal/normalizer"
	"github.com/JakeFAU/realtime-news-ingest/internal/progress"
)

const (
	// DefaultMaxPages caps pages per run when neither options nor config set it.
	DefaultMaxPages = 3
	// DefaultLanguage is the upstream language filter default.
	DefaultLanguage = "en"
	// DefaultCategory is the upstream category filter default.
	DefaultCategory = "technology,business"
	// DefaultPageDelay spaces consecutive page requests.
	DefaultPageDelay = time.Second

	tracerName = "github.com/JakeFAU/realtime-news-ingest/internal/ingest"
)

// ErrMissingAPIKey is wrapped in a configuration error when no key is set.
var ErrMissingAPIKey = fmt.Errorf("upstream api key: %w", news.ErrMissingCredential)

// Options override the configured defaults for a single run. Zero values
// fall back to the defaults.
type Options struct {
	MaxPages int    `json:"max_pages,omitempty"`
	Language string `json:"language,omitempty"`
	Category string `json:"category,omitempty"`
}

// Config holds the run controller settings.
type Config struct {
	APIKey        string
	Defaults      Options
	PageDelay     time.Duration
	ArchivePrefix string
}

// Runner executes ingestion runs. It holds no per-run state and is safe to
// reuse, although the scheduler never runs two at once.
type Runner struct {
	fetcher news.Fetcher
	writer  news.ArticleWriter
	archive news.BlobStore
	hasher  news.Hasher
	emitter progress.Emitter
	clock   news.Clock
	ids     news.IDGenerator
	cfg     Config
	logger  *zap.Logger
	tracer  trace.Tracer
}

// Deps groups the collaborators of a Runner. Archive, Hasher, Emitter and
// Tracer are optional; the tracer defaults to the global provider.
type Deps struct {
	Fetcher news.Fetcher
	Writer  news.ArticleWriter
	Archive news.BlobStore
	Hasher  news.Hasher
	Emitter progress.Emitter
	Clock   news.Clock
	IDs     news.IDGenerator
	Logger  *zap.Logger
	Tracer  trace.Tracer
}

// New builds a Runner.
func New(deps Deps, cfg Config) (*Runner, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if deps.Writer == nil {
		return nil, errors.New("article writer is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("clock is required")
	}
	if deps.IDs == nil {
		return nil, errors.New("id generator is required")
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.Discard{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	if cfg.Defaults.MaxPages <= 0 {
		cfg.Defaults.MaxPages = DefaultMaxPages
	}
	if cfg.Defaults.Language == "" {
		cfg.Defaults.Language = DefaultLanguage
	}
	if cfg.Defaults.Category == "" {
		cfg.Defaults.Category = DefaultCategory
	}
	if cfg.PageDelay < 0 {
		cfg.PageDelay = 0
	}
	return &Runner{
		fetcher: deps.Fetcher,
		writer:  deps.Writer,
		archive: deps.Archive,
		hasher:  deps.Hasher,
		emitter: deps.Emitter,
		clock:   deps.Clock,
		ids:     deps.IDs,
		cfg:     cfg,
		logger:  deps.Logger,
		tracer:  deps.Tracer,
	}, nil
}

// Resolve fills zero-valued options from the configured defaults.
func (r *Runner) Resolve(opts Options) Options {
	if opts.MaxPages <= 0 {
		opts.MaxPages = r.cfg.Defaults.MaxPages
	}
	if strings.TrimSpace(opts.Language) == "" {
		opts.Language = r.cfg.Defaults.Language
	}
	if strings.TrimSpace(opts.Category) == "" {
		opts.Category = r.cfg.Defaults.Category
	}
	return opts
}

// Run performs one ingestion run and always returns its summary. The only
// error returned is a configuration error; upstream and write failures abort
// the run and are reported through the summary.
func (r *Runner) Run(ctx context.Context, opts Options) (news.Summary, error) {
	opts = r.Resolve(opts)
	summary := news.Summary{
		RunID:     r.newRunID(),
		State:     news.StateIdle,
		StartedAt: r.clock.Now(),
	}
	logger := r.logger.With(zap.String("run_id", summary.RunID))

	if strings.TrimSpace(r.cfg.APIKey) == "" {
		err := news.ConfigurationError(ErrMissingAPIKey)
		r.recordError(&summary, err)
		summary.State = news.StateAborted
		summary.CompletedAt = r.clock.Now()
		logger.Error("ingestion run refused", zap.Error(err))
		return summary, err
	}

	metrics.SetRunInProgress(true)
	defer metrics.SetRunInProgress(false)

	ctx, span := r.tracer.Start(ctx, "ingest.run", trace.WithAttributes(
		attribute.String("run_id", summary.RunID),
		attribute.Int("max_pages", opts.MaxPages),
		attribute.String("language", opts.Language),
		attribute.String("category", opts.Category),
	))
	defer span.End()

	summary.State = news.StatePaging
	r.emitter.Emit(progress.Event{RunID: summary.RunID, TS: summary.StartedAt, Stage: progress.StageRunStart})
	logger.Info("ingestion run started",
		zap.Int("max_pages", opts.MaxPages),
		zap.String("language", opts.Language),
		zap.String("category", opts.Category),
	)

	query := news.Query{Language: opts.Language, Category: opts.Category}
	cursor := ""
	for summary.State == news.StatePaging {
		if summary.Pages >= opts.MaxPages {
			summary.State = news.StateCapped
			break
		}
		pageNo := summary.Pages + 1
		if err := r.page(ctx, logger, &summary, query, &cursor, pageNo); err != nil {
			r.recordError(&summary, err)
			summary.State = news.StateAborted
			kind := news.KindOf(err)
			metrics.ObservePageError(string(kind))
			r.emitter.Emit(progress.Event{
				RunID:     summary.RunID,
				TS:        r.clock.Now(),
				Stage:     progress.StagePageError,
				Page:      pageNo,
				ErrorKind: kind,
				Note:      err.Error(),
			})
			logger.Warn("ingestion run aborted", zap.Int("page", pageNo), zap.String("kind", string(kind)), zap.Error(err))
			break
		}
		if summary.State != news.StatePaging || summary.Pages >= opts.MaxPages {
			continue
		}
		if err := r.clock.Sleep(ctx, r.cfg.PageDelay); err != nil {
			logger.Warn("page delay interrupted", zap.Error(err))
		}
	}

	summary.CompletedAt = r.clock.Now()
	span.SetAttributes(
		attribute.String("state", string(summary.State)),
		attribute.Int("pages", summary.Pages),
		attribute.Int("upserted", summary.Upserted),
	)
	if summary.State == news.StateAborted {
		span.SetStatus(codes.Error, summary.LastError)
	}
	r.emitter.Emit(progress.RunDone(summary))
	logger.Info("ingestion run finished",
		zap.String("state", string(summary.State)),
		zap.Int("pages", summary.Pages),
		zap.Int("fetched", summary.Fetched),
		zap.Int("upserted", summary.Upserted),
		zap.Int("inserted", summary.Inserted),
		zap.Int("updated", summary.Updated),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", summary.Errors),
		zap.Duration("duration", summary.Duration()),
	)
	return summary, nil
}

// page fetches and stores one page, advancing cursor and the summary. It sets
// the exhausted state when the feed has nothing further.
func (r *Runner) page(
	ctx context.Context,
	logger *zap.Logger,
	summary *news.Summary,
	query news.Query,
	cursor *string,
	pageNo int,
) (err error) {
	ctx, span := r.tracer.Start(ctx, "ingest.page", trace.WithAttributes(attribute.Int("page", pageNo)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(news.KindOf(err)))
		}
		span.End()
	}()

	start := r.clock.Now()
	page, err := r.fetcher.FetchPage(ctx, r.cfg.APIKey, query, *cursor)
	if err != nil {
		return fmt.Errorf("fetch page %d: %w", pageNo, err)
	}
	span.SetAttributes(attribute.Int("articles", len(page.Articles)))
	summary.Pages++
	if len(page.Articles) == 0 {
		summary.State = news.StateExhausted
		logger.Debug("upstream returned an empty page", zap.Int("page", pageNo))
		return nil
	}

	fetchedAt := r.clock.Now()
	r.archivePage(ctx, logger, summary.RunID, pageNo, fetchedAt, page.Body)
	summary.Fetched += len(page.Articles)

	keep := make([]news.RawArticle, 0, len(page.Articles))
	for _, raw := range page.Articles {
		if strings.TrimSpace(raw.ArticleID) == "" {
			summary.Skipped++
			continue
		}
		keep = append(keep, raw)
	}
	articles := normalizer.NormalizeAll(keep, fetchedAt)

	var result news.UpsertResult
	if len(articles) > 0 {
		result, err = r.writer.UpsertMany(ctx, articles)
		metrics.ObserveWrites(result.Inserted, result.Updated, result.Failed)
		summary.Inserted += result.Inserted
		summary.Updated += result.Updated
		summary.Upserted += result.Upserted()
		if err != nil {
			if news.KindOf(err) != news.KindWriteFailure {
				err = news.WriteFailure(err)
			}
			return fmt.Errorf("write page %d: %w", pageNo, err)
		}
	}

	r.emitter.Emit(progress.Event{
		RunID:    summary.RunID,
		TS:       r.clock.Now(),
		Stage:    progress.StagePageDone,
		Page:     pageNo,
		Articles: len(page.Articles),
		Inserted: result.Inserted,
		Updated:  result.Updated,
		Failed:   result.Failed,
		Dur:      max(r.clock.Now().Sub(start), 0),
	})

	*cursor = strings.TrimSpace(page.NextCursor)
	if *cursor == "" {
		summary.State = news.StateExhausted
	}
	return nil
}

func (r *Runner) archivePage(ctx context.Context, logger *zap.Logger, runID string, pageNo int, at time.Time, body []byte) {
	if r.archive == nil || len(body) == 0 {
		return
	}
	digest := "nohash"
	if r.hasher != nil {
		if h, err := r.hasher.Hash(body); err == nil {
			digest = h
		}
	}
	key := path.Join(
		r.cfg.ArchivePrefix,
		at.UTC().Format("2006/01/02"),
		runID,
		fmt.Sprintf("page-%03d-%s.json", pageNo, digest),
	)
	uri, err := r.archive.PutObject(ctx, key, "application/json", bytes.NewReader(body))
	if err != nil {
		logger.Warn("archive raw page failed", zap.Int("page", pageNo), zap.Error(err))
		return
	}
	logger.Debug("archived raw page", zap.Int("page", pageNo), zap.String("uri", uri))
}

func (r *Runner) recordError(summary *news.Summary, err error) {
	summary.Errors++
	summary.LastError = err.Error()
	summary.LastErrorKind = news.KindOf(err)
}

func (r *Runner) newRunID() string {
	id, err := r.ids.NewID()
	if err != nil || id == "" {
		r.logger.Warn("run id generation failed; using timestamp", zap.Error(err))
		return fmt.Sprintf("run-%d", r.clock.Now().UnixNano())
	}
	return id
}
