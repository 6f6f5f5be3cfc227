// Package server builds the service dependency graph and runs its lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-ingest/internal/api"
	"github.com/JakeFAU/realtime-news-ingest/internal/clock/system"
	"github.com/JakeFAU/realtime-news-ingest/internal/config"
	"github.com/JakeFAU/realtime-news-ingest/internal/hash/sha256"
	"github.com/JakeFAU/realtime-news-ingest/internal/id/uuid"
	"github.com/JakeFAU/realtime-news-ingest/internal/ingest"
	"github.com/JakeFAU/realtime-news-ingest/internal/logging"
	"github.com/JakeFAU/realtime-news-ingest/internal/news"
	"github.com/JakeFAU/realtime-news-ingest/internal/policy/ratelimit"
	"github.com/JakeFAU/realtime-news-ingest/internal/progress"
	progresssinks "github.com/JakeFAU/realtime-news-ingest/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/realtime-news-ingest/internal/publisher/pubsub"
	snspublisher "github.com/JakeFAU/realtime-news-ingest/internal/publisher/sns"
	sqspublisher "github.com/JakeFAU/realtime-news-ingest/internal/publisher/sqs"
	"github.com/JakeFAU/realtime-news-ingest/internal/scheduler"
	boltstore "github.com/JakeFAU/realtime-news-ingest/internal/storage/bolt"
	gcsstorage "github.com/JakeFAU/realtime-news-ingest/internal/storage/gcs"
	localstorage "github.com/JakeFAU/realtime-news-ingest/internal/storage/local"
	memorystorage "github.com/JakeFAU/realtime-news-ingest/internal/storage/memory"
	pgstore "github.com/JakeFAU/realtime-news-ingest/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/realtime-news-ingest/internal/storage/sqlite"
	"github.com/JakeFAU/realtime-news-ingest/internal/telemetry"
	"github.com/JakeFAU/realtime-news-ingest/internal/upstream/newsdata"
)

// archiveHashLength keeps archive object names short while staying unique per page.
const archiveHashLength = 16

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     news.ArticleStore
	archive   news.BlobStore
	closers   []func() error
	hub       *progress.Hub
	runner    *ingest.Runner
	scheduler *scheduler.Scheduler
	apiServer *api.Server

	closeOnce sync.Once
	closeErr  error
}

// Option customizes Build.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
}

// WithLogger supplies a prebuilt logger instead of one derived from config.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegisterer registers progress collectors on reg instead of the default
// registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}

	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("archive_backend", cfg.Archive.Backend),
		zap.Bool("ingestion_enabled", cfg.IngestionEnabled()),
	)

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, cfg.Tracing)
		if err != nil {
			return nil, fmt.Errorf("tracer provider init failed: %w", err)
		}
		app.closers = append(app.closers, func() error {
			return tp.Shutdown(context.Background())
		})
	}

	var err error
	if app.store, err = app.setupStore(ctx); err != nil {
		return nil, app.abort(err)
	}
	if app.archive, err = app.setupArchive(ctx); err != nil {
		return nil, app.abort(err)
	}
	if app.hub, err = app.setupProgress(ctx, o.registerer); err != nil {
		return nil, app.abort(err)
	}

	limiter := ratelimit.New(cfg.Upstream.RateLimit)
	client := newsdata.New(newsdata.Config{
		BaseURL:   cfg.Upstream.BaseURL,
		Timeout:   cfg.Upstream.Timeout,
		UserAgent: cfg.Upstream.UserAgent,
	}, limiter, logger.Named("upstream"))

	defaults := ingest.Options{
		MaxPages: cfg.Ingest.MaxPages,
		Language: cfg.Ingest.Language,
		Category: cfg.Ingest.Category,
	}
	app.runner, err = ingest.New(ingest.Deps{
		Fetcher: client,
		Writer:  app.store,
		Archive: app.archive,
		Hasher:  sha256.NewShort(archiveHashLength),
		Emitter: app.hub,
		Clock:   system.New(),
		IDs:     uuid.New(),
		Logger:  logger.Named("ingest"),
	}, ingest.Config{
		APIKey:        cfg.Upstream.APIKey,
		Defaults:      defaults,
		PageDelay:     cfg.Ingest.PageDelay,
		ArchivePrefix: cfg.Archive.Prefix,
	})
	if err != nil {
		return nil, app.abort(fmt.Errorf("runner init failed: %w", err))
	}

	app.scheduler, err = scheduler.New(app.runner, scheduler.Config{
		Interval: cfg.Ingest.Interval,
		Options:  defaults,
	}, logger.Named("scheduler"))
	if err != nil {
		return nil, app.abort(fmt.Errorf("scheduler init failed: %w", err))
	}

	app.apiServer = api.NewServer(app.scheduler, app.store, api.Config{
		RequestTimeout:   cfg.Server.RequestTimeout,
		IngestionEnabled: cfg.IngestionEnabled(),
		MaxPagesLimit:    cfg.Ingest.MaxPagesLimit,
	}, logger.Named("api"))

	return app, nil
}

// abort releases whatever Build managed to open and returns err.
func (a *App) abort(err error) error {
	if closeErr := a.Close(context.Background()); closeErr != nil {
		a.logger.Warn("cleanup after failed build", zap.Error(closeErr))
	}
	return err
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Runner returns the ingestion run controller.
func (a *App) Runner() *ingest.Runner { return a.runner }

// Store returns the article store.
func (a *App) Store() news.ArticleStore { return a.store }

// Scheduler returns the run scheduler.
func (a *App) Scheduler() *scheduler.Scheduler { return a.scheduler }

// Handler returns the operations HTTP handler.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Run arms the scheduler, fires the boot run and serves HTTP until the context
// is canceled or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", a.cfg.Server.Port, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener, without signal handling.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.startIngestion(ctx)

	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			a.logger.Error("http server error", zap.Error(err))
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()

	a.scheduler.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := a.scheduler.Wait(shutdownCtx); err != nil {
		a.logger.Warn("in-flight ingestion run did not finish before shutdown", zap.Error(err))
	}
	return errors.Join(runErr, a.Close(shutdownCtx))
}

func (a *App) startIngestion(ctx context.Context) {
	if !a.cfg.IngestionEnabled() {
		a.logger.Error("upstream api key not configured; scheduled ingestion disabled")
		return
	}
	a.scheduler.Start(ctx)
	if !a.cfg.Ingest.RunOnStart {
		return
	}
	if a.scheduler.TriggerAsync(ctx, ingest.Options{}) {
		a.logger.Info("boot ingestion run started")
	}
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 30 * time.Second
}

// Close gracefully releases the application's resources.
// Only the first call does any work; later calls return its result.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.closeErr = a.close(ctx)
	})
	return a.closeErr
}

func (a *App) close(ctx context.Context) error {
	var errs []error
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.logger.Warn("resource close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := a.closeStore(); err != nil {
		errs = append(errs, err)
	}
	a.logger.Info("shutdown complete")
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return errors.Join(errs...)
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("article store close failed", zap.Error(err))
		return fmt.Errorf("close article store: %w", err)
	}
	a.store = nil
	return nil
}

func (a *App) setupStore(ctx context.Context) (news.ArticleStore, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendPostgres:
		store, err := pgstore.NewArticleStore(ctx, a.cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("postgres article store init failed: %w", err)
		}
		a.logger.Info("using postgres article store", zap.String("table", a.cfg.Database.Table))
		return store, nil
	case config.BackendBolt:
		store, err := boltstore.Open(a.cfg.Bolt)
		if err != nil {
			return nil, fmt.Errorf("bolt article store init failed: %w", err)
		}
		a.logger.Info("using bolt article store", zap.String("path", a.cfg.Bolt.Path))
		return store, nil
	case config.BackendSQLite:
		store, err := sqlitestore.Open(ctx, a.cfg.SQLite)
		if err != nil {
			return nil, fmt.Errorf("sqlite article store init failed: %w", err)
		}
		a.logger.Info("using sqlite article store", zap.String("path", a.cfg.SQLite.Path))
		return store, nil
	default:
		a.logger.Info("using in-memory article store")
		return memorystorage.NewArticleStore(), nil
	}
}

func (a *App) setupArchive(ctx context.Context) (news.BlobStore, error) {
	switch a.cfg.Archive.Backend {
	case config.BackendGCS:
		blobs, err := gcsstorage.Open(ctx, a.cfg.Archive.GCS)
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.closers = append(a.closers, blobs.Close)
		a.logger.Info("using GCS raw page archive", zap.String("bucket", a.cfg.Archive.GCS.Bucket))
		return blobs, nil
	case config.BackendLocal:
		blobs, err := localstorage.New(a.cfg.Archive.Local)
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		a.logger.Info("using local raw page archive", zap.String("path", a.cfg.Archive.Local.BaseDir))
		return blobs, nil
	case config.BackendMemory:
		a.logger.Info("using in-memory raw page archive")
		return memorystorage.NewBlobStore(), nil
	default:
		a.logger.Debug("raw page archive disabled")
		return nil, nil
	}
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) (_ *progress.Hub, err error) {
	sinksCfg := a.cfg.Sinks
	var sinkList []progress.Sink
	defer func() {
		if err == nil {
			return
		}
		for _, sink := range sinkList {
			if closeErr := sink.Close(ctx); closeErr != nil {
				a.logger.Warn("progress sink close failed", zap.Error(closeErr))
			}
		}
	}()
	if sinksCfg.Log {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	if sinksCfg.Prometheus {
		promSink, err := progresssinks.NewPrometheusSink(reg)
		if err != nil {
			return nil, fmt.Errorf("prometheus progress sink init failed: %w", err)
		}
		sinkList = append(sinkList, promSink)
	}
	if sinksCfg.PubSub.Enabled {
		pub, err := gcppublisher.New(ctx, sinksCfg.PubSub.Config)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		sink, err := progresssinks.NewPublishSink(pub, sinksCfg.PubSub.Topic, a.logger.Named("progress_pubsub"))
		if err != nil {
			return nil, fmt.Errorf("pubsub sink init failed: %w", err)
		}
		sinkList = append(sinkList, sink)
		a.logger.Info("Pub/Sub summary sink initialized",
			zap.String("project", sinksCfg.PubSub.ProjectID),
			zap.String("topic", sinksCfg.PubSub.Topic),
		)
	}
	if sinksCfg.SNS.Enabled {
		pub, err := snspublisher.New(ctx, sinksCfg.SNS.Config)
		if err != nil {
			return nil, fmt.Errorf("sns publisher init failed: %w", err)
		}
		sink, err := progresssinks.NewPublishSink(pub, sinksCfg.SNS.TopicARN, a.logger.Named("progress_sns"))
		if err != nil {
			return nil, fmt.Errorf("sns sink init failed: %w", err)
		}
		sinkList = append(sinkList, sink)
		a.logger.Info("SNS summary sink initialized", zap.String("topic_arn", sinksCfg.SNS.TopicARN))
	}
	if sinksCfg.SQS.Enabled {
		pub, err := sqspublisher.New(ctx, sinksCfg.SQS.Config)
		if err != nil {
			return nil, fmt.Errorf("sqs publisher init failed: %w", err)
		}
		sink, err := progresssinks.NewPublishSink(pub, sinksCfg.SQS.QueueURL, a.logger.Named("progress_sqs"))
		if err != nil {
			return nil, fmt.Errorf("sqs sink init failed: %w", err)
		}
		sinkList = append(sinkList, sink)
		a.logger.Info("SQS summary sink initialized", zap.String("queue_url", sinksCfg.SQS.QueueURL))
	}

	hubCfg := progress.Config{
		BufferSize:     sinksCfg.BufferSize,
		MaxBatchEvents: sinksCfg.BatchSize,
		MaxBatchWait:   sinksCfg.BatchWait,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	hub := progress.NewHub(hubCfg, sinkList...)
	a.logger.Debug("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return hub, nil
}

// Ingest runs one ingestion synchronously, outside the scheduler.
func (a *App) Ingest(ctx context.Context, opts ingest.Options) (news.Summary, error) {
	summary, err := a.runner.Run(ctx, opts)
	if err != nil {
		return summary, fmt.Errorf("ingest: %w", err)
	}
	return summary, nil
}

// Article looks up one stored article by its upstream id.
func (a *App) Article(ctx context.Context, id string) (news.Article, error) {
	if a.store == nil {
		return news.Article{}, errors.New("article store closed")
	}
	article, err := a.store.FindByID(ctx, id)
	if err != nil {
		return news.Article{}, fmt.Errorf("find article %s: %w", id, err)
	}
	return article, nil
}
