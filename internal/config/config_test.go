package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvPrefix+"_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Upstream.Timeout != 15*time.Second {
		t.Fatalf("expected 15s upstream timeout, got %v", cfg.Upstream.Timeout)
	}
	if cfg.Ingest.MaxPages != 3 || cfg.Ingest.Language != "en" || cfg.Ingest.Category != "technology,business" {
		t.Fatalf("unexpected ingest defaults: %+v", cfg.Ingest)
	}
	if cfg.Ingest.Interval != time.Hour || !cfg.Ingest.RunOnStart {
		t.Fatalf("unexpected schedule defaults: %+v", cfg.Ingest)
	}
	if cfg.Storage.Backend != BackendMemory || cfg.Archive.Backend != BackendNone {
		t.Fatalf("unexpected backends: storage=%s archive=%s", cfg.Storage.Backend, cfg.Archive.Backend)
	}
	if cfg.IngestionEnabled() {
		t.Fatal("ingestion must be disabled without an api key")
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Setenv(EnvPrefix+"_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
upstream:
  api_key: file-key
  timeout: 5s
  rate_limit:
    rps: 2
    burst: 3
ingest:
  max_pages: 7
  language: de
  category: science
  interval: 10m
  run_on_start: false
storage:
  backend: Postgres
database:
  dsn: postgres://localhost/news
  table: news.articles
archive:
  backend: gcs
  prefix: pages
  gcs:
    bucket: raw-pages
sinks:
  pubsub:
    enabled: true
    project_id: proj
    topic: news-runs
  sns:
    enabled: true
    region: us-east-1
    topic_arn: arn:aws:sns:us-east-1:123:runs
logging:
  development: false
  level: warn
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Upstream.APIKey != "file-key" || cfg.Upstream.Timeout != 5*time.Second {
		t.Fatalf("expected upstream overrides: %+v", cfg.Upstream)
	}
	if cfg.Upstream.RateLimit.RPS != 2 || cfg.Upstream.RateLimit.Burst != 3 {
		t.Fatalf("expected rate limit overrides: %+v", cfg.Upstream.RateLimit)
	}
	if cfg.Ingest.MaxPages != 7 || cfg.Ingest.Interval != 10*time.Minute || cfg.Ingest.RunOnStart {
		t.Fatalf("expected ingest overrides: %+v", cfg.Ingest)
	}
	if cfg.Storage.Backend != BackendPostgres || cfg.Database.Table != "news.articles" {
		t.Fatalf("expected postgres storage: %+v %+v", cfg.Storage, cfg.Database)
	}
	if cfg.Archive.GCS.Bucket != "raw-pages" || cfg.Archive.Prefix != "pages" {
		t.Fatalf("expected gcs archive: %+v", cfg.Archive)
	}
	if !cfg.Sinks.PubSub.Enabled || cfg.Sinks.PubSub.ProjectID != "proj" || cfg.Sinks.PubSub.Topic != "news-runs" {
		t.Fatalf("expected pubsub sink: %+v", cfg.Sinks.PubSub)
	}
	if cfg.Sinks.SNS.Region != "us-east-1" || cfg.Sinks.SNS.TopicARN == "" {
		t.Fatalf("expected sns sink: %+v", cfg.Sinks.SNS)
	}
	if cfg.Logging.Level != "warn" || cfg.Logging.Development {
		t.Fatalf("expected logging overrides: %+v", cfg.Logging)
	}
}

func TestLoadSQLiteBackend(t *testing.T) {
	t.Setenv(EnvPrefix+"_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
storage:
  backend: SQLite
sqlite:
  path: /var/lib/newsingest/news.sqlite
  busy_timeout: 2s
ingest:
  max_pages: 4
  max_pages_limit: 10
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.Backend != BackendSQLite {
		t.Fatalf("expected sqlite backend, got %q", cfg.Storage.Backend)
	}
	if cfg.SQLite.Path != "/var/lib/newsingest/news.sqlite" || cfg.SQLite.BusyTimeout != 2*time.Second {
		t.Fatalf("expected sqlite overrides: %+v", cfg.SQLite)
	}
	if cfg.Ingest.MaxPagesLimit != 10 {
		t.Fatalf("expected max_pages_limit 10, got %d", cfg.Ingest.MaxPagesLimit)
	}
}

func TestLoadSQLiteDefaults(t *testing.T) {
	t.Setenv(EnvPrefix+"_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv(EnvPrefix+"_STORAGE_BACKEND", "sqlite")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SQLite.Path != "data/articles.sqlite" || cfg.SQLite.BusyTimeout != 5*time.Second {
		t.Fatalf("expected sqlite defaults: %+v", cfg.SQLite)
	}
	if cfg.Ingest.MaxPagesLimit != 20 {
		t.Fatalf("expected default max_pages_limit 20, got %d", cfg.Ingest.MaxPagesLimit)
	}
}

func TestLoadLegacyEnvironment(t *testing.T) {
	t.Setenv(EnvPrefix+"_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("NEWSDATA_API_KEY", " legacy-key ")
	t.Setenv("DEFAULT_LANGUAGE", "fr")
	t.Setenv("DEFAULT_CATEGORIES", "world,politics")
	t.Setenv("CRON_INTERVAL_MS", "90000")
	t.Setenv("INGEST_ON_START", "false")
	t.Setenv("MAX_PAGES", "5")
	t.Setenv("PORT", "3000")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Upstream.APIKey != "legacy-key" || !cfg.IngestionEnabled() {
		t.Fatalf("expected trimmed legacy api key, got %q", cfg.Upstream.APIKey)
	}
	if cfg.Ingest.Language != "fr" || cfg.Ingest.Category != "world,politics" {
		t.Fatalf("expected legacy filters: %+v", cfg.Ingest)
	}
	if cfg.Ingest.Interval != 90*time.Second {
		t.Fatalf("expected 90s interval, got %v", cfg.Ingest.Interval)
	}
	if cfg.Ingest.RunOnStart || cfg.Ingest.MaxPages != 5 || cfg.Server.Port != 3000 {
		t.Fatalf("expected legacy overrides: %+v port=%d", cfg.Ingest, cfg.Server.Port)
	}
}

func TestPrefixedEnvironmentWinsOverLegacy(t *testing.T) {
	t.Setenv(EnvPrefix+"_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("MAX_PAGES", "5")
	t.Setenv("NEWSINGEST_INGEST_MAX_PAGES", "9")
	t.Setenv("NEWSINGEST_STORAGE_BACKEND", "bolt")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Ingest.MaxPages != 9 {
		t.Fatalf("expected prefixed value 9, got %d", cfg.Ingest.MaxPages)
	}
	if cfg.Storage.Backend != BackendBolt {
		t.Fatalf("expected bolt backend, got %s", cfg.Storage.Backend)
	}
}

func TestLoadDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	if err := os.WriteFile(envFile, []byte("NEWSINGEST_UPSTREAM_API_KEY=dotenv-key\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv(EnvPrefix+"_ENV_FILE", envFile)
	t.Setenv("NEWSINGEST_UPSTREAM_API_KEY", "")
	os.Unsetenv("NEWSINGEST_UPSTREAM_API_KEY") //nolint:errcheck // restored by t.Setenv cleanup

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Upstream.APIKey != "dotenv-key" {
		t.Fatalf("expected api key from env file, got %q", cfg.Upstream.APIKey)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:   ServerConfig{Port: 8080},
		Upstream: UpstreamConfig{Timeout: time.Second},
		Ingest:   IngestConfig{MaxPages: 3, Interval: time.Minute},
		Storage:  StorageConfig{Backend: BackendMemory},
		Archive:  ArchiveConfig{Backend: BackendNone},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "invalid timeout", mutate: func(c *Config) { c.Upstream.Timeout = 0 }, want: "upstream.timeout"},
		{name: "invalid max pages", mutate: func(c *Config) { c.Ingest.MaxPages = 0 }, want: "ingest.max_pages"},
		{name: "short interval", mutate: func(c *Config) { c.Ingest.Interval = time.Millisecond }, want: "ingest.interval"},
		{name: "negative delay", mutate: func(c *Config) { c.Ingest.PageDelay = -time.Second }, want: "ingest.page_delay"},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Backend = "mongo" }, want: "storage.backend"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Storage.Backend = BackendPostgres }, want: "database.dsn"},
		{name: "unknown archive", mutate: func(c *Config) { c.Archive.Backend = "s3" }, want: "archive.backend"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Archive.Backend = BackendGCS }, want: "archive.gcs.bucket"},
		{name: "local without dir", mutate: func(c *Config) { c.Archive.Backend = BackendLocal }, want: "archive.local.base_dir"},
		{name: "pubsub incomplete", mutate: func(c *Config) { c.Sinks.PubSub.Enabled = true }, want: "sinks.pubsub"},
		{name: "sns incomplete", mutate: func(c *Config) { c.Sinks.SNS.Enabled = true }, want: "sinks.sns"},
		{name: "sqs incomplete", mutate: func(c *Config) { c.Sinks.SQS.Enabled = true }, want: "sinks.sqs"},
		{name: "sqlite without path", mutate: func(c *Config) { c.Storage.Backend = BackendSQLite }, want: "sqlite.path"},
		{name: "page limit below max pages", mutate: func(c *Config) { c.Ingest.MaxPagesLimit = 2 }, want: "ingest.max_pages_limit"},
		{name: "sample ratio out of range", mutate: func(c *Config) { c.Tracing.SampleRatio = 2 }, want: "tracing.sample_ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
