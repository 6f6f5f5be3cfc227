// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/realtime-news-ingest/internal/policy/ratelimit"
	"github.com/JakeFAU/realtime-news-ingest/internal/publisher/pubsub"
	"github.com/JakeFAU/realtime-news-ingest/internal/publisher/sns"
	"github.com/JakeFAU/realtime-news-ingest/internal/publisher/sqs"
	"github.com/JakeFAU/realtime-news-ingest/internal/storage/bolt"
	"github.com/JakeFAU/realtime-news-ingest/internal/storage/gcs"
	"github.com/JakeFAU/realtime-news-ingest/internal/storage/local"
	"github.com/JakeFAU/realtime-news-ingest/internal/storage/postgres"
	"github.com/JakeFAU/realtime-news-ingest/internal/storage/sqlite"
	"github.com/JakeFAU/realtime-news-ingest/internal/telemetry"
)

// EnvPrefix namespaces environment overrides, e.g. NEWSINGEST_SERVER_PORT.
const EnvPrefix = "NEWSINGEST"

// Storage and archive backends.
const (
	BackendMemory   = "memory"
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendNone     = "none"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig     `mapstructure:"server"`
	Upstream UpstreamConfig   `mapstructure:"upstream"`
	Ingest   IngestConfig     `mapstructure:"ingest"`
	Storage  StorageConfig    `mapstructure:"storage"`
	Database postgres.Config  `mapstructure:"database"`
	Bolt     bolt.Config      `mapstructure:"bolt"`
	SQLite   sqlite.Config    `mapstructure:"sqlite"`
	Archive  ArchiveConfig    `mapstructure:"archive"`
	Sinks    SinksConfig      `mapstructure:"sinks"`
	Logging  LoggingConfig    `mapstructure:"logging"`
	Tracing  telemetry.Config `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// UpstreamConfig configures the news API client.
type UpstreamConfig struct {
	APIKey    string           `mapstructure:"api_key"`
	BaseURL   string           `mapstructure:"base_url"`
	Timeout   time.Duration    `mapstructure:"timeout"`
	UserAgent string           `mapstructure:"user_agent"`
	RateLimit ratelimit.Config `mapstructure:"rate_limit"`
}

// IngestConfig governs run defaults and scheduling.
type IngestConfig struct {
	MaxPages   int           `mapstructure:"max_pages"`
	Language   string        `mapstructure:"language"`
	Category   string        `mapstructure:"category"`
	PageDelay  time.Duration `mapstructure:"page_delay"`
	Interval   time.Duration `mapstructure:"interval"`
	RunOnStart bool          `mapstructure:"run_on_start"`
	// MaxPagesLimit bounds max_pages on manually triggered runs.
	MaxPagesLimit int `mapstructure:"max_pages_limit"`
	// IntervalMS mirrors the legacy CRON_INTERVAL_MS variable and wins over
	// Interval when positive.
	IntervalMS int64 `mapstructure:"interval_ms"`
}

// StorageConfig selects the article store backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
}

// ArchiveConfig selects where raw upstream pages are kept.
type ArchiveConfig struct {
	Backend string       `mapstructure:"backend"`
	Prefix  string       `mapstructure:"prefix"`
	Local   local.Config `mapstructure:"local"`
	GCS     gcs.Config   `mapstructure:"gcs"`
}

// SinksConfig toggles run progress sinks.
type SinksConfig struct {
	Log        bool             `mapstructure:"log"`
	Prometheus bool             `mapstructure:"prometheus"`
	BufferSize int              `mapstructure:"buffer_size"`
	BatchSize  int              `mapstructure:"batch_size"`
	BatchWait  time.Duration    `mapstructure:"batch_wait"`
	PubSub     PubSubSinkConfig `mapstructure:"pubsub"`
	SNS        SNSSinkConfig    `mapstructure:"sns"`
	SQS        SQSSinkConfig    `mapstructure:"sqs"`
}

// PubSubSinkConfig publishes run summaries to a Pub/Sub topic.
type PubSubSinkConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	pubsub.Config `mapstructure:",squash"`
	Topic         string `mapstructure:"topic"`
}

// SNSSinkConfig publishes run summaries to an SNS topic.
type SNSSinkConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	sns.Config `mapstructure:",squash"`
	TopicARN   string `mapstructure:"topic_arn"`
}

// SQSSinkConfig sends run summaries to an SQS queue.
type SQSSinkConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	sqs.Config `mapstructure:",squash"`
	QueueURL   string `mapstructure:"queue_url"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// legacyEnv maps config keys onto the environment names used by earlier
// deployments of the service.
var legacyEnv = map[string]string{
	"upstream.api_key":    "NEWSDATA_API_KEY",
	"ingest.language":     "DEFAULT_LANGUAGE",
	"ingest.category":     "DEFAULT_CATEGORIES",
	"ingest.interval_ms":  "CRON_INTERVAL_MS",
	"ingest.run_on_start": "INGEST_ON_START",
	"ingest.max_pages":    "MAX_PAGES",
	"database.dsn":        "DATABASE_URL",
	"server.port":         "PORT",
}

// Load builds a Config from an optional .env file, an optional config file and
// the environment.
func Load(path string) (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyLegacy()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadDotEnv() error {
	file := os.Getenv(EnvPrefix + "_ENV_FILE")
	if file == "" {
		file = ".env"
	}
	if err := godotenv.Load(file); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", file, err)
	}
	return nil
}

func bindLegacyEnv(v *viper.Viper) error {
	for key, env := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("upstream.api_key", "")
	v.SetDefault("upstream.base_url", "https://newsdata.io/api/1/news")
	v.SetDefault("upstream.timeout", 15*time.Second)
	v.SetDefault("upstream.user_agent", "realtime-news-ingest/0.1")
	v.SetDefault("upstream.rate_limit.rps", 1.0)
	v.SetDefault("upstream.rate_limit.burst", 1)
	v.SetDefault("ingest.max_pages", 3)
	v.SetDefault("ingest.max_pages_limit", 20)
	v.SetDefault("ingest.language", "en")
	v.SetDefault("ingest.category", "technology,business")
	v.SetDefault("ingest.page_delay", time.Second)
	v.SetDefault("ingest.interval", time.Hour)
	v.SetDefault("ingest.run_on_start", true)
	v.SetDefault("ingest.interval_ms", 0)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "articles")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("bolt.path", "data/articles.db")
	v.SetDefault("bolt.bucket", "articles")
	v.SetDefault("bolt.open_timeout", time.Second)
	v.SetDefault("sqlite.path", "data/articles.sqlite")
	v.SetDefault("sqlite.busy_timeout", 5*time.Second)
	v.SetDefault("archive.backend", BackendNone)
	v.SetDefault("archive.prefix", "raw")
	v.SetDefault("archive.local.base_dir", "data/raw")
	v.SetDefault("archive.gcs.bucket", "")
	v.SetDefault("archive.gcs.prefix", "")
	v.SetDefault("archive.gcs.credentials_file", "")
	v.SetDefault("sinks.log", true)
	v.SetDefault("sinks.prometheus", true)
	v.SetDefault("sinks.buffer_size", 256)
	v.SetDefault("sinks.batch_size", 64)
	v.SetDefault("sinks.batch_wait", 500*time.Millisecond)
	v.SetDefault("sinks.pubsub.enabled", false)
	v.SetDefault("sinks.pubsub.project_id", "")
	v.SetDefault("sinks.pubsub.credentials_file", "")
	v.SetDefault("sinks.pubsub.topic", "")
	v.SetDefault("sinks.sns.enabled", false)
	v.SetDefault("sinks.sns.region", "")
	v.SetDefault("sinks.sns.access_key_id", "")
	v.SetDefault("sinks.sns.secret_access_key", "")
	v.SetDefault("sinks.sns.topic_arn", "")
	v.SetDefault("sinks.sqs.enabled", false)
	v.SetDefault("sinks.sqs.region", "")
	v.SetDefault("sinks.sqs.access_key_id", "")
	v.SetDefault("sinks.sqs.secret_access_key", "")
	v.SetDefault("sinks.sqs.queue_url", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "newsingest")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

func (c *Config) applyLegacy() {
	if c.Ingest.IntervalMS > 0 {
		c.Ingest.Interval = time.Duration(c.Ingest.IntervalMS) * time.Millisecond
	}
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	c.Archive.Backend = strings.ToLower(strings.TrimSpace(c.Archive.Backend))
	c.Upstream.APIKey = strings.TrimSpace(c.Upstream.APIKey)
}

// Validate enforces required values and reasonable limits. A missing upstream
// API key is allowed; ingestion stays disabled until one is configured.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be > 0")
	}
	if c.Ingest.MaxPages <= 0 {
		return fmt.Errorf("ingest.max_pages must be > 0")
	}
	if c.Ingest.MaxPagesLimit > 0 && c.Ingest.MaxPagesLimit < c.Ingest.MaxPages {
		return fmt.Errorf("ingest.max_pages_limit must be >= ingest.max_pages")
	}
	if c.Ingest.Interval < time.Second {
		return fmt.Errorf("ingest.interval must be at least 1s")
	}
	if c.Ingest.PageDelay < 0 {
		return fmt.Errorf("ingest.page_delay must be >= 0")
	}
	switch c.Storage.Backend {
	case BackendMemory, BackendBolt:
	case BackendSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path must be set for the sqlite backend")
		}
	case BackendPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, bolt, sqlite, postgres", c.Storage.Backend)
	}
	switch c.Archive.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Archive.Local.BaseDir == "" {
			return fmt.Errorf("archive.local.base_dir must be set for the local archive")
		}
	case BackendGCS:
		if c.Archive.GCS.Bucket == "" {
			return fmt.Errorf("archive.gcs.bucket must be set for the gcs archive")
		}
	default:
		return fmt.Errorf("archive.backend %q is not one of none, memory, local, gcs", c.Archive.Backend)
	}
	if c.Sinks.PubSub.Enabled && (c.Sinks.PubSub.ProjectID == "" || c.Sinks.PubSub.Topic == "") {
		return fmt.Errorf("sinks.pubsub.project_id and sinks.pubsub.topic must be set when enabled")
	}
	if c.Sinks.SNS.Enabled && (c.Sinks.SNS.Region == "" || c.Sinks.SNS.TopicARN == "") {
		return fmt.Errorf("sinks.sns.region and sinks.sns.topic_arn must be set when enabled")
	}
	if c.Sinks.SQS.Enabled && (c.Sinks.SQS.Region == "" || c.Sinks.SQS.QueueURL == "") {
		return fmt.Errorf("sinks.sqs.region and sinks.sqs.queue_url must be set when enabled")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	return nil
}

// IngestionEnabled reports whether an upstream API key is configured.
func (c Config) IngestionEnabled() bool {
	return c.Upstream.APIKey != ""
}
