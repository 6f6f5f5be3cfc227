// Package postgres provides the Postgres-backed article store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/realtime-news-ingest/internal/news"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

const defaultTable = "articles"

// Config controls the Postgres connection pool used for article rows.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// ArticleStore upserts canonical articles into a Postgres table.
type ArticleStore struct {
	pool  pool
	table string
}

// NewArticleStore connects to Postgres using cfg.
func NewArticleStore(ctx context.Context, cfg Config) (*ArticleStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := &ArticleStore{pool: p, table: table}
	if cfg.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			p.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewArticleStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewArticleStoreWithPool(p pool, table string) (*ArticleStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ArticleStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// EnsureSchema creates the article table and its indexes when missing.
func (s *ArticleStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.schemaStatements() {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *ArticleStore) schemaStatements() []string {
	prefix := s.table
	if i := strings.LastIndex(prefix, "."); i >= 0 {
		prefix = prefix[i+1:]
	}
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	article_id      TEXT PRIMARY KEY,
	title           TEXT NOT NULL,
	link            TEXT,
	keywords        TEXT[] NOT NULL DEFAULT '{}',
	creator         TEXT[] NOT NULL DEFAULT '{}',
	video_url       TEXT,
	description     TEXT,
	content         TEXT,
	pub_date        TIMESTAMPTZ,
	pub_date_tz     TEXT,
	image_url       TEXT,
	source_id       TEXT,
	source_name     TEXT,
	source_url      TEXT,
	source_icon     TEXT,
	source_priority DOUBLE PRECISION,
	language        TEXT,
	country         TEXT[] NOT NULL DEFAULT '{}',
	category        TEXT[] NOT NULL DEFAULT '{}',
	ai_tag          TEXT[] NOT NULL DEFAULT '{}',
	sentiment       TEXT,
	sentiment_stats JSONB,
	ai_region       TEXT[] NOT NULL DEFAULT '{}',
	ai_org          TEXT[] NOT NULL DEFAULT '{}',
	datatype        TEXT NOT NULL DEFAULT 'article',
	fetched_at      TIMESTAMPTZ NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_pub_date_idx ON %s (pub_date DESC)`, prefix, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_category_idx ON %s USING GIN (category)`, prefix, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_source_id_idx ON %s (source_id)`, prefix, s.table),
	}
}

const articleColumns = `article_id, title, link, keywords, creator, video_url, description, content,
	pub_date, pub_date_tz, image_url, source_id, source_name, source_url, source_icon,
	source_priority, language, country, category, ai_tag, sentiment, sentiment_stats,
	ai_region, ai_org, datatype, fetched_at`

func (s *ArticleStore) upsertQuery() string {
	return fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)
ON CONFLICT (article_id) DO UPDATE SET
	title = EXCLUDED.title,
	link = EXCLUDED.link,
	keywords = EXCLUDED.keywords,
	creator = EXCLUDED.creator,
	video_url = EXCLUDED.video_url,
	description = EXCLUDED.description,
	content = EXCLUDED.content,
	pub_date = EXCLUDED.pub_date,
	pub_date_tz = EXCLUDED.pub_date_tz,
	image_url = EXCLUDED.image_url,
	source_id = EXCLUDED.source_id,
	source_name = EXCLUDED.source_name,
	source_url = EXCLUDED.source_url,
	source_icon = EXCLUDED.source_icon,
	source_priority = EXCLUDED.source_priority,
	language = EXCLUDED.language,
	country = EXCLUDED.country,
	category = EXCLUDED.category,
	ai_tag = EXCLUDED.ai_tag,
	sentiment = EXCLUDED.sentiment,
	sentiment_stats = EXCLUDED.sentiment_stats,
	ai_region = EXCLUDED.ai_region,
	ai_org = EXCLUDED.ai_org,
	datatype = EXCLUDED.datatype,
	fetched_at = EXCLUDED.fetched_at,
	updated_at = now()
RETURNING (xmax = 0) AS inserted`, s.table, articleColumns)
}

// UpsertMany issues one statement per article. A pgx batch would run as a
// single implicit transaction, so failures would not stay independent.
func (s *ArticleStore) UpsertMany(ctx context.Context, articles []news.Article) (news.UpsertResult, error) {
	var (
		result news.UpsertResult
		errs   []error
	)
	if len(articles) == 0 {
		return result, nil
	}
	query := s.upsertQuery()
	for _, article := range articles {
		if strings.TrimSpace(article.ExternalID) == "" {
			result.Failed++
			errs = append(errs, errors.New("upsert: article_id is required"))
			continue
		}
		var inserted bool
		if err := s.pool.QueryRow(ctx, query, upsertArgs(article)...).Scan(&inserted); err != nil {
			result.Failed++
			errs = append(errs, fmt.Errorf("upsert %s: %w", article.ExternalID, err))
			continue
		}
		if inserted {
			result.Inserted++
		} else {
			result.Updated++
		}
	}
	if len(errs) > 0 {
		return result, news.WriteFailure(errors.Join(errs...))
	}
	return result, nil
}

func upsertArgs(a news.Article) []any {
	return []any{
		a.ExternalID,
		a.Title,
		nullString(a.Link),
		nonNil(a.Keywords),
		nonNil(a.Creators),
		nullString(a.VideoURL),
		nullString(a.Description),
		nullString(a.Content),
		nullTime(a.PublishedAt),
		nullString(a.PublishedTZ),
		nullString(a.ImageURL),
		nullString(a.SourceID),
		nullString(a.SourceName),
		nullString(a.SourceURL),
		nullString(a.SourceIcon),
		nullFloat(a.SourcePriority),
		nullString(a.Language),
		nonNil(a.Countries),
		nonNil(a.Categories),
		nonNil(a.AITags),
		nullString(a.Sentiment),
		nullJSON(a.SentimentStats),
		nonNil(a.AIRegions),
		nonNil(a.AIOrgs),
		a.Datatype,
		a.FetchedAt,
	}
}

// FindByID loads one article by external id.
func (s *ArticleStore) FindByID(ctx context.Context, id string) (news.Article, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE article_id = $1`, articleColumns, s.table)
	var (
		a                                                  news.Article
		link, videoURL, description, content, tz, imageURL *string
		sourceID, sourceName, sourceURL, sourceIcon, lang  *string
		sentiment                                          *string
		sentimentStats                                     []byte
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&a.ExternalID, &a.Title, &link, &a.Keywords, &a.Creators, &videoURL, &description, &content,
		&a.PublishedAt, &tz, &imageURL, &sourceID, &sourceName, &sourceURL, &sourceIcon,
		&a.SourcePriority, &lang, &a.Countries, &a.Categories, &a.AITags, &sentiment, &sentimentStats,
		&a.AIRegions, &a.AIOrgs, &a.Datatype, &a.FetchedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return news.Article{}, news.ErrNotFound
		}
		return news.Article{}, fmt.Errorf("find article %s: %w", id, err)
	}
	a.Link = deref(link)
	a.VideoURL = deref(videoURL)
	a.Description = deref(description)
	a.Content = deref(content)
	a.PublishedTZ = deref(tz)
	a.ImageURL = deref(imageURL)
	a.SourceID = deref(sourceID)
	a.SourceName = deref(sourceName)
	a.SourceURL = deref(sourceURL)
	a.SourceIcon = deref(sourceIcon)
	a.Language = deref(lang)
	a.Sentiment = deref(sentiment)
	if len(sentimentStats) > 0 {
		a.SentimentStats = sentimentStats
	}
	return a, nil
}

// Ping checks connectivity.
func (s *ArticleStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *ArticleStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
