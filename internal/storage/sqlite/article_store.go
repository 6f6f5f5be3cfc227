// Package sqlite persists articles in a single-file SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Registers the pure-Go "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/realtime-news-ingest/internal/news"
)

// Config captures the SQLite file settings.
type Config struct {
	Path        string        `mapstructure:"path"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

const schema = `
CREATE TABLE IF NOT EXISTS articles (
	article_id   TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	link         TEXT,
	language     TEXT,
	source_id    TEXT,
	datatype     TEXT NOT NULL,
	published_at TEXT,
	fetched_at   TEXT NOT NULL,
	doc          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_articles_published_at ON articles(published_at);
CREATE INDEX IF NOT EXISTS idx_articles_language ON articles(language);
CREATE INDEX IF NOT EXISTS idx_articles_source_id ON articles(source_id);
CREATE INDEX IF NOT EXISTS idx_articles_datatype ON articles(datatype);
`

const upsertSQL = `
INSERT INTO articles (article_id, title, link, language, source_id, datatype, published_at, fetched_at, doc)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(article_id) DO UPDATE SET
	title = excluded.title,
	link = excluded.link,
	language = excluded.language,
	source_id = excluded.source_id,
	datatype = excluded.datatype,
	published_at = excluded.published_at,
	fetched_at = excluded.fetched_at,
	doc = excluded.doc`

// ArticleStore stores articles as JSON documents with a few indexed columns.
type ArticleStore struct {
	db *sql.DB
}

// Open creates the database file and schema if needed.
func Open(ctx context.Context, cfg Config) (*ArticleStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, busy.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single writer connection avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &ArticleStore{db: db}, nil
}

// UpsertMany writes each article in its own transaction so one failure does
// not roll back the others.
func (s *ArticleStore) UpsertMany(ctx context.Context, articles []news.Article) (news.UpsertResult, error) {
	var (
		result news.UpsertResult
		errs   []error
	)
	for _, article := range articles {
		inserted, err := s.upsert(ctx, article)
		if err != nil {
			result.Failed++
			errs = append(errs, err)
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

func (s *ArticleStore) upsert(ctx context.Context, article news.Article) (inserted bool, err error) {
	if strings.TrimSpace(article.ExternalID) == "" {
		return false, errors.New("upsert: article_id is required")
	}
	doc, err := json.Marshal(article)
	if err != nil {
		return false, fmt.Errorf("encode article %s: %w", article.ExternalID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("upsert %s: begin: %w", article.ExternalID, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists int
	if err = tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM articles WHERE article_id = ?`, article.ExternalID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("upsert %s: lookup: %w", article.ExternalID, err)
	}
	if _, err = tx.ExecContext(ctx, upsertSQL,
		article.ExternalID,
		article.Title,
		article.Link,
		article.Language,
		article.SourceID,
		article.Datatype,
		formatTime(article.PublishedAt),
		article.FetchedAt.UTC().Format(time.RFC3339Nano),
		string(doc),
	); err != nil {
		return false, fmt.Errorf("upsert %s: %w", article.ExternalID, err)
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("upsert %s: commit: %w", article.ExternalID, err)
	}
	return exists == 0, nil
}

// FindByID decodes the stored article document.
func (s *ArticleStore) FindByID(ctx context.Context, id string) (news.Article, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM articles WHERE article_id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return news.Article{}, news.ErrNotFound
	}
	if err != nil {
		return news.Article{}, fmt.Errorf("find article %s: %w", id, err)
	}
	var article news.Article
	if err := json.Unmarshal([]byte(doc), &article); err != nil {
		return news.Article{}, fmt.Errorf("decode article %s: %w", id, err)
	}
	return article, nil
}

// Count returns the number of stored articles.
func (s *ArticleStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM articles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return n, nil
}

// Ping checks the database connection.
func (s *ArticleStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite db: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *ArticleStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite db: %w", err)
	}
	return nil
}

func formatTime(ts *time.Time) any {
	if ts == nil {
		return nil
	}
	return ts.UTC().Format(time.RFC3339Nano)
}
