// Package bolt persists articles in an embedded bbolt database file.
package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/JakeFAU/realtime-news-ingest/internal/news"
)

const defaultBucket = "articles"

// Config captures the bbolt file settings.
type Config struct {
	Path        string        `mapstructure:"path"`
	Bucket      string        `mapstructure:"bucket"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

// ArticleStore stores JSON-encoded articles keyed by external id.
type ArticleStore struct {
	db     *bbolt.DB
	bucket []byte
}

// Open creates the database file if needed and ensures the bucket exists.
func Open(cfg Config) (*ArticleStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("bolt path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create bolt directory: %w", err)
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = defaultBucket
	}
	timeout := cfg.OpenTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket %q: %w", bucket, err)
	}
	return &ArticleStore{db: db, bucket: []byte(bucket)}, nil
}

// UpsertMany writes each article in its own transaction so one failure does
// not roll back the others.
func (s *ArticleStore) UpsertMany(ctx context.Context, articles []news.Article) (news.UpsertResult, error) {
	var (
		result news.UpsertResult
		errs   []error
	)
	for _, article := range articles {
		if err := ctx.Err(); err != nil {
			result.Failed++
			errs = append(errs, fmt.Errorf("upsert %s: %w", article.ExternalID, err))
			continue
		}
		inserted, err := s.upsert(article)
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

func (s *ArticleStore) upsert(article news.Article) (bool, error) {
	if strings.TrimSpace(article.ExternalID) == "" {
		return false, errors.New("upsert: article_id is required")
	}
	payload, err := json.Marshal(article)
	if err != nil {
		return false, fmt.Errorf("encode article %s: %w", article.ExternalID, err)
	}
	var inserted bool
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return fmt.Errorf("bucket %q missing", s.bucket)
		}
		key := []byte(article.ExternalID)
		inserted = b.Get(key) == nil
		return b.Put(key, payload)
	})
	if err != nil {
		return false, fmt.Errorf("upsert %s: %w", article.ExternalID, err)
	}
	return inserted, nil
}

// FindByID decodes the stored article.
func (s *ArticleStore) FindByID(_ context.Context, id string) (news.Article, error) {
	var article news.Article
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return news.ErrNotFound
		}
		payload := b.Get([]byte(id))
		if payload == nil {
			return news.ErrNotFound
		}
		return json.Unmarshal(payload, &article)
	})
	if err != nil {
		if errors.Is(err, news.ErrNotFound) {
			return news.Article{}, news.ErrNotFound
		}
		return news.Article{}, fmt.Errorf("find article %s: %w", id, err)
	}
	return article, nil
}

// Count returns the number of stored articles.
func (s *ArticleStore) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(s.bucket); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return n, nil
}

// Ping verifies the database can start a read transaction.
func (s *ArticleStore) Ping(context.Context) error {
	if err := s.db.View(func(*bbolt.Tx) error { return nil }); err != nil {
		return fmt.Errorf("ping bolt db: %w", err)
	}
	return nil
}

// Close releases the database file lock.
func (s *ArticleStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close bolt db: %w", err)
	}
	return nil
}
