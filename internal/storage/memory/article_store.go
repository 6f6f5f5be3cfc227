// Package memory provides in-process stores for development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/realtime-news-ingest/internal/news"
)

// ArticleStore keeps canonical articles in a map keyed by external id.
type ArticleStore struct {
	mu       sync.RWMutex
	articles map[string]news.Article
}

// NewArticleStore creates an empty store.
func NewArticleStore() *ArticleStore {
	return &ArticleStore{articles: make(map[string]news.Article)}
}

// UpsertMany inserts or fully replaces each article. Records are independent:
// a rejected record is counted as failed and the rest are still written.
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
		if strings.TrimSpace(article.ExternalID) == "" {
			result.Failed++
			errs = append(errs, errors.New("upsert: article_id is required"))
			continue
		}
		s.mu.Lock()
		_, exists := s.articles[article.ExternalID]
		s.articles[article.ExternalID] = article.Clone()
		s.mu.Unlock()
		if exists {
			result.Updated++
		} else {
			result.Inserted++
		}
	}
	if len(errs) > 0 {
		return result, news.WriteFailure(errors.Join(errs...))
	}
	return result, nil
}

// FindByID returns a copy of the stored article.
func (s *ArticleStore) FindByID(_ context.Context, id string) (news.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	article, ok := s.articles[id]
	if !ok {
		return news.Article{}, news.ErrNotFound
	}
	return article.Clone(), nil
}

// IDs returns the stored external ids in sorted order.
func (s *ArticleStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.articles))
	for id := range s.articles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len reports the number of stored articles.
func (s *ArticleStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.articles)
}

// Ping always succeeds.
func (s *ArticleStore) Ping(context.Context) error {
	return nil
}

// Close is a no-op.
func (s *ArticleStore) Close() error {
	return nil
}
