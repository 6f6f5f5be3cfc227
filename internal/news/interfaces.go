package news

import (
	"context"
	"io"
	"time"
)

// Fetcher retrieves one page of upstream articles. An empty cursor requests
// the first page.
type Fetcher interface {
	FetchPage(ctx context.Context, apiKey string, query Query, cursor string) (Page, error)
}

// ArticleWriter upserts canonical articles keyed on ExternalID. Each record is
// written independently; a failure on one must not block the others.
type ArticleWriter interface {
	UpsertMany(ctx context.Context, articles []Article) (UpsertResult, error)
}

// ArticleStore is a writer that can also look up and release its resources.
type ArticleStore interface {
	ArticleWriter
	FindByID(ctx context.Context, id string) (Article, error)
	Ping(ctx context.Context) error
	Close() error
}

// BlobStore persists raw upstream payloads.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator creates run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher returns a stable digest for archive object names.
type Hasher interface {
	Hash(data []byte) (string, error)
}
