package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-news-ingest/internal/news"
)

func openTestStore(t *testing.T) *ArticleStore {
	t.Helper()
	store, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "db", "articles.sqlite")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{})
	require.Error(t, err)
}

func TestUpsertManyInsertsThenReplaces(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	fetched := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	published := fetched.Add(-time.Hour)

	res, err := store.UpsertMany(ctx, []news.Article{
		{ExternalID: "a", Title: "A", Datatype: "article", Categories: []string{"technology"}, PublishedAt: &published, FetchedAt: fetched},
		{ExternalID: "b", Title: "B", Datatype: "article", FetchedAt: fetched},
	})
	require.NoError(t, err)
	assert.Equal(t, news.UpsertResult{Inserted: 2}, res)

	res, err = store.UpsertMany(ctx, []news.Article{
		{ExternalID: "a", Title: "A v2", Datatype: "article", FetchedAt: fetched.Add(time.Hour)},
	})
	require.NoError(t, err)
	assert.Equal(t, news.UpsertResult{Updated: 1}, res)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := store.FindByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "A v2", got.Title)
	assert.Nil(t, got.PublishedAt, "replacement overwrites the whole record")
	assert.True(t, fetched.Add(time.Hour).Equal(got.FetchedAt))
}

func TestUpsertManyCountsInvalidRecords(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	res, err := store.UpsertMany(context.Background(), []news.Article{
		{ExternalID: "ok", Title: "fine", Datatype: "article"},
		{ExternalID: " ", Title: "no id"},
	})
	require.Error(t, err)
	assert.True(t, news.IsKind(err, news.KindWriteFailure))
	assert.Equal(t, news.UpsertResult{Inserted: 1, Failed: 1}, res)
}

func TestFindByIDMissing(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	_, err := store.FindByID(context.Background(), "nope")
	require.ErrorIs(t, err, news.ErrNotFound)
	require.NoError(t, store.Ping(context.Background()))
}
