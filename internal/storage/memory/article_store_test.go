package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JakeFAU/realtime-news-ingest/internal/news"
)

func TestArticleStoreUpsertIsIdempotent(t *testing.T) {
	t.Parallel()

	store := NewArticleStore()
	ctx := context.Background()
	first := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	batch := []news.Article{
		{ExternalID: "a", Title: "A", FetchedAt: first},
		{ExternalID: "b", Title: "B", FetchedAt: first},
	}

	res, err := store.UpsertMany(ctx, batch)
	if err != nil {
		t.Fatalf("UpsertMany() error = %v", err)
	}
	if res.Inserted != 2 || res.Updated != 0 {
		t.Fatalf("unexpected first result %+v", res)
	}

	second := first.Add(time.Hour)
	batch[0].FetchedAt = second
	batch[0].Title = "A v2"
	batch[1].FetchedAt = second
	res, err = store.UpsertMany(ctx, batch)
	if err != nil {
		t.Fatalf("UpsertMany() repeat error = %v", err)
	}
	if res.Inserted != 0 || res.Updated != 2 || res.Upserted() != 2 {
		t.Fatalf("unexpected repeat result %+v", res)
	}
	if store.Len() != 2 {
		t.Fatalf("expected 2 stored articles, got %d", store.Len())
	}

	got, err := store.FindByID(ctx, "a")
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if got.Title != "A v2" || !got.FetchedAt.Equal(second) {
		t.Fatalf("expected full replace with refreshed fetchedAt, got %+v", got)
	}
}

func TestArticleStoreRecordsAreIndependent(t *testing.T) {
	t.Parallel()

	store := NewArticleStore()
	res, err := store.UpsertMany(context.Background(), []news.Article{
		{ExternalID: "ok-1"},
		{ExternalID: ""},
		{ExternalID: "ok-2"},
	})
	if news.KindOf(err) != news.KindWriteFailure {
		t.Fatalf("expected write failure, got %v", err)
	}
	if res.Inserted != 2 || res.Failed != 1 {
		t.Fatalf("expected 2 inserted and 1 failed, got %+v", res)
	}
	if ids := store.IDs(); len(ids) != 2 || ids[0] != "ok-1" || ids[1] != "ok-2" {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestArticleStoreEmptyBatch(t *testing.T) {
	t.Parallel()

	res, err := NewArticleStore().UpsertMany(context.Background(), nil)
	if err != nil || res != (news.UpsertResult{}) {
		t.Fatalf("expected zero result, got %+v err=%v", res, err)
	}
}

func TestArticleStoreFindReturnsCopy(t *testing.T) {
	t.Parallel()

	store := NewArticleStore()
	ctx := context.Background()
	if _, err := store.UpsertMany(ctx, []news.Article{{ExternalID: "x", Keywords: []string{"go"}}}); err != nil {
		t.Fatalf("UpsertMany() error = %v", err)
	}
	got, err := store.FindByID(ctx, "x")
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	got.Keywords[0] = "modified"
	again, _ := store.FindByID(ctx, "x")
	if again.Keywords[0] != "go" {
		t.Fatal("expected FindByID to return a copy")
	}
	if _, err := store.FindByID(ctx, "missing"); !errors.Is(err, news.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
