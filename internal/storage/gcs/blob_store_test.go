package gcs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesInput(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "raw-pages"})
	require.ErrorContains(t, err, "storage client is required")
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "page.json", objectName("", "/page.json"))
	assert.Equal(t, "newsdata/2024/page.json", objectName("newsdata", "2024/page.json"))
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store := &BlobStore{bucket: "raw-pages"}
	_, err := store.PutObject(context.Background(), " ", "application/json", nil)
	require.ErrorContains(t, err, "path is required")
}
