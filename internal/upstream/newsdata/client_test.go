package newsdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-ingest/internal/news"
)

const testKey = "pub_secret123"

func newTestClient(t *testing.T, handler http.HandlerFunc, limiter Limiter) (*Client, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	client := New(Config{BaseURL: srv.URL, Timeout: 200 * time.Millisecond}, limiter, zap.NewNop())
	return client, &hits
}

func writeBody(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestFetchPageSuccess(t *testing.T) {
	t.Parallel()

	client, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, testKey, q.Get("apikey"))
		assert.Equal(t, "en", q.Get("language"))
		assert.Equal(t, "technology,business", q.Get("category"))
		assert.False(t, q.Has("page"), "first page must not send a cursor")
		writeBody(w, http.StatusOK, `{
			"status": "success",
			"totalResults": 42,
			"results": [
				{"article_id": "a1", "title": "One", "category": "technology"},
				{"article_id": "a2", "title": "Two", "category": ["business", "top"]}
			],
			"nextPage": "cursor-2"
		}`)
	}, nil)

	page, err := client.FetchPage(context.Background(), testKey, news.Query{Language: "en", Category: "technology,business"}, "")
	require.NoError(t, err)
	require.Len(t, page.Articles, 2)
	assert.Equal(t, "a1", page.Articles[0].ArticleID)
	assert.Equal(t, news.StringList{"technology"}, page.Articles[0].Category)
	assert.Equal(t, news.StringList{"business", "top"}, page.Articles[1].Category)
	assert.Equal(t, "cursor-2", page.NextCursor)
	assert.Equal(t, 42, page.TotalResults)
	assert.NotEmpty(t, page.Body)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchPageSendsCursor(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "cursor-2", r.URL.Query().Get("page"))
		writeBody(w, http.StatusOK, `{"status":"success","results":[],"nextPage":null}`)
	}, nil)

	page, err := client.FetchPage(context.Background(), testKey, news.Query{}, "cursor-2")
	require.NoError(t, err)
	assert.Empty(t, page.Articles)
	assert.Empty(t, page.NextCursor)
}

func TestFetchPageNumericCursor(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeBody(w, http.StatusOK, `{"status":"success","results":[{"article_id":"x"}],"nextPage":1717171717}`)
	}, nil)

	page, err := client.FetchPage(context.Background(), testKey, news.Query{}, "")
	require.NoError(t, err)
	assert.Equal(t, "1717171717", page.NextCursor)
}

func TestFetchPageRejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		body        string
		wantCode    string
		wantMessage string
	}{
		{
			name:        "top level details",
			body:        `{"status":"error","code":"RateLimitExceeded","message":"Rate limit exceeded"}`,
			wantCode:    "RateLimitExceeded",
			wantMessage: "Rate limit exceeded",
		},
		{
			name:        "nested details",
			body:        `{"status":"error","results":{"message":"The provided API key is not valid.","code":"Unauthorized"}}`,
			wantCode:    "Unauthorized",
			wantMessage: "The provided API key is not valid.",
		},
		{
			name:        "no details",
			body:        `{"status":"error"}`,
			wantCode:    "",
			wantMessage: `{"status":"error"}`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				writeBody(w, http.StatusOK, tc.body)
			}, nil)

			_, err := client.FetchPage(context.Background(), testKey, news.Query{}, "")
			require.Error(t, err)
			var tagged *news.Error
			require.ErrorAs(t, err, &tagged)
			assert.Equal(t, news.KindUpstreamRejected, tagged.Kind)
			assert.Equal(t, tc.wantCode, tagged.Code)
			assert.Equal(t, tc.wantMessage, tagged.Message)
		})
	}
}

func TestFetchPageHTTPError(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusUnauthorized, http.StatusTooManyRequests, http.StatusBadGateway} {
		client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			writeBody(w, status, `{"status":"error","results":{"message":"nope","code":"X"}}`)
		}, nil)

		_, err := client.FetchPage(context.Background(), testKey, news.Query{}, "")
		var tagged *news.Error
		require.ErrorAs(t, err, &tagged)
		assert.Equal(t, news.KindUpstreamUnavailable, tagged.Kind)
		assert.Equal(t, status, tagged.StatusCode)
		assert.Contains(t, tagged.Message, "nope")
	}
}

func TestFetchPageTimeoutRedactsKey(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		writeBody(w, http.StatusOK, `{"status":"success","results":[]}`)
	}, nil)
	defer close(release)

	_, err := client.FetchPage(context.Background(), testKey, news.Query{}, "")
	require.Error(t, err)
	assert.Equal(t, news.KindUpstreamUnavailable, news.KindOf(err))
	var tagged *news.Error
	require.ErrorAs(t, err, &tagged)
	assert.Zero(t, tagged.StatusCode)
	assert.NotContains(t, err.Error(), testKey)
}

func TestFetchPageMalformedBody(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeBody(w, http.StatusOK, `<html>maintenance</html>`)
	}, nil)

	_, err := client.FetchPage(context.Background(), testKey, news.Query{}, "")
	var tagged *news.Error
	require.ErrorAs(t, err, &tagged)
	assert.Equal(t, news.KindUpstreamRejected, tagged.Kind)
	assert.Equal(t, "malformed_response", tagged.Code)
}

func TestFetchPageMissingKey(t *testing.T) {
	t.Parallel()

	client, hits := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeBody(w, http.StatusOK, `{"status":"success","results":[]}`)
	}, nil)

	_, err := client.FetchPage(context.Background(), "  ", news.Query{}, "")
	require.ErrorIs(t, err, news.ErrMissingCredential)
	assert.Equal(t, news.KindConfiguration, news.KindOf(err))
	assert.Zero(t, hits.Load())
}

type countingLimiter struct {
	calls atomic.Int32
	err   error
}

func (l *countingLimiter) Wait(context.Context) error {
	l.calls.Add(1)
	return l.err
}

func TestFetchPageWaitsOnLimiter(t *testing.T) {
	t.Parallel()

	limiter := &countingLimiter{}
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeBody(w, http.StatusOK, `{"status":"success","results":[]}`)
	}, limiter)

	_, err := client.FetchPage(context.Background(), testKey, news.Query{}, "")
	require.NoError(t, err)
	assert.Equal(t, int32(1), limiter.calls.Load())
}

func TestFetchPageLimiterFailure(t *testing.T) {
	t.Parallel()

	limiter := &countingLimiter{err: context.DeadlineExceeded}
	client, hits := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeBody(w, http.StatusOK, `{"status":"success","results":[]}`)
	}, limiter)

	_, err := client.FetchPage(context.Background(), testKey, news.Query{}, "")
	assert.Equal(t, news.KindUpstreamUnavailable, news.KindOf(err))
	assert.Zero(t, hits.Load())
}

func TestResponseSnippet(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "<empty>", responseSnippet(nil))
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'a'
	}
	got := responseSnippet(long)
	assert.Len(t, got, maxSnippetLen+3)
}
