package news

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringListUnmarshal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "scalar", input: `"technology"`, want: []string{"technology"}},
		{name: "sequence", input: `["a","b"]`, want: []string{"a", "b"}},
		{name: "null", input: `null`, want: nil},
		{name: "empty string", input: `""`, want: nil},
		{name: "empty sequence", input: `[]`, want: []string{}},
		{name: "mixed sequence", input: `[1,"x",null,true]`, want: []string{"1", "x", "true"}},
		{name: "number scalar", input: `42`, want: []string{"42"}},
		{name: "object", input: `{"a":1}`, want: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var got StringList
			require.NoError(t, json.Unmarshal([]byte(tc.input), &got))
			assert.Equal(t, tc.want, []string(got))
		})
	}
}

func TestRawArticleToleratesLooseTypes(t *testing.T) {
	t.Parallel()

	payload := `{
		"article_id": "a1",
		"title": 123,
		"description": null,
		"keywords": "ai",
		"creator": ["Jane", "John"],
		"source_priority": "high",
		"sentiment_stats": {"positive": 0.5},
		"pubDate": "2024-05-01 10:00:00"
	}`

	var raw RawArticle
	require.NoError(t, json.Unmarshal([]byte(payload), &raw))
	assert.Equal(t, "a1", raw.ArticleID)
	assert.Equal(t, "123", raw.Title)
	assert.Empty(t, raw.Description)
	assert.Equal(t, StringList{"ai"}, raw.Keywords)
	assert.Equal(t, StringList{"Jane", "John"}, raw.Creator)
	assert.Nil(t, raw.SourcePriority)
	assert.JSONEq(t, `{"positive":0.5}`, string(raw.SentimentStats))
	assert.Equal(t, "2024-05-01 10:00:00", raw.PubDate)
}

func TestRawArticleSourcePriority(t *testing.T) {
	t.Parallel()

	var raw RawArticle
	require.NoError(t, json.Unmarshal([]byte(`{"article_id":"a","source_priority":1200}`), &raw))
	require.NotNil(t, raw.SourcePriority)
	assert.InDelta(t, 1200.0, *raw.SourcePriority, 1e-9)
}

func TestSummaryDuration(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Summary{StartedAt: start, CompletedAt: start.Add(3 * time.Second)}
	assert.Equal(t, 3*time.Second, s.Duration())
	assert.Zero(t, Summary{}.Duration())
}

func TestRunStateTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, StateIdle.Terminal())
	assert.False(t, StatePaging.Terminal())
	assert.True(t, StateExhausted.Terminal())
	assert.True(t, StateAborted.Terminal())
	assert.True(t, StateCapped.Terminal())
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "untagged", err: errors.New("boom"), want: KindUnknown},
		{name: "configuration", err: ConfigurationError(ErrMissingCredential), want: KindConfiguration},
		{name: "rejected", err: UpstreamRejected("RateLimitExceeded", "too many"), want: KindUpstreamRejected},
		{name: "unavailable", err: UpstreamUnavailable(502, "bad gateway", nil), want: KindUpstreamUnavailable},
		{
			name: "wrapped write failure",
			err:  fmt.Errorf("page 2: %w", WriteFailure(errors.New("disk full"))),
			want: KindWriteFailure,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestErrorCarriesUpstreamDetails(t *testing.T) {
	t.Parallel()

	err := UpstreamRejected("Unauthorized", "invalid key")
	var tagged *Error
	require.ErrorAs(t, err, &tagged)
	assert.Equal(t, "Unauthorized", tagged.Code)
	assert.Equal(t, "invalid key", tagged.Message)
	assert.Contains(t, err.Error(), "invalid key")

	err = UpstreamUnavailable(503, "", errors.New("service unavailable"))
	require.ErrorAs(t, err, &tagged)
	assert.Equal(t, 503, tagged.StatusCode)
	assert.Contains(t, err.Error(), "503")

	err = ConfigurationError(ErrMissingCredential)
	assert.ErrorIs(t, err, ErrMissingCredential)
	assert.True(t, IsKind(err, KindConfiguration))
}

func TestUpsertResultAdd(t *testing.T) {
	t.Parallel()

	total := UpsertResult{Inserted: 1}
	total.Add(UpsertResult{Inserted: 2, Updated: 3, Failed: 1})
	assert.Equal(t, UpsertResult{Inserted: 3, Updated: 3, Failed: 1}, total)
	assert.Equal(t, 6, total.Upserted())
}
