// Package newsdata implements the upstream client for the newsdata.io
// latest-news endpoint.
package newsdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-ingest/internal/metrics"
	"github.com/JakeFAU/realtime-news-ingest/internal/news"
)

const (
	// DefaultBaseURL is the public latest-news endpoint.
	DefaultBaseURL = "https://newsdata.io/api/1/news"
	// DefaultTimeout bounds a single page request.
	DefaultTimeout = 15 * time.Second

	statusSuccess = "success"
	maxSnippetLen = 512
)

// Config captures the upstream connection settings.
type Config struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// Limiter paces outgoing requests.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Client fetches pages from the upstream API.
type Client struct {
	http    *resty.Client
	baseURL string
	limiter Limiter
	logger  *zap.Logger
}

// New constructs a Client. A nil limiter disables pacing.
func New(cfg Config, limiter Limiter, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	rc := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if cfg.UserAgent != "" {
		rc.SetHeader("User-Agent", cfg.UserAgent)
	}
	return &Client{
		http:    rc,
		baseURL: baseURL,
		limiter: limiter,
		logger:  logger,
	}
}

type response struct {
	Status       string          `json:"status"`
	TotalResults int             `json:"totalResults"`
	Results      json.RawMessage `json:"results"`
	NextPage     json.RawMessage `json:"nextPage"`
	Code         json.RawMessage `json:"code"`
	Message      json.RawMessage `json:"message"`
}

type errorDetails struct {
	Code    json.RawMessage `json:"code"`
	Message json.RawMessage `json:"message"`
}

// FetchPage requests one page. An empty cursor requests the first page.
func (c *Client) FetchPage(ctx context.Context, apiKey string, query news.Query, cursor string) (news.Page, error) {
	if strings.TrimSpace(apiKey) == "" {
		return news.Page{}, news.ConfigurationError(news.ErrMissingCredential)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return news.Page{}, news.UpstreamUnavailable(0, "", err)
		}
	}

	params := map[string]string{"apikey": apiKey}
	if query.Language != "" {
		params["language"] = query.Language
	}
	if query.Category != "" {
		params["category"] = query.Category
	}
	if cursor != "" {
		params["page"] = cursor
	}

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(c.baseURL)
	if err != nil {
		metrics.ObserveUpstreamRequest("transport_error", time.Since(start))
		return news.Page{}, news.UpstreamUnavailable(0, "", redact(fmt.Errorf("fetch news page: %w", err), apiKey))
	}

	status := resp.StatusCode()
	body := resp.Body()
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		metrics.ObserveUpstreamRequest("http_error", time.Since(start))
		return news.Page{}, news.UpstreamUnavailable(status, responseSnippet(body), nil)
	}

	var payload response
	if err := json.Unmarshal(body, &payload); err != nil {
		metrics.ObserveUpstreamRequest("malformed", time.Since(start))
		return news.Page{}, news.UpstreamRejected("malformed_response", fmt.Sprintf("decode response: %v", err))
	}
	if payload.Status != statusSuccess {
		metrics.ObserveUpstreamRequest("rejected", time.Since(start))
		code, message := payload.errorDetails()
		if message == "" {
			message = responseSnippet(body)
		}
		return news.Page{}, news.UpstreamRejected(code, message)
	}

	var articles []news.RawArticle
	if results := bytes.TrimSpace(payload.Results); len(results) > 0 && !bytes.Equal(results, []byte("null")) {
		if err := json.Unmarshal(results, &articles); err != nil {
			metrics.ObserveUpstreamRequest("malformed", time.Since(start))
			return news.Page{}, news.UpstreamRejected("malformed_response", fmt.Sprintf("decode results: %v", err))
		}
	}
	metrics.ObserveUpstreamRequest("success", time.Since(start))

	page := news.Page{
		Articles:     articles,
		NextCursor:   firstString(payload.NextPage),
		TotalResults: payload.TotalResults,
		Body:         body,
	}
	c.logger.Debug("fetched upstream page",
		zap.Int("articles", len(page.Articles)),
		zap.Int("total_results", page.TotalResults),
		zap.Bool("has_next", page.NextCursor != ""),
		zap.Duration("latency", time.Since(start)),
	)
	return page, nil
}

// errorDetails reads code and message from the top level or from an error
// object nested under results.
func (r response) errorDetails() (string, string) {
	code := firstString(r.Code)
	message := firstString(r.Message)
	if code != "" && message != "" {
		return code, message
	}
	trimmed := bytes.TrimSpace(r.Results)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var nested errorDetails
		if err := json.Unmarshal(trimmed, &nested); err == nil {
			if code == "" {
				code = firstString(nested.Code)
			}
			if message == "" {
				message = firstString(nested.Message)
			}
		}
	}
	return code, message
}

func firstString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var values news.StringList
	if err := json.Unmarshal(raw, &values); err != nil || len(values) == 0 {
		return ""
	}
	return values[0]
}

func responseSnippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxSnippetLen {
		return s[:maxSnippetLen] + "..."
	}
	if s == "" {
		return "<empty>"
	}
	return s
}

// redactedError hides the API key that transport errors echo back in the URL.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }

func (e *redactedError) Unwrap() error { return e.err }

func redact(err error, secret string) error {
	if secret == "" || !strings.Contains(err.Error(), secret) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), secret, "REDACTED"), err: err}
}
