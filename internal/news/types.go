// Package news defines the domain types shared by the ingestion pipeline.
package news

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Query carries the upstream filter parameters for a run.
type Query struct {
	Language string `json:"language"`
	// Category is a comma-separated list, passed to the upstream verbatim.
	Category string `json:"category"`
}

// StringList decodes an upstream field that may arrive as a scalar, a
// sequence or null.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*l = nil
		return nil
	}
	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return fmt.Errorf("decode string list: %w", err)
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := scalarString(item); ok {
				out = append(out, s)
			}
		}
		*l = out
	case '{':
		*l = nil
	default:
		s, ok := scalarString(trimmed)
		if !ok || s == "" {
			*l = nil
			return nil
		}
		*l = StringList{s}
	}
	return nil
}

func scalarString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", false
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return "", false
		}
		return strconv.FormatBool(b), true
	case 'n', '[', '{':
		return "", false
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", false
		}
		return n.String(), true
	}
}

// RawArticle is one record as returned by the upstream news API.
type RawArticle struct {
	ArticleID      string          `json:"article_id"`
	Title          string          `json:"title"`
	Link           string          `json:"link"`
	Keywords       StringList      `json:"keywords"`
	Creator        StringList      `json:"creator"`
	VideoURL       string          `json:"video_url"`
	Description    string          `json:"description"`
	Content        string          `json:"content"`
	PubDate        string          `json:"pubDate"`
	PubDateTZ      string          `json:"pubDateTZ"`
	ImageURL       string          `json:"image_url"`
	SourceID       string          `json:"source_id"`
	SourceName     string          `json:"source_name"`
	SourceURL      string          `json:"source_url"`
	SourceIcon     string          `json:"source_icon"`
	SourcePriority *float64        `json:"source_priority"`
	Language       string          `json:"language"`
	Country        StringList      `json:"country"`
	Category       StringList      `json:"category"`
	AITag          StringList      `json:"ai_tag"`
	Sentiment      string          `json:"sentiment"`
	SentimentStats json.RawMessage `json:"sentiment_stats"`
	AIRegion       StringList      `json:"ai_region"`
	AIOrg          StringList      `json:"ai_org"`
	Datatype       string          `json:"datatype"`
}

// UnmarshalJSON tolerates non-string values in the scalar text fields, which
// the upstream occasionally sends as numbers or booleans.
func (r *RawArticle) UnmarshalJSON(data []byte) error {
	type plain RawArticle
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode article: %w", err)
	}
	for key, value := range fields {
		switch key {
		case "keywords", "creator", "country", "category", "ai_tag", "ai_region", "ai_org",
			"sentiment_stats", "source_priority":
			continue
		}
		trimmed := bytes.TrimSpace(value)
		s, ok := scalarString(trimmed)
		switch {
		case !ok:
			delete(fields, key)
		case trimmed[0] != '"':
			fields[key] = json.RawMessage(strconv.Quote(s))
		}
	}
	if v, ok := fields["source_priority"]; ok {
		var n float64
		if err := json.Unmarshal(v, &n); err != nil {
			delete(fields, "source_priority")
		}
	}
	normalized, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("re-encode article: %w", err)
	}
	var out plain
	if err := json.Unmarshal(normalized, &out); err != nil {
		return fmt.Errorf("decode article: %w", err)
	}
	*r = RawArticle(out)
	return nil
}

// Page is one upstream response page.
type Page struct {
	Articles     []RawArticle
	NextCursor   string
	TotalResults int
	// Body is the undecoded response, kept for archiving.
	Body []byte
}

// Article is the canonical stored record, unique on ExternalID.
type Article struct {
	ExternalID     string          `json:"article_id"`
	Title          string          `json:"title"`
	Link           string          `json:"link,omitempty"`
	Keywords       []string        `json:"keywords"`
	Creators       []string        `json:"creator"`
	VideoURL       string          `json:"video_url,omitempty"`
	Description    string          `json:"description,omitempty"`
	Content        string          `json:"content,omitempty"`
	PublishedAt    *time.Time      `json:"pubDate,omitempty"`
	PublishedTZ    string          `json:"pubDateTZ,omitempty"`
	ImageURL       string          `json:"image_url,omitempty"`
	SourceID       string          `json:"source_id,omitempty"`
	SourceName     string          `json:"source_name,omitempty"`
	SourceURL      string          `json:"source_url,omitempty"`
	SourceIcon     string          `json:"source_icon,omitempty"`
	SourcePriority *float64        `json:"source_priority,omitempty"`
	Language       string          `json:"language,omitempty"`
	Countries      []string        `json:"country"`
	Categories     []string        `json:"category"`
	AITags         []string        `json:"ai_tag"`
	Sentiment      string          `json:"sentiment,omitempty"`
	SentimentStats json.RawMessage `json:"sentiment_stats,omitempty"`
	AIRegions      []string        `json:"ai_region"`
	AIOrgs         []string        `json:"ai_org"`
	Datatype       string          `json:"datatype"`
	FetchedAt      time.Time       `json:"fetchedAt"`
}

// UpsertResult counts the outcome of a batch upsert.
type UpsertResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Failed   int `json:"failed"`
}

// Upserted returns the number of records written, new or replaced.
func (r UpsertResult) Upserted() int {
	return r.Inserted + r.Updated
}

// Add accumulates another result.
func (r *UpsertResult) Add(other UpsertResult) {
	r.Inserted += other.Inserted
	r.Updated += other.Updated
	r.Failed += other.Failed
}

// RunState enumerates the lifecycle of an ingestion run.
type RunState string

// Run states.
const (
	StateIdle      RunState = "idle"
	StatePaging    RunState = "paging"
	StateExhausted RunState = "exhausted"
	StateAborted   RunState = "aborted"
	// StateCapped marks a run that stopped at the page cap with a cursor left.
	StateCapped RunState = "capped"
)

// Terminal reports whether the state ends a run.
func (s RunState) Terminal() bool {
	switch s {
	case StateExhausted, StateAborted, StateCapped:
		return true
	default:
		return false
	}
}

// Summary reports the outcome of one ingestion run.
type Summary struct {
	RunID         string    `json:"run_id"`
	State         RunState  `json:"state"`
	Pages         int       `json:"pages"`
	Fetched       int       `json:"fetched"`
	Upserted      int       `json:"upserted"`
	Inserted      int       `json:"inserted"`
	Updated       int       `json:"updated"`
	Skipped       int       `json:"skipped"`
	Errors        int       `json:"errors"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorKind ErrorKind `json:"last_error_kind,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"timestamp"`
}

// Duration returns the wall time of the run.
func (s Summary) Duration() time.Duration {
	if s.CompletedAt.IsZero() || s.StartedAt.IsZero() {
		return 0
	}
	return s.CompletedAt.Sub(s.StartedAt)
}

// Clone returns a deep copy of a.
func (a Article) Clone() Article {
	out := a
	out.Keywords = cloneStrings(a.Keywords)
	out.Creators = cloneStrings(a.Creators)
	out.Countries = cloneStrings(a.Countries)
	out.Categories = cloneStrings(a.Categories)
	out.AITags = cloneStrings(a.AITags)
	out.AIRegions = cloneStrings(a.AIRegions)
	out.AIOrgs = cloneStrings(a.AIOrgs)
	if a.PublishedAt != nil {
		ts := *a.PublishedAt
		out.PublishedAt = &ts
	}
	if a.SourcePriority != nil {
		p := *a.SourcePriority
		out.SourcePriority = &p
	}
	if a.SentimentStats != nil {
		out.SentimentStats = append(json.RawMessage(nil), a.SentimentStats...)
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
