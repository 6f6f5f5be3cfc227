// Package normalizer maps upstream article records onto the canonical
// article shape.
package normalizer

import (
	"bytes"
	"strings"
	"sync"
	"time"
	// Embedded zone database so upstream zone names resolve in minimal images.
	_ "time/tzdata"

	"github.com/JakeFAU/realtime-news-ingest/internal/news"
)

const (
	// UntitledPlaceholder replaces a blank upstream title.
	UntitledPlaceholder = "Untitled"
	// DefaultDatatype is used when the upstream omits the record type.
	DefaultDatatype = "article"
)

var pubDateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Normalize converts raw into a canonical article stamped with fetchedAt. It
// never fails: missing or malformed optional fields are defaulted or dropped.
func Normalize(raw news.RawArticle, fetchedAt time.Time) news.Article {
	title := raw.Title
	if strings.TrimSpace(title) == "" {
		title = UntitledPlaceholder
	}
	sourceName := raw.SourceName
	if strings.TrimSpace(sourceName) == "" {
		sourceName = raw.SourceID
	}
	datatype := raw.Datatype
	if strings.TrimSpace(datatype) == "" {
		datatype = DefaultDatatype
	}

	return news.Article{
		ExternalID:     raw.ArticleID,
		Title:          title,
		Link:           raw.Link,
		Keywords:       toList(raw.Keywords),
		Creators:       toList(raw.Creator),
		VideoURL:       raw.VideoURL,
		Description:    raw.Description,
		Content:        raw.Content,
		PublishedAt:    ParsePublishedAt(raw.PubDate, raw.PubDateTZ),
		PublishedTZ:    raw.PubDateTZ,
		ImageURL:       raw.ImageURL,
		SourceID:       raw.SourceID,
		SourceName:     sourceName,
		SourceURL:      raw.SourceURL,
		SourceIcon:     raw.SourceIcon,
		SourcePriority: copyFloat(raw.SourcePriority),
		Language:       raw.Language,
		Countries:      toList(raw.Country),
		Categories:     toList(raw.Category),
		AITags:         toList(raw.AITag),
		Sentiment:      raw.Sentiment,
		SentimentStats: sentimentStats(raw.SentimentStats),
		AIRegions:      toList(raw.AIRegion),
		AIOrgs:         toList(raw.AIOrg),
		Datatype:       datatype,
		FetchedAt:      fetchedAt,
	}
}

// NormalizeAll normalizes a page of records with a shared fetch instant.
func NormalizeAll(raws []news.RawArticle, fetchedAt time.Time) []news.Article {
	out := make([]news.Article, 0, len(raws))
	for _, raw := range raws {
		out = append(out, Normalize(raw, fetchedAt))
	}
	return out
}

// ParsePublishedAt parses an upstream publication timestamp. The value is read
// in the zone named by tz when it has no offset of its own; unknown zones fall
// back to UTC. Unparsable input yields nil.
func ParsePublishedAt(value, tz string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	loc := location(tz)
	for _, layout := range pubDateLayouts {
		ts, err := time.ParseInLocation(layout, value, loc)
		if err != nil {
			continue
		}
		ts = ts.UTC()
		return &ts
	}
	return nil
}

func toList(values news.StringList) []string {
	out := make([]string, len(values))
	copy(out, values)
	return out
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func sentimentStats(raw []byte) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return append([]byte(nil), trimmed...)
}

var (
	locMu    sync.Mutex
	locCache = map[string]*time.Location{}
)

func location(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" || strings.EqualFold(tz, "UTC") {
		return time.UTC
	}
	locMu.Lock()
	defer locMu.Unlock()
	if loc, ok := locCache[tz]; ok {
		return loc
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	locCache[tz] = loc
	return loc
}
