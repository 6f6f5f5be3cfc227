package sinks

import (
	"context"
	"sync"

	"github.com/JakeFAU/realtime-news-ingest/internal/news"
	"github.com/JakeFAU/realtime-news-ingest/internal/progress"
)

// MemorySink records events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []progress.Event
	closed bool
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Consume appends the batch.
func (s *MemorySink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

// Close marks the sink closed.
func (s *MemorySink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Events returns a copy of the recorded events.
func (s *MemorySink) Events() []progress.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]progress.Event(nil), s.events...)
}

// Summaries returns the summaries carried by RUN_DONE events.
func (s *MemorySink) Summaries() []news.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []news.Summary
	for _, evt := range s.events {
		if evt.Stage == progress.StageRunDone && evt.Summary != nil {
			out = append(out, *evt.Summary)
		}
	}
	return out
}

// Closed reports whether Close was called.
func (s *MemorySink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
