package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-ingest/internal/progress"
)

// LogSink emits structured logs for every run event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields. Page errors
// are logged at warn.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
			zap.Duration("dur", evt.Dur),
		}
		if evt.Page > 0 {
			fields = append(fields, zap.Int("page", evt.Page))
		}
		switch evt.Stage {
		case progress.StagePageDone:
			fields = append(fields,
				zap.Int("articles", evt.Articles),
				zap.Int("inserted", evt.Inserted),
				zap.Int("updated", evt.Updated),
				zap.Int("failed", evt.Failed),
			)
		case progress.StagePageError:
			fields = append(fields, zap.String("error_kind", string(evt.ErrorKind)), zap.String("note", evt.Note))
			s.logger.Warn("progress event", fields...)
			continue
		case progress.StageRunDone:
			if evt.Summary != nil {
				fields = append(fields, zap.String("state", string(evt.Summary.State)), zap.Int("pages", evt.Summary.Pages))
			}
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
