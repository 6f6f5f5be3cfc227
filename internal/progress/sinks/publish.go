package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-ingest/internal/progress"
	"github.com/JakeFAU/realtime-news-ingest/internal/publisher"
)

// PublishSink announces completed runs on a message topic. Only RUN_DONE
// events are published; the payload is the run summary.
type PublishSink struct {
	pub    publisher.Publisher
	topic  string
	logger *zap.Logger
}

// NewPublishSink builds a sink that publishes summaries to topic.
func NewPublishSink(pub publisher.Publisher, topic string, logger *zap.Logger) (*PublishSink, error) {
	if pub == nil {
		return nil, errors.New("publisher is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishSink{pub: pub, topic: topic, logger: logger}, nil
}

// Consume publishes every run summary in the batch. Failures are joined so
// one rejected message does not hide the rest.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	var errs []error
	for _, evt := range batch {
		if evt.Stage != progress.StageRunDone || evt.Summary == nil {
			continue
		}
		attrs := map[string]string{
			"run_id": evt.Summary.RunID,
			"state":  string(evt.Summary.State),
		}
		id, err := s.pub.Publish(ctx, s.topic, evt.Summary, attrs)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish run %s: %w", evt.RunID, err))
			continue
		}
		s.logger.Debug("run summary published", zap.String("run_id", evt.RunID), zap.String("message_id", id))
	}
	return errors.Join(errs...)
}

// Close releases the underlying publisher.
func (s *PublishSink) Close(context.Context) error {
	if err := s.pub.Close(); err != nil {
		return fmt.Errorf("close publisher: %w", err)
	}
	return nil
}
