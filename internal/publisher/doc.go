// Package publisher defines the interface used to announce completed
// ingestion runs on a message topic.
package publisher

import "context"

// Publisher sends a JSON-encodable payload to topic and returns the
// broker-assigned message ID. attrs travel as message attributes where the
// broker supports them.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any, attrs map[string]string) (string, error)
	Close() error
}
