// Package events publishes observation lifecycle events to an AMQP topic
// exchange. Downstream consumers (reporting, sync, notification) bind queues
// against the topics they care about.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Publisher is the port the observation service emits events through.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload interface{}) error
}

// Envelope is the wire format of every event.
type Envelope struct {
	EventID    string      `json:"event_id"`
	Topic      string      `json:"topic"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// NewEnvelope stamps the payload with a fresh event id and the current time.
func NewEnvelope(topic string, payload interface{}) Envelope {
	return Envelope{
		EventID:    uuid.NewString(),
		Topic:      topic,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// NoopPublisher drops every event. Used when no broker is configured.
type NoopPublisher struct{}

func NewNoopPublisher() *NoopPublisher { return &NoopPublisher{} }

func (*NoopPublisher) Publish(ctx context.Context, topic string, payload interface{}) error {
	return nil
}
