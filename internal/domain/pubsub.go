package domain

import (
	"context"
	"encoding/json"
	"fmt"
)

// Publisher is the producer-facing write entry point.
type Publisher interface {
	Publish(channel, topic string, payload json.RawMessage) PublishResult
}

// Enricher transforms an event payload before fan-out. Implementations should
// honour ctx; the hub enforces its own deadline regardless.
type Enricher interface {
	Enrich(ctx context.Context, event Event) (json.RawMessage, error)
}

// EnricherFunc adapts a function to the Enricher interface.
type EnricherFunc func(ctx context.Context, event Event) (json.RawMessage, error)

func (f EnricherFunc) Enrich(ctx context.Context, event Event) (json.RawMessage, error) {
	return f(ctx, event)
}

// ProducerMessage is the envelope accepted from external producers. Bridges
// that carry the channel out of band leave Channel empty.
type ProducerMessage struct {
	Channel string          `json:"channel,omitempty"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeProducerMessage parses a producer envelope.
func DecodeProducerMessage(data []byte) (ProducerMessage, error) {
	var msg ProducerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ProducerMessage{}, fmt.Errorf("decode producer message: %w", err)
	}
	return msg, nil
}
