package domain

import (
	"encoding/json"
	"time"
)

// Event is a single published message on a channel. Immutable once published.
type Event struct {
	Channel   string
	Topic     string // empty means no topic
	Payload   json.RawMessage
	Seq       uint64
	Timestamp time.Time
}

// HasTopic reports whether the event carries a topic key.
func (e Event) HasTopic() bool {
	return e.Topic != ""
}

// EventFrame is the outbound wire representation of an Event.
type EventFrame struct {
	Channel string          `json:"channel"`
	Topic   *string         `json:"topic"`
	Seq     uint64          `json:"seq"`
	TS      string          `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

// Frame builds the wire frame for the event using payload, which may differ
// from e.Payload when an enrichment hook rewrote it.
func (e Event) Frame(payload json.RawMessage) EventFrame {
	var topic *string
	if e.HasTopic() {
		t := e.Topic
		topic = &t
	}
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return EventFrame{
		Channel: e.Channel,
		Topic:   topic,
		Seq:     e.Seq,
		TS:      e.Timestamp.UTC().Format(time.RFC3339Nano),
		Payload: payload,
	}
}

// RejectReason explains why a publish was not accepted.
type RejectReason string

const (
	ReasonNone           RejectReason = ""
	ReasonShuttingDown   RejectReason = "shutting_down"
	ReasonInvalidChannel RejectReason = "invalid_channel"
	ReasonQueueFull      RejectReason = "queue_full"
	ReasonInvalidPayload RejectReason = "invalid_payload"
	ReasonInvalidTopic   RejectReason = "invalid_topic"
)

// PublishResult is returned to producers for every publish call.
type PublishResult struct {
	Accepted bool         `json:"accepted"`
	Seq      uint64       `json:"seq,omitempty"`
	Reason   RejectReason `json:"reason,omitempty"`
}
