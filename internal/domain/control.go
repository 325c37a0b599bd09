package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	MaxTopicsPerMessage = 100
	MaxTopicLength      = 64
)

// Action is the verb of an inbound control frame.
type Action string

const (
	ActionSubscribe   Action = "subscribe"
	ActionUnsubscribe Action = "unsubscribe"
)

// ControlMessage is an inbound client frame mutating the connection's subscriptions.
type ControlMessage struct {
	Action Action   `json:"action"`
	Topics []string `json:"topics"`
}

// ParseControlMessage decodes and validates a control frame. Topics are trimmed
// and de-duplicated, preserving order.
func ParseControlMessage(data []byte) (ControlMessage, error) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ControlMessage{}, fmt.Errorf("%w: invalid JSON: %v", ErrMalformedControl, err)
	}

	switch msg.Action {
	case ActionSubscribe, ActionUnsubscribe:
	case "":
		return ControlMessage{}, fmt.Errorf("%w: missing action", ErrMalformedControl)
	default:
		return ControlMessage{}, fmt.Errorf("%w: unknown action %q", ErrMalformedControl, msg.Action)
	}

	topics, err := NormalizeTopics(msg.Topics)
	if err != nil {
		return ControlMessage{}, err
	}
	if msg.Action == ActionSubscribe && len(topics) == 0 {
		return ControlMessage{}, fmt.Errorf("%w: subscribe requires at least one topic", ErrMalformedControl)
	}
	msg.Topics = topics
	return msg, nil
}

// NormalizeTopics trims, validates and de-duplicates a topic list.
func NormalizeTopics(raw []string) ([]string, error) {
	if len(raw) > MaxTopicsPerMessage {
		return nil, fmt.Errorf("%w: too many topics (%d > %d)", ErrMalformedControl, len(raw), MaxTopicsPerMessage)
	}

	seen := make(map[string]struct{}, len(raw))
	topics := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.TrimSpace(t)
		if t == "" {
			return nil, fmt.Errorf("%w: empty topic", ErrMalformedControl)
		}
		if len(t) > MaxTopicLength {
			return nil, fmt.Errorf("%w: topic exceeds %d bytes", ErrMalformedControl, MaxTopicLength)
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		topics = append(topics, t)
	}
	return topics, nil
}

// ReplyType tags outbound non-event frames.
type ReplyType string

const (
	ReplySubscribed   ReplyType = "subscribed"
	ReplyUnsubscribed ReplyType = "unsubscribed"
	ReplyError        ReplyType = "error"
)

// ControlReply acknowledges or rejects a control frame.
type ControlReply struct {
	Type   ReplyType `json:"type"`
	Topics []string  `json:"topics,omitempty"`
	Error  string    `json:"error,omitempty"`
}
