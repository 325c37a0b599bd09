package domain

import (
	"fmt"
	"regexp"
)

// SubscriptionMode decides what a connection without topic filters receives.
type SubscriptionMode string

const (
	// ModeBroadcast delivers every event to connections without topic filters.
	ModeBroadcast SubscriptionMode = "broadcast"
	// ModeOptIn delivers only to connections subscribed to the event's topic.
	ModeOptIn SubscriptionMode = "opt_in"
)

// QueuePolicy decides what happens when a channel queue is full.
type QueuePolicy string

const (
	QueueDropOldest QueuePolicy = "drop_oldest"
	QueueDropNewest QueuePolicy = "drop_newest"
)

// SlowConsumerPolicy decides what happens when a connection's outbound buffer is full.
type SlowConsumerPolicy string

const (
	SlowConsumerDropNewest SlowConsumerPolicy = "drop_newest"
	SlowConsumerDisconnect SlowConsumerPolicy = "disconnect"
)

// ChannelPolicy is the per-channel configuration fixed at channel creation.
type ChannelPolicy struct {
	Mode           SubscriptionMode
	QueuePolicy    QueuePolicy
	SlowConsumer   SlowConsumerPolicy
	QueueCapacity  int
	BufferCapacity int
}

// Validate checks capacities and enum values.
func (p ChannelPolicy) Validate() error {
	if p.QueueCapacity <= 0 {
		return fmt.Errorf("queue capacity must be positive, got %d", p.QueueCapacity)
	}
	if p.BufferCapacity <= 0 {
		return fmt.Errorf("buffer capacity must be positive, got %d", p.BufferCapacity)
	}
	switch p.Mode {
	case ModeBroadcast, ModeOptIn:
	default:
		return fmt.Errorf("unknown subscription mode %q", p.Mode)
	}
	switch p.QueuePolicy {
	case QueueDropOldest, QueueDropNewest:
	default:
		return fmt.Errorf("unknown queue policy %q", p.QueuePolicy)
	}
	switch p.SlowConsumer {
	case SlowConsumerDropNewest, SlowConsumerDisconnect:
	default:
		return fmt.Errorf("unknown slow consumer policy %q", p.SlowConsumer)
	}
	return nil
}

var channelNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,63}$`)

// ValidateChannelName rejects names that are empty, too long or contain
// characters outside [a-z0-9_.-].
func ValidateChannelName(name string) error {
	if !channelNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidChannel, name)
	}
	return nil
}
