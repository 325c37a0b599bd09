package domain

import "errors"

var (
	// ErrTransport marks a read or write failure on a client connection.
	ErrTransport = errors.New("connection transport error")
	// ErrQueueFull marks an event rejected or evicted because a bounded buffer was saturated.
	ErrQueueFull = errors.New("queue full")
	// ErrEnrichment marks an enrichment hook that failed, timed out or was short-circuited.
	ErrEnrichment = errors.New("enrichment failed")
	// ErrHeartbeatTimeout marks a connection that missed its liveness probes.
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")
	// ErrInvalidChannel marks an unknown or malformed channel name.
	ErrInvalidChannel = errors.New("invalid channel")
	// ErrMalformedControl marks an inbound control frame that could not be applied.
	ErrMalformedControl = errors.New("malformed control message")
	// ErrShutdownInProgress is returned once the hub has started shutting down.
	ErrShutdownInProgress = errors.New("shutdown in progress")
	// ErrChannelFull is returned when a channel reached its connection limit.
	ErrChannelFull = errors.New("channel connection limit reached")
	// ErrDuplicateConnection is returned when a connection id is registered twice.
	ErrDuplicateConnection = errors.New("connection already registered")
	// ErrClientDisconnect marks a connection closed by the client.
	ErrClientDisconnect = errors.New("client disconnected")
	// ErrSlowConsumer marks a connection evicted by the disconnect backpressure policy.
	ErrSlowConsumer = errors.New("slow consumer evicted")
)
