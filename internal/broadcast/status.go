package broadcast

import (
	"sort"
	"time"

	"github.com/pscheid92/marketpulse/internal/domain"
)

// PolicyStatus describes the policies a channel was created with.
type PolicyStatus struct {
	Mode         domain.SubscriptionMode   `json:"mode"`
	Queue        domain.QueuePolicy        `json:"queue"`
	SlowConsumer domain.SlowConsumerPolicy `json:"slow_consumer"`
}

// ChannelStatus is the health view of one channel.
type ChannelStatus struct {
	Connections       int          `json:"connections"`
	MessagesPublished uint64       `json:"messages_published"`
	MessagesSent      uint64       `json:"messages_sent"`
	MessagesDropped   uint64       `json:"messages_dropped"`
	QueueDropped      uint64       `json:"queue_dropped"`
	QueueRejected     uint64       `json:"queue_rejected"`
	EnrichFailures    uint64       `json:"enrich_failures"`
	QueueDepth        int          `json:"queue_depth"`
	QueueCapacity     int          `json:"queue_capacity"`
	Policy            PolicyStatus `json:"policy"`
	LastError         string       `json:"last_error,omitempty"`
}

// Status is a point-in-time snapshot of the whole hub.
type Status struct {
	Channels         map[string]ChannelStatus `json:"channels"`
	TotalConnections int                      `json:"total_connections"`
	ShuttingDown     bool                     `json:"shutting_down"`
	GeneratedAt      time.Time                `json:"generated_at"`
}

// ChannelNames returns the channel names in sorted order.
func (s Status) ChannelNames() []string {
	names := make([]string, 0, len(s.Channels))
	for name := range s.Channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StatusReporter aggregates channel counters and registry sizes into a Status.
type StatusReporter struct {
	hub *Hub
}

func NewStatusReporter(hub *Hub) *StatusReporter {
	return &StatusReporter{hub: hub}
}

// Snapshot is read-only and safe to call concurrently with publishing,
// dispatch and connection churn.
func (r *StatusReporter) Snapshot() Status {
	channels := r.hub.channelList()
	counts := r.hub.registry.Counts()

	status := Status{
		Channels:         make(map[string]ChannelStatus, len(channels)),
		TotalConnections: r.hub.registry.Len(),
		ShuttingDown:     r.hub.ShuttingDown(),
		GeneratedAt:      r.hub.clock.Now().UTC(),
	}
	for _, ch := range channels {
		stats := ch.Stats()
		status.Channels[ch.name] = ChannelStatus{
			Connections:       counts[ch.name],
			MessagesPublished: stats.Published,
			MessagesSent:      stats.Sent,
			MessagesDropped:   stats.Dropped,
			QueueDropped:      stats.QueueDropped,
			QueueRejected:     stats.QueueRejected,
			EnrichFailures:    stats.EnrichFailures,
			QueueDepth:        stats.QueueDepth,
			QueueCapacity:     stats.QueueCapacity,
			Policy: PolicyStatus{
				Mode:         ch.policy.Mode,
				Queue:        ch.policy.QueuePolicy,
				SlowConsumer: ch.policy.SlowConsumer,
			},
			LastError: stats.LastError,
		}
	}
	return status
}
