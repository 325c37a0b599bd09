package metrics

import "github.com/prometheus/client_golang/prometheus"

// BroadcastMetrics holds Prometheus metrics for the channel broadcaster.
// A nil *BroadcastMetrics is valid and records nothing.
type BroadcastMetrics struct {
	EventsPublished    *prometheus.CounterVec
	EventsRejected     *prometheus.CounterVec
	MessagesSent       *prometheus.CounterVec
	MessagesDropped    *prometheus.CounterVec
	QueueDepth         *prometheus.GaugeVec
	Connections        *prometheus.GaugeVec
	HeartbeatEvictions prometheus.Counter
	EnrichFailures     *prometheus.CounterVec
	WriteDuration      prometheus.Histogram
	DispatchDuration   *prometheus.HistogramVec
}

// NewBroadcastMetrics creates and registers broadcaster metrics on the given registry.
func NewBroadcastMetrics(reg prometheus.Registerer) *BroadcastMetrics {
	m := &BroadcastMetrics{
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "events_published_total",
			Help:      "Total events accepted by channel.",
		}, []string{"channel"}),
		EventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "events_rejected_total",
			Help:      "Total publish calls rejected by reason.",
		}, []string{"reason"}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "messages_sent_total",
			Help:      "Total event frames written to client connections.",
		}, []string{"channel"}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "messages_dropped_total",
			Help:      "Total dropped messages by channel and stage (queue/connection/shutdown).",
		}, []string{"channel", "stage"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "queue_depth",
			Help:      "Current number of queued events by channel.",
		}, []string{"channel"}),
		Connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "connections",
			Help:      "Current registered connections by channel.",
		}, []string{"channel"}),
		HeartbeatEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "heartbeat_evictions_total",
			Help:      "Total connections closed after missing heartbeat acknowledgements.",
		}),
		EnrichFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "enrich_failures_total",
			Help:      "Total enrichment fallbacks by channel and cause (timeout/error/circuit_open).",
		}, []string{"channel", "cause"}),
		WriteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "write_duration_seconds",
			Help:      "WebSocket frame write duration in seconds.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
		}),
		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "dispatch_duration_seconds",
			Help:      "Time to enrich and fan out one event.",
			Buckets:   []float64{.00005, .0001, .0005, .001, .005, .01, .05, .1},
		}, []string{"channel"}),
	}

	reg.MustRegister(
		m.EventsPublished,
		m.EventsRejected,
		m.MessagesSent,
		m.MessagesDropped,
		m.QueueDepth,
		m.Connections,
		m.HeartbeatEvictions,
		m.EnrichFailures,
		m.WriteDuration,
		m.DispatchDuration,
	)
	return m
}

func (m *BroadcastMetrics) Published(channel string) {
	if m != nil {
		m.EventsPublished.WithLabelValues(channel).Inc()
	}
}

func (m *BroadcastMetrics) Rejected(reason string) {
	if m != nil {
		m.EventsRejected.WithLabelValues(reason).Inc()
	}
}

func (m *BroadcastMetrics) Sent(channel string, n int) {
	if m != nil && n > 0 {
		m.MessagesSent.WithLabelValues(channel).Add(float64(n))
	}
}

func (m *BroadcastMetrics) Dropped(channel, stage string, n int) {
	if m != nil && n > 0 {
		m.MessagesDropped.WithLabelValues(channel, stage).Add(float64(n))
	}
}

func (m *BroadcastMetrics) SetQueueDepth(channel string, depth int) {
	if m != nil {
		m.QueueDepth.WithLabelValues(channel).Set(float64(depth))
	}
}

func (m *BroadcastMetrics) ConnectionAdded(channel string) {
	if m != nil {
		m.Connections.WithLabelValues(channel).Inc()
	}
}

func (m *BroadcastMetrics) ConnectionRemoved(channel string) {
	if m != nil {
		m.Connections.WithLabelValues(channel).Dec()
	}
}

func (m *BroadcastMetrics) HeartbeatEvicted() {
	if m != nil {
		m.HeartbeatEvictions.Inc()
	}
}

func (m *BroadcastMetrics) EnrichFailed(channel, cause string) {
	if m != nil {
		m.EnrichFailures.WithLabelValues(channel, cause).Inc()
	}
}

func (m *BroadcastMetrics) ObserveWrite(seconds float64) {
	if m != nil {
		m.WriteDuration.Observe(seconds)
	}
}

func (m *BroadcastMetrics) ObserveDispatch(channel string, seconds float64) {
	if m != nil {
		m.DispatchDuration.WithLabelValues(channel).Observe(seconds)
	}
}
