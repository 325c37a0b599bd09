package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebSocketMetrics holds Prometheus metrics for the stream endpoint's admission control.
type WebSocketMetrics struct {
	ConnectionsTotal    *prometheus.CounterVec
	ConnectionsRejected *prometheus.CounterVec
	ConnectionDuration  prometheus.Histogram
	UniqueIPs           prometheus.Gauge
}

// NewWebSocketMetrics creates and registers WebSocket metrics on the given registry.
func NewWebSocketMetrics(reg prometheus.Registerer) *WebSocketMetrics {
	m := &WebSocketMetrics{
		ConnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_total",
			Help:      "Total WebSocket connection attempts by result (success/error/rejected).",
		}, []string{"result"}),
		ConnectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_rejected_total",
			Help:      "Total WebSocket connections rejected by reason (rate_limit/ip_limit/global_limit/channel_full/shutting_down).",
		}, []string{"reason"}),
		ConnectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connection_duration_seconds",
			Help:      "WebSocket connection duration in seconds.",
			Buckets:   []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		}),
		UniqueIPs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "unique_ips",
			Help:      "Number of unique IP addresses with active WebSocket connections.",
		}),
	}

	reg.MustRegister(m.ConnectionsTotal, m.ConnectionsRejected, m.ConnectionDuration, m.UniqueIPs)
	return m
}

// Accepted records a stream connection that was attached to the hub.
func (m *WebSocketMetrics) Accepted() {
	if m != nil {
		m.ConnectionsTotal.WithLabelValues("success").Inc()
	}
}

// Failed records an upgrade or attach failure.
func (m *WebSocketMetrics) Failed() {
	if m != nil {
		m.ConnectionsTotal.WithLabelValues("error").Inc()
	}
}

// Rejected records a connection refused before or right after the upgrade.
func (m *WebSocketMetrics) Rejected(reason string) {
	if m != nil {
		m.ConnectionsTotal.WithLabelValues("rejected").Inc()
		m.ConnectionsRejected.WithLabelValues(reason).Inc()
	}
}

func (m *WebSocketMetrics) Closed(seconds float64) {
	if m != nil {
		m.ConnectionDuration.Observe(seconds)
	}
}

func (m *WebSocketMetrics) SetUniqueIPs(n int) {
	if m != nil {
		m.UniqueIPs.Set(float64(n))
	}
}
