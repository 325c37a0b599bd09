package metrics

import "github.com/prometheus/client_golang/prometheus"

// BridgeMetrics covers the Redis and Postgres producer bridges.
// A nil *BridgeMetrics is valid and records nothing.
type BridgeMetrics struct {
	Messages        *prometheus.CounterVec
	Reconnects      *prometheus.CounterVec
	RedisOps        *prometheus.CounterVec
	RedisOpDuration *prometheus.HistogramVec
	BreakerState    *prometheus.GaugeVec
	BreakerChanges  *prometheus.CounterVec
	DBQueryDuration *prometheus.HistogramVec
	DBErrors        *prometheus.CounterVec
}

func NewBridgeMetrics(reg prometheus.Registerer) *BridgeMetrics {
	m := &BridgeMetrics{
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "messages_total",
			Help:      "Messages received by producer bridges by source and result (published/rejected/invalid).",
		}, []string{"source", "result"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "reconnects_total",
			Help:      "Producer bridge (re)subscription attempts that failed and were retried.",
		}, []string{"source"}),
		RedisOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "operations_total",
			Help:      "Redis commands by name and status.",
		}, []string{"operation", "status"}),
		RedisOpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "operation_duration_seconds",
			Help:      "Redis command latency.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5},
		}, []string{"operation"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state by component (0=closed, 1=half-open, 2=open).",
		}, []string{"component"}),
		BreakerChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Circuit breaker transitions by component and new state.",
		}, []string{"component", "state"}),
		DBQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Postgres statement latency by leading SQL keyword.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
		}, []string{"operation"}),
		DBErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "errors_total",
			Help:      "Failed Postgres statements by leading SQL keyword.",
		}, []string{"operation"}),
	}
	reg.MustRegister(m.Messages, m.Reconnects, m.RedisOps, m.RedisOpDuration,
		m.BreakerState, m.BreakerChanges, m.DBQueryDuration, m.DBErrors)
	return m
}

func (m *BridgeMetrics) Received(source, result string) {
	if m != nil {
		m.Messages.WithLabelValues(source, result).Inc()
	}
}

func (m *BridgeMetrics) Reconnect(source string) {
	if m != nil {
		m.Reconnects.WithLabelValues(source).Inc()
	}
}

func (m *BridgeMetrics) ObserveRedisOp(operation, status string, seconds float64) {
	if m != nil {
		m.RedisOps.WithLabelValues(operation, status).Inc()
		m.RedisOpDuration.WithLabelValues(operation).Observe(seconds)
	}
}

func (m *BridgeMetrics) BreakerChanged(component, state string, value float64) {
	if m != nil {
		m.BreakerChanges.WithLabelValues(component, state).Inc()
		m.BreakerState.WithLabelValues(component).Set(value)
	}
}

func (m *BridgeMetrics) ObserveQuery(operation string, seconds float64, failed bool) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(operation).Observe(seconds)
	if failed {
		m.DBErrors.WithLabelValues(operation).Inc()
	}
}
