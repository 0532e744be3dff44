package pool

import "github.com/prometheus/client_golang/prometheus"

// Metrics is an optional set of Prometheus instruments the manager updates
// as it connects and health-probes servers; routing a tool call records
// nothing. The ready-server gauge is refreshed at the start of every
// HealthCheckAll run. Exposing them over HTTP
// is the dashboard surface's job (out of scope here, spec.md §1); this is
// only the instrumentation hook against a caller-supplied Registerer.
type Metrics struct {
	connectAttempts  *prometheus.CounterVec
	healthCheckTotal *prometheus.CounterVec
	toolCallLatency  prometheus.Histogram
	readyServers     prometheus.Gauge
}

// NewMetrics registers the pool manager's instruments against reg. Passing
// a nil Registerer is not supported; callers that don't want metrics
// should simply not call WithMetrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcp_runtime",
			Subsystem: "pool",
			Name:      "connect_attempts_total",
			Help:      "Number of connect attempts made per server, labeled by outcome.",
		}, []string{"server_id", "outcome"}),
		healthCheckTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcp_runtime",
			Subsystem: "pool",
			Name:      "health_checks_total",
			Help:      "Number of health-check probes run per server, labeled by outcome.",
		}, []string{"server_id", "outcome"}),
		toolCallLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mcp_runtime",
			Subsystem: "pool",
			Name:      "health_check_latency_seconds",
			Help:      "Observed health-check probe latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		readyServers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mcp_runtime",
			Subsystem: "pool",
			Name:      "ready_servers",
			Help:      "Number of servers currently in the READY state.",
		}),
	}
	reg.MustRegister(m.connectAttempts, m.healthCheckTotal, m.toolCallLatency, m.readyServers)
	return m
}

func (m *Metrics) recordConnect(serverID, outcome string) {
	if m == nil {
		return
	}
	m.connectAttempts.WithLabelValues(serverID, outcome).Inc()
}

func (m *Metrics) recordHealthCheck(serverID, outcome string, latencySeconds float64) {
	if m == nil {
		return
	}
	m.healthCheckTotal.WithLabelValues(serverID, outcome).Inc()
	if outcome == "success" {
		m.toolCallLatency.Observe(latencySeconds)
	}
}

func (m *Metrics) setReadyServers(n int) {
	if m == nil {
		return
	}
	m.readyServers.Set(float64(n))
}
