package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides Prometheus-compatible metrics for engine execution,
// grounded on the teacher's graph/metrics.go PrometheusMetrics, generalized
// from the teacher's node/retry/merge vocabulary to this engine's
// node/DLQ/lock vocabulary (all still namespaced "flowengine").
type Metrics struct {
	inflightNodes prometheus.Gauge
	queueDepth    prometheus.Gauge
	stepLatency   *prometheus.HistogramVec
	retries       *prometheus.CounterVec
	dlqAdds       *prometheus.CounterVec
	lockWaits     *prometheus.CounterVec
}

// NewMetrics registers every engine metric with registry (use
// prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() for isolation in tests).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		inflightNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowengine",
			Name:      "inflight_nodes",
			Help:      "Current number of nodes executing concurrently across all runs",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowengine",
			Name:      "ready_queue_depth",
			Help:      "Number of nodes currently ready but not yet dispatched",
		}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flowengine",
			Name:      "node_latency_ms",
			Help:      "Node attempt duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
		}, []string{"node_type", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowengine",
			Name:      "retries_total",
			Help:      "Cumulative count of node retry attempts",
		}, []string{"node_type", "reason"}),
		dlqAdds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowengine",
			Name:      "dlq_entries_total",
			Help:      "Nodes that exhausted their retry budget and were quarantined",
		}, []string{"node_type"}),
		lockWaits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowengine",
			Name:      "lock_unavailable_total",
			Help:      "Decide-loop lock acquisition attempts that found the lock held",
		}, []string{"execution_id"}),
	}
}

func (m *Metrics) recordLatency(nodeType string, d time.Duration, status string) {
	if m == nil {
		return
	}
	m.stepLatency.WithLabelValues(nodeType, status).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) incRetries(nodeType, reason string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(nodeType, reason).Inc()
}

func (m *Metrics) incDLQ(nodeType string) {
	if m == nil {
		return
	}
	m.dlqAdds.WithLabelValues(nodeType).Inc()
}

func (m *Metrics) incLockUnavailable(executionID string) {
	if m == nil {
		return
	}
	m.lockWaits.WithLabelValues(executionID).Inc()
}

func (m *Metrics) setInflight(n int) {
	if m == nil {
		return
	}
	m.inflightNodes.Set(float64(n))
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
