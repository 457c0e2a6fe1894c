package datastore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeOK    = "ok"
	outcomeError = "error"
)

// Metrics records per-table operation counts and latencies. A nil *Metrics records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// NewMetrics registers the datastore collectors with registerer.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	metrics := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ipvault",
			Subsystem: "datastore",
			Name:      "operations_total",
			Help:      "Table operations partitioned by table, operation and outcome.",
		}, []string{"table", "operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ipvault",
			Subsystem: "datastore",
			Name:      "operation_duration_seconds",
			Help:      "Latency of table operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"table", "operation"}),
	}
	if registerer != nil {
		for _, collector := range []prometheus.Collector{metrics.operations, metrics.latency} {
			if err := registerer.Register(collector); err != nil {
				return nil, err
			}
		}
	}
	return metrics, nil
}

func (m *Metrics) observe(table, operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := outcomeOK
	if err != nil {
		outcome = outcomeError
	}
	m.operations.WithLabelValues(table, operation, outcome).Inc()
	m.latency.WithLabelValues(table, operation).Observe(time.Since(started).Seconds())
}
