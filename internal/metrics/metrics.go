// Package metrics provides Prometheus metrics for the stats engine:
// rejection counts, delta-buffer overflow, aggregation duration, and
// store write outcomes (spec.md §7).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	MetricIngestRejectionsTotal   = "ingest_rejections_total"
	MetricIngestStaleTotal        = "ingest_stale_total"
	MetricDeltaOverflowTotal      = "delta_overflow_total"
	MetricAggregationDuration     = "aggregation_duration_seconds"
	MetricStoreErrorsTotal        = "store_errors_total"
)

// Metrics contains Prometheus metrics for the engine. All operations are
// thread-safe.
type Metrics struct {
	ingestRejections   *prometheus.CounterVec
	ingestStale        prometheus.Counter
	deltaOverflow      prometheus.Counter
	aggregationSeconds prometheus.Histogram
	storeErrors        *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them.
func NewMetrics() *Metrics {
	return &Metrics{
		ingestRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricIngestRejectionsTotal,
				Help: "Total number of ingest rejections by kind",
			},
			[]string{"kind"},
		),
		ingestStale: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricIngestStaleTotal,
				Help: "Total number of accepted events whose own timestamp was stale relative to the current minute",
			},
		),
		deltaOverflow: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricDeltaOverflowTotal,
				Help: "Total number of deltas dropped due to delta buffer overflow",
			},
		),
		aggregationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricAggregationDuration,
				Help:    "Histogram of per-minute aggregation tick duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
		),
		storeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricStoreErrorsTotal,
				Help: "Total number of store write errors by kind (store_transient, store_permanent)",
			},
			[]string{"kind"},
		),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors, for testing or a custom
// registry.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ingestRejections,
		m.ingestStale,
		m.deltaOverflow,
		m.aggregationSeconds,
		m.storeErrors,
	}
}

// IncRejection implements sessions.MetricsSink.
func (m *Metrics) IncRejection(kind string) {
	m.ingestRejections.WithLabelValues(kind).Inc()
}

// IncStale implements sessions.MetricsSink.
func (m *Metrics) IncStale() {
	m.ingestStale.Inc()
}

// IncDeltaOverflow implements sessions.MetricsSink.
func (m *Metrics) IncDeltaOverflow(count int) {
	m.deltaOverflow.Add(float64(count))
}

// ObserveAggregationDuration implements aggregator.MetricsSink.
func (m *Metrics) ObserveAggregationDuration(seconds float64) {
	m.aggregationSeconds.Observe(seconds)
}

// IncStoreError implements aggregator.MetricsSink.
func (m *Metrics) IncStoreError(kind string) {
	m.storeErrors.WithLabelValues(kind).Inc()
}
