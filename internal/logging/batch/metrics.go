package batch

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "otelbridge"

// Metrics holds the processor counters, labelled by pipeline name. One
// Metrics value may be shared by several processors.
type Metrics struct {
	recordsAccepted *prometheus.CounterVec
	recordsFiltered *prometheus.CounterVec
	recordsDropped  *prometheus.CounterVec
	batchesExported *prometheus.CounterVec
	exportDuration  *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		recordsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "records_accepted_total",
			Help:      "Log records appended to an export buffer.",
		}, []string{"pipeline"}),
		recordsFiltered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "records_filtered_total",
			Help:      "Log records discarded by the severity filter.",
		}, []string{"pipeline"}),
		recordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "records_dropped_total",
			Help:      "Log records rejected because the queue was full or closed.",
		}, []string{"pipeline"}),
		batchesExported: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "batches_exported_total",
			Help:      "Export attempts by outcome.",
		}, []string{"pipeline", "result"}),
		exportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "export_duration_seconds",
			Help:      "Time spent in export calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"pipeline"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.recordsAccepted,
			m.recordsFiltered,
			m.recordsDropped,
			m.batchesExported,
			m.exportDuration,
		)
	}
	return m
}

// pipelineMetrics is Metrics curried for one processor.
type pipelineMetrics struct {
	accepted       prometheus.Counter
	filtered       prometheus.Counter
	dropped        prometheus.Counter
	exportSuccess  prometheus.Counter
	exportFailure  prometheus.Counter
	exportTimeout  prometheus.Counter
	exportDuration prometheus.Observer
}

func (m *Metrics) forPipeline(name string) pipelineMetrics {
	return pipelineMetrics{
		accepted:       m.recordsAccepted.WithLabelValues(name),
		filtered:       m.recordsFiltered.WithLabelValues(name),
		dropped:        m.recordsDropped.WithLabelValues(name),
		exportSuccess:  m.batchesExported.WithLabelValues(name, "success"),
		exportFailure:  m.batchesExported.WithLabelValues(name, "failure"),
		exportTimeout:  m.batchesExported.WithLabelValues(name, "timeout"),
		exportDuration: m.exportDuration.WithLabelValues(name),
	}
}
