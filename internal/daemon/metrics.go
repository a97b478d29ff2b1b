package daemon

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "otelbridge"
	metricsSubsystem = "tail"
)

type Metrics struct {
	filesDiscovered prometheus.Counter
	filesProcessed  prometheus.Counter
	filesFailed     prometheus.Counter
	queuedFiles     prometheus.Gauge
	workersBusy     prometheus.Gauge
	linesRead       prometheus.Counter
	linesDropped    prometheus.Counter
}

// NewMetrics creates the daemon collectors and registers them on reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		})
	}

	m := &Metrics{
		filesDiscovered: counter("files_discovered_total", "Distinct log files found under the root path."),
		filesProcessed:  counter("files_processed_total", "Tail sessions that ended."),
		filesFailed:     counter("files_failed_total", "Tail sessions that could not start or panicked."),
		queuedFiles:     gauge("files_queued", "Files waiting for a worker."),
		workersBusy:     gauge("workers_busy", "Workers currently tailing a file."),
		linesRead:       counter("lines_read_total", "Lines read from tailed files."),
		linesDropped:    counter("lines_dropped_total", "Lines the emitter refused."),
	}

	if reg != nil {
		reg.MustRegister(
			m.filesDiscovered,
			m.filesProcessed,
			m.filesFailed,
			m.queuedFiles,
			m.workersBusy,
			m.linesRead,
			m.linesDropped,
		)
	}
	return m
}
