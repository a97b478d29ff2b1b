package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	otellog "go.opentelemetry.io/otel/log"

	"github.com/Chichichkin/otelbridge/internal/logging"
)

// Processor buffers log records and exports them in batches through a
// single worker goroutine. Producers only ever touch the queue; the buffer
// and the exporter belong to the worker.
type Processor struct {
	name     string
	exporter logging.Exporter
	config   Config
	queue    chan message
	done     chan struct{}
	// closed is set by the worker before it answers a shutdown, so callers
	// that saw Shutdown return are refused even before done is closed.
	closed atomic.Bool

	errorHandler logging.ErrorHandler
	logger       zerolog.Logger
	allMetrics   *Metrics
	metrics      pipelineMetrics

	startOnce sync.Once
}

type Option func(*Processor)

// WithName sets the pipeline name used in logs and metric labels.
func WithName(name string) Option {
	return func(p *Processor) { p.name = name }
}

// WithErrorHandler sets where failures of implicit exports are reported.
func WithErrorHandler(h logging.ErrorHandler) Option {
	return func(p *Processor) {
		if h != nil {
			p.errorHandler = h
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(p *Processor) {
		if m != nil {
			p.allMetrics = m
		}
	}
}

// NewProcessor creates a processor owning exporter. The worker is not
// running until Start is called; records emitted before that wait in the
// queue.
func NewProcessor(exporter logging.Exporter, config Config, opts ...Option) *Processor {
	config = config.withDefaults()
	p := &Processor{
		name:         "default",
		exporter:     exporter,
		config:       config,
		queue:        make(chan message, config.MaxQueueSize),
		done:         make(chan struct{}),
		errorHandler: logging.DiscardErrors,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.allMetrics == nil {
		p.allMetrics = NewMetrics(nil)
	}
	p.metrics = p.allMetrics.forPipeline(p.name)
	p.logger = p.logger.With().Str("pipeline", p.name).Logger()
	return p
}

func (p *Processor) Start() {
	p.startOnce.Do(func() {
		go p.run()
	})
}

// Enabled reports whether a record of severity sev would be kept.
func (p *Processor) Enabled(sev otellog.Severity) bool {
	if p.config.Unfiltered {
		return true
	}
	return logging.Passes(sev, p.config.ExportSeverity)
}

// Emit queues rec without blocking.
func (p *Processor) Emit(rec logging.LogRecord) error {
	if err := p.enqueue(exportLog{record: rec}); err != nil {
		p.metrics.dropped.Inc()
		return err
	}
	return nil
}

// ForceFlush exports everything buffered so far and waits for the result.
func (p *Processor) ForceFlush(ctx context.Context) error {
	r := newReply()
	if err := p.enqueue(flush{reply: r}); err != nil {
		return err
	}
	return p.await(ctx, r)
}

// Shutdown exports the remaining buffer, shuts the exporter down and stops
// the worker. Messages still queued behind the shutdown are discarded.
func (p *Processor) Shutdown(ctx context.Context) error {
	r := newReply()
	if err := p.enqueue(shutdown{reply: r}); err != nil {
		return err
	}
	return p.await(ctx, r)
}

// SetResource attaches res to all later exports.
func (p *Processor) SetResource(res logging.Resource) {
	if err := p.enqueue(setResource{resource: res}); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to queue resource update")
	}
}

func (p *Processor) enqueue(m message) error {
	if p.closed.Load() {
		return logging.ErrProcessorClosed
	}

	select {
	case p.queue <- m:
		return nil
	default:
		return logging.ErrQueueFull
	}
}

func (p *Processor) await(ctx context.Context, r *reply) error {
	select {
	case err := <-r.ch:
		return err
	case <-p.done:
		// the worker may have answered right before stopping
		select {
		case err := <-r.ch:
			return err
		default:
			return logging.ErrProcessorClosed
		}
	case <-ctx.Done():
		if !r.abandon() {
			return <-r.ch
		}
		return ctx.Err()
	}
}

func (p *Processor) run() {
	defer close(p.done)

	ticker := time.NewTicker(p.config.ScheduledDelay)
	defer ticker.Stop()

	buffer := p.newBuffer()

	for {
		var m message
		// either source may win when both are ready
		select {
		case m = <-p.queue:
		case <-ticker.C:
			m = flush{}
		}

		switch m := m.(type) {
		case exportLog:
			if !p.Enabled(m.record.Severity) {
				p.metrics.filtered.Inc()
				continue
			}
			buffer = append(buffer, m.record)
			p.metrics.accepted.Inc()

			if len(buffer) == p.config.MaxExportBatchSize {
				batch := buffer
				buffer = p.newBuffer()
				if err := p.exportWithTimeout(batch); err != nil {
					p.errorHandler.Handle(err)
				}
			}

		case flush:
			batch := buffer
			buffer = p.newBuffer()
			err := p.exportWithTimeout(batch)
			if m.reply != nil {
				p.respond(m.reply, err, "flush")
			} else if err != nil {
				p.errorHandler.Handle(err)
			}

		case shutdown:
			batch := buffer
			buffer = nil
			err := p.exportWithTimeout(batch)
			if shutdownErr := p.shutdownExporter(); shutdownErr != nil {
				err = errors.Join(err, shutdownErr)
			}
			p.closed.Store(true)
			p.respond(m.reply, err, "shutdown")
			p.logger.Debug().Msg("Log processor stopped")
			return

		case setResource:
			p.exporter.SetResource(m.resource)
		}
	}
}

func (p *Processor) newBuffer() []logging.LogRecord {
	return make([]logging.LogRecord, 0, p.config.MaxExportBatchSize)
}

func (p *Processor) respond(r *reply, err error, op string) {
	if !r.send(err) {
		p.errorHandler.Handle(fmt.Errorf("%s result dropped: %w", op, logging.ErrReplyAbandoned))
		p.logger.Warn().Err(err).Str("op", op).Msg("Caller stopped waiting for result")
	}
}

func (p *Processor) shutdownExporter() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.MaxExportTimeout)
	defer cancel()
	if err := p.exporter.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown exporter: %w", err)
	}
	return nil
}

// exportWithTimeout hands batch to the exporter and waits at most
// MaxExportTimeout. On timeout the attempt is abandoned and the batch is
// lost. The batch must not be reused by the caller afterwards.
func (p *Processor) exportWithTimeout(batch []logging.LogRecord) error {
	if len(batch) == 0 {
		return nil
	}

	timeout := p.config.MaxExportTimeout
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("exporter panicked: %v", r)
			}
		}()
		result <- p.exporter.Export(ctx, batch)
	}()

	select {
	case err := <-result:
		p.metrics.exportDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			p.metrics.exportFailure.Inc()
			return fmt.Errorf("export %d records: %w", len(batch), err)
		}
		p.metrics.exportSuccess.Inc()
		p.logger.Debug().Int("records", len(batch)).Msg("Exported batch")
		return nil
	case <-ctx.Done():
		p.metrics.exportTimeout.Inc()
		return fmt.Errorf("export %d records: %w after %s", len(batch), logging.ErrExportTimeout, timeout)
	}
}
