// Package telemetry assembles one export pipeline per configured target and
// exposes them to producers through an slog.Handler and a plain Emitter.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	otellog "go.opentelemetry.io/otel/log"

	"github.com/Chichichkin/otelbridge/internal/config"
	"github.com/Chichichkin/otelbridge/internal/diag"
	"github.com/Chichichkin/otelbridge/internal/logging"
	"github.com/Chichichkin/otelbridge/internal/logging/batch"
	"github.com/Chichichkin/otelbridge/internal/logging/loki"
	"github.com/Chichichkin/otelbridge/internal/logging/otlp"
	"github.com/Chichichkin/otelbridge/internal/logging/stdout"
	"github.com/Chichichkin/otelbridge/internal/transport"
)

const (
	ProtocolOTLP   = "otlp"
	ProtocolLoki   = "loki"
	ProtocolStdout = "stdout"
)

// TargetError reports a log target that was skipped.
type TargetError struct {
	Index int
	URL   string
	Err   error
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("log target %d (%s): %v", e.Index, e.URL, e.Err)
}

func (e *TargetError) Unwrap() error { return e.Err }

type pipeline struct {
	name      string
	processor *batch.Processor
}

// Otel owns the export pipelines built from a config.
type Otel struct {
	resource  logging.Resource
	pipelines []pipeline
	failed    []*TargetError
	filters   []regexFilter
	levels    logging.LevelFilter
	// lowest threshold of any target, checked before a record is built
	minLevel  otellog.Severity
	echo      *zerolog.Logger
	logger    zerolog.Logger
}

type options struct {
	logger       zerolog.Logger
	registerer   prometheus.Registerer
	errorHandler logging.ErrorHandler
	stdout       io.Writer
	stderr       io.Writer
	hostname     string
}

type Option func(*options)

// WithLogger sets the diagnostics logger used by every pipeline.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegisterer registers the processor counters on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

func WithErrorHandler(h logging.ErrorHandler) Option {
	return func(o *options) { o.errorHandler = h }
}

// WithStdout redirects stdout targets.
func WithStdout(w io.Writer) Option {
	return func(o *options) { o.stdout = w }
}

// WithStderr redirects the echo enabled by emit_logs_to_stderr.
func WithStderr(w io.Writer) Option {
	return func(o *options) { o.stderr = w }
}

func WithHostName(name string) Option {
	return func(o *options) { o.hostname = name }
}

// New builds and starts a pipeline for every log target in cfg. Targets
// that cannot be set up are logged, listed by Failed and skipped; the
// remaining targets still run.
func New(cfg config.Config, opts ...Option) (*Otel, error) {
	o := options{
		logger: zerolog.Nop(),
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	if host, err := os.Hostname(); err == nil {
		o.hostname = host
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.errorHandler == nil {
		o.errorHandler = diag.NewErrorHandler(o.logger)
	}

	levels, err := logging.ParseLevelFilter(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	otel := &Otel{
		resource: buildResource(cfg, o.hostname),
		filters:  compileFilters(cfg.RegexFilters, o.logger),
		levels:   levels,
		minLevel: levels.Lowest(),
		logger:   o.logger,
	}
	if cfg.EmitLogsToStderr {
		echo := zerolog.New(zerolog.ConsoleWriter{Out: o.stderr}).With().
			Str("service", cfg.ServiceName).
			Str("host", o.hostname).
			Logger()
		otel.echo = &echo
	}

	metrics := batch.NewMetrics(o.registerer)
	for i, target := range cfg.LogTargets {
		name := pipelineName(i, target)
		processor, err := newPipeline(name, target, metrics, &o)
		if err != nil {
			te := &TargetError{Index: i, URL: target.URL, Err: err}
			otel.failed = append(otel.failed, te)
			o.logger.Error().Err(err).Str("pipeline", name).Msg("Skipping log target")
			continue
		}
		processor.SetResource(otel.resource)
		processor.Start()
		otel.pipelines = append(otel.pipelines, pipeline{name: name, processor: processor})
		o.logger.Info().Str("pipeline", name).Str("url", target.URL).Msg("Log pipeline started")
	}

	return otel, nil
}

func newPipeline(name string, target config.LogTarget, metrics *batch.Metrics, o *options) (*batch.Processor, error) {
	var threshold otellog.Severity
	unfiltered := target.ExportSeverity == ""
	if !unfiltered {
		var err error
		if threshold, err = logging.ParseSeverity(target.ExportSeverity); err != nil {
			return nil, fmt.Errorf("export severity: %w", err)
		}
	}

	exporter, err := newExporter(target, o)
	if err != nil {
		return nil, err
	}

	return batch.NewProcessor(exporter, batch.Config{
		MaxQueueSize:       target.MaxQueueSize,
		ScheduledDelay:     target.Interval,
		MaxExportBatchSize: target.MaxExportBatchSize,
		MaxExportTimeout:   target.Timeout,
		ExportSeverity:     threshold,
		Unfiltered:         unfiltered,
	},
		batch.WithName(name),
		batch.WithLogger(o.logger),
		batch.WithErrorHandler(o.errorHandler),
		batch.WithMetrics(metrics),
	), nil
}

func newExporter(target config.LogTarget, o *options) (logging.Exporter, error) {
	if target.Protocol == ProtocolStdout {
		return stdout.New(o.stdout), nil
	}

	ch, err := transport.New(transport.Target{
		URL:        target.URL,
		Timeout:    target.Timeout,
		CACertPath: target.CACertPath,
	})
	if err != nil {
		return nil, err
	}

	switch target.Protocol {
	case ProtocolLoki:
		return loki.NewLokiSender(ch, target.MaxRetries, loki.WithLogger(o.logger)), nil
	case "", ProtocolOTLP:
		return otlp.New(ch, otlp.WithLogger(o.logger))
	}
	return nil, fmt.Errorf("unknown protocol %q", target.Protocol)
}

func pipelineName(i int, target config.LogTarget) string {
	protocol := target.Protocol
	if protocol == "" {
		protocol = ProtocolOTLP
	}
	return fmt.Sprintf("%s/%d", protocol, i)
}

// buildResource merges the configured attributes with host and instance
// identity. The configured service name always wins.
func buildResource(cfg config.Config, hostname string) logging.Resource {
	attrs := map[string]string{
		logging.ServiceInstanceIDKey: uuid.NewString(),
	}
	if hostname != "" {
		attrs[logging.HostNameKey] = hostname
	}
	for k, v := range cfg.ResourceAttributes {
		attrs[k] = v
	}
	attrs[logging.ServiceNameKey] = cfg.ServiceName
	return logging.NewResource(attrs)
}

func (o *Otel) Resource() logging.Resource { return o.resource }

// Failed lists the targets that were skipped by New.
func (o *Otel) Failed() []*TargetError { return o.failed }

// Pipelines returns the names of the running pipelines.
func (o *Otel) Pipelines() []string {
	names := make([]string, len(o.pipelines))
	for i, p := range o.pipelines {
		names[i] = p.name
	}
	return names
}

// Emit hands rec to every pipeline unless a disallow filter matches it.
// It never blocks; per-pipeline enqueue failures are joined.
func (o *Otel) Emit(rec logging.LogRecord) error {
	if o.disallowed(rec.Target, rec.Body) {
		return nil
	}
	return o.emit(rec)
}

func (o *Otel) emit(rec logging.LogRecord) error {
	var errs []error
	for _, p := range o.pipelines {
		if err := p.processor.Emit(rec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.name, err))
		}
	}
	return errors.Join(errs...)
}

func (o *Otel) ForceFlush(ctx context.Context) error {
	var errs []error
	for _, p := range o.pipelines {
		if err := p.processor.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", p.name, err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown flushes and stops every pipeline.
func (o *Otel) Shutdown(ctx context.Context) error {
	var errs []error
	for _, p := range o.pipelines {
		if err := p.processor.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", p.name, err))
		}
	}
	return errors.Join(errs...)
}

type regexFilter struct {
	module *regexp.Regexp
	text   *regexp.Regexp
}

func compileFilters(filters []config.RegexFilter, logger zerolog.Logger) []regexFilter {
	var out []regexFilter
	for _, f := range filters {
		module, err := regexp.Compile(f.ModuleRegex)
		if err != nil {
			logger.Warn().Err(err).Str("pattern", f.ModuleRegex).Msg("Ignoring regex filter")
			continue
		}
		text, err := regexp.Compile(f.LogTextRegex)
		if err != nil {
			logger.Warn().Err(err).Str("pattern", f.LogTextRegex).Msg("Ignoring regex filter")
			continue
		}
		out = append(out, regexFilter{module: module, text: text})
	}
	return out
}

func (o *Otel) disallowed(target, body string) bool {
	for _, f := range o.filters {
		if f.module.MatchString(target) && f.text.MatchString(body) {
			return true
		}
	}
	return false
}
