package batch

import (
	"time"

	otellog "go.opentelemetry.io/otel/log"
)

const (
	defaultMaxQueueSize       = 2048
	defaultScheduledDelay     = 1000 * time.Millisecond
	defaultMaxExportBatchSize = 512
	defaultMaxExportTimeout   = 30000 * time.Millisecond
)

type Config struct {
	// MaxQueueSize bounds the number of pending messages. Emits beyond it
	// fail with logging.ErrQueueFull.
	MaxQueueSize int
	// ScheduledDelay is the interval between two timed exports.
	ScheduledDelay time.Duration
	// MaxExportBatchSize is the buffer length that triggers an immediate
	// export.
	MaxExportBatchSize int
	// MaxExportTimeout bounds a single export call.
	MaxExportTimeout time.Duration
	// ExportSeverity is the minimum severity kept in a batch. Records
	// without a severity never pass. Zero means SeverityError.
	ExportSeverity otellog.Severity
	// Unfiltered keeps every record regardless of ExportSeverity.
	Unfiltered bool
}

func DefaultConfig() Config {
	return Config{
		MaxQueueSize:       defaultMaxQueueSize,
		ScheduledDelay:     defaultScheduledDelay,
		MaxExportBatchSize: defaultMaxExportBatchSize,
		MaxExportTimeout:   defaultMaxExportTimeout,
		ExportSeverity:     otellog.SeverityError,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = defaultMaxQueueSize
	}
	if c.ScheduledDelay <= 0 {
		c.ScheduledDelay = defaultScheduledDelay
	}
	if c.MaxExportBatchSize <= 0 {
		c.MaxExportBatchSize = defaultMaxExportBatchSize
	}
	if c.MaxExportTimeout <= 0 {
		c.MaxExportTimeout = defaultMaxExportTimeout
	}
	if c.ExportSeverity == otellog.SeverityUndefined {
		c.ExportSeverity = otellog.SeverityError
	}
	return c
}
