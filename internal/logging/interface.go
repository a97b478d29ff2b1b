package logging

import (
	"context"
	"errors"
	"time"

	otellog "go.opentelemetry.io/otel/log"
)

var (
	ErrQueueFull        = errors.New("log processor queue is full")
	ErrProcessorClosed  = errors.New("log processor is shut down")
	ErrExportTimeout    = errors.New("export timed out")
	ErrReplyAbandoned   = errors.New("caller abandoned reply")
	ErrExporterShutdown = errors.New("exporter is shut down")
)

// LogRecord is a single log event. It is never mutated after it has been
// handed to a processor.
type LogRecord struct {
	Timestamp         time.Time
	ObservedTimestamp time.Time
	// Severity is SeverityUndefined when the producer did not set one.
	Severity     otellog.Severity
	SeverityText string
	Body         string
	Target       string
	Attributes   map[string]string
}

// Exporter ships a batch of records to one backend. Export must return
// promptly once ctx is done since the processor may abandon the call.
type Exporter interface {
	Export(ctx context.Context, batch []LogRecord) error
	Shutdown(ctx context.Context) error
	SetResource(res Resource)
}

// Emitter accepts records from producers.
type Emitter interface {
	Emit(rec LogRecord) error
}

// Processor is an Emitter with a flush/shutdown lifecycle.
type Processor interface {
	Emitter
	Start()
	ForceFlush(ctx context.Context) error
	Shutdown(ctx context.Context) error
	SetResource(res Resource)
}

// ErrorHandler receives failures that have no caller to return to.
type ErrorHandler interface {
	Handle(err error)
}

type ErrorHandlerFunc func(err error)

func (f ErrorHandlerFunc) Handle(err error) { f(err) }

// DiscardErrors is an ErrorHandler that drops everything.
var DiscardErrors ErrorHandler = ErrorHandlerFunc(func(error) {})
