package otlp

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	"google.golang.org/grpc"

	"github.com/Chichichkin/otelbridge/internal/logging"
	"github.com/Chichichkin/otelbridge/internal/transport"
)

const defaultCallTimeout = 10 * time.Second

// Exporter sends batches to an OTLP/gRPC logs collector.
type Exporter struct {
	conn     *grpc.ClientConn
	client   collogspb.LogsServiceClient
	endpoint string
	timeout  time.Duration
	logger   zerolog.Logger

	resource atomic.Pointer[logging.Resource]
	stopped  atomic.Bool
	stopOnce sync.Once
}

type Option func(*Exporter)

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Exporter) { e.logger = logger }
}

// New creates the gRPC client for ch. The connection is established on the
// first export.
func New(ch *transport.Channel, opts ...Option) (*Exporter, error) {
	conn, err := grpc.NewClient(ch.GRPCTarget(), ch.DialOptions()...)
	if err != nil {
		return nil, fmt.Errorf("create grpc client for %s: %w", ch.Endpoint(), err)
	}

	e := &Exporter{
		conn:     conn,
		client:   collogspb.NewLogsServiceClient(conn),
		endpoint: ch.Endpoint(),
		timeout:  ch.Timeout(),
		logger:   zerolog.Nop(),
	}
	if e.timeout <= 0 {
		e.timeout = defaultCallTimeout
	}
	for _, opt := range opts {
		opt(e)
	}
	e.resource.Store(&logging.Resource{})
	return e, nil
}

func (e *Exporter) Export(ctx context.Context, batch []logging.LogRecord) error {
	if e.stopped.Load() {
		return logging.ErrExporterShutdown
	}
	if len(batch) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req := buildRequest(*e.resource.Load(), batch)
	resp, err := e.client.Export(ctx, req)
	if err != nil {
		return fmt.Errorf("otlp export to %s: %w", e.endpoint, err)
	}

	if ps := resp.GetPartialSuccess(); ps.GetRejectedLogRecords() > 0 {
		e.logger.Warn().
			Int64("rejected", ps.GetRejectedLogRecords()).
			Str("reason", ps.GetErrorMessage()).
			Str("endpoint", e.endpoint).
			Msg("Collector rejected part of a batch")
	}
	return nil
}

func (e *Exporter) Shutdown(ctx context.Context) error {
	var err error
	e.stopOnce.Do(func() {
		e.stopped.Store(true)
		err = e.conn.Close()
	})
	return err
}

func (e *Exporter) SetResource(res logging.Resource) {
	e.resource.Store(&res)
}

// buildRequest groups records into one scope per target, in order of first
// appearance, keeping record order within a scope.
func buildRequest(res logging.Resource, batch []logging.LogRecord) *collogspb.ExportLogsServiceRequest {
	var scopes []*logspb.ScopeLogs
	byTarget := make(map[string]*logspb.ScopeLogs)

	for _, rec := range batch {
		scope, ok := byTarget[rec.Target]
		if !ok {
			scope = &logspb.ScopeLogs{
				Scope: &commonpb.InstrumentationScope{Name: rec.Target},
			}
			byTarget[rec.Target] = scope
			scopes = append(scopes, scope)
		}
		scope.LogRecords = append(scope.LogRecords, toProto(rec))
	}

	return &collogspb.ExportLogsServiceRequest{
		ResourceLogs: []*logspb.ResourceLogs{{
			Resource:  toProtoResource(res),
			ScopeLogs: scopes,
		}},
	}
}

func toProto(rec logging.LogRecord) *logspb.LogRecord {
	observed := rec.ObservedTimestamp
	if observed.IsZero() {
		observed = rec.Timestamp
	}
	return &logspb.LogRecord{
		TimeUnixNano:         unixNano(rec.Timestamp),
		ObservedTimeUnixNano: unixNano(observed),
		SeverityNumber:       logspb.SeverityNumber(rec.Severity),
		SeverityText:         rec.SeverityText,
		Body:                 stringValue(rec.Body),
		Attributes:           keyValues(rec.Attributes),
	}
}

func toProtoResource(res logging.Resource) *resourcepb.Resource {
	attrs := res.Attributes()
	kvs := make([]*commonpb.KeyValue, 0, len(attrs))
	for _, kv := range attrs {
		kvs = append(kvs, &commonpb.KeyValue{
			Key:   string(kv.Key),
			Value: stringValue(kv.Value.Emit()),
		})
	}
	return &resourcepb.Resource{Attributes: kvs}
}

func keyValues(attrs map[string]string) []*commonpb.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kvs := make([]*commonpb.KeyValue, 0, len(keys))
	for _, k := range keys {
		kvs = append(kvs, &commonpb.KeyValue{Key: k, Value: stringValue(attrs[k])})
	}
	return kvs
}

func stringValue(s string) *commonpb.AnyValue {
	return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: s}}
}

func unixNano(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano())
}
