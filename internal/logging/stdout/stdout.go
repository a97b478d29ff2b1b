// Package stdout writes log batches as JSON lines, one record per line.
package stdout

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Chichichkin/otelbridge/internal/logging"
)

type line struct {
	Timestamp  string            `json:"timestamp"`
	Observed   string            `json:"observed_timestamp,omitempty"`
	Severity   int               `json:"severity_number,omitempty"`
	Level      string            `json:"severity_text,omitempty"`
	Body       string            `json:"body"`
	Target     string            `json:"target,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Resource   map[string]string `json:"resource,omitempty"`
}

type Exporter struct {
	mu  sync.Mutex
	enc *json.Encoder

	resource atomic.Pointer[logging.Resource]
	stopped  atomic.Bool
}

// New returns an exporter writing to w, or to os.Stdout if w is nil.
func New(w io.Writer) *Exporter {
	if w == nil {
		w = os.Stdout
	}
	e := &Exporter{enc: json.NewEncoder(w)}
	e.resource.Store(&logging.Resource{})
	return e
}

func (e *Exporter) Export(ctx context.Context, batch []logging.LogRecord) error {
	if e.stopped.Load() {
		return logging.ErrExporterShutdown
	}
	res := e.resource.Load().Map()

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rec := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.enc.Encode(toLine(rec, res)); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	return nil
}

func (e *Exporter) Shutdown(context.Context) error {
	e.stopped.Store(true)
	return nil
}

func (e *Exporter) SetResource(res logging.Resource) {
	e.resource.Store(&res)
}

func toLine(rec logging.LogRecord, res map[string]string) line {
	l := line{
		Timestamp:  rec.Timestamp.UTC().Format(time.RFC3339Nano),
		Severity:   int(rec.Severity),
		Level:      rec.SeverityText,
		Body:       rec.Body,
		Target:     rec.Target,
		Attributes: rec.Attributes,
	}
	if len(res) > 0 {
		l.Resource = res
	}
	if l.Level == "" {
		l.Level = logging.SeverityText(rec.Severity)
	}
	if !rec.ObservedTimestamp.IsZero() {
		l.Observed = rec.ObservedTimestamp.UTC().Format(time.RFC3339Nano)
	}
	return l
}
