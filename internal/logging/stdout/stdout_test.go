package stdout

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"

	"github.com/Chichichkin/otelbridge/internal/logging"
)

func TestExporter_WritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf)
	e.SetResource(logging.NewResource(map[string]string{logging.ServiceNameKey: "svc"}))

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	batch := []logging.LogRecord{
		{Timestamp: ts, Severity: otellog.SeverityError, Body: "boom", Target: "app::db"},
		{Timestamp: ts, Body: "plain", Attributes: map[string]string{"pod": "p1"}},
	}
	require.NoError(t, e.Export(context.Background(), batch))

	var lines []map[string]any
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)

	assert.Equal(t, "boom", lines[0]["body"])
	assert.Equal(t, "ERROR", lines[0]["severity_text"])
	assert.Equal(t, "app::db", lines[0]["target"])
	assert.Equal(t, "2024-05-01T12:00:00Z", lines[0]["timestamp"])
	assert.Equal(t, map[string]any{"service.name": "svc"}, lines[0]["resource"])

	assert.NotContains(t, lines[1], "severity_text")
	assert.Equal(t, map[string]any{"pod": "p1"}, lines[1]["attributes"])
}

func TestExporter_Shutdown(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf)
	require.NoError(t, e.Shutdown(context.Background()))

	err := e.Export(context.Background(), []logging.LogRecord{{Body: "late"}})
	assert.ErrorIs(t, err, logging.ErrExporterShutdown)
	assert.Zero(t, buf.Len())
}

func TestExporter_CancelledContext(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, e.Export(ctx, []logging.LogRecord{{Body: "x"}}), context.Canceled)
}
