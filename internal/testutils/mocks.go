package testutils

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Chichichkin/otelbridge/internal/logging"
)

// MockExporter records every batch it receives.
type MockExporter struct {
	SentBatches [][]logging.LogRecord
	Resources   []logging.Resource
	mu          sync.Mutex
	ShouldFail  bool
	Delay       time.Duration
	// Started, when set, receives one value per Export call before the
	// call does anything else.
	Started chan struct{}
	// Release, when set, blocks Export until it is closed or receives.
	Release chan struct{}

	ExportCalls   int
	ShutdownCalls int
}

func (m *MockExporter) Export(ctx context.Context, batch []logging.LogRecord) error {
	if m.Started != nil {
		m.Started <- struct{}{}
	}
	if m.Release != nil {
		select {
		case <-m.Release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExportCalls++

	if m.ShouldFail {
		return fmt.Errorf("mock export failed")
	}

	m.SentBatches = append(m.SentBatches, batch)
	return nil
}

func (m *MockExporter) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShutdownCalls++
	return nil
}

func (m *MockExporter) SetResource(res logging.Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Resources = append(m.Resources, res)
}

func (m *MockExporter) GetSentBatches() [][]logging.LogRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]logging.LogRecord, len(m.SentBatches))
	copy(out, m.SentBatches)
	return out
}

// Bodies flattens all exported batches into their record bodies.
func (m *MockExporter) Bodies() []string {
	var bodies []string
	for _, batch := range m.GetSentBatches() {
		for _, rec := range batch {
			bodies = append(bodies, rec.Body)
		}
	}
	return bodies
}

func (m *MockExporter) GetStats() (exports, shutdowns int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ExportCalls, m.ShutdownCalls
}

func (m *MockExporter) GetResources() []logging.Resource {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]logging.Resource, len(m.Resources))
	copy(out, m.Resources)
	return out
}

// MockEmitter collects emitted records.
type MockEmitter struct {
	Records    []logging.LogRecord
	mu         sync.Mutex
	ShouldFail bool
	EmitCalls  int
}

func (m *MockEmitter) Emit(rec logging.LogRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EmitCalls++

	if m.ShouldFail {
		return logging.ErrQueueFull
	}

	m.Records = append(m.Records, rec)
	return nil
}

func (m *MockEmitter) GetRecords() []logging.LogRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]logging.LogRecord, len(m.Records))
	copy(out, m.Records)
	return out
}

// ErrorCollector is a logging.ErrorHandler that keeps what it receives.
type ErrorCollector struct {
	mu   sync.Mutex
	errs []error
}

func (c *ErrorCollector) Handle(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *ErrorCollector) Errors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]error, len(c.errs))
	copy(out, c.errs)
	return out
}

func CreateTempLogStructure(t *testing.T) string {
	tempDir := t.TempDir()

	structure := map[string]string{
		"default_pod-1_uid123/container-1/app.log":          "log content 1\nline 2\n",
		"default_pod-1_uid123/container-2/app.log":          "log content 2\nerror log\n",
		"kube-system_pod-2_uid456/container/app.log":        "log content 3\ninfo message\n",
		"default_pod-3_uid789/container/app.log":            "log content 4\n",
		"monitoring_pod-4_uid101/grafana/grafana.log":       "grafana starting\n",
		"monitoring_pod-4_uid101/prometheus/prometheus.log": "prometheus ready\n",
	}

	for path, content := range structure {
		fullPath := filepath.Join(tempDir, path)
		dir := filepath.Dir(fullPath)

		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create directory %s: %v", dir, err)
		}

		if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write file %s: %v", fullPath, err)
		}
	}

	return tempDir
}
