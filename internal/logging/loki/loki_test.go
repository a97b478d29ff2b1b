package loki

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"

	"github.com/Chichichkin/otelbridge/internal/logging"
	"github.com/Chichichkin/otelbridge/internal/testutils"
	"github.com/Chichichkin/otelbridge/internal/transport"
)

func newSender(t *testing.T, url string, maxRetries int, opts ...Option) *Sender {
	t.Helper()
	ch, err := transport.New(transport.Target{URL: url, Timeout: 5 * time.Second})
	require.NoError(t, err)
	opts = append([]Option{WithRetryDelay(time.Millisecond)}, opts...)
	return NewLokiSender(ch, maxRetries, opts...)
}

func TestLokiSender_Export(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)

		assert.Equal(t, "/loki/api/v1/push", r.URL.Path)

		var payload Payload
		err := json.NewDecoder(r.Body).Decode(&payload)
		assert.NoError(t, err)

		assert.Equal(t, 1, len(payload.Streams))
		assert.Equal(t, "svc", payload.Streams[0].Stream["service_name"])
		assert.Equal(t, "error", payload.Streams[0].Stream["level"])

		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sender := newSender(t, server.URL, 3)
	sender.SetResource(logging.NewResource(map[string]string{logging.ServiceNameKey: "svc"}))

	entries := []logging.LogRecord{
		{
			Timestamp:  time.Now(),
			Severity:   otellog.SeverityError,
			Body:       "test message 1",
			Attributes: map[string]string{"pod": "test-pod", "container": "test-container"},
		},
	}

	err := sender.Export(context.Background(), entries)
	assert.NoError(t, err)
}

func TestLokiSender_KeepsTargetPathPrefix(t *testing.T) {
	var gotPath atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sender := newSender(t, server.URL+"/loki-tenant/", 1)
	err := sender.Export(context.Background(), []logging.LogRecord{{Timestamp: time.Now(), Body: "hello"}})
	require.NoError(t, err)

	assert.Equal(t, "/loki-tenant/loki/api/v1/push", gotPath.Load())
}

func TestLokiSender_Export_Retry(t *testing.T) {
	var retryCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if retryCount.Add(1) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sender := newSender(t, server.URL, 3)

	entries := []logging.LogRecord{
		{Timestamp: time.Now(), Body: "test message", Attributes: map[string]string{"pod": "test-pod"}},
	}

	err := sender.Export(context.Background(), entries)
	assert.NoError(t, err)

	assert.Equal(t, int32(2), retryCount.Load())
}

func TestLokiSender_Export_AllRetriesFail(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sender := newSender(t, server.URL, 2)

	entries := []logging.LogRecord{
		{Timestamp: time.Now(), Body: "test message"},
	}

	err := sender.Export(context.Background(), entries)
	assert.ErrorContains(t, err, "status 500")

	assert.Equal(t, int32(2), attempts.Load())
}

func TestLokiSender_Export_ContextCancelStopsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sender := newSender(t, server.URL, 100, WithRetryDelay(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := sender.Export(ctx, []logging.LogRecord{{Timestamp: time.Now(), Body: "x"}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLokiSender_TLS(t *testing.T) {
	caPath, serverTLS := testutils.SelfSignedTLS(t)

	var got atomic.Int32
	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	server.TLS = serverTLS
	server.StartTLS()
	defer server.Close()

	ch, err := transport.New(transport.Target{URL: server.URL, CACertPath: caPath})
	require.NoError(t, err)
	sender := NewLokiSender(ch, 1)

	require.NoError(t, sender.Export(context.Background(), []logging.LogRecord{{Timestamp: time.Now(), Body: "secure"}}))
	assert.Equal(t, int32(1), got.Load())
}

func TestLokiSender_Shutdown(t *testing.T) {
	sender := newSender(t, "http://127.0.0.1:3100", 1)
	require.NoError(t, sender.Shutdown(context.Background()))
	assert.ErrorIs(t, sender.Export(context.Background(), []logging.LogRecord{{Body: "x"}}), logging.ErrExporterShutdown)
}

func TestLokiSender_CreatePayload(t *testing.T) {
	sender := newSender(t, "http://test:3100", 3)

	now := time.Now()
	entries := []logging.LogRecord{
		{
			Timestamp:  now,
			Body:       "message 1",
			Attributes: map[string]string{"pod": "pod-1", "container": "container-1"},
		},
		{
			Timestamp:  now.Add(time.Second),
			Body:       "message 2",
			Attributes: map[string]string{"pod": "pod-1", "container": "container-1"},
		},
		{
			Timestamp:  now.Add(2 * time.Second),
			Body:       "message 3",
			Attributes: map[string]string{"pod": "pod-2", "container": "container-2"},
		},
	}

	payload := sender.createPayload(entries)

	require.Equal(t, 2, len(payload.Streams))
	assert.Equal(t, "pod-1", payload.Streams[0].Stream["pod"])
	assert.Equal(t, 2, len(payload.Streams[0].Values))
	assert.Equal(t, "message 2", payload.Streams[0].Values[1][1])
	assert.Equal(t, "pod-2", payload.Streams[1].Stream["pod"])
	assert.Equal(t, 1, len(payload.Streams[1].Values))
}

func TestLabelName(t *testing.T) {
	assert.Equal(t, "service_name", labelName("service.name"))
	assert.Equal(t, "k8s_pod_uid", labelName("k8s.pod-uid"))
}
