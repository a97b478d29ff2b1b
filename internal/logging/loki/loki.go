package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Chichichkin/otelbridge/internal/logging"
	"github.com/Chichichkin/otelbridge/internal/transport"
)

const pushPath = "/loki/api/v1/push"

// Sender pushes batches to Loki's HTTP push API.
type Sender struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	logger     zerolog.Logger

	resource atomic.Pointer[logging.Resource]
	stopped  atomic.Bool
}

type Stream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

type Payload struct {
	Streams []Stream `json:"streams"`
}

type Option func(*Sender)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Sender) { s.logger = logger }
}

// WithRetryDelay sets the base delay between attempts; attempt n waits n
// times the base.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Sender) { s.retryDelay = d }
}

// NewLokiSender builds a sender for ch. The scheme of the original target
// decides whether requests go over TLS.
func NewLokiSender(ch *transport.Channel, maxRetries int, opts ...Option) *Sender {
	if maxRetries < 1 {
		maxRetries = 1
	}
	timeout := ch.Timeout()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	scheme := "http"
	httpTransport := http.DefaultTransport.(*http.Transport).Clone()
	if tlsConfig := ch.TLSConfig(); tlsConfig != nil {
		scheme = "https"
		httpTransport.TLSClientConfig = tlsConfig
	}

	s := &Sender{
		baseURL: scheme + "://" + ch.Address() + ch.Path(),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: httpTransport,
		},
		maxRetries: maxRetries,
		retryDelay: time.Second,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resource.Store(&logging.Resource{})
	return s
}

func (ls *Sender) Export(ctx context.Context, entries []logging.LogRecord) error {
	if ls.stopped.Load() {
		return logging.ErrExporterShutdown
	}
	if len(entries) == 0 {
		return nil
	}

	payload := ls.createPayload(entries)
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	for i := 0; i < ls.maxRetries; i++ {
		err = ls.sendRequest(ctx, body)
		if err == nil {
			ls.logger.Debug().Int("entries", len(entries)).Msg("Sent batch to Loki")
			return nil
		}

		if i < ls.maxRetries-1 {
			ls.logger.Warn().Err(err).Msgf("Retry %d/%d", i+1, ls.maxRetries)
			select {
			case <-time.After(time.Duration(i+1) * ls.retryDelay):
			case <-ctx.Done():
				return fmt.Errorf("loki push abandoned: %w", ctx.Err())
			}
		}
	}

	return fmt.Errorf("failed to send batch after %d attempts: %w", ls.maxRetries, err)
}

func (ls *Sender) Shutdown(ctx context.Context) error {
	ls.stopped.Store(true)
	ls.httpClient.CloseIdleConnections()
	return nil
}

func (ls *Sender) SetResource(res logging.Resource) {
	ls.resource.Store(&res)
}

func (ls *Sender) createPayload(entries []logging.LogRecord) Payload {
	base := ls.resource.Load().Map()
	streams := make(map[string]*Stream)
	var order []string

	for _, entry := range entries {
		labels := createLabels(base, entry)
		streamKey := getStreamKey(labels)
		stream, exists := streams[streamKey]
		if !exists {
			// initializing new stream
			stream = &Stream{Stream: labels, Values: [][2]string{}}
			streams[streamKey] = stream
			order = append(order, streamKey)
		}

		timestamp := fmt.Sprintf("%d", entry.Timestamp.UnixNano())
		stream.Values = append(stream.Values, [2]string{timestamp, entry.Body})
	}

	payload := Payload{
		Streams: make([]Stream, 0, len(streams)),
	}
	for _, key := range order {
		payload.Streams = append(payload.Streams, *streams[key])
	}

	return payload
}

func getStreamKey(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte(',')
	}
	return b.String()
}

// createLabels turns resource attributes and record fields into Loki
// labels. Loki label names cannot contain dots.
func createLabels(resource map[string]string, entry logging.LogRecord) map[string]string {
	labels := map[string]string{
		"job": "otelbridge",
	}
	for k, v := range resource {
		labels[labelName(k)] = v
	}
	for k, v := range entry.Attributes {
		labels[labelName(k)] = v
	}
	if entry.Target != "" {
		labels["target"] = entry.Target
	}
	if level := logging.SeverityText(entry.Severity); level != "" {
		labels["level"] = strings.ToLower(level)
	}
	return labels
}

func labelName(key string) string {
	return strings.NewReplacer(".", "_", "-", "_", "/", "_").Replace(key)
}

func (ls *Sender) sendRequest(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ls.baseURL+pushPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := ls.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		responseBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("loki returned status %d: %s", resp.StatusCode, string(responseBody))
	}

	return nil
}
