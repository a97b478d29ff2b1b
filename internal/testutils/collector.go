package testutils

import (
	"context"
	"crypto/tls"
	"net"
	"testing"
	"time"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// MockCollector is an in-process OTLP logs collector.
type MockCollector struct {
	collogspb.UnimplementedLogsServiceServer

	Addr     string
	Requests chan *collogspb.ExportLogsServiceRequest
	server   *grpc.Server
}

// StartMockCollector serves OTLP logs on a random local port until the test
// ends. A nil serverTLS serves plaintext.
func StartMockCollector(t *testing.T, serverTLS *tls.Config) *MockCollector {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	var opts []grpc.ServerOption
	if serverTLS != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(serverTLS)))
	}

	c := &MockCollector{
		Addr:     listener.Addr().String(),
		Requests: make(chan *collogspb.ExportLogsServiceRequest, 100),
		server:   grpc.NewServer(opts...),
	}
	collogspb.RegisterLogsServiceServer(c.server, c)

	go func() { _ = c.server.Serve(listener) }()
	t.Cleanup(c.server.Stop)
	return c
}

func (c *MockCollector) Export(_ context.Context, req *collogspb.ExportLogsServiceRequest) (*collogspb.ExportLogsServiceResponse, error) {
	select {
	case c.Requests <- req:
	default:
	}
	return &collogspb.ExportLogsServiceResponse{}, nil
}

// Next waits for the next export request.
func (c *MockCollector) Next(t *testing.T, timeout time.Duration) *collogspb.ExportLogsServiceRequest {
	t.Helper()
	select {
	case req := <-c.Requests:
		return req
	case <-time.After(timeout):
		t.Fatalf("no export request within %s", timeout)
		return nil
	}
}

// Bodies returns the string bodies of all records in req.
func Bodies(req *collogspb.ExportLogsServiceRequest) []string {
	var bodies []string
	for _, rl := range req.GetResourceLogs() {
		for _, sl := range rl.GetScopeLogs() {
			for _, lr := range sl.GetLogRecords() {
				bodies = append(bodies, lr.GetBody().GetStringValue())
			}
		}
	}
	return bodies
}
