package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chichichkin/otelbridge/internal/testutils"
)

func TestNew_InvalidTargets(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want error
	}{
		{"malformed", "http://[::1", ErrInvalidURL},
		{"no host", "http://:4317", ErrMissingHost},
		{"no scheme", "localhost:4317", ErrMissingHost},
		{"no port", "https://collector.example.com", ErrMissingPort},
		{"unknown scheme", "ftp://collector:21", ErrUnsupportedScheme},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, err := New(Target{URL: tt.url})
			assert.Nil(t, ch)
			assert.ErrorIs(t, err, tt.want)

			var configErr *ConfigError
			require.True(t, errors.As(err, &configErr))
			assert.Equal(t, tt.url, configErr.URL)
		})
	}
}

func TestNew_Plaintext(t *testing.T) {
	ch, err := New(Target{URL: "http://localhost:4317", Timeout: 5 * time.Second})
	require.NoError(t, err)

	assert.False(t, ch.Secure())
	assert.Nil(t, ch.TLSConfig())
	assert.Equal(t, "http://localhost:4317", ch.Endpoint())
	assert.Equal(t, "localhost:4317", ch.Address())
	assert.Empty(t, ch.Path())
	assert.Equal(t, "passthrough:///localhost:4317", ch.GRPCTarget())
	assert.Equal(t, 5*time.Second, ch.Timeout())
	assert.Len(t, ch.DialOptions(), 1)

	_, err = ch.DialTLS(context.Background(), "")
	assert.Error(t, err)
}

func TestNew_TLSRewritesScheme(t *testing.T) {
	caPath, _ := testutils.SelfSignedTLS(t)

	ch, err := New(Target{URL: "https://collector.example.com:4317/v1", CACertPath: caPath})
	require.NoError(t, err)
	assert.True(t, ch.Secure())
	assert.Equal(t, "http://collector.example.com:4317/v1", ch.Endpoint())
	assert.Equal(t, "/v1", ch.Path())
	assert.Equal(t, "collector.example.com", ch.TLSConfig().ServerName)
	assert.Len(t, ch.DialOptions(), 2)

	ch, err = New(Target{URL: "grpcs://collector.example.com:4317", CACertPath: caPath})
	require.NoError(t, err)
	assert.Equal(t, "grpc://collector.example.com:4317", ch.Endpoint())
}

func TestPlaintextScheme(t *testing.T) {
	assert.Equal(t, "http", plaintextScheme("https"))
	assert.Equal(t, "grpc", plaintextScheme("grpcs"))
	assert.Equal(t, "http", plaintextScheme("http"))
}

func TestNew_UnreadableCAFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.pem")
	_, err := New(Target{URL: "https://localhost:4317", CACertPath: missing})
	assert.ErrorIs(t, err, ErrCACert)

	garbage := filepath.Join(t.TempDir(), "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not a certificate"), 0644))
	_, err = New(Target{URL: "https://localhost:4317", CACertPath: garbage})
	assert.ErrorIs(t, err, ErrCACert)
}

func TestNew_SystemTrustStore(t *testing.T) {
	ch, err := New(Target{URL: "https://localhost:4317"})
	if errors.Is(err, ErrTrustStore) {
		t.Skip("no system trust store on this machine")
	}
	require.NoError(t, err)
	assert.NotNil(t, ch.TLSConfig().RootCAs)
}

func TestNew_IsLazy(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	caPath, _ := testutils.SelfSignedTLS(t)
	// nothing listens there, but building the channel must still work
	_, err = New(Target{URL: "https://" + addr, CACertPath: caPath})
	assert.NoError(t, err)
}

func TestDialTLS_Handshake(t *testing.T) {
	caPath, serverTLS := testutils.SelfSignedTLS(t)

	listener, err := tls.Listen("tcp", "127.0.0.1:0", serverTLS)
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = io.Copy(conn, conn)
	}()

	ch, err := New(Target{URL: "https://" + listener.Addr().String(), CACertPath: caPath})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := ch.DialTLS(ctx, "ignored:1")
	require.NoError(t, err)
	defer conn.Close()

	tlsConn, ok := conn.(*tls.Conn)
	require.True(t, ok)
	assert.True(t, tlsConn.ConnectionState().HandshakeComplete)

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))
}

func TestDialTLS_UntrustedServer(t *testing.T) {
	_, serverTLS := testutils.SelfSignedTLS(t)
	otherCA, _ := testutils.SelfSignedTLS(t)

	listener, err := tls.Listen("tcp", "127.0.0.1:0", serverTLS)
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.(*tls.Conn).Handshake()
	}()

	ch, err := New(Target{URL: "https://" + listener.Addr().String(), CACertPath: otherCA})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = ch.DialTLS(ctx, "")
	assert.ErrorContains(t, err, "tls handshake")
}
