// Package transport turns an export target URL into the dial setup used by
// the exporters, wrapping connections in TLS where the scheme asks for it.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var (
	ErrInvalidURL        = errors.New("invalid endpoint url")
	ErrMissingHost       = errors.New("endpoint url has no host")
	ErrMissingPort       = errors.New("endpoint url has no port")
	ErrUnsupportedScheme = errors.New("unsupported endpoint scheme")
	ErrCACert            = errors.New("cannot load CA certificate")
	ErrTrustStore        = errors.New("cannot load system trust store")
)

// ConfigError reports a target that cannot be set up. It only affects the
// target it names.
type ConfigError struct {
	URL string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("transport config for %q: %v", e.URL, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Target is a remote export destination.
type Target struct {
	URL        string
	Timeout    time.Duration
	CACertPath string
}

// Channel is the result of setting up a Target. It holds no connection;
// TLS targets dial lazily whenever the RPC client needs a connection.
type Channel struct {
	host     string
	port     int
	path     string
	endpoint string
	secure   bool
	timeout  time.Duration
	tls      *tls.Config
	dialer   net.Dialer
}

// New validates t and builds its Channel. Nothing is dialled.
func New(t Target) (*Channel, error) {
	u, err := url.Parse(t.URL)
	if err != nil {
		return nil, &ConfigError{URL: t.URL, Err: fmt.Errorf("%w: %v", ErrInvalidURL, err)}
	}
	host := u.Hostname()
	if host == "" {
		return nil, &ConfigError{URL: t.URL, Err: ErrMissingHost}
	}
	if u.Port() == "" {
		return nil, &ConfigError{URL: t.URL, Err: ErrMissingPort}
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return nil, &ConfigError{URL: t.URL, Err: fmt.Errorf("%w: bad port %q", ErrInvalidURL, u.Port())}
	}

	ch := &Channel{
		host:     host,
		port:     port,
		path:     strings.TrimRight(u.EscapedPath(), "/"),
		endpoint: t.URL,
		timeout:  t.Timeout,
	}

	switch u.Scheme {
	case "http", "grpc":
		return ch, nil
	case "https", "grpcs":
	default:
		return nil, &ConfigError{URL: t.URL, Err: fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)}
	}

	ch.endpoint = plaintextEndpoint(u)

	tlsConfig, err := clientTLSConfig(host, t.CACertPath)
	if err != nil {
		return nil, &ConfigError{URL: t.URL, Err: err}
	}
	ch.secure = true
	ch.tls = tlsConfig
	return ch, nil
}

func clientTLSConfig(serverName, caCertPath string) (*tls.Config, error) {
	var pool *x509.CertPool
	if caCertPath != "" {
		pem, err := os.ReadFile(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("%w %s: %v", ErrCACert, caCertPath, err)
		}
		pool = x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w %s: no PEM certificates found", ErrCACert, caCertPath)
		}
	} else {
		var err error
		pool, err = x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTrustStore, err)
		}
	}

	return &tls.Config{
		RootCAs:    pool,
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// Address is host:port of the remote end.
func (c *Channel) Address() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

// Path is the URL path of the target without a trailing slash, e.g.
// "/tenant" for https://gw:443/tenant/.
func (c *Channel) Path() string { return c.path }

// Endpoint is the URL handed to the RPC client. For TLS targets its scheme
// has been rewritten to the plaintext form, see plaintextEndpoint.
func (c *Channel) Endpoint() string { return c.endpoint }

func (c *Channel) Secure() bool { return c.secure }

// Timeout is the per-call timeout for exports over this channel.
func (c *Channel) Timeout() time.Duration { return c.timeout }

// TLSConfig returns the client TLS settings, or nil for plaintext targets.
// Callers get their own copy.
func (c *Channel) TLSConfig() *tls.Config {
	if c.tls == nil {
		return nil
	}
	return c.tls.Clone()
}

// GRPCTarget is the dial target for grpc.NewClient.
func (c *Channel) GRPCTarget() string {
	return "passthrough:///" + c.Address()
}

// DialOptions returns the gRPC options for this channel. TLS is done by the
// context dialer, so the client itself always uses insecure credentials.
func (c *Channel) DialOptions() []grpc.DialOption {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if c.secure {
		opts = append(opts, grpc.WithContextDialer(c.DialTLS))
	}
	return opts
}

// DialTLS opens a TCP connection to the target and completes a TLS
// handshake with SNI set to the target host. The address argument from the
// RPC layer is ignored so that the handshake always matches the configured
// host.
func (c *Channel) DialTLS(ctx context.Context, _ string) (net.Conn, error) {
	if !c.secure {
		return nil, fmt.Errorf("dial %s: channel is not TLS", c.Address())
	}
	raw, err := c.dialer.DialContext(ctx, "tcp", c.Address())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.Address(), err)
	}
	cfg := c.tls.Clone()
	// gRPC servers refuse TLS connections that did not negotiate h2.
	cfg.NextProtos = []string{"h2"}
	conn := tls.Client(raw, cfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", c.Address(), err)
	}
	return conn, nil
}
