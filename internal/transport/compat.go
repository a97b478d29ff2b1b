package transport

import (
	"net/url"
)

// plaintextEndpoint rewrites https/grpcs to http/grpc.
//
// Compatibility shim: TLS targets are served by a custom dialer while the RPC
// client is configured with insecure credentials. OTLP clients infer the
// security mode from the endpoint scheme, and a secure scheme combined with
// a caller-supplied connector makes them think TLS is already handled (or
// wrap twice). Handing them the plaintext scheme keeps the two views
// consistent. Remove together with the custom dialer.
//
// The gRPC client dials GRPCTarget, not this URL, so the rewritten form only
// shows up through Channel.Endpoint in log lines and error messages.
func plaintextEndpoint(u *url.URL) string {
	rewritten := *u
	rewritten.Scheme = plaintextScheme(u.Scheme)
	return rewritten.String()
}

func plaintextScheme(scheme string) string {
	switch scheme {
	case "https":
		return "http"
	case "grpcs":
		return "grpc"
	}
	return scheme
}
