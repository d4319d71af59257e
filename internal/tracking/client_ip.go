package tracking

import (
	"context"
	"net"
	"net/http"
	"strings"
)

const (
	DefaultForwardedHeader = "X-Forwarded-For"
	UnknownIP              = "0.0.0.0"
)

type clientIPKey struct{}

// ClientIP picks the caller address: the first entry of the forwarding
// header, then the peer address, then UnknownIP.
func ClientIP(r *http.Request, header string) string {
	if header == "" {
		header = DefaultForwardedHeader
	}

	if forwarded := r.Header.Get(header); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	remote := strings.TrimSpace(r.RemoteAddr)
	if remote == "" {
		return UnknownIP
	}
	if host, _, err := net.SplitHostPort(remote); err == nil && host != "" {
		return host
	}
	return remote
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIPFromContext returns the address stored by the interceptor.
func ClientIPFromContext(ctx context.Context) (string, bool) {
	ip, ok := ctx.Value(clientIPKey{}).(string)
	return ip, ok && ip != ""
}
