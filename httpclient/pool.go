package httpclient

import (
	"net/http"
	"time"
)

// PoolStats is a snapshot of the connection pool settings of the base
// transport.
type PoolStats struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	DisableKeepAlives   bool
}

// PoolStats returns the pool settings of the *http.Transport at the bottom
// of the transport chain, or the zero value when the base is not one
// (e.g. a MockTransport).
func (c *Client) PoolStats() PoolStats {
	transport := unwrapTransport(c.httpClient.Transport)
	if transport == nil {
		return PoolStats{}
	}
	return PoolStats{
		MaxIdleConns:        transport.MaxIdleConns,
		MaxIdleConnsPerHost: transport.MaxIdleConnsPerHost,
		MaxConnsPerHost:     transport.MaxConnsPerHost,
		IdleConnTimeout:     transport.IdleConnTimeout,
		DisableKeepAlives:   transport.DisableKeepAlives,
	}
}

// unwrapTransport walks the transport chain down to the base *http.Transport.
func unwrapTransport(rt http.RoundTripper) *http.Transport {
	for rt != nil {
		switch t := rt.(type) {
		case *http.Transport:
			return t
		case interface{ Unwrap() http.RoundTripper }:
			rt = t.Unwrap()
		default:
			return nil
		}
	}
	return nil
}

// Unwrap returns the wrapped transport.
func (t *otelTransport) Unwrap() http.RoundTripper { return t.base }

// Unwrap returns the wrapped transport.
func (t *breakerTransport) Unwrap() http.RoundTripper { return t.next }

// Unwrap returns the wrapped transport.
func (t *retryTransport) Unwrap() http.RoundTripper { return t.base }

// Unwrap returns the wrapped transport.
func (t *rateLimitTransport) Unwrap() http.RoundTripper { return t.next }
