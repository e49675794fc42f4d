package httpclient

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

// Response is the captured result of a completed exchange: status, headers
// and the full body. It is created once per execution, before any decoding,
// and never changes afterwards.
//
// Example usage inside a callback:
//
//	func(req *httpclient.Request, res *httpclient.Response, result httpclient.Result[string]) {
//	    if res != nil {
//	        fmt.Println(res.StatusCode(), res.Header().Get("Content-Type"))
//	    }
//	}
type Response struct {
	statusCode int
	status     string
	header     http.Header
	body       []byte
	proto      string

	// duration covers the round trip and reading the body.
	duration time.Duration

	// traceInfo is only populated when tracing was enabled for the request.
	traceInfo *TraceInfo
}

// captureResponse reads resp's body to completion and closes it.
//
// A limit of zero or less means no limit. Read failures are transport
// failures: the caller never sees a partially read Response.
func captureResponse(resp *http.Response, limit int64, started time.Time) (*Response, error) {
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if limit > 0 {
		reader = io.LimitReader(resp.Body, limit+1)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if limit > 0 && int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, limit)
	}

	return &Response{
		statusCode: resp.StatusCode,
		status:     resp.Status,
		header:     resp.Header.Clone(),
		body:       body,
		proto:      resp.Proto,
		duration:   time.Since(started),
	}, nil
}

// StatusCode returns the HTTP status code.
func (r *Response) StatusCode() int {
	return r.statusCode
}

// Status returns the status line text, e.g. "404 Not Found".
func (r *Response) Status() string {
	return r.status
}

// Header returns a copy of the response headers.
func (r *Response) Header() http.Header {
	return r.header.Clone()
}

// Body returns a copy of the response body.
func (r *Response) Body() []byte {
	out := make([]byte, len(r.body))
	copy(out, r.body)
	return out
}

// ContentLength returns the number of body bytes captured.
func (r *Response) ContentLength() int {
	return len(r.body)
}

// Proto returns the protocol version, e.g. "HTTP/1.1".
func (r *Response) Proto() string {
	return r.proto
}

// Duration returns the time from sending the request to finishing the body read.
func (r *Response) Duration() time.Duration {
	return r.duration
}

// TraceInfo returns timing information for this request.
//
// This is only populated if EnableTrace() was called on the RequestBuilder.
func (r *Response) TraceInfo() *TraceInfo {
	return r.traceInfo
}

// IsSuccess returns true if the response status code is 2xx.
//
// The pipeline itself uses the client's configured success range, which may differ.
func (r *Response) IsSuccess() bool {
	return r.statusCode >= 200 && r.statusCode < 300
}

// IsError returns true if the response status code is 4xx or 5xx.
func (r *Response) IsError() bool {
	return r.statusCode >= 400
}

// TraceInfo contains timing information for an HTTP request.
//
// Each field is a human-readable duration string (e.g., "45.2ms").
//
//	rb := client.Get("/users/1").EnableTrace()
//	rb.ResponseString(ctx, func(_ *httpclient.Request, res *httpclient.Response, _ httpclient.Result[string]) {
//	    if res != nil {
//	        fmt.Println(res.TraceInfo())
//	    }
//	})
type TraceInfo struct {
	// DNSLookup is the duration of DNS name resolution. "0s" for IP
	// addresses and cached lookups.
	DNSLookup string

	// ConnTime is the duration to establish the TCP connection.
	ConnTime string

	// TLSHandshake is the duration of the TLS handshake. Empty for plain HTTP.
	TLSHandshake string

	// ServerTime is the time from writing the request to the first response
	// byte (TTFB).
	ServerTime string

	// TotalTime is the duration of the whole exchange including the body read.
	TotalTime string
}

// String returns a formatted, multi-line representation of the trace info.
func (t *TraceInfo) String() string {
	if t == nil {
		return "TraceInfo: nil (EnableTrace() was not called)"
	}

	return fmt.Sprintf(
		"DNS Lookup:    %s\nTCP Connect:   %s\nTLS Handshake: %s\nServer Time:   %s\nTotal Time:    %s",
		t.DNSLookup,
		t.ConnTime,
		t.TLSHandshake,
		t.ServerTime,
		t.TotalTime,
	)
}
