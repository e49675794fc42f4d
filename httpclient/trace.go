package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http/httptrace"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Error type classifications for the error.type attribute.
const (
	ErrorTypeTimeout           = "timeout"
	ErrorTypeConnectionRefused = "connection_refused"
	ErrorTypeDNSError          = "dns_error"
	ErrorTypeTLSError          = "tls_error"
	ErrorTypeCancelled         = "cancelled"
	ErrorTypeConnectionReset   = "connection_reset"
	ErrorTypeEOF               = "eof"
	ErrorTypeRateLimited       = "rate_limited"
	ErrorTypeCircuitOpen       = "circuit_open"
	ErrorTypeUnknown           = "unknown"
)

// interval is a start/end pair; either end may be unset.
type interval struct {
	start, end time.Time
}

func (i interval) complete() bool {
	return !i.start.IsZero() && !i.end.IsZero()
}

func (i interval) duration() time.Duration {
	return i.end.Sub(i.start)
}

// networkTrace holds connection-level timing for one transport span.
type networkTrace struct {
	dns     interval
	connect interval
	tls     interval

	gotConn           time.Time
	wroteRequest      time.Time
	firstResponseByte time.Time

	connReused  bool
	connIdle    bool
	connRemote  string
	tlsProtocol string
	dnsAddrs    []string
}

func createClientTrace(nt *networkTrace) *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			nt.gotConn = time.Now()
			nt.connReused = info.Reused
			nt.connIdle = info.WasIdle
			if info.Conn != nil && info.Conn.RemoteAddr() != nil {
				nt.connRemote = info.Conn.RemoteAddr().String()
			}
		},
		DNSStart: func(httptrace.DNSStartInfo) { nt.dns.start = time.Now() },
		DNSDone: func(info httptrace.DNSDoneInfo) {
			nt.dns.end = time.Now()
			for _, addr := range info.Addrs {
				nt.dnsAddrs = append(nt.dnsAddrs, addr.String())
			}
		},
		ConnectStart:      func(_, _ string) { nt.connect.start = time.Now() },
		ConnectDone:       func(_, _ string, _ error) { nt.connect.end = time.Now() },
		TLSHandshakeStart: func() { nt.tls.start = time.Now() },
		TLSHandshakeDone: func(state tls.ConnectionState, _ error) {
			nt.tls.end = time.Now()
			nt.tlsProtocol = state.NegotiatedProtocol
		},
		WroteRequest:         func(httptrace.WroteRequestInfo) { nt.wroteRequest = time.Now() },
		GotFirstResponseByte: func() { nt.firstResponseByte = time.Now() },
	}
}

// addTraceEvents adds one span event pair per completed network phase.
func (nt *networkTrace) addTraceEvents(span trace.Span) {
	addPhase := func(name string, iv interval, attrs ...attribute.KeyValue) {
		if !iv.complete() {
			return
		}
		attrs = append(attrs, attribute.Float64(name+".duration_ms", float64(iv.duration().Milliseconds())))
		span.AddEvent(name+".start", trace.WithTimestamp(iv.start))
		span.AddEvent(name+".done", trace.WithTimestamp(iv.end), trace.WithAttributes(attrs...))
	}

	addPhase("dns", nt.dns, attribute.StringSlice("dns.addresses", nt.dnsAddrs))
	addPhase("connect", nt.connect)
	addPhase("tls", nt.tls, attribute.String("tls.protocol", nt.tlsProtocol))

	if !nt.gotConn.IsZero() {
		span.AddEvent("got_conn", trace.WithTimestamp(nt.gotConn),
			trace.WithAttributes(
				attribute.Bool("connection.reused", nt.connReused),
				attribute.Bool("connection.was_idle", nt.connIdle),
				attribute.String("network.peer.address", nt.connRemote),
			))
	}
	if !nt.wroteRequest.IsZero() {
		span.AddEvent("wrote_request", trace.WithTimestamp(nt.wroteRequest))
	}
	if ttfb := (interval{nt.wroteRequest, nt.firstResponseByte}); ttfb.complete() {
		span.AddEvent("got_first_response_byte", trace.WithTimestamp(nt.firstResponseByte),
			trace.WithAttributes(attribute.Float64("ttfb_ms", float64(ttfb.duration().Milliseconds()))))
	}
}

// recordTimingMetrics records the network phase histograms.
func (nt *networkTrace) recordTimingMetrics(
	ctx context.Context,
	m *metrics,
	attrs []attribute.KeyValue,
) {
	if m == nil {
		return
	}

	if !nt.connReused && !nt.connect.start.IsZero() {
		m.recordConnectionOpened(ctx, attrs)
	}
	if nt.dns.complete() {
		m.recordDNSDuration(ctx, nt.dns.duration(), attrs)
	}
	if nt.connect.complete() {
		m.recordConnectionDuration(ctx, nt.connect.duration(), attrs)
	}
	if nt.tls.complete() {
		m.recordTLSDuration(ctx, nt.tls.duration(), attrs)
	}
	if ttfb := (interval{nt.wroteRequest, nt.firstResponseByte}); ttfb.complete() {
		m.recordTTFB(ctx, ttfb.duration(), attrs)
	}
}

// requestTracer collects the TraceInfo of a request that called EnableTrace.
type requestTracer struct {
	dns        interval
	conn       interval
	tls        interval
	server     interval
	totalStart time.Time
}

func (t *requestTracer) clientTrace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		DNSStart:             func(httptrace.DNSStartInfo) { t.dns.start = time.Now() },
		DNSDone:              func(httptrace.DNSDoneInfo) { t.dns.end = time.Now() },
		ConnectStart:         func(_, _ string) { t.conn.start = time.Now() },
		ConnectDone:          func(_, _ string, _ error) { t.conn.end = time.Now() },
		TLSHandshakeStart:    func() { t.tls.start = time.Now() },
		TLSHandshakeDone:     func(tls.ConnectionState, error) { t.tls.end = time.Now() },
		WroteRequest:         func(httptrace.WroteRequestInfo) { t.server.start = time.Now() },
		GotFirstResponseByte: func() { t.server.end = time.Now() },
	}
}

func (t *requestTracer) toTraceInfo() *TraceInfo {
	orZero := func(iv interval) string {
		if iv.complete() {
			return iv.duration().String()
		}
		return "0s"
	}

	info := &TraceInfo{
		DNSLookup:  orZero(t.dns),
		ConnTime:   orZero(t.conn),
		ServerTime: orZero(t.server),
		TotalTime:  "0s",
	}
	if t.tls.complete() {
		info.TLSHandshake = t.tls.duration().String()
	}
	if !t.totalStart.IsZero() {
		info.TotalTime = time.Since(t.totalStart).String()
	}
	return info
}

// classifyError returns an error.type classification for the given error.
func classifyError(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrRateLimited):
		return ErrorTypeRateLimited
	case isCircuitOpen(err):
		return ErrorTypeCircuitOpen
	case errors.Is(err, context.Canceled):
		return ErrorTypeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTypeTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrorTypeDNSError
	}

	var tlsRecordErr *tls.RecordHeaderError
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &tlsRecordErr) || errors.As(err, &certErr) {
		return ErrorTypeTLSError
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return ErrorTypeConnectionRefused
	case errors.Is(err, syscall.ECONNRESET):
		return ErrorTypeConnectionReset
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return ErrorTypeEOF
	}

	// Wrapped errors from third-party transports sometimes lose their type.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return ErrorTypeTimeout
	case strings.Contains(msg, "connection refused"):
		return ErrorTypeConnectionRefused
	case strings.Contains(msg, "connection reset"):
		return ErrorTypeConnectionReset
	case strings.Contains(msg, "no such host"):
		return ErrorTypeDNSError
	case strings.Contains(msg, "tls"), strings.Contains(msg, "x509"), strings.Contains(msg, "certificate"):
		return ErrorTypeTLSError
	case strings.Contains(msg, "eof"):
		return ErrorTypeEOF
	}

	return ErrorTypeUnknown
}

// errorTypeFromStatusCode returns error.type for HTTP status codes.
// The status code itself is the error type for 4xx and 5xx.
func errorTypeFromStatusCode(statusCode int) string {
	if statusCode >= 400 {
		return strconv.Itoa(statusCode)
	}
	return ""
}

func setSpanError(span trace.Span, err error, errorType string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if errorType != "" {
		span.SetAttributes(attribute.String("error.type", errorType))
	}
}
