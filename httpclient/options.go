package httpclient

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	// scope is the instrumentation scope name for OpenTelemetry.
	scope = "github.com/kroma-labs/courier-go/httpclient"
)

// =============================================================================
// Config - HTTP Transport Configuration
// =============================================================================

// Config holds the settings of the built-in *http.Transport and the body
// capture limit. Start from one of the presets and adjust fields:
//
//	cfg := httpclient.DefaultConfig()
//	cfg.Timeout = 5 * time.Second
//	cfg.MaxBodyBytes = 1 << 20
//
//	client := httpclient.New(httpclient.WithConfig(cfg))
//
// Config is ignored for the transport itself when WithTransport or
// WithMockTransport supplies one; Timeout and MaxBodyBytes still apply.
type Config struct {
	// Timeout bounds the whole exchange including reading the body.
	// Zero means no timeout. Default: 15s
	Timeout time.Duration

	// MaxBodyBytes caps the captured response body. A larger body is a
	// transport failure wrapping ErrBodyTooLarge. Zero means no cap.
	MaxBodyBytes int64

	// MaxIdleConns is the idle connection limit across all hosts. Default: 100
	MaxIdleConns int

	// MaxIdleConnsPerHost is the idle connection limit per host. Default: 20
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits idle plus active connections per host.
	// Zero means unlimited. Default: 100
	MaxConnsPerHost int

	// IdleConnTimeout is how long an idle connection stays pooled. Default: 90s
	IdleConnTimeout time.Duration

	// TLSHandshakeTimeout bounds the TLS handshake. Default: 10s
	TLSHandshakeTimeout time.Duration

	// ExpectContinueTimeout bounds the wait for "100 Continue". Default: 1s
	ExpectContinueTimeout time.Duration

	// ResponseHeaderTimeout bounds the wait for response headers after the
	// request is written. Zero defers to Timeout.
	ResponseHeaderTimeout time.Duration

	// DialTimeout bounds TCP connection establishment. Default: 5s
	DialTimeout time.Duration

	// KeepAlive is the TCP keep-alive probe interval. Default: 30s
	KeepAlive time.Duration

	// FallbackDelay is the Happy Eyeballs delay for dual-stack dialing.
	// Negative disables it. Default: 300ms
	FallbackDelay time.Duration

	// WriteBufferSize and ReadBufferSize size the per-connection buffers.
	// Default: 64KB each
	WriteBufferSize int
	ReadBufferSize  int

	// MaxResponseHeaderBytes limits response header size.
	// Zero uses the net/http default.
	MaxResponseHeaderBytes int64

	// DisableKeepAlives forces a new connection per request.
	DisableKeepAlives bool

	// DisableCompression stops the transport from requesting gzip.
	// Default: true
	DisableCompression bool

	// ForceHTTP2 attempts HTTP/2 even with a custom dialer or TLS config.
	ForceHTTP2 bool
}

// DefaultConfig returns balanced settings for general use.
func DefaultConfig() Config {
	return Config{
		Timeout: 15 * time.Second,

		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		DialTimeout:   5 * time.Second,
		KeepAlive:     30 * time.Second,
		FallbackDelay: 300 * time.Millisecond,

		WriteBufferSize: 64 * 1024,
		ReadBufferSize:  64 * 1024,

		DisableCompression: true,
	}
}

// HighThroughputConfig returns settings for many concurrent requests to a
// few hosts: a larger pool, larger buffers and no per-host connection cap.
func HighThroughputConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 30 * time.Second
	cfg.MaxIdleConns = 500
	cfg.MaxIdleConnsPerHost = 100
	cfg.MaxConnsPerHost = 0
	cfg.IdleConnTimeout = 120 * time.Second
	cfg.WriteBufferSize = 128 * 1024
	cfg.ReadBufferSize = 128 * 1024
	return cfg
}

// LowLatencyConfig returns settings that fail fast: short timeouts, a quick
// dial and HTTP/2.
func LowLatencyConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 5 * time.Second
	cfg.MaxIdleConns = 50
	cfg.MaxIdleConnsPerHost = 25
	cfg.MaxConnsPerHost = 50
	cfg.IdleConnTimeout = 60 * time.Second
	cfg.TLSHandshakeTimeout = 5 * time.Second
	cfg.ExpectContinueTimeout = 500 * time.Millisecond
	cfg.ResponseHeaderTimeout = 3 * time.Second
	cfg.DialTimeout = 2 * time.Second
	cfg.KeepAlive = 15 * time.Second
	cfg.FallbackDelay = 150 * time.Millisecond
	cfg.WriteBufferSize = 32 * 1024
	cfg.ReadBufferSize = 32 * 1024
	cfg.ForceHTTP2 = true
	return cfg
}

// ConservativeConfig returns settings for constrained environments: a
// small pool, small buffers and a 10MB body cap.
func ConservativeConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 10 * time.Second
	cfg.MaxBodyBytes = 10 << 20
	cfg.MaxIdleConns = 20
	cfg.MaxIdleConnsPerHost = 5
	cfg.MaxConnsPerHost = 20
	cfg.IdleConnTimeout = 30 * time.Second
	cfg.WriteBufferSize = 4 * 1024
	cfg.ReadBufferSize = 4 * 1024
	return cfg
}

// =============================================================================
// Internal Configuration
// =============================================================================

// internalConfig holds everything a Client is built from.
type internalConfig struct {
	httpConfig Config

	// === OpenTelemetry ===

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	Metrics        *metrics
	Propagators    propagation.TextMapPropagator

	// ServiceName is added as "http.client.name" on spans and metrics.
	ServiceName string

	// EnableNetworkTrace records DNS, connect and TLS timing on transport spans.
	EnableNetworkTrace bool

	Filters           []Filter
	SpanNameFormatter SpanNameFormatter

	// === Transport ===

	TLSConfig            *tls.Config
	ProxyURL             *url.URL
	ProxyFromEnvironment bool

	// Transport replaces the built-in *http.Transport.
	Transport     http.RoundTripper
	MockTransport *MockTransport

	RetryConfig     RetryConfig
	RetryClassifier RetryClassifier
	RetryBackOff    func() backoff.BackOff
	BreakerConfig   *BreakerConfig
	RateLimit       RateLimitConfig

	RequestInterceptors []RequestInterceptor

	// === Pipeline ===

	// Defaults is the initial Defaults snapshot of the client.
	Defaults Defaults

	// BackgroundExecutor runs request exchanges.
	BackgroundExecutor Executor

	// SuccessStatus decides which status codes are handed to the deserializer.
	SuccessStatus func(code int) bool

	// RejectionHandler is called when the callback executor refuses a delivery.
	RejectionHandler func(*RejectedDeliveryError)

	Observer Observer

	// EnableTrace collects TraceInfo for every request.
	EnableTrace bool

	// RequestIDHeader, when set, carries the request ID to the server.
	RequestIDHeader string

	// === Logging ===

	Logger    zerolog.Logger
	loggerSet bool
	Debug     bool
}

// newConfig creates a new internal config with defaults and applies options.
func newConfig(opts ...Option) *internalConfig {
	cfg := &internalConfig{
		httpConfig:     DefaultConfig(),
		TracerProvider: otel.GetTracerProvider(),
		MeterProvider:  otel.GetMeterProvider(),
		Propagators: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),

		EnableNetworkTrace:   true,
		ProxyFromEnvironment: true,

		RetryConfig:        NoRetryConfig(),
		BackgroundExecutor: GoroutineExecutor(),
		SuccessStatus:      statusRange(200, 299),
		RejectionHandler:   panicOnRejection,
		Logger:             zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Debug && !cfg.loggerSet {
		cfg.Logger = debugLogger.Level(zerolog.DebugLevel)
	}

	cfg.Tracer = cfg.TracerProvider.Tracer(scope)
	cfg.Meter = cfg.MeterProvider.Meter(scope)

	// A failed instrument registration leaves Metrics nil; recording is a no-op then.
	cfg.Metrics, _ = newMetrics(cfg.Meter)

	return cfg
}

// buildTransport creates an http.Transport from the configuration.
func (cfg *internalConfig) buildTransport() *http.Transport {
	hc := cfg.httpConfig

	dialer := &net.Dialer{
		Timeout:       hc.DialTimeout,
		KeepAlive:     hc.KeepAlive,
		FallbackDelay: hc.FallbackDelay,
	}

	transport := &http.Transport{
		DialContext:            dialer.DialContext,
		MaxIdleConns:           hc.MaxIdleConns,
		MaxIdleConnsPerHost:    hc.MaxIdleConnsPerHost,
		MaxConnsPerHost:        hc.MaxConnsPerHost,
		IdleConnTimeout:        hc.IdleConnTimeout,
		TLSHandshakeTimeout:    hc.TLSHandshakeTimeout,
		ResponseHeaderTimeout:  hc.ResponseHeaderTimeout,
		ExpectContinueTimeout:  hc.ExpectContinueTimeout,
		DisableKeepAlives:      hc.DisableKeepAlives,
		DisableCompression:     hc.DisableCompression,
		WriteBufferSize:        hc.WriteBufferSize,
		ReadBufferSize:         hc.ReadBufferSize,
		MaxResponseHeaderBytes: hc.MaxResponseHeaderBytes,
		TLSClientConfig:        cfg.TLSConfig,
		ForceAttemptHTTP2:      hc.ForceHTTP2,
	}

	if cfg.ProxyURL != nil {
		transport.Proxy = http.ProxyURL(cfg.ProxyURL)
	} else if cfg.ProxyFromEnvironment {
		transport.Proxy = http.ProxyFromEnvironment
	}

	return transport
}

// baseTransport returns the innermost RoundTripper.
func (cfg *internalConfig) baseTransport() http.RoundTripper {
	switch {
	case cfg.MockTransport != nil:
		return cfg.MockTransport
	case cfg.Transport != nil:
		return cfg.Transport
	default:
		return cfg.buildTransport()
	}
}

// baseAttributes returns common attributes for all spans and metrics.
func (cfg *internalConfig) baseAttributes() []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 1)
	if cfg.ServiceName != "" {
		attrs = append(attrs, attribute.String("http.client.name", cfg.ServiceName))
	}
	return attrs
}

func statusRange(lo, hi int) func(int) bool {
	return func(code int) bool {
		return code >= lo && code <= hi
	}
}

func panicOnRejection(err *RejectedDeliveryError) {
	panic(err)
}

// =============================================================================
// Options - Functional Options for Client Configuration
// =============================================================================

// Filter determines whether a request should be traced.
// All filters must return true for a request to get a transport span.
type Filter func(r *http.Request) bool

// SpanNameFormatter formats transport span names.
// The default produces "HTTP {method}".
type SpanNameFormatter func(method string, r *http.Request) string

// Option configures the HTTP client.
type Option func(*internalConfig)

// WithConfig sets the HTTP transport configuration.
//
//	client := httpclient.New(httpclient.WithConfig(httpclient.HighThroughputConfig()))
func WithConfig(c Config) Option {
	return func(cfg *internalConfig) {
		cfg.httpConfig = c
	}
}

// WithServiceName sets an identifier for this client in traces and metrics,
// recorded as the "http.client.name" attribute.
func WithServiceName(name string) Option {
	return func(cfg *internalConfig) {
		cfg.ServiceName = name
	}
}

// WithTracerProvider sets a custom OpenTelemetry TracerProvider.
// If not called, the global provider from otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cfg *internalConfig) {
		cfg.TracerProvider = tp
	}
}

// WithMeterProvider sets a custom OpenTelemetry MeterProvider.
// If not called, the global provider from otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cfg *internalConfig) {
		cfg.MeterProvider = mp
	}
}

// WithPropagators sets the propagators used to inject trace context into
// outgoing requests. Default: W3C TraceContext and Baggage.
func WithPropagators(p propagation.TextMapPropagator) Option {
	return func(cfg *internalConfig) {
		cfg.Propagators = p
	}
}

// WithDisableNetworkTrace turns off DNS, connect and TLS timing on
// transport spans.
func WithDisableNetworkTrace() Option {
	return func(cfg *internalConfig) {
		cfg.EnableNetworkTrace = false
	}
}

// WithFilter adds a filter deciding which requests get a transport span.
//
//	httpclient.WithFilter(func(r *http.Request) bool {
//	    return !strings.HasPrefix(r.URL.Path, "/health")
//	})
func WithFilter(f Filter) Option {
	return func(cfg *internalConfig) {
		cfg.Filters = append(cfg.Filters, f)
	}
}

// WithSpanNameFormatter sets a custom transport span name formatter.
func WithSpanNameFormatter(f SpanNameFormatter) Option {
	return func(cfg *internalConfig) {
		cfg.SpanNameFormatter = f
	}
}

// WithTLSConfig sets the TLS configuration of the built-in transport.
func WithTLSConfig(tlsCfg *tls.Config) Option {
	return func(cfg *internalConfig) {
		cfg.TLSConfig = tlsCfg
	}
}

// WithProxyURL routes all requests of the built-in transport through proxyURL.
func WithProxyURL(proxyURL *url.URL) Option {
	return func(cfg *internalConfig) {
		cfg.ProxyURL = proxyURL
		cfg.ProxyFromEnvironment = false
	}
}

// WithProxyFromEnvironment toggles HTTP_PROXY, HTTPS_PROXY and NO_PROXY
// support. Default: true
func WithProxyFromEnvironment(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.ProxyFromEnvironment = enabled
	}
}

// WithTransport replaces the built-in *http.Transport. Retry, circuit
// breaking, rate limiting and instrumentation still wrap it.
func WithTransport(rt http.RoundTripper) Option {
	return func(cfg *internalConfig) {
		cfg.Transport = rt
	}
}

// WithDefaults sets the initial Defaults of the client.
func WithDefaults(d Defaults) Option {
	return func(cfg *internalConfig) {
		cfg.Defaults = d.clone()
	}
}

// WithBaseURL sets Defaults.BaseURL.
func WithBaseURL(baseURL string) Option {
	return func(cfg *internalConfig) {
		cfg.Defaults.BaseURL = baseURL
	}
}

// WithBaseHeaders adds to Defaults.BaseHeaders.
func WithBaseHeaders(headers map[string]string) Option {
	return func(cfg *internalConfig) {
		if cfg.Defaults.BaseHeaders == nil {
			cfg.Defaults.BaseHeaders = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			cfg.Defaults.BaseHeaders[k] = v
		}
	}
}

// WithBaseParams appends to Defaults.BaseParams.
func WithBaseParams(params ...Param) Option {
	return func(cfg *internalConfig) {
		cfg.Defaults.BaseParams = append(cfg.Defaults.BaseParams, params...)
	}
}

// WithCallbackExecutor sets Defaults.CallbackExecutor, the Executor that
// delivers results to callbacks and handlers.
func WithCallbackExecutor(exec Executor) Option {
	return func(cfg *internalConfig) {
		cfg.Defaults.CallbackExecutor = exec
	}
}

// WithBackgroundExecutor sets the Executor that runs request exchanges.
// Default: GoroutineExecutor.
func WithBackgroundExecutor(exec Executor) Option {
	return func(cfg *internalConfig) {
		if exec != nil {
			cfg.BackgroundExecutor = exec
		}
	}
}

// WithSuccessStatus sets the predicate deciding which status codes are
// deserialized. Any other code produces a KindStatus failure.
// Default: 200 to 299.
func WithSuccessStatus(accept func(code int) bool) Option {
	return func(cfg *internalConfig) {
		if accept != nil {
			cfg.SuccessStatus = accept
		}
	}
}

// WithStatusRange accepts status codes from lo to hi inclusive.
//
//	httpclient.WithStatusRange(200, 399) // treat redirects as success
func WithStatusRange(lo, hi int) Option {
	return WithSuccessStatus(statusRange(lo, hi))
}

// WithRejectionHandler sets the function called when the callback executor
// refuses a delivery. The default panics with the *RejectedDeliveryError.
func WithRejectionHandler(fn func(*RejectedDeliveryError)) Option {
	return func(cfg *internalConfig) {
		if fn != nil {
			cfg.RejectionHandler = fn
		}
	}
}

// WithObserver registers an Observer notified of every delivered result.
func WithObserver(o Observer) Option {
	return func(cfg *internalConfig) {
		cfg.Observer = o
	}
}

// WithRetryConfig enables transport-level retries. Retries are off by default.
//
//	client := httpclient.New(httpclient.WithRetryConfig(httpclient.DefaultRetryConfig()))
func WithRetryConfig(rc RetryConfig) Option {
	return func(cfg *internalConfig) {
		cfg.RetryConfig = rc
	}
}

// WithRetryClassifier sets the function deciding which attempts are retried.
// Default: DefaultClassifier.
func WithRetryClassifier(c RetryClassifier) Option {
	return func(cfg *internalConfig) {
		cfg.RetryClassifier = c
	}
}

// WithRetryBackOff replaces the exponential backoff derived from
// RetryConfig. newBackOff is called once per request, since a BackOff
// holds per-sequence state.
//
//	httpclient.WithRetryBackOff(func() backoff.BackOff { return httpclient.NewLinearBackOff() })
func WithRetryBackOff(newBackOff func() backoff.BackOff) Option {
	return func(cfg *internalConfig) {
		cfg.RetryBackOff = newBackOff
	}
}

// WithBreakerConfig enables the circuit breaker.
//
//	client := httpclient.New(httpclient.WithBreakerConfig(httpclient.DefaultBreakerConfig()))
func WithBreakerConfig(bc BreakerConfig) Option {
	return func(cfg *internalConfig) {
		cfg.BreakerConfig = &bc
	}
}

// WithRateLimit enables client-side rate limiting.
func WithRateLimit(rl RateLimitConfig) Option {
	return func(cfg *internalConfig) {
		cfg.RateLimit = rl
	}
}

// WithRequestInterceptor adds a function applied to every outgoing
// *http.Request, in order, before it reaches the transport. An interceptor
// error is a transport failure.
func WithRequestInterceptor(i RequestInterceptor) Option {
	return func(cfg *internalConfig) {
		cfg.RequestInterceptors = append(cfg.RequestInterceptors, i)
	}
}

// WithTrace collects TraceInfo for every request, as if EnableTrace() was
// called on each RequestBuilder.
func WithTrace() Option {
	return func(cfg *internalConfig) {
		cfg.EnableTrace = true
	}
}

// WithRequestIDHeader sends each request's generated ID in the named header,
// unless the request already sets it.
//
//	httpclient.WithRequestIDHeader("X-Request-ID")
func WithRequestIDHeader(name string) Option {
	return func(cfg *internalConfig) {
		cfg.RequestIDHeader = name
	}
}

// WithLogger sets the logger for pipeline events. Default: disabled.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *internalConfig) {
		cfg.Logger = logger
		cfg.loggerSet = true
	}
}

// WithDebug logs every dispatch and outcome at debug level to stdout,
// unless WithLogger supplied a logger.
func WithDebug(enabled bool) Option {
	return func(cfg *internalConfig) {
		cfg.Debug = enabled
	}
}
