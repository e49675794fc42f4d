package httpclient

import (
	"net/http"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Client dispatches requests asynchronously and delivers typed results to
// callbacks.
//
// Create a Client using New():
//
//	client := httpclient.New(
//	    httpclient.WithBaseURL("https://httpbin.org"),
//	    httpclient.WithServiceName("httpbin-client"),
//	)
//
//	client.Get("/user-agent").ResponseString(ctx, func(req *httpclient.Request, res *httpclient.Response, result httpclient.Result[string]) {
//	    body, err := result.Get()
//	    ...
//	})
//
// A Client is safe for concurrent use.
type Client struct {
	// httpClient is the underlying HTTP client with transport chain.
	httpClient *http.Client

	// config holds all client configuration.
	config *internalConfig

	// defaults is swapped as a whole on every update.
	defaults atomic.Pointer[Defaults]

	logger zerolog.Logger
}

// New creates a Client with the built-in transport, or the one supplied by
// WithTransport or WithMockTransport.
//
// The transport chain, from the outside in, is instrumentation, circuit
// breaker, retry, rate limit and the base transport. Circuit breaking, retry
// and rate limiting are only present when configured.
func New(opts ...Option) *Client {
	cfg := newConfig(opts...)
	return newClient(cfg, cfg.baseTransport())
}

// NewWithTransport creates a Client on top of base.
//
// It is equivalent to New(append(opts, WithTransport(base))...).
func NewWithTransport(base http.RoundTripper, opts ...Option) *Client {
	cfg := newConfig(append(opts, WithTransport(base))...)
	return newClient(cfg, cfg.baseTransport())
}

// NewTransport wraps base with the configured transport decorators and
// OpenTelemetry instrumentation, for use with a plain *http.Client.
func NewTransport(base http.RoundTripper, opts ...Option) http.RoundTripper {
	cfg := newConfig(opts...)
	return wrapTransport(base, cfg)
}

func newClient(cfg *internalConfig, base http.RoundTripper) *Client {
	httpClient := &http.Client{
		Transport: wrapTransport(base, cfg),
		Timeout:   cfg.httpConfig.Timeout,
	}

	c := &Client{
		httpClient: httpClient,
		config:     cfg,
		logger:     cfg.Logger.With().Str("component", "httpclient").Logger(),
	}
	initial := cfg.Defaults.clone()
	c.defaults.Store(&initial)
	return c
}

func wrapTransport(base http.RoundTripper, cfg *internalConfig) http.RoundTripper {
	limited := newRateLimitTransport(base, cfg.RateLimit)
	withRetry := newRetryTransport(limited, cfg)
	withBreaker := newBreakerTransport(withRetry, cfg)
	return newOtelTransport(withBreaker, cfg)
}

// HTTP returns the underlying *http.Client, for code that needs a plain
// synchronous client with the same transport chain.
func (c *Client) HTTP() *http.Client {
	return c.httpClient
}

// Defaults returns a copy of the current Defaults.
func (c *Client) Defaults() Defaults {
	return c.defaults.Load().clone()
}

// UpdateDefaults applies fn to a copy of the current Defaults and installs
// the result. Requests already dispatched keep the Defaults they started with.
//
//	client.UpdateDefaults(func(d *httpclient.Defaults) {
//	    d.BaseHeaders["Authorization"] = "Bearer " + token
//	})
func (c *Client) UpdateDefaults(fn func(*Defaults)) {
	for {
		current := c.defaults.Load()
		next := current.clone()
		if next.BaseHeaders == nil {
			next.BaseHeaders = make(map[string]string)
		}
		fn(&next)
		if c.defaults.CompareAndSwap(current, &next) {
			return
		}
	}
}

// Request creates a RequestBuilder for an arbitrary method.
//
// path is joined with Defaults.BaseURL unless it is an absolute http or
// https URL.
func (c *Client) Request(method, path string) *RequestBuilder {
	return &RequestBuilder{
		client:  c,
		method:  method,
		path:    path,
		headers: make(http.Header),
	}
}

// Get creates a GET RequestBuilder.
func (c *Client) Get(path string) *RequestBuilder {
	return c.Request(http.MethodGet, path)
}

// Post creates a POST RequestBuilder.
func (c *Client) Post(path string) *RequestBuilder {
	return c.Request(http.MethodPost, path)
}

// Put creates a PUT RequestBuilder.
func (c *Client) Put(path string) *RequestBuilder {
	return c.Request(http.MethodPut, path)
}

// Patch creates a PATCH RequestBuilder.
func (c *Client) Patch(path string) *RequestBuilder {
	return c.Request(http.MethodPatch, path)
}

// Delete creates a DELETE RequestBuilder.
func (c *Client) Delete(path string) *RequestBuilder {
	return c.Request(http.MethodDelete, path)
}

// Head creates a HEAD RequestBuilder.
func (c *Client) Head(path string) *RequestBuilder {
	return c.Request(http.MethodHead, path)
}
