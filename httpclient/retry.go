package httpclient

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RetryConfig configures the optional retry layer of the transport chain.
// Retries are disabled unless WithRetryConfig is used.
//
// The pipeline never retries by itself: a retried exchange is still one
// request, one Response and one delivery.
//
//	cfg := httpclient.DefaultRetryConfig()
//	cfg.MaxRetries = 5
//	client := httpclient.New(httpclient.WithRetryConfig(cfg))
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first. Zero disables retries.
	MaxRetries uint

	// InitialInterval is the first backoff interval.
	InitialInterval time.Duration

	// MaxInterval caps a single backoff interval.
	MaxInterval time.Duration

	// MaxElapsedTime caps the whole retry sequence. Zero means only
	// MaxRetries applies.
	MaxElapsedTime time.Duration

	// Multiplier grows the interval after each attempt.
	Multiplier float64

	// JitterFactor randomizes each interval by up to ±JitterFactor.
	// Values at or below zero fall back to DefaultJitterFactor.
	JitterFactor float64
}

// Default values for RetryConfig.
const (
	DefaultMaxRetries      = 3
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 30 * time.Second
	DefaultMaxElapsedTime  = 2 * time.Minute
	DefaultMultiplier      = 2.0
	DefaultJitterFactor    = 0.5
)

// DefaultRetryConfig returns 3 retries starting at 500ms, doubling, with a
// 2 minute budget.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      DefaultMaxRetries,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
		MaxElapsedTime:  DefaultMaxElapsedTime,
		Multiplier:      DefaultMultiplier,
		JitterFactor:    DefaultJitterFactor,
	}
}

// AggressiveRetryConfig returns 5 retries starting at 200ms with a
// 5 minute budget, for idempotent calls that must succeed.
func AggressiveRetryConfig() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxRetries = 5
	cfg.InitialInterval = 200 * time.Millisecond
	cfg.MaxInterval = 60 * time.Second
	cfg.MaxElapsedTime = 5 * time.Minute
	return cfg
}

// ConservativeRetryConfig returns 2 retries starting at 1s with a 30 second
// budget, for rate-limited or expensive services.
func ConservativeRetryConfig() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxRetries = 2
	cfg.InitialInterval = 1 * time.Second
	cfg.MaxInterval = 10 * time.Second
	cfg.MaxElapsedTime = 30 * time.Second
	return cfg
}

// NoRetryConfig disables retries. It is the client default.
func NoRetryConfig() RetryConfig {
	return RetryConfig{}
}

// IsEnabled returns true if retries are enabled.
func (c RetryConfig) IsEnabled() bool {
	return c.MaxRetries > 0
}

// ExponentialBackOffFromConfig creates an ExponentialBackOff from cfg.
// Jitter is always applied.
func ExponentialBackOffFromConfig(cfg RetryConfig) *backoff.ExponentialBackOff {
	jitter := cfg.JitterFactor
	if jitter <= 0 {
		jitter = DefaultJitterFactor
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.RandomizationFactor = jitter
	b.Multiplier = cfg.Multiplier
	b.MaxInterval = cfg.MaxInterval
	return b
}

// retryTransport retries round trips the classifier marks as transient.
type retryTransport struct {
	base       http.RoundTripper
	cfg        *internalConfig
	classifier RetryClassifier
}

func newRetryTransport(base http.RoundTripper, cfg *internalConfig) http.RoundTripper {
	if !cfg.RetryConfig.IsEnabled() {
		return base
	}

	classifier := cfg.RetryClassifier
	if classifier == nil {
		classifier = DefaultClassifier
	}

	return &retryTransport{base: base, cfg: cfg, classifier: classifier}
}

// RoundTrip implements http.RoundTripper.
func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	rc := t.cfg.RetryConfig
	span := trace.SpanFromContext(ctx)
	attrs := t.cfg.baseAttributes()
	started := time.Now()
	attempt := 0

	opts := []backoff.RetryOption{
		backoff.WithBackOff(t.backOff()),
		backoff.WithMaxTries(rc.MaxRetries + 1),
		backoff.WithNotify(func(err error, next time.Duration) {
			attempt++
			span.AddEvent("http.retry", trace.WithAttributes(
				attribute.Int("retry.attempt", attempt),
				attribute.Int64("retry.delay_ms", next.Milliseconds()),
				attribute.String("retry.reason", retryReason(err)),
			))
			t.cfg.Metrics.recordRetryAttempt(ctx, attrs, attempt)
		}),
	}
	if rc.MaxElapsedTime > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(rc.MaxElapsedTime))
	}

	// The last retryable response is kept so that an exhausted sequence
	// still hands the caller a real response instead of a synthetic error.
	var last *http.Response

	resp, err := backoff.Retry(ctx, func() (*http.Response, error) {
		attemptReq, err := rewind(req)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		resp, err := t.base.RoundTrip(attemptReq)
		if !t.classifier(resp, err) {
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			return resp, nil
		}

		if err != nil {
			return nil, err
		}

		if last != nil {
			drain(last)
		}
		last = resp
		if seconds, ok := retryAfter(resp); ok {
			return nil, backoff.RetryAfter(seconds)
		}
		return nil, &retryableStatusError{code: resp.StatusCode}
	}, opts...)

	if attempt > 0 {
		span.SetAttributes(
			attribute.Int("http.retry_count", attempt),
			attribute.Bool("http.retry_success", err == nil),
		)
	}
	t.cfg.Metrics.recordRetryDuration(ctx, attrs, time.Since(started))

	if err == nil {
		if last != nil && last != resp {
			drain(last)
		}
		return resp, nil
	}

	if attempt > 0 {
		t.cfg.Metrics.recordRetryExhausted(ctx, attrs)
	}
	if last != nil {
		if _, ok := err.(*retryableStatusError); ok || isRetryAfter(err) {
			return last, nil
		}
		drain(last)
	}
	return nil, err
}

func (t *retryTransport) backOff() backoff.BackOff {
	if t.cfg.RetryBackOff != nil {
		return t.cfg.RetryBackOff()
	}
	return ExponentialBackOffFromConfig(t.cfg.RetryConfig)
}

// retryableStatusError signals a response the classifier wants retried.
type retryableStatusError struct {
	code int
}

func (e *retryableStatusError) Error() string {
	return "retryable status " + strconv.Itoa(e.code)
}

func isRetryAfter(err error) bool {
	_, ok := err.(*backoff.RetryAfterError)
	return ok
}

// rewind returns a request with a fresh body for another attempt.
func rewind(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody || req.GetBody == nil {
		return clone, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	clone.Body = body
	return clone, nil
}

// retryAfter reads a Retry-After header given in seconds.
func retryAfter(resp *http.Response) (int, bool) {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	seconds, err := strconv.Atoi(v)
	if err != nil || seconds < 0 {
		return 0, false
	}
	return seconds, true
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func retryReason(err error) string {
	switch {
	case err == nil:
		return "unknown"
	case isRetryableNetworkError(err):
		return "network_error"
	}
	reason := err.Error()
	if len(reason) > 50 {
		reason = reason[:50] + "..."
	}
	return reason
}
