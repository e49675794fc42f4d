package httpclient

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 7.5, 10}
	networkBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	sizeBuckets    = []float64{0, 100, 1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024}
	retryBuckets   = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120}
)

// metrics holds the metric instruments of the client.
//
// All record methods are safe on a nil receiver.
type metrics struct {
	// === Transport ===

	requestDuration  metric.Float64Histogram
	requestBodySize  metric.Int64Histogram
	responseBodySize metric.Int64Histogram
	activeRequests   metric.Int64UpDownCounter
	requestErrors    metric.Int64Counter

	// === Network timing ===

	openedConnections  metric.Int64Counter
	connectionDuration metric.Float64Histogram
	dnsDuration        metric.Float64Histogram
	tlsDuration        metric.Float64Histogram
	ttfb               metric.Float64Histogram

	// contentTransferDuration measures reading the response body.
	contentTransferDuration metric.Float64Histogram

	// === Pipeline ===

	// pipelineDuration covers exchange, capture and deserialization,
	// labelled by the final stage.
	pipelineDuration   metric.Float64Histogram
	rejectedDeliveries metric.Int64Counter

	// === Resilience ===

	retryAttempts   metric.Int64Counter
	retryExhausted  metric.Int64Counter
	retryDuration   metric.Float64Histogram
	breakerRequests metric.Int64Counter
	breakerState    metric.Int64Gauge
}

// newMetrics creates and registers metric instruments.
func newMetrics(meter metric.Meter) (*metrics, error) {
	m := &metrics{}
	var errs []error

	seconds := func(name, desc string, buckets []float64) metric.Float64Histogram {
		h, err := meter.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(buckets...),
		)
		errs = append(errs, err)
		return h
	}
	bytes := func(name, desc string) metric.Int64Histogram {
		h, err := meter.Int64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("By"),
			metric.WithExplicitBucketBoundaries(sizeBuckets...),
		)
		errs = append(errs, err)
		return h
	}
	counter := func(name, desc, unit string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		errs = append(errs, err)
		return c
	}

	m.requestDuration = seconds("http.client.request.duration",
		"Duration of HTTP client requests in seconds", latencyBuckets)
	m.requestBodySize = bytes("http.client.request.body.size",
		"Size of HTTP client request bodies in bytes")
	m.responseBodySize = bytes("http.client.response.body.size",
		"Size of HTTP client response bodies in bytes")
	m.requestErrors = counter("http.client.request.error",
		"Number of HTTP client request errors", "{error}")

	var err error
	m.activeRequests, err = meter.Int64UpDownCounter("http.client.active_requests",
		metric.WithDescription("Number of active HTTP client requests"),
		metric.WithUnit("{request}"),
	)
	errs = append(errs, err)

	m.openedConnections = counter("http.client.connection.opened",
		"Number of new HTTP client connections", "{connection}")
	m.connectionDuration = seconds("http.client.connection.duration",
		"Time to establish HTTP connection in seconds", networkBuckets)
	m.dnsDuration = seconds("http.client.dns.duration",
		"DNS lookup duration in seconds", networkBuckets)
	m.tlsDuration = seconds("http.client.tls.duration",
		"TLS handshake duration in seconds", networkBuckets)
	m.ttfb = seconds("http.client.ttfb",
		"Time to first response byte in seconds", latencyBuckets)
	m.contentTransferDuration = seconds("http.client.content_transfer.duration",
		"Response body download duration in seconds", latencyBuckets)

	m.pipelineDuration = seconds("httpclient.pipeline.duration",
		"Duration from exchange start to a deliverable result in seconds", latencyBuckets)
	m.rejectedDeliveries = counter("httpclient.delivery.rejected",
		"Number of results the callback executor refused to deliver", "{delivery}")

	m.retryAttempts = counter("http.client.retry.attempts",
		"Number of HTTP client retry attempts", "{attempt}")
	m.retryExhausted = counter("http.client.retry.exhausted",
		"Number of requests that exhausted all retries", "{request}")
	m.retryDuration = seconds("http.client.retry.duration",
		"Total time spent in retry loop in seconds", retryBuckets)
	m.breakerRequests = counter("http.client.breaker.requests",
		"Requests seen by the circuit breaker by result", "{request}")

	m.breakerState, err = meter.Int64Gauge("http.client.breaker.state",
		metric.WithDescription("Circuit breaker state (0=closed, 1=half-open, 2=open)"),
		metric.WithUnit("{state}"),
	)
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

func withExtra(attrs []attribute.KeyValue, extra ...attribute.KeyValue) metric.MeasurementOption {
	all := make([]attribute.KeyValue, 0, len(attrs)+len(extra))
	all = append(all, attrs...)
	all = append(all, extra...)
	return metric.WithAttributes(all...)
}

func (m *metrics) recordRequestDuration(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.requestDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

func (m *metrics) recordRequestBodySize(ctx context.Context, size int64, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.requestBodySize.Record(ctx, size, metric.WithAttributes(attrs...))
}

func (m *metrics) recordResponseBodySize(ctx context.Context, size int64, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.responseBodySize.Record(ctx, size, metric.WithAttributes(attrs...))
}

func (m *metrics) recordActiveRequestStart(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.activeRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordActiveRequestEnd(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.activeRequests.Add(ctx, -1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordError(ctx context.Context, errorType string, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.requestErrors.Add(ctx, 1, withExtra(attrs, attribute.String("error.type", errorType)))
}

func (m *metrics) recordConnectionOpened(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.openedConnections.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordConnectionDuration(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.connectionDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

func (m *metrics) recordDNSDuration(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.dnsDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

func (m *metrics) recordTLSDuration(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.tlsDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

func (m *metrics) recordTTFB(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.ttfb.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

func (m *metrics) recordContentTransferDuration(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.contentTransferDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

// recordPipeline records one finished exchange labelled by its final stage.
func (m *metrics) recordPipeline(ctx context.Context, stage Stage, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.pipelineDuration.Record(ctx, d.Seconds(), withExtra(attrs, attribute.String("httpclient.stage", stage.String())))
}

func (m *metrics) recordRejectedDelivery(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.rejectedDeliveries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordRetryAttempt(ctx context.Context, attrs []attribute.KeyValue, attempt int) {
	if m == nil {
		return
	}
	m.retryAttempts.Add(ctx, 1, withExtra(attrs, attribute.Int("retry.attempt", attempt)))
}

func (m *metrics) recordRetryExhausted(ctx context.Context, attrs []attribute.KeyValue) {
	if m == nil {
		return
	}
	m.retryExhausted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *metrics) recordRetryDuration(ctx context.Context, attrs []attribute.KeyValue, d time.Duration) {
	if m == nil {
		return
	}
	m.retryDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

// recordBreakerRequest counts a request by breaker result:
// "success", "failure" or "rejected".
func (m *metrics) recordBreakerRequest(ctx context.Context, name, result string) {
	if m == nil {
		return
	}
	m.breakerRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker.name", name),
		attribute.String("breaker.result", result),
	))
}

func (m *metrics) recordBreakerState(ctx context.Context, name string, state int64) {
	if m == nil {
		return
	}
	m.breakerState.Record(ctx, state, metric.WithAttributes(attribute.String("breaker.name", name)))
}
