package httpclient

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/kroma-labs/courier-go/internal/httpbin"
)

func spanByName(spans []sdktrace.ReadOnlySpan, name string) sdktrace.ReadOnlySpan {
	for _, s := range spans {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

func TestTelemetry_Tracing(t *testing.T) {
	t.Parallel()

	clientRecorder := tracetest.NewSpanRecorder()
	clientTP := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(clientRecorder))
	serverRecorder := tracetest.NewSpanRecorder()
	serverTP := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(serverRecorder))

	server := newFixture(t, httpbin.WithTracing(serverTP, propagation.TraceContext{}))
	client := New(WithBaseURL(server.URL), WithTracerProvider(clientTP))

	c := newCollector[string]()
	client.Get("/get").ResponseString(context.Background(), c.callback())
	require.True(t, c.wait(t).result.IsSuccess())

	spans := clientRecorder.Ended()
	pipeline := spanByName(spans, "httpclient.execute GET")
	transport := spanByName(spans, "HTTP GET")
	require.NotNil(t, pipeline)
	require.NotNil(t, transport)

	assert.Equal(t, trace.SpanKindInternal, pipeline.SpanKind())
	assert.Equal(t, trace.SpanKindClient, transport.SpanKind())
	assert.Equal(t, pipeline.SpanContext().SpanID(), transport.Parent().SpanID())
	assert.Equal(t, pipeline.SpanContext().TraceID(), transport.SpanContext().TraceID())

	require.Eventually(t, func() bool {
		return len(serverRecorder.Ended()) == 1
	}, time.Second, 10*time.Millisecond)
	serverSpan := serverRecorder.Ended()[0]
	assert.Equal(t, transport.SpanContext().TraceID(), serverSpan.SpanContext().TraceID())
	assert.Equal(t, transport.SpanContext().SpanID(), serverSpan.Parent().SpanID())

	t.Run("given a status failure, then the pipeline span records an error", func(t *testing.T) {
		client.Get("/status/503").ResponseString(context.Background(), c.callback())
		require.False(t, c.wait(t).result.IsSuccess())

		var failed sdktrace.ReadOnlySpan
		for _, s := range clientRecorder.Ended() {
			if s.Name() == "httpclient.execute GET" && s.Status().Code == codes.Error {
				failed = s
			}
		}
		require.NotNil(t, failed)
		assert.Equal(t, "status", failed.Status().Description)
	})
}

func TestTelemetry_Metrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	client, _ := newTestClient(t, WithMeterProvider(mp), WithServiceName("fixture"))

	c := newCollector[string]()
	client.Get("/get").ResponseString(context.Background(), c.callback())
	require.True(t, c.wait(t).result.IsSuccess())

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	assert.True(t, names["http.client.request.duration"])
	assert.True(t, names["httpclient.pipeline.duration"])
}

func TestDebugLogging(t *testing.T) {
	t.Parallel()

	out := &syncBuffer{}
	logger := zerolog.New(out).Level(zerolog.DebugLevel)
	client, _ := newTestClient(t, WithDebug(true), WithLogger(logger))

	c := newCollector[string]()
	client.Post("/post").BodyJSON(map[string]string{"name": "courier"}).ResponseString(context.Background(), c.callback())
	require.True(t, c.wait(t).result.IsSuccess())

	logged := out.String()
	assert.Contains(t, logged, `"message":"outgoing request"`)
	assert.Contains(t, logged, `"curl":"curl -X POST`)
	assert.Contains(t, logged, "courier")
}

// syncBuffer is a bytes.Buffer safe for a logger and a reader at once.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
