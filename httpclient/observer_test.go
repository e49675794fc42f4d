package httpclient

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusObserver(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	observer := NewPrometheusObserver(reg)

	mock := NewMockTransport().
		StubPath("/ok", http.StatusOK, "fine").
		StubPath("/missing", http.StatusNotFound, "nope")
	mock.Stub(func(r *http.Request) bool { return r.URL.Path == "/down" }, MockReply{Err: errors.New("connection refused")})

	client := New(
		WithMockTransport(mock),
		WithBaseURL("http://example.test"),
		WithObserver(observer),
	)

	c := newCollector[string]()
	for _, path := range []string{"/ok", "/ok", "/missing", "/down"} {
		client.Get(path).ResponseString(context.Background(), c.callback())
		c.wait(t)
	}

	assert.InDelta(t, 2, testutil.ToFloat64(observer.deliveries.WithLabelValues("GET", "200", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(observer.deliveries.WithLabelValues("GET", "404", "status")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(observer.deliveries.WithLabelValues("GET", "none", "transport")), 0)

	count, err := testutil.GatherAndCount(reg, "courier_delivery_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	t.Run("given a nil observer, then ObserveDelivery is a no-op", func(t *testing.T) {
		var o *PrometheusObserver
		assert.NotPanics(t, func() { o.ObserveDelivery(nil, nil, nil, 0) })
	})
}

func TestObserverFunc(t *testing.T) {
	t.Parallel()

	t.Run("given successes and failures, then the observer sees each delivery once before the callback", func(t *testing.T) {
		t.Parallel()

		var mu sync.Mutex
		seen := map[string]*Error{}
		observer := ObserverFunc(func(req *Request, _ *Response, err *Error, elapsed time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			_, dup := seen[req.ID()]
			assert.False(t, dup, "request %s observed twice", req.ID())
			assert.GreaterOrEqual(t, elapsed, time.Duration(0))
			seen[req.ID()] = err
		})

		client, _ := newTestClient(t, WithObserver(observer))

		c := newCollector[string]()
		client.Get("/get").ResponseString(context.Background(), c.callback())
		client.Get("/status/500").ResponseString(context.Background(), c.callback())

		for range 2 {
			d := c.wait(t)
			mu.Lock()
			err, ok := seen[d.req.ID()]
			mu.Unlock()
			require.True(t, ok, "callback ran before the observer")
			if d.result.IsSuccess() {
				assert.Nil(t, err)
			} else {
				require.NotNil(t, err)
				assert.Equal(t, KindStatus, err.Kind)
			}
		}
	})
}
