package httpclient

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kroma-labs/courier-go/internal/httpbin"
)

const deliveryTimeout = 5 * time.Second

// delivery is one callback invocation.
type delivery[T any] struct {
	req    *Request
	res    *Response
	result Result[T]
}

// collector records deliveries so a test can wait for them.
type collector[T any] struct {
	ch chan delivery[T]
}

func newCollector[T any]() *collector[T] {
	return &collector[T]{ch: make(chan delivery[T], 64)}
}

func (c *collector[T]) callback() Callback[T] {
	return func(req *Request, res *Response, result Result[T]) {
		c.ch <- delivery[T]{req: req, res: res, result: result}
	}
}

func (c *collector[T]) wait(t *testing.T) delivery[T] {
	t.Helper()
	select {
	case d := <-c.ch:
		return d
	case <-time.After(deliveryTimeout):
		t.Fatal("timed out waiting for delivery")
		return delivery[T]{}
	}
}

// assertNoMore fails if another delivery arrives within a short window.
func (c *collector[T]) assertNoMore(t *testing.T) {
	t.Helper()
	select {
	case d := <-c.ch:
		t.Fatalf("unexpected extra delivery for request %s", d.req.ID())
	case <-time.After(50 * time.Millisecond):
	}
}

func newFixture(t *testing.T, opts ...httpbin.Option) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(httpbin.New(opts...))
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T, opts ...Option) (*Client, *httptest.Server) {
	t.Helper()
	server := newFixture(t)
	return New(append([]Option{WithBaseURL(server.URL)}, opts...)...), server
}
