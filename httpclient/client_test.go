package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/kroma-labs/courier-go/internal/httpbin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type headersEnvelope struct {
	Headers map[string]string `json:"headers"`
}

// headersDecoder only implements the byte entry point.
type headersDecoder struct{}

func (headersDecoder) DeserializeBytes(data []byte) (headersEnvelope, error) {
	var v headersEnvelope
	err := json.Unmarshal(data, &v)
	return v, err
}

// strictDecoder rejects anything that is not a JSON object with a "url".
type strictDecoder struct{}

var errMalformed = errors.New("malformed content")

func (strictDecoder) DeserializeString(content string) (string, error) {
	var v struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(content), &v); err != nil || v.URL == "" {
		return "", errMalformed
	}
	return v.URL, nil
}

func TestClient_Scenarios(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	ctx := context.Background()

	t.Run("given a text decoder on /user-agent, then status 200 and the body as text", func(t *testing.T) {
		t.Parallel()

		c := newCollector[string]()
		client.Get("/user-agent").Header("User-Agent", "courier-test").ResponseString(ctx, c.callback())

		d := c.wait(t)
		require.NotNil(t, d.res)
		assert.Equal(t, http.StatusOK, d.res.StatusCode())

		body, err := d.result.Get()
		require.NoError(t, err)
		assert.JSONEq(t, `{"user-agent":"courier-test"}`, body)
	})

	t.Run("given a document decoder on /user-agent, then a JSON object", func(t *testing.T) {
		t.Parallel()

		c := newCollector[*Document]()
		client.Get("/user-agent").Header("User-Agent", "courier-test").ResponseJSON(ctx, c.callback())

		d := c.wait(t)
		require.NotNil(t, d.res)
		assert.Equal(t, http.StatusOK, d.res.StatusCode())

		doc, err := d.result.Get()
		require.NoError(t, err)
		obj, ok := doc.Obj()
		require.True(t, ok)
		assert.Equal(t, "courier-test", obj["user-agent"])
	})

	t.Run("given a typed decoder on /headers, then a non-empty header map", func(t *testing.T) {
		t.Parallel()

		c := newCollector[headersEnvelope]()
		ResponseObject(ctx, client.Get("/headers"), Object[headersEnvelope](headersDecoder{}), c.callback())

		d := c.wait(t)
		require.NotNil(t, d.res)
		assert.Equal(t, http.StatusOK, d.res.StatusCode())

		v, err := d.result.Get()
		require.NoError(t, err)
		assert.NotEmpty(t, v.Headers)
	})

	t.Run("given a latin1 body, then the text is decoded with its charset", func(t *testing.T) {
		t.Parallel()

		c := newCollector[string]()
		client.Get("/encoding/latin1").ResponseString(ctx, c.callback())

		body, err := c.wait(t).result.Get()
		require.NoError(t, err)
		assert.Equal(t, httpbin.Latin1Text, body)
	})
}

func TestClient_NotFound(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	ctx := context.Background()

	type outcome struct {
		res     *Response
		err     error
		hasData bool
	}

	tests := []struct {
		name     string
		dispatch func(t *testing.T, rb *RequestBuilder) outcome
	}{
		{
			name: "given a text decoder, then a status error with the response",
			dispatch: func(t *testing.T, rb *RequestBuilder) outcome {
				c := newCollector[string]()
				rb.ResponseString(ctx, c.callback())
				d := c.wait(t)
				v, err := d.result.Get()
				return outcome{res: d.res, err: err, hasData: v != ""}
			},
		},
		{
			name: "given a document decoder, then a status error with the response",
			dispatch: func(t *testing.T, rb *RequestBuilder) outcome {
				c := newCollector[*Document]()
				rb.ResponseJSON(ctx, c.callback())
				d := c.wait(t)
				v, err := d.result.Get()
				return outcome{res: d.res, err: err, hasData: v != nil}
			},
		},
		{
			name: "given a typed decoder, then a status error with the response",
			dispatch: func(t *testing.T, rb *RequestBuilder) outcome {
				c := newCollector[headersEnvelope]()
				ResponseObject(ctx, rb, Object[headersEnvelope](headersDecoder{}), c.callback())
				d := c.wait(t)
				v, err := d.result.Get()
				return outcome{res: d.res, err: err, hasData: v.Headers != nil}
			},
		},
		{
			name: "given a bytes decoder, then a status error with the response",
			dispatch: func(t *testing.T, rb *RequestBuilder) outcome {
				c := newCollector[[]byte]()
				rb.ResponseBytes(ctx, c.callback())
				d := c.wait(t)
				v, err := d.result.Get()
				return outcome{res: d.res, err: err, hasData: v != nil}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.dispatch(t, client.Get("/404"))

			require.NotNil(t, got.res)
			assert.Equal(t, http.StatusNotFound, got.res.StatusCode())
			assert.False(t, got.hasData)

			var herr *Error
			require.ErrorAs(t, got.err, &herr)
			assert.Equal(t, KindStatus, herr.Kind)
			assert.Same(t, got.res, herr.Response)
			assert.ErrorIs(t, got.err, ErrUnacceptableStatus)
			assert.Equal(t, http.StatusNotFound, herr.StatusCode())
		})
	}
}

func TestClient_DecodeFailures(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	ctx := context.Background()

	t.Run("given a decoder that rejects malformed content, then a decode error wrapping its cause", func(t *testing.T) {
		t.Parallel()

		c := newCollector[string]()
		ResponseObject(ctx, client.Get("/xml"), Object[string](strictDecoder{}), c.callback())

		d := c.wait(t)
		require.NotNil(t, d.res)
		assert.Equal(t, http.StatusOK, d.res.StatusCode())

		err := d.result.Err()
		require.NotNil(t, err)
		assert.Equal(t, KindDecode, err.Kind)
		assert.Same(t, d.res, err.Response)
		assert.ErrorIs(t, err, errMalformed)
	})

	t.Run("given the same decoder and well-formed content, then the value", func(t *testing.T) {
		t.Parallel()

		c := newCollector[string]()
		ResponseObject(ctx, client.Get("/get"), Object[string](strictDecoder{}), c.callback())

		v, err := c.wait(t).result.Get()
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(v, "/get"))
	})

	t.Run("given a panicking decoder, then a decode error and the caller keeps running", func(t *testing.T) {
		t.Parallel()

		panicking := DeserializerFunc[int](func(*Response) (int, error) {
			panic("boom")
		})

		c := newCollector[int]()
		assert.NotPanics(t, func() {
			ResponseObject(ctx, client.Get("/get"), panicking, c.callback())
		})

		err := c.wait(t).result.Err()
		require.NotNil(t, err)
		assert.Equal(t, KindDecode, err.Kind)

		var perr *PanicError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "boom", perr.Value)
	})

	t.Run("given malformed JSON for a document, then a decode error", func(t *testing.T) {
		t.Parallel()

		c := newCollector[*Document]()
		client.Get("/xml").ResponseJSON(ctx, c.callback())

		err := c.wait(t).result.Err()
		require.NotNil(t, err)
		assert.Equal(t, KindDecode, err.Kind)
	})

	t.Run("given a decoder with no entry point, then ErrNoDeserializer", func(t *testing.T) {
		t.Parallel()

		c := newCollector[string]()
		ResponseObject(ctx, client.Get("/get"), Object[string](struct{}{}), c.callback())

		err := c.wait(t).result.Err()
		require.NotNil(t, err)
		assert.Equal(t, KindDecode, err.Kind)
		assert.ErrorIs(t, err, ErrNoDeserializer)
	})
}

func TestClient_TransportFailures(t *testing.T) {
	t.Parallel()

	t.Run("given an unreachable host, then a transport error without a response", func(t *testing.T) {
		t.Parallel()

		server := newFixture(t)
		addr := server.URL
		server.Close()

		client := New(WithBaseURL(addr))
		c := newCollector[string]()
		client.Get("/get").ResponseString(context.Background(), c.callback())

		d := c.wait(t)
		assert.Nil(t, d.res)
		require.NotNil(t, d.result.Err())
		assert.Equal(t, KindTransport, d.result.Err().Kind)
		assert.Nil(t, d.result.Err().Response)
		assert.Equal(t, 0, d.result.Err().StatusCode())
	})

	t.Run("given a cancelled context, then a transport error wrapping context.Canceled", func(t *testing.T) {
		t.Parallel()

		client, _ := newTestClient(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		c := newCollector[string]()
		client.Get("/get").ResponseString(ctx, c.callback())

		d := c.wait(t)
		assert.Nil(t, d.res)
		require.NotNil(t, d.result.Err())
		assert.Equal(t, KindTransport, d.result.Err().Kind)
		assert.ErrorIs(t, d.result.Err(), context.Canceled)
		c.assertNoMore(t)
	})

	t.Run("given a deadline shorter than the server delay, then one transport error", func(t *testing.T) {
		t.Parallel()

		client, _ := newTestClient(t)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		c := newCollector[string]()
		client.Get("/delay/2000").ResponseString(ctx, c.callback())

		d := c.wait(t)
		require.NotNil(t, d.result.Err())
		assert.Equal(t, KindTransport, d.result.Err().Kind)
		assert.ErrorIs(t, d.result.Err(), context.DeadlineExceeded)
		c.assertNoMore(t)
	})

	t.Run("given a body over MaxBodyBytes, then ErrBodyTooLarge", func(t *testing.T) {
		t.Parallel()

		cfg := DefaultConfig()
		cfg.MaxBodyBytes = 8
		client, _ := newTestClient(t, WithConfig(cfg))

		c := newCollector[[]byte]()
		client.Get("/bytes/64").ResponseBytes(context.Background(), c.callback())

		err := c.wait(t).result.Err()
		require.NotNil(t, err)
		assert.Equal(t, KindTransport, err.Kind)
		assert.ErrorIs(t, err, ErrBodyTooLarge)
	})

	t.Run("given a body encoding error, then a transport error and nothing sent", func(t *testing.T) {
		t.Parallel()

		mock := NewMockTransport().StubStatus(http.StatusOK)
		client := New(WithMockTransport(mock), WithBaseURL("http://example.test"))

		c := newCollector[string]()
		client.Post("/post").BodyJSON(make(chan int)).ResponseString(context.Background(), c.callback())

		err := c.wait(t).result.Err()
		require.NotNil(t, err)
		assert.Equal(t, KindTransport, err.Kind)
		assert.Equal(t, 0, mock.RequestCount())
	})
}

func TestClient_ExactlyOnce(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	ctx := context.Background()
	paths := []string{"/get", "/status/404", "/status/500", "/xml", "/json"}

	t.Run("given many callback dispatches, then one delivery each", func(t *testing.T) {
		t.Parallel()

		var mu sync.Mutex
		seen := make(map[string]int)
		var wg sync.WaitGroup

		for i := range 25 {
			wg.Add(1)
			client.Get(paths[i%len(paths)]).ResponseJSON(ctx, func(req *Request, res *Response, result Result[*Document]) {
				defer wg.Done()
				mu.Lock()
				seen[req.ID()]++
				mu.Unlock()

				if result.IsSuccess() {
					assert.NotNil(t, res)
					assert.Nil(t, result.Err())
				} else {
					v, _ := result.Value()
					assert.Nil(t, v)
				}
			})
		}

		waitGroup(t, &wg)
		assert.Len(t, seen, 25)
		for id, n := range seen {
			assert.Equal(t, 1, n, "request %s", id)
		}
	})

	t.Run("given many handler dispatches, then exactly one method per request", func(t *testing.T) {
		t.Parallel()

		var successes, failures atomic.Int32
		var mu sync.Mutex
		seen := make(map[string]int)
		var wg sync.WaitGroup

		record := func(req *Request) {
			mu.Lock()
			seen[req.ID()]++
			mu.Unlock()
			wg.Done()
		}
		handler := HandlerFuncs[string]{
			Success: func(req *Request, res *Response, _ string) {
				assert.NotNil(t, res)
				successes.Add(1)
				record(req)
			},
			Failure: func(req *Request, _ *Response, err *Error) {
				assert.NotNil(t, err)
				failures.Add(1)
				record(req)
			},
		}

		for i := range 25 {
			wg.Add(1)
			client.Get(paths[i%len(paths)]).ResponseStringHandler(ctx, handler)
		}

		waitGroup(t, &wg)
		assert.Equal(t, int32(15), successes.Load())
		assert.Equal(t, int32(10), failures.Load())
		for id, n := range seen {
			assert.Equal(t, 1, n, "request %s", id)
		}
	})
}

func waitGroup(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(deliveryTimeout):
		t.Fatal("timed out waiting for deliveries")
	}
}

func TestClient_RepeatedDispatch(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport().StubResponse(http.StatusOK, "ok")
	client := New(WithMockTransport(mock), WithBaseURL("http://example.test"))
	rb := client.Get("/get").Param("q", "1")

	c := newCollector[string]()
	first := rb.ResponseString(context.Background(), c.callback())
	second := rb.ResponseString(context.Background(), c.callback())

	d1, d2 := c.wait(t), c.wait(t)
	assert.NotEqual(t, first.ID(), second.ID())
	assert.ElementsMatch(t, []string{first.ID(), second.ID()}, []string{d1.req.ID(), d2.req.ID()})
	assert.NotSame(t, d1.res, d2.res)
	assert.Equal(t, 2, mock.RequestCount())
	assert.Equal(t, first.URL(), second.URL())
	c.assertNoMore(t)
}

func TestClient_Executors(t *testing.T) {
	t.Parallel()

	t.Run("given a rejecting callback executor, then the rejection handler gets the request", func(t *testing.T) {
		t.Parallel()

		rejected := make(chan *RejectedDeliveryError, 1)
		cause := errors.New("loop stopped")
		client, _ := newTestClient(t,
			WithCallbackExecutor(ExecutorFunc(func(func()) error { return cause })),
			WithRejectionHandler(func(err *RejectedDeliveryError) { rejected <- err }),
		)

		var called atomic.Bool
		req := client.Get("/get").ResponseString(context.Background(), func(*Request, *Response, Result[string]) {
			called.Store(true)
		})

		select {
		case err := <-rejected:
			assert.Same(t, req, err.Request)
			assert.ErrorIs(t, err, cause)
		case <-time.After(deliveryTimeout):
			t.Fatal("rejection handler not called")
		}
		assert.False(t, called.Load())
	})

	t.Run("given a rejecting background executor, then a transport error wrapping ErrExecutorRejected", func(t *testing.T) {
		t.Parallel()

		mock := NewMockTransport().StubStatus(http.StatusOK)
		client := New(
			WithMockTransport(mock),
			WithBaseURL("http://example.test"),
			WithCallbackExecutor(DirectExecutor()),
			WithBackgroundExecutor(ExecutorFunc(func(func()) error { return errors.New("queue full") })),
		)

		c := newCollector[string]()
		client.Get("/get").ResponseString(context.Background(), c.callback())

		d := c.wait(t)
		assert.Nil(t, d.res)
		require.NotNil(t, d.result.Err())
		assert.Equal(t, KindTransport, d.result.Err().Kind)
		assert.ErrorIs(t, d.result.Err(), ErrExecutorRejected)
		assert.Equal(t, 0, mock.RequestCount())
	})

	t.Run("given a serial callback executor, then callbacks run one at a time", func(t *testing.T) {
		t.Parallel()

		loop := NewSerialExecutor()
		t.Cleanup(loop.Close)
		client, _ := newTestClient(t, WithCallbackExecutor(loop))

		var running, overlap atomic.Int32
		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)
			client.Get("/get").ResponseString(context.Background(), func(*Request, *Response, Result[string]) {
				defer wg.Done()
				if running.Add(1) > 1 {
					overlap.Add(1)
				}
				time.Sleep(time.Millisecond)
				running.Add(-1)
			})
		}

		waitGroup(t, &wg)
		assert.Zero(t, overlap.Load())
	})

	t.Run("given a panicking callback, then the client keeps delivering", func(t *testing.T) {
		t.Parallel()

		client, _ := newTestClient(t)
		reached := make(chan struct{})
		client.Get("/get").ResponseString(context.Background(), func(*Request, *Response, Result[string]) {
			close(reached)
			panic("callback bug")
		})
		<-reached

		c := newCollector[string]()
		client.Get("/get").ResponseString(context.Background(), c.callback())
		assert.True(t, c.wait(t).result.IsSuccess())
	})
}

func TestClient_UpdateDefaults(t *testing.T) {
	t.Parallel()

	t.Run("given defaults updated after dispatch, then the request keeps its snapshot", func(t *testing.T) {
		t.Parallel()

		var pending func()
		mock := NewMockTransport().StubStatus(http.StatusOK)
		client := New(
			WithMockTransport(mock),
			WithBaseURL("http://example.test"),
			WithBaseHeaders(map[string]string{"X-Env": "old"}),
			WithBackgroundExecutor(ExecutorFunc(func(task func()) error {
				pending = task
				return nil
			})),
		)

		c := newCollector[string]()
		req := client.Get("/get").ResponseString(context.Background(), c.callback())

		client.UpdateDefaults(func(d *Defaults) {
			d.BaseHeaders["X-Env"] = "new"
			d.BaseURL = "http://other.test"
		})
		require.NotNil(t, pending)
		pending()
		c.wait(t)

		sent, _ := mock.LastRequest()
		require.NotNil(t, sent)
		assert.Equal(t, "old", sent.Header.Get("X-Env"))
		assert.Equal(t, "example.test", sent.URL.Host)
		assert.Equal(t, "old", req.Header().Get("X-Env"))

		next := client.Get("/get").Build()
		assert.Equal(t, "new", next.Header().Get("X-Env"))
		assert.Equal(t, "http://other.test/get", next.URL())
	})

	t.Run("given concurrent updates, then none is lost", func(t *testing.T) {
		t.Parallel()

		client := New(WithBaseParams(Param{Key: "seed", Value: "0"}))
		var wg sync.WaitGroup
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				client.UpdateDefaults(func(d *Defaults) {
					d.BaseParams = append(d.BaseParams, Param{Key: "n", Value: "1"})
				})
			}()
		}
		wg.Wait()

		assert.Len(t, client.Defaults().BaseParams, 51)
	})

	t.Run("given a copy from Defaults is mutated, then the client is unaffected", func(t *testing.T) {
		t.Parallel()

		client := New(WithBaseHeaders(map[string]string{"A": "1"}))
		d := client.Defaults()
		d.BaseHeaders["A"] = "2"

		assert.Equal(t, "1", client.Defaults().BaseHeaders["A"])
	})
}

func TestClient_RequestShaping(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t,
		WithBaseHeaders(map[string]string{"X-Base": "base", "X-Override": "base"}),
		WithBaseParams(Param{Key: "key", Value: "value"}, Param{Key: "page", Value: "0"}),
		WithRequestIDHeader(httpbin.RequestIDHeader),
	)
	ctx := context.Background()

	t.Run("given GET with params, then base and request params land in the query", func(t *testing.T) {
		t.Parallel()

		c := newCollector[httpbin.Echo]()
		rb := client.Get("/get").Header("X-Override", "request").Param("page", "2")
		ResponseObject(ctx, rb, JSONOf[httpbin.Echo](), c.callback())

		d := c.wait(t)
		echo, err := d.result.Get()
		require.NoError(t, err)

		assert.Equal(t, map[string]any{"key": "value", "page": "2"}, echo.Args)
		assert.Equal(t, "base", echo.Headers["X-Base"])
		assert.Equal(t, "request", echo.Headers["X-Override"])
		assert.Equal(t, d.req.ID(), echo.Headers[http.CanonicalHeaderKey(httpbin.RequestIDHeader)])
		assert.Equal(t, d.req.ID(), d.res.Header().Get(httpbin.RequestIDHeader))
	})

	t.Run("given POST with params and no body, then params are form encoded", func(t *testing.T) {
		t.Parallel()

		c := newCollector[httpbin.Echo]()
		ResponseObject(ctx, client.Post("/post").Param("foo", "bar"), JSONOf[httpbin.Echo](), c.callback())

		echo, err := c.wait(t).result.Get()
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"key": "value", "page": "0", "foo": "bar"}, echo.Form)
		assert.Empty(t, echo.Args)
	})

	t.Run("given POST with a JSON body and params, then params go to the query", func(t *testing.T) {
		t.Parallel()

		c := newCollector[httpbin.Echo]()
		rb := client.Post("/post").Param("foo", "bar").Body(map[string]int{"id": 7})
		ResponseObject(ctx, rb, JSONOf[httpbin.Echo](), c.callback())

		echo, err := c.wait(t).result.Get()
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":7}`, string(echo.JSON))
		assert.Equal(t, "bar", echo.Args["foo"])
	})

	t.Run("given PUT with a form body, then the form is sent", func(t *testing.T) {
		t.Parallel()

		c := newCollector[httpbin.Echo]()
		rb := client.Put("/put").Body(url.Values{"a": {"1"}})
		ResponseObject(ctx, rb, JSONOf[httpbin.Echo](), c.callback())

		echo, err := c.wait(t).result.Get()
		require.NoError(t, err)
		assert.Equal(t, "1", echo.Form["a"])
	})

	t.Run("given an absolute URL, then the base URL is ignored", func(t *testing.T) {
		t.Parallel()

		other := newFixture(t)
		c := newCollector[string]()
		req := client.Get(other.URL + "/get").ResponseString(ctx, c.callback())

		assert.True(t, strings.HasPrefix(req.URL(), other.URL+"/get?"))
		assert.True(t, c.wait(t).result.IsSuccess())
	})
}

func TestClient_SuccessStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		opts        []Option
		path        string
		wantSuccess bool
	}{
		{
			name:        "given the default range, then 204 is a success",
			path:        "/status/204",
			wantSuccess: true,
		},
		{
			name:        "given the default range, then 500 is a status error",
			path:        "/status/500",
			wantSuccess: false,
		},
		{
			name:        "given a range accepting 4xx, then 404 is decoded",
			opts:        []Option{WithStatusRange(200, 499)},
			path:        "/status/404",
			wantSuccess: true,
		},
		{
			name:        "given a predicate accepting only 201, then 200 is a status error",
			opts:        []Option{WithSuccessStatus(func(code int) bool { return code == http.StatusCreated })},
			path:        "/get",
			wantSuccess: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client, _ := newTestClient(t, tt.opts...)
			c := newCollector[string]()
			client.Get(tt.path).ResponseString(context.Background(), c.callback())

			d := c.wait(t)
			require.NotNil(t, d.res)
			assert.Equal(t, tt.wantSuccess, d.result.IsSuccess())
			if !tt.wantSuccess {
				assert.Equal(t, KindStatus, d.result.Err().Kind)
			}
		})
	}
}

func TestClient_Interceptors(t *testing.T) {
	t.Parallel()

	t.Run("given bearer and user agent interceptors, then the headers are sent", func(t *testing.T) {
		t.Parallel()

		mock := NewMockTransport().StubStatus(http.StatusOK)
		client := New(
			WithMockTransport(mock),
			WithBaseURL("http://example.test"),
			WithRequestInterceptor(AuthBearerInterceptor("token")),
			WithRequestInterceptor(UserAgentInterceptor("courier/1.0")),
			WithRequestInterceptor(APIKeyInterceptor("X-API-Key", "secret")),
		)

		c := newCollector[string]()
		client.Get("/get").ResponseString(context.Background(), c.callback())
		c.wait(t)

		sent, _ := mock.LastRequest()
		require.NotNil(t, sent)
		assert.Equal(t, "Bearer token", sent.Header.Get("Authorization"))
		assert.Equal(t, "courier/1.0", sent.Header.Get("User-Agent"))
		assert.Equal(t, "secret", sent.Header.Get("X-API-Key"))
	})

	t.Run("given a failing token source, then a transport error and nothing sent", func(t *testing.T) {
		t.Parallel()

		mock := NewMockTransport().StubStatus(http.StatusOK)
		errToken := errors.New("token expired")
		client := New(
			WithMockTransport(mock),
			WithBaseURL("http://example.test"),
			WithRequestInterceptor(AuthBearerFuncInterceptor(func() (string, error) { return "", errToken })),
		)

		c := newCollector[string]()
		client.Get("/get").ResponseString(context.Background(), c.callback())

		err := c.wait(t).result.Err()
		require.NotNil(t, err)
		assert.Equal(t, KindTransport, err.Kind)
		assert.ErrorIs(t, err, errToken)
		assert.Equal(t, 0, mock.RequestCount())
	})
}

func TestClient_TraceInfo(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)

	t.Run("given EnableTrace, then the response carries timing", func(t *testing.T) {
		t.Parallel()

		c := newCollector[string]()
		client.Get("/get").EnableTrace().ResponseString(context.Background(), c.callback())

		d := c.wait(t)
		require.NotNil(t, d.res.TraceInfo())
		assert.NotEqual(t, "0s", d.res.TraceInfo().TotalTime)
	})

	t.Run("given no EnableTrace, then no timing", func(t *testing.T) {
		t.Parallel()

		c := newCollector[string]()
		client.Get("/get").ResponseString(context.Background(), c.callback())

		d := c.wait(t)
		assert.Nil(t, d.res.TraceInfo())
		assert.Contains(t, d.res.TraceInfo().String(), "nil")
	})
}

func TestClient_PoolStats(t *testing.T) {
	t.Parallel()

	t.Run("given the built-in transport behind the full chain, then its pool settings", func(t *testing.T) {
		t.Parallel()

		client := New(
			WithConfig(HighThroughputConfig()),
			WithRetryConfig(DefaultRetryConfig()),
			WithBreakerConfig(DefaultBreakerConfig()),
			WithRateLimit(DefaultRateLimitConfig()),
		)

		stats := client.PoolStats()
		assert.Equal(t, 500, stats.MaxIdleConns)
		assert.Equal(t, 100, stats.MaxIdleConnsPerHost)
		assert.Equal(t, 0, stats.MaxConnsPerHost)
		assert.Equal(t, 120*time.Second, stats.IdleConnTimeout)
	})

	t.Run("given a mock transport, then the zero value", func(t *testing.T) {
		t.Parallel()

		client := New(WithMockTransport(NewMockTransport()))
		assert.Equal(t, PoolStats{}, client.PoolStats())
	})
}

// panickingTransport panics on every round trip.
type panickingTransport struct{}

func (panickingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	panic("transport boom")
}

func TestClient_PanicContainment(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	tests := []struct {
		name string
		opts []Option
		want any
	}{
		{
			name: "given a panicking interceptor, then a transport failure is delivered",
			opts: []Option{
				WithMockTransport(NewMockTransport().StubStatus(http.StatusOK)),
				WithRequestInterceptor(func(*http.Request) error { panic("interceptor boom") }),
			},
			want: "interceptor boom",
		},
		{
			name: "given a panicking transport, then a transport failure is delivered",
			opts: []Option{WithTransport(panickingTransport{})},
			want: "transport boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			for _, exec := range []Executor{DirectExecutor(), GoroutineExecutor()} {
				opts := append([]Option{
					WithBaseURL("http://example.test"),
					WithBackgroundExecutor(exec),
				}, tt.opts...)
				client := New(opts...)

				c := newCollector[string]()
				assert.NotPanics(t, func() {
					client.Get("/get").ResponseString(ctx, c.callback())
				})

				d := c.wait(t)
				assert.Nil(t, d.res)
				err := d.result.Err()
				require.NotNil(t, err)
				assert.Equal(t, KindTransport, err.Kind)

				var perr *PanicError
				require.ErrorAs(t, err, &perr)
				assert.Equal(t, "exchange", perr.Source)
				assert.Equal(t, tt.want, perr.Value)
				c.assertNoMore(t)
			}
		})
	}

	t.Run("given a panicking observer, then the callback still runs exactly once", func(t *testing.T) {
		t.Parallel()

		var observed atomic.Int32
		observer := ObserverFunc(func(*Request, *Response, *Error, time.Duration) {
			observed.Add(1)
			panic("observer boom")
		})

		client := New(
			WithMockTransport(NewMockTransport().StubResponse(http.StatusOK, "ok")),
			WithBaseURL("http://example.test"),
			WithObserver(observer),
		)

		c := newCollector[string]()
		client.Get("/get").ResponseString(ctx, c.callback())

		d := c.wait(t)
		body, err := d.result.Get()
		require.NoError(t, err)
		assert.Equal(t, "ok", body)
		c.assertNoMore(t)
		assert.Equal(t, int32(1), observed.Load())
	})
}
