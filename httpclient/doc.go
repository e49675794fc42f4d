// Package httpclient is an asynchronous HTTP client. A request is built
// with a fluent builder, executed on a background executor, its response
// captured in full and decoded by a Deserializer, and the outcome handed to
// a callback on a configurable callback executor.
//
// # Quick Start
//
//	client := httpclient.New(
//	    httpclient.WithBaseURL("https://httpbin.org"),
//	    httpclient.WithBaseHeaders(map[string]string{"Accept": "application/json"}),
//	)
//
//	client.Get("/user-agent").ResponseString(ctx,
//	    func(req *httpclient.Request, res *httpclient.Response, result httpclient.Result[string]) {
//	        body, err := result.Get()
//	        ...
//	    })
//
// Every terminal operation returns the dispatched *Request immediately and
// delivers exactly one result per dispatch.
//
// # Deserialization
//
// Four strategies are built in:
//
//	client.Get("/get").ResponseString(ctx, cb)          // text, charset from Content-Type
//	client.Get("/get").ResponseBytes(ctx, cb)           // raw body
//	client.Get("/get").ResponseJSON(ctx, cb)            // *Document
//	httpclient.ResponseObject(ctx, client.Get("/get"),  // any type
//	    httpclient.JSONOf[User](), cb)
//
// Custom decoders implement Deserializer, BytesDeserializable or
// StringDeserializable; Object picks the entry point, preferring bytes.
//
// # Callbacks
//
// A result arrives either as one Callback receiving a Result, or split
// across a Handler's OnSuccess and OnFailure:
//
//	client.Get("/status/404").ResponseStringHandler(ctx, httpclient.HandlerFuncs[string]{
//	    Success: func(req *httpclient.Request, res *httpclient.Response, body string) {},
//	    Failure: func(req *httpclient.Request, res *httpclient.Response, err *httpclient.Error) {},
//	})
//
// Failures carry a Kind: KindTransport (no response), KindStatus (status
// outside the accepted range, 2xx by default) or KindDecode.
//
// # Executors
//
// Callbacks run on the CallbackExecutor of the client Defaults, a new
// goroutine per delivery unless set. DirectExecutor, SerialExecutor and
// BoundedExecutor cover the usual cases:
//
//	ui := httpclient.NewSerialExecutor()
//	defer ui.Close()
//	client.UpdateDefaults(func(d *httpclient.Defaults) { d.CallbackExecutor = ui })
//
// A callback executor that refuses a delivery triggers the
// RejectionHandler, which panics by default.
//
// # Resilience
//
// Retries, the circuit breaker and rate limiting are transport layers and
// are all off by default:
//
//	client := httpclient.New(
//	    httpclient.WithRetryConfig(httpclient.DefaultRetryConfig()),
//	    httpclient.WithBreakerConfig(httpclient.DefaultBreakerConfig()),
//	    httpclient.WithRateLimit(httpclient.DefaultRateLimitConfig()),
//	)
//
// # Observability
//
// Every exchange produces an OpenTelemetry client span with network timing
// events and the http.client.* metrics, plus an internal
// "httpclient.execute" span covering capture and decoding. Pass
// WithTracerProvider and WithMeterProvider to export them. Logging uses
// zerolog through WithLogger; WithDebug logs every request as a cURL command.
package httpclient
