package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptrace"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Stage is a step of the request pipeline. Every request moves through
// Built and Dispatched, ends the exchange in one of the outcome stages and
// finishes in Delivered.
type Stage int

const (
	StageBuilt Stage = iota
	StageDispatched
	StageTransportFailed
	StageTransportSucceeded
	StageStatusRejected
	StageDecodeFailed
	StageDecoded
	StageDelivered
)

func (s Stage) String() string {
	switch s {
	case StageBuilt:
		return "built"
	case StageDispatched:
		return "dispatched"
	case StageTransportFailed:
		return "transport_failed"
	case StageTransportSucceeded:
		return "transport_succeeded"
	case StageStatusRejected:
		return "status_rejected"
	case StageDecodeFailed:
		return "decode_failed"
	case StageDecoded:
		return "decoded"
	case StageDelivered:
		return "delivered"
	default:
		return "unknown"
	}
}

// outcome is what a single exchange produced, ready for delivery.
type outcome[T any] struct {
	res     *Response
	result  Result[T]
	stage   Stage
	elapsed time.Duration
}

// dispatch merges rb with the current Defaults and hands the exchange to
// the background executor. It never blocks on the network.
func dispatch[T any](ctx context.Context, rb *RequestBuilder, d Deserializer[T], cb Callback[T]) *Request {
	if cb == nil {
		panic("httpclient: nil callback")
	}
	if d == nil {
		panic("httpclient: nil deserializer")
	}

	c := rb.client
	defaults := c.Defaults()
	req := rb.build(defaults)

	callbackExec := defaults.CallbackExecutor
	if callbackExec == nil {
		callbackExec = GoroutineExecutor()
	}

	c.logger.Debug().
		Str("request_id", req.id).
		Str("method", req.method).
		Str("url", req.url).
		Stringer("stage", StageDispatched).
		Msg("request dispatched")

	started := time.Now()
	err := c.config.BackgroundExecutor.Execute(func() {
		out := execute(ctx, c, req, d)
		deliver(ctx, c, callbackExec, req, out, cb)
	})
	if err != nil {
		if !errors.Is(err, ErrExecutorRejected) {
			err = fmt.Errorf("%w: %w", ErrExecutorRejected, err)
		}
		out := outcome[T]{
			result:  Failure[T](newTransportError(err)),
			stage:   StageTransportFailed,
			elapsed: time.Since(started),
		}
		deliver(ctx, c, callbackExec, req, out, cb)
	}

	return req
}

// execute performs the exchange, captures the response and runs the
// deserializer. Every failure is returned as a Result, never as a panic.
func execute[T any](ctx context.Context, c *Client, req *Request, d Deserializer[T]) outcome[T] {
	started := time.Now()
	ctx, span := c.config.Tracer.Start(ctx, "httpclient.execute "+req.method,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("httpclient.request_id", req.id),
			attribute.String("http.request.method", req.method),
			attribute.String("url.full", req.url),
		),
	)
	defer span.End()

	out := safeExchange(ctx, c, req, d)
	out.elapsed = time.Since(started)

	span.SetAttributes(attribute.String("httpclient.stage", out.stage.String()))
	if out.res != nil {
		span.SetAttributes(attribute.Int("http.response.status_code", out.res.statusCode))
	}
	if ferr := out.result.Err(); ferr != nil {
		span.RecordError(ferr)
		span.SetStatus(codes.Error, ferr.Kind.String())
	}

	c.config.Metrics.recordPipeline(ctx, out.stage, out.elapsed, c.config.baseAttributes())
	return out
}

// safeExchange runs exchange and turns a panic from an interceptor or a
// custom transport into a transport failure, so the request is still
// delivered.
func safeExchange[T any](ctx context.Context, c *Client, req *Request, d Deserializer[T]) (out outcome[T]) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Str("request_id", req.id).
				Interface("panic", r).
				Msg("exchange panicked")
			out = outcome[T]{
				result: Failure[T](newTransportError(&PanicError{Source: "exchange", Value: r})),
				stage:  StageTransportFailed,
			}
		}
	}()
	return exchange(ctx, c, req, d)
}

func exchange[T any](ctx context.Context, c *Client, req *Request, d Deserializer[T]) outcome[T] {
	transportFailure := func(err error) outcome[T] {
		return outcome[T]{result: Failure[T](newTransportError(err)), stage: StageTransportFailed}
	}

	httpReq, err := req.HTTPRequest(ctx)
	if err != nil {
		return transportFailure(fmt.Errorf("build request: %w", err))
	}

	for _, intercept := range c.config.RequestInterceptors {
		if err := intercept(httpReq); err != nil {
			return transportFailure(fmt.Errorf("request interceptor: %w", err))
		}
	}

	if c.config.Debug {
		logCurl(c.logger, req.id, httpReq, req.body)
	}

	var tracer *requestTracer
	if req.trace {
		tracer = &requestTracer{totalStart: time.Now()}
		httpReq = httpReq.WithContext(httptrace.WithClientTrace(httpReq.Context(), tracer.clientTrace()))
	}

	sent := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return transportFailure(err)
	}

	received := time.Now()
	res, err := captureResponse(resp, c.config.httpConfig.MaxBodyBytes, sent)
	if err != nil {
		return transportFailure(err)
	}
	c.config.Metrics.recordContentTransferDuration(ctx, time.Since(received), c.config.baseAttributes())

	if tracer != nil {
		res.traceInfo = tracer.toTraceInfo()
	}

	if !c.config.SuccessStatus(res.statusCode) {
		return outcome[T]{res: res, result: Failure[T](newStatusError(res)), stage: StageStatusRejected}
	}

	value, err := deserialize(d, res)
	if err != nil {
		return outcome[T]{res: res, result: Failure[T](newDecodeError(res, err)), stage: StageDecodeFailed}
	}

	return outcome[T]{res: res, result: Success(value), stage: StageDecoded}
}

// deliver is the single path from an outcome to the caller. Both callback
// shapes go through it.
func deliver[T any](ctx context.Context, c *Client, exec Executor, req *Request, out outcome[T], cb Callback[T]) {
	logOutcome(c, req, out)

	task := func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error().
					Str("request_id", req.id).
					Interface("panic", r).
					Msg("callback panicked")
			}
		}()

		observe(c, req, out)
		cb(req, out.res, out.result)

		c.logger.Debug().
			Str("request_id", req.id).
			Stringer("stage", StageDelivered).
			Msg("result delivered")
	}

	if err := exec.Execute(task); err != nil {
		rejected := &RejectedDeliveryError{Request: req, Cause: err}
		c.config.Metrics.recordRejectedDelivery(ctx, c.config.baseAttributes())
		c.logger.Error().
			Err(err).
			Str("request_id", req.id).
			Str("method", req.method).
			Str("url", req.url).
			Msg("callback delivery rejected")
		c.config.RejectionHandler(rejected)
	}
}

// observe notifies the Observer. A panicking Observer is logged and never
// keeps the callback from running.
func observe[T any](c *Client, req *Request, out outcome[T]) {
	if c.config.Observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Str("request_id", req.id).
				Interface("panic", r).
				Msg("observer panicked")
		}
	}()
	c.config.Observer.ObserveDelivery(req, out.res, out.result.Err(), out.elapsed)
}

func logOutcome[T any](c *Client, req *Request, out outcome[T]) {
	ferr := out.result.Err()
	if ferr == nil {
		c.logger.Debug().
			Str("request_id", req.id).
			Int("status", out.res.statusCode).
			Int("bytes", len(out.res.body)).
			Dur("duration", out.elapsed).
			Stringer("stage", out.stage).
			Msg("request completed")
		return
	}

	event := c.logger.Warn().
		Str("request_id", req.id).
		Str("method", req.method).
		Str("url", req.url).
		Stringer("kind", ferr.Kind).
		Stringer("stage", out.stage).
		Dur("duration", out.elapsed).
		Err(ferr.Cause)
	if out.res != nil {
		event = event.Int("status", out.res.statusCode)
	}
	event.Msg("request failed")
}
