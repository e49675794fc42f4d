package httpclient

import "context"

// The terminal operations below dispatch the request and return at once.
// The outcome is delivered exactly once, on the client's callback executor,
// through the callback or handler. ctx is passed to the transport; a
// cancelled ctx is delivered as a KindTransport failure.
//
// Each returns the Request that was dispatched.

// ResponseString delivers the body decoded as text.
func (rb *RequestBuilder) ResponseString(ctx context.Context, cb Callback[string]) *Request {
	return dispatch(ctx, rb, String(), cb)
}

// ResponseStringHandler delivers the body decoded as text to h.
func (rb *RequestBuilder) ResponseStringHandler(ctx context.Context, h Handler[string]) *Request {
	return dispatch(ctx, rb, String(), handlerCallback(h))
}

// ResponseJSON delivers the body parsed as a JSON Document.
func (rb *RequestBuilder) ResponseJSON(ctx context.Context, cb Callback[*Document]) *Request {
	return dispatch(ctx, rb, JSON(), cb)
}

// ResponseJSONHandler delivers the body parsed as a JSON Document to h.
func (rb *RequestBuilder) ResponseJSONHandler(ctx context.Context, h Handler[*Document]) *Request {
	return dispatch(ctx, rb, JSON(), handlerCallback(h))
}

// ResponseBytes delivers the raw body.
func (rb *RequestBuilder) ResponseBytes(ctx context.Context, cb Callback[[]byte]) *Request {
	return dispatch(ctx, rb, Bytes(), cb)
}

// ResponseBytesHandler delivers the raw body to h.
func (rb *RequestBuilder) ResponseBytesHandler(ctx context.Context, h Handler[[]byte]) *Request {
	return dispatch(ctx, rb, Bytes(), handlerCallback(h))
}

// ResponseObject delivers the body decoded by d.
//
// It is a function rather than a method because methods cannot declare
// type parameters.
//
//	httpclient.ResponseObject(ctx, client.Get("/user-agent"), httpclient.FromString[UserAgent](uaDecoder{}),
//	    func(req *httpclient.Request, res *httpclient.Response, result httpclient.Result[UserAgent]) {
//	        ua, err := result.Get()
//	        ...
//	    })
func ResponseObject[T any](ctx context.Context, rb *RequestBuilder, d Deserializer[T], cb Callback[T]) *Request {
	return dispatch(ctx, rb, d, cb)
}

// ResponseObjectHandler delivers the body decoded by d to h.
func ResponseObjectHandler[T any](ctx context.Context, rb *RequestBuilder, d Deserializer[T], h Handler[T]) *Request {
	return dispatch(ctx, rb, d, handlerCallback(h))
}
