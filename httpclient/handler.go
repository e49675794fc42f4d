package httpclient

// Callback receives the outcome of one request as a single Result.
//
// req is never nil. res is nil only for KindTransport failures.
type Callback[T any] func(req *Request, res *Response, result Result[T])

// Handler receives the outcome of one request split into success and failure.
// Exactly one of the methods is called per request.
type Handler[T any] interface {
	OnSuccess(req *Request, res *Response, value T)
	OnFailure(req *Request, res *Response, err *Error)
}

// HandlerFuncs builds a Handler from two functions. A nil function is skipped.
//
//	handler := httpclient.HandlerFuncs[string]{
//	    Success: func(_ *httpclient.Request, _ *httpclient.Response, body string) { fmt.Println(body) },
//	    Failure: func(_ *httpclient.Request, _ *httpclient.Response, err *httpclient.Error) { log.Print(err) },
//	}
type HandlerFuncs[T any] struct {
	Success func(req *Request, res *Response, value T)
	Failure func(req *Request, res *Response, err *Error)
}

// OnSuccess calls h.Success.
func (h HandlerFuncs[T]) OnSuccess(req *Request, res *Response, value T) {
	if h.Success != nil {
		h.Success(req, res, value)
	}
}

// OnFailure calls h.Failure.
func (h HandlerFuncs[T]) OnFailure(req *Request, res *Response, err *Error) {
	if h.Failure != nil {
		h.Failure(req, res, err)
	}
}

// handlerCallback folds a Handler into a Callback, so both shapes share one
// delivery path.
func handlerCallback[T any](h Handler[T]) Callback[T] {
	if h == nil {
		panic("httpclient: nil handler")
	}
	return func(req *Request, res *Response, result Result[T]) {
		result.Fold(
			func(v T) { h.OnSuccess(req, res, v) },
			func(err *Error) { h.OnFailure(req, res, err) },
		)
	}
}
