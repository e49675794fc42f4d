package httpclient

// Result is the outcome of one request: either a decoded value or an *Error,
// never both and never neither.
//
// Destructure it positionally:
//
//	value, err := result.Get()
//
// or handle both variants exhaustively:
//
//	result.Fold(
//	    func(v User) { render(v) },
//	    func(err *httpclient.Error) { report(err) },
//	)
type Result[T any] struct {
	value T
	err   *Error
}

// Success returns a successful Result holding v.
func Success[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Failure returns a failed Result holding err.
//
// Failure panics if err is nil: a failure without a cause is a programming error.
func Failure[T any](err *Error) Result[T] {
	if err == nil {
		panic("httpclient: Failure called with nil *Error")
	}
	return Result[T]{err: err}
}

// Get returns the value and a nil error on success, or the zero value and the
// failure on error. The returned error is an untyped nil on success.
func (r Result[T]) Get() (T, error) {
	if r.err != nil {
		var zero T
		return zero, r.err
	}
	return r.value, nil
}

// Value returns the success value and true, or the zero value and false.
func (r Result[T]) Value() (T, bool) {
	if r.err != nil {
		var zero T
		return zero, false
	}
	return r.value, true
}

// Err returns the failure, or nil on success.
func (r Result[T]) Err() *Error {
	return r.err
}

// IsSuccess reports whether r holds a value.
func (r Result[T]) IsSuccess() bool {
	return r.err == nil
}

// IsFailure reports whether r holds an error.
func (r Result[T]) IsFailure() bool {
	return r.err != nil
}

// Fold calls exactly one of onSuccess or onFailure depending on the variant.
func (r Result[T]) Fold(onSuccess func(T), onFailure func(*Error)) {
	if r.err != nil {
		onFailure(r.err)
		return
	}
	onSuccess(r.value)
}
