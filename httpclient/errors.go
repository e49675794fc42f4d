package httpclient

import (
	"errors"
	"fmt"
)

// ErrorKind classifies where in the pipeline a request failed.
type ErrorKind int

const (
	// KindTransport means the exchange never produced a complete response:
	// connection, TLS, timeout or body read failures. No Response is available.
	KindTransport ErrorKind = iota

	// KindStatus means the server answered with a status code outside the
	// client's acceptable range. The Response is available.
	KindStatus

	// KindDecode means the deserializer rejected the response body.
	// The Response is available.
	KindDecode
)

// String returns the kind name used in logs and metric attributes.
func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindStatus:
		return "status"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

var (
	// ErrUnacceptableStatus is the cause of every KindStatus error.
	ErrUnacceptableStatus = errors.New("unacceptable status code")

	// ErrExecutorRejected is returned by an Executor that refuses a task.
	ErrExecutorRejected = errors.New("executor rejected task")

	// ErrExecutorClosed is returned by an Executor after Close.
	ErrExecutorClosed = errors.New("executor closed")

	// ErrNoDeserializer is the decode cause when a decoder passed to Object
	// implements none of the deserialization entry points.
	ErrNoDeserializer = errors.New("decoder implements no deserialization entry point")

	// ErrNullValue is the decode cause when a JSON body decodes to a nil value.
	ErrNullValue = errors.New("json body decoded to a nil value")

	// ErrBodyTooLarge is returned when a response body exceeds Config.MaxBodyBytes.
	ErrBodyTooLarge = errors.New("response body too large")
)

// Error is the failure side of every Result.
//
// It always carries the underlying Cause. Response is nil for KindTransport
// failures and non-nil for KindStatus and KindDecode failures.
//
// Example:
//
//	data, err := result.Get()
//	if err != nil {
//	    var herr *httpclient.Error
//	    if errors.As(err, &herr) && herr.Kind == httpclient.KindStatus {
//	        log.Printf("server said %d", herr.StatusCode())
//	    }
//	}
type Error struct {
	Kind     ErrorKind
	Response *Response
	Cause    error
}

func newTransportError(cause error) *Error {
	return &Error{Kind: KindTransport, Cause: cause}
}

func newStatusError(res *Response) *Error {
	return &Error{
		Kind:     KindStatus,
		Response: res,
		Cause:    fmt.Errorf("%w: %d", ErrUnacceptableStatus, res.StatusCode()),
	}
}

func newDecodeError(res *Response, cause error) *Error {
	return &Error{Kind: KindDecode, Response: res, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Response != nil {
		return fmt.Sprintf("httpclient: %s error (HTTP %d): %v", e.Kind, e.Response.StatusCode(), e.Cause)
	}
	return fmt.Sprintf("httpclient: %s error: %v", e.Kind, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// StatusCode returns the response status code, or 0 when no response was captured.
func (e *Error) StatusCode() int {
	if e.Response == nil {
		return 0
	}
	return e.Response.StatusCode()
}

// PanicError wraps a value recovered from panicking caller code: a
// deserializer, a request interceptor or a custom transport.
type PanicError struct {
	// Source names the code that panicked, e.g. "deserializer".
	Source string
	Value  any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s panicked: %v", e.Source, e.Value)
}

// RejectedDeliveryError reports that the callback executor refused to run a
// delivery. The callback for Request never ran.
type RejectedDeliveryError struct {
	Request *Request
	Cause   error
}

func (e *RejectedDeliveryError) Error() string {
	return fmt.Sprintf("httpclient: callback delivery for %s %s rejected: %v",
		e.Request.Method(), e.Request.URL(), e.Cause)
}

func (e *RejectedDeliveryError) Unwrap() error {
	return e.Cause
}
