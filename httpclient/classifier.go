package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
)

// RetryClassifier decides whether a round trip should be retried.
// resp is nil when err is not.
//
//	httpclient.WithRetryClassifier(func(resp *http.Response, err error) bool {
//	    if resp != nil && resp.StatusCode == http.StatusInternalServerError {
//	        return true
//	    }
//	    return httpclient.DefaultClassifier(resp, err)
//	})
type RetryClassifier func(resp *http.Response, err error) bool

// DefaultClassifier retries transient network errors and the 429, 502, 503
// and 504 status codes. It never retries cancellation, deadline expiry,
// certificate errors, unknown hosts or other status codes.
func DefaultClassifier(resp *http.Response, err error) bool {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		if errors.Is(err, ErrRateLimited) || isCircuitOpen(err) {
			return false
		}
		return !isPermanentError(err)
	}

	if resp != nil {
		return isRetryableStatusCode(resp.StatusCode)
	}
	return false
}

// StatusCodeClassifier retries the given status codes and transient network
// errors.
//
//	classifier := httpclient.StatusCodeClassifier(500, 502, 503, 504)
func StatusCodeClassifier(codes ...int) RetryClassifier {
	retryable := make(map[int]bool, len(codes))
	for _, code := range codes {
		retryable[code] = true
	}

	return func(resp *http.Response, err error) bool {
		if err != nil {
			return isRetryableNetworkError(err) && !isPermanentError(err)
		}
		return resp != nil && retryable[resp.StatusCode]
	}
}

// NeverRetryClassifier returns a classifier that never retries.
func NeverRetryClassifier() RetryClassifier {
	return func(*http.Response, error) bool { return false }
}

func isRetryableStatusCode(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// isRetryableNetworkError reports errors that usually go away on their own.
func isRetryableNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	for _, target := range []error{
		syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ECONNABORTED,
		syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH, syscall.EPIPE,
		os.ErrDeadlineExceeded, io.EOF, io.ErrUnexpectedEOF,
	} {
		if errors.Is(err, target) {
			return true
		}
	}

	return containsAny(err, "connection refused", "connection reset", "i/o timeout",
		"temporary failure", "server closed", "broken pipe", "eof")
}

// isPermanentError reports errors no retry can fix.
func isPermanentError(err error) bool {
	if err == nil {
		return false
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return true
	}

	if errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EHOSTDOWN) {
		return true
	}

	return containsAny(err, "x509:", "certificate", "tls:", "no route to host", "permission denied")
}

func containsAny(err error, patterns ...string) bool {
	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
