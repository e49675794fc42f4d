package httpclient

import (
	"net/http"
)

// RequestInterceptor mutates an outgoing request after it was built from
// the merged Defaults and before it reaches the transport chain. An error
// fails the request with KindTransport.
//
// Interceptors run in the order they were registered with
// WithRequestInterceptor.
type RequestInterceptor func(req *http.Request) error

// AuthBearerInterceptor sets a static Bearer token.
func AuthBearerInterceptor(token string) RequestInterceptor {
	return func(req *http.Request) error {
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}
}

// AuthBearerFuncInterceptor sets a Bearer token obtained per request, for
// tokens that refresh.
func AuthBearerFuncInterceptor(tokenFunc func() (string, error)) RequestInterceptor {
	return func(req *http.Request) error {
		token, err := tokenFunc()
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}
}

// APIKeyInterceptor sets an API key header.
func APIKeyInterceptor(headerName, apiKey string) RequestInterceptor {
	return func(req *http.Request) error {
		req.Header.Set(headerName, apiKey)
		return nil
	}
}

// UserAgentInterceptor overrides the User-Agent header.
func UserAgentInterceptor(userAgent string) RequestInterceptor {
	return func(req *http.Request) error {
		req.Header.Set("User-Agent", userAgent)
		return nil
	}
}
