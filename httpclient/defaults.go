package httpclient

import (
	"maps"
	"net/http"
	"slices"
	"strings"
)

// Param is a single key/value request parameter. Parameters keep their order.
type Param struct {
	Key   string
	Value string
}

// Defaults holds the values every request of a Client starts from.
//
// A Client reads its Defaults once per dispatch. Changing them through
// Client.UpdateDefaults only affects requests dispatched afterwards.
//
// Example:
//
//	client := httpclient.New(
//	    httpclient.WithDefaults(httpclient.Defaults{
//	        BaseURL:          "https://httpbin.org",
//	        BaseHeaders:      map[string]string{"foo": "bar"},
//	        BaseParams:       []httpclient.Param{{Key: "key", Value: "value"}},
//	        CallbackExecutor: httpclient.DirectExecutor(),
//	    }),
//	)
type Defaults struct {
	// BaseURL is prefixed to every relative request path.
	// Absolute request URLs (with a scheme) are used as-is.
	BaseURL string

	// BaseHeaders are sent with every request. Request headers with the
	// same canonical key replace them.
	BaseHeaders map[string]string

	// BaseParams are sent with every request, before request parameters.
	// A request parameter with the same key replaces every base parameter
	// with that key.
	BaseParams []Param

	// CallbackExecutor runs result delivery. Nil means GoroutineExecutor().
	CallbackExecutor Executor
}

// clone returns a deep copy so snapshots never share maps or slices.
func (d Defaults) clone() Defaults {
	out := d
	if d.BaseHeaders != nil {
		out.BaseHeaders = maps.Clone(d.BaseHeaders)
	}
	if d.BaseParams != nil {
		out.BaseParams = slices.Clone(d.BaseParams)
	}
	return out
}

// resolveURL joins the base URL and path. A path that already carries a
// scheme is returned unchanged.
func (d Defaults) resolveURL(path string) string {
	if isAbsoluteURL(path) || d.BaseURL == "" {
		return path
	}
	if path == "" {
		return d.BaseURL
	}
	return strings.TrimSuffix(d.BaseURL, "/") + "/" + strings.TrimPrefix(path, "/")
}

// mergeHeaders applies base headers first and request headers on top.
func (d Defaults) mergeHeaders(reqHeaders http.Header) http.Header {
	merged := make(http.Header, len(d.BaseHeaders)+len(reqHeaders))
	for k, v := range d.BaseHeaders {
		merged.Set(k, v)
	}
	for k, v := range reqHeaders {
		merged[http.CanonicalHeaderKey(k)] = slices.Clone(v)
	}
	return merged
}

// mergeParams keeps base params whose key the request does not override,
// followed by the request params in their original order.
func (d Defaults) mergeParams(reqParams []Param) []Param {
	overridden := make(map[string]bool, len(reqParams))
	for _, p := range reqParams {
		overridden[p.Key] = true
	}

	merged := make([]Param, 0, len(d.BaseParams)+len(reqParams))
	for _, p := range d.BaseParams {
		if !overridden[p.Key] {
			merged = append(merged, p)
		}
	}
	return append(merged, reqParams...)
}

func isAbsoluteURL(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}
