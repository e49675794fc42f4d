package httpclient

import (
	"bytes"
	"context"
	"encoding/xml"
	"net/http"
	"net/url"
	"slices"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Request is a fully merged, immutable request as it was dispatched.
//
// Every callback receives the Request that produced its result. Accessors
// return copies, so callers cannot alter a request that is in flight.
type Request struct {
	id          string
	method      string
	url         string
	header      http.Header
	params      []Param
	body        []byte
	contentType string
	trace       bool

	// buildErr is set when the builder could not encode the body.
	// The engine turns it into a transport failure.
	buildErr error
}

// ID returns the unique identifier generated for this dispatch.
func (r *Request) ID() string {
	return r.id
}

// Method returns the HTTP method.
func (r *Request) Method() string {
	return r.method
}

// URL returns the final URL, including query parameters for methods that
// carry parameters in the query string.
func (r *Request) URL() string {
	return r.url
}

// Header returns a copy of the merged request headers.
func (r *Request) Header() http.Header {
	return r.header.Clone()
}

// Params returns a copy of the merged parameters in send order.
func (r *Request) Params() []Param {
	return slices.Clone(r.params)
}

// Body returns a copy of the encoded request body.
func (r *Request) Body() []byte {
	return bytes.Clone(r.body)
}

// HTTPRequest builds the *http.Request sent to the transport.
func (r *Request) HTTPRequest(ctx context.Context) (*http.Request, error) {
	if r.buildErr != nil {
		return nil, r.buildErr
	}

	var body *bytes.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}

	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, r.method, r.url, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, r.method, r.url, nil)
	}
	if err != nil {
		return nil, err
	}

	req.Header = r.header.Clone()
	if r.contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	return req, nil
}

// CurlCommand returns an equivalent cURL command for reproducing the request.
func (r *Request) CurlCommand() string {
	req, err := r.HTTPRequest(context.Background())
	if err != nil {
		return ""
	}
	return generateCurlCommand(req, r.body)
}

// RequestBuilder collects the per-request parts of a call before dispatch.
//
// Create one from a Client verb and finish with a terminal operation:
//
//	client.Get("/headers").
//	    Header("Accept", "application/json").
//	    Param("page", "1").
//	    ResponseJSON(ctx, func(req *httpclient.Request, res *httpclient.Response, result httpclient.Result[*httpclient.Document]) {
//	        doc, err := result.Get()
//	        ...
//	    })
//
// A builder may be dispatched any number of times; each dispatch merges the
// client's current Defaults and produces an independent Request.
type RequestBuilder struct {
	client      *Client
	method      string
	path        string
	headers     http.Header
	params      []Param
	body        []byte
	hasBody     bool
	contentType string
	bodyErr     error
	enableTrace bool
}

// Header sets a single request header, replacing a base header with the same key.
func (rb *RequestBuilder) Header(key, value string) *RequestBuilder {
	rb.headers.Set(key, value)
	return rb
}

// Headers sets multiple request headers.
func (rb *RequestBuilder) Headers(headers map[string]string) *RequestBuilder {
	for k, v := range headers {
		rb.headers.Set(k, v)
	}
	return rb
}

// Param appends a request parameter.
//
// Parameters go into the query string for GET, HEAD, DELETE and OPTIONS. For other
// methods they are form encoded into the body unless a body was set.
func (rb *RequestBuilder) Param(key, value string) *RequestBuilder {
	rb.params = append(rb.params, Param{Key: key, Value: value})
	return rb
}

// Params appends multiple request parameters in order.
func (rb *RequestBuilder) Params(params ...Param) *RequestBuilder {
	rb.params = append(rb.params, params...)
	return rb
}

// Body sets the request body with automatic content type detection.
//
// Encoding rules:
//   - string: raw text (Content-Type: text/plain)
//   - []byte: raw bytes (Content-Type: application/octet-stream)
//   - url.Values: form encoded (Content-Type: application/x-www-form-urlencoded)
//   - anything else: JSON (Content-Type: application/json)
func (rb *RequestBuilder) Body(v any) *RequestBuilder {
	if v == nil {
		return rb
	}

	switch body := v.(type) {
	case string:
		rb.setBody([]byte(body), "text/plain; charset=utf-8")
	case []byte:
		rb.setBody(body, "application/octet-stream")
	case url.Values:
		rb.setBody([]byte(body.Encode()), "application/x-www-form-urlencoded")
	default:
		return rb.BodyJSON(v)
	}
	return rb
}

// BodyJSON encodes v as JSON regardless of its type.
func (rb *RequestBuilder) BodyJSON(v any) *RequestBuilder {
	data, err := json.Marshal(v)
	if err != nil {
		rb.bodyErr = err
		return rb
	}
	rb.setBody(data, "application/json")
	return rb
}

// BodyXML encodes v as XML.
func (rb *RequestBuilder) BodyXML(v any) *RequestBuilder {
	data, err := xml.Marshal(v)
	if err != nil {
		rb.bodyErr = err
		return rb
	}
	rb.setBody(data, "application/xml")
	return rb
}

// EnableTrace enables timing trace collection for this request.
func (rb *RequestBuilder) EnableTrace() *RequestBuilder {
	rb.enableTrace = true
	return rb
}

// Build merges the builder with the client's current Defaults and returns
// the Request that a dispatch at this moment would send.
func (rb *RequestBuilder) Build() *Request {
	return rb.build(rb.client.Defaults())
}

func (rb *RequestBuilder) setBody(data []byte, contentType string) {
	rb.body = data
	rb.hasBody = true
	rb.contentType = contentType
}

func (rb *RequestBuilder) build(defaults Defaults) *Request {
	params := defaults.mergeParams(rb.params)
	req := &Request{
		id:          uuid.NewString(),
		method:      rb.method,
		url:         defaults.resolveURL(rb.path),
		header:      defaults.mergeHeaders(rb.headers),
		params:      params,
		contentType: rb.contentType,
		trace:       rb.enableTrace || rb.client.config.EnableTrace,
		buildErr:    rb.bodyErr,
	}

	switch {
	case rb.hasBody:
		req.body = bytes.Clone(rb.body)
	case len(params) > 0 && !paramsInQuery(rb.method):
		req.body = []byte(encodeParams(params))
		req.contentType = "application/x-www-form-urlencoded"
	}

	if len(params) > 0 && (paramsInQuery(rb.method) || rb.hasBody) {
		req.url = appendQuery(req.url, encodeParams(params))
	}

	if name := rb.client.config.RequestIDHeader; name != "" && req.header.Get(name) == "" {
		req.header.Set(name, req.id)
	}

	return req
}

func paramsInQuery(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodDelete, http.MethodOptions:
		return true
	default:
		return false
	}
}

// encodeParams encodes params in order; url.Values would sort the keys.
func encodeParams(params []Param) string {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		parts = append(parts, url.QueryEscape(p.Key)+"="+url.QueryEscape(p.Value))
	}
	return strings.Join(parts, "&")
}

func appendQuery(rawURL, query string) string {
	if strings.Contains(rawURL, "?") {
		return rawURL + "&" + query
	}
	return rawURL + "?" + query
}
