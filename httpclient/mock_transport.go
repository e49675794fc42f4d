package httpclient

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// MockTransport is an http.RoundTripper for tests that answers from stubs
// and records every request it sees.
//
//	mock := httpclient.NewMockTransport().
//	    StubPath("/user-agent", http.StatusOK, `{"user-agent":"courier"}`).
//	    StubStatus(http.StatusNotFound)
//	client := httpclient.New(httpclient.WithMockTransport(mock))
//
// Stubs are checked in registration order; the first match wins. Requests
// no stub matches get the fallback, or a transport error when none is set.
type MockTransport struct {
	mu       sync.Mutex
	stubs    []mockStub
	fallback *mockStub
	requests []*http.Request
	bodies   [][]byte
}

// MockReply is a canned response.
type MockReply struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Err        error
}

type mockStub struct {
	match func(*http.Request) bool
	reply MockReply
}

// NewMockTransport creates a MockTransport with no stubs.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// Stub answers requests matching match with reply.
func (m *MockTransport) Stub(match func(*http.Request) bool, reply MockReply) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, mockStub{match: match, reply: reply})
	return m
}

// StubPath answers requests for path with a status and body.
func (m *MockTransport) StubPath(path string, statusCode int, body string) *MockTransport {
	return m.Stub(func(req *http.Request) bool {
		return req.URL.Path == path
	}, MockReply{StatusCode: statusCode, Body: []byte(body)})
}

// StubMethod answers requests with method with a status and body.
func (m *MockTransport) StubMethod(method string, statusCode int, body string) *MockTransport {
	return m.Stub(func(req *http.Request) bool {
		return req.Method == method
	}, MockReply{StatusCode: statusCode, Body: []byte(body)})
}

// StubResponse sets the fallback reply.
func (m *MockTransport) StubResponse(statusCode int, body string) *MockTransport {
	return m.StubReply(MockReply{StatusCode: statusCode, Body: []byte(body)})
}

// StubStatus sets a fallback reply with an empty body.
func (m *MockTransport) StubStatus(statusCode int) *MockTransport {
	return m.StubReply(MockReply{StatusCode: statusCode})
}

// StubError makes every unmatched request fail with err.
func (m *MockTransport) StubError(err error) *MockTransport {
	return m.StubReply(MockReply{Err: err})
}

// StubReply sets the fallback reply.
func (m *MockTransport) StubReply(reply MockReply) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = &mockStub{reply: reply}
	return m
}

// RoundTrip implements http.RoundTripper.
func (m *MockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	m.bodies = append(m.bodies, body)

	for _, s := range m.stubs {
		if s.match(req) {
			return s.reply.response(req)
		}
	}
	if m.fallback != nil {
		return m.fallback.reply.response(req)
	}
	return nil, fmt.Errorf("httpclient: no stub for %s %s", req.Method, req.URL)
}

func (r MockReply) response(req *http.Request) (*http.Response, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	header := r.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		StatusCode:    r.StatusCode,
		Status:        fmt.Sprintf("%d %s", r.StatusCode, http.StatusText(r.StatusCode)),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}, nil
}

// RequestCount returns the number of requests seen.
func (m *MockTransport) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// LastRequest returns the most recent request and its body, or nil.
func (m *MockTransport) LastRequest() (*http.Request, []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil, nil
	}
	n := len(m.requests) - 1
	return m.requests[n], m.bodies[n]
}

// Reset forgets stubs and recorded requests.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = nil
	m.fallback = nil
	m.requests = nil
	m.bodies = nil
}

// WithMockTransport replaces the network with mock. The rest of the
// transport chain still runs on top of it.
func WithMockTransport(mock *MockTransport) Option {
	return func(cfg *internalConfig) {
		cfg.MockTransport = mock
	}
}
