// Package testutil provides mock implementations and testing utilities for the devflow packages.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// MockResponse is a canned reply. Body is marshaled as JSON unless it is a string.
type MockResponse struct {
	Body   any
	Header http.Header
	Status int
}

// MockHTTPDoer implements fetch.HTTPDoer for testing.
// It's programmable - you can configure responses per method and URL path.
type MockHTTPDoer struct {
	handlers map[string]func(*http.Request) MockResponse
	errors   map[string]error
	calls    []HTTPCall
	mu       sync.RWMutex
}

// HTTPCall records a single HTTP call.
type HTTPCall struct {
	Header http.Header
	Method string
	URL    string
	Body   []byte
}

// NewMockHTTPDoer creates a new MockHTTPDoer.
func NewMockHTTPDoer() *MockHTTPDoer {
	return &MockHTTPDoer{
		handlers: make(map[string]func(*http.Request) MockResponse),
		errors:   make(map[string]error),
	}
}

// Do executes the HTTP request and returns the configured response.
func (m *MockHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewReader(body)) // Restore body
	}

	key := m.makeKey(req.Method, req.URL.Path)

	m.mu.Lock()
	m.calls = append(m.calls, HTTPCall{
		Method: req.Method,
		URL:    req.URL.String(),
		Header: req.Header.Clone(),
		Body:   body,
	})
	err, hasErr := m.errors[key]
	handler, hasHandler := m.handlers[key]
	m.mu.Unlock()

	if hasErr {
		return nil, err
	}
	if !hasHandler {
		return newResponse(MockResponse{Status: http.StatusNotFound, Body: map[string]string{"message": "not found"}}), nil
	}
	return newResponse(handler(req)), nil
}

// SetResponse configures a fixed response for a method and URL path.
func (m *MockHTTPDoer) SetResponse(method, path string, status int, body any) {
	m.SetResponseFunc(method, path, func(*http.Request) MockResponse {
		return MockResponse{Status: status, Body: body}
	})
}

// SetResponseFunc configures a response computed from the request.
func (m *MockHTTPDoer) SetResponseFunc(method, path string, fn func(*http.Request) MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[m.makeKey(method, path)] = fn
}

// SetSequence configures responses returned in order; the last one repeats.
func (m *MockHTTPDoer) SetSequence(method, path string, responses ...MockResponse) {
	var mu sync.Mutex
	next := 0
	m.SetResponseFunc(method, path, func(*http.Request) MockResponse {
		mu.Lock()
		defer mu.Unlock()
		r := responses[min(next, len(responses)-1)]
		next++
		return r
	})
}

// SetError configures a transport error for a method and URL path.
func (m *MockHTTPDoer) SetError(method, path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[m.makeKey(method, path)] = err
}

// Calls returns all recorded HTTP calls.
func (m *MockHTTPDoer) Calls() []HTTPCall {
	m.mu.RLock()
	defer m.mu.RUnlock()

	calls := make([]HTTPCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// CallCount returns how many calls hit the method and URL path.
func (m *MockHTTPDoer) CallCount(method, path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, c := range m.calls {
		if c.Method == method && strings.HasSuffix(strings.SplitN(c.URL, "?", 2)[0], path) {
			n++
		}
	}
	return n
}

func (*MockHTTPDoer) makeKey(method, path string) string {
	return method + ":" + path
}

func newResponse(r MockResponse) *http.Response {
	var bodyBytes []byte
	switch b := r.Body.(type) {
	case nil:
	case string:
		bodyBytes = []byte(b)
	default:
		var err error
		bodyBytes, err = json.Marshal(b)
		if err != nil {
			panic(fmt.Sprintf("failed to marshal response body: %v", err))
		}
	}
	header := r.Header
	if header == nil {
		header = make(http.Header)
	}
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Body:       io.NopCloser(bytes.NewReader(bodyBytes)),
		Header:     header,
	}
}
