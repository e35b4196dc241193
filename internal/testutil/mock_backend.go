// Package testutil provides testing utilities for the scraper client.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior of one mock backend response.
type MockResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

// MockBackend is a configurable mock scraper backend for testing. Paths can
// carry a fixed handler or a queue of scripted responses consumed in order.
// It also tracks the in-flight request highwater mark so tests can assert
// the client's concurrency bound.
type MockBackend struct {
	server   *httptest.Server
	mu       sync.Mutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	queues   map[string][]MockResponse

	// Tracking
	RequestCount      int
	LastRequestHeader http.Header
	inflight          int
	Highwater         int
}

// NewMockBackend creates a new mock backend server.
func NewMockBackend() *MockBackend {
	mock := &MockBackend{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
		queues:   make(map[string][]MockResponse),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		mock.inflight++
		if mock.inflight > mock.Highwater {
			mock.Highwater = mock.inflight
		}
		handler, hasHandler := mock.handlers[r.URL.Path]
		var queued *MockResponse
		if q := mock.queues[r.URL.Path]; len(q) > 0 {
			queued = &q[0]
			// The final queued response repeats for any further requests.
			if len(q) > 1 {
				mock.queues[r.URL.Path] = q[1:]
			}
		}
		mock.mu.Unlock()

		defer func() {
			mock.mu.Lock()
			mock.inflight--
			mock.mu.Unlock()
		}()

		switch {
		case hasHandler:
			handler(w, r)
		case queued != nil:
			writeMockResponse(w, *queued)
		default:
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error": "404 not found"}`)
		}
	}))

	return mock
}

func writeMockResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		fmt.Fprint(w, resp.Body)
	}
}

// URL returns the mock server URL.
func (m *MockBackend) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockBackend) Close() {
	m.server.Close()
}

// Reset clears all tracking counters and queued responses.
func (m *MockBackend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastRequestHeader = nil
	m.Highwater = 0
	m.queues = make(map[string][]MockResponse)
}

// SetHandler sets a custom handler for a specific path.
func (m *MockBackend) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// QueueResponses scripts a sequence of responses for a path. Responses are
// served in order; the last one repeats once the queue is drained.
func (m *MockBackend) QueueResponses(path string, resps ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[path] = append(m.queues[path], resps...)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockBackend) GetRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RequestCount
}

// GetHighwater returns the maximum number of simultaneously in-flight
// requests observed since the last Reset.
func (m *MockBackend) GetHighwater() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Highwater
}

// NewPageResponse builds a 200 envelope response. items is the raw JSON of
// the data array; current <= 0 omits the numeric cursor, after == "" omits
// the opaque one.
func NewPageResponse(items string, current int, after string) MockResponse {
	var b strings.Builder
	fmt.Fprintf(&b, `{"data": %s`, items)
	if current > 0 {
		fmt.Fprintf(&b, `, "current": %d`, current)
	}
	if after != "" {
		fmt.Fprintf(&b, `, "after": %q`, after)
	}
	b.WriteString("}")

	return MockResponse{StatusCode: http.StatusOK, Body: b.String()}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "429 too many requests"}`,
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"error": "404 not found"}`,
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "internal server error"}`,
	}
}

// NewMalformedResponse creates a 200 response that violates the envelope
// contract (no data field).
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"status": "ok"}`,
	}
}
