// Package testutil provides testing utilities for the Hacker News client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockHN is a configurable mock of the Hacker News API for testing.
// Items registered with SetItem are served with an ETag and answer
// If-None-Match with 304.
type MockHN struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	items    map[int64]string

	// Tracking
	RequestCount      int
	ConditionalCount  int
	LastRequestHeader http.Header
	paths             map[string]int
}

// NewMockHN creates a new mock API server.
func NewMockHN() *MockHN {
	mock := &MockHN{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
		items:    make(map[int64]string),
		paths:    make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.paths[r.URL.Path]++
		mock.LastRequestHeader = r.Header.Clone()
		if r.Header.Get("If-None-Match") != "" {
			mock.ConditionalCount++
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockHN) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockHN) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockHN) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.ConditionalCount = 0
	m.LastRequestHeader = nil
	m.paths = make(map[string]int)
}

// SetHandler sets a custom handler for a specific path.
func (m *MockHN) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockHN) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetListing serves ids for a listing such as "top".
func (m *MockHN) SetListing(kind string, ids []int64) {
	body, _ := json.Marshal(ids)
	m.SetResponse(fmt.Sprintf("/v0/%sstories.json", kind), NewHealthyResponse(string(body)))
}

// SetItem serves body for an item id through the default handler.
func (m *MockHN) SetItem(id int64, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[id] = body
}

// SetStory serves a minimal story record.
func (m *MockHN) SetStory(id int64, title string, score int) {
	m.SetItem(id, StoryJSON(id, title, score))
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockHN) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetPathCount returns the number of requests made to path.
func (m *MockHN) GetPathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths[path]
}

// GetLastRequestHeader returns the headers of the most recent request.
func (m *MockHN) GetLastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader.Clone()
}

// GetConditionalCount returns the number of conditional requests.
func (m *MockHN) GetConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ConditionalCount
}

// defaultHandler serves registered items and answers null for everything
// else, as the real API does for unknown ids.
func (m *MockHN) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")

	var id int64
	if _, err := fmt.Sscanf(strings.TrimPrefix(r.URL.Path, "/v0/item/"), "%d.json", &id); err != nil {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("null"))
		return
	}

	m.mu.RLock()
	body, ok := m.items[id]
	m.mu.RUnlock()
	if !ok {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("null"))
		return
	}

	etag := fmt.Sprintf(`"item-%d"`, id)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	if r.Header.Get("X-Firebase-ETag") == "true" {
		w.Header().Set("ETag", etag)
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

// StoryJSON renders a story record in the API's JSON shape.
func StoryJSON(id int64, title string, score int) string {
	return fmt.Sprintf(`{"id":%d,"type":"story","by":"pg","time":1175714200,"title":%q,"score":%d,"descendants":0}`, id, title, score)
}

// NewHealthyResponse creates a standard 200 OK response.
func NewHealthyResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"Content-Type":  "application/json; charset=utf-8",
			"Cache-Control": "no-cache",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter string) MockResponse {
	headers := map[string]string{
		"Content-Type": "application/json; charset=utf-8",
	}
	if retryAfter != "" {
		headers["Retry-After"] = retryAfter
	}
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Too many requests"}`,
		Headers:    headers,
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewNotFoundResponse creates a 404 response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"error": "Permission denied"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
