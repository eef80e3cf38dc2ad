// Package testutil provides testing utilities for the opportunity harvester.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines the behavior for one mocked page response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockAPI is a configurable mock of the listing search API. Responses are
// selected by the "page" query parameter.
type MockAPI struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[int]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	requestCount      int
	requestedPages    []int
	lastQuery         url.Values
	lastRequestHeader http.Header
}

// NewMockAPI creates a new mock search API server.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		handlers: make(map[int]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))

		mock.mu.Lock()
		mock.requestCount++
		mock.requestedPages = append(mock.requestedPages, page)
		mock.lastQuery = r.URL.Query()
		mock.lastRequestHeader = r.Header.Clone()
		handler, exists := mock.handlers[page]
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
func (m *MockAPI) URL() string {
	return m.server.URL
}

// SearchURL returns the search endpoint URL on the mock server.
func (m *MockAPI) SearchURL() string {
	return m.server.URL + "/api/public/opportunity/search-result"
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.requestedPages = nil
	m.lastQuery = nil
	m.lastRequestHeader = nil
}

// SetHandler sets a custom handler for a specific page.
func (m *MockAPI) SetHandler(page int, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[page] = handler
}

// SetResponse configures a simple response for a page.
func (m *MockAPI) SetResponse(page int, resp MockResponse) {
	m.SetHandler(page, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
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

// ServeListing configures pages 1..ceil(total/perPage) with generated items.
// The last page is short when total is not a multiple of perPage.
func (m *MockAPI) ServeListing(total, perPage int) {
	pages := (total + perPage - 1) / perPage
	for page := 1; page <= pages; page++ {
		count := perPage
		if remaining := total - (page-1)*perPage; remaining < perPage {
			count = remaining
		}
		m.SetResponse(page, NewListingResponse(total, GenerateItems(page, perPage, count)))
	}
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockAPI) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// RequestedPages returns the sorted page numbers that were requested.
func (m *MockAPI) RequestedPages() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pages := append([]int(nil), m.requestedPages...)
	sort.Ints(pages)
	return pages
}

// LastQuery returns the query parameters of the most recent request.
func (m *MockAPI) LastQuery() url.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastQuery
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockAPI) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRequestHeader
}

// defaultHandler answers unknown pages with an empty listing.
func (m *MockAPI) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"data": {"total": 0, "data": []}}`))
}

// GenerateItems builds count listing items for a page. Ids are sequential
// across pages: page p item i has id (p-1)*perPage + i + 1.
func GenerateItems(page, perPage, count int) []map[string]any {
	items := make([]map[string]any, 0, count)
	for i := 0; i < count; i++ {
		id := (page-1)*perPage + i + 1
		items = append(items, map[string]any{
			"id":    id,
			"title": fmt.Sprintf("Opportunity %d", id),
			"type":  "competition",
			"organisation": map[string]any{
				"name": fmt.Sprintf("Org %d", id%7),
				"logo": map[string]any{"url": fmt.Sprintf("https://cdn.example/%d.png", id)},
			},
			"filters": []any{"open", fmt.Sprintf("page-%d", page)},
		})
	}
	return items
}

// NewListingResponse creates a 200 OK response with the standard envelope.
func NewListingResponse(total int, items []map[string]any) MockResponse {
	body, err := json.Marshal(map[string]any{
		"data": map[string]any{
			"total": total,
			"data":  items,
		},
	})
	if err != nil {
		panic(fmt.Sprintf("marshal listing: %v", err))
	}
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       string(body),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"error": "Not found"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewMalformedResponse creates a 200 OK response whose body is not valid JSON.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"data": {"total": 3, "data": [`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}
