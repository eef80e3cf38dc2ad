package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/opportunity-harvester/internal/testutil"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestClient(t *testing.T, mock *testutil.MockAPI) *Client {
	t.Helper()

	cfg := DefaultConfig()
	cfg.BaseURL = mock.SearchURL()
	cfg.Timeout = 5 * time.Second

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid config",
			mutate:      func(*Config) {},
			expectError: false,
		},
		{
			name:        "empty base url",
			mutate:      func(c *Config) { c.BaseURL = "" },
			expectError: true,
			errorMsg:    "base url is required",
		},
		{
			name:        "relative base url",
			mutate:      func(c *Config) { c.BaseURL = "/api/search" },
			expectError: true,
			errorMsg:    `base url must be absolute (got "/api/search")`,
		},
		{
			name:        "empty opportunity kind",
			mutate:      func(c *Config) { c.OpportunityKind = "" },
			expectError: true,
			errorMsg:    "opportunity kind is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			client, err := New(cfg)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got nil")
					return
				}
				if tt.errorMsg != "" && err.Error() != tt.errorMsg {
					t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if client == nil {
				t.Fatal("Expected client, got nil")
			}
		})
	}
}

func TestNew_DerivesReferer(t *testing.T) {
	c, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	want := "https://unstop.com/competitions?oppstatus=open"
	if got := c.Config().Referer; got != want {
		t.Errorf("Referer = %q, want %q", got, want)
	}
}

func TestPageURL(t *testing.T) {
	c, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	got := c.PageURL(3, 50)
	want := DefaultBaseURL + "?opportunity=competitions&oppstatus=open&page=3&per_page=50"
	if got != want {
		t.Errorf("PageURL() = %q, want %q", got, want)
	}
}

func TestSearch_Success(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	mock.SetResponse(2, testutil.NewListingResponse(125, testutil.GenerateItems(2, 50, 50)))

	c := newTestClient(t, mock)
	page, err := c.Search(context.Background(), 2, 50)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	if page.Total != 125 {
		t.Errorf("Total = %d, want 125", page.Total)
	}
	if len(page.Items) != 50 {
		t.Fatalf("len(Items) = %d, want 50", len(page.Items))
	}
	if id := page.Items[0]["id"]; id != json.Number("51") {
		t.Errorf("first id = %#v, want json.Number 51", id)
	}

	query := mock.LastQuery()
	for key, want := range map[string]string{
		"opportunity": "competitions",
		"page":        "2",
		"per_page":    "50",
		"oppstatus":   "open",
	} {
		if got := query.Get(key); got != want {
			t.Errorf("query %s = %q, want %q", key, got, want)
		}
	}

	header := mock.LastRequestHeader()
	if header.Get("User-Agent") != DefaultUserAgent {
		t.Errorf("User-Agent = %q", header.Get("User-Agent"))
	}
	if header.Get("Accept") != DefaultAccept {
		t.Errorf("Accept = %q", header.Get("Accept"))
	}
	if !strings.HasSuffix(header.Get("Referer"), "/competitions?oppstatus=open") {
		t.Errorf("Referer = %q", header.Get("Referer"))
	}
}

func TestSearch_Failures(t *testing.T) {
	tests := []struct {
		name      string
		response  testutil.MockResponse
		wantClass ErrorClass
		wantIs    error
	}{
		{
			name:      "server error",
			response:  testutil.NewServerErrorResponse(),
			wantClass: ErrorClassServer,
		},
		{
			name:      "not found",
			response:  testutil.NewNotFoundResponse(),
			wantClass: ErrorClassClient,
		},
		{
			name:      "malformed json",
			response:  testutil.NewMalformedResponse(),
			wantClass: ErrorClassDecode,
		},
		{
			name:      "missing items",
			response:  testutil.MockResponse{StatusCode: http.StatusOK, Body: `{"data": {"total": 10}}`},
			wantClass: ErrorClassDecode,
			wantIs:    ErrMissingItems,
		},
		{
			name:      "null items",
			response:  testutil.MockResponse{StatusCode: http.StatusOK, Body: `{"data": {"total": 10, "data": null}}`},
			wantClass: ErrorClassDecode,
			wantIs:    ErrMissingItems,
		},
		{
			name:      "missing envelope",
			response:  testutil.MockResponse{StatusCode: http.StatusOK, Body: `{"status": "ok"}`},
			wantClass: ErrorClassDecode,
			wantIs:    ErrMissingEnvelope,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockAPI()
			defer mock.Close()
			mock.SetResponse(1, tt.response)

			c := newTestClient(t, mock)
			_, err := c.Search(context.Background(), 1, 50)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("Expected *APIError, got %T: %v", err, err)
			}
			if apiErr.ErrorClass != tt.wantClass {
				t.Errorf("ErrorClass = %q, want %q", apiErr.ErrorClass, tt.wantClass)
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("errors.Is(%v, %v) = false", err, tt.wantIs)
			}
		})
	}
}

func TestSearch_NetworkError(t *testing.T) {
	mock := testutil.NewMockAPI()
	c := newTestClient(t, mock)
	mock.Close()

	_, err := c.Search(context.Background(), 1, 50)
	if got := ClassOf(err); got != ErrorClassNetwork {
		t.Errorf("ClassOf(err) = %q, want %q (err: %v)", got, ErrorClassNetwork, err)
	}
}

func TestSearch_InvalidPage(t *testing.T) {
	c, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := c.Search(context.Background(), 0, 50); err == nil {
		t.Error("Expected error for page 0")
	}
	if _, err := c.Search(context.Background(), 1, 0); err == nil {
		t.Error("Expected error for per_page 0")
	}
}

func TestParseTotal(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected int
	}{
		{name: "integer", input: json.Number("125"), expected: 125},
		{name: "float", input: json.Number("125.0"), expected: 125},
		{name: "missing", input: nil, expected: 0},
		{name: "string", input: "125", expected: 0},
		{name: "bool", input: true, expected: 0},
		{name: "negative", input: json.Number("-4"), expected: 0},
		{name: "huge", input: json.Number("1e30"), expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseTotal(tt.input); got != tt.expected {
				t.Errorf("parseTotal(%v) = %d, want %d", tt.input, got, tt.expected)
			}
		})
	}
}

func TestDecodeSearchPage_NonNumericTotal(t *testing.T) {
	page, err := decodeSearchPage(strings.NewReader(`{"data": {"total": "many", "data": [{"id": 1}]}}`))
	if err != nil {
		t.Fatalf("decodeSearchPage failed: %v", err)
	}
	if page.Total != 0 {
		t.Errorf("Total = %d, want 0", page.Total)
	}
	if len(page.Items) != 1 {
		t.Errorf("len(Items) = %d, want 1", len(page.Items))
	}
}

func TestSearch_CountsRequestsByStatus(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse(1, testutil.NewServerErrorResponse())

	c := newTestClient(t, mock)
	before := promtestutil.ToFloat64(requestsTotal.WithLabelValues("500"))

	if _, err := c.Search(context.Background(), 1, 50); err == nil {
		t.Fatal("Expected error, got nil")
	}

	after := promtestutil.ToFloat64(requestsTotal.WithLabelValues("500"))
	if after-before != 1 {
		t.Errorf("harvest_requests_total{status=500} delta = %v, want 1", after-before)
	}
}
