// Package client provides the HTTP client for the public opportunity search API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/opportunity-harvester/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for search API requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_requests_total",
		Help: "Total search API requests by HTTP status",
	}, []string{"status"})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvest_request_duration_seconds",
		Help:    "Search API request duration in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_request_errors_total",
		Help: "Total search API errors by class",
	}, []string{"class"})
)

// Default request settings for the public search API.
const (
	DefaultBaseURL   = "https://unstop.com/api/public/opportunity/search-result"
	DefaultKind      = "competitions"
	DefaultStatus    = "open"
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/142.0.0.0 Safari/537.36"
	DefaultAccept    = "application/json, text/plain, */*"
	DefaultTimeout   = 30 * time.Second
)

// Client issues search requests. A single Client is safe for concurrent use;
// its *http.Client and connection pool are shared by all page fetches.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the search endpoint.
	BaseURL string

	// OpportunityKind is sent as the "opportunity" query parameter (e.g. "competitions").
	OpportunityKind string

	// Status is sent as the "oppstatus" query parameter (e.g. "open").
	Status string

	// Request headers
	UserAgent string
	Accept    string
	Referer   string // derived from kind and status when empty

	// Timeout bounds a single request. Zero disables the timeout.
	Timeout time.Duration
}

// DefaultConfig returns the configuration used against the public API.
func DefaultConfig() Config {
	return Config{
		BaseURL:         DefaultBaseURL,
		OpportunityKind: DefaultKind,
		Status:          DefaultStatus,
		UserAgent:       DefaultUserAgent,
		Accept:          DefaultAccept,
		Timeout:         DefaultTimeout,
	}
}

// New creates a new search client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url must be absolute (got %q)", cfg.BaseURL)
	}
	if cfg.OpportunityKind == "" {
		return nil, fmt.Errorf("opportunity kind is required")
	}
	if cfg.Accept == "" {
		cfg.Accept = DefaultAccept
	}
	if cfg.Referer == "" {
		cfg.Referer = defaultReferer(base, cfg.OpportunityKind, cfg.Status)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: base,
		config:  cfg,
		logger:  log.With().Str("component", "search-client").Logger(),
	}, nil
}

// defaultReferer builds the listing page URL a browser would come from.
func defaultReferer(base *url.URL, kind, status string) string {
	ref := url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/" + kind}
	if status != "" {
		ref.RawQuery = url.Values{"oppstatus": []string{status}}.Encode()
	}
	return ref.String()
}

// SearchPage is one decoded page of search results.
type SearchPage struct {
	// Total is the total item count reported by the API (0 if missing or non-numeric).
	Total int
	Items []record.Record
}

type searchEnvelope struct {
	Data *struct {
		Total any              `json:"total"`
		Items *[]record.Record `json:"data"`
	} `json:"data"`
}

// PageURL returns the request URL for the given page.
func (c *Client) PageURL(page, perPage int) string {
	u := *c.baseURL
	q := u.Query()
	q.Set("opportunity", c.config.OpportunityKind)
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	if c.config.Status != "" {
		q.Set("oppstatus", c.config.Status)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Search fetches and decodes one page of results.
// Non-2xx responses, transport failures and malformed bodies return an *APIError.
func (c *Client) Search(ctx context.Context, page, perPage int) (*SearchPage, error) {
	if page < 1 || perPage < 1 {
		return nil, fmt.Errorf("page and per_page must be positive (got %d, %d)", page, perPage)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.PageURL(page, perPage), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", c.config.Accept)
	req.Header.Set("Referer", c.config.Referer)

	c.logger.Debug().
		Int("page", page).
		Int("per_page", perPage).
		Msg("Executing search request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	requestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		requestsTotal.WithLabelValues("network_error").Inc()
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &APIError{
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		}
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		class := classifyStatus(resp.StatusCode)
		errorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Debug().
			Int("page", page).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Search request error")
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: class,
			Message:    resp.Status,
		}
	}

	result, err := decodeSearchPage(resp.Body)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassDecode,
			Message:    "decode response",
			Err:        err,
		}
	}

	return result, nil
}

// FetchPage fetches one page and returns its items and the reported total.
func (c *Client) FetchPage(ctx context.Context, page, perPage int) ([]record.Record, int, error) {
	result, err := c.Search(ctx, page, perPage)
	if err != nil {
		return nil, 0, err
	}
	return result.Items, result.Total, nil
}

// decodeSearchPage parses the {data: {total, data: [...]}} envelope.
func decodeSearchPage(r io.Reader) (*SearchPage, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var env searchEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, err
	}
	if env.Data == nil {
		return nil, ErrMissingEnvelope
	}
	if env.Data.Items == nil {
		return nil, ErrMissingItems
	}

	return &SearchPage{
		Total: parseTotal(env.Data.Total),
		Items: *env.Data.Items,
	}, nil
}

// parseTotal converts the reported total to an int. Missing, non-numeric,
// negative or out-of-range values count as 0.
func parseTotal(v any) int {
	n, ok := v.(json.Number)
	if !ok {
		return 0
	}
	if i, err := n.Int64(); err == nil {
		if i < 0 || i > math.MaxInt32 {
			return 0
		}
		return int(i)
	}
	f, err := n.Float64()
	if err != nil || f < 0 || f > math.MaxInt32 || math.IsNaN(f) {
		return 0
	}
	return int(f)
}

// Close releases idle connections held by the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Config returns the effective client configuration.
func (c *Client) Config() Config {
	return c.config
}
