// Package pagination provides probing and bounded parallel fetching for the paginated search API
package pagination

import (
	"context"
	"sync"
	"time"

	"github.com/Sternrassler/opportunity-harvester/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

// Prometheus metrics for page fetching.
var (
	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_pages_total",
		Help: "Total pages fetched by result",
	}, []string{"result"})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvest_fetch_duration_seconds",
		Help:    "Duration of a full multi-page fetch in seconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})
)

// Config holds batch fetcher configuration
type Config struct {
	// PageSize is the per_page value sent with every request
	PageSize int
	// MaxConcurrency is the maximum number of in-flight page requests
	MaxConcurrency int
	// MaxPages caps the number of pages fetched when the reported total is
	// implausible. Zero disables the cap.
	MaxPages int
}

// DefaultConfig returns the default configuration for the public search API
func DefaultConfig() Config {
	return Config{
		PageSize:       50,
		MaxConcurrency: 10,
		MaxPages:       2000,
	}
}

// PageFetcher is the interface the search client implements for single-page fetching
type PageFetcher interface {
	// FetchPage fetches a single page and returns its items + the reported total item count
	FetchPage(ctx context.Context, page, perPage int) (items []record.Record, totalItems int, err error)
}

// PageResult is the settled outcome of one page request: either Items or Err.
type PageResult struct {
	Page  int
	Items []record.Record
	Err   error // *PageFetchError on failure
}

// OK reports whether the page succeeded.
func (r PageResult) OK() bool {
	return r.Err == nil
}

// Outcome holds every page result of a run, indexed by page number.
type Outcome struct {
	TotalItems int
	TotalPages int

	// Pages[i] is the result for page i+1. Page 1 is always present.
	Pages []PageResult
}

// Records concatenates the items of all successful pages in ascending page order.
func (o *Outcome) Records() []record.Record {
	n := 0
	for _, p := range o.Pages {
		n += len(p.Items)
	}
	records := make([]record.Record, 0, n)
	for _, p := range o.Pages {
		if p.OK() {
			records = append(records, p.Items...)
		}
	}
	return records
}

// Failed returns the failed page results in page order.
func (o *Outcome) Failed() []PageResult {
	var failed []PageResult
	for _, p := range o.Pages {
		if !p.OK() {
			failed = append(failed, p)
		}
	}
	return failed
}

// Succeeded returns the number of successful pages.
func (o *Outcome) Succeeded() int {
	return len(o.Pages) - len(o.Failed())
}

// BatchFetcher handles bounded parallel fetching of all pages
type BatchFetcher struct {
	fetcher PageFetcher
	config  Config
}

// NewBatchFetcher creates a new batch fetcher
func NewBatchFetcher(fetcher PageFetcher, config Config) *BatchFetcher {
	if config.PageSize <= 0 {
		config.PageSize = 50
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 10
	}

	return &BatchFetcher{
		fetcher: fetcher,
		config:  config,
	}
}

// Config returns the effective configuration.
func (bf *BatchFetcher) Config() Config {
	return bf.config
}

// FetchAll probes page 1 and then fetches the remaining pages.
// The only error returned is a *ProbeError; page failures are recorded in the Outcome.
func (bf *BatchFetcher) FetchAll(ctx context.Context) (*Outcome, error) {
	probe, err := Probe(ctx, bf.fetcher, bf.config.PageSize)
	if err != nil {
		return nil, err
	}
	return bf.FetchRemaining(ctx, probe), nil
}

// FetchRemaining fetches pages 2..TotalPages with at most MaxConcurrency requests
// in flight. TotalPages is capped at MaxPages when that is set. Every page
// settles into its own slot, so the outcome order is independent of
// completion order. A failed page never cancels its siblings.
func (bf *BatchFetcher) FetchRemaining(ctx context.Context, probe *ProbeResult) *Outcome {
	start := time.Now()
	defer func() {
		fetchDuration.Observe(time.Since(start).Seconds())
	}()

	totalPages := probe.TotalPages
	if limit := bf.config.MaxPages; limit > 0 && totalPages > limit {
		log.Warn().
			Int("total_items", probe.TotalItems).
			Int("total_pages", totalPages).
			Int("max_pages", limit).
			Msg("Reported total exceeds page ceiling, fetching first pages only")
		totalPages = limit
	}

	slots := totalPages
	if slots < 1 {
		slots = 1
	}
	outcome := &Outcome{
		TotalItems: probe.TotalItems,
		TotalPages: totalPages,
		Pages:      make([]PageResult, slots),
	}
	outcome.Pages[0] = PageResult{Page: 1, Items: probe.FirstPage}

	if totalPages <= 1 {
		log.Info().
			Int("pages", 1).
			Int("records", len(probe.FirstPage)).
			Dur("duration", time.Since(start)).
			Msg("Fetch complete (single page)")
		return outcome
	}

	log.Info().
		Int("total_pages", totalPages).
		Int("workers", bf.config.MaxConcurrency).
		Msg("Starting parallel page fetch")

	workers := bf.config.MaxConcurrency
	if remaining := totalPages - 1; remaining < workers {
		workers = remaining
	}

	pageQueue := make(chan int)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go bf.worker(ctx, pageQueue, outcome.Pages, &wg, i)
	}

	for page := 2; page <= totalPages; page++ {
		pageQueue <- page
	}
	close(pageQueue)
	wg.Wait()

	for _, failed := range outcome.Failed() {
		log.Warn().
			Err(failed.Err).
			Int("page", failed.Page).
			Msg("Page skipped")
	}

	log.Info().
		Int("pages", outcome.Succeeded()).
		Int("failed", len(outcome.Failed())).
		Int("total", totalPages).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return outcome
}

// worker processes pages from the queue. Each page number is received by
// exactly one worker, which is the only writer of slots[page-1].
func (bf *BatchFetcher) worker(ctx context.Context, pageQueue <-chan int, slots []PageResult, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	pagesProcessed := 0

	for pageNum := range pageQueue {
		slots[pageNum-1] = bf.fetchOne(ctx, pageNum, workerID)
		pagesProcessed++
	}

	log.Debug().
		Int("worker_id", workerID).
		Int("pages_processed", pagesProcessed).
		Msg("Worker completed")
}

// fetchOne settles a single page into a PageResult.
func (bf *BatchFetcher) fetchOne(ctx context.Context, pageNum, workerID int) PageResult {
	// Pages still queued after cancellation settle as failures without a request.
	if err := ctx.Err(); err != nil {
		pagesTotal.WithLabelValues(resultFailure).Inc()
		return PageResult{Page: pageNum, Err: &PageFetchError{Page: pageNum, Err: err}}
	}

	items, _, err := bf.fetcher.FetchPage(ctx, pageNum, bf.config.PageSize)
	if err != nil {
		pagesTotal.WithLabelValues(resultFailure).Inc()
		log.Warn().
			Err(err).
			Int("worker_id", workerID).
			Int("page", pageNum).
			Msg("Page fetch failed")
		return PageResult{Page: pageNum, Err: &PageFetchError{Page: pageNum, Err: err}}
	}

	pagesTotal.WithLabelValues(resultSuccess).Inc()
	log.Info().
		Int("page", pageNum).
		Int("records", len(items)).
		Msg("Fetched page")

	return PageResult{Page: pageNum, Items: items}
}
