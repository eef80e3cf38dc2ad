package pagination

import (
	"context"

	"github.com/Sternrassler/opportunity-harvester/pkg/record"
	"github.com/rs/zerolog/log"
)

// ProbeResult is the outcome of the first-page request.
type ProbeResult struct {
	TotalItems int
	TotalPages int
	FirstPage  []record.Record
}

// TotalPages returns ceil(totalItems / pageSize), or 0 when either is not positive.
func TotalPages(totalItems, pageSize int) int {
	if totalItems <= 0 || pageSize <= 0 {
		return 0
	}
	return (totalItems + pageSize - 1) / pageSize
}

// Probe issues exactly one request for page 1 and derives the page count
// from the reported total. Any failure is returned as a *ProbeError.
func Probe(ctx context.Context, fetcher PageFetcher, pageSize int) (*ProbeResult, error) {
	items, total, err := fetcher.FetchPage(ctx, 1, pageSize)
	if err != nil {
		pagesTotal.WithLabelValues(resultFailure).Inc()
		return nil, &ProbeError{Err: err}
	}
	pagesTotal.WithLabelValues(resultSuccess).Inc()

	result := &ProbeResult{
		TotalItems: total,
		TotalPages: TotalPages(total, pageSize),
		FirstPage:  items,
	}

	log.Info().
		Int("total_items", result.TotalItems).
		Int("total_pages", result.TotalPages).
		Int("page_size", pageSize).
		Msg("Probed listing")

	return result, nil
}
