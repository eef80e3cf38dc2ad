// Package pagination provides probing and bounded parallel fetching for the
// paginated opportunity search API.
//
// The API reports the total item count in every response. This package
// requests page 1 once to learn that total, derives the page count, and then
// fetches the remaining pages through a fixed-size worker pool.
//
// Example usage:
//
//	config := pagination.DefaultConfig()
//	fetcher := pagination.NewBatchFetcher(searchClient, config)
//	outcome, err := fetcher.FetchAll(ctx)
//	if err != nil {
//		// *ProbeError: nothing was fetched
//	}
//	records := outcome.Records()
//
// The batch fetcher:
//   - Fetches page 1 to determine total pages (a failure here is fatal)
//   - Spawns at most MaxConcurrency workers (default 10)
//   - Writes every page result into its own slot, indexed by page number
//   - Records failed pages as *PageFetchError and keeps going
//   - Concatenates successful pages in ascending page order
package pagination
