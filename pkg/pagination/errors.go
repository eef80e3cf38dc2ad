package pagination

import "fmt"

// ProbeError reports a failure of the first-page request. It is fatal to a
// run: without the reported total there is nothing to fan out over.
type ProbeError struct {
	Err error
}

// Error implements the error interface.
func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe first page: %v", e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ProbeError) Unwrap() error {
	return e.Err
}

// PageFetchError reports a failed page. It is recorded in the page's result
// slot and never returned from the fetcher.
type PageFetchError struct {
	Page int
	Err  error
}

// Error implements the error interface.
func (e *PageFetchError) Error() string {
	return fmt.Sprintf("fetch page %d: %v", e.Page, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *PageFetchError) Unwrap() error {
	return e.Err
}
