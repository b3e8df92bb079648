package fetcher

import (
	"context"
	"fmt"
)

// Response is a fetched page
type Response struct {
	URL  string // final URL after redirects
	Body []byte
}

// Fetcher interface defines the contract for fetching implementations
type Fetcher interface {
	// Fetch retrieves a single page. A non-success HTTP status is
	// returned as *StatusError.
	Fetch(ctx context.Context, url string) (*Response, error)
}

// StatusError is returned when the catalog answers with a non-success status
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

// failedStatus reports whether an HTTP status code fails a fetch. Any 2xx
// or 3xx answer is accepted.
func failedStatus(code int) bool {
	return code < 200 || code >= 400
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d - status: %s (%s)", e.StatusCode, e.Status, e.URL)
}
