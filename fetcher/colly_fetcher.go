package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cmt-fetcher/logging"

	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog"
)

// DefaultUserAgent identifies the tool to the catalog
const DefaultUserAgent = "cmt-fetcher/1.0 (+https://www.globalcmt.org)"

// CollyConfig configures a CollyFetcher
type CollyConfig struct {
	UserAgent string
	// Timeout bounds a single request. Zero means no timeout.
	Timeout time.Duration
}

// CollyFetcher implements the Fetcher interface using colly
type CollyFetcher struct {
	cfg    CollyConfig
	logger zerolog.Logger
}

// NewCollyFetcher creates a new CollyFetcher instance
func NewCollyFetcher(cfg CollyConfig) *CollyFetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	return &CollyFetcher{
		cfg:    cfg,
		logger: logging.NewLogger("colly-fetcher"),
	}
}

// newCollector builds a single-use synchronous collector bound to ctx.
// Revisits are allowed; pagination loops are detected by the caller.
func (cf *CollyFetcher) newCollector(ctx context.Context) *colly.Collector {
	c := colly.NewCollector(
		colly.UserAgent(cf.cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(0),
		colly.StdlibContext(ctx),
	)
	c.SetRequestTimeout(cf.cfg.Timeout)
	// Statuses are checked in OnResponse; colly alone rejects everything above 202.
	c.ParseHTTPErrorResponse = true
	return c
}

// Fetch implements the Fetcher interface
func (cf *CollyFetcher) Fetch(ctx context.Context, url string) (*Response, error) {
	c := cf.newCollector(ctx)

	var (
		resp      *Response
		statusErr *StatusError
	)

	c.OnResponse(func(r *colly.Response) {
		if failedStatus(r.StatusCode) {
			statusErr = &StatusError{
				URL:        r.Request.URL.String(),
				StatusCode: r.StatusCode,
				Status:     http.StatusText(r.StatusCode),
			}
			return
		}
		resp = &Response{
			URL:  r.Request.URL.String(),
			Body: r.Body,
		}
		cf.logger.Debug().
			Str("url", resp.URL).
			Int("status", r.StatusCode).
			Int("bytes", len(r.Body)).
			Msg("Fetched page")
	})

	if err := c.Visit(url); err != nil {
		return nil, fmt.Errorf("failed to visit URL: %w", err)
	}
	if statusErr != nil {
		return nil, statusErr
	}

	if resp == nil {
		return nil, fmt.Errorf("no response received from %s", url)
	}

	return resp, nil
}
