// Package scraper retrieves the full result set of a catalog query by
// following the "More solutions" links page by page.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cmt-fetcher/daterange"
	"cmt-fetcher/fetcher"
	"cmt-fetcher/logging"
	"cmt-fetcher/metrics"
	"cmt-fetcher/models"
	"cmt-fetcher/parser"
	"cmt-fetcher/query"

	"github.com/rs/zerolog"
)

var (
	// ErrPaginationLoop is returned when a next-page link points to a page
	// that was already fetched in the same retrieval.
	ErrPaginationLoop = errors.New("pagination loop detected")
	// ErrTooManyPages is returned when a retrieval would exceed MaxPages.
	ErrTooManyPages = errors.New("page limit exceeded")
)

// Options configures a Scraper
type Options struct {
	BaseURL  string // defaults to query.BaseURL
	MaxPages int    // 0 means unlimited
	// OnPage is called before each page is fetched, with the 1-based page number
	OnPage  func(page int, url string)
	Metrics *metrics.Metrics
}

// Scraper fetches and parses catalog result pages sequentially
type Scraper struct {
	fetcher fetcher.Fetcher
	parser  *parser.Parser
	opts    Options
	logger  zerolog.Logger
}

// New creates a Scraper on top of the given fetcher
func New(f fetcher.Fetcher, opts Options) *Scraper {
	if opts.BaseURL == "" {
		opts.BaseURL = query.BaseURL
	}
	return &Scraper{
		fetcher: f,
		parser:  parser.NewParser(),
		opts:    opts,
		logger:  logging.NewLogger("scraper"),
	}
}

// Download retrieves every solution matching p
func (s *Scraper) Download(ctx context.Context, p query.Params) (*models.Result, error) {
	return s.Scrape(ctx, query.BuildURLWithBase(s.opts.BaseURL, p))
}

// DownloadWindows splits the date range of p into windows of windowDays
// days and retrieves them one after another. The header comes from the
// first window. Any window failure fails the whole retrieval.
func (s *Scraper) DownloadWindows(ctx context.Context, p query.Params, windowDays int) (*models.Result, error) {
	if windowDays <= 0 {
		return s.Download(ctx, p)
	}

	windows := daterange.Split(p, windowDays)
	total := daterange.CountWindows(p.Start, p.End, windowDays)
	combined := &models.Result{}

	for i, w := range windows {
		s.logger.Info().
			Str("window", w.Label).
			Int("index", i+1).
			Int("total", total).
			Msg("Processing window")

		res, err := s.Download(ctx, w.Params)
		if err != nil {
			return nil, fmt.Errorf("window %s: %w", w.Label, err)
		}

		if i == 0 {
			combined.Header = res.Header
		}
		combined.Solutions = append(combined.Solutions, res.Solutions...)
		combined.Pages += res.Pages
	}

	return combined, nil
}

// Scrape follows the pagination chain starting at startURL and returns the
// header of the first page together with the rows of all pages in fetch
// order. On any error nothing is returned.
func (s *Scraper) Scrape(ctx context.Context, startURL string) (*models.Result, error) {
	res, err := s.scrape(ctx, startURL)
	if err != nil {
		s.opts.Metrics.ObserveFailure(classify(err))
		return nil, err
	}
	s.opts.Metrics.MarkSuccess(time.Now())
	return res, nil
}

func (s *Scraper) scrape(ctx context.Context, startURL string) (*models.Result, error) {
	result := &models.Result{}
	visited := make(map[string]bool)
	headerSet := false

	for pageURL := startURL; pageURL != ""; {
		page := result.Pages + 1

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		if s.opts.MaxPages > 0 && page > s.opts.MaxPages {
			return nil, fmt.Errorf("page %d: %w (max %d)", page, ErrTooManyPages, s.opts.MaxPages)
		}
		if visited[pageURL] {
			return nil, fmt.Errorf("page %d: %w: %s", page, ErrPaginationLoop, pageURL)
		}
		visited[pageURL] = true

		s.logger.Info().Int("page", page).Msg("Processing page")
		if s.opts.OnPage != nil {
			s.opts.OnPage(page, pageURL)
		}

		started := time.Now()
		resp, err := s.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, &fetchError{err: err})
		}

		parsed, err := s.parser.ParsePage(resp.Body, resp.URL)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		s.opts.Metrics.ObservePage(time.Since(started), len(parsed.Solutions))

		if !headerSet {
			result.Header = parsed.Header
			headerSet = true
		}
		result.Solutions = append(result.Solutions, parsed.Solutions...)
		result.Pages = page

		s.logger.Debug().
			Int("page", page).
			Int("rows", len(parsed.Solutions)).
			Str("next", parsed.Next.Kind.String()).
			Msg("Parsed page")

		switch parsed.Next.Kind {
		case parser.NoNextPage:
			pageURL = ""
		case parser.HasNextPage:
			pageURL = parsed.Next.URL
		case parser.AmbiguousNextPage:
			return nil, fmt.Errorf("page %d: %w (found %d)", page, parser.ErrAmbiguousNextPage, parsed.Next.Count)
		default:
			return nil, fmt.Errorf("page %d: unknown next-page kind %v", page, parsed.Next.Kind)
		}
	}

	s.logger.Info().
		Int("pages", result.Pages).
		Int("solutions", len(result.Solutions)).
		Msg("Retrieval complete")

	return result, nil
}

// fetchError marks a failure returned by the fetcher
type fetchError struct {
	err error
}

func (e *fetchError) Error() string { return e.err.Error() }
func (e *fetchError) Unwrap() error { return e.err }

// classify maps an error to a metrics failure class
func classify(err error) string {
	var (
		schemaErr   *parser.SchemaError
		coercionErr *parser.CoercionError
		statusErr   *fetcher.StatusError
		fetchErr    *fetchError
	)

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.ClassCanceled
	case errors.As(err, &schemaErr), errors.As(err, &coercionErr):
		return metrics.ClassTable
	case errors.Is(err, parser.ErrMissingBlocks),
		errors.Is(err, parser.ErrAmbiguousNextPage),
		errors.Is(err, parser.ErrMissingHref),
		errors.Is(err, ErrPaginationLoop),
		errors.Is(err, ErrTooManyPages):
		return metrics.ClassStructural
	case errors.As(err, &statusErr), errors.As(err, &fetchErr):
		return metrics.ClassTransport
	default:
		return metrics.ClassOther
	}
}
