package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"cmt-fetcher/fetcher"
	"cmt-fetcher/metrics"
	"cmt-fetcher/parser"
	"cmt-fetcher/query"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeFetcher serves canned bodies keyed by URL
type fakeFetcher struct {
	pages map[string]string
	fails map[string]error
	calls []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*fetcher.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.calls = append(f.calls, url)
	if err, ok := f.fails[url]; ok {
		return nil, err
	}
	body, ok := f.pages[url]
	if !ok {
		return nil, &fetcher.StatusError{URL: url, StatusCode: 404, Status: "Not Found"}
	}
	return &fetcher.Response{URL: url, Body: []byte(body)}, nil
}

const (
	rowA = "  -70.5  -33.1  45.0  1.1 -0.6 -0.5  0.2 -0.3  0.1  24  0  0  C202001010000A"
	rowB = "  142.3   38.2  20.0  2.0 -1.0 -1.0  0.4  0.1 -0.2  25  0  0  C202001011200A"
	rowC = "   10.0   45.0  10.0  0.5  0.5 -1.0  0.0  0.0  0.0  23  0  0  C202001020800A"
)

func page(header string, rows []string, links ...string) string {
	var b strings.Builder
	b.WriteString("<html><body><pre>")
	b.WriteString(header)
	b.WriteString("</pre><pre>")
	b.WriteString(strings.Join(rows, "\n"))
	b.WriteString("</pre>")
	for _, href := range links {
		fmt.Fprintf(&b, `<a href="%s">More solutions</a>`, href)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func TestScrape_SinglePage(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		"https://cmt.test/p1": page("Output in psmeca format\n\nlon lat depth ...", []string{rowA, rowB}),
	}}

	res, err := New(f, Options{}).Scrape(context.Background(), "https://cmt.test/p1")
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}

	if len(res.Header) != 2 || res.Header[0] != "Output in psmeca format" {
		t.Errorf("Header = %q", res.Header)
	}
	if len(res.Solutions) != 2 || res.Pages != 1 {
		t.Fatalf("got %d solutions over %d pages", len(res.Solutions), res.Pages)
	}
	if res.Solutions[1].Name != "C202001011200A" || res.Solutions[1].Exp != 25 {
		t.Errorf("second solution = %+v", res.Solutions[1])
	}
}

func TestScrape_FollowsNextLinks(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		"https://cmt.test/cgi/form?p=1": page("first header", []string{rowA}, "form?p=2"),
		"https://cmt.test/cgi/form?p=2": page("second header", []string{rowB}, "https://cmt.test/cgi/form?p=3"),
		"https://cmt.test/cgi/form?p=3": page("third header", []string{rowC}),
	}}

	res, err := New(f, Options{}).Scrape(context.Background(), "https://cmt.test/cgi/form?p=1")
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}

	if res.Pages != 3 {
		t.Errorf("Pages = %d, want 3", res.Pages)
	}
	if len(res.Header) != 1 || res.Header[0] != "first header" {
		t.Errorf("Header = %q, want page 1 header only", res.Header)
	}
	names := []string{"C202001010000A", "C202001011200A", "C202001020800A"}
	if len(res.Solutions) != len(names) {
		t.Fatalf("got %d solutions", len(res.Solutions))
	}
	for i, want := range names {
		if res.Solutions[i].Name != want {
			t.Errorf("solution %d = %s, want %s", i, res.Solutions[i].Name, want)
		}
	}
}

func TestScrape_Errors(t *testing.T) {
	tests := []struct {
		name    string
		pages   map[string]string
		fails   map[string]error
		opts    Options
		wantIs  error
		wantMsg string
	}{
		{
			name:   "missing pre block",
			pages:  map[string]string{"https://cmt.test/1": "<html><pre>only one</pre></html>"},
			wantIs: parser.ErrMissingBlocks,
		},
		{
			name: "two next links",
			pages: map[string]string{
				"https://cmt.test/1": page("h", []string{rowA}, "/2", "/3"),
			},
			wantIs: parser.ErrAmbiguousNextPage,
		},
		{
			name: "bad row on second page",
			pages: map[string]string{
				"https://cmt.test/1": page("h", []string{rowA}, "/2"),
				"https://cmt.test/2": page("h", []string{"1 2 3"}),
			},
			wantIs:  parser.ErrSchemaMismatch,
			wantMsg: "page 2:",
		},
		{
			name: "loop",
			pages: map[string]string{
				"https://cmt.test/1": page("h", []string{rowA}, "/2"),
				"https://cmt.test/2": page("h", []string{rowB}, "/1"),
			},
			wantIs:  ErrPaginationLoop,
			wantMsg: "page 3:",
		},
		{
			name: "page limit",
			pages: map[string]string{
				"https://cmt.test/1": page("h", []string{rowA}, "/2"),
				"https://cmt.test/2": page("h", []string{rowB}, "/3"),
				"https://cmt.test/3": page("h", []string{rowC}),
			},
			opts:   Options{MaxPages: 2},
			wantIs: ErrTooManyPages,
		},
		{
			name: "network failure",
			pages: map[string]string{
				"https://cmt.test/1": page("h", []string{rowA}, "/2"),
			},
			fails:  map[string]error{"https://cmt.test/2": errConnRefused},
			wantIs: errConnRefused,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeFetcher{pages: tt.pages, fails: tt.fails}
			res, err := New(f, tt.opts).Scrape(context.Background(), "https://cmt.test/1")

			if res != nil {
				t.Errorf("partial result returned: %+v", res)
			}
			if !errors.Is(err, tt.wantIs) {
				t.Fatalf("Scrape() error = %v, want %v", err, tt.wantIs)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not contain %q", err, tt.wantMsg)
			}
		})
	}
}

var errConnRefused = errors.New("connection refused")

func TestScrape_StatusErrorOnSecondPage(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		"https://cmt.test/1": page("h", []string{rowA, rowB}, "/missing"),
	}}

	res, err := New(f, Options{}).Scrape(context.Background(), "https://cmt.test/1")
	if res != nil {
		t.Error("rows from page 1 were returned after a failure")
	}

	var statusErr *fetcher.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error = %v, want StatusError", err)
	}
	if statusErr.StatusCode != 404 || statusErr.URL != "https://cmt.test/missing" {
		t.Errorf("StatusError = %+v", statusErr)
	}
}

func TestScrape_ContextCanceled(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		"https://cmt.test/1": page("h", []string{rowA}),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(f, Options{}).Scrape(ctx, "https://cmt.test/1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if len(f.calls) != 0 {
		t.Errorf("fetcher called %d times after cancel", len(f.calls))
	}
}

func TestScrape_OnPageAndMetrics(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		"https://cmt.test/1": page("h", []string{rowA}, "/2"),
		"https://cmt.test/2": page("h", []string{rowB, rowC}),
	}}

	var seen []string
	m := metrics.New()
	s := New(f, Options{
		Metrics: m,
		OnPage: func(n int, url string) {
			seen = append(seen, fmt.Sprintf("%d %s", n, url))
		},
	})

	if _, err := s.Scrape(context.Background(), "https://cmt.test/1"); err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}

	want := []string{"1 https://cmt.test/1", "2 https://cmt.test/2"}
	if strings.Join(seen, ",") != strings.Join(want, ",") {
		t.Errorf("OnPage calls = %q, want %q", seen, want)
	}
	n, err := testutil.GatherAndCount(m.Registry(), "cmt_solutions_parsed_total")
	if err != nil || n != 1 {
		t.Errorf("solutions counter series = %d, err = %v", n, err)
	}
}

func TestScrape_FetchFailureMetrics(t *testing.T) {
	connErr := errors.New("connection reset by peer")
	f := &fakeFetcher{
		pages: map[string]string{"https://cmt.test/1": page("h", []string{rowA}, "/2")},
		fails: map[string]error{"https://cmt.test/2": connErr},
	}

	m := metrics.New()
	_, err := New(f, Options{Metrics: m}).Scrape(context.Background(), "https://cmt.test/1")
	if !errors.Is(err, connErr) {
		t.Fatalf("Scrape() error = %v, want %v", err, connErr)
	}
	if err.Error() != "page 2: connection reset by peer" {
		t.Errorf("error text = %q", err.Error())
	}

	want := `
# HELP cmt_retrieval_failures_total Failed retrievals by error class
# TYPE cmt_retrieval_failures_total counter
cmt_retrieval_failures_total{class="transport"} 1
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(want), "cmt_retrieval_failures_total"); err != nil {
		t.Error(err)
	}
}

func TestDownload_UsesBaseURL(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	p := query.DefaultParams(start, start)
	base := "https://mirror.test/CMT5/"

	f := &fakeFetcher{pages: map[string]string{
		query.BuildURLWithBase(base, p): page("h", []string{rowA}),
	}}

	res, err := New(f, Options{BaseURL: base}).Download(context.Background(), p)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if len(res.Solutions) != 1 {
		t.Errorf("got %d solutions", len(res.Solutions))
	}
}

func TestDownloadWindows(t *testing.T) {
	base := "https://mirror.test/CMT5/"
	day := func(d int) time.Time { return time.Date(2020, 1, d, 0, 0, 0, 0, time.UTC) }

	w1 := query.DefaultParams(day(1), day(2))
	w2 := query.DefaultParams(day(3), day(3))

	f := &fakeFetcher{pages: map[string]string{
		query.BuildURLWithBase(base, w1): page("window one", []string{rowA, rowB}),
		query.BuildURLWithBase(base, w2): page("window two", []string{rowC}),
	}}

	res, err := New(f, Options{BaseURL: base}).DownloadWindows(context.Background(), query.DefaultParams(day(1), day(3)), 2)
	if err != nil {
		t.Fatalf("DownloadWindows() error = %v", err)
	}

	if len(res.Header) != 1 || res.Header[0] != "window one" {
		t.Errorf("Header = %q", res.Header)
	}
	if len(res.Solutions) != 3 || res.Pages != 2 {
		t.Errorf("got %d solutions over %d pages", len(res.Solutions), res.Pages)
	}
	if res.Solutions[2].Name != "C202001020800A" {
		t.Errorf("last solution = %s", res.Solutions[2].Name)
	}
}

func TestDownloadWindows_FailureDiscardsAll(t *testing.T) {
	base := "https://mirror.test/CMT5/"
	day := func(d int) time.Time { return time.Date(2020, 1, d, 0, 0, 0, 0, time.UTC) }

	f := &fakeFetcher{pages: map[string]string{
		query.BuildURLWithBase(base, query.DefaultParams(day(1), day(1))): page("h", []string{rowA}),
	}}

	res, err := New(f, Options{BaseURL: base}).DownloadWindows(context.Background(), query.DefaultParams(day(1), day(2)), 1)
	if res != nil {
		t.Error("partial result returned")
	}
	if err == nil || !strings.Contains(err.Error(), "window 2020-01-02..2020-01-02") {
		t.Errorf("error = %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("page 1: %w", context.Canceled), metrics.ClassCanceled},
		{fmt.Errorf("page 2: %w", &parser.SchemaError{Line: 1, Tokens: 3, Want: 13}), metrics.ClassTable},
		{fmt.Errorf("page 2: %w", &parser.CoercionError{Line: 1, Column: "lon", Value: "x"}), metrics.ClassTable},
		{fmt.Errorf("page 1: %w", parser.ErrMissingBlocks), metrics.ClassStructural},
		{fmt.Errorf("page 4: %w", ErrPaginationLoop), metrics.ClassStructural},
		{&fetcher.StatusError{StatusCode: 500}, metrics.ClassTransport},
		{fmt.Errorf("page 3: %w", &fetchError{err: errors.New("connection reset by peer")}), metrics.ClassTransport},
		{errors.New("page 2: unknown next-page kind 7"), metrics.ClassOther},
	}

	for _, tt := range tests {
		if got := classify(tt.err); got != tt.want {
			t.Errorf("classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
