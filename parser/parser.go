package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"cmt-fetcher/models"

	"github.com/PuerkitoBio/goquery"
)

// NextPageText is the visible text of the catalog's pagination link
const NextPageText = "More solutions"

// NextKind tells whether a page links to a following page
type NextKind int

const (
	NoNextPage NextKind = iota
	HasNextPage
	AmbiguousNextPage
)

func (k NextKind) String() string {
	switch k {
	case NoNextPage:
		return "none"
	case HasNextPage:
		return "next"
	case AmbiguousNextPage:
		return "ambiguous"
	default:
		return fmt.Sprintf("NextKind(%d)", int(k))
	}
}

// NextPage is the pagination state of a parsed page.
// URL is set only for HasNextPage.
type NextPage struct {
	Kind  NextKind
	URL   string
	Count int // matching anchors found
}

// Page is one parsed catalog response
type Page struct {
	Header    []string
	Solutions []models.Solution
	Next      NextPage
}

// Parser extracts moment-tensor solutions from catalog result pages
type Parser struct{}

// NewParser creates a new Parser instance
func NewParser() *Parser {
	return &Parser{}
}

// ParsePage parses one result page. pageURL is the address the body was
// fetched from and is used to resolve a relative next-page link.
func (p *Parser) ParsePage(body []byte, pageURL string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	pres := doc.Find("pre")
	if pres.Length() < 2 {
		return nil, fmt.Errorf("%w, found %d", ErrMissingBlocks, pres.Length())
	}

	solutions, err := ParseTable(pres.Eq(1).Text())
	if err != nil {
		return nil, fmt.Errorf("failed to parse data block: %w", err)
	}

	next, err := p.findNextPage(doc, pageURL)
	if err != nil {
		return nil, err
	}

	return &Page{
		Header:    SplitHeader(pres.Eq(0).Text()),
		Solutions: solutions,
		Next:      next,
	}, nil
}

// SplitHeader splits the header block into lines, dropping empty ones
func SplitHeader(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// findNextPage looks for anchors whose text is exactly NextPageText
func (p *Parser) findNextPage(doc *goquery.Document, pageURL string) (NextPage, error) {
	links := doc.Find("a").FilterFunction(func(i int, s *goquery.Selection) bool {
		return s.Text() == NextPageText
	})

	switch links.Length() {
	case 0:
		return NextPage{Kind: NoNextPage}, nil
	case 1:
		href, ok := links.Attr("href")
		if !ok {
			return NextPage{}, ErrMissingHref
		}
		next, err := resolveURL(pageURL, href)
		if err != nil {
			return NextPage{}, fmt.Errorf("invalid next-page link %q: %w", href, err)
		}
		return NextPage{Kind: HasNextPage, URL: next, Count: 1}, nil
	default:
		return NextPage{Kind: AmbiguousNextPage, Count: links.Length()}, nil
	}
}

// resolveURL resolves href against base. An empty base leaves href as-is.
func resolveURL(base, href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	if base == "" {
		return ref.String(), nil
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(ref).String(), nil
}
