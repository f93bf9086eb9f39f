package crawler

import (
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"github.com/nao1215/dropfetch/internal/transport"
)

// defaultMaxBodySize limits the HTML read per page.
const defaultMaxBodySize = 8 * 1024 * 1024 // 8MB

// Page is one fetched HTML page of a paginated listing.
type Page struct {
	URL    *url.URL
	Number int
	Doc    *goquery.Document
}

// Pager walks a paginated listing by following a "next page" link.
// It is shared by crawler variants that page through HTML.
type Pager struct {
	client       Doer
	nextSelector string
	maxPages     int
	maxBodySize  int64
	referer      string
}

// NewPager creates a pager. An empty nextSelector falls back to
// <link rel="next"> and <a rel="next">. maxPages <= 0 means one page.
func NewPager(client Doer, nextSelector string, maxPages int) *Pager {
	if maxPages <= 0 {
		maxPages = 1
	}
	return &Pager{
		client:       client,
		nextSelector: nextSelector,
		maxPages:     maxPages,
		maxBodySize:  defaultMaxBodySize,
	}
}

// Pages fetches start and the pages after it, one request per page.
// Each page is yielded before the next one is requested. A page already
// visited ends the walk, which guards against pagination loops.
func (p *Pager) Pages(ctx context.Context, start *url.URL) iter.Seq2[*Page, error] {
	return func(yield func(*Page, error) bool) {
		visited := make(map[string]struct{}, p.maxPages)
		next := start
		for n := 1; next != nil && n <= p.maxPages; n++ {
			key := pageKey(next)
			if _, seen := visited[key]; seen {
				return
			}
			visited[key] = struct{}{}

			doc, err := p.fetch(ctx, next)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				yield(nil, err)
				return
			}
			page := &Page{URL: next, Number: n, Doc: doc}
			if !yield(page, nil) {
				return
			}
			next = p.nextURL(page)
		}
	}
}

func (p *Pager) fetch(ctx context.Context, u *url.URL) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, newError(KindUnsupported, u.String(), err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	if p.referer != "" {
		req.Header.Set("Referer", p.referer)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, requestError(ctx, u.String(), err)
	}
	defer resp.Body.Close()

	if transport.Classify(resp.StatusCode) != transport.ClassOK {
		return nil, statusError(u.String(), resp.StatusCode, transport.RetryAfter(resp))
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !isPageContentType(ct) {
		return nil, newError(KindUnsupported, u.String(), fmt.Errorf("expected an html page, got %q", ct))
	}

	body, err := charset.NewReader(io.LimitReader(resp.Body, p.maxBodySize), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, newError(KindUnsupported, u.String(), fmt.Errorf("decode page: %w", err))
	}
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		// A body cut off mid-transfer surfaces here.
		return nil, newError(KindTransient, u.String(), fmt.Errorf("parse page: %w", err))
	}
	doc.Url = u
	return doc, nil
}

func (p *Pager) nextURL(page *Page) *url.URL {
	selectors := []string{`link[rel="next"]`, `a[rel="next"]`}
	if p.nextSelector != "" {
		selectors = []string{p.nextSelector}
	}
	for _, sel := range selectors {
		href, ok := page.Doc.Find(sel).First().Attr("href")
		if !ok {
			continue
		}
		if u := resolveURL(page.URL, href); u != nil {
			return u
		}
	}
	return nil
}

// resolveURL resolves href against base, keeping only http(s) results.
func resolveURL(base *url.URL, href string) *url.URL {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return nil
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil
	}
	u := base.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil
	}
	u.Fragment = ""
	return u
}

// pageKey identifies a page for loop detection.
func pageKey(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.Host = strings.ToLower(c.Host)
	return c.String()
}

// albumTitle returns a folder name for the listing on doc.
func albumTitle(doc *goquery.Document) string {
	for _, sel := range []string{`meta[property="og:title"]`, "h1", "title"} {
		s := doc.Find(sel).First()
		text := s.AttrOr("content", "")
		if text == "" {
			text = s.Text()
		}
		text = strings.Join(strings.Fields(text), " ")
		if text != "" {
			return text
		}
	}
	return ""
}
