package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"
	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/go-scrape-catalogs/site"
)

const errorBanner = `<div class="alert alert-danger"><div class="alert-content">Unfortunately, something went wrong.</div></div>`

// buildListingPage renders an it-market style listing with one card per link.
func buildListingPage(links ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="row cms-listing-row js-listing-wrapper" role="list">`)
	for _, link := range links {
		fmt.Fprintf(&b, `<div class="cms-listing-col" role="listitem"><a class="product-name stretched-link" href="%s">%s</a></div>`, link, link)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

// countingMux serves fixed bodies by URL and records how often each was hit.
type countingMux struct {
	mu   sync.Mutex
	hits map[string]int
}

func newCountingMux() *countingMux {
	return &countingMux{hits: make(map[string]int)}
}

func (m *countingMux) serve(body string) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		m.mu.Lock()
		m.hits[req.URL.String()]++
		m.mu.Unlock()
		resp := httpmock.NewStringResponse(http.StatusOK, body)
		resp.Header.Set("Content-Type", "text/html; charset=utf-8")
		return resp, nil
	}
}

func (m *countingMux) count(url string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits[url]
}

func collectPages(t *testing.T, it *ListingIterator) []int {
	t.Helper()
	var pages []int
	for it.Next(context.Background()) {
		pages = append(pages, it.Page())
	}
	return pages
}

func TestListingIteratorStopsAtEmptyPage(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	mux := newCountingMux()
	base := "http://example.test/en/switches"
	transport.RegisterResponder(http.MethodGet, base+"?p=1", mux.serve(buildListingPage("/en/a", "/en/b")))
	transport.RegisterResponder(http.MethodGet, base+"?p=2", mux.serve(buildListingPage("/en/c")))
	transport.RegisterResponder(http.MethodGet, base+"?p=3", mux.serve(buildListingPage()))
	transport.RegisterResponder(http.MethodGet, base+"?p=4", mux.serve(buildListingPage("/en/d")))

	f, _ := newTestFetcher(t, cfg, site.ITMarket, transport)
	it := NewListingIterator(f, site.ITMarket, f.Metrics, base, 1, 0)

	var links []string
	var pages []int
	for it.Next(context.Background()) {
		pages = append(pages, it.Page())
		links = append(links, it.Links()...)
	}
	if err := it.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]int{1, 2}, pages); diff != "" {
		t.Fatalf("pages mismatch (-want +got):\n%s", diff)
	}
	want := []string{"http://example.test/en/a", "http://example.test/en/b", "http://example.test/en/c"}
	if diff := cmp.Diff(want, links); diff != "" {
		t.Fatalf("links mismatch (-want +got):\n%s", diff)
	}
	if mux.count(base+"?p=4") != 0 {
		t.Fatalf("page after the empty one was fetched")
	}
	if it.Next(context.Background()) {
		t.Fatalf("iterator restarted after exhaustion")
	}
}

func TestListingIteratorStopsOnErrorBanner(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	base := "http://example.test/en/router"
	transport.RegisterResponder(http.MethodGet, base+"?p=2", htmlResponder(buildListingPage("/en/r1")))
	transport.RegisterResponder(http.MethodGet, base+"?p=3", htmlResponder(errorBanner+buildListingPage("/en/r2")))

	f, _ := newTestFetcher(t, cfg, site.ITMarket, transport)
	pages := collectPages(t, NewListingIterator(f, site.ITMarket, f.Metrics, base, 2, 0))
	if diff := cmp.Diff([]int{2}, pages); diff != "" {
		t.Fatalf("pages mismatch (-want +got):\n%s", diff)
	}
}

func TestListingIteratorPageCap(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	base := "http://example.test/en/server"
	for p := 1; p <= 5; p++ {
		transport.RegisterResponder(http.MethodGet, fmt.Sprintf("%s?p=%d", base, p), htmlResponder(buildListingPage(fmt.Sprintf("/en/s%d", p))))
	}

	f, _ := newTestFetcher(t, cfg, site.ITMarket, transport)
	pages := collectPages(t, NewListingIterator(f, site.ITMarket, f.Metrics, base, 1, 3))
	if diff := cmp.Diff([]int{1, 2, 3}, pages); diff != "" {
		t.Fatalf("pages mismatch (-want +got):\n%s", diff)
	}
}

// fakeSource serves parsed bodies by URL; URLs listed in failing return an error.
type fakeSource struct {
	bodies  map[string]string
	failing map[string]bool
	calls   []string
}

func (s *fakeSource) Fetch(_ context.Context, url string) (*Document, error) {
	s.calls = append(s.calls, url)
	if s.failing[url] {
		return nil, &FetchError{URL: url, Attempts: 1, Err: ErrServer{Code: 502, Err: errors.New("bad gateway")}}
	}
	body, ok := s.bodies[url]
	if !ok {
		return nil, &FetchError{URL: url, Attempts: 1, Err: ErrNotFound{Err: errors.New("missing")}}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	return &Document{URL: url, StatusCode: http.StatusOK, Body: []byte(body), Doc: doc}, nil
}

func TestListingIteratorSkipsFailedPage(t *testing.T) {
	base := "http://example.test/en/storage"
	src := &fakeSource{
		bodies: map[string]string{
			base + "?p=1": buildListingPage("/en/x1"),
			base + "?p=3": buildListingPage("/en/x3"),
			base + "?p=4": buildListingPage(),
		},
		failing: map[string]bool{base + "?p=2": true},
	}

	it := NewListingIterator(src, site.ITMarket, nil, base, 1, 0)
	pages := collectPages(t, it)
	if diff := cmp.Diff([]int{1, 3}, pages); diff != "" {
		t.Fatalf("pages mismatch (-want +got):\n%s", diff)
	}
	if it.Err() != nil {
		t.Fatalf("unexpected error: %v", it.Err())
	}
}

func TestListingIteratorEndsAfterConsecutiveFailures(t *testing.T) {
	base := "http://example.test/en/storage"
	src := &fakeSource{
		bodies: map[string]string{
			base + "?p=1": buildListingPage("/en/x1"),
			base + "?p=5": buildListingPage("/en/x5"),
		},
		failing: map[string]bool{base + "?p=2": true, base + "?p=3": true, base + "?p=4": true},
	}

	it := NewListingIterator(src, site.ITMarket, nil, base, 1, 0)
	pages := collectPages(t, it)
	if diff := cmp.Diff([]int{1}, pages); diff != "" {
		t.Fatalf("pages mismatch (-want +got):\n%s", diff)
	}
	var fe *FetchError
	if !errors.As(it.Err(), &fe) {
		t.Fatalf("expected FetchError, got %v", it.Err())
	}
	if len(src.calls) != 4 {
		t.Fatalf("calls = %v", src.calls)
	}
}

func TestListingIteratorCancelled(t *testing.T) {
	base := "http://example.test/en/storage"
	src := &fakeSource{bodies: map[string]string{base + "?p=1": buildListingPage("/en/x1")}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	it := NewListingIterator(src, site.ITMarket, nil, base, 1, 0)
	if it.Next(ctx) {
		t.Fatalf("expected no page after cancellation")
	}
	if !errors.Is(it.Err(), context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", it.Err())
	}
}
