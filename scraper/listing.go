package scraper

import (
	"context"
	"log/slog"

	"github.com/aluiziolira/go-scrape-catalogs/parser"
	"github.com/aluiziolira/go-scrape-catalogs/site"
)

// maxConsecutiveFailures ends a section after this many listing pages in a
// row could not be fetched.
const maxConsecutiveFailures = 3

// DocumentSource fetches parsed documents; *Fetcher implements it.
type DocumentSource interface {
	Fetch(ctx context.Context, url string) (*Document, error)
}

// ListingIterator walks ?p=N listing pages of one section. It stops on the
// error banner, an empty listing, the page cap, or repeated fetch failures.
// A failed page is logged and skipped. Iterators are not restartable.
type ListingIterator struct {
	source   DocumentSource
	profile  *site.Profile
	metrics  *Metrics
	baseURL  string
	maxPages int

	page     int
	doc      *Document
	err      error
	done     bool
	failures int
}

// NewListingIterator starts at startPage (1-based). maxPages of 0 means no cap.
func NewListingIterator(source DocumentSource, profile *site.Profile, metrics *Metrics, sectionURL string, startPage, maxPages int) *ListingIterator {
	if startPage < 1 {
		startPage = 1
	}
	return &ListingIterator{
		source:   source,
		profile:  profile,
		metrics:  metrics,
		baseURL:  sectionURL,
		maxPages: maxPages,
		page:     startPage - 1,
	}
}

// Next advances to the next page holding products.
func (it *ListingIterator) Next(ctx context.Context) bool {
	if it.done {
		return false
	}
	for {
		if err := ctx.Err(); err != nil {
			it.err = err
			it.done = true
			return false
		}
		it.page++
		if it.maxPages > 0 && it.page > it.maxPages {
			slog.Info("listing page cap reached", slog.String("section_url", it.baseURL), slog.Int("max_pages", it.maxPages))
			it.done = true
			return false
		}

		pageURL, err := parser.WithPage(it.baseURL, it.page)
		if err != nil {
			it.err = err
			it.done = true
			return false
		}

		doc, err := it.source.Fetch(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				it.err = ctx.Err()
				it.done = true
				return false
			}
			it.failures++
			it.metrics.IncListingPage("failed")
			slog.Error("listing page failed, skipping",
				slog.String("url", pageURL),
				slog.Int("page", it.page),
				slog.Int("consecutive_failures", it.failures),
				slog.String("category", ErrorTypeLabel(err)),
				slog.Any("error", err),
			)
			if it.failures >= maxConsecutiveFailures {
				it.err = err
				it.done = true
				return false
			}
			continue
		}
		it.failures = 0

		switch state := it.profile.ListingState(doc.Doc); state {
		case site.ListingErrorBanner, site.ListingEmpty:
			it.metrics.IncListingPage(state.String())
			slog.Info("listing exhausted",
				slog.String("url", pageURL),
				slog.Int("page", it.page),
				slog.String("reason", state.String()),
			)
			it.done = true
			return false
		}

		it.metrics.IncListingPage("items")
		it.doc = doc
		return true
	}
}

// Page is the 1-based number of the current page.
func (it *ListingIterator) Page() int {
	return it.page
}

// Document is the current listing page.
func (it *ListingIterator) Document() *Document {
	return it.doc
}

// Links returns the product URLs of the current page.
func (it *ListingIterator) Links() []string {
	if it.doc == nil {
		return nil
	}
	return it.profile.ProductLinks(it.doc.Doc, it.doc.URL)
}

// Err reports why iteration stopped early: cancellation or a run of failed
// pages. Normal exhaustion returns nil.
func (it *ListingIterator) Err() error {
	return it.err
}
