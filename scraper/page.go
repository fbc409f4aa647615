package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ErrWaitTimeout is returned by WaitVisible when the selector never appeared.
// Callers treat it as recoverable: fields fall back to N/A.
var ErrWaitTimeout = errors.New("timed out waiting for selector")

// Page is the browser automation surface product extraction runs against.
// Selectors are CSS; index arguments address the n-th match in document order.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Count(ctx context.Context, selector string) (int, error)
	Attr(ctx context.Context, selector string, index int, name string) (string, bool, error)
	Click(ctx context.Context, selector string) error
	IsChecked(ctx context.Context, selector string, index int) (bool, error)
	Snapshot(ctx context.Context) (*goquery.Document, error)
	URL() string
	Close() error
}

// PageFactory opens pages for product workers.
type PageFactory interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// StaticPage implements Page over a plain HTTP fetch. The parsed document
// stands in for the live DOM: clicking a radio label checks that radio and
// unchecks the rest of its group.
type StaticPage struct {
	fetcher *Fetcher
	doc     *Document
}

// NewStaticPage returns a page that loads documents through fetcher.
func NewStaticPage(fetcher *Fetcher) *StaticPage {
	return &StaticPage{fetcher: fetcher}
}

// Navigate fetches url and replaces the current document.
func (p *StaticPage) Navigate(ctx context.Context, url string) error {
	doc, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		return err
	}
	p.doc = doc
	return nil
}

func (p *StaticPage) loaded() (*goquery.Document, error) {
	if p.doc == nil || p.doc.Doc == nil {
		return nil, fmt.Errorf("no page loaded")
	}
	return p.doc.Doc, nil
}

// WaitVisible succeeds when selector matches. A static document never
// changes, so a miss is an immediate ErrWaitTimeout.
func (p *StaticPage) WaitVisible(_ context.Context, selector string, _ time.Duration) error {
	doc, err := p.loaded()
	if err != nil {
		return err
	}
	if doc.Find(selector).Length() == 0 {
		return fmt.Errorf("%w: %s", ErrWaitTimeout, selector)
	}
	return nil
}

// Count returns the number of elements matching selector.
func (p *StaticPage) Count(_ context.Context, selector string) (int, error) {
	doc, err := p.loaded()
	if err != nil {
		return 0, err
	}
	return doc.Find(selector).Length(), nil
}

// Attr reads attribute name from the index-th match of selector.
func (p *StaticPage) Attr(_ context.Context, selector string, index int, name string) (string, bool, error) {
	doc, err := p.loaded()
	if err != nil {
		return "", false, err
	}
	sel := doc.Find(selector)
	if index < 0 || index >= sel.Length() {
		return "", false, fmt.Errorf("no match %d for %s", index, selector)
	}
	value, ok := sel.Eq(index).Attr(name)
	return value, ok, nil
}

// Click emulates a click on a radio input or on the label pointing at one.
func (p *StaticPage) Click(_ context.Context, selector string) error {
	doc, err := p.loaded()
	if err != nil {
		return err
	}
	el := doc.Find(selector).First()
	if el.Length() == 0 {
		return fmt.Errorf("click: no element matches %s", selector)
	}

	target := el
	if goquery.NodeName(el) == "label" {
		id, ok := el.Attr("for")
		if !ok {
			return nil
		}
		target = doc.Find(fmt.Sprintf(`[id=%q]`, id)).First()
		if target.Length() == 0 {
			return fmt.Errorf("click: label target %q missing", id)
		}
	}
	if goquery.NodeName(target) != "input" || target.AttrOr("type", "") != "radio" {
		return nil
	}

	if name, ok := target.Attr("name"); ok {
		doc.Find(fmt.Sprintf(`input[type="radio"][name=%q]`, name)).RemoveAttr("checked")
	}
	target.SetAttr("checked", "checked")
	return nil
}

// IsChecked reports whether the index-th match of selector carries checked.
func (p *StaticPage) IsChecked(_ context.Context, selector string, index int) (bool, error) {
	doc, err := p.loaded()
	if err != nil {
		return false, err
	}
	sel := doc.Find(selector)
	if index < 0 || index >= sel.Length() {
		return false, fmt.Errorf("no match %d for %s", index, selector)
	}
	_, ok := sel.Eq(index).Attr("checked")
	return ok, nil
}

// Snapshot returns the current document.
func (p *StaticPage) Snapshot(context.Context) (*goquery.Document, error) {
	return p.loaded()
}

// URL is the final URL of the last navigation.
func (p *StaticPage) URL() string {
	if p.doc == nil {
		return ""
	}
	return p.doc.URL
}

// Close drops the loaded document.
func (p *StaticPage) Close() error {
	p.doc = nil
	return nil
}

// StaticPages hands out StaticPage values sharing one fetcher.
type StaticPages struct {
	Fetcher *Fetcher
}

// NewPage returns an empty StaticPage.
func (s StaticPages) NewPage(context.Context) (Page, error) {
	return NewStaticPage(s.Fetcher), nil
}

// Close is a no-op; the fetcher outlives its pages.
func (s StaticPages) Close() error {
	return nil
}
