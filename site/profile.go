// Package site describes the storefronts the crawler understands: where their
// navigation lives, how listings end, and which selectors carry product fields.
package site

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-catalogs/models"
	"github.com/aluiziolira/go-scrape-catalogs/parser"
)

// VariantMode selects how a product page exposes its variants.
type VariantMode int

const (
	// RadioVariants are configurator radio buttons selected by clicking their label.
	RadioVariants VariantMode = iota
	// URLVariants are reached by rewriting the number query parameter.
	URLVariants
)

// URLVariant is one variant reached through the product number.
type URLVariant struct {
	Label  string
	Suffix string
}

// ListingState reports what a fetched listing page contains.
type ListingState int

const (
	ListingItems ListingState = iota
	ListingEmpty
	ListingErrorBanner
)

func (s ListingState) String() string {
	switch s {
	case ListingItems:
		return "items"
	case ListingEmpty:
		return "empty"
	case ListingErrorBanner:
		return "error_banner"
	default:
		return "unknown"
	}
}

// Fields are the values read from one product page snapshot. Empty strings
// mean the selector found nothing; the sink turns them into N/A.
type Fields struct {
	Name                     string
	Price                    string
	NetPrice                 string
	StockStatus              string
	QuantityAvailable        string
	DeliveryTime             string
	ProductNumber            string
	Images                   []string
	DescriptionAndProperties string
	CategoryPath             string
}

// VariantFields are the per-option values of a configurator radio.
type VariantFields struct {
	Label       string
	Price       string
	NetPrice    string
	StockStatus string
}

// Profile bundles the selectors and parsing rules for one storefront.
type Profile struct {
	Name        string
	HomepageURL string

	// MaintenancePath is matched against the end of the final URL path.
	MaintenancePath string
	// MaintenanceMarker is searched in 503 bodies.
	MaintenanceMarker string

	// ReadySelector is waited on after navigating to a product page.
	ReadySelector string
	Variants      VariantMode
	// RadioSelector lists configurator inputs when Variants is RadioVariants.
	RadioSelector string
	URLVariants   []URLVariant

	discover      func(doc *goquery.Document, base *url.URL) ([]models.Section, error)
	listingState  func(doc *goquery.Document) ListingState
	productLinks  func(doc *goquery.Document) []string
	fields        func(doc *goquery.Document, base *url.URL) Fields
	variantFields func(doc *goquery.Document, index int) (VariantFields, error)
	productID     func(doc *goquery.Document, pageURL string) string
}

var profiles = map[string]*Profile{}

func register(p *Profile) *Profile {
	profiles[p.Name] = p
	return p
}

// Lookup returns the profile registered under name.
func Lookup(name string) (*Profile, error) {
	p, ok := profiles[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown site profile %q", name)
	}
	return p, nil
}

// Names lists the registered profiles.
func Names() []string {
	return []string{ITMarket.Name, ITPlanet.Name}
}

// DiscoveryError means the navigation structure sections are read from is missing.
type DiscoveryError struct {
	URL    string
	Reason string
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("section discovery failed at %s: %s", e.URL, e.Reason)
}

// DiscoverSections reads the top-level categories from a homepage document.
func (p *Profile) DiscoverSections(doc *goquery.Document, pageURL string) ([]models.Section, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse homepage url: %w", err)
	}
	sections, err := p.discover(doc, base)
	if err != nil {
		return nil, err
	}
	if len(sections) == 0 {
		return nil, &DiscoveryError{URL: pageURL, Reason: "no product sections found"}
	}
	return sections, nil
}

// ListingState classifies a listing page.
func (p *Profile) ListingState(doc *goquery.Document) ListingState {
	return p.listingState(doc)
}

// ProductLinks returns absolute product URLs in page order without duplicates.
func (p *Profile) ProductLinks(doc *goquery.Document, pageURL string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	seen := make(map[string]struct{})
	links := make([]string, 0)
	for _, href := range p.productLinks(doc) {
		abs := absolute(base, href)
		if abs == "" {
			continue
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	}
	return links
}

// Fields reads the shared product fields from a page snapshot.
func (p *Profile) Fields(doc *goquery.Document, pageURL string) Fields {
	base, _ := url.Parse(pageURL)
	if base == nil {
		base = &url.URL{}
	}
	return p.fields(doc, base)
}

// VariantFields reads the label, prices and stock of the radio at index.
func (p *Profile) VariantFields(doc *goquery.Document, index int) (VariantFields, error) {
	if p.variantFields == nil {
		return VariantFields{}, fmt.Errorf("profile %s has no configurator variants", p.Name)
	}
	return p.variantFields(doc, index)
}

// ProductID returns the number used to build URL variants, or "" if none was found.
func (p *Profile) ProductID(doc *goquery.Document, pageURL string) string {
	if p.productID == nil {
		return ""
	}
	return p.productID(doc, pageURL)
}

// IsMaintenance reports whether a response is the storefront's maintenance page.
func (p *Profile) IsMaintenance(finalURL string, status int, body []byte) bool {
	if p.MaintenancePath != "" {
		if u, err := url.Parse(finalURL); err == nil && strings.HasSuffix(strings.TrimRight(u.Path, "/"), p.MaintenancePath) {
			return true
		}
	}
	return status == 503 && p.MaintenanceMarker != "" && strings.Contains(string(body), p.MaintenanceMarker)
}

func absolute(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func text(s *goquery.Selection) string {
	return parser.NormalizeText(s.First().Text())
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = parser.NormalizeText(line); line != "" {
			return line
		}
	}
	return ""
}
