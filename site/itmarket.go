package site

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/aluiziolira/go-scrape-catalogs/models"
	"github.com/aluiziolira/go-scrape-catalogs/parser"
)

const (
	itMarketErrorBanner = "Unfortunately, something went wrong"
	itMarketRadios      = `.product-detail-configurator-option input[type="radio"]`
)

// ITMarket is the Shopware 6 storefront at it-market.com.
var ITMarket = register(&Profile{
	Name:              "itmarket",
	HomepageURL:       "https://it-market.com/en",
	MaintenancePath:   "/maintenance",
	MaintenanceMarker: "Maintenance mode",
	ReadySelector:     ".product-detail-configurator-options, .product-detail-name",
	Variants:          RadioVariants,
	RadioSelector:     itMarketRadios,

	discover:      itMarketSections,
	listingState:  itMarketListingState,
	productLinks:  itMarketProductLinks,
	fields:        itMarketFields,
	variantFields: itMarketVariantFields,
})

// itMarketSections keeps the navigation links after the "|" spacer; the ones
// before it are manufacturer, service and blog pages.
func itMarketSections(doc *goquery.Document, base *url.URL) ([]models.Section, error) {
	nav := doc.Find("#main-navigation-menu").First()
	if nav.Length() == 0 {
		return nil, &DiscoveryError{URL: base.String(), Reason: "navigation #main-navigation-menu not found"}
	}
	if nav.Find("span.main-navigation-spacer").Length() == 0 {
		return nil, &DiscoveryError{URL: base.String(), Reason: "navigation spacer not found"}
	}

	var sections []models.Section
	seen := make(map[string]struct{})
	afterSpacer := false
	nav.Find("span.main-navigation-spacer, a.main-navigation-link").Each(func(_ int, s *goquery.Selection) {
		if s.Is("span") {
			afterSpacer = true
			return
		}
		if !afterSpacer {
			return
		}
		name := text(s)
		href := absolute(base, s.AttrOr("href", ""))
		if name == "" || href == "" {
			return
		}
		u, err := url.Parse(href)
		if err != nil {
			return
		}
		parts := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
		if len(parts) != 2 || parts[0] != "en" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		sections = append(sections, models.Section{Name: name, URL: href})
	})
	return sections, nil
}

func itMarketListingWrapper(doc *goquery.Document) *goquery.Selection {
	return doc.Find(`div.cms-listing-row.js-listing-wrapper[role="list"]`).First()
}

func itMarketListingState(doc *goquery.Document) ListingState {
	banner := false
	doc.Find("div.alert.alert-danger .alert-content").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		banner = strings.Contains(parser.NormalizeText(s.Text()), itMarketErrorBanner)
		return !banner
	})
	if banner {
		return ListingErrorBanner
	}
	if itMarketListingWrapper(doc).Find("div.cms-listing-col").Length() == 0 {
		return ListingEmpty
	}
	return ListingItems
}

func itMarketProductLinks(doc *goquery.Document) []string {
	var hrefs []string
	itMarketListingWrapper(doc).Find("div.cms-listing-col").Each(func(_ int, card *goquery.Selection) {
		a := card.Find("a.product-name.stretched-link").First()
		if a.Length() == 0 {
			a = card.Find("a.btn.btn-primary.btn-detail").First()
		}
		if href, ok := a.Attr("href"); ok {
			hrefs = append(hrefs, href)
		}
	})
	return hrefs
}

func itMarketFields(doc *goquery.Document, base *url.URL) Fields {
	f := Fields{
		Name:              text(doc.Find(".product-detail-name")),
		QuantityAvailable: text(doc.Find(".product-detail-quantity-available")),
		DeliveryTime:      text(doc.Find(".delivery-information")),
		ProductNumber:     text(doc.Find(".product-detail-ordernumber")),
	}

	doc.Find(".gallery-slider-thumbnails-item img").Each(func(_ int, img *goquery.Selection) {
		src := img.AttrOr("src", "")
		if src == "" {
			src = img.AttrOr("data-src", "")
		}
		if abs := absolute(base, src); abs != "" {
			f.Images = append(f.Images, abs)
		}
	})

	pane := doc.Find("#description-tab-pane").First()
	var props []parser.Property
	pane.Find("table.product-detail-properties-table tr.properties-row").Each(func(_ int, row *goquery.Selection) {
		props = append(props, parser.Property{
			Label: row.Find(".properties-label").First().Text(),
			Value: row.Find(".properties-value").First().Text(),
		})
	})
	f.DescriptionAndProperties = parser.JoinProperties(pane.Find(".product-detail-description-text").First().Text(), props)

	var crumbs []string
	doc.Find(".breadcrumb-item a.breadcrumb-link").Each(func(_ int, a *goquery.Selection) {
		if strings.Contains(strings.ToLower(a.AttrOr("title", "")), "home") {
			return
		}
		if title := text(a.Find(".breadcrumb-title")); title != "" {
			crumbs = append(crumbs, title)
		}
	})
	f.CategoryPath = strings.Join(crumbs, " > ")

	// Products without a configurator show a single price container.
	if doc.Find(itMarketRadios).Length() == 0 {
		f.Price, f.NetPrice = parser.ParsePriceBlock(blockText(doc.Find(".product-detail-price-container").First()))
	}
	return f
}

func itMarketVariantFields(doc *goquery.Document, index int) (VariantFields, error) {
	radios := doc.Find(itMarketRadios)
	if index < 0 || index >= radios.Length() {
		return VariantFields{}, fmt.Errorf("variant %d out of range (%d options)", index, radios.Length())
	}
	id := radios.Eq(index).AttrOr("id", "")
	if id == "" {
		return VariantFields{}, fmt.Errorf("variant %d has no id", index)
	}
	label := doc.Find(fmt.Sprintf(`label[for=%q]`, id)).First()
	if label.Length() == 0 {
		return VariantFields{}, fmt.Errorf("label for variant %q not found", id)
	}

	v := VariantFields{Label: parser.NormalizeText(label.AttrOr("title", ""))}
	if v.Label == "" {
		if title := label.Find(".product-detail-configurator-option-label-title").First(); title.Length() > 0 {
			v.Label = firstLine(blockText(title))
		}
	}

	prices := label.Find(".product-detail-configurator-option-label-prices").First()
	if prices.Length() == 0 {
		prices = doc.Find(".product-detail-configurator-option-label-prices").First()
	}
	v.Price, v.NetPrice = parser.ParsePriceBlock(blockText(prices))

	if stock := label.Find(".product-detail-configurator-option-inStock"); stock.Length() > 0 {
		v.StockStatus = text(stock)
	} else if delivery := label.Find(".product-detail-configurator-option-withDelivery"); delivery.Length() > 0 {
		v.StockStatus = text(delivery)
	}
	return v, nil
}

// blockText renders the text of s with a line break around block elements,
// so price blocks keep their "gross / Net:" line structure.
func blockText(s *goquery.Selection) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			if blockElements[n.Data] {
				b.WriteByte('\n')
				defer b.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}
	return b.String()
}

var blockElements = map[string]bool{
	"br": true, "div": true, "p": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "dd": true, "dt": true,
}
