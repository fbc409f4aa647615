package site

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-catalogs/models"
	"github.com/aluiziolira/go-scrape-catalogs/parser"
)

var (
	categorySlug = regexp.MustCompile(`/c/([^/.]+)\.html`)
	dataLayer    = regexp.MustCompile(`(?s)window\.dataLayer\.push\((\{.*?\})\);`)
	urlProductID = regexp.MustCompile(`/(\d+)\.html`)
)

// ITPlanet is the Shopware 5 storefront at it-planet.com.
var ITPlanet = register(&Profile{
	Name:              "itplanet",
	HomepageURL:       "https://it-planet.com/en",
	MaintenancePath:   "/maintenance",
	MaintenanceMarker: "Maintenance mode",
	ReadySelector:     "h1.product--title",
	Variants:          URLVariants,
	URLVariants: []URLVariant{
		{Label: "new"},
		{Label: "refurbished", Suffix: ".1"},
	},

	discover:     itPlanetSections,
	listingState: itPlanetListingState,
	productLinks: itPlanetProductLinks,
	fields:       itPlanetFields,
	productID:    itPlanetProductID,
})

func slugTitle(href string) string {
	m := categorySlug.FindStringSubmatch(href)
	if m == nil {
		return ""
	}
	words := strings.Fields(strings.ReplaceAll(m[1], "-", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

func itPlanetSections(doc *goquery.Document, base *url.URL) ([]models.Section, error) {
	containers := doc.Find("div.menu--container")
	if containers.Length() == 0 {
		return nil, &DiscoveryError{URL: base.String(), Reason: "no div.menu--container blocks"}
	}

	var sections []models.Section
	seen := make(map[string]struct{})
	containers.Each(func(_ int, c *goquery.Selection) {
		link := c.Find("div.button-container a.button--category").First()
		href := link.AttrOr("href", "")
		name := slugTitle(href)
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}

		section := models.Section{Name: name, URL: absolute(base, href)}
		subSeen := make(map[string]struct{})
		c.Find("ul.menu--list li.menu--list-item a.menu--list-item-link").Each(func(_ int, a *goquery.Selection) {
			subHref := a.AttrOr("href", "")
			subName := slugTitle(subHref)
			if subName == "" || text(a) == "" {
				return
			}
			if _, ok := subSeen[subName]; ok {
				return
			}
			subSeen[subName] = struct{}{}
			section.Subsections = append(section.Subsections, models.Subsection{Name: subName, URL: absolute(base, subHref)})
		})
		sections = append(sections, section)
	})
	return sections, nil
}

func itPlanetListingState(doc *goquery.Document) ListingState {
	if doc.Find("div.product--box").Length() > 0 {
		return ListingItems
	}
	if doc.Find(".alert.is--error, .alert.is--info").Length() > 0 {
		return ListingErrorBanner
	}
	return ListingEmpty
}

func itPlanetProductLinks(doc *goquery.Document) []string {
	var hrefs []string
	doc.Find("div.product--box").Each(func(_ int, box *goquery.Selection) {
		a := box.Find(".product--info a.product--title").First()
		if a.Length() == 0 {
			a = box.Find(".product--detail-btn a").First()
		}
		if href, ok := a.Attr("href"); ok {
			hrefs = append(hrefs, href)
		}
	})
	return hrefs
}

func itPlanetFields(doc *goquery.Document, base *url.URL) Fields {
	f := Fields{
		Name:          text(doc.Find("h1.product--title")),
		DeliveryTime:  text(doc.Find("p.delivery--information span.delivery--text")),
		ProductNumber: text(doc.Find("li.entry--suppliernumber span.entry--content")),
	}

	if price := doc.Find("div.product--price").First(); price.Length() > 0 {
		if content := price.Find("span.price--content"); content.Length() > 0 {
			f.Price = text(content)
		} else if raw := text(price); !strings.Contains(raw, "Price on request") {
			f.Price = raw
		}
	}

	doc.Find("div.image--box img").Each(func(_ int, img *goquery.Selection) {
		src := img.AttrOr("src", "")
		if src == "" || strings.Contains(src, "no-picture") {
			return
		}
		if abs := absolute(base, src); abs != "" {
			f.Images = append(f.Images, abs)
		}
	})

	desc := doc.Find("div.product--description").First()
	var props []parser.Property
	desc.Find("table").Each(func(_ int, table *goquery.Selection) {
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td")
			if cells.Length() < 2 {
				return
			}
			props = append(props, parser.Property{Label: cells.Eq(0).Text(), Value: cells.Eq(1).Text()})
		})
	})
	if len(props) > 0 {
		f.DescriptionAndProperties = parser.JoinProperties("", props)
	} else {
		f.DescriptionAndProperties = text(desc)
	}

	var crumbs []string
	doc.Find("div.breadcrumb--container a.breadcrumb--link").Each(func(_ int, a *goquery.Selection) {
		if t := text(a); t != "" && !strings.Contains(t, "Home") {
			crumbs = append(crumbs, t)
		}
	})
	f.CategoryPath = strings.Join(crumbs, " > ")
	return f
}

type dataLayerPayload struct {
	Ecommerce struct {
		Detail struct {
			Products []struct {
				ID json.RawMessage `json:"id"`
			} `json:"products"`
		} `json:"detail"`
	} `json:"ecommerce"`
}

// itPlanetProductID prefers the analytics payload, then the order number
// entry, then the numeric URL suffix.
func itPlanetProductID(doc *goquery.Document, pageURL string) string {
	var id string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		body := s.Text()
		if !strings.Contains(body, "dataLayer.push") {
			return true
		}
		m := dataLayer.FindStringSubmatch(body)
		if m == nil {
			return true
		}
		var payload dataLayerPayload
		if err := json.Unmarshal([]byte(m[1]), &payload); err != nil {
			return true
		}
		if products := payload.Ecommerce.Detail.Products; len(products) > 0 {
			id = rawID(products[0].ID)
		}
		return id == ""
	})
	if id != "" {
		return id
	}
	if id = text(doc.Find("li.entry--ordernumber span.entry--content")); id != "" {
		return id
	}
	if m := urlProductID.FindStringSubmatch(pageURL); m != nil {
		return m[1]
	}
	return ""
}

func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.Trim(strings.TrimSpace(string(raw)), `"`)
}
