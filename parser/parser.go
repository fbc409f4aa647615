// Package parser holds the pure text transformations applied to scraped fields.
package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/aluiziolira/go-scrape-catalogs/models"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	netPriceLine  = regexp.MustCompile(`(?i)\bnet\s*:\s*(.+)`)
)

// ValidateRecord ensures the extractor produced a writable row.
func ValidateRecord(r *models.ProductRecord) error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if strings.TrimSpace(r.ProductName) == "" {
		return fmt.Errorf("record missing product name for %s", r.URL)
	}
	return nil
}

// NormalizeText turns non-breaking spaces into spaces, collapses whitespace runs
// and trims. Applying it twice is a no-op.
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\u00a0", " ")
	text = whitespaceRun.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// OrNA returns the normalized text, or the N/A sentinel when nothing is left.
func OrNA(text string) string {
	if text = NormalizeText(text); text == "" {
		return models.NotAvailable
	}
	return text
}

// ParsePriceBlock splits a configurator price block such as "€166.60*\nNet: €140.00"
// into the gross price (first non-empty line) and the net price. Missing parts are N/A.
func ParsePriceBlock(text string) (price, netPrice string) {
	price, netPrice = models.NotAvailable, models.NotAvailable

	cleaned := strings.TrimSpace(strings.ReplaceAll(text, "*", ""))
	if cleaned == "" {
		return price, netPrice
	}

	for _, line := range strings.Split(cleaned, "\n") {
		line = NormalizeText(line)
		if line == "" {
			continue
		}
		if loc := netPriceLine.FindStringIndex(line); loc != nil {
			line = NormalizeText(line[:loc[0]])
		}
		if line != "" {
			price = line
		}
		break
	}

	if m := netPriceLine.FindStringSubmatch(cleaned); m != nil {
		if net := NormalizeText(m[1]); net != "" {
			netPrice = net
		}
	}
	return price, netPrice
}

// Property is one label/value row of a specification table.
type Property struct {
	Label string
	Value string
}

// JoinProperties builds the description column: the free-text description followed by
// "label: value" pairs, all joined with "; ". Pairs with an empty side are dropped.
func JoinProperties(description string, props []Property) string {
	parts := make([]string, 0, len(props)+1)
	if d := NormalizeText(description); d != "" {
		parts = append(parts, d)
	}
	for _, p := range props {
		label := strings.TrimSpace(strings.TrimRight(NormalizeText(p.Label), ":"))
		value := NormalizeText(p.Value)
		if label == "" || value == "" {
			continue
		}
		parts = append(parts, label+": "+value)
	}
	return strings.Join(parts, "; ")
}

// NormalizeRecord applies NormalizeText to every scalar column and fills blanks with N/A.
func NormalizeRecord(r *models.ProductRecord) {
	r.ProductName = OrNA(r.ProductName)
	r.BaseName = OrNA(r.BaseName)
	r.VariantLabel = OrNA(r.VariantLabel)
	r.Price = OrNA(r.Price)
	r.NetPrice = OrNA(r.NetPrice)
	r.StockStatus = OrNA(r.StockStatus)
	r.QuantityAvailable = OrNA(r.QuantityAvailable)
	r.DeliveryTime = OrNA(r.DeliveryTime)
	r.ProductNumber = OrNA(r.ProductNumber)
	r.DescriptionAndProperties = OrNA(r.DescriptionAndProperties)
	r.CategoryPath = OrNA(r.CategoryPath)

	images := make([]string, 0, len(r.Images))
	for _, img := range r.Images {
		if img = strings.TrimSpace(img); img != "" {
			images = append(images, img)
		}
	}
	r.Images = images
}
