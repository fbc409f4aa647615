package parser

import (
	"strconv"

	"github.com/aluiziolira/go-scrape-catalogs/models"
)

// NameCounter disambiguates product names within one product page. The first
// occurrence of a base/variant key keeps the plain name, later ones get _2, _3, ...
type NameCounter struct {
	counts map[string]int
}

// NewNameCounter returns an empty counter.
func NewNameCounter() *NameCounter {
	return &NameCounter{counts: make(map[string]int)}
}

// Name returns the emitted product name for base and variant.
func (n *NameCounter) Name(base, variant string) string {
	key := base
	if variant != "" && variant != models.NotAvailable {
		key = base + "_" + variant
	}
	n.counts[key]++
	if c := n.counts[key]; c > 1 {
		return key + "_" + strconv.Itoa(c)
	}
	return key
}
