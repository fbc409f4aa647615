// Package models defines data structures for the scraper.
package models

import "time"

// NotAvailable is written for any field that could not be extracted.
const NotAvailable = "N/A"

// Subsection is a named child category of a Section.
type Subsection struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Section is a top-level product category discovered from site navigation.
type Section struct {
	Name        string       `json:"name"`
	URL         string       `json:"url"`
	Subsections []Subsection `json:"subsections,omitempty"`
}

// ProductRecord is one output row: a product, or one variant of it.
type ProductRecord struct {
	ProductName              string    `json:"product_name"`
	BaseName                 string    `json:"base_name"`
	VariantLabel             string    `json:"variant_type"`
	Price                    string    `json:"price"`
	NetPrice                 string    `json:"net_price"`
	StockStatus              string    `json:"stock_status"`
	QuantityAvailable        string    `json:"quantity_available"`
	DeliveryTime             string    `json:"delivery_time"`
	ProductNumber            string    `json:"product_number"`
	Images                   []string  `json:"images"`
	DescriptionAndProperties string    `json:"description_and_properties"`
	CategoryPath             string    `json:"category_path"`
	URL                      string    `json:"url"`
	ScrapedAt                time.Time `json:"scraped_at"`
}

// Checkpoint marks the last confirmed crawl position.
type Checkpoint struct {
	Section          string    `json:"section"`
	Page             int       `json:"page"`
	ProductIdxOnPage int       `json:"product_idx_on_page"`
	URL              string    `json:"url"`
	Timestamp        time.Time `json:"ts"`
}

// CrawlResult holds the overall result of a crawl.
type CrawlResult struct {
	StartTime     time.Time
	EndTime       time.Time
	Sections      int
	PageCount     int
	ProductCount  int
	RecordCount   int
	DuplicateURLs int
	FailedURLs    []string
	ErrorsByType  map[string]int
	RetryCount    int
	RequestCount  int
	Completed     bool
}
