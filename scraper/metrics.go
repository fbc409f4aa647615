package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the crawler.
type Metrics struct {
	Registry             *prometheus.Registry
	RequestsTotal        *prometheus.CounterVec
	RequestDuration      prometheus.Histogram
	RecordsTotal         prometheus.Counter
	RetriesTotal         prometheus.Counter
	ErrorsTotal          *prometheus.CounterVec
	ListingPagesTotal    *prometheus.CounterVec
	ProductsTotal        *prometheus.CounterVec
	VariantFailuresTotal prometheus.Counter
	CheckpointSavesTotal prometheus.Counter
	InFlightProducts     prometheus.Gauge
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total HTTP requests issued by the scraper.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "HTTP request latency for scraper requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	records := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_records_total",
			Help: "Total number of product rows sent to the output sink.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of scraper errors by type.",
		},
		[]string{"error_type"},
	)
	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_listing_pages_total",
			Help: "Listing pages fetched, by outcome.",
		},
		[]string{"outcome"},
	)
	products := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_products_total",
			Help: "Product pages handled, by outcome.",
		},
		[]string{"outcome"},
	)
	variantFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_variant_selection_failures_total",
			Help: "Configurator options that could not be selected.",
		},
	)
	checkpoints := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_checkpoint_saves_total",
			Help: "Checkpoint writes.",
		},
	)
	inFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scraper_products_in_flight",
			Help: "Product pages currently being extracted.",
		},
	)

	registry.MustRegister(requests, requestDuration, records, retries, errorsTotal,
		pages, products, variantFailures, checkpoints, inFlight)

	return &Metrics{
		Registry:             registry,
		RequestsTotal:        requests,
		RequestDuration:      requestDuration,
		RecordsTotal:         records,
		RetriesTotal:         retries,
		ErrorsTotal:          errorsTotal,
		ListingPagesTotal:    pages,
		ProductsTotal:        products,
		VariantFailuresTotal: variantFailures,
		CheckpointSavesTotal: checkpoints,
		InFlightProducts:     inFlight,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// AddRecords increments the records counter.
func (m *Metrics) AddRecords(n int) {
	if m == nil {
		return
	}
	m.RecordsTotal.Add(float64(n))
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncListingPage counts a listing page by outcome.
func (m *Metrics) IncListingPage(outcome string) {
	if m == nil {
		return
	}
	m.ListingPagesTotal.WithLabelValues(outcome).Inc()
}

// IncProduct counts a product page by outcome.
func (m *Metrics) IncProduct(outcome string) {
	if m == nil {
		return
	}
	m.ProductsTotal.WithLabelValues(outcome).Inc()
}

// IncVariantFailure counts a configurator option that could not be selected.
func (m *Metrics) IncVariantFailure() {
	if m == nil {
		return
	}
	m.VariantFailuresTotal.Inc()
}

// IncCheckpoint counts a checkpoint save.
func (m *Metrics) IncCheckpoint() {
	if m == nil {
		return
	}
	m.CheckpointSavesTotal.Inc()
}

// AddInFlight moves the in-flight gauge.
func (m *Metrics) AddInFlight(delta float64) {
	if m == nil {
		return
	}
	m.InFlightProducts.Add(delta)
}
