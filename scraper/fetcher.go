package scraper

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-catalogs/config"
	"github.com/aluiziolira/go-scrape-catalogs/site"
)

const responseKey = "response"

// Document is a fetched and parsed HTML page.
type Document struct {
	// URL is the final URL after redirects.
	URL        string
	StatusCode int
	Body       []byte
	Doc        *goquery.Document
}

type responseHolder struct {
	status int
	url    string
	body   []byte
}

// FetchStats summarises fetcher activity for the crawl result.
type FetchStats struct {
	Requests     int
	Retries      int
	ErrorsByType map[string]int
	FailedURLs   []string
}

// Fetcher issues GET requests through a colly collector and retries transient
// failures with exponential backoff.
type Fetcher struct {
	cfg       *config.Config
	profile   *site.Profile
	collector *colly.Collector
	backoff   *Backoff
	Metrics   *Metrics

	requestCount int64
	retryCount   int64

	mu           sync.Mutex
	failedURLs   []string
	errorsByType map[string]int
}

// NewFetcher builds a fetcher configured from cfg.
func NewFetcher(cfg *config.Config, profile *site.Profile, metrics *Metrics) (*Fetcher, error) {
	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism + 1,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	f := &Fetcher{
		cfg:          cfg,
		profile:      profile,
		collector:    collector,
		backoff:      NewBackoff(cfg.RetryBackoff, cfg.RetryBackoffMax, cfg.MaxRetries),
		Metrics:      metrics,
		errorsByType: make(map[string]int),
	}
	f.configureHandlers()
	return f, nil
}

// SetTransport replaces the HTTP transport, e.g. with a mock in tests.
func (f *Fetcher) SetTransport(rt http.RoundTripper) {
	f.collector.WithTransport(rt)
}

func (f *Fetcher) configureHandlers() {
	f.collector.OnRequest(func(r *colly.Request) {
		r.Ctx.Put("start", time.Now())
		current := atomic.AddInt64(&f.requestCount, 1)
		f.Metrics.IncRequest("started")
		if current%50 == 0 {
			slog.Debug("fetch progress",
				slog.Int64("requests", current),
				slog.String("url", r.URL.String()),
			)
		}
	})

	f.collector.OnResponse(func(r *colly.Response) {
		if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
			f.Metrics.ObserveDuration(time.Since(start))
		}
		holder, ok := r.Ctx.GetAny(responseKey).(*responseHolder)
		if !ok {
			return
		}
		holder.status = r.StatusCode
		holder.url = r.Request.URL.String()
		holder.body = r.Body
	})
}

// Fetch retrieves url, retrying timeouts, connection errors, 429/5xx and
// maintenance pages. Exhausted retries surface as *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Document, error) {
	var doc *Document
	attempts, err := f.backoff.Retry(ctx,
		func(int) error {
			d, err := f.fetchOnce(url)
			if err != nil {
				f.recordError(url, err)
				return err
			}
			doc = d
			return nil
		},
		Retryable,
		func(attempt int, delay time.Duration, err error) {
			atomic.AddInt64(&f.retryCount, 1)
			f.Metrics.IncRetries()
			slog.Warn("retrying fetch",
				slog.String("url", url),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", delay),
				slog.String("category", ErrorTypeLabel(err)),
				slog.Any("error", err),
			)
		},
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.mu.Lock()
		f.failedURLs = append(f.failedURLs, url)
		f.mu.Unlock()
		return nil, &FetchError{URL: url, Attempts: attempts, Err: err}
	}
	return doc, nil
}

func (f *Fetcher) fetchOnce(url string) (*Document, error) {
	holder := &responseHolder{}
	rctx := colly.NewContext()
	rctx.Put(responseKey, holder)

	if err := f.collector.Request(http.MethodGet, url, nil, rctx, nil); err != nil {
		return nil, ClassifyError(err, holder.status)
	}
	if holder.status == 0 {
		return nil, fmt.Errorf("no response received for %s", url)
	}

	finalURL := holder.url
	if finalURL == "" {
		finalURL = url
	}
	if f.profile != nil && f.profile.IsMaintenance(finalURL, holder.status, holder.body) {
		return nil, &MaintenanceError{URL: finalURL, Status: holder.status}
	}
	if holder.status >= http.StatusBadRequest {
		return nil, ClassifyError(nil, holder.status)
	}

	parsed, err := goquery.NewDocumentFromReader(bytes.NewReader(holder.body))
	if err != nil {
		return nil, fmt.Errorf("parse html from %s: %w", finalURL, err)
	}
	return &Document{URL: finalURL, StatusCode: holder.status, Body: holder.body, Doc: parsed}, nil
}

func (f *Fetcher) recordError(url string, err error) {
	category := ErrorTypeLabel(err)
	f.mu.Lock()
	f.errorsByType[category]++
	f.mu.Unlock()
	f.Metrics.IncError(category)
	slog.Debug("fetch attempt failed",
		slog.String("url", url),
		slog.String("category", category),
		slog.Any("error", err),
	)
}

// Stats returns a snapshot of request, retry and error counters.
func (f *Fetcher) Stats() FetchStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	errs := make(map[string]int, len(f.errorsByType))
	for k, v := range f.errorsByType {
		errs[k] = v
	}
	failed := make([]string, len(f.failedURLs))
	copy(failed, f.failedURLs)
	return FetchStats{
		Requests:     int(atomic.LoadInt64(&f.requestCount)),
		Retries:      int(atomic.LoadInt64(&f.retryCount)),
		ErrorsByType: errs,
		FailedURLs:   failed,
	}
}
