// Package scraper crawls a storefront: it discovers sections, pages through
// listings, extracts product variants and records progress for resume.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/semaphore"

	"github.com/aluiziolira/go-scrape-catalogs/config"
	"github.com/aluiziolira/go-scrape-catalogs/models"
	"github.com/aluiziolira/go-scrape-catalogs/parser"
	"github.com/aluiziolira/go-scrape-catalogs/site"
)

const endOfPage = "end of page"

// Sink receives extracted rows. Flush must not return until the rows are written.
type Sink interface {
	Process(records ...*models.ProductRecord) error
	Flush() error
}

// CheckpointStore persists the crawl position.
type CheckpointStore interface {
	Save(cp models.Checkpoint) error
	Clear() error
}

// Crawler coordinates listing pagination and product extraction. Only the
// goroutine running Run touches the dedup set, the sink and the checkpoint;
// extraction goroutines just return records.
type Crawler struct {
	cfg        *config.Config
	profile    *site.Profile
	fetcher    *Fetcher
	listings   DocumentSource
	pages      PageFactory
	extractor  *Extractor
	sink       Sink
	checkpoint CheckpointStore
	Metrics    *Metrics

	seen  *lru.Cache[string, struct{}]
	sleep func(context.Context, time.Duration) error
}

// NewCrawler wires the crawler. Listing pages are always fetched through
// fetcher; product pages come from pages.
func NewCrawler(cfg *config.Config, profile *site.Profile, fetcher *Fetcher, pages PageFactory, sink Sink, store CheckpointStore) (*Crawler, error) {
	seen, err := lru.New[string, struct{}](cfg.DedupeMaxSize)
	if err != nil {
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}
	if pages == nil {
		pages = StaticPages{Fetcher: fetcher}
	}
	return &Crawler{
		cfg:        cfg,
		profile:    profile,
		fetcher:    fetcher,
		listings:   fetcher,
		pages:      pages,
		extractor:  NewExtractor(cfg, profile, fetcher.Metrics),
		sink:       sink,
		checkpoint: store,
		Metrics:    fetcher.Metrics,
		seen:       seen,
		sleep:      sleepContext,
	}, nil
}

// DiscoverSections fetches the homepage and reads its navigation.
func (c *Crawler) DiscoverSections(ctx context.Context) ([]models.Section, error) {
	doc, err := c.fetcher.Fetch(ctx, c.cfg.HomepageURL)
	if err != nil {
		return nil, fmt.Errorf("fetch homepage: %w", err)
	}
	sections, err := c.profile.DiscoverSections(doc.Doc, doc.URL)
	if err != nil {
		c.Metrics.IncError(ErrorTypeLabel(err))
		return nil, err
	}
	slog.Info("sections discovered", slog.Int("count", len(sections)), slog.String("site", c.profile.Name))
	return sections, nil
}

// Run crawls every target of plan. On cancellation it returns ctx.Err() and
// leaves the checkpoint in place; after a full run the checkpoint is cleared.
func (c *Crawler) Run(ctx context.Context, plan Plan) (*models.CrawlResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	result := &models.CrawlResult{
		StartTime:    time.Now(),
		ErrorsByType: make(map[string]int),
	}
	var failed []string
	defer func() {
		c.finish(result, failed)
	}()

	for _, target := range plan.Targets {
		slog.Info("crawling section",
			slog.String("section", target.Name),
			slog.Int("start_page", target.StartPage),
			slog.Int("start_idx", target.StartIdx),
		)
		err := c.crawlTarget(ctx, target, result, &failed)
		if ctx.Err() != nil {
			slog.Warn("crawl interrupted, checkpoint kept", slog.String("section", target.Name))
			return result, ctx.Err()
		}
		if err != nil {
			slog.Error("section ended early",
				slog.String("section", target.Name),
				slog.String("category", ErrorTypeLabel(err)),
				slog.Any("error", err),
			)
			if isSinkError(err) {
				return result, err
			}
		}
		result.Sections++
	}

	if err := c.checkpoint.Clear(); err != nil {
		slog.Error("clear checkpoint", slog.Any("error", err))
	}
	result.Completed = true
	return result, nil
}

func (c *Crawler) finish(result *models.CrawlResult, failed []string) {
	result.EndTime = time.Now()
	stats := c.fetcher.Stats()
	result.RequestCount = stats.Requests
	result.RetryCount = stats.Retries
	for k, v := range stats.ErrorsByType {
		result.ErrorsByType[k] += v
	}
	seen := make(map[string]struct{})
	for _, u := range append(stats.FailedURLs, failed...) {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		result.FailedURLs = append(result.FailedURLs, u)
	}
}

type sinkError struct{ err error }

func (e *sinkError) Error() string { return "output sink: " + e.err.Error() }
func (e *sinkError) Unwrap() error { return e.err }

func isSinkError(err error) bool {
	var se *sinkError
	return errors.As(err, &se)
}

func (c *Crawler) crawlTarget(ctx context.Context, target Target, result *models.CrawlResult, failed *[]string) error {
	it := NewListingIterator(c.listings, c.profile, c.Metrics, target.URL, target.StartPage, c.cfg.MaxPages)
	first := true
	for it.Next(ctx) {
		page := it.Page()
		skip := 0
		if first && page == target.StartPage && target.StartIdx > 1 {
			skip = target.StartIdx - 1
		}
		first = false
		result.PageCount++

		links := it.Links()
		slog.Info("listing page",
			slog.String("section", target.Name),
			slog.Int("page", page),
			slog.Int("products", len(links)),
			slog.Int("skipped", min(skip, len(links))),
		)
		if err := c.crawlPage(ctx, target.Name, page, links, skip, result, failed); err != nil {
			return err
		}
		c.saveCheckpoint(models.Checkpoint{Section: target.Name, Page: page + 1, ProductIdxOnPage: 1, URL: endOfPage})
	}
	return it.Err()
}

type productJob struct {
	idx int // 1-based position on the listing page
	url string
}

type productResult struct {
	job     productJob
	records []*models.ProductRecord
	err     error
}

func (c *Crawler) crawlPage(ctx context.Context, section string, page int, links []string, skip int, result *models.CrawlResult, failed *[]string) error {
	done := make([]bool, len(links)+1)
	watermark := min(skip, len(links))

	var jobs []productJob
	for i, link := range links {
		idx := i + 1
		if idx <= skip {
			continue
		}
		key := parser.NormalizeProductURL(link)
		if c.seen.Contains(key) {
			result.DuplicateURLs++
			c.Metrics.IncProduct("duplicate")
			done[idx] = true
			continue
		}
		c.seen.Add(key, struct{}{})
		jobs = append(jobs, productJob{idx: idx, url: key})
	}
	for watermark < len(links) && done[watermark+1] {
		watermark++
	}
	if len(jobs) == 0 {
		return nil
	}

	results := c.dispatch(ctx, jobs)
	var sinkErr error
	for res := range results {
		if ctx.Err() != nil || sinkErr != nil {
			continue
		}
		if res.err != nil {
			result.ErrorsByType[ErrorTypeLabel(res.err)]++
			c.Metrics.IncProduct("failed")
			*failed = append(*failed, res.job.url)
			slog.Error("product skipped",
				slog.String("url", res.job.url),
				slog.String("category", ErrorTypeLabel(res.err)),
				slog.Any("error", res.err),
			)
		} else {
			if err := c.sink.Process(res.records...); err != nil {
				sinkErr = &sinkError{err: err}
				continue
			}
			if err := c.sink.Flush(); err != nil {
				sinkErr = &sinkError{err: err}
				continue
			}
			result.ProductCount++
			result.RecordCount += len(res.records)
			c.Metrics.IncProduct("ok")
			c.Metrics.AddRecords(len(res.records))
		}

		done[res.job.idx] = true
		advanced := false
		for watermark < len(links) && done[watermark+1] {
			watermark++
			advanced = true
		}
		if advanced {
			c.saveCheckpoint(models.Checkpoint{Section: section, Page: page, ProductIdxOnPage: watermark + 1, URL: res.job.url})
		}
	}

	if sinkErr != nil {
		return sinkErr
	}
	return ctx.Err()
}

// dispatch runs jobs in on-page order through the admission gate, spaced by
// the configured delay, and streams results as they complete.
func (c *Crawler) dispatch(ctx context.Context, jobs []productJob) <-chan productResult {
	results := make(chan productResult, len(jobs))
	sem := semaphore.NewWeighted(int64(c.cfg.Parallelism))

	go func() {
		var wg sync.WaitGroup
		defer func() {
			wg.Wait()
			close(results)
		}()
		for n, job := range jobs {
			if n > 0 && c.cfg.Delay > 0 {
				if err := c.sleep(ctx, c.cfg.Delay); err != nil {
					return
				}
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			wg.Add(1)
			go func(job productJob) {
				defer wg.Done()
				defer sem.Release(1)
				results <- c.extract(ctx, job)
			}(job)
		}
	}()
	return results
}

func (c *Crawler) extract(ctx context.Context, job productJob) productResult {
	c.Metrics.AddInFlight(1)
	defer c.Metrics.AddInFlight(-1)

	page, err := c.pages.NewPage(ctx)
	if err != nil {
		return productResult{job: job, err: fmt.Errorf("open page: %w", err)}
	}
	defer page.Close()

	records, err := c.extractor.Extract(ctx, page, job.url)
	return productResult{job: job, records: records, err: err}
}

func (c *Crawler) saveCheckpoint(cp models.Checkpoint) {
	cp.Timestamp = time.Now()
	if err := c.checkpoint.Save(cp); err != nil {
		slog.Error("save checkpoint", slog.Any("error", err), slog.String("section", cp.Section), slog.Int("page", cp.Page))
		return
	}
	c.Metrics.IncCheckpoint()
}
