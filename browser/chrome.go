// Package browser drives product pages through a real Chrome instance so
// configurator options rendered by JavaScript can be selected.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/aluiziolira/go-scrape-catalogs/config"
	"github.com/aluiziolira/go-scrape-catalogs/scraper"
	"github.com/aluiziolira/go-scrape-catalogs/site"
)

// blockedResources are paused by the Fetch domain and failed before they load.
var blockedResources = []network.ResourceType{
	network.ResourceTypeImage,
	network.ResourceTypeFont,
}

// ChromePages owns one browser process and opens a tab per page.
type ChromePages struct {
	cfg     *config.Config
	profile *site.Profile
	metrics *scraper.Metrics
	backoff *scraper.Backoff

	allocCtx      context.Context
	cancelAlloc   context.CancelFunc
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
}

// NewChromePages starts Chrome with the configured flags.
func NewChromePages(cfg *config.Config, profile *site.Profile, metrics *scraper.Metrics) (*ChromePages, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromePath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			slog.Debug("chromedp", slog.String("msg", fmt.Sprintf(format, args...)))
		}),
	)
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	slog.Info("browser started", slog.Bool("headless", cfg.Headless), slog.String("exec_path", cfg.ChromePath))
	return &ChromePages{
		cfg:           cfg,
		profile:       profile,
		metrics:       metrics,
		backoff:       scraper.NewBackoff(cfg.RetryBackoff, cfg.RetryBackoffMax, cfg.MaxRetries),
		allocCtx:      allocCtx,
		cancelAlloc:   cancelAlloc,
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
	}, nil
}

// NewPage opens a tab with image and font requests blocked.
func (c *ChromePages) NewPage(ctx context.Context) (scraper.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tabCtx, cancel := chromedp.NewContext(c.browserCtx)

	chromedp.ListenTarget(tabCtx, func(ev any) {
		paused, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		go func() {
			target := chromedp.FromContext(tabCtx).Target
			if target == nil {
				return
			}
			execCtx := cdp.WithExecutor(tabCtx, target)
			var err error
			if isBlocked(paused.ResourceType) {
				err = fetch.FailRequest(paused.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
			} else {
				err = fetch.ContinueRequest(paused.RequestID).Do(execCtx)
			}
			if err != nil && tabCtx.Err() == nil {
				slog.Debug("intercepted request not resolved", slog.String("url", paused.Request.URL), slog.Any("error", err))
			}
		}()
	})

	if err := chromedp.Run(tabCtx, fetch.Enable().WithPatterns(blockPatterns())); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return &ChromePage{pages: c, ctx: tabCtx, cancel: cancel}, nil
}

// Close shuts the browser down.
func (c *ChromePages) Close() error {
	c.cancelBrowser()
	c.cancelAlloc()
	return nil
}

func blockPatterns() []*fetch.RequestPattern {
	patterns := make([]*fetch.RequestPattern, 0, len(blockedResources))
	for _, rt := range blockedResources {
		patterns = append(patterns, &fetch.RequestPattern{URLPattern: "*", ResourceType: rt})
	}
	return patterns
}

func isBlocked(rt network.ResourceType) bool {
	for _, b := range blockedResources {
		if rt == b {
			return true
		}
	}
	return false
}

// checkResponse turns a finished navigation into the fetcher's typed errors.
func (c *ChromePages) checkResponse(location string, status int, body string) error {
	if c.profile != nil && c.profile.IsMaintenance(location, status, []byte(body)) {
		return &scraper.MaintenanceError{URL: location, Status: status}
	}
	if status >= 400 {
		return scraper.ClassifyError(nil, status)
	}
	return nil
}

// classifyNavigation maps chromedp failures; net:: load errors count as
// connection failures so they are retried.
func classifyNavigation(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return scraper.ErrTimeout{Err: err}
	}
	if strings.Contains(err.Error(), "net::ERR_") {
		return scraper.ErrConnection{Err: err}
	}
	return err
}

// ChromePage is one browser tab.
type ChromePage struct {
	pages  *ChromePages
	ctx    context.Context
	cancel context.CancelFunc
	url    string
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
func (p *ChromePage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Navigate loads url with the fetcher's retry policy.
func (p *ChromePage) Navigate(ctx context.Context, url string) error {
	attempts, err := p.pages.backoff.Retry(ctx,
		func(int) error {
			err := p.navigateOnce(ctx, url)
			if err != nil {
				p.pages.metrics.IncError(scraper.ErrorTypeLabel(err))
			}
			return err
		},
		scraper.Retryable,
		func(attempt int, delay time.Duration, err error) {
			p.pages.metrics.IncRetries()
			slog.Warn("retrying navigation",
				slog.String("url", url),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", delay),
				slog.String("category", scraper.ErrorTypeLabel(err)),
				slog.Any("error", err),
			)
		},
	)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &scraper.FetchError{URL: url, Attempts: attempts, Err: err}
	}
	return nil
}

func (p *ChromePage) navigateOnce(ctx context.Context, url string) error {
	p.pages.metrics.IncRequest("started")
	start := time.Now()

	runCtx, cancel := context.WithTimeout(p.ctx, p.pages.cfg.Timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(url))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return classifyNavigation(err)
	}
	p.pages.metrics.ObserveDuration(time.Since(start))

	var location, body string
	if err := chromedp.Run(runCtx,
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &body, chromedp.ByQuery),
	); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return classifyNavigation(err)
	}

	status := 200
	if resp != nil {
		status = int(resp.Status)
	}
	if err := p.pages.checkResponse(location, status, body); err != nil {
		return err
	}
	p.url = location
	return nil
}

// WaitVisible waits for selector; a timeout wraps scraper.ErrWaitTimeout.
func (p *ChromePage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	err := p.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", scraper.ErrWaitTimeout, selector)
	}
	return err
}

// Count evaluates querySelectorAll(selector).length in the tab.
func (p *ChromePage) Count(ctx context.Context, selector string) (int, error) {
	var n int
	script := fmt.Sprintf(`document.querySelectorAll(%s).length`, jsString(selector))
	if err := p.run(ctx, p.pages.cfg.WaitTimeout, chromedp.Evaluate(script, &n)); err != nil {
		return 0, err
	}
	return n, nil
}

type attrResult struct {
	Found bool   `json:"found"`
	Has   bool   `json:"has"`
	Value string `json:"value"`
}

func attrScript(selector string, index int, name string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelectorAll(%s)[%d];
  if (!el) return {found: false, has: false, value: ""};
  return {found: true, has: el.hasAttribute(%s), value: el.getAttribute(%s) || ""};
})()`, jsString(selector), index, jsString(name), jsString(name))
}

// Attr reads attribute name from the index-th match of selector.
func (p *ChromePage) Attr(ctx context.Context, selector string, index int, name string) (string, bool, error) {
	var res attrResult
	if err := p.run(ctx, p.pages.cfg.WaitTimeout, chromedp.Evaluate(attrScript(selector, index, name), &res)); err != nil {
		return "", false, err
	}
	if !res.Found {
		return "", false, fmt.Errorf("no match %d for %s", index, selector)
	}
	return res.Value, res.Has, nil
}

// Click clicks the first visible match of selector.
func (p *ChromePage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, p.pages.cfg.WaitTimeout, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func checkedScript(selector string, index int) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelectorAll(%s)[%d];
  if (!el) return {found: false, has: false, value: ""};
  return {found: true, has: el.checked === true, value: ""};
})()`, jsString(selector), index)
}

// IsChecked reads the live checked property, not the attribute.
func (p *ChromePage) IsChecked(ctx context.Context, selector string, index int) (bool, error) {
	var res attrResult
	if err := p.run(ctx, p.pages.cfg.WaitTimeout, chromedp.Evaluate(checkedScript(selector, index), &res)); err != nil {
		return false, err
	}
	if !res.Found {
		return false, fmt.Errorf("no match %d for %s", index, selector)
	}
	return res.Has, nil
}

// Snapshot parses the live DOM.
func (p *ChromePage) Snapshot(ctx context.Context) (*goquery.Document, error) {
	var html string
	if err := p.run(ctx, p.pages.cfg.WaitTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", p.url, err)
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// URL is the location after the last navigation.
func (p *ChromePage) URL() string {
	return p.url
}

// Close closes the tab.
func (p *ChromePage) Close() error {
	p.cancel()
	return nil
}

func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}
