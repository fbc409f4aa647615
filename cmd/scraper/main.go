package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-scrape-catalogs/browser"
	"github.com/aluiziolira/go-scrape-catalogs/checkpoint"
	"github.com/aluiziolira/go-scrape-catalogs/config"
	"github.com/aluiziolira/go-scrape-catalogs/models"
	"github.com/aluiziolira/go-scrape-catalogs/pipeline"
	"github.com/aluiziolira/go-scrape-catalogs/scraper"
	"github.com/aluiziolira/go-scrape-catalogs/site"
)

func main() {
	defaultCfg := config.DefaultConfig()

	siteDefault := envString("SCRAPER_SITE", defaultCfg.Site)
	pagesDefault := envInt("SCRAPER_PAGES", defaultCfg.MaxPages)
	parallelDefault := envInt("SCRAPER_PARALLEL", defaultCfg.Parallelism)
	delayDefault := envInt("SCRAPER_DELAY_MS", int(defaultCfg.Delay/time.Millisecond))
	outputDefault := envString("SCRAPER_OUTPUT", "")
	formatDefault := envString("SCRAPER_FORMAT", defaultCfg.OutputFormat)
	checkpointDefault := envString("SCRAPER_CHECKPOINT", "")
	metricsDefault := envString("SCRAPER_METRICS_ADDR", defaultCfg.MetricsAddr)
	sectionDefault := envString("SCRAPER_SECTION", "")
	resumeDefault := envBool("SCRAPER_RESUME", false)
	browserDefault := envBool("SCRAPER_BROWSER", defaultCfg.Browser)
	headlessDefault := envBool("SCRAPER_HEADLESS", defaultCfg.Headless)
	chromeDefault := envString("SCRAPER_CHROME_PATH", "")

	siteName := flag.String("site", siteDefault, "Storefront profile: "+strings.Join(site.Names(), ", "))
	homepage := flag.String("homepage", "", "Homepage URL (defaults to the profile's)")
	section := flag.String("section", sectionDefault, "Section to crawl: 1-based index, name, part of a name, or all")
	subsection := flag.String("subsection", "", "Subsection to crawl within the chosen section (default all)")
	resume := flag.Bool("resume", resumeDefault, "Resume from the checkpoint file if present")
	interactive := flag.Bool("interactive", false, "Prompt for section and settings (default when stdin is a terminal and no section is given)")
	maxPages := flag.Int("pages", pagesDefault, "Maximum listing pages per section (0 = no cap)")
	parallelism := flag.Int("parallel", parallelDefault, "Concurrent product pages")
	delayMs := flag.Int("delay", delayDefault, "Delay between product dispatches (milliseconds)")
	randomDelayMs := flag.Int("random-delay", 0, "Random jitter added to request delay (milliseconds)")
	timeoutSec := flag.Int("timeout", int(defaultCfg.Timeout/time.Second), "Request and navigation timeout (seconds)")
	waitSec := flag.Int("wait-timeout", int(defaultCfg.WaitTimeout/time.Second), "Wait for page markers (seconds)")
	maxRetries := flag.Int("max-retries", defaultCfg.MaxRetries, "Maximum retry attempts per URL")
	retryBackoffMs := flag.Int("retry-backoff", int(defaultCfg.RetryBackoff/time.Millisecond), "Initial retry backoff (milliseconds)")
	retryBackoffMaxMs := flag.Int("retry-backoff-max", int(defaultCfg.RetryBackoffMax/time.Millisecond), "Maximum retry backoff (milliseconds)")
	variantRetries := flag.Int("variant-retries", defaultCfg.VariantRetries, "Attempts to select one configurator option")
	respectRobots := flag.Bool("respect-robots", false, "Respect robots.txt directives")
	outputFile := flag.String("output", outputDefault, "Output file path (defaults to output/<site>.<ext>)")
	outputFormat := flag.String("format", formatDefault, "Output format: csv, xlsx, json, or dual")
	delimiter := flag.String("delimiter", string(defaultCfg.Delimiter), "CSV delimiter: ';' or ','")
	bom := flag.Bool("bom", defaultCfg.WriteBOM, "Write a UTF-8 BOM when creating a CSV file")
	checkpointFile := flag.String("checkpoint", checkpointDefault, "Checkpoint file (defaults to output/<site>.checkpoint.json)")
	useBrowser := flag.Bool("browser", browserDefault, "Drive product pages with Chrome")
	headless := flag.Bool("headless", headlessDefault, "Run Chrome headless")
	chromePath := flag.String("chrome-path", chromeDefault, "Chrome executable (default: auto-detect)")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")

	flag.Parse()
	explicit := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	if !explicit["interactive"] {
		*interactive = isTerminal(os.Stdin) && *section == ""
	}

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	profile, err := site.Lookup(*siteName)
	if err != nil {
		slog.Error("unknown site", slog.Any("error", err))
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	cfg.Site = profile.Name
	cfg.HomepageURL = profile.HomepageURL
	if *homepage != "" {
		cfg.HomepageURL = *homepage
	}
	cfg.MaxPages = *maxPages
	cfg.Parallelism = *parallelism
	cfg.Delay = time.Duration(*delayMs) * time.Millisecond
	cfg.RandomDelay = time.Duration(*randomDelayMs) * time.Millisecond
	cfg.Timeout = time.Duration(*timeoutSec) * time.Second
	cfg.WaitTimeout = time.Duration(*waitSec) * time.Second
	cfg.MaxRetries = *maxRetries
	cfg.RetryBackoff = time.Duration(*retryBackoffMs) * time.Millisecond
	cfg.RetryBackoffMax = time.Duration(*retryBackoffMaxMs) * time.Millisecond
	cfg.VariantRetries = *variantRetries
	cfg.RespectRobotsTxt = *respectRobots
	cfg.OutputFormat = strings.ToLower(*outputFormat)
	cfg.OutputFile = *outputFile
	if cfg.OutputFile == "" {
		cfg.OutputFile = defaultOutput(profile.Name, cfg.OutputFormat)
	}
	if d := []rune(*delimiter); len(d) == 1 {
		cfg.Delimiter = d[0]
	} else {
		cfg.Delimiter = 0
	}
	cfg.WriteBOM = *bom
	cfg.CheckpointFile = *checkpointFile
	if cfg.CheckpointFile == "" {
		cfg.CheckpointFile = fmt.Sprintf("output/%s.checkpoint.json", profile.Name)
	}
	cfg.Browser = *useBrowser
	cfg.Headless = *headless
	cfg.ChromePath = *chromePath
	cfg.Verbose = *verbose
	cfg.MetricsAddr = *metricsAddr

	sel := scraper.Selection{Section: *section, Subsection: *subsection, Resume: *resume}

	var prompt *prompter
	if *interactive {
		prompt = newPrompter(bufio.NewReader(os.Stdin), os.Stdout)
		if err := prompt.settings(cfg); err != nil {
			slog.Error("reading settings", slog.Any("error", err))
			os.Exit(1)
		}
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, stopping dispatch")
	}()

	code := run(ctx, cfg, profile, sel, prompt)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config, profile *site.Profile, sel scraper.Selection, prompt *prompter) int {
	metrics := scraper.NewMetrics()
	fetcher, err := scraper.NewFetcher(cfg, profile, metrics)
	if err != nil {
		slog.Error("initialising fetcher", slog.Any("error", err))
		return 1
	}

	if cfg.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown failed", slog.Any("error", err))
			}
		}()
	}

	var pages scraper.PageFactory
	if cfg.Browser {
		chrome, err := browser.NewChromePages(cfg, profile, metrics)
		if err != nil {
			slog.Error("starting browser", slog.Any("error", err))
			return 1
		}
		defer chrome.Close()
		pages = chrome
	}

	store := checkpoint.New(cfg.CheckpointFile)

	writer, err := pipeline.OpenWriter(cfg)
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		return 1
	}
	p := pipeline.NewPipeline(ctx, writer, cfg)
	p.Start()
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	crawler, err := scraper.NewCrawler(cfg, profile, fetcher, pages, p, store)
	if err != nil {
		slog.Error("initialising crawler", slog.Any("error", err))
		closePipeline(p)
		return 1
	}

	sections, err := crawler.DiscoverSections(ctx)
	if err != nil {
		slog.Error("section discovery failed", slog.String("category", scraper.ErrorTypeLabel(err)), slog.Any("error", err))
		closePipeline(p)
		return 1
	}

	cp := store.Load()
	if prompt != nil {
		if err := prompt.selection(sections, &sel, cp); err != nil {
			slog.Error("reading selection", slog.Any("error", err))
			closePipeline(p)
			return 1
		}
	}
	if cp != nil && !sel.Resume {
		slog.Info("starting fresh, existing checkpoint will be overwritten",
			slog.String("checkpoint_section", cp.Section),
			slog.Int("checkpoint_page", cp.Page),
		)
	}

	plan, err := scraper.BuildPlan(sections, sel, cp)
	if err != nil {
		slog.Error("invalid selection", slog.Any("error", err))
		closePipeline(p)
		return 1
	}
	if sel.Resume && cp != nil && !plan.Resumed {
		slog.Warn("checkpoint section not in selection, starting from the beginning", slog.String("checkpoint_section", cp.Section))
	}

	slog.Info("starting crawl",
		slog.String("site", profile.Name),
		slog.Int("targets", len(plan.Targets)),
		slog.Int("workers", cfg.Parallelism),
		slog.Bool("browser", cfg.Browser),
		slog.Bool("resumed", plan.Resumed),
		slog.String("output", cfg.OutputFile),
	)

	result, runErr := crawler.Run(ctx, plan)
	if err := closePipeline(p); err != nil {
		return 1
	}
	if err := writer.Validate(); err != nil {
		slog.Error("output validation failed", slog.Any("error", err))
		return 1
	}

	printSummary(result, cfg, p.GetMetrics())

	switch {
	case runErr == nil:
		return 0
	case errors.Is(runErr, context.Canceled):
		slog.Info("crawl interrupted, resume with -resume", slog.String("checkpoint", cfg.CheckpointFile))
		return 0
	default:
		slog.Error("crawl failed", slog.Any("error", runErr))
		return 1
	}
}

func closePipeline(p *pipeline.Pipeline) error {
	if err := p.Close(); err != nil {
		slog.Error("pipeline shutdown failed", slog.Any("error", err))
		return err
	}
	return nil
}

func defaultOutput(siteName, format string) string {
	ext := ".csv"
	switch format {
	case "xlsx":
		ext = ".xlsx"
	case "json":
		ext = ".jsonl"
	}
	return "output/" + siteName + ext
}

func printSummary(result *models.CrawlResult, cfg *config.Config, metrics map[string]interface{}) {
	if result == nil {
		return
	}
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	if result.Completed {
		fmt.Println("Crawl complete")
	} else {
		fmt.Println("Crawl stopped")
	}

	written := int64(0)
	if n, ok := metrics["written_records"].(int64); ok {
		written = n
	}
	duration := result.EndTime.Sub(result.StartTime)

	fmt.Printf("  Sections:      %d\n", result.Sections)
	fmt.Printf("  Pages:         %d\n", result.PageCount)
	fmt.Printf("  Products:      %d\n", result.ProductCount)
	fmt.Printf("  Rows written:  %d\n", written)
	fmt.Printf("  Duplicates:    %d\n", result.DuplicateURLs)
	fmt.Printf("  Requests:      %d\n", result.RequestCount)
	fmt.Printf("  Retries:       %d\n", result.RetryCount)
	fmt.Printf("  Failed URLs:   %d\n", len(result.FailedURLs))
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Printf("  Validation:    %v\n", valErrors)
	}
	fmt.Printf("  Duration:      %v\n", duration.Round(time.Millisecond))
	if duration.Seconds() > 0 {
		fmt.Printf("  Rows/sec:      %.2f\n", float64(written)/duration.Seconds())
	}
	fmt.Printf("  Output file:   %s\n", cfg.OutputFile)
	if !result.Completed {
		fmt.Printf("  Checkpoint:    %s\n", cfg.CheckpointFile)
	}
	fmt.Println(separator)
}

func envString(key, def string) string {
	if value, ok := config.EnvString(key); ok {
		return value
	}
	return def
}

func envInt(key string, def int) int {
	value, ok, err := config.EnvInt(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid %s: %v\n", key, err)
		os.Exit(1)
	}
	if ok {
		return value
	}
	return def
}

func envBool(key string, def bool) bool {
	value, ok, err := config.EnvBool(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid %s: %v\n", key, err)
		os.Exit(1)
	}
	if ok {
		return value
	}
	return def
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
