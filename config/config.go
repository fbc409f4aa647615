package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds scraper configuration.
type Config struct {
	Site             string
	HomepageURL      string
	MaxPages         int // 0 means no cap
	Parallelism      int
	Delay            time.Duration
	RandomDelay      time.Duration
	Timeout          time.Duration
	WaitTimeout      time.Duration
	MaxRetries       int
	RetryBackoff     time.Duration
	RetryBackoffMax  time.Duration
	VariantRetries   int
	OutputFile       string
	OutputFormat     string // csv, xlsx, json, or dual
	Delimiter        rune
	WriteBOM         bool
	CheckpointFile   string
	UserAgent        string
	Verbose          bool
	RespectRobotsTxt bool
	MetricsAddr      string

	// Browser switches product pages from raw HTTP to a chromedp-driven tab.
	Browser    bool
	Headless   bool
	ChromePath string

	DedupeMaxSize      int
	BatchSize          int
	PipelineBufferSize int
}

// DefaultConfig returns conservative defaults for the it-market storefront.
func DefaultConfig() *Config {
	return &Config{
		Site:               "itmarket",
		HomepageURL:        "https://it-market.com/en",
		MaxPages:           0,
		Parallelism:        5,
		Delay:              600 * time.Millisecond,
		RandomDelay:        0,
		Timeout:            20 * time.Second,
		WaitTimeout:        20 * time.Second,
		MaxRetries:         5,
		RetryBackoff:       800 * time.Millisecond,
		RetryBackoffMax:    30 * time.Second,
		VariantRetries:     3,
		OutputFile:         "output/it-market.csv",
		OutputFormat:       "csv",
		Delimiter:          ';',
		WriteBOM:           false,
		CheckpointFile:     "output/it-market.checkpoint.json",
		UserAgent:          "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
		Verbose:            false,
		RespectRobotsTxt:   false,
		Browser:            false,
		Headless:           true,
		DedupeMaxSize:      500000,
		BatchSize:          64,
		PipelineBufferSize: 512,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.Site == "" {
		return fmt.Errorf("site cannot be empty")
	}
	if c.HomepageURL == "" {
		return fmt.Errorf("homepage URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.HomepageURL)
	if err != nil {
		return fmt.Errorf("invalid homepage URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("homepage URL must include a host")
	}

	if c.MaxPages < 0 {
		return fmt.Errorf("max pages cannot be negative")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.WaitTimeout <= 0 {
		return fmt.Errorf("wait timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.VariantRetries <= 0 {
		return fmt.Errorf("variant retries must be positive")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	switch c.OutputFormat {
	case "csv", "xlsx", "json", "dual":
	default:
		return fmt.Errorf("output format must be csv, xlsx, json, or dual")
	}
	if c.Delimiter != ';' && c.Delimiter != ',' {
		return fmt.Errorf("delimiter must be ';' or ','")
	}
	if c.CheckpointFile == "" {
		return fmt.Errorf("checkpoint file cannot be empty")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}

	return nil
}
