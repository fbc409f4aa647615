package config

import (
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "negative parallelism",
			mutate: func(cfg *Config) {
				cfg.Parallelism = -1
			},
			wantErr: "parallelism",
		},
		{
			name: "negative max pages",
			mutate: func(cfg *Config) {
				cfg.MaxPages = -3
			},
			wantErr: "max pages",
		},
		{
			name: "empty homepage url",
			mutate: func(cfg *Config) {
				cfg.HomepageURL = ""
			},
			wantErr: "homepage URL",
		},
		{
			name: "invalid url format",
			mutate: func(cfg *Config) {
				cfg.HomepageURL = "http://"
			},
			wantErr: "homepage URL",
		},
		{
			name: "negative timeout",
			mutate: func(cfg *Config) {
				cfg.Timeout = -1 * time.Second
			},
			wantErr: "timeout",
		},
		{
			name: "backoff above max",
			mutate: func(cfg *Config) {
				cfg.RetryBackoff = time.Minute
				cfg.RetryBackoffMax = time.Second
			},
			wantErr: "retry backoff",
		},
		{
			name: "unknown format",
			mutate: func(cfg *Config) {
				cfg.OutputFormat = "parquet"
			},
			wantErr: "output format",
		},
		{
			name: "tab delimiter",
			mutate: func(cfg *Config) {
				cfg.Delimiter = '\t'
			},
			wantErr: "delimiter",
		},
		{
			name: "no checkpoint file",
			mutate: func(cfg *Config) {
				cfg.CheckpointFile = ""
			},
			wantErr: "checkpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
	if cfg.MaxRetries != 5 {
		t.Fatalf("max retries = %d, want 5", cfg.MaxRetries)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SCRAPER_TEST_INT", " 7 ")
	t.Setenv("SCRAPER_TEST_BAD", "seven")
	t.Setenv("SCRAPER_TEST_BOOL", "ano")
	t.Setenv("SCRAPER_TEST_BLANK", "  ")

	if n, ok, err := EnvInt("SCRAPER_TEST_INT"); err != nil || !ok || n != 7 {
		t.Fatalf("EnvInt = %d, %v, %v", n, ok, err)
	}
	if _, _, err := EnvInt("SCRAPER_TEST_BAD"); err == nil {
		t.Fatalf("expected parse error")
	}
	if b, ok, err := EnvBool("SCRAPER_TEST_BOOL"); err != nil || !ok || !b {
		t.Fatalf("EnvBool = %v, %v, %v", b, ok, err)
	}
	if _, ok := EnvString("SCRAPER_TEST_BLANK"); ok {
		t.Fatalf("blank value should count as unset")
	}
}

func TestParseYesNo(t *testing.T) {
	tests := []struct {
		input   string
		want    bool
		wantErr bool
	}{
		{input: "yes", want: true},
		{input: "NE", want: false},
		{input: "true", want: true},
		{input: "0", want: false},
		{input: "maybe", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseYesNo(tt.input)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseYesNo(%q) err = %v", tt.input, err)
		}
		if err == nil && got != tt.want {
			t.Fatalf("ParseYesNo(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
