package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/chromedp/cdproto/network"

	"github.com/aluiziolira/go-scrape-catalogs/scraper"
	"github.com/aluiziolira/go-scrape-catalogs/site"
)

func TestCheckResponse(t *testing.T) {
	pages := &ChromePages{profile: site.ITMarket}

	tests := []struct {
		name     string
		location string
		status   int
		body     string
		expected string
	}{
		{name: "ok", location: "https://it-market.com/en/x", status: 200, body: "<h1>x</h1>", expected: ""},
		{name: "maintenance redirect", location: "https://it-market.com/maintenance", status: 200, expected: "maintenance"},
		{name: "maintenance 503", location: "https://it-market.com/en/x", status: 503, body: "Maintenance mode", expected: "maintenance"},
		{name: "plain 503", location: "https://it-market.com/en/x", status: 503, body: "busy", expected: "server"},
		{name: "not found", location: "https://it-market.com/en/x", status: 404, expected: "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := pages.checkResponse(tt.location, tt.status, tt.body)
			if tt.expected == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if got := scraper.ErrorTypeLabel(err); got != tt.expected {
				t.Fatalf("label = %q, want %q (err %v)", got, tt.expected, err)
			}
		})
	}
}

func TestClassifyNavigation(t *testing.T) {
	if err := classifyNavigation(nil); err != nil {
		t.Fatalf("nil error classified as %v", err)
	}
	timeout := classifyNavigation(fmt.Errorf("navigate: %w", context.DeadlineExceeded))
	if !scraper.Retryable(timeout) || scraper.ErrorTypeLabel(timeout) != "timeout" {
		t.Fatalf("deadline classified as %v", timeout)
	}
	conn := classifyNavigation(errors.New("page load error net::ERR_CONNECTION_RESET"))
	if !scraper.Retryable(conn) || scraper.ErrorTypeLabel(conn) != "connection" {
		t.Fatalf("net error classified as %v", conn)
	}
	other := classifyNavigation(errors.New("invalid context"))
	if scraper.Retryable(other) {
		t.Fatalf("unexpected retry for %v", other)
	}
}

func TestBlockPatterns(t *testing.T) {
	patterns := blockPatterns()
	if len(patterns) != 2 {
		t.Fatalf("patterns = %d, want 2", len(patterns))
	}
	for _, p := range patterns {
		if p.URLPattern != "*" || !isBlocked(p.ResourceType) {
			t.Fatalf("unexpected pattern %+v", p)
		}
	}
	if isBlocked(network.ResourceTypeDocument) || isBlocked(network.ResourceTypeScript) {
		t.Fatalf("documents and scripts must load")
	}
}

func TestScriptsQuoteSelectors(t *testing.T) {
	selector := `label[for="opt-1"]`
	script := attrScript(selector, 2, "id")
	if !strings.Contains(script, `document.querySelectorAll("label[for=\"opt-1\"]")[2]`) {
		t.Fatalf("selector not quoted: %s", script)
	}
	if !strings.Contains(checkedScript(selector, 0), "el.checked === true") {
		t.Fatalf("checked script missing test")
	}
	if got := jsString(`a"b`); got != `"a\"b"` {
		t.Fatalf("jsString = %s", got)
	}
}
