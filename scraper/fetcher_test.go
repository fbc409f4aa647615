package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/go-scrape-catalogs/config"
	"github.com/aluiziolira/go-scrape-catalogs/site"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.HomepageURL = "http://example.test/en"
	cfg.Parallelism = 2
	cfg.Delay = 0
	cfg.Timeout = 5 * time.Second
	cfg.WaitTimeout = time.Second
	cfg.RetryBackoff = 100 * time.Millisecond
	cfg.RetryBackoffMax = 10 * time.Second
	cfg.DedupeMaxSize = 1000
	return cfg
}

// recordingSleep captures backoff delays instead of sleeping.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordingSleep) all() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.delays))
	copy(out, r.delays)
	return out
}

func newTestFetcher(t *testing.T, cfg *config.Config, profile *site.Profile, transport http.RoundTripper) (*Fetcher, *recordingSleep) {
	t.Helper()
	f, err := NewFetcher(cfg, profile, NewMetrics())
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	f.SetTransport(transport)
	rec := &recordingSleep{}
	f.backoff.sleep = rec.sleep
	return f, rec
}

func htmlResponder(body string) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(http.StatusOK, body)
		resp.Request = req
		resp.Header.Set("Content-Type", "text/html; charset=utf-8")
		return resp, nil
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		statusCode int
		expected   string
	}{
		{name: "nil", err: nil, statusCode: 0, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, statusCode: 0, expected: "timeout"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, statusCode: 0, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, statusCode: 0, expected: "connection"},
		{name: "forbidden", err: nil, statusCode: http.StatusForbidden, expected: "forbidden"},
		{name: "not found", err: nil, statusCode: http.StatusNotFound, expected: "not_found"},
		{name: "rate limited", err: nil, statusCode: http.StatusTooManyRequests, expected: "rate_limited"},
		{name: "server", err: nil, statusCode: http.StatusBadGateway, expected: "server"},
		{name: "status", err: nil, statusCode: http.StatusGone, expected: "status"},
		{name: "maintenance", err: &MaintenanceError{URL: "http://example.test/maintenance", Status: 200}, expected: "maintenance"},
		{name: "other", err: errors.New("some other error"), statusCode: 0, expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorTypeLabel(ClassifyError(tt.err, tt.statusCode)); got != tt.expected {
				t.Fatalf("ClassifyError(%v, %d) = %q, want %q", tt.err, tt.statusCode, got, tt.expected)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{err: ClassifyError(nil, http.StatusTooManyRequests), want: true},
		{err: ClassifyError(nil, http.StatusInternalServerError), want: true},
		{err: ClassifyError(nil, http.StatusServiceUnavailable), want: true},
		{err: ClassifyError(nil, http.StatusGatewayTimeout), want: true},
		{err: ClassifyError(nil, http.StatusNotImplemented), want: false},
		{err: ClassifyError(nil, http.StatusNotFound), want: false},
		{err: ClassifyError(nil, http.StatusForbidden), want: false},
		{err: ErrTimeout{Err: context.DeadlineExceeded}, want: true},
		{err: &MaintenanceError{}, want: true},
		{err: context.Canceled, want: false},
		{err: errors.New("parse"), want: false},
	}
	for _, tt := range tests {
		if got := Retryable(tt.err); got != tt.want {
			t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestBackoffDelaysStrictlyIncrease(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, time.Hour, 5)
	for run := 0; run < 20; run++ {
		prev := time.Duration(0)
		for attempt := 0; attempt < 6; attempt++ {
			d := b.Delay(attempt)
			if d <= prev {
				t.Fatalf("delay %d = %v not greater than %v", attempt, d, prev)
			}
			low := 100 * time.Millisecond * time.Duration(1<<attempt)
			if d < low || d >= low+100*time.Millisecond {
				t.Fatalf("delay %d = %v outside [%v, %v)", attempt, d, low, low+100*time.Millisecond)
			}
			prev = d
		}
	}
}

func TestBackoffCapped(t *testing.T) {
	b := NewBackoff(200*time.Millisecond, 500*time.Millisecond, 5)
	if delay := b.Delay(4); delay > 500*time.Millisecond {
		t.Fatalf("delay %v exceeds max", delay)
	}
}

func TestBackoffRetryRespectsLimit(t *testing.T) {
	b := NewBackoff(time.Millisecond, time.Second, 2)
	rec := &recordingSleep{}
	b.sleep = rec.sleep

	calls := 0
	attempts, err := b.Retry(context.Background(), func(int) error {
		calls++
		return ErrServer{Code: 503, Err: errors.New("busy")}
	}, Retryable, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 3 || attempts != 3 {
		t.Fatalf("calls=%d attempts=%d, want 3", calls, attempts)
	}
	if got := len(rec.all()); got != 2 {
		t.Fatalf("sleeps=%d, want 2", got)
	}
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()

	var mu sync.Mutex
	calls := 0
	transport.RegisterResponder(http.MethodGet, "http://example.test/en/switches", func(*http.Request) (*http.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls <= 3 {
			return httpmock.NewStringResponse(http.StatusServiceUnavailable, "busy"), nil
		}
		return httpmock.NewStringResponse(http.StatusOK, "<html><body><h1>ok</h1></body></html>"), nil
	})

	f, rec := newTestFetcher(t, cfg, site.ITMarket, transport)
	doc, err := f.Fetch(context.Background(), "http://example.test/en/switches")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got := doc.Doc.Find("h1").Text(); got != "ok" {
		t.Fatalf("body h1 = %q", got)
	}

	delays := rec.all()
	if len(delays) != 3 {
		t.Fatalf("sleeps = %v, want 3", delays)
	}
	for i := 1; i < len(delays); i++ {
		if delays[i] <= delays[i-1] {
			t.Fatalf("sleeps not strictly increasing: %v", delays)
		}
	}

	stats := f.Stats()
	if stats.Retries != 3 || stats.Requests != 4 {
		t.Fatalf("stats = %+v, want 3 retries and 4 requests", stats)
	}
	if stats.ErrorsByType["server"] != 3 {
		t.Fatalf("errors by type = %v", stats.ErrorsByType)
	}
}

func TestFetchStatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		expected  string
		wantCalls int
	}{
		{status: http.StatusForbidden, expected: "forbidden", wantCalls: 1},
		{status: http.StatusNotFound, expected: "not_found", wantCalls: 1},
		{status: http.StatusTooManyRequests, expected: "rate_limited", wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			cfg := testConfig()
			cfg.MaxRetries = 2

			transport := httpmock.NewMockTransport()
			transport.RegisterResponder(http.MethodGet, "http://example.test/en/x", httpmock.NewStringResponder(tt.status, ""))

			f, _ := newTestFetcher(t, cfg, site.ITMarket, transport)
			_, err := f.Fetch(context.Background(), "http://example.test/en/x")

			var fe *FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("expected FetchError, got %v", err)
			}
			if fe.Attempts != tt.wantCalls {
				t.Fatalf("attempts = %d, want %d", fe.Attempts, tt.wantCalls)
			}
			if got := ErrorTypeLabel(err); got != tt.expected {
				t.Fatalf("label = %q, want %q", got, tt.expected)
			}
			stats := f.Stats()
			if stats.ErrorsByType[tt.expected] != tt.wantCalls {
				t.Fatalf("errors by type = %v", stats.ErrorsByType)
			}
			if len(stats.FailedURLs) != 1 {
				t.Fatalf("failed urls = %v", stats.FailedURLs)
			}
		})
	}
}

func TestFetchDetectsMaintenance(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 1

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "http://example.test/en/busy",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "<h1>Maintenance mode</h1>"))

	f, rec := newTestFetcher(t, cfg, site.ITMarket, transport)
	_, err := f.Fetch(context.Background(), "http://example.test/en/busy")
	var maint *MaintenanceError
	if !errors.As(err, &maint) {
		t.Fatalf("expected MaintenanceError, got %v", err)
	}
	if len(rec.all()) != 1 {
		t.Fatalf("maintenance should be retried once, sleeps=%v", rec.all())
	}
}

func TestFetchDetectsMaintenanceRedirect(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 1

	mux := http.NewServeMux()
	mux.HandleFunc("/en/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/maintenance", http.StatusFound)
	})
	mux.HandleFunc("/maintenance", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<p>back soon</p>")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f, rec := newTestFetcher(t, cfg, site.ITMarket, srv.Client().Transport)
	_, err := f.Fetch(context.Background(), srv.URL+"/en/moved")
	var maint *MaintenanceError
	if !errors.As(err, &maint) {
		t.Fatalf("expected MaintenanceError, got %v", err)
	}
	if !strings.HasSuffix(maint.URL, "/maintenance") {
		t.Fatalf("maintenance url = %q", maint.URL)
	}
	if len(rec.all()) != 1 {
		t.Fatalf("maintenance should be retried once, sleeps=%v", rec.all())
	}
}

func TestFetchCancelled(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "http://example.test/en/x", httpmock.NewStringResponder(http.StatusBadGateway, ""))

	f, _ := newTestFetcher(t, cfg, site.ITMarket, transport)
	ctx, cancel := context.WithCancel(context.Background())
	f.backoff.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	_, err := f.Fetch(ctx, "http://example.test/en/x")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
