package checkpoint

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/aluiziolira/go-scrape-catalogs/models"
)

func TestSaveLoadClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "run.checkpoint.json")
	f := New(path)

	if cp := f.Load(); cp != nil {
		t.Fatalf("expected nil for missing file, got %+v", cp)
	}

	ts := time.Date(2025, 3, 1, 10, 30, 0, 0, time.FixedZone("CET", 3600))
	in := models.Checkpoint{Section: "Switches", Page: 3, ProductIdxOnPage: 5, URL: "https://it-market.com/en/a", Timestamp: ts}
	if err := f.Save(in); err != nil {
		t.Fatalf("save: %v", err)
	}

	got := f.Load()
	if got == nil {
		t.Fatalf("load returned nil")
	}
	want := in
	want.Timestamp = ts.UTC()
	if diff := cmp.Diff(want, *got); diff != "" {
		t.Fatalf("checkpoint mismatch (-want +got):\n%s", diff)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, key := range []string{`"section"`, `"page"`, `"product_idx_on_page"`, `"url"`, `"ts": "2025-03-01T09:30:00Z"`} {
		if !strings.Contains(string(raw), key) {
			t.Fatalf("checkpoint json missing %s:\n%s", key, raw)
		}
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("expected only the checkpoint file, found %d entries", len(entries))
	}

	if err := f.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := f.Clear(); err != nil {
		t.Fatalf("clear of missing file: %v", err)
	}
	if cp := f.Load(); cp != nil {
		t.Fatalf("expected nil after clear")
	}
}

func TestLoadCorrupt(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "garbage", body: "{not json"},
		{name: "empty section", body: `{"section":"","page":2}`},
		{name: "zero page", body: `{"section":"Switches","page":0}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cp.json")
			if err := os.WriteFile(path, []byte(tt.body), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			if cp := New(path).Load(); cp != nil {
				t.Fatalf("expected nil, got %+v", cp)
			}
		})
	}
}

func TestLoadDefaultsIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.json")
	if err := os.WriteFile(path, []byte(`{"section":"Router","page":4}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cp := New(path).Load()
	if cp == nil || cp.ProductIdxOnPage != 1 || cp.Page != 4 {
		t.Fatalf("unexpected checkpoint %+v", cp)
	}
}

func TestSaveStampsTime(t *testing.T) {
	f := New(filepath.Join(t.TempDir(), "cp.json"))
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	f.now = func() time.Time { return fixed }

	if err := f.Save(models.Checkpoint{Section: "A", Page: 1, ProductIdxOnPage: 1}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got := f.Load(); got == nil || !got.Timestamp.Equal(fixed) {
		t.Fatalf("timestamp = %v, want %v", got, fixed)
	}
}
