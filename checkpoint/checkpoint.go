// Package checkpoint persists the crawl position so an interrupted run can resume.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aluiziolira/go-scrape-catalogs/models"
)

// File stores a single checkpoint as JSON at Path.
type File struct {
	Path string
	now  func() time.Time
}

// New returns a checkpoint file at path.
func New(path string) *File {
	return &File{Path: path, now: time.Now}
}

// Save writes cp atomically: a temp file in the same directory is renamed over Path.
func (f *File) Save(cp models.Checkpoint) error {
	if cp.Timestamp.IsZero() {
		cp.Timestamp = f.now()
	}
	cp.Timestamp = cp.Timestamp.UTC().Truncate(time.Second)

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create checkpoint temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, f.Path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// Load returns the stored checkpoint, or nil when the file is absent or unreadable.
// Broken files are logged and ignored.
func (f *File) Load() *models.Checkpoint {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("checkpoint unreadable, starting fresh", slog.String("path", f.Path), slog.Any("error", err))
		}
		return nil
	}
	var cp models.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		slog.Warn("checkpoint unparsable, starting fresh", slog.String("path", f.Path), slog.Any("error", err))
		return nil
	}
	if cp.Section == "" || cp.Page < 1 {
		slog.Warn("checkpoint incomplete, starting fresh", slog.String("path", f.Path))
		return nil
	}
	if cp.ProductIdxOnPage < 1 {
		cp.ProductIdxOnPage = 1
	}
	return &cp
}

// Clear removes the checkpoint. A missing file is not an error.
func (f *File) Clear() error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}
