package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aluiziolira/go-scrape-catalogs/config"
)

// OpenWriter builds the writer selected by cfg.OutputFormat.
func OpenWriter(cfg *config.Config) (OutputWriter, error) {
	opts := CSVOptions{Delimiter: cfg.Delimiter, BOM: cfg.WriteBOM}
	switch cfg.OutputFormat {
	case "csv":
		return NewCSVWriter(cfg.OutputFile, opts)
	case "xlsx":
		return NewXLSXWriter(cfg.OutputFile)
	case "json":
		return NewJSONWriter(cfg.OutputFile)
	case "dual":
		base := strings.TrimSuffix(cfg.OutputFile, filepath.Ext(cfg.OutputFile))
		return NewDualWriter(base+".csv", base+".jsonl", opts)
	default:
		return nil, fmt.Errorf("unsupported output format %q", cfg.OutputFormat)
	}
}
