// Package pipeline batches product records and writes them to the output file.
package pipeline

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aluiziolira/go-scrape-catalogs/models"
)

// Header is the fixed column order of every tabular output.
var Header = []string{
	"Product Name",
	"Variant Type",
	"Price",
	"Net Price",
	"Stock Status",
	"Quantity Available",
	"Delivery Time",
	"Product Number",
	"Images",
	"Description & Properties",
	"Category Path",
	"Product URL",
}

// Row flattens a record into Header order.
func Row(r *models.ProductRecord) []string {
	return []string{
		r.ProductName,
		r.VariantLabel,
		r.Price,
		r.NetPrice,
		r.StockStatus,
		r.QuantityAvailable,
		r.DeliveryTime,
		r.ProductNumber,
		joinImages(r.Images),
		r.DescriptionAndProperties,
		r.CategoryPath,
		r.URL,
	}
}

func joinImages(images []string) string {
	if len(images) == 0 {
		return models.NotAvailable
	}
	return strings.Join(images, "; ")
}

const utf8BOM = "\ufeff"

// CSVOptions control the delimited output dialect.
type CSVOptions struct {
	Delimiter rune
	// BOM prefixes a new file with a UTF-8 byte order mark for spreadsheet tools.
	BOM bool
}

// CSVWriter appends records to a delimited file with every field quoted.
type CSVWriter struct {
	file      *os.File
	writer    *bufio.Writer
	delimiter string
	mu        sync.Mutex
}

// NewCSVWriter opens filename for appending. The header row is written only
// when the file is new or empty, so resumed runs keep extending one file.
func NewCSVWriter(filename string, opts CSVOptions) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	if opts.Delimiter == 0 {
		opts.Delimiter = ';'
	}

	fresh, err := isNewFile(filename)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}

	cw := &CSVWriter{
		file:      f,
		writer:    bufio.NewWriter(f),
		delimiter: string(opts.Delimiter),
	}
	if fresh {
		if opts.BOM {
			cw.writer.WriteString(utf8BOM)
		}
		cw.writeRow(Header)
		if err := cw.writer.Flush(); err != nil {
			f.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
	}
	return cw, nil
}

func (cw *CSVWriter) writeRow(fields []string) {
	for i, field := range fields {
		if i > 0 {
			cw.writer.WriteString(cw.delimiter)
		}
		cw.writer.WriteByte('"')
		cw.writer.WriteString(strings.ReplaceAll(field, `"`, `""`))
		cw.writer.WriteByte('"')
	}
	cw.writer.WriteString("\r\n")
}

// Write appends records and flushes them to disk.
func (cw *CSVWriter) Write(records []*models.ProductRecord) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, r := range records {
		cw.writeRow(Row(r))
	}
	if err := cw.writer.Flush(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if err := cw.writer.Flush(); err != nil {
		cw.file.Close()
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// Validate ensures the file has content.
func (cw *CSVWriter) Validate() error {
	info, err := cw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("csv file is empty")
	}
	return nil
}

// JSONWriter appends newline-delimited JSON records.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter opens filename for appending.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: encoder,
	}, nil
}

// Write appends records in JSONL format.
func (jw *JSONWriter) Write(records []*models.ProductRecord) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, r := range records {
		if err := jw.encoder.Encode(r); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		jw.file.Close()
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	info, err := jw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat json file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("json file is empty")
	}
	return nil
}

func isNewFile(filename string) (bool, error) {
	info, err := os.Stat(filename)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", filename, err)
	}
	return info.Size() == 0, nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
