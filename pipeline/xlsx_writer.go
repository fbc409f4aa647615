package pipeline

import (
	"fmt"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/aluiziolira/go-scrape-catalogs/models"
)

const xlsxSheet = "Products"

// XLSXWriter appends records to a workbook and saves it after every batch.
type XLSXWriter struct {
	path    string
	file    *excelize.File
	sheet   string
	nextRow int
	mu      sync.Mutex
}

// NewXLSXWriter opens an existing workbook and continues after its last row,
// or creates a new one with the header row.
func NewXLSXWriter(filename string) (*XLSXWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	fresh, err := isNewFile(filename)
	if err != nil {
		return nil, err
	}

	xw := &XLSXWriter{path: filename}
	if fresh {
		f := excelize.NewFile()
		if err := f.SetSheetName(f.GetSheetName(0), xlsxSheet); err != nil {
			f.Close()
			return nil, fmt.Errorf("name sheet: %w", err)
		}
		xw.file, xw.sheet = f, xlsxSheet
		if err := xw.setRow(1, Header); err != nil {
			f.Close()
			return nil, err
		}
		xw.nextRow = 2
		if err := f.SaveAs(filename); err != nil {
			f.Close()
			return nil, fmt.Errorf("create workbook: %w", err)
		}
		return xw, nil
	}

	f, err := excelize.OpenFile(filename)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	xw.file, xw.sheet = f, f.GetSheetName(0)
	rows, err := f.GetRows(xw.sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read workbook rows: %w", err)
	}
	xw.nextRow = len(rows) + 1
	if len(rows) == 0 {
		if err := xw.setRow(1, Header); err != nil {
			f.Close()
			return nil, err
		}
		xw.nextRow = 2
	}
	return xw, nil
}

func (xw *XLSXWriter) setRow(row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	if err := xw.file.SetSheetRow(xw.sheet, cell, &cells); err != nil {
		return fmt.Errorf("set row %d: %w", row, err)
	}
	return nil
}

// Write appends records and saves the workbook.
func (xw *XLSXWriter) Write(records []*models.ProductRecord) error {
	xw.mu.Lock()
	defer xw.mu.Unlock()

	for _, r := range records {
		if err := xw.setRow(xw.nextRow, Row(r)); err != nil {
			return err
		}
		xw.nextRow++
	}
	if err := xw.file.SaveAs(xw.path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

// Close saves and releases the workbook.
func (xw *XLSXWriter) Close() error {
	xw.mu.Lock()
	defer xw.mu.Unlock()

	saveErr := xw.file.SaveAs(xw.path)
	if err := xw.file.Close(); err != nil && saveErr == nil {
		return fmt.Errorf("close workbook: %w", err)
	}
	if saveErr != nil {
		return fmt.Errorf("save workbook: %w", saveErr)
	}
	return nil
}

// Validate ensures the workbook holds at least the header row.
func (xw *XLSXWriter) Validate() error {
	xw.mu.Lock()
	defer xw.mu.Unlock()
	if xw.nextRow <= 1 {
		return fmt.Errorf("workbook is empty")
	}
	return nil
}
