// Package export writes invoice results to XLSX workbooks.
package export

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

const (
	SheetInvoices = "Invoices"
	SheetOutcomes = "Outcomes"

	lowConfidenceFill = "FFF2CC"
)

var outcomeHeaders = []string{"Request ID", "Document", "Tier", "Status", "Items", "Budget (ms)", "Elapsed (ms)", "Reason"}

// Service renders InvoiceResults as rows of the Invoices sheet, one row per
// line item, plus the attempt log on the Outcomes sheet.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// WriteXLSX returns a new workbook (as bytes) holding results.
func (s *Service) WriteXLSX(ctx context.Context, results []*entity.InvoiceResult) ([]byte, error) {
	start := time.Now()
	f := newWorkbook()
	defer func() { _ = f.Close() }()

	rows, err := s.fill(ctx, f, results)
	if err != nil {
		return nil, err
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.xlsx.ok", "rows", rows, "invoices", len(results), "elapsed_ms", time.Since(start).Milliseconds())
	return buf.Bytes(), nil
}

// AppendXLSX appends results to the workbook at path, creating it when missing.
func (s *Service) AppendXLSX(ctx context.Context, path string, results []*entity.InvoiceResult) error {
	start := time.Now()
	var f *excelize.File
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		f = newWorkbook()
	} else if f, err = excelize.OpenFile(path); err != nil {
		return fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	rows, err := s.fill(ctx, f, results)
	if err != nil {
		return err
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook %s: %w", path, err)
	}
	s.logger.Info("export.xlsx.ok", "path", path, "rows", rows, "invoices", len(results), "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

type styles struct {
	price, flagged, flaggedPrice int
}

func (s *Service) fill(ctx context.Context, f *excelize.File, results []*entity.InvoiceResult) (int, error) {
	st, err := newStyles(f)
	if err != nil {
		return 0, err
	}
	headers := make([]string, len(entity.RowHeaders))
	copy(headers, entity.RowHeaders[:])
	next, err := ensureSheet(f, SheetInvoices, headers)
	if err != nil {
		return 0, err
	}
	nextOutcome, err := ensureSheet(f, SheetOutcomes, outcomeHeaders)
	if err != nil {
		return 0, err
	}
	if idx, _ := f.GetSheetIndex(SheetInvoices); idx >= 0 {
		f.SetActiveSheet(idx)
	}

	written := 0
	for _, res := range results {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if res == nil {
			continue
		}
		for _, r := range res.Rows {
			if err := writeRow(f, next, r, res.LowConfidence, st); err != nil {
				return written, err
			}
			next++
			written++
		}
		for _, o := range res.Outcomes {
			vals := []any{res.RequestID, res.Source, string(o.Tier), string(o.Status), o.Items,
				o.Budget.Milliseconds(), o.Duration.Milliseconds(), truncate(o.Reason, 140)}
			cell, _ := excelize.CoordinatesToCellName(1, nextOutcome)
			if err := f.SetSheetRow(SheetOutcomes, cell, &vals); err != nil {
				return written, fmt.Errorf("write outcome row: %w", err)
			}
			nextOutcome++
		}
	}

	// Widen a few columns
	_ = f.SetColWidth(SheetInvoices, "A", "A", 12) // date
	_ = f.SetColWidth(SheetInvoices, "B", "B", 28) // vendor
	_ = f.SetColWidth(SheetInvoices, "C", "C", 14) // invoice #
	_ = f.SetColWidth(SheetInvoices, "D", "D", 48) // description
	_ = f.SetColWidth(SheetInvoices, "E", "F", 12) // price, qty
	_ = f.SetColWidth(SheetOutcomes, "A", "B", 36)
	_ = f.SetColWidth(SheetOutcomes, "H", "H", 60)
	return written, nil
}

// ensureSheet creates sheet with a header row when missing and returns the
// first empty row number.
func ensureSheet(f *excelize.File, sheet string, headers []string) (int, error) {
	idx, err := f.GetSheetIndex(sheet)
	if err != nil {
		return 0, err
	}
	if idx == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return 0, err
		}
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return 0, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		for i, h := range headers {
			cell, _ := excelize.CoordinatesToCellName(i+1, 1)
			_ = f.SetCellValue(sheet, cell, h)
		}
		return 2, nil
	}
	return len(rows) + 1, nil
}

// writeRow writes one 6-field row. Price and quantity become numeric cells
// when they parse; anything else is written as text.
func writeRow(f *excelize.File, row int, r entity.Row, flagged bool, st styles) error {
	for col, v := range r {
		cell, _ := excelize.CoordinatesToCellName(col+1, row)
		var val any = v
		style := 0
		if flagged {
			style = st.flagged
		}
		switch col {
		case 4:
			if p, err := strconv.ParseFloat(v, 64); err == nil {
				val = p
				style = st.price
				if flagged {
					style = st.flaggedPrice
				}
			}
		case 5:
			if q, err := strconv.Atoi(v); err == nil {
				val = q
			}
		}
		if err := f.SetCellValue(SheetInvoices, cell, val); err != nil {
			return fmt.Errorf("write cell %s: %w", cell, err)
		}
		if style != 0 {
			if err := f.SetCellStyle(SheetInvoices, cell, cell, style); err != nil {
				return err
			}
		}
	}
	return nil
}

func newStyles(f *excelize.File) (styles, error) {
	fill := excelize.Fill{Type: "pattern", Color: []string{lowConfidenceFill}, Pattern: 1}
	var st styles
	var err error
	if st.price, err = f.NewStyle(&excelize.Style{NumFmt: 2}); err != nil {
		return st, err
	}
	if st.flagged, err = f.NewStyle(&excelize.Style{Fill: fill}); err != nil {
		return st, err
	}
	if st.flaggedPrice, err = f.NewStyle(&excelize.Style{NumFmt: 2, Fill: fill}); err != nil {
		return st, err
	}
	return st, nil
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}

// newWorkbook returns an empty workbook whose default sheet is the invoice sheet.
func newWorkbook() *excelize.File {
	f := excelize.NewFile()
	_ = f.SetSheetName("Sheet1", SheetInvoices)
	return f
}
