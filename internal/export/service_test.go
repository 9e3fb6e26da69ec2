package export

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func results() []*entity.InvoiceResult {
	return []*entity.InvoiceResult{
		{
			RequestID: "r1",
			Source:    "northwind.pdf",
			Rows: []entity.Row{
				{"01/17/2025", "Northwind Home & Garden", "A-1009", "DF6802 Planter Box", "12.50", "8"},
				{"01/17/2025", "Northwind Home & Garden", "A-1009", "XS9826A Glass Vase", "1.60", "24"},
			},
			Outcomes: []entity.ExtractionOutcome{
				{Tier: constants.TierGenerative, Status: constants.OutcomeTimeout, Budget: 30 * time.Second, Duration: 30 * time.Second},
				{Tier: constants.TierEntities, Status: constants.OutcomeSuccess, Items: 2, Duration: 2 * time.Second},
			},
		},
		{
			RequestID:     "r2",
			Source:        "summit.pdf",
			LowConfidence: true,
			Rows: []entity.Row{
				{"02/03/2025", "Summit Gift Supply", "77812", "SG-10001 Mug", "", "3"},
			},
		},
		nil,
	}
}

func TestWriteXLSXReadBack(t *testing.T) {
	t.Parallel()
	svc := NewService(quiet)
	data, err := svc.WriteXLSX(context.Background(), results())
	if err != nil {
		t.Fatalf("WriteXLSX: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(SheetInvoices, excelize.Options{RawCellValue: true})
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want header + 3", len(rows))
	}
	if rows[0][3] != "Description" || rows[0][5] != "Quantity" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][3] != "DF6802 Planter Box" || rows[2][5] != "24" {
		t.Errorf("rows = %v", rows[1:])
	}
	if p, err := strconv.ParseFloat(rows[1][4], 64); err != nil || p != 12.5 {
		t.Errorf("price cell = %q", rows[1][4])
	}

	plain, _ := f.GetCellStyle(SheetInvoices, "A2")
	flagged, _ := f.GetCellStyle(SheetInvoices, "A4")
	if plain != 0 || flagged == 0 {
		t.Errorf("styles plain=%d flagged=%d", plain, flagged)
	}

	outcomes, err := f.GetRows(SheetOutcomes)
	if err != nil {
		t.Fatalf("GetRows outcomes: %v", err)
	}
	if len(outcomes) != 3 || outcomes[1][2] != string(constants.TierGenerative) || outcomes[2][3] != "SUCCESS" {
		t.Errorf("outcomes = %v", outcomes)
	}
}

func TestAppendXLSXExtendsWorkbook(t *testing.T) {
	t.Parallel()
	svc := NewService(quiet)
	path := filepath.Join(t.TempDir(), "invoices.xlsx")
	ctx := context.Background()

	if err := svc.AppendXLSX(ctx, path, results()[:1]); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := svc.AppendXLSX(ctx, path, results()[1:]); err != nil {
		t.Fatalf("second append: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows(SheetInvoices)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want header + 3", len(rows))
	}
	if rows[3][3] != "SG-10001 Mug" {
		t.Errorf("appended row = %v", rows[3])
	}
	if f.SheetCount != 2 {
		t.Errorf("sheet count = %d", f.SheetCount)
	}
}

func TestWriteXLSXCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewService(quiet).WriteXLSX(ctx, results()); err == nil {
		t.Fatal("want context error")
	}
}
