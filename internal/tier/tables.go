package tier

import (
	"context"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/docai"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/vendor"
)

const tablesConfidence = 0.7

type column int

const (
	colNone column = iota
	colCode
	colDesc
	colOrdered
	colShipped
	colBackordered
	colPrice
	colAmount
)

var headerColumns = map[string]column{
	"item":              colCode,
	"item #":            colCode,
	"item no":           colCode,
	"item number":       colCode,
	"sku":               colCode,
	"style":             colCode,
	"product code":      colCode,
	"code":              colCode,
	"part #":            colCode,
	"description":       colDesc,
	"desc":              colDesc,
	"item description":  colDesc,
	"product":           colDesc,
	"qty":               colOrdered,
	"quantity":          colOrdered,
	"ordered":           colOrdered,
	"qty ordered":       colOrdered,
	"ord":               colOrdered,
	"shipped":           colShipped,
	"qty shipped":       colShipped,
	"ship":              colShipped,
	"backordered":       colBackordered,
	"back ordered":      colBackordered,
	"b/o":               colBackordered,
	"unit price":        colPrice,
	"price":             colPrice,
	"wholesale":         colPrice,
	"unit cost":         colPrice,
	"cost":              colPrice,
	"each":              colPrice,
	"amount":            colAmount,
	"extended":          colAmount,
	"ext price":         colAmount,
	"extended price":    colAmount,
	"line total":        colAmount,
	"total":             colAmount,
}

// Tables is tier C: table grids from the structured OCR service, mapped to
// line items through their header row.
type Tables struct {
	svc    docai.Service
	split  codeSplitter
	logger *slog.Logger
}

func NewTables(svc docai.Service, reg *vendor.Registry, logger *slog.Logger) *Tables {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tables{svc: svc, split: codeSplitter{reg: reg}, logger: logger}
}

func (t *Tables) ID() constants.TierID { return constants.TierTables }

func (t *Tables) Attempt(ctx context.Context, in Input) (*entity.LineItemBatch, error) {
	tables, err := t.svc.Tables(ctx, in.Doc.Bytes(), in.Doc.MIMEType())
	if err != nil {
		return nil, err
	}
	return t.toBatch(tables), nil
}

func (t *Tables) toBatch(tables []docai.Table) *entity.LineItemBatch {
	batch := &entity.LineItemBatch{SourceTier: constants.TierTables, Confidence: tablesConfidence}
	for _, tb := range tables {
		cols, ok := mapHeader(tb.Header)
		if !ok {
			t.logger.Debug("tier.tables.skip", "page", tb.Page, "reason", "no item columns")
			continue
		}
		for _, row := range tb.Body {
			if it, ok := t.rowItem(cols, row); ok {
				batch.Items = append(batch.Items, it)
			}
		}
	}
	batch.Items = dedupe(batch.Items)
	return batch
}

// mapHeader uses the last header row. A table qualifies when it has a code
// or description column and a quantity or price column.
func mapHeader(header [][]string) ([]column, bool) {
	if len(header) == 0 {
		return nil, false
	}
	last := header[len(header)-1]
	cols := make([]column, len(last))
	var ident, values bool
	for i, h := range last {
		key := strings.ToLower(strings.Join(strings.Fields(strings.Trim(h, ".:")), " "))
		c := headerColumns[key]
		cols[i] = c
		switch c {
		case colCode, colDesc:
			ident = true
		case colOrdered, colShipped, colPrice, colAmount:
			values = true
		}
	}
	return cols, ident && values
}

func (t *Tables) rowItem(cols []column, row []string) (entity.LineItem, bool) {
	var (
		it                            entity.LineItem
		ordered, shipped, backordered *int
	)
	for i, cell := range row {
		if i >= len(cols) {
			break
		}
		cell = strings.TrimSpace(cell)
		switch cols[i] {
		case colCode:
			it.ProductCode = vendor.NormalizeCode(cell)
		case colDesc:
			it.Description = cell
		case colOrdered:
			ordered = quantityPtr(cell)
		case colShipped:
			shipped = quantityPtr(cell)
		case colBackordered:
			backordered = quantityPtr(cell)
		case colPrice:
			it.UnitPrice = amountPtr(cell)
		case colAmount:
			it.ExtendedPrice = amountPtr(cell)
		}
	}
	it.Quantity = pickQuantity(ordered, shipped, backordered)

	if it.ProductCode == "" {
		if code, desc := t.split.split(it.Description); code != "" {
			it.ProductCode, it.Description = code, desc
		}
	}
	if it.ProductCode == "" && nonItem(it.Description) {
		return it, false
	}
	return it, it.HasIdentity()
}

// pickQuantity prefers a non-zero shipped count, then the ordered count when
// the line is backordered, then whatever was printed.
func pickQuantity(ordered, shipped, backordered *int) *int {
	switch {
	case shipped != nil && *shipped > 0:
		return shipped
	case backordered != nil && *backordered > 0 && ordered != nil:
		return ordered
	case shipped != nil:
		return shipped
	default:
		return ordered
	}
}
