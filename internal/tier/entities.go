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

// Entities is tier B: typed entities from the structured OCR service.
type Entities struct {
	svc    docai.Service
	split  codeSplitter
	logger *slog.Logger
}

func NewEntities(svc docai.Service, reg *vendor.Registry, logger *slog.Logger) *Entities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Entities{svc: svc, split: codeSplitter{reg: reg}, logger: logger}
}

func (t *Entities) ID() constants.TierID { return constants.TierEntities }

func (t *Entities) Attempt(ctx context.Context, in Input) (*entity.LineItemBatch, error) {
	ents, err := t.svc.Entities(ctx, in.Doc.Bytes(), in.Doc.MIMEType())
	if err != nil {
		return nil, err
	}
	return t.toBatch(ents), nil
}

func (t *Entities) toBatch(ents []docai.Entity) *entity.LineItemBatch {
	batch := &entity.LineItemBatch{SourceTier: constants.TierEntities}
	var confSum float64
	for _, e := range ents {
		switch e.Type {
		case "invoice_date", "order_date":
			if batch.Header.OrderDate == "" {
				batch.Header.OrderDate = e.Text
			}
		case "supplier_name", "vendor_name", "remit_to_name":
			if batch.Header.Vendor == "" {
				batch.Header.Vendor = e.Text
			}
		case "invoice_id", "invoice_number":
			if batch.Header.InvoiceNumber == "" {
				batch.Header.InvoiceNumber = e.Text
			}
		case "line_item":
			it, ok := t.lineItem(e)
			if !ok {
				continue
			}
			batch.Items = append(batch.Items, it)
			confSum += float64(e.Confidence)
		}
	}
	batch.Items = dedupe(batch.Items)
	if n := len(batch.Items); n > 0 {
		batch.Confidence = confSum / float64(n)
		if batch.Confidence == 0 {
			batch.Confidence = 0.75
		}
	}
	return batch
}

func (t *Entities) lineItem(e docai.Entity) (entity.LineItem, bool) {
	var it entity.LineItem
	for _, p := range e.Properties {
		switch strings.TrimPrefix(p.Type, "line_item/") {
		case "product_code":
			it.ProductCode = vendor.NormalizeCode(p.Text)
		case "description":
			it.Description = p.Text
		case "quantity":
			it.Quantity = quantityPtr(p.Text)
		case "unit_price":
			it.UnitPrice = amountPtr(p.Text)
		case "amount":
			it.ExtendedPrice = amountPtr(p.Text)
		}
	}
	if it.ProductCode == "" {
		src := it.Description
		if src == "" {
			src = e.Text
		}
		if code, desc := t.split.split(src); code != "" {
			it.ProductCode = code
			it.Description = desc
		} else if it.Description == "" {
			it.Description = desc
		}
	}
	if it.ProductCode == "" && nonItem(it.Description) {
		return it, false
	}
	return it, it.HasIdentity()
}
