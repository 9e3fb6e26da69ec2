package entity

import (
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-extractor/constants"
)

// LineItem is one product line of an invoice. Quantity and prices stay nil until resolved.
type LineItem struct {
	ProductCode   string           `json:"product_code"`
	Description   string           `json:"description"`
	UPC           string           `json:"upc,omitempty"`
	Quantity      *int             `json:"quantity,omitempty"`
	UnitPrice     *decimal.Decimal `json:"unit_price,omitempty"`
	ExtendedPrice *decimal.Decimal `json:"extended_price,omitempty"`
}

// HasIdentity reports whether the item can be told apart from noise.
func (li LineItem) HasIdentity() bool {
	return li.ProductCode != "" || li.Description != ""
}

// InvoiceHeader carries the invoice-level fields a tier may recover alongside its items.
type InvoiceHeader struct {
	OrderDate     string `json:"order_date"`
	Vendor        string `json:"vendor"`
	InvoiceNumber string `json:"invoice_number"`
}

// Merge fills empty fields of h from other.
func (h InvoiceHeader) Merge(other InvoiceHeader) InvoiceHeader {
	if h.OrderDate == "" {
		h.OrderDate = other.OrderDate
	}
	if h.Vendor == "" {
		h.Vendor = other.Vendor
	}
	if h.InvoiceNumber == "" {
		h.InvoiceNumber = other.InvoiceNumber
	}
	return h
}

// LineItemBatch is the output of one tier attempt.
type LineItemBatch struct {
	Items      []LineItem       `json:"items"`
	Header     InvoiceHeader    `json:"header"`
	SourceTier constants.TierID `json:"source_tier"`
	Confidence float64          `json:"confidence"`
}

// Len counts items that carry a code or a description.
func (b *LineItemBatch) Len() int {
	if b == nil {
		return 0
	}
	n := 0
	for _, it := range b.Items {
		if it.HasIdentity() {
			n++
		}
	}
	return n
}

// Clone returns a deep copy so enrichment never mutates a tier's batch.
func (b *LineItemBatch) Clone() *LineItemBatch {
	if b == nil {
		return nil
	}
	out := *b
	out.Items = make([]LineItem, len(b.Items))
	for i, it := range b.Items {
		c := it
		if it.Quantity != nil {
			q := *it.Quantity
			c.Quantity = &q
		}
		if it.UnitPrice != nil {
			p := *it.UnitPrice
			c.UnitPrice = &p
		}
		if it.ExtendedPrice != nil {
			e := *it.ExtendedPrice
			c.ExtendedPrice = &e
		}
		out.Items[i] = c
	}
	return &out
}

// IntPtr and DecimalPtr are small helpers for optional fields.
func IntPtr(v int) *int { return &v }

func DecimalPtr(v decimal.Decimal) *decimal.Decimal { return &v }
