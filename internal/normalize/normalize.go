// Package normalize turns the winning line-item batch into the final
// invoice result: canonical dates and vendor names, fixed-width rows, and
// duplicate value detection.
package normalize

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/vendor"
)

// Flag prefixes surfaced in InvoiceResult.Flags.
const (
	FlagDuplicateValues = "duplicate_qty_price"
	FlagUnparsedDate    = "unparsed_date"
)

// Metadata is request context that does not come from the batch itself.
type Metadata struct {
	RequestID string
	Source    string
	VendorTag string
	Outcomes  []entity.ExtractionOutcome
}

type Normalizer struct {
	reg    *vendor.Registry
	logger *slog.Logger
}

func NewNormalizer(reg *vendor.Registry, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{reg: reg, logger: logger}
}

// Normalize builds the InvoiceResult for batch. It fails only when a row
// cannot be emitted at the contracted width.
func (n *Normalizer) Normalize(batch *entity.LineItemBatch, meta Metadata) (*entity.InvoiceResult, error) {
	if batch == nil {
		return nil, common.NewValidationError("normalize: nil batch", common.ErrInvalidInput)
	}
	res := &entity.InvoiceResult{
		RequestID:     meta.RequestID,
		Source:        meta.Source,
		VendorTag:     meta.VendorTag,
		InvoiceNumber: strings.TrimSpace(batch.Header.InvoiceNumber),
		SourceTier:    string(batch.SourceTier),
		Outcomes:      meta.Outcomes,
	}

	date, ok := NormalizeDate(batch.Header.OrderDate)
	if !ok {
		n.logger.Warn("normalize.date.unrecognized", "req_id", meta.RequestID, "value", date)
		res.Flags = append(res.Flags, FlagUnparsedDate)
	}
	res.OrderDate = date
	res.Vendor = n.vendorName(batch.Header.Vendor, meta.VendorTag)

	for _, it := range batch.Items {
		if !it.HasIdentity() {
			continue
		}
		res.Items = append(res.Items, it)
		res.Rows = append(res.Rows, n.row(res, it))
	}
	if err := ValidateRows(res.Rows); err != nil {
		n.logger.Error("normalize.rows.invalid", "req_id", meta.RequestID, "err", err)
		return nil, err
	}

	if dups := Duplicates(res.Items); len(dups) > 0 {
		res.LowConfidence = true
		for _, d := range dups {
			res.Flags = append(res.Flags, d.String())
		}
		n.logger.Warn("normalize.duplicates", "req_id", meta.RequestID, "groups", len(dups))
	}

	n.logger.Info("normalize.ok",
		"req_id", meta.RequestID,
		"rows", len(res.Rows),
		"vendor", res.Vendor,
		"low_confidence", res.LowConfidence,
	)
	return res, nil
}

// vendorName prefers the batch's vendor text, canonicalized; an empty name
// falls back to the detected profile's display name.
func (n *Normalizer) vendorName(name, tag string) string {
	if n.reg == nil {
		return strings.TrimSpace(name)
	}
	if strings.TrimSpace(name) != "" {
		return n.reg.Canonicalize(name)
	}
	if tag != "" && tag != constants.UnknownVendor {
		if prof, ok := n.reg.Lookup(tag); ok {
			return prof.DisplayName()
		}
	}
	return ""
}

func (n *Normalizer) row(res *entity.InvoiceResult, it entity.LineItem) entity.Row {
	price := ""
	if it.UnitPrice != nil {
		price = it.UnitPrice.StringFixed(2)
	}
	qty := ""
	if it.Quantity != nil {
		qty = strconv.Itoa(*it.Quantity)
	}
	return entity.Row{res.OrderDate, res.Vendor, res.InvoiceNumber, Description(it), price, qty}
}

// Description is the row text for an item: the product code followed by
// its description, without repeating the code.
func Description(it entity.LineItem) string {
	code := strings.TrimSpace(it.ProductCode)
	desc := strings.Join(strings.Fields(it.Description), " ")
	switch {
	case code == "":
		return desc
	case desc == "":
		return code
	case strings.HasPrefix(strings.ToUpper(desc), strings.ToUpper(code)):
		return desc
	}
	return code + " " + desc
}

// ValidateRows enforces the fixed row width.
func ValidateRows(rows []entity.Row) error {
	for i, r := range rows {
		if len(r) != entity.RowWidth {
			return common.NewValidationError(
				fmt.Sprintf("row %d has %d fields, want %d", i, len(r), entity.RowWidth), nil)
		}
	}
	return nil
}

// DuplicateGroup is one (quantity, unit price) pair shared by items with
// different codes.
type DuplicateGroup struct {
	Quantity  int
	UnitPrice string
	Codes     []string
}

func (d DuplicateGroup) String() string {
	return fmt.Sprintf("%s:%d@%s:%s", FlagDuplicateValues, d.Quantity, d.UnitPrice, strings.Join(d.Codes, ","))
}

// Duplicates finds non-trivial (quantity > 0, price > 0) value pairs that
// appear under two or more distinct codes. Groups come back in first-seen order.
func Duplicates(items []entity.LineItem) []DuplicateGroup {
	type key struct {
		qty   int
		price string
	}
	var order []key
	seen := make(map[key]map[string]struct{})
	codes := make(map[key][]string)
	for _, it := range items {
		if it.Quantity == nil || it.UnitPrice == nil || *it.Quantity <= 0 || !it.UnitPrice.IsPositive() {
			continue
		}
		id := strings.ToUpper(strings.TrimSpace(it.ProductCode))
		if id == "" {
			id = strings.ToUpper(strings.TrimSpace(it.Description))
		}
		k := key{*it.Quantity, it.UnitPrice.StringFixed(2)}
		if seen[k] == nil {
			seen[k] = make(map[string]struct{})
			order = append(order, k)
		}
		if _, dup := seen[k][id]; dup {
			continue
		}
		seen[k][id] = struct{}{}
		codes[k] = append(codes[k], id)
	}

	var out []DuplicateGroup
	for _, k := range order {
		if len(codes[k]) < 2 {
			continue
		}
		c := append([]string(nil), codes[k]...)
		sort.Strings(c)
		out = append(out, DuplicateGroup{Quantity: k.qty, UnitPrice: k.price, Codes: c})
	}
	return out
}
