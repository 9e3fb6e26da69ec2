// Package tier implements the extraction strategies the orchestrator folds
// over: generative parsing (A), structured entities (B), structured tables
// (C) and transcript text patterns (D).
package tier

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/document"
	"github.com/joseph-ayodele/invoice-extractor/internal/engine"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/vendor"
)

// Input is what every tier receives. Doc is read-only.
type Input struct {
	Doc    *document.RawDocument
	Traits document.Characteristics
}

// Tier is one extraction strategy. Attempt must honor ctx: once ctx is done
// the result is discarded by the orchestrator.
type Tier interface {
	ID() constants.TierID
	Attempt(ctx context.Context, in Input) (*entity.LineItemBatch, error)
}

// Func adapts a function to the Tier interface.
type Func struct {
	TierID constants.TierID
	Fn     func(ctx context.Context, in Input) (*entity.LineItemBatch, error)
}

func (f Func) ID() constants.TierID { return f.TierID }

func (f Func) Attempt(ctx context.Context, in Input) (*entity.LineItemBatch, error) {
	return f.Fn(ctx, in)
}

// codeSplitter separates a leading product code from a free-text item.
type codeSplitter struct {
	reg *vendor.Registry
}

// split returns ("DF6802", "Planter Box") for "DF6802 Planter Box". When the
// first token is not code-like the whole string is the description.
func (s codeSplitter) split(item string) (code, desc string) {
	fields := strings.Fields(item)
	if len(fields) == 0 {
		return "", ""
	}
	first := vendor.NormalizeCode(fields[0])
	if s.isCode(first) {
		return first, strings.Join(fields[1:], " ")
	}
	return "", strings.Join(fields, " ")
}

func (s codeSplitter) isCode(tok string) bool {
	if tok == "" {
		return false
	}
	if vendor.GenericCodePattern.MatchString(tok) {
		return true
	}
	if s.reg != nil {
		for _, c := range s.reg.Profiles() {
			if c.HasFamilies() && c.MatchesFamily(tok) {
				return true
			}
		}
	}
	return false
}

func amountPtr(s string) *decimal.Decimal {
	if d, ok := engine.ParseAmount(s); ok {
		return &d
	}
	return nil
}

func quantityPtr(s string) *int {
	if q, ok := engine.ParseQuantity(s); ok {
		return &q
	}
	return nil
}

// dedupe keeps the first occurrence of each product code; items without a
// code are kept as they are.
func dedupe(items []entity.LineItem) []entity.LineItem {
	seen := make(map[string]struct{}, len(items))
	out := items[:0:0]
	for _, it := range items {
		if it.ProductCode != "" {
			if _, dup := seen[it.ProductCode]; dup {
				continue
			}
			seen[it.ProductCode] = struct{}{}
		}
		out = append(out, it)
	}
	return out
}

// nonItem reports whether a row is a charge or total rather than a product.
func nonItem(desc string) bool {
	d := strings.ToLower(strings.TrimSpace(desc))
	for _, p := range []string{"subtotal", "sub-total", "total", "freight", "shipping", "sales tax", "tax", "discount", "balance due"} {
		if d == p || strings.HasPrefix(d, p+" ") || strings.HasPrefix(d, p+":") {
			return true
		}
	}
	return false
}
