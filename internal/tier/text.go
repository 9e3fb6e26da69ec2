package tier

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/engine"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/vendor"
)

const textConfidence = 0.6

var (
	reInvoiceNumber = regexp.MustCompile(`(?i)\binvoice\s*(?:#|no\.?|number|num)?\s*[:#]?\s*([A-Z0-9][A-Z0-9-]*\d[A-Z0-9-]*)`)
	reLabeledDate   = regexp.MustCompile(`(?i)\b(?:invoice|order|ship)?\s*date\s*[:#]?\s*(\d{1,2}/\d{1,2}/\d{2,4}|\d{4}-\d{2}-\d{2}|[A-Za-z]{3,9}\.? \d{1,2},? \d{4})`)
	reAnyDate       = regexp.MustCompile(`\b(\d{1,2}/\d{1,2}/\d{4}|\d{4}-\d{2}-\d{2})\b`)
)

// Text is tier D: line items read from the transcript with the quantity and
// price engines. It makes no external calls and is bounded only by the
// parent deadline.
type Text struct {
	reg      *vendor.Registry
	detector *vendor.Detector
	logger   *slog.Logger
}

func NewText(reg *vendor.Registry, logger *slog.Logger) *Text {
	if logger == nil {
		logger = slog.Default()
	}
	return &Text{reg: reg, detector: vendor.NewDetector(reg), logger: logger}
}

func (t *Text) ID() constants.TierID { return constants.TierTextPattern }

func (t *Text) Attempt(ctx context.Context, in Input) (*entity.LineItemBatch, error) {
	start := time.Now()
	text := in.Doc.Text()
	batch := &entity.LineItemBatch{SourceTier: constants.TierTextPattern, Confidence: textConfidence}
	if strings.TrimSpace(text) == "" {
		return batch, nil
	}

	tag := t.detector.Detect(text)
	prof, known := t.reg.Lookup(tag)
	batch.Header = parseHeader(text)
	if known {
		batch.Header.Vendor = prof.DisplayName()
	}

	for _, code := range t.candidateCodes(text, prof, known) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if code == batch.Header.InvoiceNumber {
			continue
		}
		p := prof
		if !known {
			if owner, ok := t.reg.MatchAnyFamily(code); ok {
				p = owner
			}
		}
		it, ok := t.resolve(text, code, p)
		if ok {
			batch.Items = append(batch.Items, it)
		}
	}
	t.logger.Debug("tier.text.done",
		"req_id", common.RequestIDFromContext(ctx),
		"vendor", tag,
		"items", len(batch.Items),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return batch, nil
}

// candidateCodes returns the first code-like token of every line, in
// document order without duplicates. A known vendor restricts codes to its
// families; otherwise every registered family and the generic pattern count.
func (t *Text) candidateCodes(text string, prof *vendor.Compiled, known bool) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, line := range strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\f' }) {
		code, ok := "", false
		if known {
			code, ok = prof.FindCode(line)
		} else {
			code, ok = t.anyCode(line)
		}
		if !ok {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}

func (t *Text) anyCode(line string) (string, bool) {
	for _, raw := range strings.Fields(line) {
		tok := vendor.NormalizeCode(raw)
		if tok == "" {
			continue
		}
		if vendor.GenericCodePattern.MatchString(tok) {
			return tok, true
		}
		for _, p := range t.reg.Profiles() {
			if p.HasFamilies() && p.MatchesFamily(tok) {
				return tok, true
			}
		}
	}
	return "", false
}

// resolve builds the item for code. The code's line must carry an amount, or
// both a quantity and a price must resolve; this keeps invoice numbers and
// reference codes out.
func (t *Text) resolve(text, code string, p *vendor.Compiled) (entity.LineItem, bool) {
	it := entity.LineItem{
		ProductCode: code,
		Description: engine.DescriptionAfterCode(text, code),
		UPC:         engine.UPCAfterCode(text, code),
	}
	q, qok := p.Quantity.Resolve(text, code)
	price, pok := p.Price.Resolve(text, code)
	if qok {
		it.Quantity = entity.IntPtr(q)
	}
	if pok {
		it.UnitPrice = entity.DecimalPtr(price)
	}
	if !lineHasAmount(text, code) && !(qok && pok) {
		return it, false
	}
	if nonItem(it.Description) {
		return it, false
	}
	return it, qok || pok
}

func lineHasAmount(text, code string) bool {
	_, rest, ok := engine.CodeLine(text, code)
	if !ok {
		return false
	}
	for _, f := range strings.Fields(rest) {
		if _, ok := engine.ParseMoney(f); ok {
			return true
		}
	}
	return false
}

func parseHeader(text string) entity.InvoiceHeader {
	var h entity.InvoiceHeader
	for _, m := range reInvoiceNumber.FindAllStringSubmatch(text, -1) {
		if len(m[1]) >= 3 {
			h.InvoiceNumber = strings.ToUpper(m[1])
			break
		}
	}
	if m := reLabeledDate.FindStringSubmatch(text); m != nil {
		h.OrderDate = strings.TrimSpace(m[1])
	} else if m := reAnyDate.FindStringSubmatch(text); m != nil {
		h.OrderDate = m[1]
	}
	return h
}
