package llm

import (
	"encoding/json"
	"strings"
)

// MaxPromptText caps the transcript included in a prompt.
const MaxPromptText = 12000

// BuildSystemPrompt composes the system message with the output contract and
// the formatting rules for invoice line items.
func BuildSystemPrompt(req ParseRequest) string {
	parts := []string{
		"You are a wholesale invoice parser. Return ONLY JSON that matches the provided JSON Schema.",
		"Put the invoice or order date in 'order_date' exactly as printed.",
		"Put the supplier's business name in 'vendor' and the invoice number in 'invoice_number'.",
		"Emit one 'line_items' entry per product row. Never emit rows for freight, tax, discounts or totals.",
		"'item' is the product code followed by the description, e.g. \"DF6802 Planter Box\".",
		"'wholesale' is the per-unit price as a plain decimal string without currency symbols.",
		"'qty_ordered' is the shipped quantity when a shipped column exists and is non-zero, otherwise the ordered quantity.",
		"If a header field is not visible use an empty string. Never output null.",
	}
	if v := strings.TrimSpace(req.VendorHint); v != "" {
		parts = append(parts, "The supplier is probably "+v+".")
	}
	return strings.Join(parts, " ")
}

// BuildUserPrompt packages hints and the transcript. When the document itself
// is attached the transcript is still included: it carries page breaks the
// image does not.
func BuildUserPrompt(req ParseRequest) string {
	var b strings.Builder
	if f := strings.TrimSpace(req.FilenameHint); f != "" {
		b.WriteString("Filename: ")
		b.WriteString(f)
		b.WriteString("\n")
	}
	if c := strings.TrimSpace(req.ChunkLabel); c != "" {
		b.WriteString("This is a partial document (")
		b.WriteString(c)
		b.WriteString("). Extract only the rows on these pages.\n")
	}
	text := strings.TrimSpace(req.Text)
	if text != "" {
		b.WriteString("\nTranscript:\n")
		if len(text) > MaxPromptText {
			b.WriteString(text[:MaxPromptText])
			b.WriteString("\n…(truncated)")
		} else {
			b.WriteString(text)
		}
	}
	return b.String()
}

// SchemaPrompt renders the schema for providers without native structured output.
func SchemaPrompt() string {
	b, _ := json.MarshalIndent(BuildInvoiceJSONSchema(), "", "  ")
	return "JSON Schema:\n" + string(b)
}
