package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
)

// DecodeInvoice validates model output against the invoice schema and
// decodes it. When lenient is set, a failing document is sanitized and
// validated once more before giving up. All failures are MALFORMED_RESPONSE
// errors so the caller can advance to the next tier.
func DecodeInvoice(content []byte, lenient bool, logger *slog.Logger) (InvoiceFields, []byte, error) {
	if logger == nil {
		logger = slog.Default()
	}
	raw := StripCodeFence(content)

	if err := ValidateInvoiceJSON(raw); err != nil {
		if !lenient {
			return InvoiceFields{}, raw, malformed("schema validation failed", err)
		}
		cleaned, dropped, sErr := NormalizeAndSanitizeJSON(raw, logger)
		if sErr != nil {
			return InvoiceFields{}, raw, malformed("sanitize failed", sErr)
		}
		if vErr := ValidateInvoiceJSON(cleaned); vErr != nil {
			return InvoiceFields{}, raw, malformed("schema validation failed after sanitize", vErr)
		}
		logger.Warn("llm.parse.lenient_sanitize_applied", "dropped", len(dropped), "first_error", err.Error())
		raw = cleaned
	}

	var out InvoiceFields
	if err := json.Unmarshal(raw, &out); err != nil {
		if !lenient {
			return InvoiceFields{}, raw, malformed("unmarshal fields", err)
		}
		// schema-valid but not decodable, e.g. "qty_ordered": 24.0
		cleaned, _, sErr := NormalizeAndSanitizeJSON(raw, logger)
		if sErr != nil {
			return InvoiceFields{}, raw, malformed("unmarshal fields", err)
		}
		out = InvoiceFields{}
		if err := json.Unmarshal(cleaned, &out); err != nil {
			return InvoiceFields{}, raw, malformed("unmarshal fields", err)
		}
		raw = cleaned
	}
	return out, raw, nil
}

// StripCodeFence removes a surrounding ```json ... ``` fence some models add.
func StripCodeFence(b []byte) []byte {
	s := strings.TrimSpace(string(b))
	if !strings.HasPrefix(s, "```") {
		return []byte(s)
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return []byte(strings.TrimSpace(s))
}

func malformed(msg string, err error) error {
	return common.NewAppError(common.CodeMalformedResponse, msg,
		fmt.Errorf("%w: %w", common.ErrTierService, err))
}
