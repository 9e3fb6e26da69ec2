package llm

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestDecodeInvoiceStrict(t *testing.T) {
	t.Parallel()
	in := `{"order_date":"2025-01-17","vendor":"Northwind Home & Garden","invoice_number":"A-1009",
		"line_items":[{"item":"DF6802 Planter Box","wholesale":"12.50","qty_ordered":8}]}`
	out, _, err := DecodeInvoice([]byte(in), false, quiet)
	if err != nil {
		t.Fatalf("DecodeInvoice: %v", err)
	}
	if out.InvoiceNumber != "A-1009" || len(out.LineItems) != 1 {
		t.Fatalf("out = %+v", out)
	}
	if li := out.LineItems[0]; li.Wholesale != "12.50" || li.QtyOrdered == nil || *li.QtyOrdered != 8 {
		t.Errorf("line item = %+v", li)
	}
}

func TestDecodeInvoiceLenient(t *testing.T) {
	t.Parallel()
	in := "```json\n" + `{"invoice_date":"01/17/2025","supplier":"Harbor","invoice_number":null,
		"items":[
			{"description":"XS9826A Vase","unit_price":1.6,"quantity":"24","upc":"191009727774"},
			{"item":"","wholesale":"3.00"},
			{"item":"123-4567 Mug","price":"$1,204.50","qty":2.5}
		],
		"total":"38.40"}` + "\n```"

	if _, _, err := DecodeInvoice([]byte(in), false, quiet); err == nil {
		t.Fatal("strict decode accepted synonyms")
	}
	out, raw, err := DecodeInvoice([]byte(in), true, quiet)
	if err != nil {
		t.Fatalf("lenient decode: %v", err)
	}
	if out.OrderDate != "01/17/2025" || out.Vendor != "Harbor" || out.InvoiceNumber != "" {
		t.Errorf("header = %+v", out)
	}
	if len(out.LineItems) != 2 {
		t.Fatalf("line items = %+v", out.LineItems)
	}
	vase := out.LineItems[0]
	if vase.Item != "XS9826A Vase" || vase.Wholesale != "1.6" || *vase.QtyOrdered != 24 {
		t.Errorf("vase = %+v", vase)
	}
	mug := out.LineItems[1]
	if mug.Wholesale != "1204.50" || mug.QtyOrdered != nil {
		t.Errorf("mug = %+v", mug)
	}
	if strings.Contains(string(raw), "upc") || strings.Contains(string(raw), "total") {
		t.Errorf("unknown keys kept: %s", raw)
	}
}

func TestDecodeInvoiceWholeFloatQuantity(t *testing.T) {
	t.Parallel()
	in := `{"order_date":"","vendor":"","invoice_number":"","line_items":[{"item":"A","qty_ordered":24.0}]}`
	out, _, err := DecodeInvoice([]byte(in), true, quiet)
	if err != nil {
		t.Fatalf("DecodeInvoice: %v", err)
	}
	if *out.LineItems[0].QtyOrdered != 24 {
		t.Errorf("qty = %d", *out.LineItems[0].QtyOrdered)
	}
}

func TestDecodeInvoiceMalformed(t *testing.T) {
	t.Parallel()
	for _, in := range []string{`not json`, `[1,2,3]`, `{"line_items":"none"}`} {
		_, _, err := DecodeInvoice([]byte(in), true, quiet)
		var appErr *common.AppError
		if !errors.As(err, &appErr) || appErr.Code != common.CodeMalformedResponse {
			t.Errorf("DecodeInvoice(%q) err = %v, want MALFORMED_RESPONSE", in, err)
		}
		if !errors.Is(err, common.ErrTierService) {
			t.Errorf("DecodeInvoice(%q) does not wrap ErrTierService", in)
		}
	}
}

func TestSchemaRejectsNegativeQuantity(t *testing.T) {
	t.Parallel()
	doc := map[string]any{
		"order_date": "", "vendor": "", "invoice_number": "",
		"line_items": []any{map[string]any{"item": "A", "qty_ordered": -1}},
	}
	b, _ := json.Marshal(doc)
	if err := ValidateJSONAgainstSchema(BuildInvoiceJSONSchema(), b); err == nil {
		t.Error("negative quantity validated")
	}
}

func TestPrompts(t *testing.T) {
	t.Parallel()
	req := ParseRequest{
		Text:         strings.Repeat("x", MaxPromptText+10),
		FilenameHint: "inv.pdf",
		VendorHint:   "Northwind Home & Garden",
		ChunkLabel:   "pages 1-4 of 9",
	}
	if sys := BuildSystemPrompt(req); !strings.Contains(sys, "Northwind Home & Garden") {
		t.Errorf("system prompt missing vendor hint")
	}
	user := BuildUserPrompt(req)
	for _, want := range []string{"Filename: inv.pdf", "pages 1-4 of 9", "(truncated)"} {
		if !strings.Contains(user, want) {
			t.Errorf("user prompt missing %q", want)
		}
	}
	if !ShouldAttach(ParseRequest{Document: []byte("x"), MIMEType: "image/png"}, "image/") {
		t.Error("image not attachable")
	}
	if ShouldAttach(ParseRequest{Document: []byte("x"), MIMEType: "text/plain"}, "image/", "application/pdf") {
		t.Error("text attachable")
	}
}
