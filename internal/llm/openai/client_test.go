package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/llm"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{APIKey: "k", BaseURL: srv.URL, LenientOptional: true, AttachDocuments: true},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func chatResponse(content string) []byte {
	b, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
	})
	return b
}

func TestParseInvoice(t *testing.T) {
	t.Parallel()
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" || r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("unexpected request %s %v", r.URL.Path, r.Header)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write(chatResponse(`{"order_date":"2025-01-17","vendor":"Northwind","invoice_number":"A-1",
			"line_items":[{"item":"DF6802 Planter Box","wholesale":"12.50","qty_ordered":8}]}`))
	})

	out, _, err := c.ParseInvoice(context.Background(), llm.ParseRequest{
		Document: []byte{0x89, 'P', 'N', 'G'}, MIMEType: "image/png", Text: "DF6802",
	})
	if err != nil {
		t.Fatalf("ParseInvoice: %v", err)
	}
	if len(out.LineItems) != 1 || out.LineItems[0].Item != "DF6802 Planter Box" {
		t.Fatalf("out = %+v", out)
	}
	msgs := gotBody["messages"].([]any)
	user := msgs[len(msgs)-1].(map[string]any)["content"].([]any)
	if len(user) != 2 || user[1].(map[string]any)["type"] != "image_url" {
		t.Errorf("image not attached: %v", user)
	}
}

func TestParseInvoiceStatusErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status int
		code   string
	}{
		{http.StatusGatewayTimeout, common.CodeTierTimeout},
		{http.StatusInternalServerError, common.CodeTierService},
		{http.StatusTooManyRequests, common.CodeTierService},
	}
	for _, tt := range tests {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
		})
		_, _, err := c.ParseInvoice(context.Background(), llm.ParseRequest{Text: "x"})
		var appErr *common.AppError
		if !errors.As(err, &appErr) || appErr.Code != tt.code {
			t.Errorf("status %d: err = %v, want %s", tt.status, err, tt.code)
		}
	}
}

func TestParseInvoiceMalformedContent(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(chatResponse(`{"line_items": 3}`))
	})
	_, _, err := c.ParseInvoice(context.Background(), llm.ParseRequest{Text: "x"})
	var appErr *common.AppError
	if !errors.As(err, &appErr) || appErr.Code != common.CodeMalformedResponse {
		t.Fatalf("err = %v, want MALFORMED_RESPONSE", err)
	}
}
