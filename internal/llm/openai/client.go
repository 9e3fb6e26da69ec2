package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/llm"
)

// ParseInvoice implements llm.DocumentParser using chat/completions with a
// JSON response format.
func (c *Client) ParseInvoice(ctx context.Context, req llm.ParseRequest) (llm.InvoiceFields, []byte, error) {
	rid := common.RequestIDFromContext(ctx)
	start := time.Now()

	attach := c.cfg.AttachDocuments && llm.ShouldAttach(req, "image/", "application/pdf")
	c.logger.Info("llm.parse.start",
		"req_id", rid,
		"provider", "openai",
		"model", c.cfg.Model,
		"text_len", len(req.Text),
		"attached", attach,
		"chunk", req.ChunkLabel,
	)

	user := []map[string]any{
		{"type": "text", "text": llm.BuildUserPrompt(req) + "\n\nReturn ONLY JSON that matches the provided schema."},
	}
	if attach {
		url := llm.DataURL(req.MIMEType, req.Document)
		if strings.HasPrefix(req.MIMEType, "image/") {
			user = append(user, map[string]any{"type": "image_url", "image_url": map[string]any{"url": url}})
		} else {
			user = append(user, map[string]any{"type": "file", "file": map[string]any{
				"filename":  nonEmpty(req.FilenameHint, "invoice.pdf"),
				"file_data": url,
			}})
		}
	}

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": llm.BuildSystemPrompt(req)},
			{"role": "system", "content": llm.SchemaPrompt()},
			{"role": "user", "content": user},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	raw, status, err := llm.SendJSON(ctx, c.http, endpoint, body, headers, c.logger)
	if err != nil {
		c.logger.Warn("llm.parse.http_error",
			"req_id", rid, "status", status, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		if ctx.Err() != nil {
			return llm.InvoiceFields{}, nil, ctx.Err()
		}
		return llm.InvoiceFields{}, raw, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return llm.InvoiceFields{}, raw, common.NewAppError(common.CodeMalformedResponse,
			"decode openai response", fmt.Errorf("%w: %w", common.ErrTierService, err))
	}
	if len(cc.Choices) == 0 {
		return llm.InvoiceFields{}, raw, common.NewAppError(common.CodeMalformedResponse,
			"no choices in openai response", common.ErrTierService)
	}

	out, content, err := llm.DecodeInvoice([]byte(cc.Choices[0].Message.Content), c.cfg.LenientOptional, c.logger)
	if err != nil {
		c.logger.Warn("llm.parse.invalid_output",
			"req_id", rid, "error", err, "content_bytes", len(content),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.InvoiceFields{}, content, err
	}

	c.logger.Info("llm.parse.ok",
		"req_id", rid,
		"provider", "openai",
		"vendor", out.Vendor,
		"invoice_number", out.InvoiceNumber,
		"line_items", len(out.LineItems),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, content, nil
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
