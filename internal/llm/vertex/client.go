// Package vertex implements llm.DocumentParser with Gemini on Vertex AI.
// The original document is sent as an inline blob and the model is asked for
// a JSON response.
package vertex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/llm"
)

type Config struct {
	Project  string
	Location string // default us-central1
	Model    string // default gemini-1.5-pro
	Lenient  bool
}

// ConfigFrom maps the application settings onto a client Config.
func ConfigFrom(v common.VertexConfig, l common.LLMConfig) Config {
	return Config{Project: v.Project, Location: v.Location, Model: v.Model, Lenient: l.Lenient}
}

// generator is the subset of *genai.GenerativeModel the client uses.
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type Client struct {
	cfg    Config
	base   *genai.Client
	model  generator
	logger *slog.Logger
}

// NewClient dials Vertex AI and configures the model for JSON output.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Project == "" {
		return nil, errors.New("vertex: project is required")
	}
	if cfg.Location == "" {
		cfg.Location = "us-central1"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-pro"
	}

	base, err := genai.NewClient(ctx, cfg.Project, cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	model := base.GenerativeModel(cfg.Model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(llm.BuildSystemPrompt(llm.ParseRequest{}))},
	}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}
	logger.Info("vertex.client.ready", "project", cfg.Project, "location", cfg.Location, "model", cfg.Model)
	return &Client{cfg: cfg, base: base, model: model, logger: logger}, nil
}

// Close releases the underlying Vertex AI client.
func (c *Client) Close() error {
	if c.base == nil {
		return nil
	}
	return c.base.Close()
}

// ParseInvoice implements llm.DocumentParser.
func (c *Client) ParseInvoice(ctx context.Context, req llm.ParseRequest) (llm.InvoiceFields, []byte, error) {
	rid := common.RequestIDFromContext(ctx)
	start := time.Now()

	parts := make([]genai.Part, 0, 3)
	attach := llm.ShouldAttach(req, "image/", "application/pdf")
	if attach {
		parts = append(parts, genai.Blob{MIMEType: req.MIMEType, Data: req.Document})
	}
	prompt := llm.BuildUserPrompt(req)
	if v := strings.TrimSpace(req.VendorHint); v != "" {
		prompt = "The supplier is probably " + v + ".\n" + prompt
	}
	parts = append(parts, genai.Text(prompt), genai.Text(llm.SchemaPrompt()))

	c.logger.Info("llm.parse.start",
		"req_id", rid,
		"provider", "vertex",
		"model", c.cfg.Model,
		"text_len", len(req.Text),
		"attached", attach,
		"chunk", req.ChunkLabel,
	)

	resp, err := c.model.GenerateContent(ctx, parts...)
	if err != nil {
		c.logger.Warn("llm.parse.generate_error", "req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		if ctx.Err() != nil {
			return llm.InvoiceFields{}, nil, ctx.Err()
		}
		if common.IsDeadline(err) {
			return llm.InvoiceFields{}, nil, common.NewAppError(common.CodeTierTimeout, "gemini deadline exceeded", err)
		}
		return llm.InvoiceFields{}, nil, common.ServiceErrorf(err, "gemini generate content")
	}

	content := responseText(resp)
	if content == "" {
		return llm.InvoiceFields{}, nil, common.NewAppError(common.CodeMalformedResponse,
			"empty gemini response", common.ErrTierService)
	}

	out, raw, err := llm.DecodeInvoice([]byte(content), c.cfg.Lenient, c.logger)
	if err != nil {
		c.logger.Warn("llm.parse.invalid_output", "req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return llm.InvoiceFields{}, raw, err
	}
	c.logger.Info("llm.parse.ok",
		"req_id", rid,
		"provider", "vertex",
		"vendor", out.Vendor,
		"line_items", len(out.LineItems),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, raw, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}
