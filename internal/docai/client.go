package docai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
)

type Config struct {
	Project         string
	Location        string // "us" | "eu"
	ProcessorID     string
	Endpoint        string // default <location>-documentai.googleapis.com:443
	CredentialsFile string
	CaptureRaw      bool // log the protojson document at debug level
}

// ConfigFrom maps the application settings onto a client Config.
func ConfigFrom(c common.DocAIConfig) Config {
	return Config{
		Project:         c.Project,
		Location:        c.Location,
		ProcessorID:     c.ProcessorID,
		Endpoint:        c.Endpoint,
		CredentialsFile: c.CredentialsFile,
	}
}

// processor is the subset of *documentai.DocumentProcessorClient the client uses.
type processor interface {
	ProcessDocument(ctx context.Context, req *documentaipb.ProcessRequest, opts ...gax.CallOption) (*documentaipb.ProcessResponse, error)
}

type Client struct {
	cfg    Config
	name   string
	proc   processor
	closer func() error
	logger *slog.Logger
}

// NewClient dials Document AI for the configured processor.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Project == "" || cfg.ProcessorID == "" {
		return nil, errors.New("docai: project and processor id are required")
	}
	if cfg.Location == "" {
		cfg.Location = "us"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = fmt.Sprintf("%s-documentai.googleapis.com:443", cfg.Location)
	}
	opts := []option.ClientOption{option.WithEndpoint(cfg.Endpoint)}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	pc, err := documentai.NewDocumentProcessorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("documentai.NewDocumentProcessorClient: %w", err)
	}
	c := newClient(cfg, pc, logger)
	c.closer = pc.Close
	logger.Info("docai.client.ready", "processor", c.name, "endpoint", cfg.Endpoint)
	return c, nil
}

func newClient(cfg Config, p processor, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		name:   fmt.Sprintf("projects/%s/locations/%s/processors/%s", cfg.Project, cfg.Location, cfg.ProcessorID),
		proc:   p,
		logger: logger,
	}
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

func (c *Client) process(ctx context.Context, op string, content []byte, mimeType string) (*documentaipb.Document, error) {
	start := time.Now()
	rid := common.RequestIDFromContext(ctx)
	resp, err := c.proc.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: c.name,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{Content: content, MimeType: mimeType},
		},
	})
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		c.logger.Warn("docai.process.failed", "req_id", rid, "op", op, "code", common.StatusCode(err).String(),
			"error", err, "elapsed_ms", elapsed)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if common.IsDeadline(err) {
			return nil, common.NewAppError(common.CodeTierTimeout, "document ai "+op, fmt.Errorf("%w: %w", common.ErrTierTimeout, err))
		}
		return nil, common.ServiceErrorf(err, "document ai %s", op)
	}
	doc := resp.GetDocument()
	if doc == nil {
		return nil, common.NewAppError(common.CodeMalformedResponse, "document ai returned no document", common.ErrTierService)
	}
	if c.cfg.CaptureRaw {
		if raw, err := protojson.Marshal(doc); err == nil {
			c.logger.Debug("docai.process.raw", "req_id", rid, "op", op, "raw", string(raw))
		}
	}
	c.logger.Info("docai.process.ok", "req_id", rid, "op", op,
		"pages", len(doc.GetPages()), "entities", len(doc.GetEntities()), "elapsed_ms", elapsed)
	return doc, nil
}

// Entities implements Service.
func (c *Client) Entities(ctx context.Context, content []byte, mimeType string) ([]Entity, error) {
	doc, err := c.process(ctx, "entities", content, mimeType)
	if err != nil {
		return nil, err
	}
	return convertEntities(doc.GetEntities()), nil
}

// Tables implements Service.
func (c *Client) Tables(ctx context.Context, content []byte, mimeType string) ([]Table, error) {
	doc, err := c.process(ctx, "tables", content, mimeType)
	if err != nil {
		return nil, err
	}
	return convertTables(doc), nil
}

func convertEntities(in []*documentaipb.Document_Entity) []Entity {
	out := make([]Entity, 0, len(in))
	for _, e := range in {
		text := e.GetMentionText()
		if nv := e.GetNormalizedValue(); nv != nil && nv.GetText() != "" && text == "" {
			text = nv.GetText()
		}
		out = append(out, Entity{
			Type:       e.GetType(),
			Text:       strings.TrimSpace(text),
			Confidence: e.GetConfidence(),
			Properties: convertEntities(e.GetProperties()),
		})
	}
	return out
}

func convertTables(doc *documentaipb.Document) []Table {
	var out []Table
	text := doc.GetText()
	for i, p := range doc.GetPages() {
		for _, t := range p.GetTables() {
			out = append(out, Table{
				Page:   i + 1,
				Header: rowsText(t.GetHeaderRows(), text),
				Body:   rowsText(t.GetBodyRows(), text),
			})
		}
	}
	return out
}

func rowsText(rows []*documentaipb.Document_Page_Table_TableRow, text string) [][]string {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		cells := make([]string, 0, len(r.GetCells()))
		for _, cell := range r.GetCells() {
			cells = append(cells, anchorText(cell.GetLayout().GetTextAnchor(), text))
		}
		out = append(out, cells)
	}
	return out
}

func anchorText(a *documentaipb.Document_TextAnchor, text string) string {
	if a == nil {
		return ""
	}
	var b strings.Builder
	for _, seg := range a.GetTextSegments() {
		start, end := int(seg.GetStartIndex()), int(seg.GetEndIndex())
		if start < 0 || end > len(text) || start >= end {
			continue
		}
		b.WriteString(text[start:end])
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
