package tier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/llm"
	"github.com/joseph-ayodele/invoice-extractor/internal/vendor"
)

const generativeConfidence = 0.9

type GenerativeConfig struct {
	ChunkPages  int // pages per chunk in generative_chunked mode
	Concurrency int // chunks parsed at once
}

// Generative is tier A: a model parses the whole document (or page chunks of
// it) into invoice fields.
type Generative struct {
	parser llm.DocumentParser
	cfg    GenerativeConfig
	split  codeSplitter
	logger *slog.Logger
}

func NewGenerative(parser llm.DocumentParser, cfg GenerativeConfig, reg *vendor.Registry, logger *slog.Logger) *Generative {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ChunkPages <= 0 {
		cfg.ChunkPages = 4
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	return &Generative{parser: parser, cfg: cfg, split: codeSplitter{reg: reg}, logger: logger}
}

func (g *Generative) ID() constants.TierID { return constants.TierGenerative }

func (g *Generative) Attempt(ctx context.Context, in Input) (*entity.LineItemBatch, error) {
	doc := in.Doc
	pages := doc.PageTexts()
	if in.Traits.Strategy == constants.StrategyGenerativeChunked && len(pages) > g.cfg.ChunkPages {
		return g.chunked(ctx, in, pages)
	}
	fields, _, err := g.parser.ParseInvoice(ctx, llm.ParseRequest{
		Document:     doc.Bytes(),
		MIMEType:     doc.MIMEType(),
		Text:         doc.Text(),
		FilenameHint: doc.Name(),
	})
	if err != nil {
		return nil, err
	}
	return g.toBatch(fields), nil
}

// chunked splits the transcript into page groups and parses them concurrently
// within the tier's own deadline. Chunk failures are tolerated as long as one
// chunk succeeds.
func (g *Generative) chunked(ctx context.Context, in Input, pages []string) (*entity.LineItemBatch, error) {
	start := time.Now()
	var chunks []llm.ParseRequest
	for i := 0; i < len(pages); i += g.cfg.ChunkPages {
		end := min(i+g.cfg.ChunkPages, len(pages))
		chunks = append(chunks, llm.ParseRequest{
			Text:         strings.Join(pages[i:end], "\f"),
			FilenameHint: in.Doc.Name(),
			ChunkLabel:   fmt.Sprintf("pages %d-%d of %d", i+1, end, len(pages)),
		})
	}

	results := make([]*llm.InvoiceFields, len(chunks))
	var (
		mu       sync.Mutex
		firstErr error
	)
	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(g.cfg.Concurrency)
	for i, req := range chunks {
		grp.Go(func() error {
			fields, _, err := g.parser.ParseInvoice(gctx, req)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				g.logger.Warn("tier.generative.chunk_failed", "chunk", req.ChunkLabel, "error", err)
				return nil
			}
			results[i] = &fields
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	merged := llm.InvoiceFields{}
	ok := 0
	for _, r := range results {
		if r == nil {
			continue
		}
		ok++
		if merged.OrderDate == "" {
			merged.OrderDate = r.OrderDate
		}
		if merged.Vendor == "" {
			merged.Vendor = r.Vendor
		}
		if merged.InvoiceNumber == "" {
			merged.InvoiceNumber = r.InvoiceNumber
		}
		merged.LineItems = append(merged.LineItems, r.LineItems...)
	}
	if ok == 0 {
		return nil, common.WrapError(firstErr, "all chunks failed")
	}
	g.logger.Info("tier.generative.chunked",
		"req_id", common.RequestIDFromContext(ctx),
		"chunks", len(chunks),
		"chunks_ok", ok,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	batch := g.toBatch(merged)
	if ok < len(chunks) {
		batch.Confidence *= float64(ok) / float64(len(chunks))
	}
	return batch, nil
}

func (g *Generative) toBatch(f llm.InvoiceFields) *entity.LineItemBatch {
	items := make([]entity.LineItem, 0, len(f.LineItems))
	for _, li := range f.LineItems {
		code, desc := g.split.split(li.Item)
		if nonItem(desc) && code == "" {
			continue
		}
		it := entity.LineItem{
			ProductCode: code,
			Description: desc,
			UnitPrice:   amountPtr(li.Wholesale),
		}
		if li.QtyOrdered != nil {
			it.Quantity = entity.IntPtr(*li.QtyOrdered)
		}
		items = append(items, it)
	}
	return &entity.LineItemBatch{
		Items: dedupe(items),
		Header: entity.InvoiceHeader{
			OrderDate:     strings.TrimSpace(f.OrderDate),
			Vendor:        strings.TrimSpace(f.Vendor),
			InvoiceNumber: strings.TrimSpace(f.InvoiceNumber),
		},
		SourceTier: constants.TierGenerative,
		Confidence: generativeConfidence,
	}
}
