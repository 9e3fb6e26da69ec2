// Package pipeline runs one invoice end to end: load, analyze, orchestrate
// the tiers, enrich with the vendor profile, normalize, and flush the
// request's outcome report.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/document"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/normalize"
	"github.com/joseph-ayodele/invoice-extractor/internal/orchestrator"
	"github.com/joseph-ayodele/invoice-extractor/internal/outcome"
	"github.com/joseph-ayodele/invoice-extractor/internal/vendor"
)

// FlagEnrichEmptied marks results whose items all failed the vendor's code
// families; the unfiltered batch is emitted instead.
const FlagEnrichEmptied = "enrich_emptied_batch"

// flushTimeout bounds the outcome write once the request itself is done.
const flushTimeout = 5 * time.Second

// DocumentLoader reads a document and its transcript. *document.Loader satisfies it.
type DocumentLoader interface {
	Load(ctx context.Context, path string) (*document.RawDocument, error)
}

// Processor coordinates the per-request stages. It holds no per-request
// state and is safe for concurrent use.
type Processor struct {
	Logger       *slog.Logger
	Loader       DocumentLoader
	Analyzer     *document.Analyzer
	Orchestrator *orchestrator.Orchestrator
	Detector     *vendor.Detector
	Enricher     *vendor.Enricher
	Normalizer   *normalize.Normalizer
	Sink         outcome.Sink
}

// ProcessFile loads path and runs Process on it.
func (p *Processor) ProcessFile(ctx context.Context, path string) (*entity.InvoiceResult, error) {
	doc, err := p.Loader.Load(ctx, path)
	if err != nil {
		p.logger().Error("processor.load.failed", "path", path, "err", err)
		return nil, err
	}
	return p.Process(ctx, doc)
}

// Process extracts doc. Only validation failures and tier exhaustion come
// back as errors; low-confidence results are returned annotated.
func (p *Processor) Process(ctx context.Context, doc *document.RawDocument) (res *entity.InvoiceResult, err error) {
	logger := p.logger()
	start := time.Now()
	rid := common.RequestIDFromContext(ctx)
	if rid == "" {
		rid = uuid.New().String()
		ctx = common.WithRequestID(ctx, rid)
	}
	ctx = common.WithDocumentName(ctx, doc.Name())

	rec := outcome.NewRecorder(rid, doc.Name(), p.Sink, logger)
	defer func() {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
		defer cancel()
		if ferr := rec.Flush(fctx); ferr != nil {
			logger.Warn("processor.flush.failed", "req_id", rid, "err", ferr)
		}
	}()

	traits := p.Analyzer.Analyze(doc)
	logger.Info("processor.analyze.ok",
		"req_id", rid,
		"document", doc.Name(),
		"size_bytes", traits.SizeBytes,
		"pages", traits.PageCount,
		"complexity", traits.Complexity,
		"strategy", traits.Strategy,
	)

	batch, err := p.Orchestrator.Extract(ctx, doc, traits, rec)
	if err != nil {
		logger.Error("processor.extract.failed", "req_id", rid, "err", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, err
	}

	tag := p.Detector.DetectWithName(doc.Text(), batch.Header.Vendor)
	enriched, stats := p.Enricher.Enrich(batch, doc.Text(), tag)
	logger.Info("processor.enrich.ok",
		"req_id", rid,
		"vendor_tag", tag,
		"dropped", stats.Dropped,
		"requantified", stats.Requantified,
		"repriced", stats.Repriced,
		"upcs_merged", stats.UPCsMerged,
	)
	emptied := enriched.Len() == 0
	if emptied {
		// the vendor filter removed every item the winning tier produced
		rec.Flag(FlagEnrichEmptied)
		enriched = batch
	}

	res, err = p.Normalizer.Normalize(enriched, normalize.Metadata{
		RequestID: rid,
		Source:    doc.Name(),
		VendorTag: tag,
		Outcomes:  rec.Outcomes(),
	})
	if err != nil {
		logger.Error("processor.normalize.failed", "req_id", rid, "err", err)
		return nil, err
	}
	for _, f := range res.Flags {
		rec.Flag(f)
	}
	res.Flags = rec.Flags()
	res.LowConfidence = res.LowConfidence || emptied
	rec.SetLowConfidence(res.LowConfidence)

	logger.Info("processor.ok",
		"req_id", rid,
		"document", doc.Name(),
		"tier", res.SourceTier,
		"rows", len(res.Rows),
		"low_confidence", res.LowConfidence,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (p *Processor) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}
