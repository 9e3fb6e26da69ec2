package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/docai"
	"github.com/joseph-ayodele/invoice-extractor/internal/document"
	"github.com/joseph-ayodele/invoice-extractor/internal/llm"
	"github.com/joseph-ayodele/invoice-extractor/internal/llm/openai"
	"github.com/joseph-ayodele/invoice-extractor/internal/llm/vertex"
	"github.com/joseph-ayodele/invoice-extractor/internal/normalize"
	"github.com/joseph-ayodele/invoice-extractor/internal/ocr"
	"github.com/joseph-ayodele/invoice-extractor/internal/orchestrator"
	"github.com/joseph-ayodele/invoice-extractor/internal/outcome"
	"github.com/joseph-ayodele/invoice-extractor/internal/tier"
	"github.com/joseph-ayodele/invoice-extractor/internal/vendor"
)

// Build wires a Processor from configuration. Tiers whose backing service is
// not configured are left out; the text tier is always present. The returned
// close function releases service clients.
func Build(ctx context.Context, cfg *common.Config, sink outcome.Sink, logger *slog.Logger) (*Processor, func() error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	profiles, err := vendor.LoadProfiles(cfg.Vendors.ProfilesPath)
	if err != nil {
		return nil, nil, common.NewAppError(common.CodeProfileDefinition, "load vendor profiles", err)
	}
	reg, err := vendor.NewRegistry(profiles, logger)
	if err != nil {
		return nil, nil, common.NewAppError(common.CodeProfileDefinition, "compile vendor profiles", err)
	}

	var closers []func() error
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}

	var tiers []tier.Tier
	parser, closeParser, err := newParser(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if parser != nil {
		if closeParser != nil {
			closers = append(closers, closeParser)
		}
		tiers = append(tiers, tier.NewGenerative(parser, tier.GenerativeConfig{
			ChunkPages:  cfg.Extraction.ChunkPages,
			Concurrency: cfg.Extraction.ChunkConcurrency,
		}, reg, logger))
	}

	if cfg.DocAI.Enabled() {
		svc, err := docai.NewClient(ctx, docai.ConfigFrom(cfg.DocAI), logger)
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("document ai client: %w", err)
		}
		closers = append(closers, svc.Close)
		tiers = append(tiers, tier.NewEntities(svc, reg, logger), tier.NewTables(svc, reg, logger))
	} else {
		logger.Info("pipeline.tier.disabled", "tiers", "B_entities,C_tables", "reason", "DOCAI_PROCESSOR_ID not set")
	}
	tiers = append(tiers, tier.NewText(reg, logger))

	p := &Processor{
		Logger:       logger,
		Loader:       document.NewLoader(ocr.NewExtractor(ocr.ConfigFrom(cfg.OCR), logger), logger),
		Analyzer:     document.NewAnalyzer(document.DefaultAnalyzerConfig(), logger),
		Orchestrator: orchestrator.New(orchestrator.ConfigFrom(cfg.Extraction), tiers, logger),
		Detector:     vendor.NewDetector(reg),
		Enricher:     vendor.NewEnricher(reg, logger),
		Normalizer:   normalize.NewNormalizer(reg, logger),
		Sink:         sink,
	}
	logger.Info("pipeline.ready", "tiers", len(tiers), "vendors", len(profiles), "llm_provider", cfg.LLM.Provider)
	return p, closeAll, nil
}

func newParser(ctx context.Context, cfg *common.Config, logger *slog.Logger) (llm.DocumentParser, func() error, error) {
	switch cfg.LLM.Provider {
	case "openai":
		if cfg.LLM.APIKey == "" {
			logger.Warn("pipeline.tier.disabled", "tiers", "A_generative", "reason", "OPENAI_API_KEY not set")
			return nil, nil, nil
		}
		return openai.NewClient(openai.ConfigFrom(cfg.LLM), logger), nil, nil
	case "vertex":
		c, err := vertex.NewClient(ctx, vertex.ConfigFrom(cfg.Vertex, cfg.LLM), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("vertex client: %w", err)
		}
		return c, c.Close, nil
	}
	logger.Info("pipeline.tier.disabled", "tiers", "A_generative", "reason", "no LLM provider")
	return nil, nil, nil
}
