package document

import (
	"bytes"
	"log/slog"
	"math"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/joseph-ayodele/invoice-extractor/constants"
)

// Characteristics describes a document for strategy selection.
type Characteristics struct {
	SizeBytes  int64              `json:"size_bytes"`
	PageCount  int                `json:"page_count"`
	Complexity float64            `json:"complexity_score"`
	Strategy   constants.Strategy `json:"recommended_strategy"`
}

// DefaultCharacteristics is returned whenever analysis cannot complete.
var DefaultCharacteristics = Characteristics{Complexity: 0.5, Strategy: constants.StrategyStructuredExtraction}

// AnalyzerConfig holds the normalization caps and strategy thresholds.
type AnalyzerConfig struct {
	SizeCap       int64   // bytes at which the size term saturates
	PageCap       int     // pages at which the page term saturates
	DenseChars    int     // transcript chars per page considered fully dense
	Structured    float64 // complexity at or above which structured extraction is recommended
	LargeBytes    int64
	ManyPages     int
	SizeWeight    float64
	PageWeight    float64
	DensityWeight float64
}

func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		SizeCap:       10 << 20,
		PageCap:       20,
		DenseChars:    3000,
		Structured:    0.7,
		LargeBytes:    2 << 20,
		ManyPages:     5,
		SizeWeight:    0.3,
		PageWeight:    0.3,
		DensityWeight: 0.4,
	}
}

type Analyzer struct {
	cfg    AnalyzerConfig
	logger *slog.Logger
}

func NewAnalyzer(cfg AnalyzerConfig, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SizeCap <= 0 || cfg.PageCap <= 0 || cfg.DenseChars <= 0 {
		cfg = DefaultAnalyzerConfig()
	}
	return &Analyzer{cfg: cfg, logger: logger}
}

// Analyze never fails. Any internal error or panic yields DefaultCharacteristics.
func (a *Analyzer) Analyze(doc *RawDocument) (out Characteristics) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("analyzer.panic", "panic", r)
			out = DefaultCharacteristics
		}
	}()
	if doc == nil {
		a.logger.Warn("analyzer.nil_document")
		return DefaultCharacteristics
	}

	pages := a.pageCount(doc)
	size := doc.Size()

	sizeN := clamp01(float64(size) / float64(a.cfg.SizeCap))
	pageN := clamp01(float64(pages) / float64(a.cfg.PageCap))
	density := 1.0
	if pages > 0 && len(doc.Text()) > 0 {
		perPage := float64(len(doc.Text())) / float64(pages)
		// sparse text per page means scanned or image-heavy content
		density = 1 - clamp01(perPage/float64(a.cfg.DenseChars))
	}
	score := a.cfg.SizeWeight*sizeN + a.cfg.PageWeight*pageN + a.cfg.DensityWeight*density
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return DefaultCharacteristics
	}
	score = clamp01(score)

	out = Characteristics{
		SizeBytes:  size,
		PageCount:  pages,
		Complexity: math.Round(score*1000) / 1000,
	}
	switch {
	case out.Complexity >= a.cfg.Structured:
		out.Strategy = constants.StrategyStructuredExtraction
	case size >= a.cfg.LargeBytes || pages >= a.cfg.ManyPages:
		out.Strategy = constants.StrategyGenerativeChunked
	default:
		out.Strategy = constants.StrategyGenerative
	}
	a.logger.Debug("analyzer.ok",
		"document", doc.Name(),
		"size_bytes", size,
		"pages", pages,
		"complexity", out.Complexity,
		"strategy", out.Strategy,
	)
	return out
}

var pdfcpuInit sync.Once

func (a *Analyzer) pageCount(doc *RawDocument) int {
	if doc.Ext() == "pdf" && doc.Size() > 0 {
		// pdfcpu must not write its config directory.
		pdfcpuInit.Do(api.DisableConfigDir)
		conf := model.NewDefaultConfiguration()
		conf.ValidationMode = model.ValidationRelaxed
		if n, err := api.PageCount(bytes.NewReader(doc.data), conf); err == nil && n > 0 {
			return n
		} else if err != nil {
			a.logger.Debug("analyzer.pdf_pages_unavailable", "document", doc.Name(), "error", err)
		}
	}
	if n := doc.TranscriptPages(); n > 0 {
		return n
	}
	return 1
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
