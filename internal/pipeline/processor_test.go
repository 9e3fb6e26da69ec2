package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/document"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/normalize"
	"github.com/joseph-ayodele/invoice-extractor/internal/orchestrator"
	"github.com/joseph-ayodele/invoice-extractor/internal/outcome"
	"github.com/joseph-ayodele/invoice-extractor/internal/tier"
	"github.com/joseph-ayodele/invoice-extractor/internal/vendor"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

const northwindText = "Northwind Home & Garden\n" +
	"INVOICE #A-1009   Date: 01/17/2025\n" +
	"DF6802 Planter Box 8 0 lo each $12.50 $100.00\n" +
	"XS9826A 191009727774 Glass Vase ... 24 0 0 24 each 2.00 1.60 38.40\n" +
	"Freight 12.00\n"

// captureSink keeps flushed reports.
type captureSink struct {
	mu      sync.Mutex
	reports []outcome.Report
}

func (s *captureSink) Write(_ context.Context, r outcome.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return nil
}

func (s *captureSink) only(t *testing.T) outcome.Report {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(s.reports))
	}
	return s.reports[0]
}

func textDoc(text string) *document.RawDocument {
	return document.New("invoice.txt", []byte(text), text)
}

func newProcessor(t *testing.T, tiers []tier.Tier, sink outcome.Sink) *Processor {
	t.Helper()
	reg, err := vendor.NewDefaultRegistry(quiet)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	cfg := orchestrator.Config{DefaultBudget: time.Second, GenerativeCeiling: 50 * time.Millisecond, TextReserve: 10 * time.Millisecond}
	return &Processor{
		Logger:       quiet,
		Analyzer:     document.NewAnalyzer(document.DefaultAnalyzerConfig(), quiet),
		Orchestrator: orchestrator.New(cfg, tiers, quiet),
		Detector:     vendor.NewDetector(reg),
		Enricher:     vendor.NewEnricher(reg, quiet),
		Normalizer:   normalize.NewNormalizer(reg, quiet),
		Sink:         sink,
	}
}

func line(code string, qty int, price string) entity.LineItem {
	return entity.LineItem{
		ProductCode: code,
		Description: "Item " + code,
		Quantity:    entity.IntPtr(qty),
		UnitPrice:   entity.DecimalPtr(decimal.RequireFromString(price)),
	}
}

func TestBuildAndProcessWithTextTier(t *testing.T) {
	t.Parallel()
	cfg := common.LoadConfig()
	cfg.LLM.Provider = "none"
	cfg.DocAI = common.DocAIConfig{}
	cfg.Vendors.ProfilesPath = ""

	sink := &captureSink{}
	p, closeFn, err := Build(context.Background(), cfg, sink, quiet)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer func() { _ = closeFn() }()

	ctx := common.WithRequestID(context.Background(), "req-42")
	res, err := p.Process(ctx, textDoc(northwindText))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.RequestID != "req-42" || res.SourceTier != string(constants.TierTextPattern) {
		t.Errorf("result = %+v", res)
	}
	if res.Vendor != "Northwind Home & Garden" || res.VendorTag != "northwind" {
		t.Errorf("vendor = %q (%s)", res.Vendor, res.VendorTag)
	}
	if res.OrderDate != "01/17/2025" || res.InvoiceNumber != "A-1009" {
		t.Errorf("header = %s %s", res.OrderDate, res.InvoiceNumber)
	}
	if len(res.Rows) < 2 {
		t.Fatalf("rows = %v", res.Rows)
	}
	first := res.Rows[0]
	if len(first) != entity.RowWidth || !strings.HasPrefix(first[3], "DF6802") || first[4] != "12.50" || first[5] != "8" {
		t.Errorf("first row = %q", first)
	}

	rep := sink.only(t)
	if rep.RequestID != "req-42" || rep.Winner != constants.TierTextPattern || len(rep.Outcomes) != 1 {
		t.Errorf("report = %+v", rep)
	}
}

func TestProcessFallsBackAfterGenerativeTimeout(t *testing.T) {
	t.Parallel()
	var calledB bool
	sink := &captureSink{}
	p := newProcessor(t, []tier.Tier{
		tier.Func{TierID: constants.TierGenerative, Fn: func(ctx context.Context, _ tier.Input) (*entity.LineItemBatch, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}},
		tier.Func{TierID: constants.TierEntities, Fn: func(context.Context, tier.Input) (*entity.LineItemBatch, error) {
			calledB = true
			return &entity.LineItemBatch{
				Header: entity.InvoiceHeader{OrderDate: "2025-01-17", Vendor: "Harbor Distributing", InvoiceNumber: "H-77"},
				Items:  []entity.LineItem{line("120-4410", 6, "3.25")},
			}, nil
		}},
	}, sink)

	res, err := p.Process(context.Background(), textDoc("Harbor Distributing Co.\n120-4410 Rope 6 3.25 19.50\n"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !calledB || res.SourceTier != string(constants.TierEntities) {
		t.Fatalf("source tier = %s", res.SourceTier)
	}
	if res.Vendor != "Harbor Distributing Co." || res.OrderDate != "01/17/2025" {
		t.Errorf("header = %q %q", res.Vendor, res.OrderDate)
	}
	rep := sink.only(t)
	if len(rep.Outcomes) != 2 || rep.Outcomes[0].Status != constants.OutcomeTimeout {
		t.Errorf("outcomes = %+v", rep.Outcomes)
	}
	if len(res.Outcomes) != 2 {
		t.Errorf("result outcomes = %d", len(res.Outcomes))
	}
}

func TestProcessExhaustedIsReported(t *testing.T) {
	t.Parallel()
	sink := &captureSink{}
	empty := func(context.Context, tier.Input) (*entity.LineItemBatch, error) { return &entity.LineItemBatch{}, nil }
	p := newProcessor(t, []tier.Tier{
		tier.Func{TierID: constants.TierEntities, Fn: empty},
		tier.Func{TierID: constants.TierTextPattern, Fn: empty},
	}, sink)

	traits := textDoc("nothing here")
	_, err := p.Process(context.Background(), traits)
	if !errors.Is(err, common.ErrAllTiersExhausted) {
		t.Fatalf("err = %v", err)
	}
	if rep := sink.only(t); !rep.Exhausted() || len(rep.Outcomes) == 0 {
		t.Errorf("report = %+v", rep)
	}
}

func TestProcessFlagsDuplicateValues(t *testing.T) {
	t.Parallel()
	sink := &captureSink{}
	p := newProcessor(t, []tier.Tier{
		tier.Func{TierID: constants.TierTextPattern, Fn: func(context.Context, tier.Input) (*entity.LineItemBatch, error) {
			return &entity.LineItemBatch{Items: []entity.LineItem{
				line("AB1234", 1, "9.99"),
				line("CD5678", 1, "9.99"),
			}}, nil
		}},
	}, sink)

	res, err := p.Process(context.Background(), textDoc("AB1234 1 9.99\nCD5678 1 9.99\n"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !res.LowConfidence || len(res.Rows) != 2 {
		t.Fatalf("result = %+v", res)
	}
	rep := sink.only(t)
	if !rep.LowConfidence || len(rep.Flags) != 1 || !strings.HasPrefix(rep.Flags[0], normalize.FlagDuplicateValues) {
		t.Errorf("report flags = %v", rep.Flags)
	}
}

func TestProcessUnparsedDateIsNotLowConfidence(t *testing.T) {
	t.Parallel()
	sink := &captureSink{}
	p := newProcessor(t, []tier.Tier{
		tier.Func{TierID: constants.TierTextPattern, Fn: func(context.Context, tier.Input) (*entity.LineItemBatch, error) {
			return &entity.LineItemBatch{
				Header: entity.InvoiceHeader{OrderDate: "sometime next week", InvoiceNumber: "Q-5"},
				Items: []entity.LineItem{
					line("AB1234", 3, "9.99"),
					line("CD5678", 4, "2.50"),
				},
			}, nil
		}},
	}, sink)

	res, err := p.Process(context.Background(), textDoc("AB1234 3 9.99\nCD5678 4 2.50\n"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.LowConfidence || res.OrderDate != "sometime next week" {
		t.Fatalf("result = %+v", res)
	}
	rep := sink.only(t)
	if rep.LowConfidence {
		t.Errorf("report low confidence disagrees with result: %+v", rep)
	}
	if len(rep.Flags) != 1 || rep.Flags[0] != normalize.FlagUnparsedDate {
		t.Errorf("report flags = %v", rep.Flags)
	}
}
