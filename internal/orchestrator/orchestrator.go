// Package orchestrator walks the extraction tiers in precedence order under
// one shared deadline, falling back on timeout, error or empty output.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/document"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/tier"
)

// Config holds the budget policy.
type Config struct {
	DefaultBudget     time.Duration // used when ctx carries no deadline
	SafetyMargin      time.Duration // taken off a caller deadline
	Floor             time.Duration // at or below this remaining budget only the text tier runs
	GenerativeCeiling time.Duration // cap for tier A
	TextReserve       time.Duration // kept back for tier D while external tiers run
}

func DefaultConfig() Config {
	return Config{
		DefaultBudget:     85 * time.Second,
		Floor:             5 * time.Second,
		GenerativeCeiling: 30 * time.Second,
		TextReserve:       2 * time.Second,
	}
}

// ConfigFrom derives the policy from application settings.
func ConfigFrom(c common.ExtractionConfig) Config {
	return Config{
		DefaultBudget:     c.Budget - c.SafetyMargin,
		SafetyMargin:      c.SafetyMargin,
		Floor:             c.Floor,
		GenerativeCeiling: c.GenerativeCeiling,
		TextReserve:       c.TextReserve,
	}
}

// Recorder observes every attempt. *outcome.Recorder satisfies it.
type Recorder interface {
	Record(o entity.ExtractionOutcome)
}

// ExhaustedError is returned when no tier produced line items. It carries the
// full attempt log.
type ExhaustedError struct {
	Outcomes []entity.ExtractionOutcome
	Cause    error // set when the parent context ended the walk
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Outcomes))
	for _, o := range e.Outcomes {
		parts = append(parts, fmt.Sprintf("%s=%s", o.Tier, o.Status))
	}
	msg := fmt.Sprintf("%s: %s", common.ErrAllTiersExhausted, strings.Join(parts, ", "))
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ExhaustedError) Unwrap() []error {
	if e.Cause != nil {
		return []error{common.ErrAllTiersExhausted, e.Cause}
	}
	return []error{common.ErrAllTiersExhausted}
}

// Orchestrator is safe for concurrent use; all per-request state lives on the stack.
type Orchestrator struct {
	cfg    Config
	tiers  map[constants.TierID]tier.Tier
	logger *slog.Logger
}

// New registers tiers by their ID. Missing tiers are skipped at run time.
func New(cfg Config, tiers []tier.Tier, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.DefaultBudget <= 0 {
		cfg.DefaultBudget = def.DefaultBudget
	}
	if cfg.GenerativeCeiling <= 0 {
		cfg.GenerativeCeiling = def.GenerativeCeiling
	}
	if cfg.SafetyMargin < 0 {
		cfg.SafetyMargin = 0
	}
	if cfg.Floor < 0 {
		cfg.Floor = 0
	}
	if cfg.TextReserve < 0 {
		cfg.TextReserve = 0
	}
	m := make(map[constants.TierID]tier.Tier, len(tiers))
	for _, t := range tiers {
		if t != nil {
			m[t.ID()] = t
		}
	}
	return &Orchestrator{cfg: cfg, tiers: m, logger: logger}
}

// Plan returns the tiers that will be tried for the given strategy and
// remaining budget, in order.
func (o *Orchestrator) Plan(strategy constants.Strategy, remaining time.Duration) []constants.TierID {
	if remaining <= o.cfg.Floor {
		return o.available(constants.TierTextPattern)
	}
	ids := constants.TierPrecedence
	if strategy == constants.StrategyStructuredExtraction {
		ids = ids[1:]
	}
	return o.available(ids...)
}

func (o *Orchestrator) available(ids ...constants.TierID) []constants.TierID {
	out := make([]constants.TierID, 0, len(ids))
	for _, id := range ids {
		if _, ok := o.tiers[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// Extract runs the fallback walk. It returns the first non-empty batch, with
// its header filled from earlier attempts where the winner left it empty,
// or an *ExhaustedError.
func (o *Orchestrator) Extract(ctx context.Context, doc *document.RawDocument, traits document.Characteristics, rec Recorder) (*entity.LineItemBatch, error) {
	if dl, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.DefaultBudget)
		defer cancel()
	} else if m := o.cfg.SafetyMargin; m > 0 && time.Until(dl) > m {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, dl.Add(-m))
		defer cancel()
	}
	rid := common.RequestIDFromContext(ctx)
	in := tier.Input{Doc: doc, Traits: traits}

	remaining := common.Remaining(ctx, o.cfg.DefaultBudget)
	plan := o.Plan(traits.Strategy, remaining)
	o.logger.Info("orchestrator.start",
		"req_id", rid,
		"document", doc.Name(),
		"strategy", traits.Strategy,
		"remaining_ms", remaining.Milliseconds(),
		"plan", plan,
	)

	var (
		outcomes []entity.ExtractionOutcome
		header   entity.InvoiceHeader
	)
	for _, id := range plan {
		if err := ctx.Err(); err != nil {
			return nil, o.exhausted(rid, outcomes, err)
		}
		remaining = common.Remaining(ctx, o.cfg.DefaultBudget)
		budget, run := o.budget(id, remaining)
		if !run {
			o.logger.Info("orchestrator.tier.skipped", "req_id", rid, "tier", id, "remaining_ms", remaining.Milliseconds())
			continue
		}

		out := o.attempt(ctx, o.tiers[id], in, budget)
		outcomes = append(outcomes, out)
		if rec != nil {
			rec.Record(out)
		}
		o.log(rid, out)
		if out.Batch != nil {
			header = header.Merge(out.Batch.Header)
		}
		if out.Succeeded() {
			win := out.Batch
			win.Header = win.Header.Merge(header)
			return win, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, o.exhausted(rid, outcomes, err)
		}
	}
	return nil, o.exhausted(rid, outcomes, nil)
}

// budget returns the sub-budget for tier id, or false when the tier must be
// skipped. Zero means bounded by the parent deadline only.
func (o *Orchestrator) budget(id constants.TierID, remaining time.Duration) (time.Duration, bool) {
	if !id.External() {
		return 0, true
	}
	if remaining <= o.cfg.Floor {
		return 0, false
	}
	b := remaining - o.cfg.TextReserve
	if id == constants.TierGenerative {
		b = min(b, o.cfg.GenerativeCeiling)
	}
	return b, b > 0
}

type result struct {
	batch *entity.LineItemBatch
	err   error
}

// attempt runs one tier behind a timeout boundary. When the boundary fires
// the tier goroutine is abandoned; its late result is discarded.
func (o *Orchestrator) attempt(ctx context.Context, t tier.Tier, in tier.Input, budget time.Duration) entity.ExtractionOutcome {
	start := time.Now()
	tctx, cancel := ctx, context.CancelFunc(func() {})
	if budget > 0 {
		tctx, cancel = context.WithTimeout(ctx, budget)
	}
	defer cancel()

	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("tier panic: %v", r)}
			}
		}()
		b, err := t.Attempt(tctx, in)
		ch <- result{batch: b, err: err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-tctx.Done():
		select {
		case res = <-ch:
		default:
			res = result{err: tctx.Err()}
		}
	}

	out := entity.ExtractionOutcome{
		Tier:      t.ID(),
		StartedAt: start,
		Duration:  time.Since(start),
		Budget:    budget,
	}
	switch {
	case res.err != nil && common.IsDeadline(res.err):
		out.Status = constants.OutcomeTimeout
		out.Reason = res.err.Error()
	case res.err != nil:
		out.Status = constants.OutcomeError
		out.Reason = res.err.Error()
	case res.batch.Len() == 0:
		out.Status = constants.OutcomeEmpty
		out.Reason = common.ErrTierEmpty.Error()
		out.Batch = res.batch
	default:
		out.Status = constants.OutcomeSuccess
		if res.batch.SourceTier == "" {
			res.batch.SourceTier = t.ID()
		}
		out.Batch = res.batch
		out.Items = res.batch.Len()
	}
	return out
}

func (o *Orchestrator) log(rid string, out entity.ExtractionOutcome) {
	attrs := []any{
		"req_id", rid,
		"tier", out.Tier,
		"budget_ms", out.Budget.Milliseconds(),
		"elapsed_ms", out.Duration.Milliseconds(),
	}
	switch out.Status {
	case constants.OutcomeSuccess:
		o.logger.Info("orchestrator.tier.ok", append(attrs, "items", out.Items)...)
	case constants.OutcomeTimeout:
		o.logger.Warn("orchestrator.tier.timeout", attrs...)
	case constants.OutcomeEmpty:
		o.logger.Warn("orchestrator.tier.empty", attrs...)
	default:
		o.logger.Warn("orchestrator.tier.error", append(attrs, "reason", out.Reason)...)
	}
}

func (o *Orchestrator) exhausted(rid string, outcomes []entity.ExtractionOutcome, cause error) error {
	o.logger.Error("orchestrator.exhausted", "req_id", rid, "attempts", len(outcomes), "cause", cause)
	return &ExhaustedError{Outcomes: outcomes, Cause: cause}
}

// IsExhausted reports whether err is (or wraps) an ExhaustedError and returns it.
func IsExhausted(err error) (*ExhaustedError, bool) {
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		return ex, true
	}
	return nil, false
}
