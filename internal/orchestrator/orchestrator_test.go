package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/document"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/tier"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

var generative = document.Characteristics{Complexity: 0.2, Strategy: constants.StrategyGenerative}

func testConfig() Config {
	return Config{
		DefaultBudget:     time.Second,
		Floor:             0,
		GenerativeCeiling: 50 * time.Millisecond,
		TextReserve:       10 * time.Millisecond,
	}
}

func doc() *document.RawDocument {
	return document.New("inv.txt", []byte("DF6802 8 12.50"), "DF6802 8 12.50")
}

func items(codes ...string) *entity.LineItemBatch {
	b := &entity.LineItemBatch{}
	for _, c := range codes {
		b.Items = append(b.Items, entity.LineItem{ProductCode: c, Quantity: entity.IntPtr(1)})
	}
	return b
}

// counting wraps fn and counts calls.
type counting struct {
	calls atomic.Int32
}

func (c *counting) tier(id constants.TierID, fn func(ctx context.Context) (*entity.LineItemBatch, error)) tier.Tier {
	return tier.Func{TierID: id, Fn: func(ctx context.Context, _ tier.Input) (*entity.LineItemBatch, error) {
		c.calls.Add(1)
		return fn(ctx)
	}}
}

func returns(b *entity.LineItemBatch, err error) func(context.Context) (*entity.LineItemBatch, error) {
	return func(context.Context) (*entity.LineItemBatch, error) { return b, err }
}

func hangs(ctx context.Context) (*entity.LineItemBatch, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type recorder struct {
	mu  sync.Mutex
	got []entity.ExtractionOutcome
}

func (r *recorder) Record(o entity.ExtractionOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, o)
}

func (r *recorder) statuses() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	parts := make([]string, len(r.got))
	for i, o := range r.got {
		parts[i] = string(o.Tier) + ":" + string(o.Status)
	}
	return strings.Join(parts, ",")
}

func TestFirstSuccessWins(t *testing.T) {
	t.Parallel()
	var a, b, c, d counting
	o := New(testConfig(), []tier.Tier{
		d.tier(constants.TierTextPattern, returns(items("X4"), nil)),
		b.tier(constants.TierEntities, returns(items("X1"), nil)),
		c.tier(constants.TierTables, returns(items("X3"), nil)),
		a.tier(constants.TierGenerative, returns(items("DF6802"), nil)),
	}, quiet)

	rec := &recorder{}
	batch, err := o.Extract(context.Background(), doc(), generative, rec)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if batch.SourceTier != constants.TierGenerative || batch.Items[0].ProductCode != "DF6802" {
		t.Fatalf("winner = %+v", batch)
	}
	if a.calls.Load() != 1 {
		t.Errorf("tier A calls = %d, want 1", a.calls.Load())
	}
	for name, later := range map[string]*counting{"B": &b, "C": &c, "D": &d} {
		if n := later.calls.Load(); n != 0 {
			t.Errorf("tier %s ran %d times after A succeeded", name, n)
		}
	}
	if got := rec.statuses(); got != "A_generative:SUCCESS" {
		t.Errorf("outcomes = %s", got)
	}
}

func TestFallbackOnEveryFailureKind(t *testing.T) {
	t.Parallel()
	var c counting
	o := New(testConfig(), []tier.Tier{
		c.tier(constants.TierGenerative, returns(&entity.LineItemBatch{}, nil)),
		c.tier(constants.TierEntities, returns(nil, common.ServiceErrorf(errors.New("boom"), "docai"))),
		c.tier(constants.TierTables, returns(nil, nil)),
		c.tier(constants.TierTextPattern, returns(items("AB1234"), nil)),
	}, quiet)

	rec := &recorder{}
	batch, err := o.Extract(context.Background(), doc(), generative, rec)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if batch.SourceTier != constants.TierTextPattern {
		t.Errorf("source tier = %s", batch.SourceTier)
	}
	want := "A_generative:EMPTY,B_entities:ERROR,C_tables:EMPTY,D_text_pattern:SUCCESS"
	if got := rec.statuses(); got != want {
		t.Errorf("outcomes = %s, want %s", got, want)
	}
}

func TestTimeoutAdvancesToNextTier(t *testing.T) {
	t.Parallel()
	var c counting
	o := New(testConfig(), []tier.Tier{
		c.tier(constants.TierGenerative, hangs),
		c.tier(constants.TierEntities, returns(items("X1"), nil)),
	}, quiet)

	rec := &recorder{}
	batch, err := o.Extract(context.Background(), doc(), generative, rec)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if batch.SourceTier != constants.TierEntities {
		t.Errorf("source tier = %s", batch.SourceTier)
	}
	if got := rec.statuses(); got != "A_generative:TIMEOUT,B_entities:SUCCESS" {
		t.Errorf("outcomes = %s", got)
	}
	if a := rec.got[0]; a.Budget != 50*time.Millisecond {
		t.Errorf("generative budget = %v, want ceiling", a.Budget)
	}
}

func TestUncooperativeTierIsAbandoned(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	defer close(release)
	var c counting
	o := New(testConfig(), []tier.Tier{
		c.tier(constants.TierGenerative, func(context.Context) (*entity.LineItemBatch, error) {
			<-release
			return items("LATE"), nil
		}),
		c.tier(constants.TierTextPattern, returns(items("AB1234"), nil)),
	}, quiet)

	start := time.Now()
	batch, err := o.Extract(context.Background(), doc(), generative, nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if batch.Items[0].ProductCode != "AB1234" {
		t.Errorf("late result leaked: %+v", batch.Items)
	}
	if el := time.Since(start); el > 500*time.Millisecond {
		t.Errorf("walk took %v", el)
	}
}

func TestSharedDeadlineIsConserved(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.GenerativeCeiling = time.Second
	cfg.TextReserve = 40 * time.Millisecond
	var c counting
	o := New(cfg, []tier.Tier{
		c.tier(constants.TierGenerative, hangs),
		c.tier(constants.TierEntities, hangs),
		c.tier(constants.TierTables, hangs),
		c.tier(constants.TierTextPattern, returns(items("AB1234"), nil)),
	}, quiet)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	rec := &recorder{}
	batch, err := o.Extract(ctx, doc(), generative, rec)
	if err != nil {
		t.Fatalf("Extract: %v (outcomes %s)", err, rec.statuses())
	}
	if batch.SourceTier != constants.TierTextPattern {
		t.Errorf("source tier = %s", batch.SourceTier)
	}
	if el := time.Since(start); el > 200*time.Millisecond {
		t.Errorf("walk overran the parent deadline: %v", el)
	}
	for _, out := range rec.got {
		if out.Tier.External() && out.Status != constants.OutcomeTimeout {
			t.Errorf("%s status = %s", out.Tier, out.Status)
		}
	}
}

func TestFloorSkipsExternalTiers(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Floor = time.Second
	var ext, text counting
	o := New(cfg, []tier.Tier{
		ext.tier(constants.TierGenerative, returns(items("A"), nil)),
		ext.tier(constants.TierEntities, returns(items("B"), nil)),
		text.tier(constants.TierTextPattern, returns(items("D"), nil)),
	}, quiet)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	batch, err := o.Extract(ctx, doc(), generative, nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if ext.calls.Load() != 0 || text.calls.Load() != 1 {
		t.Errorf("calls external=%d text=%d", ext.calls.Load(), text.calls.Load())
	}
	if batch.SourceTier != constants.TierTextPattern {
		t.Errorf("source tier = %s", batch.SourceTier)
	}
}

func TestStructuredStrategySkipsGenerative(t *testing.T) {
	t.Parallel()
	var a, b counting
	o := New(testConfig(), []tier.Tier{
		a.tier(constants.TierGenerative, returns(items("A"), nil)),
		b.tier(constants.TierEntities, returns(items("B"), nil)),
	}, quiet)

	traits := document.Characteristics{Complexity: 0.9, Strategy: constants.StrategyStructuredExtraction}
	if _, err := o.Extract(context.Background(), doc(), traits, nil); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if a.calls.Load() != 0 || b.calls.Load() != 1 {
		t.Errorf("calls A=%d B=%d", a.calls.Load(), b.calls.Load())
	}
	want := []constants.TierID{constants.TierEntities}
	if got := o.Plan(traits.Strategy, time.Minute); len(got) != 1 || got[0] != want[0] {
		t.Errorf("Plan = %v", got)
	}
}

func TestAllTiersExhausted(t *testing.T) {
	t.Parallel()
	var c counting
	o := New(testConfig(), []tier.Tier{
		c.tier(constants.TierGenerative, returns(nil, errors.New("bad key"))),
		c.tier(constants.TierEntities, returns(&entity.LineItemBatch{}, nil)),
		c.tier(constants.TierTables, returns(&entity.LineItemBatch{}, nil)),
		c.tier(constants.TierTextPattern, returns(&entity.LineItemBatch{}, nil)),
	}, quiet)

	_, err := o.Extract(context.Background(), doc(), generative, nil)
	if !errors.Is(err, common.ErrAllTiersExhausted) {
		t.Fatalf("err = %v, want exhausted", err)
	}
	ex, ok := IsExhausted(err)
	if !ok || len(ex.Outcomes) != 4 {
		t.Fatalf("exhausted error = %#v", err)
	}
	if ex.Outcomes[0].Status != constants.OutcomeError || !strings.Contains(ex.Outcomes[0].Reason, "bad key") {
		t.Errorf("first outcome = %+v", ex.Outcomes[0])
	}
}

func TestParentCancellationStopsWalk(t *testing.T) {
	t.Parallel()
	var c counting
	o := New(testConfig(), []tier.Tier{
		c.tier(constants.TierTextPattern, returns(items("D"), nil)),
	}, quiet)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Extract(ctx, doc(), generative, nil)
	if !errors.Is(err, context.Canceled) || !errors.Is(err, common.ErrAllTiersExhausted) {
		t.Fatalf("err = %v", err)
	}
	if c.calls.Load() != 0 {
		t.Errorf("tier ran after cancellation")
	}
}

func TestPanickingTierIsContained(t *testing.T) {
	t.Parallel()
	var c counting
	o := New(testConfig(), []tier.Tier{
		c.tier(constants.TierGenerative, func(context.Context) (*entity.LineItemBatch, error) {
			panic("nil map")
		}),
		c.tier(constants.TierEntities, returns(items("B"), nil)),
	}, quiet)

	rec := &recorder{}
	if _, err := o.Extract(context.Background(), doc(), generative, rec); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if rec.got[0].Status != constants.OutcomeError || !strings.Contains(rec.got[0].Reason, "panic") {
		t.Errorf("panic outcome = %+v", rec.got[0])
	}
}

func TestHeaderCarriedFromEarlierAttempts(t *testing.T) {
	t.Parallel()
	empty := &entity.LineItemBatch{Header: entity.InvoiceHeader{Vendor: "Northwind Home & Garden", InvoiceNumber: "A-1009"}}
	win := items("DF6802")
	win.Header = entity.InvoiceHeader{InvoiceNumber: "A-1009-X", OrderDate: "01/17/2025"}
	var c counting
	o := New(testConfig(), []tier.Tier{
		c.tier(constants.TierGenerative, returns(empty, nil)),
		c.tier(constants.TierTextPattern, returns(win, nil)),
	}, quiet)

	batch, err := o.Extract(context.Background(), doc(), generative, nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := entity.InvoiceHeader{OrderDate: "01/17/2025", Vendor: "Northwind Home & Garden", InvoiceNumber: "A-1009-X"}
	if batch.Header != want {
		t.Errorf("header = %+v, want %+v", batch.Header, want)
	}
}

func TestSafetyMarginShortensCallerDeadline(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.SafetyMargin = 100 * time.Millisecond
	var left time.Duration
	o := New(cfg, []tier.Tier{
		tier.Func{TierID: constants.TierTextPattern, Fn: func(ctx context.Context, _ tier.Input) (*entity.LineItemBatch, error) {
			dl, _ := ctx.Deadline()
			left = time.Until(dl)
			return items("D"), nil
		}},
	}, quiet)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, err := o.Extract(ctx, doc(), generative, nil); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if left > 200*time.Millisecond {
		t.Errorf("tier saw %v, want at most 200ms", left)
	}
}
