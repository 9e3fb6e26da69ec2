package outcome

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type captureSink struct {
	mu      sync.Mutex
	reports []Report
	err     error
}

func (c *captureSink) Write(_ context.Context, r Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
	return c.err
}

func attempt(tier constants.TierID, status constants.OutcomeStatus) entity.ExtractionOutcome {
	return entity.ExtractionOutcome{Tier: tier, Status: status, StartedAt: time.Now(), Duration: 10 * time.Millisecond}
}

func TestRecorderKeepsOrderAndFlushesOnce(t *testing.T) {
	t.Parallel()
	sink := &captureSink{}
	r := NewRecorder("", "inv.pdf", sink, quiet)
	if r.RequestID() == "" {
		t.Fatal("request id not generated")
	}
	r.Record(attempt(constants.TierGenerative, constants.OutcomeTimeout))
	r.Record(attempt(constants.TierEntities, constants.OutcomeError))
	r.Record(attempt(constants.TierTables, constants.OutcomeSuccess))
	r.Flag("duplicate quantity/price pair")
	r.SetLowConfidence(true)

	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("second Flush: %v", err)
	}
	r.Record(attempt(constants.TierTextPattern, constants.OutcomeEmpty))

	if len(sink.reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(sink.reports))
	}
	rep := sink.reports[0]
	want := []constants.TierID{constants.TierGenerative, constants.TierEntities, constants.TierTables}
	if len(rep.Outcomes) != len(want) {
		t.Fatalf("outcomes = %+v", rep.Outcomes)
	}
	for i, id := range want {
		if rep.Outcomes[i].Tier != id {
			t.Errorf("outcome %d tier = %s, want %s", i, rep.Outcomes[i].Tier, id)
		}
	}
	if rep.Winner != constants.TierTables || rep.Exhausted() || !rep.LowConfidence {
		t.Errorf("report = %+v", rep)
	}
	if got := len(r.Outcomes()); got != 3 {
		t.Errorf("outcomes after flush = %d, want 3", got)
	}
}

func TestRecorderConcurrentRecord(t *testing.T) {
	t.Parallel()
	r := NewRecorder("req-1", "doc", nil, quiet)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Record(attempt(constants.TierTextPattern, constants.OutcomeEmpty))
		}()
	}
	wg.Wait()
	if n := len(r.Outcomes()); n != 50 {
		t.Errorf("outcomes = %d, want 50", n)
	}
	if err := r.Flush(context.Background()); err != nil {
		t.Errorf("Flush with nil sink: %v", err)
	}
}

func TestMultiSinkJoinsErrorsAndStats(t *testing.T) {
	t.Parallel()
	stats := NewStats()
	bad := &captureSink{err: errors.New("disk full")}
	sink := MultiSink{LogSink{Logger: quiet}, stats, bad, nil}

	r1 := NewRecorder("a", "one", sink, quiet)
	r1.Record(attempt(constants.TierGenerative, constants.OutcomeTimeout))
	r1.Record(attempt(constants.TierEntities, constants.OutcomeSuccess))
	if err := r1.Flush(context.Background()); err == nil {
		t.Fatal("expected joined sink error")
	}

	r2 := NewRecorder("b", "two", sink, quiet)
	r2.Record(attempt(constants.TierTextPattern, constants.OutcomeEmpty))
	_ = r2.Flush(context.Background())

	req, exhausted, flagged := stats.Totals()
	if req != 2 || exhausted != 1 || flagged != 0 {
		t.Errorf("totals = %d/%d/%d", req, exhausted, flagged)
	}
	a := stats.Tier(constants.TierGenerative)
	if a.Attempts != 1 || a.ByStatus[constants.OutcomeTimeout] != 1 {
		t.Errorf("tier A stats = %+v", a)
	}
	if c := stats.Tier(constants.TierTables); c.Attempts != 0 {
		t.Errorf("tier C stats = %+v", c)
	}
}

func TestRecorderFlagDoesNotImplyLowConfidence(t *testing.T) {
	t.Parallel()
	r := NewRecorder("r1", "doc", nil, quiet)
	r.Flag("unparsed_date")
	if rep := r.Report(); rep.LowConfidence || len(rep.Flags) != 1 {
		t.Fatalf("report = %+v, want flag kept without low confidence", rep)
	}
	r.SetLowConfidence(true)
	if !r.Report().LowConfidence {
		t.Fatal("SetLowConfidence(true) not reflected in report")
	}
}
