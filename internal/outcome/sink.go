package outcome

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/invoice-extractor/constants"
)

// Sink receives flushed reports.
type Sink interface {
	Write(ctx context.Context, r Report) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r Report) error

func (f SinkFunc) Write(ctx context.Context, r Report) error { return f(ctx, r) }

// MultiSink writes to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, r Report) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Write(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink logs one summary line per report plus one line per attempt at debug level.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Write(_ context.Context, r Report) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for i, o := range r.Outcomes {
		logger.Debug("outcome.attempt",
			"req_id", r.RequestID,
			"seq", i+1,
			"tier", o.Tier,
			"status", o.Status,
			"reason", o.Reason,
			"items", o.Items,
			"budget_ms", o.Budget.Milliseconds(),
			"elapsed_ms", o.Duration.Milliseconds(),
		)
	}
	logger.Info("outcome.report",
		"req_id", r.RequestID,
		"document", r.Document,
		"winner", r.Winner,
		"attempts", len(r.Outcomes),
		"low_confidence", r.LowConfidence,
		"flags", r.Flags,
		"elapsed_ms", r.Total.Milliseconds(),
	)
	return nil
}

// TierStats aggregates attempts of one tier.
type TierStats struct {
	Attempts int
	ByStatus map[constants.OutcomeStatus]int
	Elapsed  time.Duration
}

// Stats is a process-wide sink keeping per-tier counters for tuning budgets.
type Stats struct {
	mu        sync.Mutex
	tiers     map[constants.TierID]*TierStats
	requests  int
	exhausted int
	flagged   int
}

func NewStats() *Stats {
	return &Stats{tiers: map[constants.TierID]*TierStats{}}
}

func (s *Stats) Write(_ context.Context, r Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	if r.Exhausted() {
		s.exhausted++
	}
	if r.LowConfidence {
		s.flagged++
	}
	for _, o := range r.Outcomes {
		ts, ok := s.tiers[o.Tier]
		if !ok {
			ts = &TierStats{ByStatus: map[constants.OutcomeStatus]int{}}
			s.tiers[o.Tier] = ts
		}
		ts.Attempts++
		ts.ByStatus[o.Status]++
		ts.Elapsed += o.Duration
	}
	return nil
}

// Tier returns a copy of the counters for one tier.
func (s *Stats) Tier(id constants.TierID) TierStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.tiers[id]
	if !ok {
		return TierStats{ByStatus: map[constants.OutcomeStatus]int{}}
	}
	out := TierStats{Attempts: ts.Attempts, Elapsed: ts.Elapsed, ByStatus: make(map[constants.OutcomeStatus]int, len(ts.ByStatus))}
	for k, v := range ts.ByStatus {
		out.ByStatus[k] = v
	}
	return out
}

// Totals returns request, exhausted and low-confidence counts.
func (s *Stats) Totals() (requests, exhausted, flagged int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests, s.exhausted, s.flagged
}
