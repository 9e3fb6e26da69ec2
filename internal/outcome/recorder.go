// Package outcome collects the per-tier attempt log of one request and
// flushes it to sinks when the request ends.
package outcome

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

// Report is the flushed view of one request.
type Report struct {
	RequestID     string                     `json:"request_id"`
	Document      string                     `json:"document"`
	StartedAt     time.Time                  `json:"started_at"`
	Total         time.Duration              `json:"total"`
	Winner        constants.TierID           `json:"winner,omitempty"`
	LowConfidence bool                       `json:"low_confidence"`
	Flags         []string                   `json:"flags,omitempty"`
	Outcomes      []entity.ExtractionOutcome `json:"outcomes"`
}

// Exhausted reports whether no tier produced a batch.
func (r Report) Exhausted() bool { return r.Winner == "" }

// Recorder is owned by one request. Outcomes are append-only and kept in
// attempt order.
type Recorder struct {
	mu        sync.Mutex
	requestID string
	document  string
	startedAt time.Time
	outcomes  []entity.ExtractionOutcome
	flags     []string
	lowConf   bool
	flushed   bool
	sink      Sink
	logger    *slog.Logger
}

// NewRecorder starts a recorder. An empty requestID gets a fresh UUID; a nil
// sink discards the report.
func NewRecorder(requestID, document string, sink Sink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if requestID == "" {
		requestID = uuid.New().String()
	}
	return &Recorder{
		requestID: requestID,
		document:  document,
		startedAt: time.Now(),
		sink:      sink,
		logger:    logger,
	}
}

func (r *Recorder) RequestID() string { return r.requestID }

// Record appends one attempt. Records after Flush are dropped.
func (r *Recorder) Record(o entity.ExtractionOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.flushed {
		r.logger.Warn("outcome.record.after_flush", "req_id", r.requestID, "tier", o.Tier)
		return
	}
	r.outcomes = append(r.outcomes, o)
}

// Flag attaches a degraded-confidence note to the request.
func (r *Recorder) Flag(flag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flags = append(r.flags, flag)
}

// SetLowConfidence records the request's final confidence verdict. Flags
// alone do not imply it.
func (r *Recorder) SetLowConfidence(low bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lowConf = low
}

// Outcomes returns a copy of the attempt log.
func (r *Recorder) Outcomes() []entity.ExtractionOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entity.ExtractionOutcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

func (r *Recorder) Flags() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.flags...)
}

// Report builds the current report without flushing.
func (r *Recorder) Report() Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reportLocked()
}

func (r *Recorder) reportLocked() Report {
	rep := Report{
		RequestID:     r.requestID,
		Document:      r.document,
		StartedAt:     r.startedAt,
		Total:         time.Since(r.startedAt),
		Flags:         append([]string(nil), r.flags...),
		LowConfidence: r.lowConf,
		Outcomes:      make([]entity.ExtractionOutcome, len(r.outcomes)),
	}
	copy(rep.Outcomes, r.outcomes)
	for _, o := range r.outcomes {
		if o.Status == constants.OutcomeSuccess {
			rep.Winner = o.Tier
		}
	}
	return rep
}

// Flush writes the report to the sink exactly once. Later calls are no-ops.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	if r.flushed {
		r.mu.Unlock()
		return nil
	}
	r.flushed = true
	rep := r.reportLocked()
	r.mu.Unlock()

	if r.sink == nil {
		return nil
	}
	if err := r.sink.Write(ctx, rep); err != nil {
		r.logger.Error("outcome.flush.failed", "req_id", r.requestID, "error", err)
		return err
	}
	return nil
}
