package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/joseph-ayodele/invoice-extractor/constants"
	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
	"github.com/joseph-ayodele/invoice-extractor/internal/outcome"
)

// TierSummary aggregates stored attempts of one tier.
type TierSummary struct {
	Tier         constants.TierID
	Attempts     int
	Successes    int
	Timeouts     int
	AvgElapsedMS float64
}

// OutcomeRepository persists flushed request reports. It implements outcome.Sink.
type OutcomeRepository struct {
	db     *DB
	logger *slog.Logger
}

var _ outcome.Sink = (*OutcomeRepository)(nil)

func NewOutcomeRepository(db *DB, logger *slog.Logger) *OutcomeRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutcomeRepository{db: db, logger: logger}
}

// Write stores one report and its attempts in a single transaction.
func (r *OutcomeRepository) Write(ctx context.Context, rep outcome.Report) (err error) {
	flags, err := json.Marshal(nonNil(rep.Flags))
	if err != nil {
		return r.fail("encode flags", rep.RequestID, err)
	}

	tx, err := r.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return r.fail("begin", rep.RequestID, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				r.logger.Error("outcome rollback failed", "req_id", rep.RequestID, "error", rbErr)
			}
		}
	}()

	b := r.db.builder()
	_, err = b.Insert("extraction_request").
		Columns("request_id", "document", "started_at_ms", "total_ms", "winner", "low_confidence", "flags").
		Values(rep.RequestID, rep.Document, rep.StartedAt.UnixMilli(), rep.Total.Milliseconds(),
			string(rep.Winner), rep.LowConfidence, string(flags)).
		RunWith(tx).
		ExecContext(ctx)
	if err != nil {
		return r.fail("insert request", rep.RequestID, err)
	}

	if len(rep.Outcomes) > 0 {
		ins := b.Insert("extraction_outcome").
			Columns("request_id", "seq", "tier", "status", "reason", "items", "budget_ms", "elapsed_ms", "started_at_ms")
		for i, o := range rep.Outcomes {
			ins = ins.Values(rep.RequestID, i+1, string(o.Tier), string(o.Status), o.Reason, o.Items,
				o.Budget.Milliseconds(), o.Duration.Milliseconds(), o.StartedAt.UnixMilli())
		}
		if _, err = ins.RunWith(tx).ExecContext(ctx); err != nil {
			return r.fail("insert outcomes", rep.RequestID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return r.fail("commit", rep.RequestID, err)
	}
	r.logger.Debug("outcome.persisted", "req_id", rep.RequestID, "attempts", len(rep.Outcomes))
	return nil
}

// Outcomes returns the stored attempts of one request in order.
func (r *OutcomeRepository) Outcomes(ctx context.Context, requestID string) ([]entity.ExtractionOutcome, error) {
	rows, err := r.db.builder().
		Select("tier", "status", "reason", "items", "budget_ms", "elapsed_ms", "started_at_ms").
		From("extraction_outcome").
		Where(sq.Eq{"request_id": requestID}).
		OrderBy("seq").
		RunWith(r.db.SQL).
		QueryContext(ctx)
	if err != nil {
		return nil, r.fail("select outcomes", requestID, err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			r.logger.Error("failed to close rows", "error", err)
		}
	}(rows)

	var out []entity.ExtractionOutcome
	for rows.Next() {
		var (
			o                    entity.ExtractionOutcome
			tier, status         string
			budget, elapsed, sms int64
		)
		if err := rows.Scan(&tier, &status, &o.Reason, &o.Items, &budget, &elapsed, &sms); err != nil {
			return nil, r.fail("scan outcome", requestID, err)
		}
		o.Tier = constants.TierID(tier)
		o.Status = constants.OutcomeStatus(status)
		o.Budget = time.Duration(budget) * time.Millisecond
		o.Duration = time.Duration(elapsed) * time.Millisecond
		o.StartedAt = time.UnixMilli(sms)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, r.fail("iterate outcomes", requestID, err)
	}
	if len(out) == 0 {
		exists, err := r.requestExists(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("request %s: %w", requestID, common.ErrNotFound)
		}
	}
	return out, nil
}

func (r *OutcomeRepository) requestExists(ctx context.Context, requestID string) (bool, error) {
	var n int
	err := r.db.builder().
		Select("COUNT(*)").
		From("extraction_request").
		Where(sq.Eq{"request_id": requestID}).
		RunWith(r.db.SQL).
		QueryRowContext(ctx).
		Scan(&n)
	if err != nil {
		return false, r.fail("count request", requestID, err)
	}
	return n > 0, nil
}

// TierSummary aggregates all stored attempts per tier, in tier precedence order.
func (r *OutcomeRepository) TierSummary(ctx context.Context) ([]TierSummary, error) {
	rows, err := r.db.builder().
		Select(
			"tier",
			"COUNT(*)",
			fmt.Sprintf("SUM(CASE WHEN status = '%s' THEN 1 ELSE 0 END)", constants.OutcomeSuccess),
			fmt.Sprintf("SUM(CASE WHEN status = '%s' THEN 1 ELSE 0 END)", constants.OutcomeTimeout),
			"AVG(CAST(elapsed_ms AS DOUBLE PRECISION))",
		).
		From("extraction_outcome").
		GroupBy("tier").
		RunWith(r.db.SQL).
		QueryContext(ctx)
	if err != nil {
		return nil, r.fail("tier summary", "", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			r.logger.Error("failed to close rows", "error", err)
		}
	}(rows)

	byTier := make(map[constants.TierID]TierSummary)
	for rows.Next() {
		var (
			s    TierSummary
			tier string
		)
		if err := rows.Scan(&tier, &s.Attempts, &s.Successes, &s.Timeouts, &s.AvgElapsedMS); err != nil {
			return nil, r.fail("scan tier summary", "", err)
		}
		s.Tier = constants.TierID(tier)
		byTier[s.Tier] = s
	}
	if err := rows.Err(); err != nil {
		return nil, r.fail("iterate tier summary", "", err)
	}

	out := make([]TierSummary, 0, len(byTier))
	for _, id := range constants.TierPrecedence {
		if s, ok := byTier[id]; ok {
			out = append(out, s)
			delete(byTier, id)
		}
	}
	for _, s := range byTier {
		out = append(out, s)
	}
	return out, nil
}

func (r *OutcomeRepository) fail(op, requestID string, err error) error {
	r.logger.Error("outcome store failed", "op", op, "req_id", requestID, "error", err)
	return common.NewAppError(common.CodeOutcomePersistence, op, fmt.Errorf("%w: %w", common.ErrDatabase, err))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
