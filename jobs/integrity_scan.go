package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

// IntegrityChecker validates committed clearing results against the ledger:
// every posted clearing entry must balance, and no open line may be
// reconciled beyond its original balance.
type IntegrityChecker struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	metrics *Metrics
}

func NewIntegrityChecker(pool *pgxpool.Pool, logger *slog.Logger, metrics *Metrics) *IntegrityChecker {
	return &IntegrityChecker{pool: pool, logger: logger, metrics: metrics}
}

// HandleTask processes TaskClearingIntegrity tasks.
func (c *IntegrityChecker) HandleTask(ctx context.Context, t *asynq.Task) error {
	var payload ClearingIntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	asOf := payload.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}
	return c.Run(ctx, asOf)
}

// Run executes both checks concurrently and logs every violation. The scan
// reports the problem; it never mutates data.
func (c *IntegrityChecker) Run(ctx context.Context, asOf time.Time) error {
	tracker := c.metrics.Track("clearing_integrity")
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return c.checkEntryBalance(ctx, asOf) })
	group.Go(func() error { return c.checkReconciliationOvershoot(ctx) })
	if err := tracker.End(group.Wait()); err != nil {
		return fmt.Errorf("jobs: clearing integrity: %w", err)
	}
	c.logger.Info("clearing integrity scan finished", slog.Time("as_of", asOf))
	return nil
}

func (c *IntegrityChecker) checkEntryBalance(ctx context.Context, asOf time.Time) error {
	rows, err := c.pool.Query(ctx, `
		SELECT e.id, SUM(l.debit), SUM(l.credit)
		FROM clearing_entries e
		JOIN clearing_entry_lines l ON l.entry_id = e.id
		WHERE e.status = 'POSTED' AND e.date <= $1
		GROUP BY e.id
		HAVING ABS(SUM(l.debit) - SUM(l.credit)) > 0.005`, asOf)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var entryID int64
		var debit, credit float64
		if err := rows.Scan(&entryID, &debit, &credit); err != nil {
			return err
		}
		c.logger.Error("unbalanced clearing entry",
			slog.Int64("entry_id", entryID),
			slog.Float64("debit", debit),
			slog.Float64("credit", credit))
		c.metrics.AddViolations("entry_balance", 1)
	}
	return rows.Err()
}

func (c *IntegrityChecker) checkReconciliationOvershoot(ctx context.Context) error {
	rows, err := c.pool.Query(ctx, `
		SELECT r.settled_line_id, SUM(r.amount), ABS(l.debit - l.credit)
		FROM reconciliations r
		JOIN ledger_lines l ON l.id = r.settled_line_id
		GROUP BY r.settled_line_id, l.debit, l.credit
		HAVING SUM(r.amount) > ABS(l.debit - l.credit) + 0.005`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var lineID int64
		var reconciled, balance float64
		if err := rows.Scan(&lineID, &reconciled, &balance); err != nil {
			return err
		}
		c.logger.Error("ledger line reconciled beyond its balance",
			slog.Int64("line_id", lineID),
			slog.Float64("reconciled", reconciled),
			slog.Float64("balance", balance))
		c.metrics.AddViolations("reconciliation_overshoot", 1)
	}
	return rows.Err()
}
