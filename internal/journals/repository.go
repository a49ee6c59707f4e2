package journals

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

var (
	ErrEntryNotFound      = errors.New("journals: entry not found")
	ErrSourceConflict     = errors.New("journals: source already linked to an entry")
	ErrAlreadyReconciled  = errors.New("journals: line already reconciled")
	ErrInvalidEntryStatus = errors.New("journals: invalid status for operation")
	ErrOverReconciled     = errors.New("journals: settlement exceeds line residual")
)

// Repository encapsulates DB operations for clearing entries.
type Repository interface {
	GetEntryWithLines(ctx context.Context, entryID int64) (Entry, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the sink operations available within one transaction.
// Commit of a clearing run creates, posts, reconciles and settles through
// this in a single all-or-nothing scope.
type TxRepository interface {
	InsertEntry(ctx context.Context, in PostingInput) (Entry, error)
	InsertLines(ctx context.Context, entryID int64, lines []PostingLineInput) ([]int64, error)
	PostEntry(ctx context.Context, entryID int64) error
	LinkSource(ctx context.Context, module string, ref uuid.UUID, entryID int64) error
	InsertReconciliation(ctx context.Context, entryLineID, settledLineID int64, amount float64) (int64, error)
	SettleLine(ctx context.Context, settledLineID int64, amount float64, reconcileID int64) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) GetEntryWithLines(ctx context.Context, entryID int64) (Entry, error) {
	var entry Entry
	err := r.db.QueryRow(ctx, `SELECT id, number, journal_id, date, reference, currency, source_module, source_id, posted_by, posted_at, status, created_at, updated_at
FROM clearing_entries WHERE id=$1`, entryID).
		Scan(&entry.ID, &entry.Number, &entry.JournalID, &entry.Date, &entry.Reference, &entry.Currency, &entry.SourceModule, &entry.SourceID, &entry.PostedBy, &entry.PostedAt, &entry.Status, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrEntryNotFound
		}
		return Entry{}, err
	}
	rows, err := r.db.Query(ctx, `SELECT id, entry_id, account_id, partner_id, label, debit, credit, currency, created_at
FROM clearing_entry_lines WHERE entry_id=$1 ORDER BY id ASC`, entryID)
	if err != nil {
		return Entry{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.EntryID, &line.AccountID, &line.PartnerID, &line.Label, &line.Debit, &line.Credit, &line.Currency, &line.CreatedAt); err != nil {
			return Entry{}, err
		}
		entry.Lines = append(entry.Lines, line)
	}
	return entry, rows.Err()
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) InsertEntry(ctx context.Context, in PostingInput) (Entry, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO clearing_entries (journal_id, date, reference, currency, source_module, source_id, posted_by, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,'DRAFT') RETURNING id, number, created_at, updated_at`,
		in.JournalID, in.Date, in.Reference, in.Currency, in.SourceModule, in.SourceID, nullInt(in.PostedBy))
	entry := Entry{
		JournalID:    in.JournalID,
		Date:         in.Date,
		Reference:    in.Reference,
		Currency:     in.Currency,
		SourceModule: in.SourceModule,
		SourceID:     in.SourceID,
		PostedBy:     in.PostedBy,
		Status:       EntryStatusDraft,
	}
	if err := row.Scan(&entry.ID, &entry.Number, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func (r *txRepository) InsertLines(ctx context.Context, entryID int64, lines []PostingLineInput) ([]int64, error) {
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		var id int64
		err := r.tx.QueryRow(ctx, `INSERT INTO clearing_entry_lines (entry_id, account_id, partner_id, label, debit, credit, currency)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
			entryID, line.AccountID, nullInt(line.PartnerID), line.Label, line.Debit, line.Credit, line.Currency).Scan(&id)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *txRepository) PostEntry(ctx context.Context, entryID int64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE clearing_entries SET status='POSTED', posted_at=NOW(), updated_at=NOW() WHERE id=$1 AND status='DRAFT'`, entryID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrInvalidEntryStatus
	}
	return nil
}

func (r *txRepository) LinkSource(ctx context.Context, module string, ref uuid.UUID, entryID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO source_links (module, ref_id, entry_id) VALUES ($1,$2,$3)`, module, ref, entryID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_source_links" {
			return ErrSourceConflict
		}
		return err
	}
	return nil
}

func (r *txRepository) InsertReconciliation(ctx context.Context, entryLineID, settledLineID int64, amount float64) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO reconciliations (entry_line_id, settled_line_id, amount) VALUES ($1,$2,$3) RETURNING id`, entryLineID, settledLineID, amount).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_reconciliations_pair" {
			return 0, ErrAlreadyReconciled
		}
		return 0, err
	}
	return id, nil
}

// SettleLine consumes the reconciled amount from the settled line's residual
// and stamps the line fully reconciled once nothing remains. The guard on the
// pre-update residual makes over-consumption fail the whole transaction, even
// when a concurrent commit slipped past the snapshot.
func (r *txRepository) SettleLine(ctx context.Context, settledLineID int64, amount float64, reconcileID int64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE ledger_lines
SET residual = residual - SIGN(residual) * $2,
    full_reconcile_id = CASE WHEN ABS(residual) <= $2 + 0.005 THEN $3 ELSE full_reconcile_id END
WHERE id = $1 AND full_reconcile_id IS NULL AND ABS(residual) + 0.005 >= $2`,
		settledLineID, amount, reconcileID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: line %d", ErrOverReconciled, settledLineID)
	}
	return nil
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}
