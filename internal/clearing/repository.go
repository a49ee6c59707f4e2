package clearing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRepository provides PostgreSQL backed read snapshots for clearing runs.
type PgRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// DocumentHeaders loads the run-header fields of the selected documents,
// resolving each partner to its commercial (top-level) partner.
func (r *PgRepository) DocumentHeaders(ctx context.Context, documentIDs []int64) ([]DocumentHeader, error) {
	query := `
		SELECT d.id, d.reference, d.doc_type,
			COALESCE(p.commercial_partner_id, p.id),
			d.company_id, d.currency
		FROM documents d
		JOIN partners p ON p.id = d.partner_id
		JOIN unnest($1::bigint[]) WITH ORDINALITY AS sel(id, ord) ON sel.id = d.id
		WHERE d.status = 'POSTED' AND d.doc_type <> 'ENTRY'
		ORDER BY sel.ord`

	rows, err := r.pool.Query(ctx, query, documentIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var headers []DocumentHeader
	for rows.Next() {
		var h DocumentHeader
		if err := rows.Scan(&h.ID, &h.Reference, &h.Type, &h.PartnerID, &h.CompanyID, &h.Currency); err != nil {
			return nil, err
		}
		headers = append(headers, h)
	}
	return headers, rows.Err()
}

// OpenSourceLines returns the documents' open lines: unreconciled, non-zero
// residual, on a reconcilable account of the requested polarity class. Lines
// come back grouped per document in selection order.
func (r *PgRepository) OpenSourceLines(ctx context.Context, documentIDs []int64, polarity PolarityClass) ([]SourceLine, error) {
	query := `
		SELECT l.id, l.document_id, d.reference, COALESCE(l.description, ''),
			l.account_id, l.partner_id, l.currency, l.residual, l.date, l.maturity_date
		FROM ledger_lines l
		JOIN documents d ON d.id = l.document_id
		JOIN accounts a ON a.id = l.account_id
		JOIN unnest($1::bigint[]) WITH ORDINALITY AS sel(id, ord) ON sel.id = l.document_id
		WHERE l.full_reconcile_id IS NULL
			AND l.residual <> 0
			AND a.reconcilable
			AND a.polarity_class = $2
		ORDER BY sel.ord, l.id`

	rows, err := r.pool.Query(ctx, query, documentIDs, polarity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []SourceLine
	for rows.Next() {
		var line SourceLine
		if err := rows.Scan(&line.ID, &line.DocumentID, &line.DocumentRef, &line.Description,
			&line.AccountID, &line.PartnerID, &line.Currency, &line.Residual, &line.Date, &line.MaturityDate); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// ClearingCandidates returns the ledger lines eligible to offset the run:
// opposite polarity class, unreconciled, reconcilable account, posted parent
// document, within the partner hierarchy, carrying a balance on the required
// side. Ordered by maturity date then residual ascending.
func (r *PgRepository) ClearingCandidates(ctx context.Context, q CandidateQuery) ([]ClearingCandidate, error) {
	sideCond := "l.debit > 0"
	if q.Side == SideCredit {
		sideCond = "l.credit > 0"
	}
	query := `
		WITH RECURSIVE partner_tree AS (
			SELECT id FROM partners WHERE id = $1
			UNION ALL
			SELECT p.id FROM partners p JOIN partner_tree t ON p.parent_id = t.id
		)
		SELECT l.id, d.reference, COALESCE(l.description, ''),
			l.account_id, l.partner_id, l.currency, l.residual,
			l.debit, l.credit, l.date, l.maturity_date
		FROM ledger_lines l
		JOIN documents d ON d.id = l.document_id
		JOIN accounts a ON a.id = l.account_id
		WHERE l.id <> ALL($2::bigint[])
			AND a.polarity_class = $3
			AND a.reconcilable
			AND l.full_reconcile_id IS NULL
			AND l.partner_id IN (SELECT id FROM partner_tree)
			AND d.status = 'POSTED'
			AND ` + sideCond + `
		ORDER BY l.maturity_date ASC, l.residual ASC`

	rows, err := r.pool.Query(ctx, query, q.PartnerID, q.ExcludeLineIDs, q.Polarity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var candidates []ClearingCandidate
	for rows.Next() {
		var cand ClearingCandidate
		if err := rows.Scan(&cand.LineID, &cand.DocumentRef, &cand.Description,
			&cand.AccountID, &cand.PartnerID, &cand.Currency, &cand.Residual,
			&cand.Debit, &cand.Credit, &cand.Date, &cand.MaturityDate); err != nil {
			return nil, err
		}
		candidates = append(candidates, cand)
	}
	return candidates, rows.Err()
}

// DefaultJournal resolves the company's general journal.
func (r *PgRepository) DefaultJournal(ctx context.Context, companyID int64) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`SELECT id FROM journals WHERE company_id = $1 AND type = 'GENERAL' ORDER BY id ASC LIMIT 1`,
		companyID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNoDefaultJournal
		}
		return 0, err
	}
	return id, nil
}
