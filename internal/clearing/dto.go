package clearing

import (
	"time"

	"github.com/meridian-erp/meridian-erp/internal/journals"
)

// candidateAmountRequest is one user-chosen consumption amount.
type candidateAmountRequest struct {
	LineID    int64   `json:"line_id" validate:"required"`
	Requested float64 `json:"requested"`
	Sequence  int     `json:"sequence"`
}

// prepareRequest selects the documents opening a clearing run.
type prepareRequest struct {
	DocumentIDs []int64 `json:"document_ids" validate:"required,min=1,dive,required"`
	SortBy      string  `json:"sort_by" validate:"omitempty,oneof=MATURITY RESIDUAL"`
	SortDesc    bool    `json:"sort_desc"`
	FillTarget  bool    `json:"fill_target"`
}

// previewRequest simulates a run without persistence.
type previewRequest struct {
	DocumentIDs []int64                  `json:"document_ids" validate:"required,min=1,dive,required"`
	Amounts     []candidateAmountRequest `json:"amounts" validate:"dive"`
	FillTarget  bool                     `json:"fill_target"`
	Date        time.Time                `json:"date"`
	Reference   string                   `json:"reference"`
	LinePrefix  string                   `json:"line_prefix"`
}

// commitRequest persists a run: create, post, reconcile.
type commitRequest struct {
	DocumentIDs []int64                  `json:"document_ids" validate:"required,min=1,dive,required"`
	Amounts     []candidateAmountRequest `json:"amounts" validate:"required,min=1,dive"`
	JournalID   int64                    `json:"journal_id"`
	Date        time.Time                `json:"date"`
	Reference   string                   `json:"reference"`
	LinePrefix  string                   `json:"line_prefix"`
}

type sourceLineResponse struct {
	LineID       int64     `json:"line_id"`
	DocumentID   int64     `json:"document_id"`
	DocumentRef  string    `json:"document_ref"`
	Description  string    `json:"description"`
	AccountID    int64     `json:"account_id"`
	Residual     float64   `json:"residual"`
	Date         time.Time `json:"date"`
	MaturityDate time.Time `json:"maturity_date"`
}

type candidateResponse struct {
	LineID       int64     `json:"line_id"`
	DocumentRef  string    `json:"document_ref"`
	Description  string    `json:"description"`
	AccountID    int64     `json:"account_id"`
	Residual     float64   `json:"residual"`
	Requested    float64   `json:"requested"`
	Sequence     int       `json:"sequence"`
	Debit        float64   `json:"debit"`
	Credit       float64   `json:"credit"`
	Date         time.Time `json:"date"`
	MaturityDate time.Time `json:"maturity_date"`
}

type runResponse struct {
	DocumentIDs   []int64              `json:"document_ids"`
	DocumentType  DocumentType         `json:"document_type"`
	PartnerID     int64                `json:"partner_id"`
	CompanyID     int64                `json:"company_id"`
	Currency      string               `json:"currency"`
	AmountToClear float64              `json:"amount_to_clear"`
	Sources       []sourceLineResponse `json:"sources"`
	Candidates    []candidateResponse  `json:"candidates"`
}

type draftLineResponse struct {
	Label         string  `json:"label"`
	Debit         float64 `json:"debit"`
	Credit        float64 `json:"credit"`
	AccountID     int64   `json:"account_id"`
	PartnerID     int64   `json:"partner_id"`
	SettlesLineID int64   `json:"settles_line_id"`
}

type draftEntryResponse struct {
	DocumentID  int64               `json:"document_id"`
	DocumentRef string              `json:"document_ref"`
	Currency    string              `json:"currency"`
	Date        time.Time           `json:"date"`
	Reference   string              `json:"reference"`
	Lines       []draftLineResponse `json:"lines"`
}

type commitResponse struct {
	EntryIDs []int64 `json:"entry_ids"`
}

type entryLineResponse struct {
	ID        int64   `json:"id"`
	AccountID int64   `json:"account_id"`
	PartnerID int64   `json:"partner_id"`
	Label     string  `json:"label"`
	Debit     float64 `json:"debit"`
	Credit    float64 `json:"credit"`
	Currency  string  `json:"currency"`
}

type entryResponse struct {
	ID        int64               `json:"id"`
	Number    int64               `json:"number"`
	JournalID int64               `json:"journal_id"`
	Date      time.Time           `json:"date"`
	Reference string              `json:"reference"`
	Currency  string              `json:"currency"`
	Status    string              `json:"status"`
	PostedAt  *time.Time          `json:"posted_at,omitempty"`
	Lines     []entryLineResponse `json:"lines"`
}

func toRunResponse(run Run) runResponse {
	resp := runResponse{
		DocumentIDs:   run.DocumentIDs,
		DocumentType:  run.Type,
		PartnerID:     run.PartnerID,
		CompanyID:     run.CompanyID,
		Currency:      run.Currency,
		AmountToClear: run.AmountToClear(),
	}
	for _, src := range run.Sources {
		resp.Sources = append(resp.Sources, sourceLineResponse{
			LineID:       src.ID,
			DocumentID:   src.DocumentID,
			DocumentRef:  src.DocumentRef,
			Description:  src.Description,
			AccountID:    src.AccountID,
			Residual:     src.Residual,
			Date:         src.Date,
			MaturityDate: src.MaturityDate,
		})
	}
	for _, cand := range run.Candidates {
		resp.Candidates = append(resp.Candidates, candidateResponse{
			LineID:       cand.LineID,
			DocumentRef:  cand.DocumentRef,
			Description:  cand.Description,
			AccountID:    cand.AccountID,
			Residual:     cand.Residual,
			Requested:    cand.Requested,
			Sequence:     cand.Sequence,
			Debit:        cand.Debit,
			Credit:       cand.Credit,
			Date:         cand.Date,
			MaturityDate: cand.MaturityDate,
		})
	}
	return resp
}

func toDraftEntryResponses(drafts []DraftEntry) []draftEntryResponse {
	out := make([]draftEntryResponse, 0, len(drafts))
	for _, draft := range drafts {
		entry := draftEntryResponse{
			DocumentID:  draft.DocumentID,
			DocumentRef: draft.DocumentRef,
			Currency:    draft.Currency,
			Date:        draft.Date,
			Reference:   draft.Reference,
		}
		for _, line := range draft.Lines {
			entry.Lines = append(entry.Lines, draftLineResponse{
				Label:         line.Label,
				Debit:         line.Debit,
				Credit:        line.Credit,
				AccountID:     line.AccountID,
				PartnerID:     line.PartnerID,
				SettlesLineID: line.SettlesLineID,
			})
		}
		out = append(out, entry)
	}
	return out
}

func toEntryResponse(entry journals.Entry) entryResponse {
	resp := entryResponse{
		ID:        entry.ID,
		Number:    entry.Number,
		JournalID: entry.JournalID,
		Date:      entry.Date,
		Reference: entry.Reference,
		Currency:  entry.Currency,
		Status:    string(entry.Status),
		PostedAt:  entry.PostedAt,
	}
	for _, line := range entry.Lines {
		resp.Lines = append(resp.Lines, entryLineResponse{
			ID:        line.ID,
			AccountID: line.AccountID,
			PartnerID: line.PartnerID,
			Label:     line.Label,
			Debit:     line.Debit,
			Credit:    line.Credit,
			Currency:  line.Currency,
		})
	}
	return resp
}

func toCandidateAmounts(amounts []candidateAmountRequest) []CandidateAmount {
	out := make([]CandidateAmount, 0, len(amounts))
	for _, amt := range amounts {
		out = append(out, CandidateAmount{LineID: amt.LineID, Requested: amt.Requested, Sequence: amt.Sequence})
	}
	return out
}
