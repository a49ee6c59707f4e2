// Package clearing allocates outstanding residual balances on ledger lines
// against eligible offsetting lines and produces balanced clearing journal
// entries ready for posting and reconciliation.
package clearing

import (
	"errors"
	"time"
)

// DocumentType enumerates the invoice document categories accepted for
// clearing. Journal entries themselves are never cleared.
type DocumentType string

const (
	DocTypeCustomerInvoice DocumentType = "CUSTOMER_INVOICE"
	DocTypeCustomerRefund  DocumentType = "CUSTOMER_REFUND"
	DocTypeVendorBill      DocumentType = "VENDOR_BILL"
	DocTypeVendorRefund    DocumentType = "VENDOR_REFUND"
)

// IsRefund reports whether the document reverses a regular invoice or bill.
func (t DocumentType) IsRefund() bool {
	return t == DocTypeCustomerRefund || t == DocTypeVendorRefund
}

// IsCustomerSide reports whether the document lives on the receivable side.
func (t DocumentType) IsCustomerSide() bool {
	return t == DocTypeCustomerInvoice || t == DocTypeCustomerRefund
}

// PolarityClass identifies which open-item account class a line matches on.
type PolarityClass string

const (
	PolarityPayable    PolarityClass = "PAYABLE"
	PolarityReceivable PolarityClass = "RECEIVABLE"
)

// PolarityFor resolves the account class holding the open lines of a
// document type. With counterpart set it resolves the class the offsetting
// lines must carry instead; refunds keep the document's own class there
// because they already sit on the opposite side.
func PolarityFor(t DocumentType, counterpart bool) PolarityClass {
	payableFirst := true
	if counterpart && !t.IsRefund() {
		payableFirst = !payableFirst
	}
	if t.IsCustomerSide() {
		payableFirst = !payableFirst
	}
	if payableFirst {
		return PolarityPayable
	}
	return PolarityReceivable
}

// BalanceSide selects which side of a candidate line must carry a balance.
type BalanceSide string

const (
	SideDebit  BalanceSide = "DEBIT"
	SideCredit BalanceSide = "CREDIT"
)

// DocumentHeader carries the per-document fields the run header is derived
// from. Partner is always the commercial (top-level) partner.
type DocumentHeader struct {
	ID        int64
	Reference string
	Type      DocumentType
	PartnerID int64
	CompanyID int64
	Currency  string
}

// SourceLine is an open ledger line of a document being cleared. Residuals
// follow the ledger convention: payable and receivable open amounts on the
// document side are stored negative.
type SourceLine struct {
	ID           int64
	DocumentID   int64
	DocumentRef  string
	Description  string
	AccountID    int64
	PartnerID    int64
	Currency     string
	Residual     float64
	Date         time.Time
	MaturityDate time.Time
}

// ClearingCandidate is an eligible offsetting ledger line. Requested is the
// portion of Residual the run will consume; zero means not selected.
type ClearingCandidate struct {
	LineID       int64
	DocumentRef  string
	Description  string
	AccountID    int64
	PartnerID    int64
	Currency     string
	Residual     float64
	Requested    float64
	Sequence     int
	Debit        float64
	Credit       float64
	Date         time.Time
	MaturityDate time.Time
}

// DraftLine is one line of a draft clearing entry. SettlesLineID points at
// the open ledger line this line settles, for reconciliation after posting.
type DraftLine struct {
	Label         string
	Debit         float64
	Credit        float64
	AccountID     int64
	PartnerID     int64
	Currency      string
	SettlesLineID int64
}

// DraftEntry is one balanced clearing entry per source document. It is a
// transient value; the caller turns it into a durable journal entry.
type DraftEntry struct {
	DocumentID  int64
	DocumentRef string
	Currency    string
	Date        time.Time
	Reference   string
	Lines       []DraftLine
}

// Run is a full snapshot of a clearing session: header, open source lines
// grouped in document order, and the eligible candidates. It holds no live
// references; callers mutate candidate amounts and hand it back.
type Run struct {
	DocumentIDs []int64
	Type        DocumentType
	PartnerID   int64
	CompanyID   int64
	Currency    string
	Sources     []SourceLine
	Candidates  []ClearingCandidate
}

// AmountToClear is the remaining amount still needed to clear: the sum of
// source residuals plus the clearing amounts already assigned.
func (r *Run) AmountToClear() float64 {
	var total float64
	for _, src := range r.Sources {
		total += src.Residual
	}
	for _, cand := range r.Candidates {
		total += cand.Requested
	}
	return total
}

// Validation errors raised before any entry is built.
var (
	ErrNoDocuments           = errors.New("clearing: no documents selected")
	ErrMixedPartners         = errors.New("clearing: documents must share one commercial partner")
	ErrMixedTypes            = errors.New("clearing: documents must share one document type")
	ErrMixedCompanies        = errors.New("clearing: documents must belong to one company")
	ErrAmountExceedsResidual = errors.New("clearing: requested amount exceeds line residual")
	ErrUnknownCandidate      = errors.New("clearing: candidate line not eligible for this run")
	ErrNothingToClear        = errors.New("clearing: allocation produced no entries")
	ErrRunLocked             = errors.New("clearing: another clearing run is in progress for this partner")
)
