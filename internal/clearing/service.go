package clearing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/currency"
	"github.com/meridian-erp/meridian-erp/internal/journals"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// SourceModule tags clearing entries in source links and audit records.
const SourceModule = "CLEARING"

// Defaults mirror the values offered to users before they type anything.
const (
	DefaultReference  = "Clearing operation"
	DefaultLinePrefix = "Clearing operation"
)

var (
	ErrDocumentNotFound = errors.New("clearing: document not found")
	ErrNoDefaultJournal = errors.New("clearing: no general journal configured for company")
)

// CandidateQuery narrows the eligible offsetting lines for one run.
type CandidateQuery struct {
	PartnerID      int64
	Polarity       PolarityClass
	Side           BalanceSide
	ExcludeLineIDs []int64
}

// Repository provides the read-side snapshots a run is assembled from.
type Repository interface {
	DocumentHeaders(ctx context.Context, documentIDs []int64) ([]DocumentHeader, error)
	OpenSourceLines(ctx context.Context, documentIDs []int64, polarity PolarityClass) ([]SourceLine, error)
	ClearingCandidates(ctx context.Context, q CandidateQuery) ([]ClearingCandidate, error)
	DefaultJournal(ctx context.Context, companyID int64) (int64, error)
}

// EntryStore is the transactional sink for created entries and their
// reconciliation links, plus the lookup for entries already posted.
type EntryStore interface {
	WithTx(ctx context.Context, fn func(context.Context, journals.TxRepository) error) error
	GetEntryWithLines(ctx context.Context, entryID int64) (journals.Entry, error)
}

// AuditPort records commit activity.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// RunLocker serializes clearing runs per commercial partner.
type RunLocker interface {
	Acquire(ctx context.Context, partnerID int64) (release func(), err error)
}

// Service assembles clearing runs and commits their results. It keeps no
// session state: every call takes a full snapshot of inputs.
type Service struct {
	repo    Repository
	entries EntryStore
	audit   AuditPort
	locks   RunLocker
	metrics *observability.Metrics
	now     func() time.Time
}

func NewService(repo Repository, entries EntryStore, audit AuditPort, locks RunLocker, metrics *observability.Metrics) *Service {
	return &Service{repo: repo, entries: entries, audit: audit, locks: locks, metrics: metrics, now: time.Now}
}

func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// PrepareRun derives the run header from the selected documents, validates
// that they form one clearing set, and fetches the open source lines plus
// the eligible offsetting candidates.
func (s *Service) PrepareRun(ctx context.Context, documentIDs []int64) (Run, error) {
	if len(documentIDs) == 0 {
		return Run{}, ErrNoDocuments
	}
	headers, err := s.repo.DocumentHeaders(ctx, documentIDs)
	if err != nil {
		return Run{}, err
	}
	if len(headers) != len(documentIDs) {
		return Run{}, ErrDocumentNotFound
	}
	head := headers[0]
	for _, h := range headers[1:] {
		if h.PartnerID != head.PartnerID {
			return Run{}, ErrMixedPartners
		}
		if h.Type != head.Type {
			return Run{}, ErrMixedTypes
		}
		if h.CompanyID != head.CompanyID {
			return Run{}, ErrMixedCompanies
		}
	}

	sources, err := s.repo.OpenSourceLines(ctx, documentIDs, PolarityFor(head.Type, false))
	if err != nil {
		return Run{}, err
	}

	var residualTotal float64
	exclude := make([]int64, 0, len(sources))
	for _, src := range sources {
		residualTotal += src.Residual
		exclude = append(exclude, src.ID)
	}
	side := SideDebit
	if residualTotal > 0 {
		side = SideCredit
	}

	candidates, err := s.repo.ClearingCandidates(ctx, CandidateQuery{
		PartnerID:      head.PartnerID,
		Polarity:       PolarityFor(head.Type, true),
		Side:           side,
		ExcludeLineIDs: exclude,
	})
	if err != nil {
		return Run{}, err
	}
	resequence(candidates)

	return Run{
		DocumentIDs: documentIDs,
		Type:        head.Type,
		PartnerID:   head.PartnerID,
		CompanyID:   head.CompanyID,
		Currency:    head.Currency,
		Sources:     sources,
		Candidates:  candidates,
	}, nil
}

// SortKey selects the candidate ordering of a run.
type SortKey string

const (
	SortByMaturity SortKey = "MATURITY"
	SortByResidual SortKey = "RESIDUAL"
)

// SortCandidates reorders the run's candidates and renumbers their
// sequences in steps of ten.
func SortCandidates(run *Run, key SortKey, desc bool) {
	sort.SliceStable(run.Candidates, func(i, j int) bool {
		a, b := run.Candidates[i], run.Candidates[j]
		var less bool
		switch key {
		case SortByResidual:
			less = a.Residual < b.Residual
		default:
			less = a.MaturityDate.Before(b.MaturityDate)
		}
		if desc {
			return !less
		}
		return less
	})
	resequence(run.Candidates)
}

// FillToTarget assigns default clearing amounts to all unset candidates
// until the run's remaining amount is spent.
func FillToTarget(run *Run) {
	Plan(-run.AmountToClear(), run.Candidates, currency.ByCode(run.Currency))
}

func resequence(candidates []ClearingCandidate) {
	for i := range candidates {
		candidates[i].Sequence = (i + 1) * 10
	}
}

// CandidateAmount carries a user-chosen consumption amount for one
// candidate line.
type CandidateAmount struct {
	LineID    int64
	Requested float64
	Sequence  int
}

// PreviewInput identifies a run and the amounts to simulate.
type PreviewInput struct {
	DocumentIDs []int64
	Amounts     []CandidateAmount
	FillTarget  bool
	Date        time.Time
	Reference   string
	LinePrefix  string
}

// Preview assembles a fresh run, applies the requested amounts and returns
// the draft entries the engine would produce, without persistence.
func (s *Service) Preview(ctx context.Context, in PreviewInput) ([]DraftEntry, error) {
	run, err := s.PrepareRun(ctx, in.DocumentIDs)
	if err != nil {
		return nil, err
	}
	if err := applyAmounts(&run, in.Amounts); err != nil {
		return nil, err
	}
	if in.FillTarget {
		FillToTarget(&run)
	}
	if err := ValidateCandidates(run.Candidates); err != nil {
		return nil, err
	}
	date := in.Date
	if date.IsZero() {
		date = s.now()
	}
	return Allocate(allocateInput(run, in.Reference, in.LinePrefix, date)), nil
}

// CommitInput identifies a run, the amounts to consume and the posting
// parameters.
type CommitInput struct {
	DocumentIDs []int64
	Amounts     []CandidateAmount
	JournalID   int64
	Date        time.Time
	Reference   string
	LinePrefix  string
	ActorID     int64
}

// CommitResult reports the created entries.
type CommitResult struct {
	EntryIDs []int64
}

// Commit re-assembles the run from fresh snapshots, validates the requested
// amounts, runs the allocation and persists the outcome: each draft entry is
// created, posted, reconciled and its settled lines consumed inside one
// transaction. The per-partner lock is taken before the snapshot so the reads
// happen inside the critical section; concurrent runs for one partner cannot
// both read the same open lines.
func (s *Service) Commit(ctx context.Context, in CommitInput) (CommitResult, error) {
	if len(in.DocumentIDs) == 0 {
		return CommitResult{}, ErrNoDocuments
	}

	if s.locks != nil {
		headers, err := s.repo.DocumentHeaders(ctx, in.DocumentIDs)
		if err != nil {
			return CommitResult{}, err
		}
		if len(headers) == 0 {
			return CommitResult{}, ErrDocumentNotFound
		}
		release, err := s.locks.Acquire(ctx, headers[0].PartnerID)
		if err != nil {
			return CommitResult{}, err
		}
		defer release()
	}

	run, err := s.PrepareRun(ctx, in.DocumentIDs)
	if err != nil {
		return CommitResult{}, err
	}
	if err := applyAmounts(&run, in.Amounts); err != nil {
		return CommitResult{}, err
	}
	if err := ValidateCandidates(run.Candidates); err != nil {
		return CommitResult{}, err
	}

	date := in.Date
	if date.IsZero() {
		date = s.now()
	}
	drafts := Allocate(allocateInput(run, in.Reference, in.LinePrefix, date))
	if len(drafts) == 0 {
		return CommitResult{}, ErrNothingToClear
	}

	journalID := in.JournalID
	if journalID == 0 {
		journalID, err = s.repo.DefaultJournal(ctx, run.CompanyID)
		if err != nil {
			return CommitResult{}, err
		}
	}

	entryIDs := make([]int64, 0, len(drafts))
	err = s.entries.WithTx(ctx, func(ctx context.Context, tx journals.TxRepository) error {
		for _, draft := range drafts {
			posting := journals.PostingInput{
				JournalID:    journalID,
				Date:         draft.Date,
				Reference:    draft.Reference,
				Currency:     draft.Currency,
				SourceModule: SourceModule,
				SourceID:     uuid.New(),
				PostedBy:     in.ActorID,
				Lines:        postingLines(draft),
			}
			if err := posting.Validate(); err != nil {
				return err
			}
			entry, err := tx.InsertEntry(ctx, posting)
			if err != nil {
				return err
			}
			lineIDs, err := tx.InsertLines(ctx, entry.ID, posting.Lines)
			if err != nil {
				return err
			}
			if err := tx.LinkSource(ctx, SourceModule, posting.SourceID, entry.ID); err != nil {
				return err
			}
			if err := tx.PostEntry(ctx, entry.ID); err != nil {
				return err
			}
			for i, line := range draft.Lines {
				amount := line.Debit + line.Credit
				recID, err := tx.InsertReconciliation(ctx, lineIDs[i], line.SettlesLineID, amount)
				if err != nil {
					return err
				}
				if err := tx.SettleLine(ctx, line.SettlesLineID, amount, recID); err != nil {
					return err
				}
			}
			entryIDs = append(entryIDs, entry.ID)
		}
		return nil
	})
	if err != nil {
		return CommitResult{}, err
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  in.ActorID,
			Action:   "clearing.commit",
			Entity:   "clearing_run",
			EntityID: fmt.Sprintf("partner:%d", run.PartnerID),
			Meta: map[string]any{
				"documents": run.DocumentIDs,
				"entries":   entryIDs,
			},
			At: s.now(),
		})
	}
	if s.metrics != nil {
		s.metrics.RecordClearingCommit(len(entryIDs))
	}
	return CommitResult{EntryIDs: entryIDs}, nil
}

// Entry returns a clearing entry with its lines.
func (s *Service) Entry(ctx context.Context, entryID int64) (journals.Entry, error) {
	return s.entries.GetEntryWithLines(ctx, entryID)
}

// applyAmounts maps user-chosen amounts onto the freshly fetched candidates
// and orders them by sequence. An amount referencing a line outside the
// eligible set fails the whole request.
func applyAmounts(run *Run, amounts []CandidateAmount) error {
	byLine := make(map[int64]*ClearingCandidate, len(run.Candidates))
	for i := range run.Candidates {
		byLine[run.Candidates[i].LineID] = &run.Candidates[i]
	}
	for _, amt := range amounts {
		cand, ok := byLine[amt.LineID]
		if !ok {
			return fmt.Errorf("%w: line %d", ErrUnknownCandidate, amt.LineID)
		}
		cand.Requested = amt.Requested
		if amt.Sequence != 0 {
			cand.Sequence = amt.Sequence
		}
	}
	sort.SliceStable(run.Candidates, func(i, j int) bool {
		a, b := run.Candidates[i], run.Candidates[j]
		if a.Sequence != b.Sequence {
			return a.Sequence < b.Sequence
		}
		return a.LineID < b.LineID
	})
	return nil
}

func allocateInput(run Run, reference, prefix string, date time.Time) AllocateInput {
	if reference == "" {
		reference = DefaultReference
	}
	if prefix == "" {
		prefix = DefaultLinePrefix
	}
	return AllocateInput{
		Sources:    run.Sources,
		Candidates: run.Candidates,
		Rounding:   currency.ByCode(run.Currency),
		PartnerID:  run.PartnerID,
		Currency:   run.Currency,
		Date:       date,
		Reference:  reference,
		LinePrefix: prefix,
	}
}

func postingLines(draft DraftEntry) []journals.PostingLineInput {
	lines := make([]journals.PostingLineInput, 0, len(draft.Lines))
	for _, line := range draft.Lines {
		lines = append(lines, journals.PostingLineInput{
			AccountID: line.AccountID,
			PartnerID: line.PartnerID,
			Label:     line.Label,
			Debit:     line.Debit,
			Credit:    line.Credit,
			Currency:  line.Currency,
		})
	}
	return lines
}
