package clearing

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/journals"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	_ "github.com/meridian-erp/meridian-erp/internal/testing/guard"
)

type memoryClearingRepo struct {
	headers    map[int64]DocumentHeader
	sources    []SourceLine
	candidates []ClearingCandidate
	journalID  int64
	full       map[int64]int64

	lastQuery      CandidateQuery
	candidateReads int
}

func (r *memoryClearingRepo) DocumentHeaders(ctx context.Context, documentIDs []int64) ([]DocumentHeader, error) {
	out := make([]DocumentHeader, 0, len(documentIDs))
	for _, id := range documentIDs {
		if h, ok := r.headers[id]; ok {
			out = append(out, h)
		}
	}
	return out, nil
}

func (r *memoryClearingRepo) OpenSourceLines(ctx context.Context, documentIDs []int64, polarity PolarityClass) ([]SourceLine, error) {
	var out []SourceLine
	for _, src := range r.sources {
		if _, done := r.full[src.ID]; done || src.Residual == 0 {
			continue
		}
		out = append(out, src)
	}
	return out, nil
}

func (r *memoryClearingRepo) ClearingCandidates(ctx context.Context, q CandidateQuery) ([]ClearingCandidate, error) {
	r.lastQuery = q
	r.candidateReads++
	var out []ClearingCandidate
	for _, cand := range r.candidates {
		if _, done := r.full[cand.LineID]; done || cand.Residual == 0 {
			continue
		}
		out = append(out, cand)
	}
	return out, nil
}

func (r *memoryClearingRepo) settle(lineID int64, amount float64, reconcileID int64) error {
	apply := func(residual *float64) error {
		if math.Abs(*residual)+0.005 < amount {
			return journals.ErrOverReconciled
		}
		if *residual < 0 {
			*residual += amount
		} else {
			*residual -= amount
		}
		if math.Abs(*residual) < 0.005 {
			*residual = 0
			r.full[lineID] = reconcileID
		}
		return nil
	}
	for i := range r.sources {
		if r.sources[i].ID == lineID {
			return apply(&r.sources[i].Residual)
		}
	}
	for i := range r.candidates {
		if r.candidates[i].LineID == lineID {
			return apply(&r.candidates[i].Residual)
		}
	}
	return journals.ErrOverReconciled
}

func (r *memoryClearingRepo) DefaultJournal(ctx context.Context, companyID int64) (int64, error) {
	if r.journalID == 0 {
		return 0, ErrNoDefaultJournal
	}
	return r.journalID, nil
}

type recordedEntry struct {
	input  journals.PostingInput
	lines  []journals.PostingLineInput
	posted bool
}

type memoryEntryWriter struct {
	repo    *memoryClearingRepo
	entries map[int64]*recordedEntry
	links   map[uuid.UUID]int64
	recs    []recordedRec
	nextID  int64
	failTx  error
}

type recordedRec struct {
	entryLineID   int64
	settledLineID int64
	amount        float64
}

func newMemoryEntryWriter() *memoryEntryWriter {
	return &memoryEntryWriter{
		entries: make(map[int64]*recordedEntry),
		links:   make(map[uuid.UUID]int64),
	}
}

func (w *memoryEntryWriter) WithTx(ctx context.Context, fn func(context.Context, journals.TxRepository) error) error {
	if w.failTx != nil {
		return w.failTx
	}
	return fn(ctx, &memoryEntryTx{writer: w})
}

func (w *memoryEntryWriter) GetEntryWithLines(ctx context.Context, entryID int64) (journals.Entry, error) {
	recorded, ok := w.entries[entryID]
	if !ok {
		return journals.Entry{}, journals.ErrEntryNotFound
	}
	entry := journals.Entry{
		ID:        entryID,
		JournalID: recorded.input.JournalID,
		Date:      recorded.input.Date,
		Reference: recorded.input.Reference,
		Currency:  recorded.input.Currency,
		Status:    journals.EntryStatusDraft,
	}
	if recorded.posted {
		entry.Status = journals.EntryStatusPosted
	}
	for i, line := range recorded.lines {
		entry.Lines = append(entry.Lines, journals.Line{
			ID:        entryID*100 + int64(i),
			EntryID:   entryID,
			AccountID: line.AccountID,
			PartnerID: line.PartnerID,
			Label:     line.Label,
			Debit:     line.Debit,
			Credit:    line.Credit,
			Currency:  line.Currency,
		})
	}
	return entry, nil
}

type memoryEntryTx struct {
	writer *memoryEntryWriter
}

func (t *memoryEntryTx) InsertEntry(ctx context.Context, in journals.PostingInput) (journals.Entry, error) {
	t.writer.nextID++
	t.writer.entries[t.writer.nextID] = &recordedEntry{input: in}
	return journals.Entry{ID: t.writer.nextID, JournalID: in.JournalID, Status: journals.EntryStatusDraft}, nil
}

func (t *memoryEntryTx) InsertLines(ctx context.Context, entryID int64, lines []journals.PostingLineInput) ([]int64, error) {
	entry := t.writer.entries[entryID]
	entry.lines = append(entry.lines, lines...)
	ids := make([]int64, len(lines))
	for i := range lines {
		ids[i] = entryID*100 + int64(i)
	}
	return ids, nil
}

func (t *memoryEntryTx) PostEntry(ctx context.Context, entryID int64) error {
	entry, ok := t.writer.entries[entryID]
	if !ok {
		return journals.ErrEntryNotFound
	}
	if entry.posted {
		return journals.ErrInvalidEntryStatus
	}
	entry.posted = true
	return nil
}

func (t *memoryEntryTx) LinkSource(ctx context.Context, module string, ref uuid.UUID, entryID int64) error {
	if _, exists := t.writer.links[ref]; exists {
		return journals.ErrSourceConflict
	}
	t.writer.links[ref] = entryID
	return nil
}

func (t *memoryEntryTx) InsertReconciliation(ctx context.Context, entryLineID, settledLineID int64, amount float64) (int64, error) {
	t.writer.recs = append(t.writer.recs, recordedRec{entryLineID: entryLineID, settledLineID: settledLineID, amount: amount})
	return int64(len(t.writer.recs)), nil
}

func (t *memoryEntryTx) SettleLine(ctx context.Context, settledLineID int64, amount float64, reconcileID int64) error {
	return t.writer.repo.settle(settledLineID, amount, reconcileID)
}

type memoryAudit struct {
	logs []shared.AuditLog
}

func (a *memoryAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type memoryLocker struct {
	locked   bool
	acquired int
	released int
}

func (l *memoryLocker) Acquire(ctx context.Context, partnerID int64) (func(), error) {
	if l.locked {
		return nil, ErrRunLocked
	}
	l.acquired++
	return func() { l.released++ }, nil
}

func newTestService() (*Service, *memoryClearingRepo, *memoryEntryWriter, *memoryAudit, *memoryLocker) {
	repo := &memoryClearingRepo{
		headers: map[int64]DocumentHeader{
			1: {ID: 1, Reference: "INV/001", Type: DocTypeCustomerInvoice, PartnerID: 7, CompanyID: 1, Currency: "USD"},
		},
		sources: []SourceLine{
			{ID: 11, DocumentID: 1, DocumentRef: "INV/001", AccountID: 400, PartnerID: 7, Currency: "USD", Residual: -100},
		},
		candidates: []ClearingCandidate{
			{LineID: 21, DocumentRef: "PAY/014", AccountID: 401, PartnerID: 7, Currency: "USD", Residual: 150},
		},
		journalID: 5,
		full:      make(map[int64]int64),
	}
	writer := newMemoryEntryWriter()
	writer.repo = repo
	audit := &memoryAudit{}
	locks := &memoryLocker{}
	svc := NewService(repo, writer, audit, locks, nil)
	svc.WithNow(func() time.Time { return testDate })
	return svc, repo, writer, audit, locks
}

func TestPrepareRunBuildsSnapshot(t *testing.T) {
	svc, repo, _, _, _ := newTestService()

	run, err := svc.PrepareRun(context.Background(), []int64{1})
	require.NoError(t, err)
	require.Equal(t, DocTypeCustomerInvoice, run.Type)
	require.Equal(t, int64(7), run.PartnerID)
	require.Len(t, run.Sources, 1)
	require.Len(t, run.Candidates, 1)
	require.Equal(t, 10, run.Candidates[0].Sequence)

	// Negative residual total means candidates must carry debit balances.
	require.Equal(t, SideDebit, repo.lastQuery.Side)
	require.Equal(t, []int64{11}, repo.lastQuery.ExcludeLineIDs)
	require.InDelta(t, -100, run.AmountToClear(), 0.005)
}

func TestPrepareRunRejectsMixedSets(t *testing.T) {
	svc, repo, _, _, _ := newTestService()
	repo.headers[2] = DocumentHeader{ID: 2, Type: DocTypeCustomerInvoice, PartnerID: 8, CompanyID: 1, Currency: "USD"}
	_, err := svc.PrepareRun(context.Background(), []int64{1, 2})
	require.ErrorIs(t, err, ErrMixedPartners)

	repo.headers[2] = DocumentHeader{ID: 2, Type: DocTypeVendorBill, PartnerID: 7, CompanyID: 1, Currency: "USD"}
	_, err = svc.PrepareRun(context.Background(), []int64{1, 2})
	require.ErrorIs(t, err, ErrMixedTypes)

	repo.headers[2] = DocumentHeader{ID: 2, Type: DocTypeCustomerInvoice, PartnerID: 7, CompanyID: 9, Currency: "USD"}
	_, err = svc.PrepareRun(context.Background(), []int64{1, 2})
	require.ErrorIs(t, err, ErrMixedCompanies)

	_, err = svc.PrepareRun(context.Background(), []int64{1, 404})
	require.ErrorIs(t, err, ErrDocumentNotFound)

	_, err = svc.PrepareRun(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoDocuments)
}

func TestSortCandidatesResequences(t *testing.T) {
	now := testDate
	run := Run{Candidates: []ClearingCandidate{
		{LineID: 1, Residual: 90, MaturityDate: now.AddDate(0, 1, 0)},
		{LineID: 2, Residual: 10, MaturityDate: now},
	}}

	SortCandidates(&run, SortByResidual, false)
	require.Equal(t, int64(2), run.Candidates[0].LineID)
	require.Equal(t, 10, run.Candidates[0].Sequence)
	require.Equal(t, 20, run.Candidates[1].Sequence)

	SortCandidates(&run, SortByMaturity, true)
	require.Equal(t, int64(1), run.Candidates[0].LineID)
}

func TestPreviewFillTarget(t *testing.T) {
	svc, _, _, _, _ := newTestService()

	drafts, err := svc.Preview(context.Background(), PreviewInput{
		DocumentIDs: []int64{1},
		FillTarget:  true,
	})
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	require.Len(t, drafts[0].Lines, 2)
	require.InDelta(t, 100, drafts[0].Lines[0].Debit, 0.005)
	require.InDelta(t, 100, drafts[0].Lines[1].Credit, 0.005)
	require.Equal(t, DefaultReference, drafts[0].Reference)
}

func TestPreviewUnknownCandidate(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	_, err := svc.Preview(context.Background(), PreviewInput{
		DocumentIDs: []int64{1},
		Amounts:     []CandidateAmount{{LineID: 999, Requested: 10}},
	})
	require.ErrorIs(t, err, ErrUnknownCandidate)
}

func TestCommitPostsAndReconciles(t *testing.T) {
	svc, repo, writer, audit, locks := newTestService()

	result, err := svc.Commit(context.Background(), CommitInput{
		DocumentIDs: []int64{1},
		Amounts:     []CandidateAmount{{LineID: 21, Requested: 100}},
		ActorID:     42,
	})
	require.NoError(t, err)
	require.Len(t, result.EntryIDs, 1)

	entry := writer.entries[result.EntryIDs[0]]
	require.NotNil(t, entry)
	require.True(t, entry.posted)
	require.Equal(t, int64(5), entry.input.JournalID)
	require.Equal(t, SourceModule, entry.input.SourceModule)
	require.Len(t, entry.lines, 2)

	require.Len(t, writer.links, 1)
	require.Len(t, writer.recs, 2)
	require.Equal(t, int64(11), writer.recs[0].settledLineID)
	require.InDelta(t, 100, writer.recs[0].amount, 0.005)
	require.Equal(t, int64(21), writer.recs[1].settledLineID)
	require.InDelta(t, 100, writer.recs[1].amount, 0.005)

	require.Len(t, audit.logs, 1)
	require.Equal(t, "clearing.commit", audit.logs[0].Action)
	require.Equal(t, int64(42), audit.logs[0].ActorID)

	require.Equal(t, 1, locks.acquired)
	require.Equal(t, 1, locks.released)

	// The settled source line is consumed; the candidate keeps its leftover.
	require.Zero(t, repo.sources[0].Residual)
	require.Contains(t, repo.full, int64(11))
	require.InDelta(t, 50, repo.candidates[0].Residual, 0.005)
	require.NotContains(t, repo.full, int64(21))
}

func TestCommitTwiceCannotReclearSettledLines(t *testing.T) {
	svc, repo, writer, _, _ := newTestService()

	in := CommitInput{
		DocumentIDs: []int64{1},
		Amounts:     []CandidateAmount{{LineID: 21, Requested: 100}},
	}
	_, err := svc.Commit(context.Background(), in)
	require.NoError(t, err)

	// Same request again: the candidate's residual dropped to 50, so the
	// requested 100 no longer fits.
	_, err = svc.Commit(context.Background(), in)
	require.ErrorIs(t, err, ErrAmountExceedsResidual)

	// A fitting amount still finds nothing to clear: the source line is
	// fully settled and excluded from the snapshot.
	_, err = svc.Commit(context.Background(), CommitInput{
		DocumentIDs: []int64{1},
		Amounts:     []CandidateAmount{{LineID: 21, Requested: 40}},
	})
	require.ErrorIs(t, err, ErrNothingToClear)

	var settled float64
	for _, rec := range writer.recs {
		if rec.settledLineID == 11 {
			settled += rec.amount
		}
	}
	require.InDelta(t, 100, settled, 0.005)
	require.Len(t, writer.entries, 1)
	require.Zero(t, repo.sources[0].Residual)
}

func TestCommitExplicitJournalSkipsDefault(t *testing.T) {
	svc, repo, writer, _, _ := newTestService()
	repo.journalID = 0

	result, err := svc.Commit(context.Background(), CommitInput{
		DocumentIDs: []int64{1},
		Amounts:     []CandidateAmount{{LineID: 21, Requested: 100}},
		JournalID:   9,
	})
	require.NoError(t, err)
	require.Equal(t, int64(9), writer.entries[result.EntryIDs[0]].input.JournalID)
}

func TestCommitNoDefaultJournal(t *testing.T) {
	svc, repo, _, _, _ := newTestService()
	repo.journalID = 0

	_, err := svc.Commit(context.Background(), CommitInput{
		DocumentIDs: []int64{1},
		Amounts:     []CandidateAmount{{LineID: 21, Requested: 100}},
	})
	require.ErrorIs(t, err, ErrNoDefaultJournal)
}

func TestCommitRejectsExcessiveAmount(t *testing.T) {
	svc, _, writer, _, _ := newTestService()

	_, err := svc.Commit(context.Background(), CommitInput{
		DocumentIDs: []int64{1},
		Amounts:     []CandidateAmount{{LineID: 21, Requested: 151}},
	})
	require.ErrorIs(t, err, ErrAmountExceedsResidual)
	require.Empty(t, writer.entries)
}

func TestCommitNothingToClear(t *testing.T) {
	svc, _, _, _, _ := newTestService()

	_, err := svc.Commit(context.Background(), CommitInput{
		DocumentIDs: []int64{1},
	})
	require.ErrorIs(t, err, ErrNothingToClear)
}

func TestCommitLockedPartner(t *testing.T) {
	svc, repo, writer, _, locks := newTestService()
	locks.locked = true

	_, err := svc.Commit(context.Background(), CommitInput{
		DocumentIDs: []int64{1},
		Amounts:     []CandidateAmount{{LineID: 21, Requested: 100}},
	})
	require.ErrorIs(t, err, ErrRunLocked)
	require.Empty(t, writer.entries)
	// The lock is taken before the snapshot; a locked run reads nothing.
	require.Zero(t, repo.candidateReads)
}

func TestEntryLookup(t *testing.T) {
	svc, _, _, _, _ := newTestService()

	result, err := svc.Commit(context.Background(), CommitInput{
		DocumentIDs: []int64{1},
		Amounts:     []CandidateAmount{{LineID: 21, Requested: 100}},
	})
	require.NoError(t, err)

	entry, err := svc.Entry(context.Background(), result.EntryIDs[0])
	require.NoError(t, err)
	require.Equal(t, journals.EntryStatusPosted, entry.Status)
	require.Len(t, entry.Lines, 2)
	require.InDelta(t, 100, entry.Lines[0].Debit, 0.005)
	require.InDelta(t, 100, entry.Lines[1].Credit, 0.005)

	_, err = svc.Entry(context.Background(), 404)
	require.ErrorIs(t, err, journals.ErrEntryNotFound)
}

func TestPolarityFor(t *testing.T) {
	require.Equal(t, PolarityReceivable, PolarityFor(DocTypeCustomerInvoice, false))
	require.Equal(t, PolarityPayable, PolarityFor(DocTypeCustomerInvoice, true))
	require.Equal(t, PolarityReceivable, PolarityFor(DocTypeCustomerRefund, false))
	require.Equal(t, PolarityReceivable, PolarityFor(DocTypeCustomerRefund, true))
	require.Equal(t, PolarityPayable, PolarityFor(DocTypeVendorBill, false))
	require.Equal(t, PolarityReceivable, PolarityFor(DocTypeVendorBill, true))
	require.Equal(t, PolarityPayable, PolarityFor(DocTypeVendorRefund, false))
	require.Equal(t, PolarityPayable, PolarityFor(DocTypeVendorRefund, true))
}
