package clearing

import (
	"math"
	"strings"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/currency"
)

// AllocateInput is the full snapshot one allocation pass runs on. Sources
// must arrive grouped by document in document order; candidates in the
// order they should be consumed, with non-zero requested amounts.
type AllocateInput struct {
	Sources    []SourceLine
	Candidates []ClearingCandidate
	Rounding   currency.Rounding
	PartnerID  int64
	Currency   string
	Date       time.Time
	Reference  string
	LinePrefix string
}

// availability pairs a candidate with the amount still consumable from it.
// The slice is walked with an explicit cursor so that partial consumption
// carries forward across source lines and documents within one pass.
type availability struct {
	cand      ClearingCandidate
	remaining float64
}

// Allocate distributes the candidates' requested amounts across the source
// lines and returns one balanced draft entry per document that received a
// non-zero allocation. Pure computation: no I/O, no error conditions, inputs
// are assumed validated.
func Allocate(in AllocateInput) []DraftEntry {
	rnd := in.Rounding

	avail := make([]availability, 0, len(in.Candidates))
	for _, cand := range in.Candidates {
		if cand.Requested == 0 {
			continue
		}
		avail = append(avail, availability{cand: cand, remaining: cand.Requested})
	}

	var entries []DraftEntry
	cursor := 0
	for _, doc := range groupByDocument(in.Sources) {
		var lines []DraftLine
		for _, src := range doc.lines {
			for cursor < len(avail) && rnd.IsZero(avail[cursor].remaining) {
				cursor++
			}

			remaining := src.Residual
			var settled float64
			var candLines []DraftLine
			for i := cursor; i < len(avail); i++ {
				if rnd.IsZero(remaining) {
					break
				}
				if rnd.IsZero(avail[i].remaining) {
					continue
				}

				sign := clearSign(remaining, avail[i].remaining)
				used := amountToUse(remaining, sign*avail[i].remaining, rnd)

				settled += sign * used
				remaining -= used
				// The availability carries the opposite sign of the residual
				// it settles, so adding the used amount consumes it.
				avail[i].remaining += used

				debit, credit := getDebitCredit(used, rnd)
				candLines = append(candLines, DraftLine{
					Label:         buildLineName(in.LinePrefix, avail[i].cand.DocumentRef, avail[i].cand.Description),
					Debit:         debit,
					Credit:        credit,
					AccountID:     avail[i].cand.AccountID,
					PartnerID:     in.PartnerID,
					Currency:      in.Currency,
					SettlesLineID: avail[i].cand.LineID,
				})
			}

			// The source line's side comes from the settled balance, not
			// from what is left of the residual. A line that received no
			// net allocation contributes nothing, candidate lines included.
			debit, credit := getDebitCredit(settled, rnd)
			if rnd.IsZero(debit) && rnd.IsZero(credit) {
				continue
			}
			lines = append(lines, DraftLine{
				Label:         buildLineName(in.LinePrefix, src.DocumentRef, src.Description),
				Debit:         debit,
				Credit:        credit,
				AccountID:     src.AccountID,
				PartnerID:     in.PartnerID,
				Currency:      in.Currency,
				SettlesLineID: src.ID,
			})
			lines = append(lines, candLines...)
		}

		if len(lines) == 0 {
			continue
		}
		entries = append(entries, DraftEntry{
			DocumentID:  doc.id,
			DocumentRef: doc.ref,
			Currency:    in.Currency,
			Date:        in.Date,
			Reference:   in.Reference,
			Lines:       lines,
		})
	}
	return entries
}

type documentGroup struct {
	id    int64
	ref   string
	lines []SourceLine
}

// groupByDocument splits consecutive source lines sharing a document,
// preserving both document order and line order.
func groupByDocument(sources []SourceLine) []documentGroup {
	var groups []documentGroup
	for _, src := range sources {
		if n := len(groups); n > 0 && groups[n-1].id == src.DocumentID {
			groups[n-1].lines = append(groups[n-1].lines, src)
			continue
		}
		groups = append(groups, documentGroup{id: src.DocumentID, ref: src.DocumentRef, lines: []SourceLine{src}})
	}
	return groups
}

// clearSign is -1 when the two amounts carry opposite signs. Source
// residuals and clearing amounts are stored under opposite polarity
// conventions; the sign aligns them for netting.
func clearSign(a, b float64) float64 {
	if (a < 0 && b > 0) || (a > 0 && b < 0) {
		return -1
	}
	return 1
}

// amountToUse caps the transfer at whichever of the two sides has the
// smaller magnitude, choosing min or max by the fill direction so the
// result never overshoots either side.
func amountToUse(toFill, available float64, rnd currency.Rounding) float64 {
	amount := math.Max(toFill, available)
	if toFill > 0 {
		amount = math.Min(toFill, available)
	}
	return rnd.Round(amount)
}

// getDebitCredit derives non-negative debit and credit fields from one
// signed amount.
func getDebitCredit(amount float64, rnd currency.Rounding) (debit, credit float64) {
	if amount > 0 {
		return amount, 0
	}
	if rnd.IsZero(amount) {
		return 0, 0
	}
	return 0, -amount
}

// buildLineName joins the non-empty parts of prefix, document reference and
// line description. A description equal to the reference is dropped.
func buildLineName(prefix, docRef, desc string) string {
	parts := []string{prefix, docRef, desc}
	if desc == docRef {
		parts = parts[:2]
	}
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return strings.Join(out, " - ")
}
