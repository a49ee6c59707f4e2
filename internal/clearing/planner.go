package clearing

import (
	"fmt"
	"math"

	"github.com/meridian-erp/meridian-erp/internal/currency"
)

// Plan assigns a clearing amount to every candidate that has none yet,
// greedily filling candidates in their given order until target is spent.
// Target is the inverted remaining amount to clear (source residuals are
// stored negative, so the caller passes the negated run total).
//
// Candidates with an amount already assigned are skipped, so re-running the
// planner only fills the unset remainder.
func Plan(target float64, candidates []ClearingCandidate, rnd currency.Rounding) {
	for i := range candidates {
		cand := &candidates[i]
		if cand.Requested != 0 {
			continue
		}
		switch {
		case rnd.IsZero(target):
			cand.Requested = 0
		case residualFits(target, cand.Residual):
			cand.Requested = cand.Residual
			target -= cand.Residual
		default:
			cand.Requested = target
			target = 0
		}
	}
}

// residualFits reports whether the whole candidate residual fits within the
// remaining target. The comparator direction depends on the residual sign:
// negative residuals fill while the target stays at or below them, positive
// residuals while it stays at or above.
func residualFits(target, residual float64) bool {
	if residual < 0 {
		return target <= residual
	}
	return target >= residual
}

// ValidateCandidates rejects any candidate asked to cover more than its own
// available residual. Invoked at commit time, before any entry is built.
func ValidateCandidates(candidates []ClearingCandidate) error {
	for _, cand := range candidates {
		if math.Abs(cand.Requested) > math.Abs(cand.Residual) {
			return fmt.Errorf("%w: line %d requested %.2f of %.2f",
				ErrAmountExceedsResidual, cand.LineID, cand.Requested, cand.Residual)
		}
	}
	return nil
}

// UseFullResidual assigns to one candidate the remaining run amount, capped
// at the candidate's own residual. A run with nothing left to clear is a
// no-op.
func UseFullResidual(run *Run, lineID int64, rnd currency.Rounding) error {
	for i := range run.Candidates {
		cand := &run.Candidates[i]
		if cand.LineID != lineID {
			continue
		}
		toClear := run.AmountToClear()
		if rnd.IsZero(toClear) {
			return nil
		}
		amount := -toClear
		if residualFits(amount, cand.Residual) {
			amount = cand.Residual
		}
		cand.Requested = amount
		return nil
	}
	return fmt.Errorf("%w: line %d", ErrUnknownCandidate, lineID)
}
