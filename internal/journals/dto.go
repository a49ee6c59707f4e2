package journals

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostingLineInput describes a journal line for a posting request.
type PostingLineInput struct {
	AccountID int64
	PartnerID int64
	Label     string
	Debit     float64
	Credit    float64
	Currency  string
}

// PostingInput groups the fields required to create a clearing entry.
type PostingInput struct {
	JournalID    int64
	Date         time.Time
	Reference    string
	Currency     string
	SourceModule string
	SourceID     uuid.UUID
	PostedBy     int64
	Lines        []PostingLineInput
}

var (
	ErrTooFewLines = errors.New("journals: entry needs at least two lines")
	ErrUnbalanced  = errors.New("journals: debits and credits do not balance")
)

// Validate ensures posting input meets minimum criteria.
func (in PostingInput) Validate() error {
	if in.JournalID == 0 {
		return errors.New("journals: journal required")
	}
	if len(in.Lines) < 2 {
		return ErrTooFewLines
	}
	var debit, credit float64
	for idx, line := range in.Lines {
		if line.AccountID == 0 {
			return fmt.Errorf("journals: line %d missing account", idx)
		}
		if line.Debit < 0 || line.Credit < 0 {
			return fmt.Errorf("journals: line %d negative amount", idx)
		}
		if line.Debit > 0 && line.Credit > 0 {
			return fmt.Errorf("journals: line %d cannot be both debit and credit", idx)
		}
		debit += line.Debit
		credit += line.Credit
	}
	if fmt.Sprintf("%.2f", debit) != fmt.Sprintf("%.2f", credit) {
		return ErrUnbalanced
	}
	if in.SourceModule == "" {
		return errors.New("journals: source module required")
	}
	return nil
}
