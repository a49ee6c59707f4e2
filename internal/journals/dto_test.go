package journals

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validPosting() PostingInput {
	return PostingInput{
		JournalID:    5,
		Date:         time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		Reference:    "Clearing operation",
		Currency:     "USD",
		SourceModule: "CLEARING",
		Lines: []PostingLineInput{
			{AccountID: 400, Label: "a", Debit: 100, Currency: "USD"},
			{AccountID: 401, Label: "b", Credit: 100, Currency: "USD"},
		},
	}
}

func TestPostingInputValidate(t *testing.T) {
	require.NoError(t, validPosting().Validate())
}

func TestPostingInputValidateRejects(t *testing.T) {
	in := validPosting()
	in.JournalID = 0
	require.Error(t, in.Validate())

	in = validPosting()
	in.Lines = in.Lines[:1]
	require.ErrorIs(t, in.Validate(), ErrTooFewLines)

	in = validPosting()
	in.Lines[1].Credit = 90
	require.ErrorIs(t, in.Validate(), ErrUnbalanced)

	in = validPosting()
	in.Lines[0].AccountID = 0
	require.Error(t, in.Validate())

	in = validPosting()
	in.Lines[0].Debit = -1
	require.Error(t, in.Validate())

	in = validPosting()
	in.Lines[0].Credit = 5
	require.Error(t, in.Validate())

	in = validPosting()
	in.SourceModule = ""
	require.Error(t, in.Validate())
}

func TestPostingInputValidateToleratesRoundingDust(t *testing.T) {
	in := validPosting()
	in.Lines[0].Debit = 100.001
	in.Lines[1].Credit = 100.004
	require.NoError(t, in.Validate())
}
