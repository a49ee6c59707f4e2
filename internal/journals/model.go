// Package journals persists clearing journal entries and the reconciliation
// links that tie their lines back to the open ledger lines they settle.
package journals

import (
	"time"

	"github.com/google/uuid"
)

// EntryStatus enumerates entry lifecycle values.
type EntryStatus string

const (
	EntryStatusDraft  EntryStatus = "DRAFT"
	EntryStatusPosted EntryStatus = "POSTED"
)

// Entry captures posting metadata for one clearing journal entry.
type Entry struct {
	ID           int64
	Number       int64
	JournalID    int64
	Date         time.Time
	Reference    string
	Currency     string
	SourceModule string
	SourceID     uuid.UUID
	PostedBy     int64
	PostedAt     *time.Time
	Status       EntryStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Lines        []Line
}

// Line stores a debit or credit amount for an account, labeled and tagged
// with the run's partner and currency.
type Line struct {
	ID        int64
	EntryID   int64
	AccountID int64
	PartnerID int64
	Label     string
	Debit     float64
	Credit    float64
	Currency  string
	CreatedAt time.Time
}

// Reconciliation links a created entry line with the open ledger line it
// settles.
type Reconciliation struct {
	ID            int64
	EntryLineID   int64
	SettledLineID int64
	Amount        float64
	CreatedAt     time.Time
}
