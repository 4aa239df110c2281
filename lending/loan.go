package lending

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LoanState is the state-machine field of a Loan.
//
// Transitions:
//
//	Active  -> Overdue  (overdue sweep, once now > DueAt)
//	Active  -> Returned (return)
//	Overdue -> Returned (return, with fine)
//	Active  -> Lost     (report lost)
//	Overdue -> Lost     (report lost)
//
// Returned and Lost are terminal; no transition leaves them.
type LoanState string

const (
	StateActive   LoanState = "active"
	StateOverdue  LoanState = "overdue"
	StateReturned LoanState = "returned"
	StateLost     LoanState = "lost"
)

// IsOpen reports whether the loan still claims a physical copy.
func (s LoanState) IsOpen() bool {
	return s == StateActive || s == StateOverdue
}

// IsTerminal reports whether the state permits no further transitions.
func (s LoanState) IsTerminal() bool {
	return s == StateReturned || s == StateLost
}

// Loan is a borrower's claim on one copy of an item for a bounded period.
// Loans are historical records and are never physically deleted; terminal
// loans older than the retention window become archival candidates.
type Loan struct {
	ID         uuid.UUID
	ItemID     uuid.UUID
	BorrowerID uuid.UUID
	BorrowedAt time.Time
	DueAt      time.Time
	ReturnedAt *time.Time
	State      LoanState
	FineAmount decimal.NullDecimal
	FinePaid   bool
}

// ReturnReceipt is handed back to the borrower after a successful return.
// FineAmount is zero when the loan was returned on time.
type ReturnReceipt struct {
	LoanID      uuid.UUID
	ItemID      uuid.UUID
	ReturnedAt  time.Time
	DaysOverdue int
	FineAmount  decimal.Decimal
}
