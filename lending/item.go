package lending

import (
	"time"

	"github.com/google/uuid"
)

// Item is one lendable title with a finite number of physical copies.
//
// Invariant: 0 <= AvailableCopies <= TotalCopies, and AvailableCopies equals
// TotalCopies minus the number of open (Active or Overdue) loans on the item.
// The ledger implementations enforce the bounds on every mutation; the
// reconciliation job restores the loan-count equality if drift is detected.
type Item struct {
	ID              uuid.UUID
	Title           string
	TotalCopies     int
	AvailableCopies int
	Active          bool
	AddedAt         time.Time
}
