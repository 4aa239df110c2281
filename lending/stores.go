package lending

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InventoryLedger owns the per-item copy counts. Implementations must make
// TryReserve an atomic compare-and-decrement (never read-then-write), so that
// concurrent borrowers racing for the last copy produce exactly one success.
type InventoryLedger interface {
	// PutItem creates or replaces an item record. Catalog management is
	// outside the core; this is the boundary it calls through.
	PutItem(ctx context.Context, item Item) error

	// GetItem returns the item or ErrItemNotFound.
	GetItem(ctx context.Context, id uuid.UUID) (Item, error)

	// ListItems returns all items; used by the reconciliation sweep.
	ListItems(ctx context.Context) ([]Item, error)

	// TryReserve atomically decrements AvailableCopies if and only if it
	// is currently greater than zero. Returns ErrItemUnavailable when no
	// copy is free, ErrItemNotFound when the item does not exist.
	TryReserve(ctx context.Context, id uuid.UUID) error

	// Release atomically increments AvailableCopies, clamped so it never
	// exceeds TotalCopies. A clamp hit indicates a reconciliation bug and
	// must be logged as a data-integrity warning by the implementation.
	Release(ctx context.Context, id uuid.UUID) error

	// RemoveCopy atomically decrements TotalCopies, used when a checked
	// out copy is reported lost. AvailableCopies is left untouched - the
	// lost copy was not available.
	RemoveCopy(ctx context.Context, id uuid.UUID) error

	// Reconcile sets AvailableCopies to the expected value derived from
	// the open-loan count. It reports whether the stored value changed
	// and what it was before; any change indicates prior drift and is
	// logged as a warning by the reconciliation job.
	Reconcile(ctx context.Context, id uuid.UUID, expectedAvailable int) (changed bool, previous int, err error)
}

// LoanStore is the durable record of loan instances. All state transitions
// are compare-and-swap style: they only apply when the loan is still in a
// state the transition is legal from, and report whether they applied, so a
// lost race never moves a loan out of a terminal state.
type LoanStore interface {
	// Create persists a new Active loan. It fails with
	// ErrDuplicateActiveLoan when the borrower already holds an open loan
	// for the same item, and with ErrBorrowerLimitExceeded when the
	// borrower's open-loan count has reached maxActivePerBorrower. Both
	// checks are evaluated atomically with the insert.
	Create(ctx context.Context, loan Loan, maxActivePerBorrower int) error

	// Get returns the loan or ErrLoanNotFound.
	Get(ctx context.Context, id uuid.UUID) (Loan, error)

	// MarkReturned transitions an open loan to Returned, recording
	// returnedAt and the fine (if any). Returns false when the loan was
	// no longer open.
	MarkReturned(ctx context.Context, id uuid.UUID, returnedAt time.Time, fine decimal.NullDecimal) (bool, error)

	// MarkLost transitions an open loan to Lost. Returns false when the
	// loan was no longer open.
	MarkLost(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	// MarkOverdue transitions an Active loan whose due date has passed to
	// Overdue. Returns false when the loan was not Active anymore or not
	// yet due at the given instant.
	MarkOverdue(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)

	// UpdateFine sets the fine amount on an Overdue, unpaid loan.
	// Returns false when the loan no longer qualifies.
	UpdateFine(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (bool, error)

	// ListDueBefore returns Active loans with DueAt earlier than now.
	ListDueBefore(ctx context.Context, now time.Time, limit int) ([]Loan, error)

	// ListOverdueUnpaid returns Overdue loans whose fine is not paid.
	ListOverdueUnpaid(ctx context.Context, limit int) ([]Loan, error)

	// CountOpenByBorrower returns the number of open loans held by the borrower.
	CountOpenByBorrower(ctx context.Context, borrowerID uuid.UUID) (int, error)

	// CountOpenByItem returns the number of open loans on the item.
	CountOpenByItem(ctx context.Context, itemID uuid.UUID) (int, error)

	// CountByItem returns the total number of loans ever recorded for the
	// item; zero means the item has no lending history.
	CountByItem(ctx context.Context, itemID uuid.UUID) (int, error)

	// ListArchivalCandidates returns terminal loans whose lifecycle ended
	// before the cutoff. Candidates are flagged, never deleted.
	ListArchivalCandidates(ctx context.Context, cutoff time.Time, limit int) ([]Loan, error)
}
