package lending

import "errors"

// Borrow precondition errors. These are surfaced to the caller synchronously
// and are never retried - retrying does not change a logical conflict.
var (
	ErrItemNotFound          = errors.New("item not found")
	ErrItemUnavailable       = errors.New("no copies of the item are currently available")
	ErrDuplicateActiveLoan   = errors.New("borrower already holds an open loan for this item")
	ErrBorrowerLimitExceeded = errors.New("borrower has reached the active loan limit")
)

// Return precondition errors.
var (
	ErrLoanNotFound    = errors.New("loan not found")
	ErrNotOwner        = errors.New("loan does not belong to this borrower")
	ErrAlreadyReturned = errors.New("loan is no longer open")
)
