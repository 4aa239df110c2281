package memoryengine_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circulib/lending-engine-go/lending"
	"github.com/circulib/lending-engine-go/memoryengine"
)

var loanTestNow = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func givenOpenLoan(t *testing.T, store *memoryengine.LoanStore, borrowerID, itemID uuid.UUID, dueAt time.Time) lending.Loan {
	t.Helper()

	loan := lending.Loan{
		ID:         uuid.New(),
		ItemID:     itemID,
		BorrowerID: borrowerID,
		State:      lending.StateActive,
		BorrowedAt: dueAt.Add(-14 * 24 * time.Hour),
		DueAt:      dueAt,
	}
	require.NoError(t, store.Create(context.Background(), loan, 5))

	return loan
}

func Test_Create_RejectsDuplicateOpenLoan(t *testing.T) {
	// arrange
	store := memoryengine.NewLoanStore()
	borrowerID := uuid.New()
	itemID := uuid.New()
	givenOpenLoan(t, store, borrowerID, itemID, loanTestNow.Add(14*24*time.Hour))

	// act
	err := store.Create(context.Background(), lending.Loan{
		ID:         uuid.New(),
		ItemID:     itemID,
		BorrowerID: borrowerID,
		State:      lending.StateActive,
		DueAt:      loanTestNow.Add(14 * 24 * time.Hour),
	}, 5)

	// assert
	assert.ErrorIs(t, err, lending.ErrDuplicateActiveLoan)
}

func Test_Create_EnforcesBorrowerLimit(t *testing.T) {
	// arrange
	store := memoryengine.NewLoanStore()
	borrowerID := uuid.New()

	for i := 0; i < 5; i++ {
		givenOpenLoan(t, store, borrowerID, uuid.New(), loanTestNow.Add(14*24*time.Hour))
	}

	// act
	err := store.Create(context.Background(), lending.Loan{
		ID:         uuid.New(),
		ItemID:     uuid.New(),
		BorrowerID: borrowerID,
		State:      lending.StateActive,
		DueAt:      loanTestNow.Add(14 * 24 * time.Hour),
	}, 5)

	// assert
	assert.ErrorIs(t, err, lending.ErrBorrowerLimitExceeded)
}

func Test_Create_ReturnedLoanDoesNotCountTowardsLimit(t *testing.T) {
	// arrange
	store := memoryengine.NewLoanStore()
	borrowerID := uuid.New()
	itemID := uuid.New()

	loan := givenOpenLoan(t, store, borrowerID, itemID, loanTestNow.Add(14*24*time.Hour))
	applied, err := store.MarkReturned(context.Background(), loan.ID, loanTestNow, decimal.NullDecimal{})
	require.NoError(t, err)
	require.True(t, applied)

	// act: the same borrower borrows the same item again
	err = store.Create(context.Background(), lending.Loan{
		ID:         uuid.New(),
		ItemID:     itemID,
		BorrowerID: borrowerID,
		State:      lending.StateActive,
		DueAt:      loanTestNow.Add(14 * 24 * time.Hour),
	}, 1)

	// assert
	assert.NoError(t, err)
}

func Test_MarkReturned_SecondCallIsNotApplied(t *testing.T) {
	// arrange
	store := memoryengine.NewLoanStore()
	loan := givenOpenLoan(t, store, uuid.New(), uuid.New(), loanTestNow.Add(14*24*time.Hour))

	// act
	first, err := store.MarkReturned(context.Background(), loan.ID, loanTestNow, decimal.NullDecimal{})
	require.NoError(t, err)

	second, err := store.MarkReturned(context.Background(), loan.ID, loanTestNow, decimal.NullDecimal{})
	require.NoError(t, err)

	// assert
	assert.True(t, first)
	assert.False(t, second)
}

func Test_MarkOverdue_OnlyAppliesToActiveLoansPastDue(t *testing.T) {
	// arrange
	store := memoryengine.NewLoanStore()
	dueAt := loanTestNow.Add(14 * 24 * time.Hour)
	loan := givenOpenLoan(t, store, uuid.New(), uuid.New(), dueAt)

	// act + assert: not yet due
	applied, err := store.MarkOverdue(context.Background(), loan.ID, dueAt)
	require.NoError(t, err)
	assert.False(t, applied)

	// past due
	applied, err = store.MarkOverdue(context.Background(), loan.ID, dueAt.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, applied)

	// already overdue, the transition must not re-apply
	applied, err = store.MarkOverdue(context.Background(), loan.ID, dueAt.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, applied)
}

func Test_UpdateFine_OnlyAppliesToOverdueUnpaidLoans(t *testing.T) {
	// arrange
	store := memoryengine.NewLoanStore()
	dueAt := loanTestNow.Add(14 * 24 * time.Hour)
	loan := givenOpenLoan(t, store, uuid.New(), uuid.New(), dueAt)
	amount := decimal.RequireFromString("1.50")

	// act + assert: still active
	applied, err := store.UpdateFine(context.Background(), loan.ID, amount)
	require.NoError(t, err)
	assert.False(t, applied)

	// overdue
	applied, err = store.MarkOverdue(context.Background(), loan.ID, dueAt.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = store.UpdateFine(context.Background(), loan.ID, amount)
	require.NoError(t, err)
	assert.True(t, applied)

	stored, err := store.Get(context.Background(), loan.ID)
	require.NoError(t, err)
	require.True(t, stored.FineAmount.Valid)
	assert.True(t, stored.FineAmount.Decimal.Equal(amount))
}

func Test_ListDueBefore_ReturnsOnlyActiveLoansPastTheInstant(t *testing.T) {
	// arrange
	store := memoryengine.NewLoanStore()
	duePast := givenOpenLoan(t, store, uuid.New(), uuid.New(), loanTestNow.Add(-time.Hour))
	givenOpenLoan(t, store, uuid.New(), uuid.New(), loanTestNow.Add(time.Hour))

	returned := givenOpenLoan(t, store, uuid.New(), uuid.New(), loanTestNow.Add(-2*time.Hour))
	applied, err := store.MarkReturned(context.Background(), returned.ID, loanTestNow, decimal.NullDecimal{})
	require.NoError(t, err)
	require.True(t, applied)

	// act
	due, err := store.ListDueBefore(context.Background(), loanTestNow, 100)

	// assert
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, duePast.ID, due[0].ID)
}

func Test_ListArchivalCandidates_ReturnsTerminalLoansClosedBeforeCutoff(t *testing.T) {
	// arrange
	store := memoryengine.NewLoanStore()
	cutoff := loanTestNow.Add(-2 * 365 * 24 * time.Hour)

	old := givenOpenLoan(t, store, uuid.New(), uuid.New(), cutoff.Add(-30*24*time.Hour))
	applied, err := store.MarkReturned(context.Background(), old.ID, cutoff.Add(-24*time.Hour), decimal.NullDecimal{})
	require.NoError(t, err)
	require.True(t, applied)

	recent := givenOpenLoan(t, store, uuid.New(), uuid.New(), loanTestNow.Add(-14*24*time.Hour))
	applied, err = store.MarkReturned(context.Background(), recent.ID, loanTestNow, decimal.NullDecimal{})
	require.NoError(t, err)
	require.True(t, applied)

	givenOpenLoan(t, store, uuid.New(), uuid.New(), loanTestNow.Add(14*24*time.Hour))

	// act
	candidates, err := store.ListArchivalCandidates(context.Background(), cutoff, 100)

	// assert
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, old.ID, candidates[0].ID)
}

func Test_CountOpenByItem_CountsActiveAndOverdueLoans(t *testing.T) {
	// arrange
	store := memoryengine.NewLoanStore()
	itemID := uuid.New()
	dueAt := loanTestNow.Add(-time.Hour)

	givenOpenLoan(t, store, uuid.New(), itemID, dueAt)

	overdue := givenOpenLoan(t, store, uuid.New(), itemID, dueAt)
	applied, err := store.MarkOverdue(context.Background(), overdue.ID, loanTestNow)
	require.NoError(t, err)
	require.True(t, applied)

	lost := givenOpenLoan(t, store, uuid.New(), itemID, dueAt)
	applied, err = store.MarkLost(context.Background(), lost.ID, loanTestNow)
	require.NoError(t, err)
	require.True(t, applied)

	// act
	open, err := store.CountOpenByItem(context.Background(), itemID)
	require.NoError(t, err)

	total, err := store.CountByItem(context.Background(), itemID)
	require.NoError(t, err)

	// assert
	assert.Equal(t, 2, open)
	assert.Equal(t, 3, total)
}
