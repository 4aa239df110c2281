package fineprocessing_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circulib/lending-engine-go/jobs/fineprocessing"
	"github.com/circulib/lending-engine-go/lending"
	"github.com/circulib/lending-engine-go/memoryengine"
	"github.com/circulib/lending-engine-go/testutil"
)

// countingLoanStore wraps the in-memory store to count fine writes.
type countingLoanStore struct {
	*memoryengine.LoanStore
	mu          sync.Mutex
	updateCalls int
}

func (s *countingLoanStore) UpdateFine(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (bool, error) {
	s.mu.Lock()
	s.updateCalls++
	s.mu.Unlock()

	return s.LoanStore.UpdateFine(ctx, id, amount)
}

func (s *countingLoanStore) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateCalls
}

type fineFixture struct {
	loans *countingLoanStore
	clock *testutil.AdjustableClock
}

func newFineFixture(t *testing.T) *fineFixture {
	t.Helper()

	return &fineFixture{
		loans: &countingLoanStore{LoanStore: memoryengine.NewLoanStore()},
		clock: testutil.NewAdjustableClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)),
	}
}

func (f *fineFixture) handler() *fineprocessing.Handler {
	fines := lending.NewFineCalculator(decimal.RequireFromString("0.50"))

	return fineprocessing.NewHandler(f.loans, fines, f.clock, nil)
}

func (f *fineFixture) givenOverdueLoan(t *testing.T, dueAt time.Time) lending.Loan {
	t.Helper()

	loan := lending.Loan{
		ID:         uuid.New(),
		ItemID:     uuid.New(),
		BorrowerID: uuid.New(),
		State:      lending.StateActive,
		BorrowedAt: dueAt.Add(-14 * 24 * time.Hour),
		DueAt:      dueAt,
	}
	require.NoError(t, f.loans.Create(context.Background(), loan, 5))

	applied, err := f.loans.MarkOverdue(context.Background(), loan.ID, f.clock.Now())
	require.NoError(t, err)
	require.True(t, applied)

	return loan
}

func Test_Handle_WritesTheRecomputedFine(t *testing.T) {
	// arrange: three whole days overdue
	f := newFineFixture(t)
	loan := f.givenOverdueLoan(t, f.clock.Now().Add(-3*24*time.Hour))

	// act
	err := f.handler().Handle(context.Background(), nil)

	// assert
	require.NoError(t, err)

	stored, err := f.loans.Get(context.Background(), loan.ID)
	require.NoError(t, err)
	require.True(t, stored.FineAmount.Valid)
	assert.True(t, stored.FineAmount.Decimal.Equal(decimal.RequireFromString("1.50")))
}

func Test_Handle_SkipsLoansWhoseStoredAmountAlreadyMatches(t *testing.T) {
	// arrange: the first run writes the fine, the second has nothing to change
	f := newFineFixture(t)
	f.givenOverdueLoan(t, f.clock.Now().Add(-3*24*time.Hour))
	handler := f.handler()
	require.NoError(t, handler.Handle(context.Background(), nil))
	require.Equal(t, 1, f.loans.updateCount())

	// act
	err := handler.Handle(context.Background(), nil)

	// assert
	require.NoError(t, err)
	assert.Equal(t, 1, f.loans.updateCount())
}

func Test_Handle_GrowsTheFineAsDaysPass(t *testing.T) {
	// arrange
	f := newFineFixture(t)
	loan := f.givenOverdueLoan(t, f.clock.Now().Add(-24*time.Hour))
	handler := f.handler()
	require.NoError(t, handler.Handle(context.Background(), nil))

	// act: one more day overdue
	f.clock.Advance(24 * time.Hour)
	err := handler.Handle(context.Background(), nil)

	// assert
	require.NoError(t, err)

	stored, err := f.loans.Get(context.Background(), loan.ID)
	require.NoError(t, err)
	require.True(t, stored.FineAmount.Valid)
	assert.True(t, stored.FineAmount.Decimal.Equal(decimal.RequireFromString("1.00")))
	assert.Equal(t, 2, f.loans.updateCount())
}

func Test_Handle_IgnoresActiveLoans(t *testing.T) {
	// arrange: an active loan not yet due
	f := newFineFixture(t)

	loan := lending.Loan{
		ID:         uuid.New(),
		ItemID:     uuid.New(),
		BorrowerID: uuid.New(),
		State:      lending.StateActive,
		BorrowedAt: f.clock.Now(),
		DueAt:      f.clock.Now().Add(14 * 24 * time.Hour),
	}
	require.NoError(t, f.loans.Create(context.Background(), loan, 5))

	// act
	err := f.handler().Handle(context.Background(), nil)

	// assert
	require.NoError(t, err)
	assert.Equal(t, 0, f.loans.updateCount())

	stored, err := f.loans.Get(context.Background(), loan.ID)
	require.NoError(t, err)
	assert.False(t, stored.FineAmount.Valid)
}
