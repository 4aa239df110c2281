package lending_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circulib/lending-engine-go/lending"
	"github.com/circulib/lending-engine-go/memoryengine"
	"github.com/circulib/lending-engine-go/testutil"
)

// enqueuerSpy records EnqueueAt calls made by the service.
type enqueuerSpy struct {
	mu    sync.Mutex
	calls []enqueuedJob
}

type enqueuedJob struct {
	kind    string
	payload any
	runAt   time.Time
}

func (e *enqueuerSpy) EnqueueAt(_ context.Context, kind string, payload any, runAt time.Time) (uuid.UUID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls, enqueuedJob{kind: kind, payload: payload, runAt: runAt})

	return uuid.New(), nil
}

func (e *enqueuerSpy) recorded() []enqueuedJob {
	e.mu.Lock()
	defer e.mu.Unlock()

	calls := make([]enqueuedJob, len(e.calls))
	copy(calls, e.calls)

	return calls
}

type serviceFixture struct {
	service  *lending.Service
	ledger   *memoryengine.InventoryLedger
	loans    *memoryengine.LoanStore
	enqueuer *enqueuerSpy
	clock    *testutil.AdjustableClock
	settings lending.Settings
}

func newServiceFixture(t *testing.T, settings lending.Settings) *serviceFixture {
	t.Helper()

	clock := testutil.NewAdjustableClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	ledger := memoryengine.NewInventoryLedger(nil)
	loans := memoryengine.NewLoanStore()
	enqueuer := &enqueuerSpy{}

	service := lending.NewService(ledger, loans, enqueuer, settings, lending.WithClock(clock))

	return &serviceFixture{
		service:  service,
		ledger:   ledger,
		loans:    loans,
		enqueuer: enqueuer,
		clock:    clock,
		settings: settings,
	}
}

func (f *serviceFixture) givenItem(t *testing.T, copies int) uuid.UUID {
	t.Helper()

	itemID := uuid.New()
	err := f.ledger.PutItem(context.Background(), lending.Item{
		ID:              itemID,
		Title:           "The Go Programming Language",
		TotalCopies:     copies,
		AvailableCopies: copies,
		Active:          true,
		AddedAt:         f.clock.Now(),
	})
	require.NoError(t, err)

	return itemID
}

func (f *serviceFixture) availableCopies(t *testing.T, itemID uuid.UUID) int {
	t.Helper()

	item, err := f.ledger.GetItem(context.Background(), itemID)
	require.NoError(t, err)

	return item.AvailableCopies
}

func Test_Borrow_Success(t *testing.T) {
	// arrange
	f := newServiceFixture(t, lending.DefaultSettings())
	itemID := f.givenItem(t, 3)
	borrowerID := uuid.New()

	// act
	loan, err := f.service.Borrow(context.Background(), borrowerID, itemID)

	// assert
	require.NoError(t, err)
	assert.Equal(t, lending.StateActive, loan.State)
	assert.Equal(t, itemID, loan.ItemID)
	assert.Equal(t, borrowerID, loan.BorrowerID)
	assert.Equal(t, f.clock.Now().Add(14*24*time.Hour), loan.DueAt)
	assert.Equal(t, 2, f.availableCopies(t, itemID))
}

func Test_Borrow_SchedulesReminderAtLeadTimeBeforeDueDate(t *testing.T) {
	// arrange
	f := newServiceFixture(t, lending.DefaultSettings())
	itemID := f.givenItem(t, 1)

	// act
	loan, err := f.service.Borrow(context.Background(), uuid.New(), itemID)

	// assert
	require.NoError(t, err)

	calls := f.enqueuer.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, lending.ReminderJobKind, calls[0].kind)
	assert.Equal(t, loan.DueAt.Add(-2*24*time.Hour), calls[0].runAt)
	assert.Equal(t, lending.ReminderPayload{LoanID: loan.ID}, calls[0].payload)
}

func Test_Borrow_SkipsReminderWhenInstantAlreadyPast(t *testing.T) {
	// arrange: a loan period shorter than the reminder lead time
	settings := lending.DefaultSettings()
	settings.LoanPeriod = 24 * time.Hour
	settings.ReminderLeadTime = 2 * 24 * time.Hour

	f := newServiceFixture(t, settings)
	itemID := f.givenItem(t, 1)

	// act
	_, err := f.service.Borrow(context.Background(), uuid.New(), itemID)

	// assert
	require.NoError(t, err)
	assert.Empty(t, f.enqueuer.recorded())
}

func Test_Borrow_FailsWhenNoCopyAvailable(t *testing.T) {
	// arrange
	f := newServiceFixture(t, lending.DefaultSettings())
	itemID := f.givenItem(t, 1)

	_, err := f.service.Borrow(context.Background(), uuid.New(), itemID)
	require.NoError(t, err)

	// act
	_, err = f.service.Borrow(context.Background(), uuid.New(), itemID)

	// assert
	assert.ErrorIs(t, err, lending.ErrItemUnavailable)
}

func Test_Borrow_FailsForUnknownItem(t *testing.T) {
	f := newServiceFixture(t, lending.DefaultSettings())

	_, err := f.service.Borrow(context.Background(), uuid.New(), uuid.New())

	assert.ErrorIs(t, err, lending.ErrItemNotFound)
}

func Test_Borrow_RejectsDuplicateActiveLoan(t *testing.T) {
	// arrange
	f := newServiceFixture(t, lending.DefaultSettings())
	itemID := f.givenItem(t, 3)
	borrowerID := uuid.New()

	_, err := f.service.Borrow(context.Background(), borrowerID, itemID)
	require.NoError(t, err)

	// act
	_, err = f.service.Borrow(context.Background(), borrowerID, itemID)

	// assert: rejected, and the reservation was rolled back
	assert.ErrorIs(t, err, lending.ErrDuplicateActiveLoan)
	assert.Equal(t, 2, f.availableCopies(t, itemID))
}

func Test_Borrow_RejectsWhenBorrowerLimitReached(t *testing.T) {
	// arrange
	f := newServiceFixture(t, lending.DefaultSettings())
	borrowerID := uuid.New()

	for i := 0; i < 5; i++ {
		itemID := f.givenItem(t, 1)
		_, err := f.service.Borrow(context.Background(), borrowerID, itemID)
		require.NoError(t, err)
	}

	sixthItem := f.givenItem(t, 1)

	// act
	_, err := f.service.Borrow(context.Background(), borrowerID, sixthItem)

	// assert: rejected, and the reservation was rolled back
	assert.ErrorIs(t, err, lending.ErrBorrowerLimitExceeded)
	assert.Equal(t, 1, f.availableCopies(t, sixthItem))
}

func Test_Borrow_ConcurrentAttemptsNeverOversell(t *testing.T) {
	// arrange
	f := newServiceFixture(t, lending.DefaultSettings())
	itemID := f.givenItem(t, 3)

	const attempts = 10

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)

	// act
	for i := 0; i < attempts; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if _, err := f.service.Borrow(context.Background(), uuid.New(), itemID); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	// assert: exactly as many successes as copies, none lost, none oversold
	assert.Equal(t, 3, successes)
	assert.Equal(t, 0, f.availableCopies(t, itemID))
}

func Test_Return_OnTime_NoFine(t *testing.T) {
	// arrange
	f := newServiceFixture(t, lending.DefaultSettings())
	itemID := f.givenItem(t, 1)
	borrowerID := uuid.New()

	loan, err := f.service.Borrow(context.Background(), borrowerID, itemID)
	require.NoError(t, err)

	f.clock.Advance(10 * 24 * time.Hour)

	// act
	receipt, err := f.service.Return(context.Background(), loan.ID, borrowerID)

	// assert
	require.NoError(t, err)
	assert.Equal(t, 0, receipt.DaysOverdue)
	assert.True(t, receipt.FineAmount.IsZero())
	assert.Equal(t, 1, f.availableCopies(t, itemID))

	stored, err := f.loans.Get(context.Background(), loan.ID)
	require.NoError(t, err)
	assert.Equal(t, lending.StateReturned, stored.State)
	assert.False(t, stored.FineAmount.Valid)
}

func Test_Return_Late_ComputesFine(t *testing.T) {
	// arrange: 14-day loan returned 16 days after borrowing
	f := newServiceFixture(t, lending.DefaultSettings())
	itemID := f.givenItem(t, 1)
	borrowerID := uuid.New()

	loan, err := f.service.Borrow(context.Background(), borrowerID, itemID)
	require.NoError(t, err)

	f.clock.Advance(16 * 24 * time.Hour)

	// act
	receipt, err := f.service.Return(context.Background(), loan.ID, borrowerID)

	// assert: 2 whole days overdue at 0.50 per day
	require.NoError(t, err)
	assert.Equal(t, 2, receipt.DaysOverdue)
	assert.True(t, receipt.FineAmount.Equal(decimal.RequireFromString("1.00")))

	stored, err := f.loans.Get(context.Background(), loan.ID)
	require.NoError(t, err)
	require.True(t, stored.FineAmount.Valid)
	assert.True(t, stored.FineAmount.Decimal.Equal(decimal.RequireFromString("1.00")))
}

func Test_Return_FailsForForeignLoan(t *testing.T) {
	// arrange
	f := newServiceFixture(t, lending.DefaultSettings())
	itemID := f.givenItem(t, 1)
	borrowerID := uuid.New()

	loan, err := f.service.Borrow(context.Background(), borrowerID, itemID)
	require.NoError(t, err)

	// act
	_, err = f.service.Return(context.Background(), loan.ID, uuid.New())

	// assert
	assert.ErrorIs(t, err, lending.ErrNotOwner)
}

func Test_Return_FailsWhenAlreadyReturned(t *testing.T) {
	// arrange
	f := newServiceFixture(t, lending.DefaultSettings())
	itemID := f.givenItem(t, 1)
	borrowerID := uuid.New()

	loan, err := f.service.Borrow(context.Background(), borrowerID, itemID)
	require.NoError(t, err)

	_, err = f.service.Return(context.Background(), loan.ID, borrowerID)
	require.NoError(t, err)

	// act
	_, err = f.service.Return(context.Background(), loan.ID, borrowerID)

	// assert
	assert.ErrorIs(t, err, lending.ErrAlreadyReturned)
	assert.Equal(t, 1, f.availableCopies(t, itemID), "double return must not release a second copy")
}

func Test_Return_FailsForUnknownLoan(t *testing.T) {
	f := newServiceFixture(t, lending.DefaultSettings())

	_, err := f.service.Return(context.Background(), uuid.New(), uuid.New())

	assert.ErrorIs(t, err, lending.ErrLoanNotFound)
}

func Test_ReportLost_RemovesCopyFromCirculation(t *testing.T) {
	// arrange
	f := newServiceFixture(t, lending.DefaultSettings())
	itemID := f.givenItem(t, 2)
	borrowerID := uuid.New()

	loan, err := f.service.Borrow(context.Background(), borrowerID, itemID)
	require.NoError(t, err)

	// act
	lost, err := f.service.ReportLost(context.Background(), loan.ID, borrowerID)

	// assert: the copy is gone for good, not back in circulation
	require.NoError(t, err)
	assert.Equal(t, lending.StateLost, lost.State)

	item, err := f.ledger.GetItem(context.Background(), itemID)
	require.NoError(t, err)
	assert.Equal(t, 1, item.TotalCopies)
	assert.Equal(t, 1, item.AvailableCopies)
}

func Test_ReportLost_FailsWhenLoanAlreadyClosed(t *testing.T) {
	// arrange
	f := newServiceFixture(t, lending.DefaultSettings())
	itemID := f.givenItem(t, 1)
	borrowerID := uuid.New()

	loan, err := f.service.Borrow(context.Background(), borrowerID, itemID)
	require.NoError(t, err)

	_, err = f.service.Return(context.Background(), loan.ID, borrowerID)
	require.NoError(t, err)

	// act
	_, err = f.service.ReportLost(context.Background(), loan.ID, borrowerID)

	// assert
	assert.ErrorIs(t, err, lending.ErrAlreadyReturned)
}
