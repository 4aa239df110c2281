package lending_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circulib/lending-engine-go/jobs/fineprocessing"
	"github.com/circulib/lending-engine-go/jobs/overduesweep"
	"github.com/circulib/lending-engine-go/lending"
	"github.com/circulib/lending-engine-go/notify"
	"github.com/circulib/lending-engine-go/testutil"
)

// The full loan lifecycle: borrow on day 0, overdue sweep on day 15 moves the
// loan to Overdue and notifies the borrower, fine processing prices the
// overdue days, and the late return on day 16 settles the recomputed fine.
func Test_LoanLifecycle_BorrowOverdueFineReturn(t *testing.T) {
	// arrange
	f := newServiceFixture(t, lending.DefaultSettings())
	itemID := f.givenItem(t, 1)
	borrowerID := uuid.New()

	sender := testutil.NewSenderSpy()
	resolver := testutil.NewStaticResolver(map[uuid.UUID]notify.Recipient{
		borrowerID: {Address: "reader@example.org", Name: "Pat"},
	})

	fines := lending.NewFineCalculator(f.settings.DailyFineRate)

	sweep := overduesweep.NewHandler(f.loans, f.ledger, fines, sender, resolver, f.clock, nil)
	pricing := fineprocessing.NewHandler(f.loans, fines, f.clock, nil)

	// day 0: borrow
	loan, err := f.service.Borrow(context.Background(), borrowerID, itemID)
	require.NoError(t, err)

	// day 15: sweep transitions the loan and notifies the borrower
	f.clock.Advance(15 * 24 * time.Hour)
	require.NoError(t, sweep.Handle(context.Background(), nil))

	stored, err := f.loans.Get(context.Background(), loan.ID)
	require.NoError(t, err)
	assert.Equal(t, lending.StateOverdue, stored.State)
	assert.True(t, sender.HasSent("reader@example.org", notify.TemplateOverdueNotice))

	// a second sweep is a no-op and must not re-notify
	require.NoError(t, sweep.Handle(context.Background(), nil))
	assert.Equal(t, 1, sender.SentCount())

	// day 15: fine processing prices one whole overdue day
	require.NoError(t, pricing.Handle(context.Background(), nil))

	stored, err = f.loans.Get(context.Background(), loan.ID)
	require.NoError(t, err)
	require.True(t, stored.FineAmount.Valid)
	assert.True(t, stored.FineAmount.Decimal.Equal(decimal.RequireFromString("0.50")))

	// day 16: the late return recomputes the fine from the same formula
	f.clock.Advance(24 * time.Hour)

	receipt, err := f.service.Return(context.Background(), loan.ID, borrowerID)
	require.NoError(t, err)
	assert.Equal(t, 2, receipt.DaysOverdue)
	assert.True(t, receipt.FineAmount.Equal(decimal.RequireFromString("1.00")))
	assert.Equal(t, 1, f.availableCopies(t, itemID))
}
