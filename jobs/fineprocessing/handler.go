// Package fineprocessing implements the recurring job that recomputes the
// accumulated fine for every Overdue loan whose fine is not yet paid.
package fineprocessing

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/circulib/lending-engine-go/lending"
)

// JobKind is the scheduler job kind handled by this package.
const JobKind = "lending.fine_processing"

const listBatchSize = 500

const (
	logMsgRunCompleted  = "fine processing completed"
	logAttrUpdatedCount = "updated_count"
)

// LoanStore is the slice of the loan store fine processing needs.
type LoanStore interface {
	ListOverdueUnpaid(ctx context.Context, limit int) ([]lending.Loan, error)
	UpdateFine(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (bool, error)
}

// Handler recomputes fines from scratch on every run. The fine is a pure
// function of the due date and the current time, so running the job twice in
// the same day writes the same amount and nothing accumulates twice.
type Handler struct {
	loans  LoanStore
	fines  lending.FineCalculator
	clock  lending.Clock
	logger lending.ContextualLogger
}

// NewHandler creates the fine processing handler. logger may be nil.
func NewHandler(
	loans LoanStore,
	fines lending.FineCalculator,
	clock lending.Clock,
	logger lending.ContextualLogger,
) *Handler {

	return &Handler{
		loans:  loans,
		fines:  fines,
		clock:  clock,
		logger: logger,
	}
}

// Handle lists Overdue loans with unpaid fines and writes the recomputed
// amount for each. Loans whose stored amount already matches are skipped
// without a write.
func (h *Handler) Handle(ctx context.Context, _ []byte) error {
	now := h.clock.Now()

	overdue, err := h.loans.ListOverdueUnpaid(ctx, listBatchSize)
	if err != nil {
		return err
	}

	updated := 0

	for _, loan := range overdue {
		amount := h.fines.Compute(lending.DaysOverdue(now, loan.DueAt))

		if loan.FineAmount.Valid && loan.FineAmount.Decimal.Equal(amount) {
			continue
		}

		applied, updateErr := h.loans.UpdateFine(ctx, loan.ID, amount)
		if updateErr != nil {
			return updateErr
		}
		if applied {
			updated++
		}
	}

	if h.logger != nil {
		h.logger.InfoContext(ctx, logMsgRunCompleted, logAttrUpdatedCount, updated)
	}

	return nil
}
