package lending

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReminderJobKind is the scheduler job kind for the one-shot due-date
// reminder scheduled at borrow time; handled by jobs/reminderdelivery.
const ReminderJobKind = "lending.reminder_delivery"

// ReminderPayload is the payload of a ReminderJobKind job. The payload only
// carries the loan id - the handler re-reads the loan at execution time, so a
// reminder for a loan that was returned in the meantime becomes a no-op.
type ReminderPayload struct {
	LoanID uuid.UUID `json:"loan_id"`
}

const (
	logMsgLoanBorrowed            = "loan created"
	logMsgLoanReturned            = "loan returned"
	logMsgLoanReportedLost        = "loan reported lost"
	logMsgReminderScheduleFailed  = "failed to schedule due-date reminder"
	logMsgReminderSkipped         = "reminder instant already in the past, not scheduled"
	logMsgReservationRolledBack   = "loan create failed, reservation released"
	logMsgReleaseAfterCloseFailed = "failed to release copy after closing loan"
	logAttrLoanID                 = "loan_id"
	logAttrItemID                 = "item_id"
	logAttrBorrowerID             = "borrower_id"
	logAttrDueAt                  = "due_at"
	logAttrDaysOverdue            = "days_overdue"
	logAttrFineAmount             = "fine_amount"
	logAttrError                  = "error"
)

// JobEnqueuer is the slice of the scheduler the lending service needs:
// enqueueing a one-shot job for a future instant. *scheduler.Scheduler
// satisfies it.
type JobEnqueuer interface {
	EnqueueAt(ctx context.Context, kind string, payload any, runAt time.Time) (uuid.UUID, error)
}

// Service orchestrates borrow and return against the InventoryLedger and the
// LoanStore, applies the FineCalculator, and emits follow-up work to the
// scheduler. All dependencies are explicit constructor inputs so the service
// can be exercised deterministically with substitutable fakes.
type Service struct {
	ledger   InventoryLedger
	loans    LoanStore
	enqueuer JobEnqueuer
	fines    FineCalculator
	settings Settings
	clock    Clock
	logger   Logger
}

// Option defines a functional option for configuring a Service.
type Option func(*Service)

// WithClock substitutes the clock, enabling deterministic tests.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// WithLogger sets the logger for the Service.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a Service. The enqueuer may be nil, in which case no
// reminders are scheduled (the recurring overdue sweep still covers overdue
// detection).
func NewService(
	ledger InventoryLedger,
	loans LoanStore,
	enqueuer JobEnqueuer,
	settings Settings,
	options ...Option,
) *Service {

	s := &Service{
		ledger:   ledger,
		loans:    loans,
		enqueuer: enqueuer,
		fines:    NewFineCalculator(settings.DailyFineRate),
		settings: settings,
		clock:    SystemClock{},
	}

	for _, option := range options {
		option(s)
	}

	return s
}

// Borrow lends one copy of the item to the borrower.
//
// The reservation is an atomic compare-and-decrement on the ledger, and the
// duplicate/limit checks are evaluated atomically with the loan insert, so
// concurrent borrow attempts for the last remaining copy result in exactly
// one success with the rest failing with ErrItemUnavailable.
//
// On success a one-shot reminder job is scheduled for DueAt minus the
// configured lead time, skipped when that instant is already in the past.
func (s *Service) Borrow(ctx context.Context, borrowerID uuid.UUID, itemID uuid.UUID) (Loan, error) {
	now := s.clock.Now()

	loan := Loan{
		ID:         uuid.New(),
		ItemID:     itemID,
		BorrowerID: borrowerID,
		BorrowedAt: now,
		DueAt:      now.Add(s.settings.LoanPeriod),
		State:      StateActive,
	}

	if err := s.ledger.TryReserve(ctx, itemID); err != nil {
		return Loan{}, err
	}

	if err := s.loans.Create(ctx, loan, s.settings.MaxActiveLoansPerBorrower); err != nil {
		s.rollbackReservation(ctx, itemID, err)
		return Loan{}, err
	}

	s.scheduleReminder(ctx, loan, now)

	s.logInfo(logMsgLoanBorrowed,
		logAttrLoanID, loan.ID.String(),
		logAttrItemID, itemID.String(),
		logAttrBorrowerID, borrowerID.String(),
		logAttrDueAt, loan.DueAt)

	return loan, nil
}

// Return closes an open loan held by the given borrower and releases the
// copy back into inventory. When the loan is past due, the fine is computed
// from the canonical daysOverdue formula and recorded on the loan; the
// receipt carries it for display.
func (s *Service) Return(ctx context.Context, loanID uuid.UUID, borrowerID uuid.UUID) (ReturnReceipt, error) {
	loan, err := s.openLoanOwnedBy(ctx, loanID, borrowerID)
	if err != nil {
		return ReturnReceipt{}, err
	}

	now := s.clock.Now()
	daysOverdue := DaysOverdue(now, loan.DueAt)

	var fine decimal.NullDecimal
	fineAmount := decimal.Zero

	if daysOverdue > 0 {
		fineAmount = s.fines.Compute(daysOverdue)
		fine = decimal.NullDecimal{Decimal: fineAmount, Valid: true}
	}

	applied, err := s.loans.MarkReturned(ctx, loan.ID, now, fine)
	if err != nil {
		return ReturnReceipt{}, err
	}
	if !applied {
		return ReturnReceipt{}, ErrAlreadyReturned // lost the race against a concurrent return
	}

	s.releaseAfterClose(ctx, loan.ItemID, loan.ID)

	s.logInfo(logMsgLoanReturned,
		logAttrLoanID, loan.ID.String(),
		logAttrItemID, loan.ItemID.String(),
		logAttrDaysOverdue, daysOverdue,
		logAttrFineAmount, fineAmount.String())

	return ReturnReceipt{
		LoanID:      loan.ID,
		ItemID:      loan.ItemID,
		ReturnedAt:  now,
		DaysOverdue: daysOverdue,
		FineAmount:  fineAmount,
	}, nil
}

// ReportLost marks an open loan as Lost and removes the missing copy from
// circulation, shrinking TotalCopies so the availability invariant keeps
// holding without the copy ever becoming borrowable again.
func (s *Service) ReportLost(ctx context.Context, loanID uuid.UUID, borrowerID uuid.UUID) (Loan, error) {
	loan, err := s.openLoanOwnedBy(ctx, loanID, borrowerID)
	if err != nil {
		return Loan{}, err
	}

	now := s.clock.Now()

	applied, err := s.loans.MarkLost(ctx, loan.ID, now)
	if err != nil {
		return Loan{}, err
	}
	if !applied {
		return Loan{}, ErrAlreadyReturned
	}

	if removeErr := s.ledger.RemoveCopy(ctx, loan.ItemID); removeErr != nil {
		s.logError(logMsgReleaseAfterCloseFailed,
			logAttrLoanID, loan.ID.String(),
			logAttrItemID, loan.ItemID.String(),
			logAttrError, removeErr.Error())
	}

	s.logInfo(logMsgLoanReportedLost,
		logAttrLoanID, loan.ID.String(),
		logAttrItemID, loan.ItemID.String())

	loan.State = StateLost

	return loan, nil
}

// openLoanOwnedBy loads the loan and checks the return preconditions.
func (s *Service) openLoanOwnedBy(ctx context.Context, loanID uuid.UUID, borrowerID uuid.UUID) (Loan, error) {
	loan, err := s.loans.Get(ctx, loanID)
	if err != nil {
		return Loan{}, err
	}

	if loan.BorrowerID != borrowerID {
		return Loan{}, ErrNotOwner
	}

	if !loan.State.IsOpen() {
		return Loan{}, ErrAlreadyReturned
	}

	return loan, nil
}

// rollbackReservation compensates a reservation whose loan insert failed.
func (s *Service) rollbackReservation(ctx context.Context, itemID uuid.UUID, createErr error) {
	if releaseErr := s.ledger.Release(ctx, itemID); releaseErr != nil && !errors.Is(releaseErr, ErrItemNotFound) {
		s.logError(logMsgReleaseAfterCloseFailed,
			logAttrItemID, itemID.String(),
			logAttrError, releaseErr.Error())
		return
	}

	s.logDebug(logMsgReservationRolledBack,
		logAttrItemID, itemID.String(),
		logAttrError, createErr.Error())
}

// releaseAfterClose returns the copy to inventory once the loan is closed.
// The loan transition has already committed at this point, so a release
// failure is logged for the reconciliation sweep to correct rather than
// surfaced to the borrower.
func (s *Service) releaseAfterClose(ctx context.Context, itemID uuid.UUID, loanID uuid.UUID) {
	if err := s.ledger.Release(ctx, itemID); err != nil {
		s.logError(logMsgReleaseAfterCloseFailed,
			logAttrLoanID, loanID.String(),
			logAttrItemID, itemID.String(),
			logAttrError, err.Error())
	}
}

// scheduleReminder enqueues the one-shot due-date reminder. Scheduling is
// best-effort: a failure never rolls back the loan, it only loses the
// reminder while overdue handling stays covered by the recurring sweep.
func (s *Service) scheduleReminder(ctx context.Context, loan Loan, now time.Time) {
	if s.enqueuer == nil {
		return
	}

	runAt := loan.DueAt.Add(-s.settings.ReminderLeadTime)
	if !runAt.After(now) {
		s.logDebug(logMsgReminderSkipped, logAttrLoanID, loan.ID.String())
		return
	}

	if _, err := s.enqueuer.EnqueueAt(ctx, ReminderJobKind, ReminderPayload{LoanID: loan.ID}, runAt); err != nil {
		s.logWarn(logMsgReminderScheduleFailed,
			logAttrLoanID, loan.ID.String(),
			logAttrError, err.Error())
	}
}

func (s *Service) logDebug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *Service) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Service) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *Service) logError(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Error(msg, args...)
	}
}
