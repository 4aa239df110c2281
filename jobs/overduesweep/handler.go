// Package overduesweep implements the recurring job that transitions Active
// loans past their due date to Overdue and sends the borrower an overdue
// notice for each loan it newly transitioned.
package overduesweep

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/circulib/lending-engine-go/lending"
	"github.com/circulib/lending-engine-go/notify"
)

// JobKind is the scheduler job kind handled by this package.
const JobKind = "lending.overdue_sweep"

const listBatchSize = 500

const (
	logMsgSweepCompleted     = "overdue sweep completed"
	logMsgNoticeSkipped      = "overdue notice skipped, no recipient"
	logMsgNoticeFailed       = "failed to send overdue notice"
	logAttrLoanID            = "loan_id"
	logAttrTransitionedCount = "transitioned_count"
	logAttrError             = "error"
)

// LoanStore is the slice of the loan store the sweep needs.
type LoanStore interface {
	ListDueBefore(ctx context.Context, now time.Time, limit int) ([]lending.Loan, error)
	MarkOverdue(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
}

// Inventory resolves item titles for the notices.
type Inventory interface {
	GetItem(ctx context.Context, id uuid.UUID) (lending.Item, error)
}

// Handler is the overdue sweep. It is idempotent: the transition is a
// compare-and-swap from Active, so a sweep that finds no newly overdue loans
// mutates nothing, and a loan already swept is never transitioned (or
// notified) twice.
type Handler struct {
	loans      LoanStore
	inventory  Inventory
	fines      lending.FineCalculator
	sender     notify.Sender
	recipients notify.RecipientResolver
	clock      lending.Clock
	logger     lending.ContextualLogger
}

// NewHandler creates the sweep handler. sender and recipients may be nil, in
// which case loans are still transitioned but no notices go out; logger may
// be nil.
func NewHandler(
	loans LoanStore,
	inventory Inventory,
	fines lending.FineCalculator,
	sender notify.Sender,
	recipients notify.RecipientResolver,
	clock lending.Clock,
	logger lending.ContextualLogger,
) *Handler {

	return &Handler{
		loans:      loans,
		inventory:  inventory,
		fines:      fines,
		sender:     sender,
		recipients: recipients,
		clock:      clock,
		logger:     logger,
	}
}

// Handle scans Active loans with a passed due date and transitions each to
// Overdue. Notices are best-effort: a delivery failure is logged and never
// fails the sweep, since a sweep retry would re-notify loans that were
// already transitioned.
func (h *Handler) Handle(ctx context.Context, _ []byte) error {
	now := h.clock.Now()

	due, err := h.loans.ListDueBefore(ctx, now, listBatchSize)
	if err != nil {
		return err
	}

	transitioned := 0

	for _, loan := range due {
		applied, markErr := h.loans.MarkOverdue(ctx, loan.ID, now)
		if markErr != nil {
			return markErr
		}
		if !applied {
			continue // another sweep got there first
		}

		transitioned++
		h.sendNotice(ctx, loan, now)
	}

	h.logInfo(ctx, logMsgSweepCompleted, logAttrTransitionedCount, transitioned)

	return nil
}

func (h *Handler) sendNotice(ctx context.Context, loan lending.Loan, now time.Time) {
	if h.sender == nil || h.recipients == nil {
		return
	}

	recipient, err := h.recipients.Resolve(ctx, loan.BorrowerID)
	if err != nil {
		h.logDebug(ctx, logMsgNoticeSkipped, logAttrLoanID, loan.ID.String(), logAttrError, err.Error())
		return
	}

	daysOverdue := lending.DaysOverdue(now, loan.DueAt)

	params := map[string]string{
		notify.ParamBorrowerName: recipient.Name,
		notify.ParamItemTitle:    h.itemTitle(ctx, loan.ItemID),
		notify.ParamDaysOverdue:  strconv.Itoa(daysOverdue),
		notify.ParamFineAmount:   h.fines.Compute(daysOverdue).String(),
	}

	if sendErr := h.sender.Send(ctx, recipient.Address, notify.TemplateOverdueNotice, params); sendErr != nil {
		h.logWarn(ctx, logMsgNoticeFailed, logAttrLoanID, loan.ID.String(), logAttrError, sendErr.Error())
	}
}

func (h *Handler) itemTitle(ctx context.Context, itemID uuid.UUID) string {
	item, err := h.inventory.GetItem(ctx, itemID)
	if err != nil {
		return itemID.String()
	}

	return item.Title
}

func (h *Handler) logDebug(ctx context.Context, msg string, args ...any) {
	if h.logger != nil {
		h.logger.DebugContext(ctx, msg, args...)
	}
}

func (h *Handler) logInfo(ctx context.Context, msg string, args ...any) {
	if h.logger != nil {
		h.logger.InfoContext(ctx, msg, args...)
	}
}

func (h *Handler) logWarn(ctx context.Context, msg string, args ...any) {
	if h.logger != nil {
		h.logger.WarnContext(ctx, msg, args...)
	}
}
