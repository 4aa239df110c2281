// Package reminderdelivery implements the one-shot job that sends the
// borrower a due-date reminder shortly before a loan's due date.
package reminderdelivery

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/circulib/lending-engine-go/lending"
	"github.com/circulib/lending-engine-go/notify"
	"github.com/circulib/lending-engine-go/scheduler"
)

// JobKind is the scheduler job kind handled by this package. The lending
// service enqueues under this kind when a loan is created.
const JobKind = lending.ReminderJobKind

const dueDateFormat = "Jan 02, 2006"

const (
	logMsgReminderSkipped   = "reminder skipped, loan no longer open"
	logMsgRecipientUnknown  = "reminder skipped, recipient unknown"
	logMsgReminderDelivered = "due-date reminder delivered"
	logAttrLoanID           = "loan_id"
	logAttrError            = "error"
)

// LoanStore is the slice of the loan store reminder delivery needs.
type LoanStore interface {
	Get(ctx context.Context, id uuid.UUID) (lending.Loan, error)
}

// Inventory resolves the item title for the reminder.
type Inventory interface {
	GetItem(ctx context.Context, id uuid.UUID) (lending.Item, error)
}

// Handler delivers a single reminder. The job is a no-op when the loan was
// already closed between enqueue and execution, so a stale reminder never
// reaches the borrower.
type Handler struct {
	loans      LoanStore
	inventory  Inventory
	sender     notify.Sender
	recipients notify.RecipientResolver
	logger     lending.ContextualLogger
}

// NewHandler creates the reminder delivery handler. logger may be nil.
func NewHandler(
	loans LoanStore,
	inventory Inventory,
	sender notify.Sender,
	recipients notify.RecipientResolver,
	logger lending.ContextualLogger,
) *Handler {

	return &Handler{
		loans:      loans,
		inventory:  inventory,
		sender:     sender,
		recipients: recipients,
		logger:     logger,
	}
}

// Handle decodes the reminder payload, re-checks the loan state, and sends
// the reminder. Transient delivery failures bubble up so the scheduler
// retries; permanent ones are wrapped so the job parks as Failed.
func (h *Handler) Handle(ctx context.Context, payload []byte) error {
	var reminder lending.ReminderPayload
	if err := scheduler.UnmarshalPayload(payload, &reminder); err != nil {
		return errors.Join(scheduler.ErrPermanent, err)
	}

	loan, err := h.loans.Get(ctx, reminder.LoanID)
	if err != nil {
		if errors.Is(err, lending.ErrLoanNotFound) {
			return errors.Join(scheduler.ErrPermanent, err)
		}

		return err
	}

	if !loan.State.IsOpen() {
		h.logDebug(ctx, logMsgReminderSkipped, logAttrLoanID, loan.ID.String())
		return nil
	}

	recipient, err := h.recipients.Resolve(ctx, loan.BorrowerID)
	if err != nil {
		if errors.Is(err, notify.ErrRecipientUnknown) {
			h.logWarn(ctx, logMsgRecipientUnknown, logAttrLoanID, loan.ID.String())
			return nil
		}

		return err
	}

	params := map[string]string{
		notify.ParamBorrowerName: recipient.Name,
		notify.ParamItemTitle:    h.itemTitle(ctx, loan.ItemID),
		notify.ParamDueAt:        loan.DueAt.Format(dueDateFormat),
	}

	if sendErr := h.sender.Send(ctx, recipient.Address, notify.TemplateDueDateReminder, params); sendErr != nil {
		if errors.Is(sendErr, notify.ErrPermanentDelivery) {
			return errors.Join(scheduler.ErrPermanent, sendErr)
		}

		return sendErr
	}

	h.logDebug(ctx, logMsgReminderDelivered, logAttrLoanID, loan.ID.String())

	return nil
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

func (h *Handler) logWarn(ctx context.Context, msg string, args ...any) {
	if h.logger != nil {
		h.logger.WarnContext(ctx, msg, args...)
	}
}
