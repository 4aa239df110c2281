// Package notify defines the notification boundary of the lending core. The
// core never implements an email transport; it hands fully templated
// notifications to a Sender and treats delivery as a fallible, retryable
// side effect that must never block loan-state transitions.
package notify

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// TemplateKind selects the message template on the delivery side.
type TemplateKind string

const (
	// TemplateDueDateReminder is sent ahead of the due date.
	TemplateDueDateReminder TemplateKind = "due_date_reminder"

	// TemplateOverdueNotice is sent when a loan transitions to Overdue.
	TemplateOverdueNotice TemplateKind = "overdue_notice"
)

// Template parameter keys shared by the job handlers and senders.
const (
	ParamBorrowerName = "borrower_name"
	ParamItemTitle    = "item_title"
	ParamDueAt        = "due_at"
	ParamDaysOverdue  = "days_overdue"
	ParamFineAmount   = "fine_amount"
)

var (
	// ErrTransientDelivery marks a delivery failure worth retrying
	// (timeouts, temporarily unreachable relay).
	ErrTransientDelivery = errors.New("transient notification delivery failure")

	// ErrPermanentDelivery marks a delivery failure that retrying cannot
	// fix (invalid address, rejected recipient).
	ErrPermanentDelivery = errors.New("permanent notification delivery failure")

	// ErrRecipientUnknown is returned by a RecipientResolver that has no
	// address for the borrower.
	ErrRecipientUnknown = errors.New("no recipient known for borrower")
)

// Sender delivers one templated notification. Implementations classify their
// failures with ErrTransientDelivery or ErrPermanentDelivery so the job
// scheduler can decide between retry and permanent failure.
type Sender interface {
	Send(ctx context.Context, recipient string, template TemplateKind, params map[string]string) error
}

// Recipient is a resolved delivery target.
type Recipient struct {
	Address string
	Name    string
}

// RecipientResolver maps a borrower id to a delivery address. Identity
// management is outside the core; this is the lookup boundary it calls
// through.
type RecipientResolver interface {
	Resolve(ctx context.Context, borrowerID uuid.UUID) (Recipient, error)
}

// ResolverFunc adapts a plain function to the RecipientResolver interface.
type ResolverFunc func(ctx context.Context, borrowerID uuid.UUID) (Recipient, error)

// Resolve calls the wrapped function.
func (f ResolverFunc) Resolve(ctx context.Context, borrowerID uuid.UUID) (Recipient, error) {
	return f(ctx, borrowerID)
}
