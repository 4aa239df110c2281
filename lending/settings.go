package lending

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultLoanPeriodDays            = 14
	defaultMaxActiveLoansPerBorrower = 5
	defaultReminderLeadTimeDays      = 2
	defaultRetentionWindowDays       = 730
)

// Settings are the policy knobs consumed by the lending core.
type Settings struct {
	// LoanPeriod is added to the borrow time to produce the due date.
	LoanPeriod time.Duration

	// MaxActiveLoansPerBorrower caps the number of open loans per borrower.
	MaxActiveLoansPerBorrower int

	// DailyFineRate is the fine accrued per whole day overdue.
	DailyFineRate decimal.Decimal

	// ReminderLeadTime is how long before the due date the one-shot
	// reminder job is scheduled to run.
	ReminderLeadTime time.Duration

	// RetentionWindow is the age past which terminal loans become
	// archival candidates.
	RetentionWindow time.Duration
}

// DefaultSettings returns the default policy: 14-day loans, at most 5 open
// loans per borrower, 0.50 per day overdue, reminders 2 days before the due
// date, and a 2-year retention window.
func DefaultSettings() Settings {
	return Settings{
		LoanPeriod:                defaultLoanPeriodDays * 24 * time.Hour,
		MaxActiveLoansPerBorrower: defaultMaxActiveLoansPerBorrower,
		DailyFineRate:             decimal.RequireFromString("0.50"),
		ReminderLeadTime:          defaultReminderLeadTimeDays * 24 * time.Hour,
		RetentionWindow:           defaultRetentionWindowDays * 24 * time.Hour,
	}
}
