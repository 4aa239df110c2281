package lending

import (
	"time"

	"github.com/shopspring/decimal"
)

// DaysOverdue is the canonical overdue formula: the floor of elapsed whole
// days past the due date, never negative. Return, the overdue sweep, and the
// periodic fine recomputation all use this single formula, so recomputing a
// fine for the same (now, dueAt) pair always yields the same amount.
func DaysOverdue(now time.Time, dueAt time.Time) int {
	if !now.After(dueAt) {
		return 0
	}

	return int(now.Sub(dueAt) / (24 * time.Hour))
}

// FineCalculator maps an overdue duration to a fine amount.
type FineCalculator struct {
	dailyRate decimal.Decimal
}

// NewFineCalculator creates a FineCalculator with the given daily rate.
func NewFineCalculator(dailyRate decimal.Decimal) FineCalculator {
	return FineCalculator{dailyRate: dailyRate}
}

// Compute returns daysOverdue * dailyRate.
//
// It is a pure function: calling it repeatedly with the same input always
// yields the same amount, which is what makes periodic fine recomputation
// safe - the fine is always derived from (now, dueAt), never accumulated.
func (c FineCalculator) Compute(daysOverdue int) decimal.Decimal {
	if daysOverdue <= 0 {
		return decimal.Zero
	}

	return c.dailyRate.Mul(decimal.NewFromInt(int64(daysOverdue)))
}
