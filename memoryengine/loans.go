package memoryengine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/circulib/lending-engine-go/lending"
)

// LoanStore is the in-memory lending.LoanStore.
type LoanStore struct {
	mu    sync.Mutex
	loans map[uuid.UUID]lending.Loan
}

// NewLoanStore creates an empty in-memory loan store.
func NewLoanStore() *LoanStore {
	return &LoanStore{loans: make(map[uuid.UUID]lending.Loan)}
}

// Create persists a new loan, evaluating the duplicate and borrow-limit
// checks atomically with the insert under the store mutex.
func (s *LoanStore) Create(_ context.Context, loan lending.Loan, maxActivePerBorrower int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	openCount := 0

	for _, existing := range s.loans {
		if !existing.State.IsOpen() || existing.BorrowerID != loan.BorrowerID {
			continue
		}

		if existing.ItemID == loan.ItemID {
			return lending.ErrDuplicateActiveLoan
		}

		openCount++
	}

	if openCount >= maxActivePerBorrower {
		return lending.ErrBorrowerLimitExceeded
	}

	s.loans[loan.ID] = loan

	return nil
}

// Get returns the loan or lending.ErrLoanNotFound.
func (s *LoanStore) Get(_ context.Context, id uuid.UUID) (lending.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loan, ok := s.loans[id]
	if !ok {
		return lending.Loan{}, lending.ErrLoanNotFound
	}

	return loan, nil
}

// MarkReturned transitions an open loan to Returned.
func (s *LoanStore) MarkReturned(_ context.Context, id uuid.UUID, returnedAt time.Time, fine decimal.NullDecimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loan, ok := s.loans[id]
	if !ok || !loan.State.IsOpen() {
		return false, nil
	}

	loan.State = lending.StateReturned
	loan.ReturnedAt = &returnedAt
	loan.FineAmount = fine
	s.loans[id] = loan

	return true, nil
}

// MarkLost transitions an open loan to Lost.
func (s *LoanStore) MarkLost(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loan, ok := s.loans[id]
	if !ok || !loan.State.IsOpen() {
		return false, nil
	}

	loan.State = lending.StateLost
	loan.ReturnedAt = &at
	s.loans[id] = loan

	return true, nil
}

// MarkOverdue transitions an Active loan past its due date to Overdue.
func (s *LoanStore) MarkOverdue(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loan, ok := s.loans[id]
	if !ok || loan.State != lending.StateActive || !now.After(loan.DueAt) {
		return false, nil
	}

	loan.State = lending.StateOverdue
	s.loans[id] = loan

	return true, nil
}

// UpdateFine sets the fine amount on an Overdue, unpaid loan.
func (s *LoanStore) UpdateFine(_ context.Context, id uuid.UUID, amount decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loan, ok := s.loans[id]
	if !ok || loan.State != lending.StateOverdue || loan.FinePaid {
		return false, nil
	}

	loan.FineAmount = decimal.NullDecimal{Decimal: amount, Valid: true}
	s.loans[id] = loan

	return true, nil
}

// ListDueBefore returns Active loans with DueAt earlier than now.
func (s *LoanStore) ListDueBefore(_ context.Context, now time.Time, limit int) ([]lending.Loan, error) {
	return s.filter(limit, func(loan lending.Loan) bool {
		return loan.State == lending.StateActive && loan.DueAt.Before(now)
	})
}

// ListOverdueUnpaid returns Overdue loans whose fine is not paid.
func (s *LoanStore) ListOverdueUnpaid(_ context.Context, limit int) ([]lending.Loan, error) {
	return s.filter(limit, func(loan lending.Loan) bool {
		return loan.State == lending.StateOverdue && !loan.FinePaid
	})
}

// CountOpenByBorrower returns the number of open loans held by the borrower.
func (s *LoanStore) CountOpenByBorrower(_ context.Context, borrowerID uuid.UUID) (int, error) {
	return s.count(func(loan lending.Loan) bool {
		return loan.State.IsOpen() && loan.BorrowerID == borrowerID
	})
}

// CountOpenByItem returns the number of open loans on the item.
func (s *LoanStore) CountOpenByItem(_ context.Context, itemID uuid.UUID) (int, error) {
	return s.count(func(loan lending.Loan) bool {
		return loan.State.IsOpen() && loan.ItemID == itemID
	})
}

// CountByItem returns the total number of loans ever recorded for the item.
func (s *LoanStore) CountByItem(_ context.Context, itemID uuid.UUID) (int, error) {
	return s.count(func(loan lending.Loan) bool {
		return loan.ItemID == itemID
	})
}

// ListArchivalCandidates returns terminal loans that ended before the cutoff.
func (s *LoanStore) ListArchivalCandidates(_ context.Context, cutoff time.Time, limit int) ([]lending.Loan, error) {
	return s.filter(limit, func(loan lending.Loan) bool {
		return loan.State.IsTerminal() && loan.ReturnedAt != nil && loan.ReturnedAt.Before(cutoff)
	})
}

func (s *LoanStore) filter(limit int, keep func(lending.Loan) bool) ([]lending.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches := make([]lending.Loan, 0)
	for _, loan := range s.loans {
		if keep(loan) {
			matches = append(matches, loan)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].DueAt.Before(matches[j].DueAt)
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	return matches, nil
}

func (s *LoanStore) count(keep func(lending.Loan) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, loan := range s.loans {
		if keep(loan) {
			n++
		}
	}

	return n, nil
}
