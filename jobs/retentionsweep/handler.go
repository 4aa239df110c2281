// Package retentionsweep implements the recurring job that flags terminal
// loans older than the retention window as candidates for archival.
package retentionsweep

import (
	"context"
	"time"

	"github.com/circulib/lending-engine-go/lending"
)

// JobKind is the scheduler job kind handled by this package.
const JobKind = "lending.retention_sweep"

const listBatchSize = 1000

const (
	logMsgCandidateFlagged = "loan flagged for archival"
	logMsgRunCompleted     = "retention sweep completed"
	logAttrLoanID          = "loan_id"
	logAttrClosedAt        = "closed_at"
	logAttrCutoff          = "cutoff"
	logAttrCandidateCount  = "candidate_count"
)

// LoanStore is the slice of the loan store the retention sweep needs.
type LoanStore interface {
	ListArchivalCandidates(ctx context.Context, cutoff time.Time, limit int) ([]lending.Loan, error)
}

// Handler flags archival candidates without deleting them. Deletion policy
// belongs to the operator of the archive, not to the sweep; the sweep only
// surfaces what has aged out of the retention window.
type Handler struct {
	loans     LoanStore
	retention time.Duration
	clock     lending.Clock
	logger    lending.ContextualLogger
}

// NewHandler creates the retention sweep handler. logger may be nil.
func NewHandler(
	loans LoanStore,
	retention time.Duration,
	clock lending.Clock,
	logger lending.ContextualLogger,
) *Handler {

	return &Handler{
		loans:     loans,
		retention: retention,
		clock:     clock,
		logger:    logger,
	}
}

// Handle lists terminal loans closed before now minus the retention window
// and logs each candidate.
func (h *Handler) Handle(ctx context.Context, _ []byte) error {
	cutoff := h.clock.Now().Add(-h.retention)

	candidates, err := h.loans.ListArchivalCandidates(ctx, cutoff, listBatchSize)
	if err != nil {
		return err
	}

	for _, loan := range candidates {
		closedAt := ""
		if loan.ReturnedAt != nil {
			closedAt = loan.ReturnedAt.Format(time.RFC3339)
		}

		h.logInfo(ctx, logMsgCandidateFlagged,
			logAttrLoanID, loan.ID.String(),
			logAttrClosedAt, closedAt)
	}

	h.logInfo(ctx, logMsgRunCompleted,
		logAttrCandidateCount, len(candidates),
		logAttrCutoff, cutoff.Format(time.RFC3339))

	return nil
}

func (h *Handler) logInfo(ctx context.Context, msg string, args ...any) {
	if h.logger != nil {
		h.logger.InfoContext(ctx, msg, args...)
	}
}
