// Package reconciliation implements the recurring job that audits the
// inventory ledger against the loan store and corrects availability drift.
package reconciliation

import (
	"context"

	"github.com/google/uuid"

	"github.com/circulib/lending-engine-go/lending"
)

// JobKind is the scheduler job kind handled by this package.
const JobKind = "lending.availability_reconciliation"

const (
	logMsgDriftCorrected  = "availability drift corrected"
	logMsgRemovalFlagged  = "inactive item with no loan history flagged for removal"
	logMsgRunCompleted    = "availability reconciliation completed"
	logAttrItemID         = "item_id"
	logAttrExpected       = "expected_available"
	logAttrPrevious       = "previous_available"
	logAttrCorrectedCount = "corrected_count"
	logAttrFlaggedCount   = "flagged_count"
)

// Inventory is the slice of the ledger reconciliation needs.
type Inventory interface {
	ListItems(ctx context.Context) ([]lending.Item, error)
	Reconcile(ctx context.Context, id uuid.UUID, expectedAvailable int) (bool, int, error)
}

// LoanStore is the slice of the loan store reconciliation needs.
type LoanStore interface {
	CountOpenByItem(ctx context.Context, itemID uuid.UUID) (int, error)
	CountByItem(ctx context.Context, itemID uuid.UUID) (int, error)
}

// Handler recomputes, per item, the availability the loan store implies
// (total copies minus open loans) and overwrites the ledger where it drifted.
// Inactive items that never had a loan are flagged for manual removal.
type Handler struct {
	inventory Inventory
	loans     LoanStore
	logger    lending.ContextualLogger
}

// NewHandler creates the reconciliation handler. logger may be nil.
func NewHandler(inventory Inventory, loans LoanStore, logger lending.ContextualLogger) *Handler {
	return &Handler{
		inventory: inventory,
		loans:     loans,
		logger:    logger,
	}
}

// Handle audits every item. Drift corrections are logged at warn level with
// both the previous and the expected value so operators can trace the cause.
func (h *Handler) Handle(ctx context.Context, _ []byte) error {
	items, err := h.inventory.ListItems(ctx)
	if err != nil {
		return err
	}

	corrected := 0
	flagged := 0

	for _, item := range items {
		openCount, countErr := h.loans.CountOpenByItem(ctx, item.ID)
		if countErr != nil {
			return countErr
		}

		expected := item.TotalCopies - openCount
		if expected < 0 {
			expected = 0
		}

		changed, previous, reconcileErr := h.inventory.Reconcile(ctx, item.ID, expected)
		if reconcileErr != nil {
			return reconcileErr
		}

		if changed {
			corrected++
			h.logWarn(ctx, logMsgDriftCorrected,
				logAttrItemID, item.ID.String(),
				logAttrExpected, expected,
				logAttrPrevious, previous)
		}

		if !item.Active {
			historyCount, historyErr := h.loans.CountByItem(ctx, item.ID)
			if historyErr != nil {
				return historyErr
			}

			if historyCount == 0 {
				flagged++
				h.logInfo(ctx, logMsgRemovalFlagged, logAttrItemID, item.ID.String())
			}
		}
	}

	h.logInfo(ctx, logMsgRunCompleted,
		logAttrCorrectedCount, corrected,
		logAttrFlaggedCount, flagged)

	return nil
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
