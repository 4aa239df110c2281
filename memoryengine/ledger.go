package memoryengine

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/circulib/lending-engine-go/lending"
)

const (
	logMsgReleaseClampHit = "release would exceed total copies, clamped"
	logAttrItemID         = "item_id"
	logAttrAvailable      = "available_copies"
	logAttrTotal          = "total_copies"
)

// InventoryLedger is the in-memory lending.InventoryLedger.
type InventoryLedger struct {
	mu     sync.Mutex
	items  map[uuid.UUID]lending.Item
	logger lending.Logger
}

// NewInventoryLedger creates an empty in-memory ledger. The logger may be
// nil; it only receives data-integrity warnings.
func NewInventoryLedger(logger lending.Logger) *InventoryLedger {
	return &InventoryLedger{
		items:  make(map[uuid.UUID]lending.Item),
		logger: logger,
	}
}

// PutItem creates or replaces an item record.
func (l *InventoryLedger) PutItem(_ context.Context, item lending.Item) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.items[item.ID] = item

	return nil
}

// GetItem returns the item or lending.ErrItemNotFound.
func (l *InventoryLedger) GetItem(_ context.Context, id uuid.UUID) (lending.Item, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	item, ok := l.items[id]
	if !ok {
		return lending.Item{}, lending.ErrItemNotFound
	}

	return item, nil
}

// ListItems returns all items.
func (l *InventoryLedger) ListItems(_ context.Context) ([]lending.Item, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	items := make([]lending.Item, 0, len(l.items))
	for _, item := range l.items {
		items = append(items, item)
	}

	return items, nil
}

// TryReserve atomically decrements AvailableCopies if it is greater than zero.
func (l *InventoryLedger) TryReserve(_ context.Context, id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	item, ok := l.items[id]
	if !ok {
		return lending.ErrItemNotFound
	}

	if item.AvailableCopies <= 0 {
		return lending.ErrItemUnavailable
	}

	item.AvailableCopies--
	l.items[id] = item

	return nil
}

// Release atomically increments AvailableCopies, clamped at TotalCopies. A
// clamp hit indicates drift and is logged as a data-integrity warning.
func (l *InventoryLedger) Release(_ context.Context, id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	item, ok := l.items[id]
	if !ok {
		return lending.ErrItemNotFound
	}

	if item.AvailableCopies >= item.TotalCopies {
		if l.logger != nil {
			l.logger.Warn(logMsgReleaseClampHit,
				logAttrItemID, id.String(),
				logAttrAvailable, item.AvailableCopies,
				logAttrTotal, item.TotalCopies)
		}

		return nil
	}

	item.AvailableCopies++
	l.items[id] = item

	return nil
}

// RemoveCopy decrements TotalCopies for a copy reported lost.
func (l *InventoryLedger) RemoveCopy(_ context.Context, id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	item, ok := l.items[id]
	if !ok {
		return lending.ErrItemNotFound
	}

	if item.TotalCopies > 0 {
		item.TotalCopies--
	}

	if item.AvailableCopies > item.TotalCopies {
		item.AvailableCopies = item.TotalCopies
	}

	l.items[id] = item

	return nil
}

// Reconcile sets AvailableCopies to the expected value, reporting whether
// the stored value changed.
func (l *InventoryLedger) Reconcile(_ context.Context, id uuid.UUID, expectedAvailable int) (bool, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	item, ok := l.items[id]
	if !ok {
		return false, 0, lending.ErrItemNotFound
	}

	previous := item.AvailableCopies
	if previous == expectedAvailable {
		return false, previous, nil
	}

	item.AvailableCopies = expectedAvailable
	l.items[id] = item

	return true, previous, nil
}
