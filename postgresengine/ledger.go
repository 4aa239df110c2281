package postgresengine

import (
	"context"
	"database/sql"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/circulib/lending-engine-go/lending"
	"github.com/circulib/lending-engine-go/postgresengine/internal/adapters"
)

const (
	colItemID          = "id"
	colTitle           = "title"
	colTotalCopies     = "total_copies"
	colAvailableCopies = "available_copies"
	colActive          = "active"
	colAddedAt         = "added_at"
)

const (
	logMsgReleaseClampHit = "release would exceed total copies, clamped"
	logAttrItemID         = "item_id"
	logAttrAvailable      = "available_copies"
	logAttrTotal          = "total_copies"

	opPutItem    = "put item"
	opGetItem    = "get item"
	opListItems  = "list items"
	opTryReserve = "try reserve"
	opRelease    = "release"
	opRemoveCopy = "remove copy"
	opReconcile  = "reconcile"
)

// InventoryLedger is the PostgreSQL lending.InventoryLedger. Reservation and
// release are single conditional updates, so the availability bounds hold
// under concurrent borrows without explicit locking.
type InventoryLedger struct {
	engine
}

// NewInventoryLedgerFromPGXPool creates an InventoryLedger using a pgx pool.
func NewInventoryLedgerFromPGXPool(db *pgxpool.Pool, options ...Option) (*InventoryLedger, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newInventoryLedger(adapters.NewPGXAdapter(db), options...)
}

// NewInventoryLedgerFromSQLDB creates an InventoryLedger using a sql.DB.
func NewInventoryLedgerFromSQLDB(db *sql.DB, options ...Option) (*InventoryLedger, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newInventoryLedger(adapters.NewSQLAdapter(db), options...)
}

// NewInventoryLedgerFromSQLX creates an InventoryLedger using a sqlx.DB.
func NewInventoryLedgerFromSQLX(db *sqlx.DB, options ...Option) (*InventoryLedger, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newInventoryLedger(adapters.NewSQLXAdapter(db), options...)
}

func newInventoryLedger(db adapters.DBAdapter, options ...Option) (*InventoryLedger, error) {
	e, err := newEngine(db, options...)
	if err != nil {
		return nil, err
	}

	return &InventoryLedger{engine: e}, nil
}

// PutItem creates or replaces an item record.
func (l *InventoryLedger) PutItem(ctx context.Context, item lending.Item) error {
	record := goqu.Record{
		colItemID:          item.ID.String(),
		colTitle:           item.Title,
		colTotalCopies:     item.TotalCopies,
		colAvailableCopies: item.AvailableCopies,
		colActive:          item.Active,
		colAddedAt:         item.AddedAt,
	}

	update := goqu.Record{
		colTitle:           item.Title,
		colTotalCopies:     item.TotalCopies,
		colAvailableCopies: item.AvailableCopies,
		colActive:          item.Active,
	}

	sqlQuery, _, toSQLErr := goqu.Dialect(dialectPostgres).
		Insert(tableItems).
		Rows(record).
		OnConflict(goqu.DoUpdate(colItemID, update)).
		ToSQL()
	if toSQLErr != nil {
		return toSQLErr
	}

	_, err := l.exec(ctx, sqlQuery, tableItems, opPutItem)

	return err
}

// GetItem returns the item or lending.ErrItemNotFound.
func (l *InventoryLedger) GetItem(ctx context.Context, id uuid.UUID) (lending.Item, error) {
	sqlQuery, _, toSQLErr := l.selectItems().
		Where(goqu.Ex{colItemID: id.String()}).
		ToSQL()
	if toSQLErr != nil {
		return lending.Item{}, toSQLErr
	}

	items, err := l.queryItems(ctx, sqlQuery, opGetItem)
	if err != nil {
		return lending.Item{}, err
	}

	if len(items) == 0 {
		return lending.Item{}, lending.ErrItemNotFound
	}

	return items[0], nil
}

// ListItems returns all items.
func (l *InventoryLedger) ListItems(ctx context.Context) ([]lending.Item, error) {
	sqlQuery, _, toSQLErr := l.selectItems().
		Order(goqu.I(colAddedAt).Asc()).
		ToSQL()
	if toSQLErr != nil {
		return nil, toSQLErr
	}

	return l.queryItems(ctx, sqlQuery, opListItems)
}

// TryReserve atomically decrements available copies if any copy is free.
// The decrement and the availability check are one statement, so concurrent
// reservations can never oversell an item.
func (l *InventoryLedger) TryReserve(ctx context.Context, id uuid.UUID) error {
	sqlQuery, _, toSQLErr := goqu.Dialect(dialectPostgres).
		Update(tableItems).
		Set(goqu.Record{colAvailableCopies: goqu.L(colAvailableCopies + " - 1")}).
		Where(
			goqu.Ex{colItemID: id.String()},
			goqu.C(colAvailableCopies).Gt(0),
		).
		ToSQL()
	if toSQLErr != nil {
		return toSQLErr
	}

	rowsAffected, err := l.exec(ctx, sqlQuery, tableItems, opTryReserve)
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return l.classifyReserveFailure(ctx, id)
	}

	return nil
}

// classifyReserveFailure distinguishes a missing item from an exhausted one
// after a conditional decrement matched no row.
func (l *InventoryLedger) classifyReserveFailure(ctx context.Context, id uuid.UUID) error {
	if _, err := l.GetItem(ctx, id); err != nil {
		return err
	}

	return lending.ErrItemUnavailable
}

// Release atomically increments available copies, clamped at total copies.
// A clamp hit means the ledger and the loan store drifted apart; it is logged
// and left for the reconciliation job rather than failing the release.
func (l *InventoryLedger) Release(ctx context.Context, id uuid.UUID) error {
	sqlQuery, _, toSQLErr := goqu.Dialect(dialectPostgres).
		Update(tableItems).
		Set(goqu.Record{colAvailableCopies: goqu.L(colAvailableCopies + " + 1")}).
		Where(
			goqu.Ex{colItemID: id.String()},
			goqu.L(colAvailableCopies+" < "+colTotalCopies),
		).
		ToSQL()
	if toSQLErr != nil {
		return toSQLErr
	}

	rowsAffected, err := l.exec(ctx, sqlQuery, tableItems, opRelease)
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		item, getErr := l.GetItem(ctx, id)
		if getErr != nil {
			return getErr
		}

		l.logWarn(logMsgReleaseClampHit,
			logAttrItemID, id.String(),
			logAttrAvailable, item.AvailableCopies,
			logAttrTotal, item.TotalCopies)
	}

	return nil
}

// RemoveCopy decrements total copies for a copy reported lost, keeping
// available copies within the new total.
func (l *InventoryLedger) RemoveCopy(ctx context.Context, id uuid.UUID) error {
	sqlQuery, _, toSQLErr := goqu.Dialect(dialectPostgres).
		Update(tableItems).
		Set(goqu.Record{
			colTotalCopies:     goqu.L("GREATEST(" + colTotalCopies + " - 1, 0)"),
			colAvailableCopies: goqu.L("LEAST(" + colAvailableCopies + ", GREATEST(" + colTotalCopies + " - 1, 0))"),
		}).
		Where(goqu.Ex{colItemID: id.String()}).
		ToSQL()
	if toSQLErr != nil {
		return toSQLErr
	}

	rowsAffected, err := l.exec(ctx, sqlQuery, tableItems, opRemoveCopy)
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return lending.ErrItemNotFound
	}

	return nil
}

// Reconcile sets available copies to the expected value, reporting whether
// the stored value changed. The write is a compare-and-swap against the value
// just read; losing that race means the caller's expectation was computed
// from stale counts, so the correction is skipped rather than forced.
func (l *InventoryLedger) Reconcile(ctx context.Context, id uuid.UUID, expectedAvailable int) (bool, int, error) {
	item, err := l.GetItem(ctx, id)
	if err != nil {
		return false, 0, err
	}

	previous := item.AvailableCopies
	if previous == expectedAvailable {
		return false, previous, nil
	}

	sqlQuery, _, toSQLErr := goqu.Dialect(dialectPostgres).
		Update(tableItems).
		Set(goqu.Record{colAvailableCopies: expectedAvailable}).
		Where(
			goqu.Ex{colItemID: id.String()},
			goqu.C(colAvailableCopies).Eq(previous),
		).
		ToSQL()
	if toSQLErr != nil {
		return false, previous, toSQLErr
	}

	rowsAffected, execErr := l.exec(ctx, sqlQuery, tableItems, opReconcile)
	if execErr != nil {
		return false, previous, execErr
	}

	return rowsAffected == 1, previous, nil
}

func (l *InventoryLedger) selectItems() *goqu.SelectDataset {
	return goqu.Dialect(dialectPostgres).
		From(tableItems).
		Select(colItemID, colTitle, colTotalCopies, colAvailableCopies, colActive, colAddedAt)
}

func (l *InventoryLedger) queryItems(ctx context.Context, sqlQuery, operation string) ([]lending.Item, error) {
	rows, err := l.query(ctx, sqlQuery, tableItems, operation)
	if err != nil {
		return nil, err
	}
	defer l.closeRows(rows)

	items := make([]lending.Item, 0)

	for rows.Next() {
		var (
			item    lending.Item
			addedAt time.Time
		)

		if scanErr := rows.Scan(
			&item.ID,
			&item.Title,
			&item.TotalCopies,
			&item.AvailableCopies,
			&item.Active,
			&addedAt,
		); scanErr != nil {
			return nil, scanErr
		}

		item.AddedAt = addedAt.UTC()
		items = append(items, item)
	}

	return items, nil
}
