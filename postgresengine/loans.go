package postgresengine

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/circulib/lending-engine-go/lending"
	"github.com/circulib/lending-engine-go/postgresengine/internal/adapters"
)

const (
	colLoanID     = "id"
	colLoanItemID = "item_id"
	colBorrowerID = "borrower_id"
	colBorrowedAt = "borrowed_at"
	colDueAt      = "due_at"
	colReturnedAt = "returned_at"
	colState      = "state"
	colFineAmount = "fine_amount"
	colFinePaid   = "fine_paid"

	aliasOpenCount = "open_count"

	// Partial unique index on (borrower_id, item_id) over open loans; a
	// violation maps to lending.ErrDuplicateActiveLoan.
	constraintOneOpenPerBorrowerItem = "loans_one_open_per_borrower_item"
)

const (
	opCreateLoan     = "create loan"
	opGetLoan        = "get loan"
	opMarkReturned   = "mark returned"
	opMarkLost       = "mark lost"
	opMarkOverdue    = "mark overdue"
	opUpdateFine     = "update fine"
	opListDueBefore  = "list due before"
	opListOverdue    = "list overdue unpaid"
	opCountLoans     = "count loans"
	opListArchivable = "list archival candidates"
)

// LoanStore is the PostgreSQL lending.LoanStore. State transitions are
// conditional updates from the legal source states, so replayed or racing
// transitions report applied=false instead of corrupting terminal records.
type LoanStore struct {
	engine
}

// NewLoanStoreFromPGXPool creates a LoanStore using a pgx pool.
func NewLoanStoreFromPGXPool(db *pgxpool.Pool, options ...Option) (*LoanStore, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newLoanStore(adapters.NewPGXAdapter(db), options...)
}

// NewLoanStoreFromSQLDB creates a LoanStore using a sql.DB.
func NewLoanStoreFromSQLDB(db *sql.DB, options ...Option) (*LoanStore, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newLoanStore(adapters.NewSQLAdapter(db), options...)
}

// NewLoanStoreFromSQLX creates a LoanStore using a sqlx.DB.
func NewLoanStoreFromSQLX(db *sqlx.DB, options ...Option) (*LoanStore, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newLoanStore(adapters.NewSQLXAdapter(db), options...)
}

func newLoanStore(db adapters.DBAdapter, options ...Option) (*LoanStore, error) {
	e, err := newEngine(db, options...)
	if err != nil {
		return nil, err
	}

	return &LoanStore{engine: e}, nil
}

// Create persists a new loan. The insert is guarded by a CTE counting the
// borrower's open loans, so the per-borrower limit holds under concurrent
// borrows; the duplicate-loan rule is enforced by the partial unique index.
func (s *LoanStore) Create(ctx context.Context, loan lending.Loan, maxActivePerBorrower int) error {
	builder := goqu.Dialect(dialectPostgres)

	openLoans := builder.From(tableLoans).
		Select(goqu.COUNT(goqu.Star()).As(aliasOpenCount)).
		Where(
			goqu.Ex{colBorrowerID: loan.BorrowerID.String()},
			goqu.C(colState).In(string(lending.StateActive), string(lending.StateOverdue)),
		)

	insertStmt := builder.Insert(tableLoans).
		Cols(colLoanID, colLoanItemID, colBorrowerID, colBorrowedAt, colDueAt, colState, colFinePaid).
		With(cteContext, openLoans).
		FromQuery(builder.From(cteContext).
			Select(
				goqu.V(loan.ID.String()),
				goqu.V(loan.ItemID.String()),
				goqu.V(loan.BorrowerID.String()),
				goqu.V(loan.BorrowedAt),
				goqu.V(loan.DueAt),
				goqu.V(string(loan.State)),
				goqu.V(loan.FinePaid),
			).
			Where(goqu.COALESCE(goqu.C(aliasOpenCount), 0).Lt(goqu.V(maxActivePerBorrower))))

	sqlQuery, _, toSQLErr := insertStmt.ToSQL()
	if toSQLErr != nil {
		return toSQLErr
	}

	rowsAffected, err := s.exec(ctx, sqlQuery, tableLoans, opCreateLoan)
	if err != nil {
		if strings.Contains(err.Error(), constraintOneOpenPerBorrowerItem) {
			return lending.ErrDuplicateActiveLoan
		}

		return err
	}

	if rowsAffected == 0 {
		return lending.ErrBorrowerLimitExceeded
	}

	return nil
}

// Get returns the loan or lending.ErrLoanNotFound.
func (s *LoanStore) Get(ctx context.Context, id uuid.UUID) (lending.Loan, error) {
	sqlQuery, _, toSQLErr := s.selectLoans().
		Where(goqu.Ex{colLoanID: id.String()}).
		ToSQL()
	if toSQLErr != nil {
		return lending.Loan{}, toSQLErr
	}

	loans, err := s.queryLoans(ctx, sqlQuery, opGetLoan)
	if err != nil {
		return lending.Loan{}, err
	}

	if len(loans) == 0 {
		return lending.Loan{}, lending.ErrLoanNotFound
	}

	return loans[0], nil
}

// MarkReturned transitions an open loan to Returned, recording the return
// time and the settled fine.
func (s *LoanStore) MarkReturned(ctx context.Context, id uuid.UUID, returnedAt time.Time, fine decimal.NullDecimal) (bool, error) {
	record := goqu.Record{
		colState:      string(lending.StateReturned),
		colReturnedAt: returnedAt,
		colFineAmount: fineValue(fine),
	}

	return s.transition(ctx, id, record, openStates(), opMarkReturned)
}

// MarkLost transitions an open loan to Lost.
func (s *LoanStore) MarkLost(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	record := goqu.Record{
		colState:      string(lending.StateLost),
		colReturnedAt: at,
	}

	return s.transition(ctx, id, record, openStates(), opMarkLost)
}

// MarkOverdue transitions an Active loan past its due date to Overdue.
func (s *LoanStore) MarkOverdue(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	sqlQuery, _, toSQLErr := goqu.Dialect(dialectPostgres).
		Update(tableLoans).
		Set(goqu.Record{colState: string(lending.StateOverdue)}).
		Where(
			goqu.Ex{colLoanID: id.String()},
			goqu.C(colState).Eq(string(lending.StateActive)),
			goqu.C(colDueAt).Lt(now),
		).
		ToSQL()
	if toSQLErr != nil {
		return false, toSQLErr
	}

	rowsAffected, err := s.exec(ctx, sqlQuery, tableLoans, opMarkOverdue)
	if err != nil {
		return false, err
	}

	return rowsAffected == 1, nil
}

// UpdateFine sets the fine amount on an Overdue, unpaid loan.
func (s *LoanStore) UpdateFine(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (bool, error) {
	sqlQuery, _, toSQLErr := goqu.Dialect(dialectPostgres).
		Update(tableLoans).
		Set(goqu.Record{colFineAmount: goqu.L(castNumeric, amount.String())}).
		Where(
			goqu.Ex{colLoanID: id.String()},
			goqu.C(colState).Eq(string(lending.StateOverdue)),
			goqu.C(colFinePaid).IsFalse(),
		).
		ToSQL()
	if toSQLErr != nil {
		return false, toSQLErr
	}

	rowsAffected, err := s.exec(ctx, sqlQuery, tableLoans, opUpdateFine)
	if err != nil {
		return false, err
	}

	return rowsAffected == 1, nil
}

// ListDueBefore returns Active loans with a due date earlier than now.
func (s *LoanStore) ListDueBefore(ctx context.Context, now time.Time, limit int) ([]lending.Loan, error) {
	stmt := s.selectLoans().
		Where(
			goqu.C(colState).Eq(string(lending.StateActive)),
			goqu.C(colDueAt).Lt(now),
		).
		Order(goqu.I(colDueAt).Asc())

	return s.listLoans(ctx, stmt, limit, opListDueBefore)
}

// ListOverdueUnpaid returns Overdue loans whose fine is not paid.
func (s *LoanStore) ListOverdueUnpaid(ctx context.Context, limit int) ([]lending.Loan, error) {
	stmt := s.selectLoans().
		Where(
			goqu.C(colState).Eq(string(lending.StateOverdue)),
			goqu.C(colFinePaid).IsFalse(),
		).
		Order(goqu.I(colDueAt).Asc())

	return s.listLoans(ctx, stmt, limit, opListOverdue)
}

// CountOpenByBorrower returns the number of open loans held by the borrower.
func (s *LoanStore) CountOpenByBorrower(ctx context.Context, borrowerID uuid.UUID) (int, error) {
	return s.countLoans(ctx,
		goqu.Ex{colBorrowerID: borrowerID.String()},
		goqu.C(colState).In(openStates()...))
}

// CountOpenByItem returns the number of open loans on the item.
func (s *LoanStore) CountOpenByItem(ctx context.Context, itemID uuid.UUID) (int, error) {
	return s.countLoans(ctx,
		goqu.Ex{colLoanItemID: itemID.String()},
		goqu.C(colState).In(openStates()...))
}

// CountByItem returns the total number of loans ever recorded for the item.
func (s *LoanStore) CountByItem(ctx context.Context, itemID uuid.UUID) (int, error) {
	return s.countLoans(ctx, goqu.Ex{colLoanItemID: itemID.String()})
}

// ListArchivalCandidates returns terminal loans that ended before the cutoff.
func (s *LoanStore) ListArchivalCandidates(ctx context.Context, cutoff time.Time, limit int) ([]lending.Loan, error) {
	stmt := s.selectLoans().
		Where(
			goqu.C(colState).In(string(lending.StateReturned), string(lending.StateLost)),
			goqu.C(colReturnedAt).IsNotNull(),
			goqu.C(colReturnedAt).Lt(cutoff),
		).
		Order(goqu.I(colReturnedAt).Asc())

	return s.listLoans(ctx, stmt, limit, opListArchivable)
}

// transition applies a conditional update from the given source states and
// reports whether a row was changed.
func (s *LoanStore) transition(ctx context.Context, id uuid.UUID, record goqu.Record, fromStates []any, operation string) (bool, error) {
	sqlQuery, _, toSQLErr := goqu.Dialect(dialectPostgres).
		Update(tableLoans).
		Set(record).
		Where(
			goqu.Ex{colLoanID: id.String()},
			goqu.C(colState).In(fromStates...),
		).
		ToSQL()
	if toSQLErr != nil {
		return false, toSQLErr
	}

	rowsAffected, err := s.exec(ctx, sqlQuery, tableLoans, operation)
	if err != nil {
		return false, err
	}

	return rowsAffected == 1, nil
}

func (s *LoanStore) selectLoans() *goqu.SelectDataset {
	return goqu.Dialect(dialectPostgres).
		From(tableLoans).
		Select(colLoanID, colLoanItemID, colBorrowerID, colBorrowedAt, colDueAt, colReturnedAt, colState, colFineAmount, colFinePaid)
}

func (s *LoanStore) listLoans(ctx context.Context, stmt *goqu.SelectDataset, limit int, operation string) ([]lending.Loan, error) {
	if limit > 0 {
		stmt = stmt.Limit(uint(limit))
	}

	sqlQuery, _, toSQLErr := stmt.ToSQL()
	if toSQLErr != nil {
		return nil, toSQLErr
	}

	return s.queryLoans(ctx, sqlQuery, operation)
}

func (s *LoanStore) queryLoans(ctx context.Context, sqlQuery, operation string) ([]lending.Loan, error) {
	rows, err := s.query(ctx, sqlQuery, tableLoans, operation)
	if err != nil {
		return nil, err
	}
	defer s.closeRows(rows)

	loans := make([]lending.Loan, 0)

	for rows.Next() {
		var (
			loan       lending.Loan
			state      string
			borrowedAt time.Time
			dueAt      time.Time
			returnedAt sql.NullTime
		)

		if scanErr := rows.Scan(
			&loan.ID,
			&loan.ItemID,
			&loan.BorrowerID,
			&borrowedAt,
			&dueAt,
			&returnedAt,
			&state,
			&loan.FineAmount,
			&loan.FinePaid,
		); scanErr != nil {
			return nil, scanErr
		}

		loan.State = lending.LoanState(state)
		loan.BorrowedAt = borrowedAt.UTC()
		loan.DueAt = dueAt.UTC()

		if returnedAt.Valid {
			t := returnedAt.Time.UTC()
			loan.ReturnedAt = &t
		}

		loans = append(loans, loan)
	}

	return loans, nil
}

func (s *LoanStore) countLoans(ctx context.Context, conditions ...goqu.Expression) (int, error) {
	sqlQuery, _, toSQLErr := goqu.Dialect(dialectPostgres).
		From(tableLoans).
		Select(goqu.COUNT(goqu.Star())).
		Where(conditions...).
		ToSQL()
	if toSQLErr != nil {
		return 0, toSQLErr
	}

	rows, err := s.query(ctx, sqlQuery, tableLoans, opCountLoans)
	if err != nil {
		return 0, err
	}
	defer s.closeRows(rows)

	count := 0
	if rows.Next() {
		if scanErr := rows.Scan(&count); scanErr != nil {
			return 0, scanErr
		}
	}

	return count, nil
}

func openStates() []any {
	return []any{string(lending.StateActive), string(lending.StateOverdue)}
}

func fineValue(fine decimal.NullDecimal) any {
	if !fine.Valid {
		return nil
	}

	return goqu.L(castNumeric, fine.Decimal.String())
}
