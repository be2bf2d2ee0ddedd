package db

import (
	"context"
	"database/sql"
)

// querier is the subset of database/sql methods shared by *sql.DB and
// *sql.Tx. All queries in this package run through it so the same code
// serves both direct and transactional execution.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Ensure SQLStore satisfies the Store interface.
var _ Store = (*SQLStore)(nil)

// SQLStore implements Store on top of a database/sql handle. The SQL it
// issues is restricted to the dialect shared by SQLite and PostgreSQL:
// positional $n placeholders, ON CONFLICT upserts and RETURNING clauses, so
// a single implementation serves both backends.
type SQLStore struct {
	// db is the root database handle. Nil on transaction-scoped copies.
	db *sql.DB

	// q is the executor queries run through, either db itself or an open
	// transaction.
	q querier
}

// ExecuteTx executes a function within a database transaction. The function
// receives a transaction-scoped store and should perform all database
// operations using it. The transaction is committed on success and rolled
// back on error.
func (s *SQLStore) ExecuteTx(ctx context.Context,
	fn func(Store) error) error {

	return execInTx(ctx, s.db, func(tx *sql.Tx) error {
		return fn(&SQLStore{q: tx})
	})
}

// withinTx runs fn in a fresh transaction, unless s is already scoped to
// one, in which case fn runs on s directly. Multi-statement store methods
// use this so they stay atomic on a root store without double-beginning a
// transaction inside ExecuteTx.
func (s *SQLStore) withinTx(ctx context.Context,
	fn func(*SQLStore) error) error {

	if s.db == nil {
		return fn(s)
	}

	return execInTx(ctx, s.db, func(tx *sql.Tx) error {
		return fn(&SQLStore{q: tx})
	})
}
