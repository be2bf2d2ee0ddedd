package db

import (
	"context"
	"database/sql"
	"fmt"
)

// execInTx begins a transaction on db, runs fn with it and commits. If fn
// returns an error the transaction is rolled back and the original error is
// returned, with the rollback error attached if the rollback itself fails.
func execInTx(ctx context.Context, db *sql.DB,
	fn func(tx *sql.Tx) error) error {

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback tx: %v (original error: %w)",
				rbErr, err)
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}
