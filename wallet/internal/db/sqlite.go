package db

import (
	"database/sql"
)

// NewSQLiteStore creates a new SQLite-backed Store. The handle is expected
// to have been opened with foreign keys enabled; migrations are applied
// separately via ApplySQLiteMigrations.
func NewSQLiteStore(db *sql.DB) (*SQLStore, error) {
	if db == nil {
		return nil, ErrNilDB
	}

	return &SQLStore{
		db: db,
		q:  db,
	}, nil
}
