package db

import (
	"database/sql"
)

// NewPostgresStore creates a new PostgreSQL-backed Store. Migrations are
// applied separately via ApplyPostgresMigrations.
func NewPostgresStore(db *sql.DB) (*SQLStore, error) {
	if db == nil {
		return nil, ErrNilDB
	}

	return &SQLStore{
		db: db,
		q:  db,
	}, nil
}
