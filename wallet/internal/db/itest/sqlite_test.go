//go:build itest && !test_db_postgres

package itest

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stashbtc/stashd/wallet/internal/db"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// NewSQLiteDB creates a new SQLite database for testing with migrations
// applied. Each test gets its own temporary database file.
func NewSQLiteDB(t *testing.T) *sql.DB {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	// Enable foreign keys (required for proper constraint enforcement).
	dsn := dbPath + "?_pragma=foreign_keys=on"

	// Enable WAL mode for better concurrency. WAL allows multiple readers
	// and reduces lock contention for concurrent writers.
	dsn = dsn + "&_pragma=journal_mode=WAL"

	// Enable immediate transaction locking to avoid races.
	dsn = dsn + "&_txlock=immediate"

	// Set busy timeout to 5 seconds. This makes SQLite retry acquiring
	// locks instead of immediately returning SQLITE_BUSY errors.
	dsn = dsn + "&_pragma=busy_timeout=5000"

	dbConn, err := sql.Open("sqlite", dsn)
	require.NoError(t, err, "failed to open sqlite database")

	err = db.ApplySQLiteMigrations(dbConn)
	require.NoError(t, err, "failed to apply migrations")

	t.Cleanup(func() {
		_ = dbConn.Close()
	})

	return dbConn
}

// NewTestStoreWithDB creates a SQLite store and also returns the raw sql.DB
// for fixture-level direct SQL setup.
func NewTestStoreWithDB(t *testing.T) (*db.SQLStore, *sql.DB) {
	t.Helper()

	dbConn := NewSQLiteDB(t)

	store, err := db.NewSQLiteStore(dbConn)
	require.NoError(t, err, "failed to create store")

	return store, dbConn
}

// NewTestStore creates the SQLite store.
func NewTestStore(t *testing.T) *db.SQLStore {
	t.Helper()

	store, _ := NewTestStoreWithDB(t)

	return store
}
