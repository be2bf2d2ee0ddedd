// Package wallet implements the state-reconciliation core of a watch-only
// bitcoin wallet backend. It keeps descriptor-derived addresses, observed
// transactions, the UTXO set and draft spend proposals in a SQL store, and
// reconciles them against an Electrum-backed chain view through an ordered
// sync pipeline.
package wallet

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stashbtc/stashd/wallet/internal/db"

	// Register the database/sql drivers the store openers dial with.
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	// DefaultGapLimit is the number of consecutive unused addresses kept
	// derived ahead of the last used one on each branch.
	DefaultGapLimit = 20

	// DefaultBatchSize is the number of output scripts grouped into a
	// single batched chain query.
	DefaultBatchSize = 50
)

var (
	// ErrWalletNotFound is returned when an operation references a wallet
	// id that does not exist. It mirrors the storage sentinel so callers
	// outside this package can match it.
	ErrWalletNotFound = db.ErrWalletNotFound

	// ErrWalletExists is returned when a wallet is created under a name
	// that is already taken.
	ErrWalletExists = db.ErrWalletExists
)

// The storage layer lives in an internal package; these aliases form the
// public view of its record types.
type (
	// Store is the wallet database contract.
	Store = db.Store

	// WalletInfo describes a stored wallet.
	WalletInfo = db.WalletInfo

	// AddressInfo describes a stored derived address.
	AddressInfo = db.AddressInfo

	// TxInfo describes a stored transaction record.
	TxInfo = db.TxInfo

	// UtxoInfo describes a stored unspent output.
	UtxoInfo = db.UtxoInfo

	// DraftInfo describes a stored draft transaction.
	DraftInfo = db.DraftInfo
)

// sqliteDSN decorates a database path with the pragmas the store relies on:
// foreign keys for the cascade constraints, WAL plus a busy timeout for
// concurrent access, and immediate transaction locking.
func sqliteDSN(path string) string {
	return path + "?_pragma=foreign_keys=on" +
		"&_pragma=journal_mode=WAL" +
		"&_txlock=immediate" +
		"&_pragma=busy_timeout=5000"
}

// OpenSQLiteStore opens, or creates, the SQLite wallet database at the given
// path, applies any pending migrations and returns the store together with
// the underlying handle so the caller can close it on shutdown.
func OpenSQLiteStore(path string) (Store, *sql.DB, error) {
	dbConn, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.ApplySQLiteMigrations(dbConn); err != nil {
		_ = dbConn.Close()
		return nil, nil, fmt.Errorf("apply sqlite migrations: %w", err)
	}

	store, err := db.NewSQLiteStore(dbConn)
	if err != nil {
		_ = dbConn.Close()
		return nil, nil, err
	}

	return store, dbConn, nil
}

// OpenPostgresStore connects to the PostgreSQL database described by the
// DSN, applies any pending migrations and returns the store together with
// the underlying handle so the caller can close it on shutdown.
func OpenPostgresStore(dsn string) (Store, *sql.DB, error) {
	dbConn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres database: %w", err)
	}

	if err := db.ApplyPostgresMigrations(dbConn); err != nil {
		_ = dbConn.Close()
		return nil, nil, fmt.Errorf("apply postgres migrations: %w", err)
	}

	store, err := db.NewPostgresStore(dbConn)
	if err != nil {
		_ = dbConn.Close()
		return nil, nil, err
	}

	return store, dbConn, nil
}

// CreateParams holds the parameters required to initialize a new wallet.
// These are one-time inputs used during the creation process.
type CreateParams struct {
	// Name is the unique, human-readable name of the wallet.
	Name string

	// Descriptor is the output script descriptor the wallet derives its
	// addresses from. Must be a public descriptor matching the network.
	Descriptor string

	// Birthday is the earliest time at which the wallet could have
	// received funds. A zero value means unknown.
	Birthday time.Time

	// GapLimit is the number of receive and change addresses derived up
	// front. Defaults to DefaultGapLimit when zero.
	GapLimit uint32
}

// Create registers a new wallet and derives its initial window of receive
// and change addresses, all within one storage transaction. The descriptor
// is validated against the given network before anything is written.
func Create(ctx context.Context, store Store, params *chaincfg.Params,
	p CreateParams) (*WalletInfo, error) {

	if p.Name == "" {
		return nil, fmt.Errorf("wallet name must not be empty")
	}

	desc, err := ParseDescriptor(p.Descriptor, params)
	if err != nil {
		return nil, err
	}

	gapLimit := p.GapLimit
	if gapLimit == 0 {
		gapLimit = DefaultGapLimit
	}

	external, _, err := deriveAddresses(desc, db.ExternalBranch, 0, gapLimit)
	if err != nil {
		return nil, fmt.Errorf("derive receive addresses: %w", err)
	}
	internal, _, err := deriveAddresses(desc, db.InternalBranch, 0, gapLimit)
	if err != nil {
		return nil, fmt.Errorf("derive change addresses: %w", err)
	}

	var info *WalletInfo
	err = store.ExecuteTx(ctx, func(tx db.Store) error {
		info, err = tx.CreateWallet(ctx, db.CreateWalletParams{
			Name:       p.Name,
			Descriptor: p.Descriptor,
			Birthday:   p.Birthday,
		})
		if err != nil {
			return fmt.Errorf("create wallet: %w", err)
		}

		_, err = tx.CreateAddresses(ctx, db.CreateAddressesParams{
			WalletID:  info.ID,
			Addresses: external,
		})
		if err != nil {
			return fmt.Errorf("create receive addresses: %w", err)
		}

		_, err = tx.CreateAddresses(ctx, db.CreateAddressesParams{
			WalletID:  info.ID,
			Addresses: internal,
		})
		if err != nil {
			return fmt.Errorf("create change addresses: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Infof("Created wallet %q (id %d, %v) with %d receive and %d "+
		"change addresses", info.Name, info.ID, desc.Kind(),
		len(external), len(internal))

	return info, nil
}
