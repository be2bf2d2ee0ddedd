package db

import "errors"

var (
	// ErrNilDB is returned when a store constructor receives a nil
	// database handle.
	ErrNilDB = errors.New("database connection is nil")

	// ErrWalletNotFound is returned when the requested wallet does not
	// exist in the database.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrWalletExists is returned when creating a wallet whose name is
	// already taken.
	ErrWalletExists = errors.New("wallet already exists")

	// ErrAddressNotFound is returned when the requested address does not
	// exist in the database.
	ErrAddressNotFound = errors.New("address not found")

	// ErrTxNotFound is returned when the requested transaction record
	// does not exist in the database.
	ErrTxNotFound = errors.New("transaction not found")

	// ErrUTXONotFound is returned when the requested unspent output does
	// not exist in the database.
	ErrUTXONotFound = errors.New("utxo not found")

	// ErrDraftNotFound is returned when the requested draft transaction
	// does not exist in the database.
	ErrDraftNotFound = errors.New("draft transaction not found")
)
