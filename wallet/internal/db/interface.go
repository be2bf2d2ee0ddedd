package db

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Store is the top-level interface that combines all the more granular
// sub-interfaces. This is the single entry point for all wallet database
// operations.
type Store interface {
	WalletStore
	AddressStore
	TxStore
	UTXOStore
	DraftStore

	// ExecuteTx runs fn inside a single database transaction. The Store
	// passed to fn is scoped to that transaction. The transaction is
	// committed when fn returns nil and rolled back otherwise. Calls must
	// not be nested.
	ExecuteTx(ctx context.Context, fn func(Store) error) error
}

// WalletStore defines the database actions for managing wallets.
type WalletStore interface {
	CreateWallet(ctx context.Context, params CreateWalletParams) (*WalletInfo, error)
	GetWallet(ctx context.Context, walletID uint32) (*WalletInfo, error)
	GetWalletByName(ctx context.Context, name string) (*WalletInfo, error)
	ListWallets(ctx context.Context) ([]WalletInfo, error)
	UpdateSyncedHeight(ctx context.Context, walletID uint32, height int32) error
	DeleteWallet(ctx context.Context, walletID uint32) error
}

// AddressStore defines the database actions for managing derived addresses.
type AddressStore interface {
	CreateAddresses(ctx context.Context, params CreateAddressesParams) ([]AddressInfo, error)
	GetAddress(ctx context.Context, walletID uint32, address string) (*AddressInfo, error)
	ListAddresses(ctx context.Context, query ListAddressesQuery) ([]AddressInfo, error)
	MarkAddressesUsed(ctx context.Context, walletID uint32, addresses []string) (int64, error)
}

// TxStore defines the database actions for managing transaction records.
type TxStore interface {
	UpsertTxs(ctx context.Context, params UpsertTxsParams) (int64, error)
	GetTx(ctx context.Context, walletID uint32, txid chainhash.Hash) (*TxInfo, error)
	ListTxs(ctx context.Context, query ListTxsQuery) ([]TxInfo, error)
}

// UTXOStore defines the database actions for managing the wallet UTXO set.
type UTXOStore interface {
	CreateUTXOs(ctx context.Context, params CreateUTXOsParams) (int64, error)
	ListUTXOs(ctx context.Context, query ListUTXOsQuery) ([]UtxoInfo, error)
	MarkUTXOsSpent(ctx context.Context, walletID uint32, outpoints []wire.OutPoint) ([]int64, error)
	UpdateUTXOConfirmations(ctx context.Context, walletID uint32, updates []ConfirmationUpdate) (int64, error)
}

// DraftStore defines the database actions for managing draft transactions.
type DraftStore interface {
	CreateDraft(ctx context.Context, params CreateDraftParams) (*DraftInfo, error)
	GetDraft(ctx context.Context, walletID uint32, draftID int64) (*DraftInfo, error)
	ListDrafts(ctx context.Context, walletID uint32) ([]DraftInfo, error)
	DeleteDraft(ctx context.Context, walletID uint32, draftID int64) error
	DeleteDraftsSpendingUTXOs(ctx context.Context, walletID uint32, utxoIDs []int64) (int64, error)
	DeleteExpiredDrafts(ctx context.Context, now time.Time) (int64, error)
}
