package db

import (
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ============================================================================
// Data Types & Method Parameters
// ============================================================================

// TxCategory describes the direction of a wallet transaction relative to the
// wallet's own addresses.
type TxCategory string

const (
	// TxCategoryIncoming marks a transaction that pays the wallet.
	TxCategoryIncoming TxCategory = "incoming"

	// TxCategoryOutgoing marks a transaction that spends wallet funds.
	TxCategoryOutgoing TxCategory = "outgoing"

	// TxCategorySelf marks a transaction whose inputs and outputs all
	// belong to the wallet.
	TxCategorySelf TxCategory = "self"

	// TxCategoryUnknown marks a transaction observed on an address before
	// its classification has been resolved.
	TxCategoryUnknown TxCategory = "unknown"
)

// Branch identifies a derivation branch within a wallet.
type Branch uint32

const (
	// ExternalBranch is the branch receive addresses are derived on.
	ExternalBranch Branch = 0

	// InternalBranch is the branch change addresses are derived on.
	InternalBranch Branch = 1
)

// --------------------
// WalletStore Types
// --------------------

// CreateWalletParams contains the parameters required to create a new wallet.
type CreateWalletParams struct {
	// Name is the unique, human-readable name of the wallet.
	Name string

	// Descriptor is the output script descriptor the wallet derives its
	// addresses from.
	Descriptor string

	// Birthday is the earliest time at which the wallet could have
	// received funds. A zero value means unknown.
	Birthday time.Time
}

// WalletInfo contains the properties of a stored wallet.
type WalletInfo struct {
	// ID is the unique identifier for the wallet.
	ID uint32

	// Name is the unique, human-readable name of the wallet.
	Name string

	// Descriptor is the output script descriptor the wallet derives its
	// addresses from.
	Descriptor string

	// Birthday is the earliest time at which the wallet could have
	// received funds. Zero if unknown.
	Birthday time.Time

	// SyncedHeight is the chain height the wallet was last reconciled
	// against. Zero if the wallet has never completed a sync.
	SyncedHeight int32

	// CreatedAt is the time the wallet row was created.
	CreatedAt time.Time
}

// --------------------
// AddressStore Types
// --------------------

// NewAddress describes a single derived address to insert.
type NewAddress struct {
	// Address is the encoded address string.
	Address string

	// ScriptPubKey is the output script that pays the address.
	ScriptPubKey []byte

	// Branch is the derivation branch the address belongs to.
	Branch Branch

	// Index is the derivation index within the branch.
	Index uint32
}

// CreateAddressesParams contains the parameters for inserting a batch of
// derived addresses.
type CreateAddressesParams struct {
	// WalletID is the wallet the addresses belong to.
	WalletID uint32

	// Addresses is the batch of addresses to insert.
	Addresses []NewAddress
}

// AddressInfo contains the properties of a stored address.
type AddressInfo struct {
	// ID is the unique identifier of the address row.
	ID int64

	// WalletID is the wallet the address belongs to.
	WalletID uint32

	// Address is the encoded address string.
	Address string

	// ScriptPubKey is the output script that pays the address.
	ScriptPubKey []byte

	// Branch is the derivation branch the address belongs to.
	Branch Branch

	// Index is the derivation index within the branch.
	Index uint32

	// Used reports whether any transaction, confirmed or not, has ever
	// touched the address.
	Used bool

	// CreatedAt is the time the address row was created.
	CreatedAt time.Time
}

// ListAddressesQuery filters the addresses returned by ListAddresses. The
// result is always ordered by branch, then derivation index.
type ListAddressesQuery struct {
	// WalletID is the wallet whose addresses are listed.
	WalletID uint32

	// Branch optionally restricts the listing to a single derivation
	// branch.
	Branch *Branch

	// OnlyUsed restricts the listing to addresses with transaction
	// history.
	OnlyUsed bool
}

// --------------------
// TxStore Types
// --------------------

// NewTx describes a single transaction record to upsert. If a record for the
// txid already exists, only its height, timestamp and category are refreshed.
type NewTx struct {
	// TxID is the transaction hash.
	TxID chainhash.Hash

	// Category describes the direction of the transaction.
	Category TxCategory

	// Height is the block height the transaction confirmed at. Zero or
	// negative means the transaction is still unconfirmed.
	Height int32

	// Timestamp is the block time of the confirming block. Zero if
	// unconfirmed.
	Timestamp time.Time

	// Fee is the transaction fee, when known.
	Fee btcutil.Amount

	// Replaceable reports whether the transaction signals BIP-125
	// replaceability.
	Replaceable bool

	// RawTx is the serialized transaction, when fetched.
	RawTx []byte
}

// UpsertTxsParams contains the parameters for recording a batch of
// transactions observed on chain.
type UpsertTxsParams struct {
	// WalletID is the wallet the transactions are relevant to.
	WalletID uint32

	// Txs is the batch of transactions to upsert.
	Txs []NewTx
}

// TxInfo contains the properties of a stored transaction record.
type TxInfo struct {
	// ID is the unique identifier of the transaction row.
	ID int64

	// WalletID is the wallet the transaction is relevant to.
	WalletID uint32

	// TxID is the transaction hash.
	TxID chainhash.Hash

	// Category describes the direction of the transaction.
	Category TxCategory

	// Height is the block height the transaction confirmed at. Zero or
	// negative means unconfirmed.
	Height int32

	// Timestamp is the block time of the confirming block. Zero if
	// unconfirmed.
	Timestamp time.Time

	// Fee is the transaction fee, when known.
	Fee btcutil.Amount

	// Replaceable reports whether the transaction signals BIP-125
	// replaceability.
	Replaceable bool

	// RawTx is the serialized transaction, when fetched.
	RawTx []byte

	// CreatedAt is the time the transaction row was created.
	CreatedAt time.Time
}

// ListTxsQuery filters the transactions returned by ListTxs. The result is
// ordered by height descending, unconfirmed transactions first.
type ListTxsQuery struct {
	// WalletID is the wallet whose transactions are listed.
	WalletID uint32

	// Category optionally restricts the listing to a single category.
	Category *TxCategory

	// OnlyUnconfirmed restricts the listing to transactions without a
	// confirming block.
	OnlyUnconfirmed bool
}

// --------------------
// UTXOStore Types
// --------------------

// NewUTXO describes a single unspent output to insert.
type NewUTXO struct {
	// OutPoint identifies the output on chain.
	OutPoint wire.OutPoint

	// Amount is the value of the output.
	Amount btcutil.Amount

	// ScriptPubKey is the output script.
	ScriptPubKey []byte

	// Address is the wallet address the output pays.
	Address string

	// Height is the block height the funding transaction confirmed at.
	// Zero or negative means unconfirmed.
	Height int32

	// Confirmations is the confirmation count at the time of insertion.
	Confirmations int32
}

// CreateUTXOsParams contains the parameters for inserting a batch of unspent
// outputs. Outputs that already exist for the wallet are skipped.
type CreateUTXOsParams struct {
	// WalletID is the wallet the outputs belong to.
	WalletID uint32

	// UTXOs is the batch of outputs to insert.
	UTXOs []NewUTXO
}

// UtxoInfo contains the properties of a stored output.
type UtxoInfo struct {
	// ID is the unique identifier of the output row.
	ID int64

	// WalletID is the wallet the output belongs to.
	WalletID uint32

	// OutPoint identifies the output on chain.
	OutPoint wire.OutPoint

	// Amount is the value of the output.
	Amount btcutil.Amount

	// ScriptPubKey is the output script.
	ScriptPubKey []byte

	// Address is the wallet address the output pays.
	Address string

	// Height is the block height the funding transaction confirmed at.
	// Zero or negative means unconfirmed.
	Height int32

	// Confirmations is the confirmation count as of the last reconcile.
	Confirmations int32

	// Spent reports whether the output has been observed as spent.
	Spent bool

	// CreatedAt is the time the output row was created.
	CreatedAt time.Time
}

// ListUTXOsQuery filters the outputs returned by ListUTXOs. The result is
// ordered by insertion.
type ListUTXOsQuery struct {
	// WalletID is the wallet whose outputs are listed.
	WalletID uint32

	// OnlyUnspent restricts the listing to outputs not yet observed as
	// spent.
	OnlyUnspent bool

	// Address optionally restricts the listing to outputs paying a
	// single address.
	Address string
}

// ConfirmationUpdate pairs an outpoint with freshly computed confirmation
// values.
type ConfirmationUpdate struct {
	// OutPoint identifies the output on chain.
	OutPoint wire.OutPoint

	// Height is the newly observed height. Zero or negative means the
	// output fell back to unconfirmed.
	Height int32

	// Confirmations is the confirmation count at the current tip.
	Confirmations int32
}

// --------------------
// DraftStore Types
// --------------------

// CreateDraftParams contains the parameters for recording a draft
// transaction together with the outputs it intends to spend.
type CreateDraftParams struct {
	// WalletID is the wallet the draft belongs to.
	WalletID uint32

	// RawTx is the serialized unsigned transaction.
	RawTx []byte

	// Fee is the fee the draft pays.
	Fee btcutil.Amount

	// ChangeAddress is the change address of the draft, if any.
	ChangeAddress string

	// UTXOIDs are the row IDs of the outputs the draft spends. The draft
	// is deleted automatically when any of them is spent on chain.
	UTXOIDs []int64

	// ExpiresAt is the time after which the draft may be garbage
	// collected. Zero means the draft never expires.
	ExpiresAt time.Time
}

// DraftInfo contains the properties of a stored draft transaction.
type DraftInfo struct {
	// ID is the unique identifier of the draft.
	ID int64

	// WalletID is the wallet the draft belongs to.
	WalletID uint32

	// RawTx is the serialized unsigned transaction.
	RawTx []byte

	// Fee is the fee the draft pays.
	Fee btcutil.Amount

	// ChangeAddress is the change address of the draft, if any.
	ChangeAddress string

	// UTXOIDs are the row IDs of the outputs the draft spends.
	UTXOIDs []int64

	// CreatedAt is the time the draft was created.
	CreatedAt time.Time

	// ExpiresAt is the time after which the draft may be garbage
	// collected. Zero means the draft never expires.
	ExpiresAt time.Time
}
