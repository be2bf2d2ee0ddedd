package chain

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrNotConnected is returned when an operation is attempted before
	// the client has been started or after it lost its connection.
	ErrNotConnected = errors.New("chain client not connected")

	// ErrClientShutdown is returned when an operation is attempted after
	// the client has been stopped.
	ErrClientShutdown = errors.New("chain client shut down")
)

// HistoryEntry is a single confirmed or unconfirmed transaction touching a
// watched output script.
type HistoryEntry struct {
	// TxID is the hash of the transaction.
	TxID chainhash.Hash

	// Height is the block height the transaction confirmed at. Zero
	// means it sits in the mempool; -1 means it sits in the mempool with
	// unconfirmed parents.
	Height int32
}

// Unspent is a single unspent output paying a watched output script.
type Unspent struct {
	// OutPoint identifies the output on chain.
	OutPoint wire.OutPoint

	// Amount is the value of the output.
	Amount btcutil.Amount

	// Height is the block height of the funding transaction. Zero or
	// negative means unconfirmed.
	Height int32
}

// Client is the view of the chain a wallet needs to reconcile its state:
// per-script transaction histories, per-script unspent outputs, raw
// transactions and the current tip height. Batch variants fetch many
// scripts in one call and fail as a whole, letting callers fall back to the
// per-script methods to isolate the failing entries.
type Client interface {
	// GetHistory returns every transaction touching the given output
	// script, confirmed and unconfirmed.
	GetHistory(ctx context.Context, pkScript []byte) ([]HistoryEntry,
		error)

	// GetHistoryBatch returns the histories of the given output scripts,
	// index-aligned with the input. If any script fails the whole batch
	// fails.
	GetHistoryBatch(ctx context.Context,
		pkScripts [][]byte) ([][]HistoryEntry, error)

	// ListUnspent returns the unspent outputs paying the given output
	// script.
	ListUnspent(ctx context.Context, pkScript []byte) ([]Unspent, error)

	// ListUnspentBatch returns the unspent outputs of the given output
	// scripts, index-aligned with the input. If any script fails the
	// whole batch fails.
	ListUnspentBatch(ctx context.Context,
		pkScripts [][]byte) ([][]Unspent, error)

	// GetTransaction returns the full transaction with the given hash.
	GetTransaction(ctx context.Context,
		txid chainhash.Hash) (*wire.MsgTx, error)

	// BestHeight returns the current chain tip height.
	BestHeight(ctx context.Context) (int32, error)
}
