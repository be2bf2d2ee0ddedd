package wallet

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	fn "github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stashbtc/stashd/chain"
	"github.com/stashbtc/stashd/wallet/internal/db"
)

// ObservedUTXO pairs an unspent output reported by the chain with the wallet
// address it pays.
type ObservedUTXO struct {
	// Address is the wallet address whose query returned the output.
	Address string

	// Unspent is the output as reported by the chain.
	Unspent chain.Unspent
}

// SyncStats accumulates counters across the phases of a single sync run.
// They are diagnostic only and never persisted.
type SyncStats struct {
	// ActiveAddresses is the number of addresses with at least one
	// history entry.
	ActiveAddresses int

	// HistoriesFetched is the number of addresses whose history was
	// resolved, successfully or as empty after a failed lookup.
	HistoriesFetched int

	// HistoryBatchCalls is the number of batched history queries issued.
	HistoryBatchCalls int

	// HistoryFallbacks is the number of addresses that fell back to a
	// singular history query after their batch failed.
	HistoryFallbacks int

	// UTXOBatchCalls is the number of batched unspent queries issued.
	UTXOBatchCalls int

	// UTXOFallbacks is the number of addresses that fell back to a
	// singular unspent query after their batch failed.
	UTXOFallbacks int

	// UTXOsObserved is the number of unspent outputs reported by the
	// chain this run.
	UTXOsObserved int

	// UTXOsCreated is the number of outputs newly inserted this run.
	UTXOsCreated int

	// UTXOsMarkedSpent is the number of stored outputs that transitioned
	// to spent this run.
	UTXOsMarkedSpent int

	// UTXOsUpdated is the number of stored outputs whose confirmation
	// values drifted and were refreshed.
	UTXOsUpdated int

	// DraftsInvalidated is the number of draft transactions deleted
	// because an output they reserve was spent.
	DraftsInvalidated int

	// NewAddresses is the number of addresses derived by gap-limit
	// extension this run.
	NewAddresses int

	// TxFetches is the number of raw transactions fetched from the
	// chain, excluding in-run cache hits.
	TxFetches int
}

// SyncContext is the mutable accumulator threaded through the phases of one
// sync run. It is created when the run starts and discarded when it ends;
// nothing in it is persisted directly.
type SyncContext struct {
	// Wallet is the wallet being synced.
	Wallet *db.WalletInfo

	// Chain is the chain view the run reconciles against.
	Chain chain.Client

	// Params describe the network the wallet operates on.
	Params *chaincfg.Params

	// BestHeight is the chain tip height sampled at run start.
	BestHeight int32

	// Addresses is the wallet's address list, extended in place as the
	// gap-limit phase derives new ones.
	Addresses []db.AddressInfo

	// Histories maps an address to its fetched transaction history. An
	// address whose lookup failed is present with an empty history so
	// downstream phases treat it as known with no activity.
	Histories map[string][]chain.HistoryEntry

	// TxHeights maps every distinct transaction observed this run to its
	// reported height.
	TxHeights map[chainhash.Hash]int32

	// ChainUTXOs maps an outpoint key to the unspent output the chain
	// reported for it.
	ChainUTXOs map[string]ObservedUTXO

	// UTXOKeys is the set of every outpoint key observed this run.
	UTXOKeys fn.Set[string]

	// QueriedAddresses is the set of addresses whose unspent query
	// succeeded, whether or not it returned anything. Only outputs of
	// these addresses may be marked spent: absence after a failed query
	// means unknown, not gone.
	QueriedAddresses fn.Set[string]

	// NewAddresses are the addresses derived by gap-limit extension this
	// run.
	NewAddresses []db.AddressInfo

	// Stats are the running counters of the run.
	Stats SyncStats

	// Completed lists the names of the phases finished so far, in order.
	// It is attached to the pipeline error when a later phase fails.
	Completed []string

	// txCache holds the raw transactions already fetched this run.
	txCache map[chainhash.Hash]*wire.MsgTx
}

// newSyncContext builds the accumulator for one run.
func newSyncContext(w *db.WalletInfo, client chain.Client,
	params *chaincfg.Params, bestHeight int32,
	addrs []db.AddressInfo) *SyncContext {

	return &SyncContext{
		Wallet:           w,
		Chain:            client,
		Params:           params,
		BestHeight:       bestHeight,
		Addresses:        addrs,
		Histories:        make(map[string][]chain.HistoryEntry),
		TxHeights:        make(map[chainhash.Hash]int32),
		ChainUTXOs:       make(map[string]ObservedUTXO),
		UTXOKeys:         fn.NewSet[string](),
		QueriedAddresses: fn.NewSet[string](),
		txCache:          make(map[chainhash.Hash]*wire.MsgTx),
	}
}

// transaction resolves a raw transaction through the in-run cache, fetching
// it from the chain on a miss.
func (sc *SyncContext) transaction(ctx context.Context,
	txid chainhash.Hash) (*wire.MsgTx, error) {

	if tx, ok := sc.txCache[txid]; ok {
		return tx, nil
	}

	tx, err := sc.Chain.GetTransaction(ctx, txid)
	if err != nil {
		return nil, err
	}

	sc.Stats.TxFetches++
	sc.txCache[txid] = tx

	return tx, nil
}

// confirmations computes the confirmation count of an output at the given
// height against the run's chain tip. Heights at or below zero mean the
// funding transaction is unconfirmed.
func (sc *SyncContext) confirmations(height int32) int32 {
	if height <= 0 || height > sc.BestHeight {
		return 0
	}

	return sc.BestHeight - height + 1
}

// outPointKey renders an outpoint as the "txid:vout" key the run-wide UTXO
// maps are indexed by.
func outPointKey(op wire.OutPoint) string {
	return fmt.Sprintf("%v:%d", op.Hash, op.Index)
}
