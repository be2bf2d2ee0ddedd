package wallet

import (
	"context"
	"fmt"

	"github.com/stashbtc/stashd/chain"
	"github.com/stashbtc/stashd/wallet/internal/db"
)

// batchQuery drives a batched chain lookup over a list of addresses. The
// addresses are grouped into batches of batchSize; each batch is queried with
// one bulk call, which fails as a unit. A failed batch is degraded to
// per-address singular calls for that batch only, and an address whose
// singular call also fails is visited with ok=false so the caller can record
// it as known-but-unresolved instead of dropping it.
//
// Only context cancellation aborts the walk; query failures degrade.
func batchQuery[T any](ctx context.Context, addrs []db.AddressInfo,
	batchSize int,
	bulk func(ctx context.Context, pkScripts [][]byte) ([][]T, error),
	single func(ctx context.Context, pkScript []byte) ([]T, error),
	onBatch func(), onFallback func(),
	visit func(addr *db.AddressInfo, items []T, ok bool)) error {

	for start := 0; start < len(addrs); start += batchSize {
		end := min(start+batchSize, len(addrs))
		group := addrs[start:end]

		scripts := make([][]byte, len(group))
		for i := range group {
			scripts[i] = group[i].ScriptPubKey
		}

		onBatch()
		results, err := bulk(ctx, scripts)
		if err == nil && len(results) != len(group) {
			err = fmt.Errorf("bulk query returned %d results "+
				"for %d scripts", len(results), len(group))
		}
		if err == nil {
			for i := range group {
				visit(&group[i], results[i], true)
			}
			continue
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		// The batch failed as a unit. Retry its members one by one so
		// a single bad entry cannot take down the whole phase.
		log.Warnf("Batch query of %d scripts failed, falling back "+
			"to singular queries: %v", len(group), err)

		for i := range group {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			onFallback()
			items, err := single(ctx, scripts[i])
			if err != nil {
				log.Warnf("Singular query for address %s "+
					"failed: %v", group[i].Address, err)
				visit(&group[i], nil, false)
				continue
			}

			visit(&group[i], items, true)
		}
	}

	return nil
}

// fetchHistories fetches the transaction history of every wallet address in
// batches, accumulating the distinct transaction set and the txid to height
// map. An address whose lookup fails entirely is recorded with an empty
// history so later phases treat it as known with no activity.
func (s *Syncer) fetchHistories(ctx context.Context, sc *SyncContext) error {
	err := batchQuery(ctx, sc.Addresses, s.cfg.BatchSize,
		sc.Chain.GetHistoryBatch, sc.Chain.GetHistory,
		func() { sc.Stats.HistoryBatchCalls++ },
		func() { sc.Stats.HistoryFallbacks++ },
		func(addr *db.AddressInfo, entries []chain.HistoryEntry,
			ok bool) {

			sc.Histories[addr.Address] = entries
			sc.Stats.HistoriesFetched++

			if len(entries) == 0 {
				return
			}

			sc.Stats.ActiveAddresses++
			for _, entry := range entries {
				sc.TxHeights[entry.TxID] = entry.Height
			}
		},
	)
	if err != nil {
		return err
	}

	log.Infof("Wallet %d: SYNC: fetched %d histories, %d addresses "+
		"active, %d distinct txs", sc.Wallet.ID,
		sc.Stats.HistoriesFetched, sc.Stats.ActiveAddresses,
		len(sc.TxHeights))

	return nil
}

// updateAddresses marks every address with observed history as used, in one
// bulk write that skips rows already marked. Running it twice changes
// nothing.
func (s *Syncer) updateAddresses(ctx context.Context, sc *SyncContext) error {
	var active []string
	for i := range sc.Addresses {
		addr := &sc.Addresses[i]
		if addr.Used || len(sc.Histories[addr.Address]) == 0 {
			continue
		}

		active = append(active, addr.Address)
	}

	if len(active) == 0 {
		return nil
	}

	marked, err := s.cfg.Store.MarkAddressesUsed(
		ctx, sc.Wallet.ID, active,
	)
	if err != nil {
		return fmt.Errorf("mark addresses used: %w", err)
	}

	// Reflect the transition in the run context so the gap-limit phase
	// sees the fresh flags without a reload.
	markUsedInContext(sc, active)

	log.Infof("Wallet %d: SYNC: marked %d addresses used", sc.Wallet.ID,
		marked)

	return nil
}

// markUsedInContext flips the in-memory used flag of the given addresses.
func markUsedInContext(sc *SyncContext, used []string) {
	set := make(map[string]struct{}, len(used))
	for _, a := range used {
		set[a] = struct{}{}
	}

	for i := range sc.Addresses {
		if _, ok := set[sc.Addresses[i].Address]; ok {
			sc.Addresses[i].Used = true
		}
	}
}

// fetchUTXOs fetches the unspent outputs of every wallet address in batches,
// building the run-wide outpoint map. Crucially it also records which
// addresses were queried successfully: reconciliation may treat an output as
// gone only if its address is in that set, since absence after a failed
// query means unknown.
func (s *Syncer) fetchUTXOs(ctx context.Context, sc *SyncContext) error {
	err := batchQuery(ctx, sc.Addresses, s.cfg.BatchSize,
		sc.Chain.ListUnspentBatch, sc.Chain.ListUnspent,
		func() { sc.Stats.UTXOBatchCalls++ },
		func() { sc.Stats.UTXOFallbacks++ },
		func(addr *db.AddressInfo, unspents []chain.Unspent,
			ok bool) {

			if !ok {
				return
			}

			sc.QueriedAddresses.Add(addr.Address)

			for _, u := range unspents {
				key := outPointKey(u.OutPoint)
				sc.ChainUTXOs[key] = ObservedUTXO{
					Address: addr.Address,
					Unspent: u,
				}
				sc.UTXOKeys.Add(key)
				sc.Stats.UTXOsObserved++
			}
		},
	)
	if err != nil {
		return err
	}

	log.Infof("Wallet %d: UTXO: chain reports %d unspent outputs "+
		"across %d queried addresses", sc.Wallet.ID,
		sc.Stats.UTXOsObserved, sc.QueriedAddresses.Size())

	return nil
}
