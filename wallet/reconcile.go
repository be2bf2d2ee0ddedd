package wallet

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	fn "github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stashbtc/stashd/wallet/internal/db"
)

// insertUTXOs stages a creation row for every output observed this run that
// is not stored yet, resolving each parent transaction to extract the output
// script, and inserts them in one duplicate-skipping bulk write. Parent
// transactions are classified and recorded alongside.
func (s *Syncer) insertUTXOs(ctx context.Context, sc *SyncContext) error {
	stored, err := s.cfg.Store.ListUTXOs(ctx, db.ListUTXOsQuery{
		WalletID: sc.Wallet.ID,
	})
	if err != nil {
		return fmt.Errorf("list stored utxos: %w", err)
	}

	storedKeys := fn.NewSet[string]()
	for _, u := range stored {
		storedKeys.Add(outPointKey(u.OutPoint))
	}

	var (
		created  []db.NewUTXO
		newValue btcutil.Amount
	)
	for key, observed := range sc.ChainUTXOs {
		if storedKeys.Contains(key) {
			continue
		}

		op := observed.Unspent.OutPoint
		tx, err := sc.transaction(ctx, op.Hash)
		if err != nil {
			// The output stays unrecorded this run and is picked
			// up again by the next one.
			log.Warnf("Wallet %d: UTXO: unable to resolve "+
				"funding tx %v: %v", sc.Wallet.ID, op.Hash,
				err)
			continue
		}

		if op.Index >= uint32(len(tx.TxOut)) {
			log.Errorf("Wallet %d: UTXO: tx %v has no output "+
				"%d, skipping", sc.Wallet.ID, op.Hash,
				op.Index)
			continue
		}

		created = append(created, db.NewUTXO{
			OutPoint:     op,
			Amount:       observed.Unspent.Amount,
			ScriptPubKey: tx.TxOut[op.Index].PkScript,
			Address:      observed.Address,
			Height:       observed.Unspent.Height,
			Confirmations: sc.confirmations(
				observed.Unspent.Height,
			),
		})
		newValue += observed.Unspent.Amount
	}

	if err := s.recordTransactions(ctx, sc, storedKeys); err != nil {
		return err
	}

	if len(created) == 0 {
		return nil
	}

	n, err := s.cfg.Store.CreateUTXOs(ctx, db.CreateUTXOsParams{
		WalletID: sc.Wallet.ID,
		UTXOs:    created,
	})
	if err != nil {
		return fmt.Errorf("create utxos: %w", err)
	}
	sc.Stats.UTXOsCreated = int(n)

	log.Infof("Wallet %d: UTXO: recorded %d new outputs worth %v",
		sc.Wallet.ID, n, newValue)

	return nil
}

// recordTransactions upserts a record for every transaction observed this
// run. Transactions whose raw form was fetched while resolving outputs are
// classified by input and output ownership; the rest are recorded with their
// height only, to be enriched when a later run fetches them. The upsert
// preserves an already resolved classification, so sparse refreshes never
// downgrade a record.
func (s *Syncer) recordTransactions(ctx context.Context, sc *SyncContext,
	storedKeys fn.Set[string]) error {

	if len(sc.TxHeights) == 0 {
		return nil
	}

	// Every outpoint known to belong to the wallet, stored or observed,
	// marks a spending input as wallet-funded.
	walletOutpoints := storedKeys
	for key := range sc.UTXOKeys {
		walletOutpoints.Add(key)
	}

	ownScripts := make(map[string]struct{}, len(sc.Addresses))
	for i := range sc.Addresses {
		ownScripts[hex.EncodeToString(
			sc.Addresses[i].ScriptPubKey,
		)] = struct{}{}
	}

	txs := make([]db.NewTx, 0, len(sc.TxHeights))
	for txid, height := range sc.TxHeights {
		row := db.NewTx{
			TxID:     txid,
			Category: db.TxCategoryUnknown,
			Height:   height,
		}

		if tx, ok := sc.txCache[txid]; ok {
			row.Category = classifyTx(
				tx, ownScripts, walletOutpoints,
			)
			row.Replaceable = txSignalsRBF(tx)
			row.Fee = txFee(sc, tx)

			var buf bytes.Buffer
			if err := tx.Serialize(&buf); err == nil {
				row.RawTx = buf.Bytes()
			}
		}

		txs = append(txs, row)
	}

	_, err := s.cfg.Store.UpsertTxs(ctx, db.UpsertTxsParams{
		WalletID: sc.Wallet.ID,
		Txs:      txs,
	})
	if err != nil {
		return fmt.Errorf("record transactions: %w", err)
	}

	return nil
}

// classifyTx determines the direction of a transaction relative to the
// wallet: self when wallet inputs fund only wallet outputs (a
// consolidation), outgoing when wallet inputs fund anything else, incoming
// when only outputs touch the wallet.
func classifyTx(tx *wire.MsgTx, ownScripts map[string]struct{},
	walletOutpoints fn.Set[string]) db.TxCategory {

	spendsOurs := false
	for _, in := range tx.TxIn {
		if walletOutpoints.Contains(outPointKey(in.PreviousOutPoint)) {
			spendsOurs = true
			break
		}
	}

	paysOurs, paysOthers := false, false
	for _, out := range tx.TxOut {
		script := hex.EncodeToString(out.PkScript)
		if _, ok := ownScripts[script]; ok {
			paysOurs = true
		} else {
			paysOthers = true
		}
	}

	switch {
	case spendsOurs && paysOurs && !paysOthers:
		return db.TxCategorySelf

	case spendsOurs:
		return db.TxCategoryOutgoing

	case paysOurs:
		return db.TxCategoryIncoming

	default:
		return db.TxCategoryUnknown
	}
}

// txSignalsRBF reports whether the transaction opts into BIP-125
// replacement, i.e. any input sequence below 0xfffffffe.
func txSignalsRBF(tx *wire.MsgTx) bool {
	for _, in := range tx.TxIn {
		if in.Sequence < wire.MaxTxInSequenceNum-1 {
			return true
		}
	}

	return false
}

// txFee computes the transaction fee when every funding transaction is
// already in the run cache, and zero otherwise. It never issues chain
// queries of its own.
func txFee(sc *SyncContext, tx *wire.MsgTx) btcutil.Amount {
	var inputValue btcutil.Amount
	for _, in := range tx.TxIn {
		parent, ok := sc.txCache[in.PreviousOutPoint.Hash]
		if !ok {
			return 0
		}
		if in.PreviousOutPoint.Index >= uint32(len(parent.TxOut)) {
			return 0
		}

		inputValue += btcutil.Amount(
			parent.TxOut[in.PreviousOutPoint.Index].Value,
		)
	}

	var outputValue btcutil.Amount
	for _, out := range tx.TxOut {
		outputValue += btcutil.Amount(out.Value)
	}

	if inputValue <= outputValue {
		return 0
	}

	return inputValue - outputValue
}

// reconcileUTXOs is the authoritative pass over the stored UTXO set. An
// output absent from this run's chain view is marked spent, but only if its
// address was queried successfully: absence after a failed query means
// unknown, never gone. Outputs still present get their height and
// confirmation count refreshed when drifted. Spent-marking and the draft
// invalidation it triggers run in one storage transaction; the confirmation
// refresh follows as a second one. This phase is the only writer of the
// spent transition.
func (s *Syncer) reconcileUTXOs(ctx context.Context, sc *SyncContext) error {
	stored, err := s.cfg.Store.ListUTXOs(ctx, db.ListUTXOsQuery{
		WalletID: sc.Wallet.ID,
	})
	if err != nil {
		return fmt.Errorf("list stored utxos: %w", err)
	}

	var (
		toSpend []wire.OutPoint
		updates []db.ConfirmationUpdate
	)
	for _, u := range stored {
		key := outPointKey(u.OutPoint)

		if !sc.UTXOKeys.Contains(key) {
			if u.Spent {
				continue
			}
			if !sc.QueriedAddresses.Contains(u.Address) {
				log.Debugf("Wallet %d: UTXO: %s missing but "+
					"address %s was not queried, leaving "+
					"unspent", sc.Wallet.ID, key,
					u.Address)
				continue
			}

			toSpend = append(toSpend, u.OutPoint)
			continue
		}

		observed := sc.ChainUTXOs[key]
		height := observed.Unspent.Height
		confs := sc.confirmations(height)
		if height == u.Height && confs == u.Confirmations {
			continue
		}

		updates = append(updates, db.ConfirmationUpdate{
			OutPoint:      u.OutPoint,
			Height:        height,
			Confirmations: confs,
		})
	}

	if len(toSpend) > 0 {
		log.Tracef("Wallet %d: UTXO: spent outpoints: %v", sc.Wallet.ID,
			newLogClosure(func() string {
				return spew.Sdump(toSpend)
			}))

		err := s.markSpentAndInvalidate(ctx, sc, toSpend)
		if err != nil {
			return err
		}
	}

	if len(updates) > 0 {
		err := s.cfg.Store.ExecuteTx(ctx, func(tx db.Store) error {
			n, err := tx.UpdateUTXOConfirmations(
				ctx, sc.Wallet.ID, updates,
			)
			if err != nil {
				return err
			}
			sc.Stats.UTXOsUpdated = int(n)

			return nil
		})
		if err != nil {
			return fmt.Errorf("update confirmations: %w", err)
		}

		log.Infof("Wallet %d: UTXO: refreshed confirmations of %d "+
			"outputs", sc.Wallet.ID, sc.Stats.UTXOsUpdated)
	}

	return nil
}

// markSpentAndInvalidate marks the given outpoints spent and deletes every
// draft transaction holding a lock on one of them, atomically in a single
// storage transaction so a crash cannot leave a draft reserving a spent
// output.
func (s *Syncer) markSpentAndInvalidate(ctx context.Context, sc *SyncContext,
	toSpend []wire.OutPoint) error {

	var invalidated []int64
	err := s.cfg.Store.ExecuteTx(ctx, func(tx db.Store) error {
		spentIDs, err := tx.MarkUTXOsSpent(
			ctx, sc.Wallet.ID, toSpend,
		)
		if err != nil {
			return fmt.Errorf("mark utxos spent: %w", err)
		}
		sc.Stats.UTXOsMarkedSpent = len(spentIDs)

		if len(spentIDs) == 0 {
			return nil
		}

		// Resolve which drafts reserve a newly spent output so the
		// invalidation can name them, then cascade.
		invalidated, err = draftsSpending(ctx, tx, sc.Wallet.ID,
			spentIDs)
		if err != nil {
			return fmt.Errorf("resolve affected drafts: %w", err)
		}

		if len(invalidated) == 0 {
			return nil
		}

		n, err := tx.DeleteDraftsSpendingUTXOs(
			ctx, sc.Wallet.ID, spentIDs,
		)
		if err != nil {
			return fmt.Errorf("delete drafts: %w", err)
		}
		sc.Stats.DraftsInvalidated = int(n)

		return nil
	})
	if err != nil {
		return err
	}

	log.Infof("Wallet %d: UTXO: marked %d outputs spent",
		sc.Wallet.ID, sc.Stats.UTXOsMarkedSpent)

	for _, draftID := range invalidated {
		log.Warnf("Wallet %d: DRAFT: invalidated draft %d, an "+
			"output it reserves was spent on chain",
			sc.Wallet.ID, draftID)
	}

	return nil
}

// draftsSpending returns the ids of the drafts that hold a lock on any of
// the given utxo rows.
func draftsSpending(ctx context.Context, store db.Store, walletID uint32,
	utxoIDs []int64) ([]int64, error) {

	drafts, err := store.ListDrafts(ctx, walletID)
	if err != nil {
		return nil, err
	}

	spent := fn.NewSet(utxoIDs...)

	var affected []int64
	for _, d := range drafts {
		for _, id := range d.UTXOIDs {
			if spent.Contains(id) {
				affected = append(affected, d.ID)
				break
			}
		}
	}

	return affected, nil
}
