package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/stashbtc/stashd/chain"
	"github.com/stashbtc/stashd/wallet/internal/db"
)

// branchRecoveryState tracks the derivation frontier of one branch while the
// gap-limit phase decides how far ahead to derive. The unused tail beyond
// the last found index must always span gapLimit valid addresses; indexes
// the key material cannot derive are skipped and compensated for.
type branchRecoveryState struct {
	// gapLimit is the required length of the unused derived tail.
	gapLimit uint32

	// horizon is the highest child index derived so far, exclusive.
	horizon uint32

	// nextUnfound is the successor of the highest index observed as
	// used.
	nextUnfound uint32

	// invalidChildren records the indexes that derive to invalid keys.
	invalidChildren map[uint32]struct{}
}

// newBranchRecoveryState creates the state for one branch.
func newBranchRecoveryState(gapLimit uint32) *branchRecoveryState {
	return &branchRecoveryState{
		gapLimit:        gapLimit,
		invalidChildren: make(map[uint32]struct{}),
	}
}

// extendHorizon returns the current horizon and the number of additional
// valid addresses that must be derived so the unused tail reaches the gap
// limit again.
func (brs *branchRecoveryState) extendHorizon() (uint32, uint32) {
	curHorizon := brs.horizon

	nInvalid := brs.numInvalidInHorizon()
	minValidHorizon := brs.nextUnfound + brs.gapLimit + nInvalid

	if curHorizon >= minValidHorizon {
		return curHorizon, 0
	}

	delta := minValidHorizon - curHorizon
	brs.horizon = minValidHorizon

	return curHorizon, delta
}

// reportFound advances the found boundary when the reported index exceeds
// it, pruning invalid-child bookkeeping that fell behind the boundary.
func (brs *branchRecoveryState) reportFound(index uint32) {
	if index < brs.nextUnfound {
		return
	}

	brs.nextUnfound = index + 1

	for childIndex := range brs.invalidChildren {
		if childIndex < index {
			delete(brs.invalidChildren, childIndex)
		}
	}
}

// markInvalidChild records an index the key material cannot derive and grows
// the horizon by one, since the caller derives a replacement for it.
func (brs *branchRecoveryState) markInvalidChild(index uint32) {
	brs.invalidChildren[index] = struct{}{}
	brs.horizon++
}

// numInvalidInHorizon counts the invalid indexes between the found boundary
// and the horizon. These occupy derivation slots without contributing valid
// addresses to the tail.
func (brs *branchRecoveryState) numInvalidInHorizon() uint32 {
	var nInvalid uint32
	for childIndex := range brs.invalidChildren {
		if brs.nextUnfound <= childIndex && childIndex < brs.horizon {
			nInvalid++
		}
	}

	return nInvalid
}

// extendGapLimit derives new addresses on each branch until an unused tail
// of the configured gap length exists beyond the highest used index, then
// probes the new addresses for existing activity. Probe failures are
// swallowed: derivation already succeeded and is not undone by a transient
// query failure, the next run retries the scan.
func (s *Syncer) extendGapLimit(ctx context.Context, sc *SyncContext) error {
	desc, err := ParseDescriptor(sc.Wallet.Descriptor, sc.Params)
	if err != nil {
		return fmt.Errorf("parse wallet descriptor: %w", err)
	}

	var newAddrs []db.AddressInfo
	for _, branch := range []db.Branch{
		db.ExternalBranch, db.InternalBranch,
	} {
		derived, err := s.extendBranch(ctx, sc, desc, branch)
		if err != nil {
			return fmt.Errorf("extend branch %d: %w", branch, err)
		}

		newAddrs = append(newAddrs, derived...)
	}

	if len(newAddrs) == 0 {
		return nil
	}

	sc.Addresses = append(sc.Addresses, newAddrs...)
	sc.NewAddresses = append(sc.NewAddresses, newAddrs...)
	sc.Stats.NewAddresses += len(newAddrs)

	s.probeNewAddresses(ctx, sc, newAddrs)

	return nil
}

// extendBranch computes how far one branch must be derived, derives and
// persists the missing addresses, and returns the stored rows.
func (s *Syncer) extendBranch(ctx context.Context, sc *SyncContext,
	desc *Descriptor, branch db.Branch) ([]db.AddressInfo, error) {

	brs := newBranchRecoveryState(s.cfg.GapLimit)

	// Rebuild the frontier from the address list: everything derived so
	// far bounds the horizon, every used index advances the found
	// boundary.
	for i := range sc.Addresses {
		addr := &sc.Addresses[i]
		if addr.Branch != branch {
			continue
		}

		if addr.Index >= brs.horizon {
			brs.horizon = addr.Index + 1
		}
		if addr.Used {
			brs.reportFound(addr.Index)
		}
	}

	curHorizon, toDerive := brs.extendHorizon()
	if toDerive == 0 {
		return nil, nil
	}

	var (
		staged     []db.NewAddress
		count      uint32
		childIndex = curHorizon
	)
	for count < toDerive {
		derived, err := desc.Derive(uint32(branch), childIndex)
		switch {
		case errors.Is(err, hdkeychain.ErrInvalidChild):
			if len(brs.invalidChildren) >= maxInvalidChildSkips {
				return nil, fmt.Errorf("too many "+
					"underivable indexes: %w", err)
			}

			log.Debugf("Wallet %d: SYNC: skipping underivable "+
				"index %d on branch %d", sc.Wallet.ID,
				childIndex, branch)
			brs.markInvalidChild(childIndex)
			childIndex++

			continue

		case err != nil:
			return nil, fmt.Errorf("derive %d/%d: %w", branch,
				childIndex, err)
		}

		staged = append(staged, db.NewAddress{
			Address:      derived.Address.EncodeAddress(),
			ScriptPubKey: derived.PkScript,
			Branch:       branch,
			Index:        childIndex,
		})

		childIndex++
		count++
	}

	created, err := s.cfg.Store.CreateAddresses(
		ctx, db.CreateAddressesParams{
			WalletID:  sc.Wallet.ID,
			Addresses: staged,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("persist derived addresses: %w", err)
	}

	log.Debugf("Wallet %d: SYNC: branch %d extended by %d addresses up "+
		"to index %d", sc.Wallet.ID, branch, len(created),
		childIndex-1)

	return created, nil
}

// probeNewAddresses checks freshly derived addresses for chain activity.
// Activity on any of them means the gap boundary moved because an externally
// generated address was used, so the hit addresses are marked used and the
// next run extends further. All failures are logged and swallowed.
func (s *Syncer) probeNewAddresses(ctx context.Context, sc *SyncContext,
	newAddrs []db.AddressInfo) {

	var active []string
	err := batchQuery(ctx, newAddrs, s.cfg.BatchSize,
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
			active = append(active, addr.Address)
			for _, entry := range entries {
				sc.TxHeights[entry.TxID] = entry.Height
			}
		},
	)
	if err != nil {
		log.Warnf("Wallet %d: SYNC: scan of %d new addresses "+
			"failed, they remain recorded for the next run: %v",
			sc.Wallet.ID, len(newAddrs), err)
		return
	}

	if len(active) == 0 {
		log.Infof("Wallet %d: SYNC: scanning %d new addresses",
			sc.Wallet.ID, len(newAddrs))
		return
	}

	log.Infof("Wallet %d: SYNC: %d newly derived addresses already "+
		"have activity, re-syncing", sc.Wallet.ID, len(active))

	_, err = s.cfg.Store.MarkAddressesUsed(ctx, sc.Wallet.ID, active)
	if err != nil {
		log.Warnf("Wallet %d: SYNC: unable to mark probed "+
			"addresses used: %v", sc.Wallet.ID, err)
		return
	}

	markUsedInContext(sc, active)
}
