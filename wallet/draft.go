package wallet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	fn "github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stashbtc/stashd/coinselect"
	"github.com/stashbtc/stashd/pkg/btcunit"
	"github.com/stashbtc/stashd/wallet/internal/db"
)

var (
	// ErrInsufficientFunds is returned when the wallet's unreserved
	// unspent outputs cannot cover a requested amount plus its fee.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// FundRequest describes a payment to reserve outputs for.
type FundRequest struct {
	// WalletID is the wallet to fund from.
	WalletID uint32

	// Amount is the amount the selected outputs must cover on top of
	// the fee.
	Amount btcutil.Amount

	// FeeRate is the fee rate the eventual transaction will pay. Unset
	// or zero means the default relay rate.
	FeeRate btcunit.SatPerVByte

	// Strategy names the coin selection strategy to run. Unknown names
	// fall back to the efficiency strategy.
	Strategy string

	// TTL bounds the lifetime of the reservation. Zero means the draft
	// only falls away when one of its reserved outputs is spent on
	// chain.
	TTL time.Duration
}

// FundDraft selects unspent outputs of the wallet covering the requested
// amount and reserves them in a draft, so concurrent callers cannot build
// spends over the same outputs. Outputs already reserved by another draft
// are not candidates. The selection's script type follows the wallet's
// descriptor, and the draft is stamped with a change address from the
// first unused change-branch address when the selection leaves change. The
// stored transaction is an unsigned skeleton carrying the selected inputs
// and the change output; the payment outputs are added when the draft is
// finalized for signing.
func FundDraft(ctx context.Context, store Store, params *chaincfg.Params,
	registry *coinselect.Registry, req FundRequest) (*DraftInfo,
	*coinselect.Result, error) {

	if req.Amount <= 0 {
		return nil, nil, fmt.Errorf("amount must be positive, got %v",
			req.Amount)
	}

	w, err := store.GetWallet(ctx, req.WalletID)
	if err != nil {
		return nil, nil, err
	}

	desc, err := ParseDescriptor(w.Descriptor, params)
	if err != nil {
		return nil, nil, err
	}

	candidates, utxoIDs, err := spendableCandidates(ctx, store, w.ID)
	if err != nil {
		return nil, nil, err
	}

	result, err := registry.Select(req.Strategy, coinselect.Request{
		Candidates: candidates,
		Target:     req.Amount,
		FeeRate:    req.FeeRate,
		ScriptType: desc.Kind().SelectionScriptType(),
	})
	if err != nil {
		return nil, nil, err
	}

	for _, warning := range result.Warnings {
		if warning.Code == coinselect.WarnInsufficientFunds {
			return nil, nil, fmt.Errorf("%w: %s",
				ErrInsufficientFunds, warning.Message)
		}
	}

	reserve := make([]int64, len(result.Inputs))
	for i, input := range result.Inputs {
		reserve[i] = utxoIDs[outPointKey(input.OutPoint)]
	}

	skeleton := wire.NewMsgTx(wire.TxVersion)
	for _, input := range result.Inputs {
		op := input.OutPoint
		skeleton.AddTxIn(wire.NewTxIn(&op, nil, nil))
	}

	var changeAddress string
	if result.Change > 0 {
		change, err := unusedChangeAddress(ctx, store, w.ID)
		if err != nil {
			return nil, nil, err
		}
		if change != nil {
			changeAddress = change.Address
			skeleton.AddTxOut(wire.NewTxOut(
				int64(result.Change), change.ScriptPubKey,
			))
		}
	}

	var rawTx bytes.Buffer
	if err := skeleton.Serialize(&rawTx); err != nil {
		return nil, nil, fmt.Errorf("serialize draft tx: %w", err)
	}

	var expiresAt time.Time
	if req.TTL > 0 {
		expiresAt = time.Now().Add(req.TTL)
	}

	draft, err := store.CreateDraft(ctx, db.CreateDraftParams{
		WalletID:      w.ID,
		RawTx:         rawTx.Bytes(),
		Fee:           result.Fee,
		ChangeAddress: changeAddress,
		UTXOIDs:       reserve,
		ExpiresAt:     expiresAt,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create draft: %w", err)
	}

	log.Infof("Wallet %d: DRAFT: draft %d reserves %d outputs worth %v "+
		"(target %v, fee %v, change %v, privacy score %d)", w.ID,
		draft.ID, len(result.Inputs), result.Total, req.Amount,
		result.Fee, result.Change, result.Privacy.Score)

	return draft, result, nil
}

// spendableCandidates loads the wallet's unspent outputs that no draft has
// reserved, as selection candidates, together with the outpoint-to-row-id
// mapping needed to reserve the chosen ones.
func spendableCandidates(ctx context.Context, store Store,
	walletID uint32) ([]coinselect.Candidate, map[string]int64, error) {

	utxos, err := store.ListUTXOs(ctx, db.ListUTXOsQuery{
		WalletID:    walletID,
		OnlyUnspent: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("list utxos: %w", err)
	}

	drafts, err := store.ListDrafts(ctx, walletID)
	if err != nil {
		return nil, nil, fmt.Errorf("list drafts: %w", err)
	}

	reserved := fn.NewSet[int64]()
	for _, draft := range drafts {
		for _, id := range draft.UTXOIDs {
			reserved.Add(id)
		}
	}

	var (
		candidates []coinselect.Candidate
		utxoIDs    = make(map[string]int64, len(utxos))
	)
	for _, u := range utxos {
		if reserved.Contains(u.ID) {
			continue
		}

		candidates = append(candidates, coinselect.Candidate{
			OutPoint:      u.OutPoint,
			Value:         u.Amount,
			Address:       u.Address,
			Confirmations: u.Confirmations,
		})
		utxoIDs[outPointKey(u.OutPoint)] = u.ID
	}

	return candidates, utxoIDs, nil
}

// unusedChangeAddress returns the first change-branch address without
// observed history, or nil when the whole branch has been used.
func unusedChangeAddress(ctx context.Context, store Store,
	walletID uint32) (*db.AddressInfo, error) {

	branch := db.InternalBranch
	addrs, err := store.ListAddresses(ctx, db.ListAddressesQuery{
		WalletID: walletID,
		Branch:   &branch,
	})
	if err != nil {
		return nil, fmt.Errorf("list change addresses: %w", err)
	}

	for _, addr := range addrs {
		if !addr.Used {
			return &addr, nil
		}
	}

	return nil, nil
}
