// Package coinselect implements the wallet's pluggable coin selection
// engine. Strategies only arrange the candidate set; a shared greedy loop
// accumulates arranged candidates until the target plus the fee estimated
// for the current input count is covered, re-estimating the fee on every
// iteration. Selection is pure: the caller's candidate slice is never
// modified and no storage or chain access happens here.
package coinselect

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stashbtc/stashd/pkg/btcunit"
)

var (
	// ErrDuplicateStrategy is returned when a strategy is registered under
	// a name that is already taken.
	ErrDuplicateStrategy = errors.New("strategy already registered")

	// ErrNoFallback is returned by Select when the requested strategy is
	// unknown and the efficiency fallback is not registered either.
	ErrNoFallback = errors.New("fallback strategy not registered")

	// ErrUnknownScriptType is returned when a request carries a script
	// type the fee estimator has no size model for.
	ErrUnknownScriptType = errors.New("unknown script type")
)

// ScriptType identifies the output script family a wallet spends and pays
// to. It drives the per-input and per-output size estimates.
type ScriptType string

const (
	// ScriptTypeLegacy is pay-to-pubkey-hash (P2PKH).
	ScriptTypeLegacy ScriptType = "legacy"

	// ScriptTypeNestedSegwit is P2WPKH nested in P2SH.
	ScriptTypeNestedSegwit ScriptType = "nested_segwit"

	// ScriptTypeNativeSegwit is pay-to-witness-pubkey-hash (P2WPKH).
	ScriptTypeNativeSegwit ScriptType = "native_segwit"

	// ScriptTypeTaproot is pay-to-taproot (P2TR).
	ScriptTypeTaproot ScriptType = "taproot"
)

// Candidate is a spendable output offered to the selection engine.
type Candidate struct {
	// OutPoint identifies the output on chain. Its Hash is the funding
	// transaction the privacy strategy groups by.
	OutPoint wire.OutPoint

	// Value is the value of the output.
	Value btcutil.Amount

	// Address is the wallet address the output pays.
	Address string

	// Confirmations is the output's confirmation count.
	Confirmations int32
}

// Request bundles the parameters of one selection call.
type Request struct {
	// Candidates is the pool of spendable outputs to choose from. The
	// slice is never modified.
	Candidates []Candidate

	// Target is the amount the selected inputs must cover, on top of the
	// estimated fee.
	Target btcutil.Amount

	// FeeRate is the fee rate the transaction will pay. When unset or
	// zero the default relay fee rate is used.
	FeeRate btcunit.SatPerVByte

	// ScriptType is the script family of the wallet's outputs. It sizes
	// both the inputs being spent and the recipient/change outputs.
	ScriptType ScriptType
}

// WarningCode classifies a selection warning.
type WarningCode string

const (
	// WarnInsufficientFunds signals that the full candidate set cannot
	// cover the target plus fee.
	WarnInsufficientFunds WarningCode = "insufficient_funds"

	// WarnAddressLinkage signals that the selection creates new on-chain
	// address linkage: it spends outputs of more than one address that
	// were not already linked by a single shared funding transaction.
	WarnAddressLinkage WarningCode = "address_linkage"
)

// Warning is a non-fatal finding about a selection result. Warnings are
// values, not errors: a result carrying warnings is still usable.
type Warning struct {
	// Code classifies the warning.
	Code WarningCode

	// Message is a human-readable description.
	Message string
}

// PrivacyReport describes the on-chain linkage a selection creates.
type PrivacyReport struct {
	// LinkedAddresses is the number of distinct addresses among the
	// selected inputs.
	LinkedAddresses int

	// LinkedTxs is the number of distinct funding transactions among the
	// selected inputs.
	LinkedTxs int

	// Score grades the selection from 0 (worst) to 100 (best).
	Score int
}

// Result is the outcome of one selection call.
type Result struct {
	// Inputs are the selected candidates, in selection order.
	Inputs []Candidate

	// Total is the combined value of the selected inputs.
	Total btcutil.Amount

	// Fee is the fee estimated for the final input count.
	Fee btcutil.Amount

	// Change is the value left over after target and fee, floored at
	// zero.
	Change btcutil.Amount

	// Warnings are the non-fatal findings of the selection.
	Warnings []Warning

	// Privacy describes the address and transaction linkage of the
	// selection.
	Privacy PrivacyReport
}

// Strategy arranges a candidate set into the order the shared greedy loop
// consumes it in. Implementations must not mutate state outside the passed
// slice.
type Strategy interface {
	// Name returns the unique registry name of the strategy.
	Name() string

	// Tags returns the capability tags the strategy is discoverable by.
	Tags() []string

	// ArrangeCandidates orders (and possibly filters) the given
	// candidates according to the strategy.
	ArrangeCandidates(candidates []Candidate,
		feeRate btcunit.SatPerVByte,
		scriptType ScriptType) ([]Candidate, error)
}

// Privacy score penalties. Each address beyond the first weighs heavier
// than each extra funding transaction, since address linkage is what block
// explorers cluster on.
const (
	addressLinkagePenalty = 15
	txLinkagePenalty      = 5
)

// selectCoins runs the shared greedy accumulation over the strategy's
// arrangement of the request's candidates.
func selectCoins(strategy Strategy, req Request) (*Result, error) {
	feeRate := effectiveFeeRate(req.FeeRate)

	// Hand the strategy its own copy so the caller's slice survives
	// in-place sorting.
	candidates := make([]Candidate, len(req.Candidates))
	copy(candidates, req.Candidates)

	arranged, err := strategy.ArrangeCandidates(
		candidates, feeRate, req.ScriptType,
	)
	if err != nil {
		return nil, fmt.Errorf("arrange candidates: %w", err)
	}

	var (
		inputs  []Candidate
		total   btcutil.Amount
		fee     btcutil.Amount
		covered bool
	)
	for _, candidate := range arranged {
		inputs = append(inputs, candidate)
		total += candidate.Value

		// The fee depends on the input count, so it must be
		// re-estimated after every added input.
		fee, err = EstimateFee(len(inputs), req.ScriptType, feeRate)
		if err != nil {
			return nil, err
		}

		if total >= req.Target+fee {
			covered = true
			break
		}
	}

	fee, err = EstimateFee(len(inputs), req.ScriptType, feeRate)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Inputs: inputs,
		Total:  total,
		Fee:    fee,
	}

	if !covered {
		log.Warnf("Insufficient funds for strategy %q: have %v, "+
			"target %v plus %v fee", strategy.Name(), total,
			req.Target, fee)

		result.Warnings = append(result.Warnings, Warning{
			Code: WarnInsufficientFunds,
			Message: fmt.Sprintf("insufficient funds: have %v, "+
				"need %v (target %v plus %v fee)", total,
				req.Target+fee, req.Target, fee),
		})
	}

	change := total - req.Target - fee
	if change < 0 {
		change = 0
	}
	result.Change = change

	// Outputs of a single funding transaction are already linked on
	// chain, so spending them together creates no new linkage. Only a
	// selection spanning several addresses and several funding
	// transactions does.
	result.Privacy = privacyReport(inputs)
	if result.Privacy.LinkedAddresses > 1 && result.Privacy.LinkedTxs > 1 {
		result.Warnings = append(result.Warnings, Warning{
			Code: WarnAddressLinkage,
			Message: fmt.Sprintf("selection links %d addresses "+
				"across %d transactions",
				result.Privacy.LinkedAddresses,
				result.Privacy.LinkedTxs),
		})
	}

	return result, nil
}

// privacyReport computes the linkage counts and score of a selection.
func privacyReport(inputs []Candidate) PrivacyReport {
	addresses := make(map[string]struct{}, len(inputs))
	fundingTxs := make(map[chainhash.Hash]struct{}, len(inputs))
	for _, input := range inputs {
		addresses[input.Address] = struct{}{}
		fundingTxs[input.OutPoint.Hash] = struct{}{}
	}

	report := PrivacyReport{
		LinkedAddresses: len(addresses),
		LinkedTxs:       len(fundingTxs),
		Score:           100,
	}

	if report.LinkedAddresses > 1 {
		report.Score -= addressLinkagePenalty *
			(report.LinkedAddresses - 1)
	}
	if report.LinkedTxs > 1 {
		report.Score -= txLinkagePenalty * (report.LinkedTxs - 1)
	}
	if report.Score < 0 {
		report.Score = 0
	}

	return report
}
