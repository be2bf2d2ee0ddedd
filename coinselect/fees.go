package coinselect

import (
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/stashbtc/stashd/pkg/btcunit"
)

// defaultFeeRate returns the minimum relay fee rate. It is used whenever a
// request does not carry a usable fee rate of its own.
func defaultFeeRate() btcunit.SatPerVByte {
	return btcunit.NewSatPerKVByte(
		txrules.DefaultRelayFeePerKb,
	).ToSatPerVByte()
}

// effectiveFeeRate resolves the fee rate a selection runs at. The zero
// value of SatPerVByte carries a nil rational, so it must be recognized by
// struct comparison before any arithmetic touches it.
func effectiveFeeRate(rate btcunit.SatPerVByte) btcunit.SatPerVByte {
	if rate == (btcunit.SatPerVByte{}) ||
		rate.LessThanOrEqual(btcunit.ZeroSatPerVByte) {

		return defaultFeeRate()
	}

	return rate
}

// EstimateFee returns the fee a transaction spending numInputs inputs of
// the given script type pays at the given fee rate. The estimate assumes
// one recipient output and one change output, both of the wallet's own
// script type.
func EstimateFee(numInputs int, scriptType ScriptType,
	feeRate btcunit.SatPerVByte) (btcutil.Amount, error) {

	var (
		numP2PKH        int
		numP2TR         int
		numP2WPKH       int
		numNestedP2WPKH int
		scriptSize      int
	)
	switch scriptType {
	case ScriptTypeLegacy:
		numP2PKH = numInputs
		scriptSize = txsizes.P2PKHPkScriptSize

	case ScriptTypeNestedSegwit:
		numNestedP2WPKH = numInputs
		scriptSize = txsizes.NestedP2WPKHPkScriptSize

	case ScriptTypeNativeSegwit:
		numP2WPKH = numInputs
		scriptSize = txsizes.P2WPKHPkScriptSize

	case ScriptTypeTaproot:
		numP2TR = numInputs
		scriptSize = txsizes.P2TRPkScriptSize

	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownScriptType,
			scriptType)
	}

	txOuts := []*wire.TxOut{
		{PkScript: make([]byte, scriptSize)},
		{PkScript: make([]byte, scriptSize)},
	}

	vsize := txsizes.EstimateVirtualSize(
		numP2PKH, numP2TR, numP2WPKH, numNestedP2WPKH, txOuts, 0,
	)

	return feeRate.FeeForVByte(btcunit.NewVByte(uint64(vsize))), nil
}

// inputVirtualSize returns the number of vbytes one input of the given
// script type adds to a transaction, witness weight rounded up.
func inputVirtualSize(scriptType ScriptType) (int, error) {
	var baseSize, witnessWeight int
	switch scriptType {
	case ScriptTypeLegacy:
		baseSize = txsizes.RedeemP2PKHInputSize

	case ScriptTypeNestedSegwit:
		baseSize = txsizes.RedeemNestedP2WPKHInputSize
		witnessWeight = txsizes.RedeemP2WPKHInputWitnessWeight

	case ScriptTypeNativeSegwit:
		baseSize = txsizes.RedeemP2WPKHInputSize
		witnessWeight = txsizes.RedeemP2WPKHInputWitnessWeight

	case ScriptTypeTaproot:
		baseSize = txsizes.RedeemP2TRInputSize
		witnessWeight = txsizes.RedeemP2TRInputWitnessWeight

	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownScriptType,
			scriptType)
	}

	return baseSize +
		(witnessWeight+blockchain.WitnessScaleFactor-1)/
			blockchain.WitnessScaleFactor, nil
}
