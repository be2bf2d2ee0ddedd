// Package btcunit provides typed bitcoin fee rate and transaction size
// units, so rates in different denominations cannot be mixed up or fed into
// fee arithmetic without an explicit conversion.
package btcunit

import (
	"math/big"

	"github.com/btcsuite/btcd/btcutil"
)

// kilo converts between a unit and its kilo form.
const kilo = 1000

// ratePrecision is the number of decimal places String renders a rate
// with. Three places keep sub-sat/vb rates (1 sat/kvb = 0.001 sat/vb)
// visible instead of rounding them to zero.
const ratePrecision = 3

// ZeroSatPerVByte is a fee rate of zero sat/vb.
var ZeroSatPerVByte = NewSatPerVByte(0)

// SatPerVByte is a fee rate in satoshis per virtual byte. The rate is held
// as a rational number of satoshis per kilo-vbyte so sub-satoshi rates,
// such as relay minimums quoted in sat/kvb, survive conversion without
// rounding. The zero value holds a nil rational; callers that accept
// optional rates must recognize it by comparison against SatPerVByte{}
// before calling any method on it.
type SatPerVByte struct {
	satsPerKVB *big.Rat
}

// NewSatPerVByte creates a fee rate of the given whole satoshis per vbyte.
func NewSatPerVByte(rate btcutil.Amount) SatPerVByte {
	return SatPerVByte{satsPerKVB: big.NewRat(int64(rate)*kilo, 1)}
}

// FeeForVByte returns the fee a transaction of the given virtual size pays
// at this rate, rounded down to a whole satoshi.
func (s SatPerVByte) FeeForVByte(vb VByte) btcutil.Amount {
	fee := new(big.Rat).Mul(s.satsPerKVB, big.NewRat(int64(vb), kilo))

	return btcutil.Amount(new(big.Int).Div(fee.Num(), fee.Denom()).Int64())
}

// Equal reports whether the fee rate equals the other fee rate.
func (s SatPerVByte) Equal(other SatPerVByte) bool {
	return s.satsPerKVB.Cmp(other.satsPerKVB) == 0
}

// LessThanOrEqual reports whether the fee rate is at most the other fee
// rate.
func (s SatPerVByte) LessThanOrEqual(other SatPerVByte) bool {
	return s.satsPerKVB.Cmp(other.satsPerKVB) <= 0
}

// String returns the rate in sat/vb.
func (s SatPerVByte) String() string {
	perVB := new(big.Rat).Mul(s.satsPerKVB, big.NewRat(1, kilo))

	return perVB.FloatString(ratePrecision) + " sat/vb"
}

// SatPerKVByte is a fee rate in satoshis per kilo-vbyte, the denomination
// relay policy minimums are quoted in.
type SatPerKVByte struct {
	satsPerKVB *big.Rat
}

// NewSatPerKVByte creates a fee rate of the given whole satoshis per
// kilo-vbyte.
func NewSatPerKVByte(rate btcutil.Amount) SatPerKVByte {
	return SatPerKVByte{satsPerKVB: big.NewRat(int64(rate), 1)}
}

// ToSatPerVByte converts the rate to its sat/vb form, exactly.
func (s SatPerKVByte) ToSatPerVByte() SatPerVByte {
	return SatPerVByte{satsPerKVB: new(big.Rat).Set(s.satsPerKVB)}
}

// String returns the rate in sat/kvb.
func (s SatPerKVByte) String() string {
	return s.satsPerKVB.FloatString(ratePrecision) + " sat/kvb"
}
