package coinselect

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stashbtc/stashd/pkg/btcunit"
	"github.com/stretchr/testify/require"
)

// TestEstimateFee checks the two output fee model against known virtual
// sizes at 1 sat/vb.
func TestEstimateFee(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		scriptType ScriptType
		numInputs  int
		expected   btcutil.Amount
	}{
		{
			name:       "legacy one input",
			scriptType: ScriptTypeLegacy,
			numInputs:  1,
			expected:   226,
		},
		{
			name:       "legacy two inputs",
			scriptType: ScriptTypeLegacy,
			numInputs:  2,
			expected:   374,
		},
		{
			name:       "nested segwit one input",
			scriptType: ScriptTypeNestedSegwit,
			numInputs:  1,
			expected:   166,
		},
		{
			name:       "native segwit one input",
			scriptType: ScriptTypeNativeSegwit,
			numInputs:  1,
			expected:   141,
		},
		{
			name:       "native segwit two inputs",
			scriptType: ScriptTypeNativeSegwit,
			numInputs:  2,
			expected:   210,
		},
		{
			name:       "native segwit three inputs",
			scriptType: ScriptTypeNativeSegwit,
			numInputs:  3,
			expected:   278,
		},
		{
			name:       "taproot one input",
			scriptType: ScriptTypeTaproot,
			numInputs:  1,
			expected:   155,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fee, err := EstimateFee(
				tc.numInputs, tc.scriptType,
				btcunit.NewSatPerVByte(1),
			)
			require.NoError(t, err)
			require.Equal(t, tc.expected, fee)
		})
	}
}

// TestEstimateFeeMonotonic checks that the fee never decreases as inputs
// are added, for every script type.
func TestEstimateFeeMonotonic(t *testing.T) {
	t.Parallel()

	for _, scriptType := range []ScriptType{
		ScriptTypeLegacy, ScriptTypeNestedSegwit,
		ScriptTypeNativeSegwit, ScriptTypeTaproot,
	} {
		t.Run(string(scriptType), func(t *testing.T) {
			t.Parallel()

			var prev btcutil.Amount
			for numInputs := 0; numInputs <= 5; numInputs++ {
				fee, err := EstimateFee(
					numInputs, scriptType,
					btcunit.NewSatPerVByte(2),
				)
				require.NoError(t, err)
				require.GreaterOrEqual(t, fee, prev)

				prev = fee
			}
		})
	}
}

// TestEstimateFeeUnknownScriptType checks that an unmodeled script type is
// rejected.
func TestEstimateFeeUnknownScriptType(t *testing.T) {
	t.Parallel()

	_, err := EstimateFee(1, ScriptType("p2pk"), btcunit.NewSatPerVByte(1))
	require.ErrorIs(t, err, ErrUnknownScriptType)
}

// TestInputVirtualSize checks the per input vbyte cost of each script
// type.
func TestInputVirtualSize(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		scriptType ScriptType
		expected   int
	}{
		{
			name:       "legacy",
			scriptType: ScriptTypeLegacy,
			expected:   148,
		},
		{
			name:       "nested segwit",
			scriptType: ScriptTypeNestedSegwit,
			expected:   92,
		},
		{
			name:       "native segwit",
			scriptType: ScriptTypeNativeSegwit,
			expected:   69,
		},
		{
			name:       "taproot",
			scriptType: ScriptTypeTaproot,
			expected:   58,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			size, err := inputVirtualSize(tc.scriptType)
			require.NoError(t, err)
			require.Equal(t, tc.expected, size)
		})
	}

	_, err := inputVirtualSize(ScriptType("p2pk"))
	require.ErrorIs(t, err, ErrUnknownScriptType)
}

// TestEffectiveFeeRate checks the fallback to the minimum relay fee rate.
func TestEffectiveFeeRate(t *testing.T) {
	t.Parallel()

	oneSatPerVByte := btcunit.NewSatPerVByte(1)

	// The zero value carries no rational at all and must be recognized
	// before any comparison runs on it.
	require.True(
		t, effectiveFeeRate(btcunit.SatPerVByte{}).Equal(
			oneSatPerVByte,
		),
	)
	require.True(
		t, effectiveFeeRate(btcunit.ZeroSatPerVByte).Equal(
			oneSatPerVByte,
		),
	)

	fiveSatPerVByte := btcunit.NewSatPerVByte(5)
	require.True(
		t, effectiveFeeRate(fiveSatPerVByte).Equal(fiveSatPerVByte),
	)
}
