package coinselect

import (
	"testing"

	"github.com/stashbtc/stashd/pkg/btcunit"
	"github.com/stretchr/testify/require"
)

// TestDefaultRegistry checks that all built-in strategies are registered
// under their own names.
func TestDefaultRegistry(t *testing.T) {
	t.Parallel()

	registry := DefaultRegistry()
	for _, name := range []string{
		StrategyPrivacy, StrategyEfficiency, StrategyOldestFirst,
		StrategyLargestFirst, StrategySmallestFirst,
	} {
		strategy, ok := registry.Strategy(name)
		require.True(t, ok, name)
		require.Equal(t, name, strategy.Name())
	}
}

// TestRegistryRegisterDuplicate checks that a name can only be taken once.
func TestRegistryRegisterDuplicate(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()
	require.NoError(t, registry.Register(&LargestFirstSelector{}))

	err := registry.Register(&LargestFirstSelector{})
	require.ErrorIs(t, err, ErrDuplicateStrategy)
}

// TestRegistryStrategy checks lookup by name.
func TestRegistryStrategy(t *testing.T) {
	t.Parallel()

	registry := DefaultRegistry()

	strategy, ok := registry.Strategy(StrategyOldestFirst)
	require.True(t, ok)
	require.Equal(t, StrategyOldestFirst, strategy.Name())

	_, ok = registry.Strategy("does-not-exist")
	require.False(t, ok)
}

// TestRegistryByTag checks tag lookup and its name ordering.
func TestRegistryByTag(t *testing.T) {
	t.Parallel()

	registry := DefaultRegistry()

	names := func(strategies []Strategy) []string {
		names := make([]string, len(strategies))
		for i, strategy := range strategies {
			names[i] = strategy.Name()
		}

		return names
	}

	require.Equal(
		t, []string{StrategyLargestFirst, StrategySmallestFirst},
		names(registry.ByTag("amount")),
	)
	require.Equal(
		t, []string{StrategyEfficiency},
		names(registry.ByTag("default")),
	)
	require.Empty(t, registry.ByTag("does-not-exist"))
}

// TestRegistrySelectFallback checks that an unknown strategy name runs the
// efficiency strategy instead of failing.
func TestRegistrySelectFallback(t *testing.T) {
	t.Parallel()

	registry := DefaultRegistry()

	req := Request{
		Candidates: []Candidate{
			testCandidate(1, 0, 100_000, "addr-1", 5),
			testCandidate(2, 0, 40_000, "addr-1", 9),
		},
		Target:     50_000,
		FeeRate:    btcunit.NewSatPerVByte(1),
		ScriptType: ScriptTypeNativeSegwit,
	}

	expected, err := registry.Select(StrategyEfficiency, req)
	require.NoError(t, err)

	fallback, err := registry.Select("does-not-exist", req)
	require.NoError(t, err)
	require.Equal(t, expected, fallback)
}

// TestRegistrySelectNoFallback checks that name resolution only fails when
// even the fallback strategy is missing.
func TestRegistrySelectNoFallback(t *testing.T) {
	t.Parallel()

	registry := NewRegistry()

	_, err := registry.Select("does-not-exist", Request{})
	require.ErrorIs(t, err, ErrNoFallback)
}
