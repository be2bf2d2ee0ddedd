package coinselect

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the set of named strategies a wallet can select coins
// with. It is safe for concurrent use.
type Registry struct {
	mtx        sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// DefaultRegistry creates a registry preloaded with all built-in
// strategies.
func DefaultRegistry() *Registry {
	registry := NewRegistry()
	for _, strategy := range []Strategy{
		&PrivacySelector{},
		&EfficiencySelector{},
		&OldestFirstSelector{},
		&LargestFirstSelector{},
		&SmallestFirstSelector{},
	} {
		// The built-in names are distinct, so registration cannot
		// fail here.
		if err := registry.Register(strategy); err != nil {
			panic(err)
		}
	}

	return registry
}

// Register adds a strategy under its own name. Registering a second
// strategy under an already taken name fails with ErrDuplicateStrategy.
func (r *Registry) Register(strategy Strategy) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	name := strategy.Name()
	if _, ok := r.strategies[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateStrategy, name)
	}
	r.strategies[name] = strategy

	return nil
}

// Strategy returns the strategy registered under the given name.
func (r *Registry) Strategy(name string) (Strategy, bool) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	strategy, ok := r.strategies[name]

	return strategy, ok
}

// ByTag returns all strategies carrying the given tag, sorted by name.
func (r *Registry) ByTag(tag string) []Strategy {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	var matches []Strategy
	for _, strategy := range r.strategies {
		for _, t := range strategy.Tags() {
			if t == tag {
				matches = append(matches, strategy)
				break
			}
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Name() < matches[j].Name()
	})

	return matches
}

// Select runs coin selection with the named strategy. An unknown name
// falls back to the efficiency strategy; the fallback missing too is the
// only name resolution error.
func (r *Registry) Select(name string, req Request) (*Result, error) {
	strategy, ok := r.Strategy(name)
	if !ok {
		log.Warnf("Unknown coin selection strategy %q, falling "+
			"back to %q", name, StrategyEfficiency)

		strategy, ok = r.Strategy(StrategyEfficiency)
		if !ok {
			return nil, ErrNoFallback
		}
	}

	return selectCoins(strategy, req)
}
