package coinselect

import (
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stashbtc/stashd/pkg/btcunit"
)

// Registry names of the built-in strategies.
const (
	StrategyPrivacy       = "privacy"
	StrategyEfficiency    = "efficiency"
	StrategyOldestFirst   = "oldest_first"
	StrategyLargestFirst  = "largest_first"
	StrategySmallestFirst = "smallest_first"
)

// byValue is a sortable candidate slice ordered by ascending value.
type byValue []Candidate

func (s byValue) Len() int           { return len(s) }
func (s byValue) Less(i, j int) bool { return s[i].Value < s[j].Value }
func (s byValue) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// byAge is a sortable candidate slice ordered by descending confirmation
// count, ties broken by descending value.
type byAge []Candidate

func (s byAge) Len() int { return len(s) }
func (s byAge) Less(i, j int) bool {
	if s[i].Confirmations != s[j].Confirmations {
		return s[i].Confirmations > s[j].Confirmations
	}
	return s[i].Value > s[j].Value
}
func (s byAge) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

// LargestFirstSelector arranges candidates from largest to smallest value,
// minimizing the number of inputs and with it the transaction size.
type LargestFirstSelector struct{}

// Compile-time check that LargestFirstSelector satisfies the Strategy
// interface.
var _ Strategy = (*LargestFirstSelector)(nil)

// Name returns the registry name of the strategy.
func (*LargestFirstSelector) Name() string { return StrategyLargestFirst }

// Tags returns the capability tags of the strategy.
func (*LargestFirstSelector) Tags() []string { return []string{"amount"} }

// ArrangeCandidates sorts the candidates by descending value.
func (*LargestFirstSelector) ArrangeCandidates(candidates []Candidate,
	_ btcunit.SatPerVByte, _ ScriptType) ([]Candidate, error) {

	sort.Sort(sort.Reverse(byValue(candidates)))

	return candidates, nil
}

// SmallestFirstSelector arranges candidates from smallest to largest
// value, sweeping up dust and keeping the UTXO set compact at the price of
// a larger transaction.
type SmallestFirstSelector struct{}

// Compile-time check that SmallestFirstSelector satisfies the Strategy
// interface.
var _ Strategy = (*SmallestFirstSelector)(nil)

// Name returns the registry name of the strategy.
func (*SmallestFirstSelector) Name() string { return StrategySmallestFirst }

// Tags returns the capability tags of the strategy.
func (*SmallestFirstSelector) Tags() []string {
	return []string{"amount", "consolidation"}
}

// ArrangeCandidates sorts the candidates by ascending value.
func (*SmallestFirstSelector) ArrangeCandidates(candidates []Candidate,
	_ btcunit.SatPerVByte, _ ScriptType) ([]Candidate, error) {

	sort.Sort(byValue(candidates))

	return candidates, nil
}

// OldestFirstSelector arranges candidates from most to least confirmed,
// spending the oldest coins first.
type OldestFirstSelector struct{}

// Compile-time check that OldestFirstSelector satisfies the Strategy
// interface.
var _ Strategy = (*OldestFirstSelector)(nil)

// Name returns the registry name of the strategy.
func (*OldestFirstSelector) Name() string { return StrategyOldestFirst }

// Tags returns the capability tags of the strategy.
func (*OldestFirstSelector) Tags() []string { return []string{"age"} }

// ArrangeCandidates sorts the candidates by descending confirmation count,
// ties broken by descending value.
func (*OldestFirstSelector) ArrangeCandidates(candidates []Candidate,
	_ btcunit.SatPerVByte, _ ScriptType) ([]Candidate, error) {

	sort.Sort(byAge(candidates))

	return candidates, nil
}

// EfficiencySelector arranges candidates by descending value after
// dropping every candidate whose value cannot pay for its own input cost
// at the requested fee rate. It is the fallback for unknown strategy
// names.
type EfficiencySelector struct{}

// Compile-time check that EfficiencySelector satisfies the Strategy
// interface.
var _ Strategy = (*EfficiencySelector)(nil)

// Name returns the registry name of the strategy.
func (*EfficiencySelector) Name() string { return StrategyEfficiency }

// Tags returns the capability tags of the strategy.
func (*EfficiencySelector) Tags() []string {
	return []string{"fees", "default"}
}

// ArrangeCandidates filters out candidates that yield negatively at the
// given fee rate, then sorts the remainder by descending value.
func (*EfficiencySelector) ArrangeCandidates(candidates []Candidate,
	feeRate btcunit.SatPerVByte,
	scriptType ScriptType) ([]Candidate, error) {

	inputSize, err := inputVirtualSize(scriptType)
	if err != nil {
		return nil, err
	}
	inputFee := feeRate.FeeForVByte(btcunit.NewVByte(uint64(inputSize)))

	yielding := candidates[:0]
	for _, candidate := range candidates {
		if candidate.Value <= inputFee {
			continue
		}
		yielding = append(yielding, candidate)
	}

	sort.Sort(sort.Reverse(byValue(yielding)))

	return yielding, nil
}

// PrivacySelector arranges candidates so that outputs already linked by a
// shared funding transaction are spent together before any new address
// linkage is created. Groups of two or more outputs from the same
// transaction come first, ordered by descending combined value, then the
// remaining single outputs by descending value.
type PrivacySelector struct{}

// Compile-time check that PrivacySelector satisfies the Strategy
// interface.
var _ Strategy = (*PrivacySelector)(nil)

// Name returns the registry name of the strategy.
func (*PrivacySelector) Name() string { return StrategyPrivacy }

// Tags returns the capability tags of the strategy.
func (*PrivacySelector) Tags() []string { return []string{"privacy"} }

// ArrangeCandidates groups the candidates by funding transaction and
// orders linked groups ahead of singletons.
func (*PrivacySelector) ArrangeCandidates(candidates []Candidate,
	_ btcunit.SatPerVByte, _ ScriptType) ([]Candidate, error) {

	groups := make(map[chainhash.Hash][]Candidate, len(candidates))

	// First-seen order keeps the arrangement deterministic when
	// combined values tie.
	seen := make([]chainhash.Hash, 0, len(candidates))
	for _, candidate := range candidates {
		txid := candidate.OutPoint.Hash
		if _, ok := groups[txid]; !ok {
			seen = append(seen, txid)
		}
		groups[txid] = append(groups[txid], candidate)
	}

	type txGroup struct {
		members []Candidate
		value   btcutil.Amount
	}

	linked := make([]txGroup, 0, len(seen))
	singles := make([]Candidate, 0, len(candidates))
	for _, txid := range seen {
		members := groups[txid]
		if len(members) == 1 {
			singles = append(singles, members[0])
			continue
		}

		var value btcutil.Amount
		for _, member := range members {
			value += member.Value
		}
		sort.Sort(sort.Reverse(byValue(members)))

		linked = append(linked, txGroup{
			members: members,
			value:   value,
		})
	}

	sort.SliceStable(linked, func(i, j int) bool {
		return linked[i].value > linked[j].value
	})
	sort.Sort(sort.Reverse(byValue(singles)))

	arranged := make([]Candidate, 0, len(candidates))
	for _, group := range linked {
		arranged = append(arranged, group.members...)
	}
	arranged = append(arranged, singles...)

	return arranged, nil
}
