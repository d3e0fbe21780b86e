package derive

import (
	"covchain/config"
	"covchain/ledger"
	"covchain/poc/store"
)

// V6 is the current derivation variant: the zone pool is a bounded random
// sample of size poc_target_pool_size, deduplicated by sort (spec.md §4.4
// step 4, "v6"), and disqualified gateways are removed from the ledger's
// hex index via a scratch context committed after filtering (step 6).
type V6 struct{}

func (V6) Derive(in Input) (*store.LocalPoC, error) {
	return run(in, v6Source{})
}

type v6Source struct{}

func (v6Source) zones(l *ledger.Ledger, zoneRand *DetRand, vars config.Vars) []ledger.Hex {
	n := int(vars.TargetPoolSize)
	if n <= 0 {
		n = 1
	}
	return l.RandomTargetingHexes(n, func(candidateCount int) int { return zoneRand.Intn(candidateCount) })
}

func (v6Source) usesHexIndexScratch() bool { return true }
