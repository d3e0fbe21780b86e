package derive

import (
	"covchain/config"
	"covchain/ledger"
	"covchain/poc/store"
)

// V4 is the legacy derivation variant: the zone pool is every populated
// hex in the ledger (spec.md §4.4 step 4, "v4: direct list").
type V4 struct{}

func (V4) Derive(in Input) (*store.LocalPoC, error) {
	return run(in, v4Source{})
}

type v4Source struct{}

func (v4Source) zones(l *ledger.Ledger, _ *DetRand, _ config.Vars) []ledger.Hex {
	return l.Hexes()
}

func (v4Source) usesHexIndexScratch() bool { return false }
