// Package path implements the external path-builder collaborator named in
// spec.md §6: given a target gateway and a deterministic RNG, produce the
// ordered list of gateway pubkeys the challenge packet will traverse.
package path

import (
	"sort"

	"covchain/config"
	"covchain/ledger"
)

// Builder is the external path-builder seam: build(target, TargetRand,
// ledger, block_time, vars) → P[0..N-1] with P[0] == target, spec.md §4.4
// step 9.
type Builder interface {
	Build(target []byte, rnd Rand, l *ledger.Ledger, blockTime int64, vars config.Vars) ([][]byte, error)
}

// Rand is the subset of derive.DetRand the path builder needs, kept as an
// interface here so this package does not import derive (which in turn
// imports this one).
type Rand interface {
	Uint64() uint64
	Intn(n int) int
}

// WeightedBuilder is the reference path builder: it grows the path one hop
// at a time, weighting each remaining candidate in the target's hex by a
// fixed per-hop "power" (stake-like weight proxy — here, a constant, since
// this module has no staking ledger) and selecting via cumulative-weight
// ticket draw, the same technique this codebase uses for proposer
// selection.
type WeightedBuilder struct {
	// HopCount is the number of hops requested beyond the target itself.
	HopCount int
}

// NewWeightedBuilder constructs a builder that produces paths of
// 1+hopCount gateways (the target plus hopCount additional hops).
func NewWeightedBuilder(hopCount int) *WeightedBuilder {
	return &WeightedBuilder{HopCount: hopCount}
}

func (b *WeightedBuilder) Build(target []byte, rnd Rand, l *ledger.Ledger, blockTime int64, vars config.Vars) ([][]byte, error) {
	info, ok := l.FindGatewayInfo(target)
	if !ok {
		return [][]byte{append([]byte(nil), target...)}, nil
	}
	path := [][]byte{append([]byte(nil), target...)}
	used := map[string]struct{}{string(target): {}}

	hops := b.HopCount
	for i := 0; i < hops; i++ {
		candidates := l.LookupGatewaysFromHex(info.HexID)
		var pool [][]byte
		for _, c := range candidates {
			if _, seen := used[string(c)]; seen {
				continue
			}
			pool = append(pool, c)
		}
		if len(pool) == 0 {
			break
		}
		sort.Slice(pool, func(i, j int) bool { return string(pool[i]) < string(pool[j]) })
		pick := weightedPick(rnd, len(pool))
		chosen := pool[pick]
		path = append(path, chosen)
		used[string(chosen)] = struct{}{}
	}
	return path, nil
}

// weightedPick draws a ticket uniformly over n equally-weighted
// candidates, the degenerate case of the stake-weighted ticket draw this
// codebase's consensus engine uses for proposer selection, here with every
// candidate given identical power since gateways carry no stake here.
func weightedPick(rnd Rand, n int) int {
	if n <= 0 {
		return 0
	}
	return rnd.Intn(n)
}
