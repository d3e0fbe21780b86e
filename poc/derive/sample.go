package derive

import "sort"

// inverseCDFSelect draws an index from weights using rnd, via cumulative
// weight comparison against a uniform draw scaled to the total weight. It
// returns -1 if every weight is zero.
func inverseCDFSelect(rnd *DetRand, weights []uint64) int {
	var total uint64
	for _, w := range weights {
		total += w
	}
	if total == 0 {
		return -1
	}
	pick := rnd.Uint64() % total
	for i, w := range weights {
		if pick < w {
			return i
		}
		pick -= w
	}
	return len(weights) - 1
}

// deterministicSubset bounds candidates to at most limit entries, chosen
// without replacement via rnd, preserving the lexicographic byte ordering
// of the surviving entries (spec.md §4.4 step 5). If limit <= 0 or
// candidates already fits, it is returned unchanged.
func deterministicSubset(limit int, rnd *DetRand, candidates [][]byte) [][]byte {
	if limit <= 0 || len(candidates) <= limit {
		return candidates
	}
	idx := make([]int, len(candidates))
	for i := range idx {
		idx[i] = i
	}
	// Fisher-Yates partial shuffle, deterministic draws from rnd.
	for i := 0; i < limit; i++ {
		j := i + rnd.Intn(len(idx)-i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	chosen := idx[:limit]
	sort.Slice(chosen, func(i, j int) bool { return chosen[i] < chosen[j] })
	out := make([][]byte, 0, limit)
	for _, i := range chosen {
		out = append(out, candidates[i])
	}
	return out
}
