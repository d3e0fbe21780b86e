package addrfilter

import (
	"covchain/chainfeed"
	"covchain/config"
)

// EpochStart computes the start height of the challenge interval containing
// height, spec.md §4.3 step 2: start = max(1, height - (height mod interval)).
func EpochStart(height uint64, interval uint64) uint64 {
	if interval == 0 {
		return height
	}
	start := height - (height % interval)
	if start < 1 {
		start = 1
	}
	return start
}

// Rebuilder owns the current Filter and the block source used to fold the
// chain on (re)initialization, implementing the rebuild protocol of
// spec.md §4.3.
type Rebuilder struct {
	feed    chainfeed.Source
	current *Filter
}

// NewRebuilder constructs a Rebuilder with no filter yet built.
func NewRebuilder(feed chainfeed.Source) *Rebuilder {
	return &Rebuilder{feed: feed}
}

// Current returns the active filter, or nil if none has been built.
func (r *Rebuilder) Current() *Filter {
	return r.current
}

// MaybeRebuild applies the rebuild protocol for the block at height with
// hash blockHash, given the current chain variables and the ledger's
// gateway population. It returns the active filter (nil if the filter is
// disabled because chain vars are unset).
func (r *Rebuilder) MaybeRebuild(height uint64, blockHash [32]byte, vars config.Vars, gatewayCount int) (*Filter, error) {
	if !vars.AddrHashFilterEnabled() {
		r.current = nil
		return nil, nil
	}
	start := EpochStart(height, vars.ChallengeInterval)
	if r.current != nil && r.current.Start() == start {
		return r.current, nil
	}

	startBlock, err := r.feed.BlockAt(start)
	if err != nil {
		// Epoch start block not retained by the feed (e.g. still
		// bootstrapping); build against the current block's hash as a
		// best-effort salt rather than failing closed.
		startBlock = chainfeed.Block{Hash: blockHash, Height: start}
	}
	filter := NewOptimal(gatewayCount, int(vars.AddrHashByteCount), start, startBlock.Hash)

	for h := start; h <= height; h++ {
		block, err := r.feed.BlockAt(h)
		if err != nil {
			continue
		}
		applyBlock(filter, block)
	}

	r.current = filter
	return filter, nil
}

// ApplyBlock folds a single newly-produced block into an already-built
// filter, spec.md §4.3 step 5 ("incrementally apply the new block").
func (r *Rebuilder) ApplyBlock(block chainfeed.Block) {
	if r.current == nil {
		return
	}
	applyBlock(r.current, block)
}

func applyBlock(filter *Filter, block chainfeed.Block) {
	for _, tx := range block.ReceiptTxs {
		for _, el := range tx.Elements {
			if len(el.AddrHash) == 0 {
				continue
			}
			filter.Set(el.AddrHash)
		}
	}
}
