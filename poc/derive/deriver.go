package derive

import (
	"crypto/sha256"
	"fmt"
	"sort"

	"covchain/config"
	"covchain/crypto"
	"covchain/ledger"
	"covchain/poc/onion"
	"covchain/poc/path"
	"covchain/poc/store"
)

// Input bundles everything Target/Path Derivation needs, spec.md §4.4's
// "(challenger pubkey, block hash, ephemeral keypair, chain vars, ledger
// snapshot)".
type Input struct {
	Challenger   []byte
	BlockHash    [32]byte
	BlockTime    int64
	Keys         crypto.KeyPair
	Vars         config.Vars
	Ledger       *ledger.Ledger
	PathBuilder  path.Builder
	OnionBuilder onion.Builder
}

// Deriver is the tagged-variant trait named in spec.md §9: the v4 and v6
// derivation variants differ only in how they source the candidate zone
// list; the remaining eleven steps are identical and shared below.
type Deriver interface {
	Derive(in Input) (*store.LocalPoC, error)
}

// New selects the Deriver for the chain's active poc_version, matching
// spec.md §9's "tagged variant with a common trait" dispatch.
func New(vars config.Vars) Deriver {
	if vars.Version >= 6 {
		return V6{}
	}
	return V4{}
}

// zoneSource abstracts step 4's zone-list acquisition (spec.md §4.4): v4
// enumerates every populated hex, v6 draws a bounded random sample.
type zoneSource interface {
	zones(l *ledger.Ledger, zoneRand *DetRand, vars config.Vars) []ledger.Hex
	usesHexIndexScratch() bool
}

const maxZoneResamples = 8

func run(in Input, source zoneSource) (*store.LocalPoC, error) {
	onionKeyHash := in.Keys.OnionKeyHash()
	e := Entropy(onionKeyHash, in.BlockHash)

	zoneRand := NewDetRand(SeedFromEntropy(onionKeyHash, in.BlockHash))
	targetRand := NewDetRand(SeedFromPrivateKey(in.Keys.PrivateBytes()))

	zones := source.zones(in.Ledger, zoneRand, in.Vars)
	if len(zones) == 0 {
		return nil, ErrEmptyHexList
	}

	var scratch *ledger.Scratch
	if source.usesHexIndexScratch() {
		scratch = in.Ledger.Begin()
		defer scratch.Commit()
	}

	poolSize := int(in.Vars.TargetPoolSize)
	if poolSize <= 0 {
		poolSize = 1
	}

	var filtered [][]byte
	var chosenHex ledger.Hex
	found := false

	for attempt := 0; attempt < poolSize; attempt++ {
		hex, err := selectZone(zoneRand, zones)
		if err != nil {
			return nil, err
		}
		candidates := in.Ledger.LookupGatewaysFromHex(hex.ID)
		candidates = deterministicSubset(int(in.Vars.WitnessConsiderationLimit), zoneRand, candidates)
		kept, removed := filterCandidates(candidates, in.Challenger, in.Ledger, in.Vars)
		if scratch != nil {
			for _, pk := range removed {
				scratch.RemoveGatewayFromHex(hex.ID, pk)
			}
		}
		if len(kept) > 0 {
			filtered = kept
			chosenHex = hex
			found = true
			break
		}
	}
	if !found {
		return nil, ErrNoGatewaysFound
	}
	_ = chosenHex

	sort.Slice(filtered, func(i, j int) bool { return string(filtered[i]) < string(filtered[j]) })
	weights := make([]uint64, len(filtered))
	for i := range weights {
		w := uint64(in.Vars.TargetProbRandomnessWt)
		if w == 0 {
			w = 1
		}
		weights[i] = w
	}
	targetIdx := inverseCDFSelect(targetRand, weights)
	if targetIdx < 0 {
		return nil, ErrZoneWeightZero
	}
	target := filtered[targetIdx]

	pathElems, err := in.PathBuilder.Build(target, targetRand, in.Ledger, in.BlockTime, in.Vars)
	if err != nil {
		return nil, fmt.Errorf("derive: path build: %w", err)
	}
	if len(pathElems) == 0 || string(pathElems[0]) != string(target) {
		return nil, fmt.Errorf("derive: path builder did not place target first")
	}

	iv, layerData := deriveIVAndLayerData(e, len(pathElems))

	hops := make([]onion.Hop, len(pathElems))
	for i, gw := range pathElems {
		hops[i] = onion.Hop{Gateway: gw, LayerData: layerData[i]}
	}
	ciphertext, layers, err := in.OnionBuilder.Build(in.Keys, iv, hops, in.BlockHash, in.Ledger)
	if err != nil {
		return nil, fmt.Errorf("derive: onion build: %w", err)
	}
	if len(layers) != len(pathElems)+1 {
		return nil, fmt.Errorf("derive: onion builder returned %d layers, want %d", len(layers), len(pathElems)+1)
	}

	poc := store.NewLocalPoC()
	poc.OnionKeyHash = onionKeyHash
	poc.BlockHash = in.BlockHash
	poc.StartHeight = in.Ledger.CurrentHeight()
	poc.PrivateKey = in.Keys.PrivateBytes()
	poc.Secret = in.Keys.PrivateBytes()
	poc.Target = target
	poc.Onion = ciphertext
	poc.Challengees = make([]store.ChallengeeHop, len(pathElems))
	poc.PacketHashes = make([]store.PacketHashEntry, len(pathElems))
	for i, gw := range pathElems {
		poc.Challengees[i] = store.ChallengeeHop{Gateway: gw, LayerData: layerData[i]}
		hash := sha256.Sum256(layers[i+1])
		poc.PacketHashes[i] = store.PacketHashEntry{Gateway: gw, Hash: hash}
	}
	return poc, nil
}

// selectZone performs the inverse-CDF weighted zone draw (spec.md §4.4
// step 4), resampling up to maxZoneResamples times if the draw lands on a
// zero-weight zone before giving up with ErrZoneWeightZero.
func selectZone(rnd *DetRand, zones []ledger.Hex) (ledger.Hex, error) {
	weights := make([]uint64, len(zones))
	for i, z := range zones {
		weights[i] = uint64(z.GatewayCount)
	}
	for attempt := 0; attempt < maxZoneResamples; attempt++ {
		idx := inverseCDFSelect(rnd, weights)
		if idx >= 0 {
			return zones[idx], nil
		}
	}
	return ledger.Hex{}, ErrZoneWeightZero
}

// filterCandidates applies spec.md §4.4 step 6: remove the challenger
// itself, gateways lacking the challengee capability flag, and (if
// activity filtering is enabled) gateways whose last PoC challenge is
// stale or absent. It returns the survivors and, separately, the rejected
// pubkeys (for v6's hex-index scratch removal).
func filterCandidates(candidates [][]byte, challenger []byte, l *ledger.Ledger, vars config.Vars) (kept [][]byte, removed [][]byte) {
	for _, pk := range candidates {
		if string(pk) == string(challenger) {
			removed = append(removed, pk)
			continue
		}
		info, ok := l.FindGatewayInfo(pk)
		if !ok || !info.Challengee {
			removed = append(removed, pk)
			continue
		}
		if vars.ActivityFilterEnabled {
			if info.LastPoCChallenge == 0 {
				removed = append(removed, pk)
				continue
			}
			current := l.CurrentHeight()
			if current > info.LastPoCChallenge && current-info.LastPoCChallenge > vars.Hip17InteractivityBlocks {
				removed = append(removed, pk)
				continue
			}
		}
		kept = append(kept, pk)
	}
	return kept, removed
}
