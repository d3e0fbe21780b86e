package path

import (
	"bytes"
	"testing"

	"covchain/config"
	"covchain/crypto"
	"covchain/ledger"
	"covchain/storage"
)

// fixedRand is a minimal Rand that always returns deterministic values, for
// exercising WeightedBuilder without pulling in the derive package's PRNG.
type fixedRand struct{ n int }

func (f *fixedRand) Uint64() uint64 { return uint64(f.n) }
func (f *fixedRand) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return f.n % n
}

func seedLedger(t *testing.T, hexID uint64, n int) (*ledger.Ledger, [][]byte) {
	t.Helper()
	l := ledger.New(storage.NewMemDB())
	var pubkeys [][]byte
	for i := 0; i < n; i++ {
		kp, err := crypto.Generate()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		l.SeedGateway(ledger.GatewayInfo{PubKey: kp.PublicBytes(), HexID: hexID, HasLocation: true})
		pubkeys = append(pubkeys, kp.PublicBytes())
	}
	return l, pubkeys
}

func TestWeightedBuilderTargetIsFirstHop(t *testing.T) {
	l, pubkeys := seedLedger(t, 1, 4)
	b := NewWeightedBuilder(2)
	path, err := b.Build(pubkeys[0], &fixedRand{n: 1}, l, 0, config.DefaultVars())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !bytes.Equal(path[0], pubkeys[0]) {
		t.Fatalf("expected target to be the first path element")
	}
	if len(path) != 3 {
		t.Fatalf("expected target plus 2 hops, got %d elements", len(path))
	}
}

func TestWeightedBuilderNoRepeatedHops(t *testing.T) {
	l, pubkeys := seedLedger(t, 1, 3)
	b := NewWeightedBuilder(5)
	path, err := b.Build(pubkeys[0], &fixedRand{n: 0}, l, 0, config.DefaultVars())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	seen := make(map[string]struct{}, len(path))
	for _, p := range path {
		key := string(p)
		if _, dup := seen[key]; dup {
			t.Fatalf("expected no repeated hops, found duplicate")
		}
		seen[key] = struct{}{}
	}
	if len(path) > len(pubkeys) {
		t.Fatalf("path longer than the candidate pool: %d > %d", len(path), len(pubkeys))
	}
}

func TestWeightedBuilderTargetOutsideLedgerReturnsSingleton(t *testing.T) {
	l := ledger.New(storage.NewMemDB())
	b := NewWeightedBuilder(3)
	path, err := b.Build([]byte{0xAA}, &fixedRand{n: 0}, l, 0, config.DefaultVars())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(path) != 1 || !bytes.Equal(path[0], []byte{0xAA}) {
		t.Fatalf("expected a singleton path when the target has no ledger entry, got %+v", path)
	}
}
