package derive

import (
	"bytes"
	"testing"

	"covchain/config"
	"covchain/crypto"
	"covchain/ledger"
	"covchain/poc/onion"
	"covchain/poc/path"
	"covchain/storage"
)

func seededLedger(t *testing.T, challenger []byte) *ledger.Ledger {
	t.Helper()
	l := ledger.New(storage.NewMemDB())
	l.SetHeight(100)
	vars := config.DefaultVars()
	vars.ActivityFilterEnabled = false
	l.SetVars(vars)

	for i := 0; i < 5; i++ {
		kp, err := crypto.Generate()
		if err != nil {
			t.Fatalf("generate gateway key: %v", err)
		}
		l.SeedGateway(ledger.GatewayInfo{
			PubKey:     kp.PublicBytes(),
			Mode:       ledger.ModeFull,
			HexID:      uint64(1),
			Challengee: true,
		})
	}
	l.SeedGateway(ledger.GatewayInfo{
		PubKey:     challenger,
		Mode:       ledger.ModeFull,
		HexID:      uint64(1),
		Challengee: true,
	})
	return l
}

func buildInput(t *testing.T) Input {
	t.Helper()
	keys, err := crypto.Generate()
	if err != nil {
		t.Fatalf("generate challenge key: %v", err)
	}
	challenger := []byte{0xAA, 0xBB, 0xCC}
	l := seededLedger(t, challenger)
	vars := l.SnapshotVars()
	vars.TargetPoolSize = 3
	vars.TargetProbRandomnessWt = 1
	vars.WitnessConsiderationLimit = 1000
	l.SetVars(vars)

	return Input{
		Challenger:   challenger,
		BlockHash:    [32]byte{7, 7, 7},
		BlockTime:    1000,
		Keys:         keys,
		Vars:         vars,
		Ledger:       l,
		PathBuilder:  path.NewWeightedBuilder(2),
		OnionBuilder: onion.NewChaCha20Builder(),
	}
}

func TestDeriveV4HappyPath(t *testing.T) {
	in := buildInput(t)
	poc, err := V4{}.Derive(in)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if len(poc.Challengees) == 0 {
		t.Fatalf("expected a non-empty challenge path")
	}
	if !bytes.Equal(poc.Target, poc.Challengees[0].Gateway) {
		t.Fatalf("target must equal the first challengee")
	}
	if len(poc.Challengees) != len(poc.PacketHashes) {
		t.Fatalf("challengee/packet-hash length mismatch")
	}
	if len(poc.Onion) == 0 {
		t.Fatalf("expected non-empty onion ciphertext")
	}
}

func TestDeriveV6HappyPath(t *testing.T) {
	in := buildInput(t)
	poc, err := V6{}.Derive(in)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if !bytes.Equal(poc.Target, poc.Challengees[0].Gateway) {
		t.Fatalf("target must equal the first challengee")
	}
}

func TestDeriveIsDeterministic(t *testing.T) {
	in := buildInput(t)
	first, err := V4{}.Derive(in)
	if err != nil {
		t.Fatalf("first derive: %v", err)
	}
	second, err := V4{}.Derive(in)
	if err != nil {
		t.Fatalf("second derive: %v", err)
	}
	if !bytes.Equal(first.Target, second.Target) {
		t.Fatalf("target not deterministic across runs")
	}
	if !bytes.Equal(first.Onion, second.Onion) {
		t.Fatalf("onion ciphertext not deterministic across runs")
	}
	for i := range first.PacketHashes {
		if first.PacketHashes[i].Hash != second.PacketHashes[i].Hash {
			t.Fatalf("packet hash %d not deterministic across runs", i)
		}
	}
}

func TestDeriveEmptyHexListFails(t *testing.T) {
	keys, err := crypto.Generate()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	l := ledger.New(storage.NewMemDB())
	in := Input{
		Challenger:   []byte{1},
		BlockHash:    [32]byte{1},
		Keys:         keys,
		Vars:         config.DefaultVars(),
		Ledger:       l,
		PathBuilder:  path.NewWeightedBuilder(2),
		OnionBuilder: onion.NewChaCha20Builder(),
	}
	if _, err := (V4{}).Derive(in); err != ErrEmptyHexList {
		t.Fatalf("expected ErrEmptyHexList, got %v", err)
	}
}

func TestDeriveNoGatewaysFoundWhenChallengerOnly(t *testing.T) {
	keys, err := crypto.Generate()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	challenger := []byte{0xAA}
	l := ledger.New(storage.NewMemDB())
	l.SeedGateway(ledger.GatewayInfo{PubKey: challenger, HexID: 1, Challengee: true})
	vars := config.DefaultVars()
	vars.TargetPoolSize = 2

	in := Input{
		Challenger:   challenger,
		BlockHash:    [32]byte{1},
		Keys:         keys,
		Vars:         vars,
		Ledger:       l,
		PathBuilder:  path.NewWeightedBuilder(2),
		OnionBuilder: onion.NewChaCha20Builder(),
	}
	if _, err := (V4{}).Derive(in); err != ErrNoGatewaysFound {
		t.Fatalf("expected ErrNoGatewaysFound, got %v", err)
	}
}
