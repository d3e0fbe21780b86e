package onion

import (
	"bytes"
	"testing"

	"covchain/crypto"
)

func TestBuildProducesLayerPerHop(t *testing.T) {
	keys, err := crypto.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	hop1, _ := crypto.Generate()
	hop2, _ := crypto.Generate()
	hops := []Hop{
		{Gateway: hop1.PublicBytes(), LayerData: 0x11},
		{Gateway: hop2.PublicBytes(), LayerData: 0x22},
	}

	b := NewChaCha20Builder()
	ciphertext, layers, err := b.Build(keys, 7, hops, [32]byte{9}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(layers) != len(hops)+1 {
		t.Fatalf("expected %d layers, got %d", len(hops)+1, len(layers))
	}
	if !bytes.Equal(ciphertext, layers[len(layers)-1]) {
		t.Fatalf("expected the returned ciphertext to be the innermost layer")
	}
	for i := 1; i < len(layers); i++ {
		if bytes.Equal(layers[i-1], layers[i]) {
			t.Fatalf("expected each layer to differ from its predecessor")
		}
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	keys, err := crypto.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	hop, _ := crypto.Generate()
	hops := []Hop{{Gateway: hop.PublicBytes(), LayerData: 0x01}}

	b := NewChaCha20Builder()
	ct1, layers1, err := b.Build(keys, 3, hops, [32]byte{1}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	ct2, layers2, err := b.Build(keys, 3, hops, [32]byte{1}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !bytes.Equal(ct1, ct2) {
		t.Fatalf("expected identical ciphertext across runs with identical input")
	}
	for i := range layers1 {
		if !bytes.Equal(layers1[i], layers2[i]) {
			t.Fatalf("layer %d differs across runs", i)
		}
	}
}

func TestBuildRejectsEmptyHopList(t *testing.T) {
	keys, err := crypto.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b := NewChaCha20Builder()
	if _, _, err := b.Build(keys, 0, nil, [32]byte{}, nil); err == nil {
		t.Fatalf("expected an error for an empty hop list")
	}
}
