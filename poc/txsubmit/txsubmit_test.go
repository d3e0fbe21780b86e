package txsubmit

import (
	"bytes"
	"testing"

	"covchain/crypto"
	"covchain/poc/store"
)

func samplePath() []PathElement {
	return []PathElement{
		{Gateway: []byte{1}, Receipt: &store.Receipt{Gateway: []byte{1}, Data: 0xAA, Timestamp: 1}},
		{Gateway: []byte{2}},
		{Gateway: []byte{3}, Witnesses: []store.Witness{{Gateway: []byte{9}, PacketHash: [32]byte{7}}}},
	}
}

func TestBuildReversesPathOrder(t *testing.T) {
	path := samplePath()
	tx := Build([]byte{0xCC}, []byte{0xDD}, [32]byte{1}, [32]byte{2}, path)
	if len(tx.Path) != len(path) {
		t.Fatalf("expected %d path elements, got %d", len(path), len(tx.Path))
	}
	for i := range path {
		if !bytes.Equal(tx.Path[len(path)-1-i].Gateway, path[i].Gateway) {
			t.Fatalf("expected path element %d to be reversed", i)
		}
	}
}

func TestSignProducesNonEmptySignature(t *testing.T) {
	keys, err := crypto.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	tx := Build([]byte{1}, []byte{2}, [32]byte{3}, [32]byte{4}, samplePath())
	signed, err := Sign(tx, keys)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(signed.Signature) == 0 {
		t.Fatalf("expected a non-empty signature")
	}
}

func TestDigestIsStableForIdenticalInput(t *testing.T) {
	tx1 := Build([]byte{1}, []byte{2}, [32]byte{3}, [32]byte{4}, samplePath())
	tx2 := Build([]byte{1}, []byte{2}, [32]byte{3}, [32]byte{4}, samplePath())
	d1, err := digest(tx1)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	d2, err := digest(tx2)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if d1 != d2 {
		t.Fatalf("expected identical digests for identical transactions")
	}
}

func TestQueueSubmitterDrain(t *testing.T) {
	q := NewQueueSubmitter()
	tx := Build([]byte{1}, []byte{2}, [32]byte{3}, [32]byte{4}, samplePath())
	if err := q.Submit(tx); err != nil {
		t.Fatalf("submit: %v", err)
	}
	drained := q.Drain()
	if len(drained) != 1 {
		t.Fatalf("expected one queued transaction, got %d", len(drained))
	}
	if len(q.Drain()) != 0 {
		t.Fatalf("expected the queue to be empty after draining")
	}
}
