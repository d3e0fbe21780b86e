package chainfeed

import (
	"context"
	"testing"
	"time"
)

func TestFakePublisherBlockAtAndByHash(t *testing.T) {
	f := NewFakePublisher()
	block := Block{Hash: [32]byte{1}, Height: 5}
	f.Publish(block)

	got, err := f.BlockAt(5)
	if err != nil {
		t.Fatalf("block at: %v", err)
	}
	if got.Hash != block.Hash {
		t.Fatalf("expected matching hash")
	}

	got, err = f.BlockByHash(block.Hash)
	if err != nil {
		t.Fatalf("block by hash: %v", err)
	}
	if got.Height != 5 {
		t.Fatalf("expected matching height")
	}

	if _, err := f.BlockByHash([32]byte{0xFF}); err == nil {
		t.Fatalf("expected an error for an unknown hash")
	}
}

func TestFakePublisherHead(t *testing.T) {
	f := NewFakePublisher()
	if _, err := f.Head(); err != ErrNoBlocks {
		t.Fatalf("expected ErrNoBlocks before any publish, got %v", err)
	}
	f.Publish(Block{Hash: [32]byte{1}, Height: 1})
	f.Publish(Block{Hash: [32]byte{2}, Height: 3})
	f.Publish(Block{Hash: [32]byte{3}, Height: 2})

	head, err := f.Head()
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head.Height != 3 {
		t.Fatalf("expected head at the highest published height, got %d", head.Height)
	}
}

func TestFakePublisherSubscribeFanout(t *testing.T) {
	f := NewFakePublisher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := f.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	f.Publish(Block{Hash: [32]byte{1}, Height: 1})

	select {
	case b := <-ch:
		if b.Height != 1 {
			t.Fatalf("expected the published block, got height %d", b.Height)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for published block")
	}
}
