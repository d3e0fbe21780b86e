// Package txsubmit builds, signs, and hands off PoC-receipts-v1
// transactions (spec.md §6, "Transaction layer"), gated by the chain
// variable poc_version >= 10.
package txsubmit

import (
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"covchain/crypto"
	"covchain/poc/store"
)

// PathElement is one hop of the settled transaction: the gateway, its
// receipt if one was collected, and the witnesses gathered for its
// packet hash (spec.md §4.5 "Assemble the path transaction").
type PathElement struct {
	Gateway   []byte
	Receipt   *store.Receipt
	Witnesses []store.Witness
}

// ReceiptsV1Tx is the PoC-receipts-v1 transaction body.
type ReceiptsV1Tx struct {
	Challenger   []byte
	Secret       []byte
	OnionKeyHash [32]byte
	BlockHash    [32]byte
	Path         []PathElement
	Signature    []byte
}

type rlpPathElement struct {
	Gateway       []byte
	HasReceipt    bool
	ReceiptData   byte
	ReceiptTime   uint64
	ReceiptAddr   []byte
	WitnessCount  uint32
	WitnessHashes [][32]byte
}

type rlpBody struct {
	Challenger   []byte
	Secret       []byte
	OnionKeyHash [32]byte
	BlockHash    [32]byte
	Path         []rlpPathElement
}

// Build assembles a transaction from the folded path, which lists hops
// last-to-first, and reverses it so the transaction's element order matches
// challenge order.
func Build(challenger, secret []byte, onionKeyHash, blockHash [32]byte, path []PathElement) ReceiptsV1Tx {
	reversed := make([]PathElement, len(path))
	for i, el := range path {
		reversed[len(path)-1-i] = el
	}
	return ReceiptsV1Tx{
		Challenger:   challenger,
		Secret:       secret,
		OnionKeyHash: onionKeyHash,
		BlockHash:    blockHash,
		Path:         reversed,
	}
}

// digest computes the signing digest over the challenger, secret,
// onion-key-hash, block hash, and, per path element, the gateway, the
// receipt's data byte, timestamp and address hash, and the witness count and
// packet hashes. Receipt and witness signatures, witness gateways, and
// witness timestamps and signal strengths are not part of the digest.
func digest(tx ReceiptsV1Tx) ([32]byte, error) {
	body := rlpBody{
		Challenger:   tx.Challenger,
		Secret:       tx.Secret,
		OnionKeyHash: tx.OnionKeyHash,
		BlockHash:    tx.BlockHash,
	}
	for _, el := range tx.Path {
		rel := rlpPathElement{Gateway: el.Gateway}
		if el.Receipt != nil {
			rel.HasReceipt = true
			rel.ReceiptData = el.Receipt.Data
			rel.ReceiptTime = el.Receipt.Timestamp
			rel.ReceiptAddr = el.Receipt.AddrHash
		}
		rel.WitnessCount = uint32(len(el.Witnesses))
		for _, w := range el.Witnesses {
			rel.WitnessHashes = append(rel.WitnessHashes, w.PacketHash)
		}
		body.Path = append(body.Path, rel)
	}
	encoded, err := rlp.EncodeToBytes(body)
	if err != nil {
		return [32]byte{}, fmt.Errorf("txsubmit: encode: %w", err)
	}
	return sha256.Sum256(encoded), nil
}

// Sign signs tx with keys, matching this codebase's consensus-layer
// signing call (ethereum/go-ethereum/crypto.Sign).
func Sign(tx ReceiptsV1Tx, keys crypto.KeyPair) (ReceiptsV1Tx, error) {
	d, err := digest(tx)
	if err != nil {
		return ReceiptsV1Tx{}, err
	}
	sig, err := keys.Sign(d)
	if err != nil {
		return ReceiptsV1Tx{}, fmt.Errorf("txsubmit: sign: %w", err)
	}
	tx.Signature = sig
	return tx, nil
}

// Submitter hands a signed transaction off to the chain node. The default
// QueueSubmitter is an in-process queue, matching this codebase's
// consensus client shape for the real wire-up (a gRPC client would
// implement the same interface).
type Submitter interface {
	Submit(tx ReceiptsV1Tx) error
}

// QueueSubmitter retains submitted transactions in memory, for tests and
// for a daemon not yet wired to a real chain node.
type QueueSubmitter struct {
	mu    sync.Mutex
	queue []ReceiptsV1Tx
}

// NewQueueSubmitter constructs an empty queue.
func NewQueueSubmitter() *QueueSubmitter {
	return &QueueSubmitter{}
}

func (q *QueueSubmitter) Submit(tx ReceiptsV1Tx) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queue = append(q.queue, tx)
	return nil
}

// Drain returns and clears every queued transaction, used by tests and by
// a future real submitter adapter.
func (q *QueueSubmitter) Drain() []ReceiptsV1Tx {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.queue
	q.queue = nil
	return out
}
