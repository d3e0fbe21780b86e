package store

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	"covchain/storage"
)

// NotFound is returned by Get when no record exists for a hash.
var NotFound = errors.New("store: record not found")

const schemaVersion = 1

var (
	recordPrefix = []byte("poc/store/record/")
	indexKey     = []byte("poc/store/index")
)

// Store is the durable Local PoC Store, keyed by onion-key-hash and backed
// by any storage.Database. It follows the same record-plus-ordered-index
// persistence pattern as the ledger's public PoC table.
type Store struct {
	db storage.Database
}

// New constructs a Store over db.
func New(db storage.Database) *Store {
	return &Store{db: db}
}

// Get loads the record for hash, or NotFound if none exists.
func (s *Store) Get(hash [32]byte) (*LocalPoC, error) {
	raw, err := s.db.Get(recordKey(hash))
	if err != nil {
		return nil, NotFound
	}
	return decodeRecord(raw)
}

// Put writes poc unconditionally, overwriting any prior record for the same
// onion-key-hash (idempotent re-processing, spec.md §8 "Idempotence").
func (s *Store) Put(poc *LocalPoC) error {
	existed, err := s.db.Has(recordKey(poc.OnionKeyHash))
	if err != nil {
		return err
	}
	encoded, err := encodeRecord(poc)
	if err != nil {
		return err
	}
	if err := s.db.Put(recordKey(poc.OnionKeyHash), encoded); err != nil {
		return err
	}
	if !existed {
		return s.appendIndex(poc.OnionKeyHash)
	}
	return nil
}

// Delete removes a record, used once a challenge's TTL expires or it is
// submitted and GC'd.
func (s *Store) Delete(hash [32]byte) error {
	if err := s.db.Delete(recordKey(hash)); err != nil {
		return err
	}
	return s.removeIndex(hash)
}

// Iter returns every stored record, in insertion order.
func (s *Store) Iter() ([]*LocalPoC, error) {
	hashes, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	out := make([]*LocalPoC, 0, len(hashes))
	for _, h := range hashes {
		var hash [32]byte
		copy(hash[:], h)
		raw, err := s.db.Get(recordKey(hash))
		if err != nil {
			continue
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func recordKey(hash [32]byte) []byte {
	key := make([]byte, len(recordPrefix)+len(hash))
	copy(key, recordPrefix)
	copy(key[len(recordPrefix):], hash[:])
	return key
}

// storedReceipt and storedWitnessBucket give the two response maps a
// deterministic, RLP-encodable ordering on disk.
type storedReceipt struct {
	GatewayHex string
	Peer       string
	Receipt    Receipt
}

type storedWitnessBucket struct {
	PacketHashHex string
	PacketHash    [32]byte
	Witnesses     []WitnessRecord
}

type storedLocalPoC struct {
	OnionKeyHash   [32]byte
	BlockHash      [32]byte
	StartHeight    uint64
	PrivateKey     []byte
	Secret         []byte
	Target         []byte
	Onion          []byte
	Challengees    []ChallengeeHop
	PacketHashes   []PacketHashEntry
	Receipts       []storedReceipt
	WitnessBuckets []storedWitnessBucket
}

func encodeRecord(poc *LocalPoC) ([]byte, error) {
	stored := storedLocalPoC{
		OnionKeyHash: poc.OnionKeyHash,
		BlockHash:    poc.BlockHash,
		StartHeight:  poc.StartHeight,
		PrivateKey:   poc.PrivateKey,
		Secret:       poc.Secret,
		Target:       poc.Target,
		Onion:        poc.Onion,
		Challengees:  poc.Challengees,
		PacketHashes: poc.PacketHashes,
	}
	for gatewayHex, rec := range poc.Receipts {
		stored.Receipts = append(stored.Receipts, storedReceipt{GatewayHex: gatewayHex, Peer: rec.Peer, Receipt: rec.Receipt})
	}
	sort.Slice(stored.Receipts, func(i, j int) bool { return stored.Receipts[i].GatewayHex < stored.Receipts[j].GatewayHex })

	for hashHex, bucket := range poc.Witnesses {
		var packetHash [32]byte
		if len(bucket) > 0 {
			packetHash = bucket[0].Witness.PacketHash
		}
		stored.WitnessBuckets = append(stored.WitnessBuckets, storedWitnessBucket{PacketHashHex: hashHex, PacketHash: packetHash, Witnesses: bucket})
	}
	sort.Slice(stored.WitnessBuckets, func(i, j int) bool {
		return stored.WitnessBuckets[i].PacketHashHex < stored.WitnessBuckets[j].PacketHashHex
	})

	body, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return nil, fmt.Errorf("store: encode: %w", err)
	}
	blob := make([]byte, 0, 1+len(body)+32)
	blob = append(blob, schemaVersion)
	blob = append(blob, body...)
	checksum := blake3.Sum256(blob)
	blob = append(blob, checksum[:]...)
	return blob, nil
}

func decodeRecord(blob []byte) (*LocalPoC, error) {
	if len(blob) < 1+32 {
		return nil, fmt.Errorf("store: record too short")
	}
	body := blob[:len(blob)-32]
	wantChecksum := blob[len(blob)-32:]
	gotChecksum := blake3.Sum256(body)
	if !bytes.Equal(gotChecksum[:], wantChecksum) {
		return nil, fmt.Errorf("store: checksum mismatch, record corrupted")
	}
	version := body[0]
	if version != schemaVersion {
		return nil, fmt.Errorf("store: unsupported schema version %d", version)
	}
	var stored storedLocalPoC
	if err := rlp.DecodeBytes(body[1:], &stored); err != nil {
		return nil, fmt.Errorf("store: decode: %w", err)
	}

	poc := NewLocalPoC()
	poc.OnionKeyHash = stored.OnionKeyHash
	poc.BlockHash = stored.BlockHash
	poc.StartHeight = stored.StartHeight
	poc.PrivateKey = stored.PrivateKey
	poc.Secret = stored.Secret
	poc.Target = stored.Target
	poc.Onion = stored.Onion
	poc.Challengees = stored.Challengees
	poc.PacketHashes = stored.PacketHashes
	for _, rec := range stored.Receipts {
		poc.Receipts[rec.GatewayHex] = ReceiptRecord{Peer: rec.Peer, Receipt: rec.Receipt}
	}
	for _, bucket := range stored.WitnessBuckets {
		poc.Witnesses[bucket.PacketHashHex] = bucket.Witnesses
	}
	return poc, nil
}

func (s *Store) appendIndex(hash [32]byte) error {
	hashes, err := s.loadIndex()
	if err != nil {
		return err
	}
	hashes = append(hashes, append([]byte(nil), hash[:]...))
	encoded, err := rlp.EncodeToBytes(hashes)
	if err != nil {
		return err
	}
	return s.db.Put(indexKey, encoded)
}

func (s *Store) removeIndex(hash [32]byte) error {
	hashes, err := s.loadIndex()
	if err != nil {
		return err
	}
	out := hashes[:0]
	for _, h := range hashes {
		if !bytes.Equal(h, hash[:]) {
			out = append(out, h)
		}
	}
	encoded, err := rlp.EncodeToBytes(out)
	if err != nil {
		return err
	}
	return s.db.Put(indexKey, encoded)
}

func (s *Store) loadIndex() ([][]byte, error) {
	data, err := s.db.Get(indexKey)
	if err != nil {
		return [][]byte{}, nil
	}
	var hashes [][]byte
	if err := rlp.DecodeBytes(data, &hashes); err != nil {
		return nil, err
	}
	return hashes, nil
}
