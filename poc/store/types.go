// Package store implements the Local PoC Store (spec.md §4.2): a durable,
// key-value-backed table of LocalPoC records keyed by onion-key-hash.
package store

import "encoding/hex"

// ChallengeeHop is one hop along the challenge path: the gateway and the
// per-hop layer-data byte it is expected to echo back in its receipt.
type ChallengeeHop struct {
	Gateway   []byte
	LayerData byte
}

// PacketHashEntry records, for hop i, the SHA-256 of that hop's onion
// layer ciphertext — the value a downstream witness for hop i must report.
type PacketHashEntry struct {
	Gateway []byte
	Hash    [32]byte
}

// Receipt is an attestation from the challengee itself.
type Receipt struct {
	Gateway   []byte
	Data      byte
	Timestamp uint64
	Signature []byte
	PeerAddr  string // reporting peer's raw address, used to dedup against witnesses at submission
	AddrHash  []byte // stamped by the Address-Hash Filter, if it computed one
}

// Witness is a third-party attestation that a gateway heard a hop's
// transmission.
type Witness struct {
	Gateway    []byte
	PacketHash [32]byte
	Timestamp  uint64
	SignalRSSI uint32 // received signal strength in dBm, expressed as a non-negative magnitude (smaller is stronger); RLP only serializes unsigned integers
	Signature  []byte
	PeerAddr   string // reporting peer's raw address
}

// ReceiptRecord pairs a stored receipt with the reporting peer's identity.
type ReceiptRecord struct {
	Peer    string
	Receipt Receipt
}

// WitnessRecord pairs a stored witness with the reporting peer's identity.
type WitnessRecord struct {
	Peer    string
	Witness Witness
}

// LocalPoC is the durable challenge record a validator owns as challenger.
type LocalPoC struct {
	OnionKeyHash [32]byte
	BlockHash    [32]byte
	StartHeight  uint64

	// PrivateKey is the raw ephemeral secret scalar, retained for later
	// verification. Secret is the serialized form embedded directly in
	// the eventual PoC-receipts-v1 transaction; in this implementation
	// both are the same bytes, kept as separate fields to mirror the
	// data model spec.md §3 names.
	PrivateKey []byte
	Secret     []byte

	Target       []byte
	Onion        []byte
	Challengees  []ChallengeeHop
	PacketHashes []PacketHashEntry

	// Receipts is keyed by hex(gateway pubkey); Witnesses by
	// hex(packet hash) — the heterogeneous `responses` map from
	// spec.md §3 split into two typed maps per the design note in §9.
	Receipts  map[string]ReceiptRecord
	Witnesses map[string][]WitnessRecord
}

// NewLocalPoC constructs an empty record with initialized maps.
func NewLocalPoC() *LocalPoC {
	return &LocalPoC{
		Receipts:  make(map[string]ReceiptRecord),
		Witnesses: make(map[string][]WitnessRecord),
	}
}

// HopIndex returns the index of gateway along the challenge path, or -1.
func (p *LocalPoC) HopIndex(gateway []byte) int {
	for i, hop := range p.Challengees {
		if hex.EncodeToString(hop.Gateway) == hex.EncodeToString(gateway) {
			return i
		}
	}
	return -1
}

// PacketHashIndex returns the hop index whose packet hash matches hash, or
// -1 if no hop expects it.
func (p *LocalPoC) PacketHashIndex(hash [32]byte) int {
	for i, entry := range p.PacketHashes {
		if entry.Hash == hash {
			return i
		}
	}
	return -1
}

// CheckInvariants validates the structural invariants spec.md §3/§8
// require of every LocalPoC: equal challengee/packet-hash lengths, the
// target being the first challengee, and per-hop witness bucket caps and
// gateway uniqueness.
func (p *LocalPoC) CheckInvariants(perHopMaxWitnesses int) error {
	if len(p.Challengees) != len(p.PacketHashes) {
		return errInvariant("challengees and packet hashes length mismatch")
	}
	if len(p.Challengees) == 0 {
		return errInvariant("empty challenge path")
	}
	if hex.EncodeToString(p.Target) != hex.EncodeToString(p.Challengees[0].Gateway) {
		return errInvariant("target is not the first challengee")
	}
	for gatewayHex, rec := range p.Receipts {
		idx := p.HopIndex(rec.Receipt.Gateway)
		if idx < 0 {
			return errInvariant("receipt references unknown gateway " + gatewayHex)
		}
		if p.Challengees[idx].LayerData != rec.Receipt.Data {
			return errInvariant("receipt layer data mismatch at hop")
		}
	}
	for hashHex, bucket := range p.Witnesses {
		if perHopMaxWitnesses > 0 && len(bucket) > perHopMaxWitnesses {
			return errInvariant("witness bucket exceeds per-hop cap for " + hashHex)
		}
		seen := make(map[string]struct{}, len(bucket))
		for _, w := range bucket {
			key := hex.EncodeToString(w.Witness.Gateway)
			if _, dup := seen[key]; dup {
				return errInvariant("duplicate witness gateway in bucket " + hashHex)
			}
			seen[key] = struct{}{}
		}
	}
	return nil
}

type invariantError string

func (e invariantError) Error() string { return "store: invariant violated: " + string(e) }

func errInvariant(msg string) error { return invariantError(msg) }
