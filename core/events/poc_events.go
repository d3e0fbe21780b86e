package events

import (
	"encoding/hex"
	"fmt"

	"covchain/core/types"
)

const (
	TypeChallengeInitialized = "poc.challenge.initialized"
	TypeReceiptAccepted      = "poc.receipt.accepted"
	TypeWitnessAccepted      = "poc.witness.accepted"
	TypeChallengeSubmitted   = "poc.challenge.submitted"
	TypeDerivationFailed     = "poc.derivation.failed"
)

// ChallengeInitialized fires once Target/Path Derivation has persisted a
// new LocalPoC for an onion-key-hash this validator owns.
type ChallengeInitialized struct {
	OnionKeyHash [32]byte
	BlockHash    [32]byte
	StartHeight  uint64
	Target       []byte
	PathLength   int
}

func (e ChallengeInitialized) EventType() string { return TypeChallengeInitialized }

func (e ChallengeInitialized) Event() *types.Event {
	return &types.Event{
		Type: TypeChallengeInitialized,
		Attributes: map[string]string{
			"onionKeyHash": hexOf(e.OnionKeyHash[:]),
			"blockHash":    hexOf(e.BlockHash[:]),
			"startHeight":  fmt.Sprintf("%d", e.StartHeight),
			"target":       hexOf(e.Target),
			"pathLength":   fmt.Sprintf("%d", e.PathLength),
		},
	}
}

// ReceiptAccepted fires when a receipt is stored against a hop.
type ReceiptAccepted struct {
	OnionKeyHash [32]byte
	Gateway      []byte
	HopIndex     int
	AddrHashed   bool
}

func (e ReceiptAccepted) EventType() string { return TypeReceiptAccepted }

func (e ReceiptAccepted) Event() *types.Event {
	return &types.Event{
		Type: TypeReceiptAccepted,
		Attributes: map[string]string{
			"onionKeyHash": hexOf(e.OnionKeyHash[:]),
			"gateway":      hexOf(e.Gateway),
			"hopIndex":     fmt.Sprintf("%d", e.HopIndex),
			"addrHashed":   fmt.Sprintf("%t", e.AddrHashed),
		},
	}
}

// WitnessAccepted fires when a witness is stored for a hop's packet hash.
type WitnessAccepted struct {
	OnionKeyHash [32]byte
	PacketHash   [32]byte
	Witness      []byte
	HopIndex     int
}

func (e WitnessAccepted) EventType() string { return TypeWitnessAccepted }

func (e WitnessAccepted) Event() *types.Event {
	return &types.Event{
		Type: TypeWitnessAccepted,
		Attributes: map[string]string{
			"onionKeyHash": hexOf(e.OnionKeyHash[:]),
			"packetHash":   hexOf(e.PacketHash[:]),
			"witness":      hexOf(e.Witness),
			"hopIndex":     fmt.Sprintf("%d", e.HopIndex),
		},
	}
}

// ChallengeSubmitted fires once the Manager has signed and handed off the
// PoC-receipts-v1 transaction for a TTL-expired challenge.
type ChallengeSubmitted struct {
	OnionKeyHash  [32]byte
	PathElements  int
	ReceiptCount  int
	WitnessCount  int
	SubmitHeight  uint64
}

func (e ChallengeSubmitted) EventType() string { return TypeChallengeSubmitted }

func (e ChallengeSubmitted) Event() *types.Event {
	return &types.Event{
		Type: TypeChallengeSubmitted,
		Attributes: map[string]string{
			"onionKeyHash": hexOf(e.OnionKeyHash[:]),
			"pathElements": fmt.Sprintf("%d", e.PathElements),
			"receiptCount": fmt.Sprintf("%d", e.ReceiptCount),
			"witnessCount": fmt.Sprintf("%d", e.WitnessCount),
			"submitHeight": fmt.Sprintf("%d", e.SubmitHeight),
		},
	}
}

// DerivationFailed fires when Target/Path Derivation abandons a challenge.
type DerivationFailed struct {
	OnionKeyHash [32]byte
	Reason       string
}

func (e DerivationFailed) EventType() string { return TypeDerivationFailed }

func (e DerivationFailed) Event() *types.Event {
	return &types.Event{
		Type: TypeDerivationFailed,
		Attributes: map[string]string{
			"onionKeyHash": hexOf(e.OnionKeyHash[:]),
			"reason":       e.Reason,
		},
	}
}

func hexOf(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return "0x" + hex.EncodeToString(b)
}
