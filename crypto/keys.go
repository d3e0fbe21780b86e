// Package crypto wraps the ephemeral ECC keypairs PoC challenges are built
// around, grounded on this codebase's secp256k1 key handling but scoped
// down to what a PoC keypair needs: generate, serialize, hash, sign.
package crypto

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// KeyPair is an ephemeral PoC keypair: a secp256k1 private scalar and its
// public point.
type KeyPair struct {
	Private *ecdsa.PrivateKey
}

// Generate creates a fresh ephemeral keypair for a batch of PoC keys the
// validator is about to propose.
func Generate() (KeyPair, error) {
	priv, err := ethcrypto.GenerateKey()
	if err != nil {
		return KeyPair{}, fmt.Errorf("crypto: generate key: %w", err)
	}
	return KeyPair{Private: priv}, nil
}

// PublicBytes returns the canonical compressed binary encoding of the
// public point, the stable input to the onion-key-hash.
func (k KeyPair) PublicBytes() []byte {
	return ethcrypto.CompressPubkey(&k.Private.PublicKey)
}

// PrivateBytes returns the raw 32-byte secret scalar.
func (k KeyPair) PrivateBytes() []byte {
	return ethcrypto.FromECDSA(k.Private)
}

// OnionKeyHash is SHA-256 of the canonical binary encoding of the public
// point — the challenge's stable identifier everywhere in the system.
func (k KeyPair) OnionKeyHash() [32]byte {
	return sha256.Sum256(k.PublicBytes())
}

// ParsePublic decodes a compressed public key.
func ParsePublic(b []byte) (*ecdsa.PublicKey, error) {
	return ethcrypto.DecompressPubkey(b)
}

// ParsePrivate reconstructs a keypair from its raw secret scalar.
func ParsePrivate(b []byte) (KeyPair, error) {
	priv, err := ethcrypto.ToECDSA(b)
	if err != nil {
		return KeyPair{}, fmt.Errorf("crypto: parse private key: %w", err)
	}
	return KeyPair{Private: priv}, nil
}

// Sign produces a deterministic recoverable signature over digest, used by
// the transaction submitter to sign the PoC-receipts-v1 transaction.
func (k KeyPair) Sign(digest [32]byte) ([]byte, error) {
	return ethcrypto.Sign(digest[:], k.Private)
}

// AddressPrefix namespaces bech32-rendered gateway/validator addresses in
// logs and the HTTP query surface.
type AddressPrefix string

const GatewayPrefix AddressPrefix = "cov"

// RenderAddress returns a human-readable bech32 address for a 20-byte
// gateway/validator identifier, purely for logging and API responses —
// the protocol itself only ever compares raw pubkey/address bytes.
func RenderAddress(prefix AddressPrefix, id []byte) (string, error) {
	conv, err := bech32.ConvertBits(id, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(string(prefix), conv)
}
