// Package onion implements the external onion-builder collaborator named
// in spec.md §6: build(keys, iv, [(hop_pubkey, layer_data_byte)],
// block_hash, ledger) → (ciphertext, [layer_cleartext]).
//
// A production onion protocol (BOLT-style Sphinx) is out of scope for this
// module (spec.md's hex/zone modeling non-goals extend the same way to the
// onion layer: it exists to drive the Manager's state machine end to end,
// not to be a wire-compatible implementation). This reference builder
// layers real AEAD encryption with a lightweight, non-ECDH key agreement,
// documented in DESIGN.md.
package onion

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"covchain/crypto"
	"covchain/ledger"
)

// Hop is one (gateway pubkey, layer-data byte) pair the onion is built
// over.
type Hop struct {
	Gateway   []byte
	LayerData byte
}

// Builder is the onion-construction seam.
type Builder interface {
	// Build returns the outermost ciphertext and len(hops)+1 layer
	// cleartexts: layers[0] is the outermost (pre-encryption) cleartext,
	// layers[i] for i>0 is what hop i-1 reveals after peeling its layer.
	Build(keys crypto.KeyPair, iv uint16, hops []Hop, blockHash [32]byte, l *ledger.Ledger) (ciphertext []byte, layers [][]byte, err error)
}

// ChaCha20Builder is the reference implementation: each hop's layer is
// ChaCha20-Poly1305-sealed under a key derived from the challenger's
// ephemeral private scalar and that hop's public key. Key agreement here
// is SHA-256(private_scalar || hop_pubkey) rather than a real ECDH
// exchange, because the module's gateway keys are secp256k1 points and
// the standard library's crypto/ecdh only supports NIST curves and
// X25519 — see DESIGN.md.
type ChaCha20Builder struct{}

// NewChaCha20Builder constructs the reference onion builder.
func NewChaCha20Builder() *ChaCha20Builder { return &ChaCha20Builder{} }

func (b *ChaCha20Builder) Build(keys crypto.KeyPair, iv uint16, hops []Hop, blockHash [32]byte, l *ledger.Ledger) ([]byte, [][]byte, error) {
	if len(hops) == 0 {
		return nil, nil, fmt.Errorf("onion: empty hop list")
	}

	layers := make([][]byte, len(hops)+1)
	layers[0] = buildOutermostCleartext(iv, hops, blockHash)

	payload := append([]byte(nil), layers[0]...)
	for i, hop := range hops {
		key := sharedSecret(keys.PrivateBytes(), hop.Gateway)
		aead, err := chacha20poly1305.New(key[:])
		if err != nil {
			return nil, nil, fmt.Errorf("onion: construct aead: %w", err)
		}
		nonce := layerNonce(iv, i)
		sealed := aead.Seal(nil, nonce, payload, nil)
		layers[i+1] = sealed
		payload = sealed
	}
	return payload, layers, nil
}

func buildOutermostCleartext(iv uint16, hops []Hop, blockHash [32]byte) []byte {
	buf := make([]byte, 2+len(hops)+len(blockHash))
	binary.LittleEndian.PutUint16(buf[0:2], iv)
	for i, hop := range hops {
		buf[2+i] = hop.LayerData
	}
	copy(buf[2+len(hops):], blockHash[:])
	return buf
}

func sharedSecret(privateScalar, hopPubkey []byte) [chacha20poly1305.KeySize]byte {
	h := sha256.New()
	h.Write(privateScalar)
	h.Write(hopPubkey)
	var out [chacha20poly1305.KeySize]byte
	copy(out[:], h.Sum(nil))
	return out
}

func layerNonce(iv uint16, hopIndex int) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.LittleEndian.PutUint16(nonce[0:2], iv)
	binary.LittleEndian.PutUint32(nonce[2:6], uint32(hopIndex))
	return nonce
}

// RandomIV draws a random 16-bit IV, used only by callers that are not
// deriving it from challenge entropy (e.g. standalone tests).
func RandomIV() (uint16, error) {
	var buf [2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}
