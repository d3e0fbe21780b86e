package derive

import (
	"crypto/sha256"
	"encoding/binary"
)

// layerFragments derives n+1 hash fragments from E via the receipts-v1
// secret-hash construction (spec.md §4.4 step 10): fragment i is
// SHA-256(E || "poc-layer" || i). The first 16 bits little-endian of
// fragment 0 form the onion IV; fragments 1..n each contribute one
// layer-data byte.
func layerFragments(e [64]byte, n int) [][32]byte {
	out := make([][32]byte, n+1)
	for i := 0; i <= n; i++ {
		h := sha256.New()
		h.Write(e[:])
		h.Write([]byte("poc-layer"))
		var idx [4]byte
		binary.BigEndian.PutUint32(idx[:], uint32(i))
		h.Write(idx[:])
		copy(out[i][:], h.Sum(nil))
	}
	return out
}

// deriveIVAndLayerData splits layerFragments' output into the onion IV and
// the per-hop layer-data bytes.
func deriveIVAndLayerData(e [64]byte, hopCount int) (iv uint16, layerData []byte) {
	fragments := layerFragments(e, hopCount)
	iv = binary.LittleEndian.Uint16(fragments[0][:2])
	layerData = make([]byte, hopCount)
	for i := 0; i < hopCount; i++ {
		layerData[i] = fragments[i+1][0]
	}
	return iv, layerData
}
