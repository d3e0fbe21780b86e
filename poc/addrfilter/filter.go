// Package addrfilter implements the Address-Hash Filter (spec.md §4.3): a
// rebuildable Bloom set of recently-seen receipt address hashes, used to
// detect replay/collocation during receipt validation.
package addrfilter

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"strconv"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/crypto/argon2"
)

// FPRate is the false-positive target used to size the Bloom bit array,
// spec.md §4.3.
const FPRate = 1e-9

// SaltBytes is the width of the salt fed to the password-hash, spec.md §9.
const SaltBytes = 16

// argon2 tuning. Modest by password-hashing standards: this filter hashes
// one IPv4+port per receipt on a validator's hot path, not a login form.
const (
	argonTime    = 1
	argonMemory  = 19 * 1024
	argonThreads = 1
)

// Result is the outcome of a Check call.
type Result int

const (
	// Unknown means the filter could not evaluate the address (unparseable
	// address, or filter disabled because chain vars are unset).
	Unknown Result = iota
	// SeenBefore means the address hash was already present in the Bloom
	// set: a likely replay or collocation.
	SeenBefore
	// FreshHash means the address hash was not previously present; it has
	// now been set, and the returned hash should be stamped onto the
	// receipt for later aggregation.
	FreshHash
)

// Filter is the Manager-local Bloom set. It is not safe for concurrent
// mutation from more than one goroutine (the Manager actor owns it), but
// Check/Set are internally locked so background rebuild and foreground
// queries never race.
type Filter struct {
	mu sync.Mutex

	byteSize int
	start    uint64
	salt     [32]byte

	bloom *bitset.BitSet
	bits  uint
	k     uint
}

// NewOptimal constructs a filter sized for gatewayCount elements at FPRate,
// salted by salt (the block hash at the start of the current challenge
// interval) and truncating computed address hashes to byteSize bytes.
func NewOptimal(gatewayCount int, byteSize int, start uint64, salt [32]byte) *Filter {
	bits, k := optimalParams(gatewayCount, FPRate)
	return &Filter{
		byteSize: byteSize,
		start:    start,
		salt:     salt,
		bloom:    bitset.New(bits),
		bits:     bits,
		k:        k,
	}
}

// optimalParams computes the Bloom bit-array size and hash-function count
// for n elements at false-positive rate p, per the standard formulas.
func optimalParams(n int, p float64) (bits uint, k uint) {
	if n <= 0 {
		n = 1
	}
	m := math.Ceil(-1 * float64(n) * math.Log(p) / (math.Ln2 * math.Ln2))
	kf := math.Round((m / float64(n)) * math.Ln2)
	if kf < 1 {
		kf = 1
	}
	return uint(m), uint(kf)
}

// Start reports the epoch start height this filter was built for.
func (f *Filter) Start() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.start
}

// Set folds h into the Bloom set unconditionally, used while replaying the
// chain from the epoch start during a rebuild.
func (f *Filter) Set(h []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setLocked(h)
}

func (f *Filter) setLocked(h []byte) {
	for _, idx := range f.indices(h) {
		f.bloom.Set(idx)
	}
}

// CheckAndSet atomically tests whether h is already present and sets it
// regardless, matching the `check_and_set` primitive named in spec.md §9.
func (f *Filter) CheckAndSet(h []byte) (alreadyPresent bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	present := true
	for _, idx := range f.indices(h) {
		if !f.bloom.Test(idx) {
			present = false
		}
	}
	f.setLocked(h)
	return present
}

// indices computes the k probe positions for h via Kirsch-Mitzenmacher
// double hashing: two SHA-256-derived base hashes combined as
// h_i = h1 + i*h2 mod bits.
func (f *Filter) indices(h []byte) []uint {
	sum := sha256.Sum256(append(f.salt[:], h...))
	h1 := binary.BigEndian.Uint64(sum[0:8])
	h2 := binary.BigEndian.Uint64(sum[8:16])
	if h2 == 0 {
		h2 = 1
	}
	out := make([]uint, f.k)
	for i := uint(0); i < f.k; i++ {
		out[i] = uint((h1 + uint64(i)*h2) % uint64(f.bits))
	}
	return out
}

// AddressHash computes the address hash spec.md §4.3 step "compute h"
// describes: pwhash(ipv4_octets, salt) truncated to byteSize bytes.
func (f *Filter) AddressHash(ipv4 [4]byte) []byte {
	derived := argon2.IDKey(ipv4[:], f.salt[:SaltBytes], argonTime, argonMemory, argonThreads, uint32(f.byteSize))
	if len(derived) > f.byteSize {
		derived = derived[:f.byteSize]
	}
	return derived
}

// Check evaluates peerAddr ("ip:port", IPv4 only) against the filter. It
// returns Unknown if the address cannot be parsed as IPv4+port; otherwise
// it computes the address hash and atomically checks-and-sets it, per
// spec.md §4.3's `check(peer_addr, state)` query.
func (f *Filter) Check(peerAddr string) (Result, []byte) {
	ip, ok := parseIPv4(peerAddr)
	if !ok {
		return Unknown, nil
	}
	h := f.AddressHash(ip)
	if f.CheckAndSet(h) {
		return SeenBefore, h
	}
	return FreshHash, h
}

func parseIPv4(peerAddr string) ([4]byte, bool) {
	host, port, err := net.SplitHostPort(peerAddr)
	if err != nil {
		return [4]byte{}, false
	}
	if _, err := strconv.Atoi(port); err != nil {
		return [4]byte{}, false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return [4]byte{}, false
	}
	v4 := ip.To4()
	if v4 == nil {
		return [4]byte{}, false
	}
	var out [4]byte
	copy(out[:], v4)
	return out, true
}

// String renders a filter's identity for logging.
func (f *Filter) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fmt.Sprintf("addrfilter(start=%d bits=%d k=%d byteSize=%d)", f.start, f.bits, f.k, f.byteSize)
}
