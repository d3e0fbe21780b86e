// Package keycache holds the volatile, process-wide mapping from
// onion-key-hash to the secret half of an ephemeral PoC keypair this
// validator proposed (spec.md §4.1). It is shared-read, single-writer: the
// Manager owns writes, everything else only reads.
package keycache

import (
	"sync"

	"covchain/crypto"
)

// Entry is a cached ephemeral keypair together with the height at which it
// was proposed for inclusion, used by the TTL-based GC sweep.
type Entry struct {
	ReceiveHeight uint64
	KeyPair       crypto.KeyPair
}

// Cache is the shared-read/single-writer key cache. The zero value is not
// usable; construct with New.
type Cache struct {
	mu      sync.RWMutex
	entries map[[32]byte]Entry
}

// New constructs an empty cache. A single instance is meant to be held by a
// long-lived supervisor and handed to the Manager by reference, so a crash
// and restart of the Manager does not drop pending keys.
func New() *Cache {
	return &Cache{entries: make(map[[32]byte]Entry)}
}

// Cache idempotently inserts or overwrites an entry; last write wins.
func (c *Cache) Cache(hash [32]byte, receiveHeight uint64, kp crypto.KeyPair) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[hash] = Entry{ReceiveHeight: receiveHeight, KeyPair: kp}
}

// Lookup returns the cached entry for hash, if present.
func (c *Cache) Lookup(hash [32]byte) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[hash]
	return entry, ok
}

// Delete removes an entry, used once a challenge is initialized or once it
// is GC'd.
func (c *Cache) Delete(hash [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, hash)
}

// Iter returns a snapshot of every cached (hash, entry) pair, for the GC
// sweep. The order is unspecified; callers sort if they need determinism.
func (c *Cache) Iter() map[[32]byte]Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[[32]byte]Entry, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// GC evicts every entry whose ReceiveHeight is more than maxAge blocks
// behind currentHeight, returning the count evicted (spec.md §4.5, "Key
// Cache GC").
func (c *Cache) GC(currentHeight uint64, maxAge uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	evicted := 0
	for hash, entry := range c.entries {
		if currentHeight > entry.ReceiveHeight && currentHeight-entry.ReceiveHeight > maxAge {
			delete(c.entries, hash)
			evicted++
		}
	}
	return evicted
}
