package ledger

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"covchain/config"
	"covchain/storage"
)

var (
	publicPoCPrefix = []byte("ledger/poc/public/record/")
	publicPoCIndex  = []byte("ledger/poc/public/index")
)

// Ledger is the concrete, process-local implementation of the read/write
// surface spec.md §6 names as an external collaborator.
type Ledger struct {
	mu sync.RWMutex
	db storage.Database

	height uint64
	vars   config.Vars

	hexOrder []uint64
	hexes    map[uint64]*hexEntry
	gateways map[string]*GatewayInfo
}

type hexEntry struct {
	id       uint64
	gateways []string // hex-encoded pubkeys, kept sorted
}

// New constructs a ledger view backed by db for public PoC persistence.
// Hex/gateway population starts empty; callers seed it via Seed* helpers
// (tests, or a future adapter syncing from the real chain node).
func New(db storage.Database) *Ledger {
	return &Ledger{
		db:       db,
		vars:     config.DefaultVars(),
		hexes:    make(map[uint64]*hexEntry),
		gateways: make(map[string]*GatewayInfo),
	}
}

// SetHeight updates the ledger's notion of current height. The Manager
// calls this once per block event before consulting the ledger.
func (l *Ledger) SetHeight(height uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.height = height
}

// SetVars overrides the chain-variable snapshot, e.g. once governance
// activates a proposal. Defaults apply until the first call.
func (l *Ledger) SetVars(v config.Vars) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.vars = v
}

// SeedGateway registers or replaces a gateway's ledger entry and its hex
// membership. It is the bootstrap/test seam for hex/gateway population.
func (l *Ledger) SeedGateway(info GatewayInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := string(info.PubKey)
	if existing, ok := l.gateways[key]; ok && existing.HexID != info.HexID {
		l.removeFromHexLocked(existing.HexID, info.PubKey)
	}
	clone := info
	clone.PubKey = append([]byte(nil), info.PubKey...)
	l.gateways[key] = &clone
	l.addToHexLocked(info.HexID, info.PubKey)
}

func (l *Ledger) addToHexLocked(hexID uint64, pubkey []byte) {
	entry, ok := l.hexes[hexID]
	if !ok {
		entry = &hexEntry{id: hexID}
		l.hexes[hexID] = entry
		l.hexOrder = append(l.hexOrder, hexID)
		sort.Slice(l.hexOrder, func(i, j int) bool { return l.hexOrder[i] < l.hexOrder[j] })
	}
	encoded := string(pubkey)
	for _, existing := range entry.gateways {
		if existing == encoded {
			return
		}
	}
	entry.gateways = append(entry.gateways, encoded)
	sort.Strings(entry.gateways)
}

func (l *Ledger) removeFromHexLocked(hexID uint64, pubkey []byte) {
	entry, ok := l.hexes[hexID]
	if !ok {
		return
	}
	encoded := string(pubkey)
	out := entry.gateways[:0]
	for _, existing := range entry.gateways {
		if existing != encoded {
			out = append(out, existing)
		}
	}
	entry.gateways = out
}

// CurrentHeight returns the ledger's current block height.
func (l *Ledger) CurrentHeight() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.height
}

// SnapshotVars returns the chain-variable snapshot for the current height.
func (l *Ledger) SnapshotVars() config.Vars {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.vars
}

// GatewayCount returns the total number of registered gateways.
func (l *Ledger) GatewayCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.gateways)
}

// Hexes returns every populated hex, in ascending ID order (v4 zone
// selection enumerates all of them).
func (l *Ledger) Hexes() []Hex {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Hex, 0, len(l.hexOrder))
	for _, id := range l.hexOrder {
		entry := l.hexes[id]
		if len(entry.gateways) == 0 {
			continue
		}
		out = append(out, Hex{ID: id, GatewayCount: len(entry.gateways)})
	}
	return out
}

// Hex returns a single hex's population, if it has any gateways.
func (l *Ledger) Hex(id uint64) (Hex, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.hexes[id]
	if !ok || len(entry.gateways) == 0 {
		return Hex{}, false
	}
	return Hex{ID: id, GatewayCount: len(entry.gateways)}, true
}

// RandomTargetingHexes draws n indices from the full ordered hex list using
// the caller-supplied pick function (pick(len) returns an index in
// [0,len)), de-duplicating the result by sort as spec.md §4.4 step 4
// requires for the v6 bounded-sample zone pool. The PRNG itself lives in
// the derive package so the ledger stays a pure data source.
func (l *Ledger) RandomTargetingHexes(n int, pick func(candidateCount int) int) []Hex {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.hexOrder) == 0 || n <= 0 {
		return nil
	}
	seen := make(map[uint64]struct{}, n)
	var ids []uint64
	for i := 0; i < n; i++ {
		idx := pick(len(l.hexOrder))
		if idx < 0 || idx >= len(l.hexOrder) {
			continue
		}
		id := l.hexOrder[idx]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Hex, 0, len(ids))
	for _, id := range ids {
		entry := l.hexes[id]
		if entry == nil || len(entry.gateways) == 0 {
			continue
		}
		out = append(out, Hex{ID: id, GatewayCount: len(entry.gateways)})
	}
	return out
}

// LookupGatewaysFromHex returns the pubkeys registered in the given hex, in
// ascending lexicographic order (determinism, spec.md §4.4).
func (l *Ledger) LookupGatewaysFromHex(hexID uint64) [][]byte {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.hexes[hexID]
	if !ok {
		return nil
	}
	out := make([][]byte, 0, len(entry.gateways))
	for _, pk := range entry.gateways {
		out = append(out, []byte(pk))
	}
	return out
}

// FindGatewayInfo looks up a gateway's ledger entry.
func (l *Ledger) FindGatewayInfo(pubkey []byte) (GatewayInfo, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.gateways[string(pubkey)]
	if !ok {
		return GatewayInfo{}, false
	}
	clone := *entry
	clone.PubKey = append([]byte(nil), entry.PubKey...)
	return clone, true
}

// SavePublicPoC writes the public PoC record unconditionally, overwriting
// any prior entry for the same onion-key-hash (idempotent re-processing,
// spec.md §8 "Idempotence").
func (l *Ledger) SavePublicPoC(rec PublicPoC) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.savePublicPoCLocked(rec)
}

func (l *Ledger) savePublicPoCLocked(rec PublicPoC) error {
	if l.db == nil {
		return fmt.Errorf("ledger: database not configured")
	}
	existed, err := l.db.Has(publicPoCKey(rec.OnionKeyHash))
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(storedPublicPoC{
		OnionKeyHash: rec.OnionKeyHash,
		Challenger:   rec.Challenger,
		BlockHash:    rec.BlockHash,
		StartHeight:  rec.StartHeight,
	})
	if err != nil {
		return err
	}
	if err := l.db.Put(publicPoCKey(rec.OnionKeyHash), encoded); err != nil {
		return err
	}
	if !existed {
		return l.appendPublicPoCIndexLocked(rec.OnionKeyHash)
	}
	return nil
}

// DeletePublicPoC removes a public PoC record, used by the periodic
// public-PoC GC sweep.
func (l *Ledger) DeletePublicPoC(hash [32]byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return fmt.Errorf("ledger: database not configured")
	}
	if err := l.db.Delete(publicPoCKey(hash)); err != nil {
		return err
	}
	return l.removePublicPoCIndexLocked(hash)
}

// ActivePublicPoCs returns every stored public PoC record, in the order
// they were written, for the GC sweep to scan.
func (l *Ledger) ActivePublicPoCs() ([]PublicPoC, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.db == nil {
		return nil, fmt.Errorf("ledger: database not configured")
	}
	hashes, err := l.loadPublicPoCIndexLocked()
	if err != nil {
		return nil, err
	}
	out := make([]PublicPoC, 0, len(hashes))
	for _, h := range hashes {
		var hash [32]byte
		copy(hash[:], h)
		data, err := l.db.Get(publicPoCKey(hash))
		if err != nil {
			continue
		}
		var stored storedPublicPoC
		if err := rlp.DecodeBytes(data, &stored); err != nil {
			return nil, err
		}
		out = append(out, PublicPoC{
			OnionKeyHash: stored.OnionKeyHash,
			Challenger:   stored.Challenger,
			BlockHash:    stored.BlockHash,
			StartHeight:  stored.StartHeight,
		})
	}
	return out, nil
}

type storedPublicPoC struct {
	OnionKeyHash [32]byte
	Challenger   []byte
	BlockHash    [32]byte
	StartHeight  uint64
}

func publicPoCKey(hash [32]byte) []byte {
	key := make([]byte, len(publicPoCPrefix)+len(hash))
	copy(key, publicPoCPrefix)
	copy(key[len(publicPoCPrefix):], hash[:])
	return key
}

func (l *Ledger) appendPublicPoCIndexLocked(hash [32]byte) error {
	hashes, err := l.loadPublicPoCIndexLocked()
	if err != nil {
		return err
	}
	hashes = append(hashes, append([]byte(nil), hash[:]...))
	encoded, err := rlp.EncodeToBytes(hashes)
	if err != nil {
		return err
	}
	return l.db.Put(publicPoCIndex, encoded)
}

func (l *Ledger) removePublicPoCIndexLocked(hash [32]byte) error {
	hashes, err := l.loadPublicPoCIndexLocked()
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
	return l.db.Put(publicPoCIndex, encoded)
}

func (l *Ledger) loadPublicPoCIndexLocked() ([][]byte, error) {
	data, err := l.db.Get(publicPoCIndex)
	if err != nil {
		return [][]byte{}, nil
	}
	var hashes [][]byte
	if err := rlp.DecodeBytes(data, &hashes); err != nil {
		return nil, err
	}
	return hashes, nil
}
