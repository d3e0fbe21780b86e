package manager

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"covchain/chainfeed"
	"covchain/config"
	"covchain/crypto"
	"covchain/ledger"
	"covchain/observability/metrics"
	"covchain/poc/keycache"
	"covchain/poc/onion"
	"covchain/poc/path"
	"covchain/poc/store"
	"covchain/poc/txsubmit"
	"covchain/storage"
)

type harness struct {
	mgr       *Manager
	ledger    *ledger.Ledger
	store     *store.Store
	keyCache  *keycache.Cache
	feed      *chainfeed.FakePublisher
	submitter *txsubmit.QueueSubmitter
	signer    crypto.KeyPair
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	l := ledger.New(storage.NewMemDB())
	vars := config.DefaultVars()
	vars.TargetPoolSize = 3
	vars.PerHopMaxWitnesses = 2
	l.SetVars(vars)
	l.SetHeight(0)

	signer, err := crypto.Generate()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}

	kc := keycache.New()
	st := store.New(storage.NewMemDB())
	feed := chainfeed.NewFakePublisher()
	submitter := txsubmit.NewQueueSubmitter()

	mgr := New(Config{
		KeyCache:     kc,
		Store:        st,
		Ledger:       l,
		Feed:         feed,
		PathBuilder:  path.NewWeightedBuilder(2),
		OnionBuilder: onion.NewChaCha20Builder(),
		Submitter:    submitter,
		Signer:       signer,
		Metrics:      metrics.Registry(),
	})

	return &harness{mgr: mgr, ledger: l, store: st, keyCache: kc, feed: feed, submitter: submitter, signer: signer}
}

// seedGateways registers n located, challengeable gateways plus the
// harness's own signer as challenger, all in the same hex cell.
func (h *harness) seedGateways(t *testing.T, n int) []crypto.KeyPair {
	t.Helper()
	kps := make([]crypto.KeyPair, 0, n)
	for i := 0; i < n; i++ {
		kp, err := crypto.Generate()
		if err != nil {
			t.Fatalf("generate gateway: %v", err)
		}
		h.ledger.SeedGateway(ledger.GatewayInfo{
			PubKey:      kp.PublicBytes(),
			Mode:        ledger.ModeFull,
			HexID:       1,
			HasLocation: true,
			Challengee:  true,
		})
		kps = append(kps, kp)
	}
	h.ledger.SeedGateway(ledger.GatewayInfo{
		PubKey:      h.signer.PublicBytes(),
		Mode:        ledger.ModeFull,
		HexID:       1,
		HasLocation: true,
		Challengee:  true,
	})
	return kps
}

func TestManagerDerivesChallengeForOwnedKey(t *testing.T) {
	h := newHarness(t)
	h.seedGateways(t, 5)

	ephemeral, err := crypto.Generate()
	if err != nil {
		t.Fatalf("generate ephemeral: %v", err)
	}
	onionKeyHash := ephemeral.OnionKeyHash()
	h.keyCache.Cache(onionKeyHash, 1, ephemeral)

	block := chainfeed.Block{
		Hash:   [32]byte{1},
		Height: 1,
		Time:   1000,
		EphemeralKeys: []chainfeed.EphemeralKeyAnnounce{
			{Challenger: h.signer.PublicBytes(), PubKey: ephemeral.PublicBytes()},
		},
	}
	h.mgr.handleBlock(block, false)
	time.Sleep(50 * time.Millisecond)

	poc, err := h.store.Get(onionKeyHash)
	if err != nil {
		t.Fatalf("expected challenge to be derived and persisted: %v", err)
	}
	if poc.BlockHash != block.Hash {
		t.Fatalf("persisted poc has wrong block hash")
	}
	if _, ok := h.keyCache.Lookup(onionKeyHash); ok {
		t.Fatalf("key cache entry should be consumed once derivation is spawned")
	}

	recs, err := h.ledger.ActivePublicPoCs()
	if err != nil {
		t.Fatalf("active public pocs: %v", err)
	}
	if len(recs) != 1 || recs[0].OnionKeyHash != onionKeyHash {
		t.Fatalf("expected a public poc record for every ephemeral key, got %+v", recs)
	}
}

func TestManagerIgnoresUnownedKey(t *testing.T) {
	h := newHarness(t)
	h.seedGateways(t, 5)

	ephemeral, err := crypto.Generate()
	if err != nil {
		t.Fatalf("generate ephemeral: %v", err)
	}
	onionKeyHash := ephemeral.OnionKeyHash()

	block := chainfeed.Block{
		Hash:   [32]byte{2},
		Height: 1,
		EphemeralKeys: []chainfeed.EphemeralKeyAnnounce{
			{Challenger: []byte{0x01}, PubKey: ephemeral.PublicBytes()},
		},
	}
	h.mgr.handleBlock(block, false)
	time.Sleep(20 * time.Millisecond)

	if _, err := h.store.Get(onionKeyHash); err != store.NotFound {
		t.Fatalf("expected no challenge to be derived for an unowned key, got err=%v", err)
	}
}

func TestManagerSyncBlockIsNoop(t *testing.T) {
	h := newHarness(t)
	h.seedGateways(t, 5)

	ephemeral, err := crypto.Generate()
	if err != nil {
		t.Fatalf("generate ephemeral: %v", err)
	}
	onionKeyHash := ephemeral.OnionKeyHash()
	h.keyCache.Cache(onionKeyHash, 1, ephemeral)

	block := chainfeed.Block{
		Hash:   [32]byte{3},
		Height: 1,
		EphemeralKeys: []chainfeed.EphemeralKeyAnnounce{
			{Challenger: h.signer.PublicBytes(), PubKey: ephemeral.PublicBytes()},
		},
	}
	h.mgr.handleBlock(block, true)
	time.Sleep(20 * time.Millisecond)

	if h.ledger.CurrentHeight() != 0 {
		t.Fatalf("sync block must not advance ledger height")
	}
	if _, ok := h.keyCache.Lookup(onionKeyHash); !ok {
		t.Fatalf("sync block must not consume the key cache entry")
	}
	if _, err := h.store.Get(onionKeyHash); err != store.NotFound {
		t.Fatalf("sync block must not derive a challenge")
	}
}

// newChallenge drives a real challenge into the store via the manager's own
// block handling, then returns it so tests can exercise receipt/witness
// ingestion without hand-constructing a LocalPoC out of band.
func (h *harness) newChallenge(t *testing.T, blockHeight uint64, blockHash [32]byte) *store.LocalPoC {
	t.Helper()
	ephemeral, err := crypto.Generate()
	if err != nil {
		t.Fatalf("generate ephemeral: %v", err)
	}
	onionKeyHash := ephemeral.OnionKeyHash()
	h.keyCache.Cache(onionKeyHash, blockHeight, ephemeral)

	h.mgr.handleBlock(chainfeed.Block{
		Hash:   blockHash,
		Height: blockHeight,
		EphemeralKeys: []chainfeed.EphemeralKeyAnnounce{
			{Challenger: h.signer.PublicBytes(), PubKey: ephemeral.PublicBytes()},
		},
	}, false)
	h.feed.Publish(chainfeed.Block{Hash: blockHash, Height: blockHeight})

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if poc, err := h.store.Get(onionKeyHash); err == nil {
			return poc
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("challenge was never derived")
	return nil
}

func TestManagerAcceptsFirstReceipt(t *testing.T) {
	h := newHarness(t)
	h.seedGateways(t, 5)
	poc := h.newChallenge(t, 1, [32]byte{9})

	target := poc.Challengees[0]
	r := store.Receipt{Gateway: target.Gateway, Data: target.LayerData, Timestamp: 10}
	h.mgr.ingestReceipt(poc.OnionKeyHash, r, "peer-1", "203.0.113.1:4001")

	stored, err := h.store.Get(poc.OnionKeyHash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	found := false
	for _, rec := range stored.Receipts {
		if string(rec.Receipt.Gateway) == string(target.Gateway) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected receipt to be stored against the first hop")
	}
}

func TestManagerDuplicateReceiptDropped(t *testing.T) {
	h := newHarness(t)
	h.seedGateways(t, 5)
	poc := h.newChallenge(t, 1, [32]byte{10})

	target := poc.Challengees[0]
	r := store.Receipt{Gateway: target.Gateway, Data: target.LayerData, Timestamp: 10}
	h.mgr.ingestReceipt(poc.OnionKeyHash, r, "peer-1", "203.0.113.1:4001")
	h.mgr.ingestReceipt(poc.OnionKeyHash, r, "peer-2", "203.0.113.2:4001")

	stored, err := h.store.Get(poc.OnionKeyHash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	count := 0
	for range stored.Receipts {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one receipt to be retained, got %d", count)
	}
}

func TestManagerFirstHopAddressReplayDiscardsChallenge(t *testing.T) {
	h := newHarness(t)
	h.seedGateways(t, 5)
	poc := h.newChallenge(t, 1, [32]byte{11})

	peerAddr := "198.51.100.7:4040"
	// Mark the address as already seen in the manager's own filter before
	// the first receipt arrives, simulating a prior settlement replay.
	h.mgr.filter.Current().Check(peerAddr)

	target := poc.Challengees[0]
	r := store.Receipt{Gateway: target.Gateway, Data: target.LayerData, Timestamp: 10}
	h.mgr.ingestReceipt(poc.OnionKeyHash, r, "peer-1", peerAddr)

	if _, err := h.store.Get(poc.OnionKeyHash); err != store.NotFound {
		t.Fatalf("expected challenge to be discarded after first-hop address replay")
	}
}

func TestManagerWitnessCapacityEnforced(t *testing.T) {
	h := newHarness(t)
	h.seedGateways(t, 5)
	poc := h.newChallenge(t, 1, [32]byte{12})
	if len(poc.Challengees) < 2 {
		t.Skip("path too short to exercise witness ingestion for hop 1")
	}

	packetHash := poc.PacketHashes[1].Hash
	vars := h.ledger.SnapshotVars()
	limit := vars.PerHopMaxWitnesses

	for i := 0; i < limit; i++ {
		witnessKP, err := crypto.Generate()
		if err != nil {
			t.Fatalf("generate witness: %v", err)
		}
		h.ledger.SeedGateway(ledger.GatewayInfo{PubKey: witnessKP.PublicBytes(), Mode: ledger.ModeFull, HexID: 2, HasLocation: true})
		w := store.Witness{Gateway: witnessKP.PublicBytes(), PacketHash: packetHash, Timestamp: 10, SignalRSSI: 70}
		h.mgr.ingestWitness(poc.OnionKeyHash, w, "peer-w-"+hex.EncodeToString([]byte{byte(i)}), "192.0.2.1:4000")
	}
	overflowKP, err := crypto.Generate()
	if err != nil {
		t.Fatalf("generate overflow witness: %v", err)
	}
	h.ledger.SeedGateway(ledger.GatewayInfo{PubKey: overflowKP.PublicBytes(), Mode: ledger.ModeFull, HexID: 2, HasLocation: true})
	overflow := store.Witness{Gateway: overflowKP.PublicBytes(), PacketHash: packetHash, Timestamp: 10, SignalRSSI: 70}
	h.mgr.ingestWitness(poc.OnionKeyHash, overflow, "peer-overflow", "192.0.2.2:4000")

	stored, err := h.store.Get(poc.OnionKeyHash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	key := hex.EncodeToString(packetHash[:])
	if len(stored.Witnesses[key]) != limit {
		t.Fatalf("expected witness bucket capped at %d, got %d", limit, len(stored.Witnesses[key]))
	}
}

func TestManagerSelfWitnessDropped(t *testing.T) {
	h := newHarness(t)
	h.seedGateways(t, 5)
	poc := h.newChallenge(t, 1, [32]byte{13})
	if len(poc.Challengees) < 2 {
		t.Skip("path too short to exercise witness ingestion for hop 1")
	}

	hop := poc.Challengees[1]
	packetHash := poc.PacketHashes[1].Hash
	w := store.Witness{Gateway: hop.Gateway, PacketHash: packetHash, Timestamp: 10}
	h.mgr.ingestWitness(poc.OnionKeyHash, w, "peer-self", "192.0.2.9:4000")

	stored, err := h.store.Get(poc.OnionKeyHash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	key := hex.EncodeToString(packetHash[:])
	if len(stored.Witnesses[key]) != 0 {
		t.Fatalf("expected self-witness to be dropped")
	}
}

func TestManagerTTLSweepSubmitsAndRemovesChallenge(t *testing.T) {
	h := newHarness(t)
	h.seedGateways(t, 5)
	vars := h.ledger.SnapshotVars()
	vars.Version = 11
	h.ledger.SetVars(vars)
	poc := h.newChallenge(t, 1, [32]byte{14})

	target := poc.Challengees[0]
	r := store.Receipt{Gateway: target.Gateway, Data: target.LayerData, Timestamp: 10}
	h.mgr.ingestReceipt(poc.OnionKeyHash, r, "peer-1", "203.0.113.9:4001")

	h.mgr.ttlSweep(1 + PoCTimeout + 1)

	if _, err := h.store.Get(poc.OnionKeyHash); err != store.NotFound {
		t.Fatalf("expected challenge to be removed after ttl sweep")
	}
	submitted := h.submitter.Drain()
	if len(submitted) != 1 {
		t.Fatalf("expected exactly one submitted transaction, got %d", len(submitted))
	}
	if submitted[0].OnionKeyHash != poc.OnionKeyHash {
		t.Fatalf("submitted transaction references the wrong onion key hash")
	}
}

func TestManagerCheckTargetQuery(t *testing.T) {
	h := newHarness(t)
	h.seedGateways(t, 5)
	poc := h.newChallenge(t, 1, [32]byte{15})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.mgr.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	match, onionCT, err := h.mgr.CheckTarget(poc.Target, poc.BlockHash, poc.OnionKeyHash)
	require.NoError(t, err)
	require.True(t, match, "expected the first hop to match the target")
	require.NotEmpty(t, onionCT, "expected onion ciphertext to be returned")

	_, _, err = h.mgr.CheckTarget(poc.Target, [32]byte{0xFF}, poc.OnionKeyHash)
	require.ErrorIs(t, err, ErrBlockNotFound)
}
