package manager

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	"covchain/chainfeed"
	"covchain/core/events"
	"covchain/ledger"
	"covchain/poc/derive"
	"covchain/poc/keycache"
)

// handleBlock implements spec.md §4.5's block_added trigger. A sync block
// (the node catching up) is a no-op: we do not drive challenges while
// synchronizing.
func (m *Manager) handleBlock(block chainfeed.Block, sync bool) {
	if sync {
		return
	}
	m.ledger.SetHeight(block.Height)
	vars := m.ledger.SnapshotVars()

	if _, err := m.filter.MaybeRebuild(block.Height, block.Hash, vars, m.ledger.GatewayCount()); err != nil {
		m.logger.Warn("address-hash filter rebuild failed", slog.Any("error", err))
	} else {
		m.filter.ApplyBlock(block)
	}

	m.processBlockPoCs(block)
	m.ttlSweep(block.Height)

	if block.Height%keyCacheGCInterval == 0 {
		evicted := m.keyCache.GC(block.Height, PoCTimeout)
		m.metrics.ObserveKeyCacheGC(evicted)
	}
	if block.Height%publicPoCGCInterval == 0 {
		m.publicPoCGC(block.Height)
	}
}

// processBlockPoCs implements spec.md §4.5's "Block-pocs processing": for
// every ephemeral key the block carries, write a public record
// unconditionally, then spawn derivation if we own the secret.
func (m *Manager) processBlockPoCs(block chainfeed.Block) {
	for _, key := range block.EphemeralKeys {
		onionKeyHash := sha256.Sum256(key.PubKey)

		rec := ledger.PublicPoC{
			OnionKeyHash: onionKeyHash,
			Challenger:   key.Challenger,
			BlockHash:    block.Hash,
			StartHeight:  block.Height,
		}
		if err := m.ledger.SavePublicPoC(rec); err != nil {
			m.logger.Error("failed to save public poc record", slog.Any("error", err))
		}

		entry, ok := m.keyCache.Lookup(onionKeyHash)
		if !ok {
			continue
		}
		m.keyCache.Delete(onionKeyHash)
		go m.deriveAndPersist(entry, block)
	}
}

func (m *Manager) deriveAndPersist(entry keycache.Entry, block chainfeed.Block) {
	onionKeyHash := entry.KeyPair.OnionKeyHash()
	vars := m.ledger.SnapshotVars()
	deriver := derive.New(vars)

	poc, err := deriver.Derive(derive.Input{
		Challenger:   m.signer.PublicBytes(),
		BlockHash:    block.Hash,
		BlockTime:    block.Time,
		Keys:         entry.KeyPair,
		Vars:         vars,
		Ledger:       m.ledger,
		PathBuilder:  m.pathBuilder,
		OnionBuilder: m.onionBuilder,
	})
	if err != nil {
		m.logger.Warn("derivation failed, abandoning challenge",
			slog.String("onionKeyHash", hex.EncodeToString(onionKeyHash[:])),
			slog.Any("error", err))
		m.metrics.ObserveDerivationFailure(err.Error())
		m.emit(events.DerivationFailed{OnionKeyHash: onionKeyHash, Reason: err.Error()})
		return
	}
	if err := m.store.Put(poc); err != nil {
		m.logger.Error("failed to persist derived challenge", slog.Any("error", err))
		return
	}
	m.metrics.ObserveChallengeInitialized()
	m.emit(events.ChallengeInitialized{
		OnionKeyHash: onionKeyHash,
		BlockHash:    poc.BlockHash,
		StartHeight:  poc.StartHeight,
		Target:       poc.Target,
		PathLength:   len(poc.Challengees),
	})
}

func (m *Manager) publicPoCGC(currentHeight uint64) {
	recs, err := m.ledger.ActivePublicPoCs()
	if err != nil {
		m.logger.Error("public poc gc: failed to list records", slog.Any("error", err))
		return
	}
	evicted := 0
	for _, rec := range recs {
		if currentHeight > rec.StartHeight && currentHeight-rec.StartHeight > PoCTimeout {
			if err := m.ledger.DeletePublicPoC(rec.OnionKeyHash); err != nil {
				m.logger.Error("public poc gc: failed to delete record", slog.Any("error", err))
				continue
			}
			evicted++
		}
	}
	m.metrics.ObservePublicPocGC(evicted)
}
