package manager

import (
	"encoding/hex"
	"log/slog"

	"covchain/core/events"
	"covchain/poc/store"
	"covchain/poc/txsubmit"
)

// ttlSweep implements spec.md §4.5's "TTL expiry and submission" trigger:
// on each non-sync block, every LocalPoC older than PoCTimeout blocks is
// assembled into a PoC-receipts-v1 transaction (if receipts v1 is active)
// and removed from the store, whether or not anything was collected for it.
func (m *Manager) ttlSweep(currentHeight uint64) {
	vars := m.ledger.SnapshotVars()

	pocs, err := m.store.Iter()
	if err != nil {
		m.logger.Error("ttl sweep: store iteration failed", slog.Any("error", err))
		return
	}
	for _, poc := range pocs {
		if currentHeight <= poc.StartHeight || currentHeight-poc.StartHeight <= PoCTimeout {
			continue
		}
		m.expireChallenge(poc, vars.ReceiptsV1Enabled(), currentHeight)
	}
}

func (m *Manager) expireChallenge(poc *store.LocalPoC, submit bool, currentHeight uint64) {
	if submit {
		path := assemblePath(poc)
		tx := txsubmit.Build(m.signer.PublicBytes(), poc.Secret, poc.OnionKeyHash, poc.BlockHash, path)
		signed, err := txsubmit.Sign(tx, m.signer)
		if err != nil {
			m.logger.Error("ttl sweep: failed to sign submission", slog.Any("error", err))
		} else if err := m.submitter.Submit(signed); err != nil {
			m.logger.Error("ttl sweep: failed to submit transaction", slog.Any("error", err))
		} else {
			receiptCount, witnessCount := 0, 0
			for _, el := range path {
				if el.Receipt != nil {
					receiptCount++
				}
				witnessCount += len(el.Witnesses)
			}
			m.metrics.ObserveChallengeSubmitted()
			m.emit(events.ChallengeSubmitted{
				OnionKeyHash: poc.OnionKeyHash,
				PathElements: len(path),
				ReceiptCount: receiptCount,
				WitnessCount: witnessCount,
				SubmitHeight: currentHeight,
			})
		}
	} else {
		m.metrics.ObserveChallengeExpiredGC()
	}

	if err := m.store.Delete(poc.OnionKeyHash); err != nil {
		m.logger.Error("ttl sweep: failed to delete expired challenge", slog.Any("error", err))
	}
}

// assemblePath folds a LocalPoC's collected receipts and witnesses into the
// path transaction shape (spec.md §4.5 step 1), excluding any witness whose
// reporting address matches the hop's own receipt address. Each element is
// prepended, so the folded path lists hops last-to-first; txsubmit.Build
// reverses it back into challenge order.
func assemblePath(poc *store.LocalPoC) []txsubmit.PathElement {
	hashIndex := make(map[string][32]byte, len(poc.PacketHashes))
	for _, entry := range poc.PacketHashes {
		hashIndex[hex.EncodeToString(entry.Gateway)] = entry.Hash
	}

	path := make([]txsubmit.PathElement, 0, len(poc.Challengees))
	for _, hop := range poc.Challengees {
		gatewayKey := hex.EncodeToString(hop.Gateway)
		el := txsubmit.PathElement{Gateway: hop.Gateway}

		var receiptAddr string
		if rec, ok := poc.Receipts[gatewayKey]; ok {
			r := rec.Receipt
			el.Receipt = &r
			receiptAddr = r.PeerAddr
		}

		packetHash := hashIndex[gatewayKey]
		for _, wrec := range poc.Witnesses[hex.EncodeToString(packetHash[:])] {
			if receiptAddr != "" && wrec.Witness.PeerAddr == receiptAddr {
				continue
			}
			el.Witnesses = append(el.Witnesses, wrec.Witness)
		}
		path = append([]txsubmit.PathElement{el}, path...)
	}
	return path
}
