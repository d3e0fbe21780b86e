package manager

import (
	"encoding/hex"
	"log/slog"

	"covchain/core/events"
	"covchain/poc/addrfilter"
	"covchain/poc/store"
)

func (m *Manager) validGateway(gateway []byte) bool {
	info, ok := m.ledger.FindGatewayInfo(gateway)
	return ok && info.HasLocation
}

// ingestReceipt implements spec.md §4.5's receipt-ingestion rules.
func (m *Manager) ingestReceipt(onionKeyHash [32]byte, r store.Receipt, peer string, peerAddr string) {
	r.PeerAddr = peerAddr
	if !m.validGateway(r.Gateway) {
		m.dropReceipt("invalid_gateway")
		return
	}
	poc, err := m.store.Get(onionKeyHash)
	if err != nil {
		m.dropReceipt("unknown_poc")
		return
	}
	idx := poc.HopIndex(r.Gateway)
	if idx < 0 {
		m.dropReceipt("unknown_hop")
		return
	}
	if poc.Challengees[idx].LayerData != r.Data {
		m.dropReceipt("layer_data_mismatch")
		return
	}
	gatewayKey := hex.EncodeToString(r.Gateway)
	if _, already := poc.Receipts[gatewayKey]; already {
		m.dropReceipt("already_received")
		return
	}

	result, hash := addrfilter.Unknown, []byte(nil)
	if f := m.filter.Current(); f != nil {
		result, hash = f.Check(peerAddr)
	}
	switch result {
	case addrfilter.SeenBefore:
		if idx == 0 {
			// First-hop replay is fatal: the first receipt must be
			// obtainable. Drop the receipt and discard the entire
			// challenge.
			if err := m.store.Delete(onionKeyHash); err != nil {
				m.logger.Error("failed to discard challenge on first-hop replay", slog.Any("error", err))
			}
			m.dropReceipt("first_hop_replay")
			return
		}
		m.dropReceipt("address_replay")
		return
	case addrfilter.FreshHash:
		r.AddrHash = hash
	case addrfilter.Unknown:
		// store as-is
	}

	poc.Receipts[gatewayKey] = store.ReceiptRecord{Peer: peer, Receipt: r}
	if err := m.store.Put(poc); err != nil {
		m.logger.Error("failed to persist receipt", slog.Any("error", err))
		return
	}
	m.metrics.ObserveReceiptAccepted()
	m.emit(events.ReceiptAccepted{OnionKeyHash: onionKeyHash, Gateway: r.Gateway, HopIndex: idx, AddrHashed: len(r.AddrHash) > 0})
}

func (m *Manager) dropReceipt(reason string) {
	m.logger.Warn("dropped receipt", slog.String("reason", reason))
	m.metrics.ObserveReceiptDropped(reason)
}

// ingestWitness implements spec.md §4.5's witness-ingestion rules.
func (m *Manager) ingestWitness(onionKeyHash [32]byte, w store.Witness, peer string, peerAddr string) {
	w.PeerAddr = peerAddr
	vars := m.ledger.SnapshotVars()

	if !m.validGateway(w.Gateway) {
		m.dropWitness("invalid_gateway")
		return
	}
	poc, err := m.store.Get(onionKeyHash)
	if err != nil {
		m.dropWitness("unknown_poc")
		return
	}
	idx := poc.PacketHashIndex(w.PacketHash)
	if idx < 0 {
		m.dropWitness("unknown_layer")
		return
	}
	if string(w.Gateway) == string(poc.Challengees[idx].Gateway) {
		m.dropWitness("self_witness")
		return
	}

	key := hex.EncodeToString(w.PacketHash[:])
	bucket := poc.Witnesses[key]
	replaced := false
	for i, rec := range bucket {
		if rec.Peer == peer {
			bucket[i] = store.WitnessRecord{Peer: peer, Witness: w}
			replaced = true
			break
		}
		if string(rec.Witness.Gateway) == string(w.Gateway) {
			m.dropWitness("duplicate_gateway")
			return
		}
	}
	if !replaced {
		limit := vars.PerHopMaxWitnesses
		if limit > 0 && len(bucket) >= limit {
			m.dropWitness("capacity_exceeded")
			return
		}
		bucket = append(bucket, store.WitnessRecord{Peer: peer, Witness: w})
	}
	poc.Witnesses[key] = bucket

	if err := m.store.Put(poc); err != nil {
		m.logger.Error("failed to persist witness", slog.Any("error", err))
		return
	}
	m.metrics.ObserveWitnessAccepted()
	m.emit(events.WitnessAccepted{OnionKeyHash: onionKeyHash, PacketHash: w.PacketHash, Witness: w.Gateway, HopIndex: idx})
}

func (m *Manager) dropWitness(reason string) {
	m.logger.Warn("dropped witness", slog.String("reason", reason))
	m.metrics.ObserveWitnessDropped(reason)
}
