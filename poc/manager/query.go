package manager

import "covchain/poc/store"

// checkTarget implements spec.md §4.5's check_target query.
func (m *Manager) checkTarget(challengee []byte, blockHash, onionKeyHash [32]byte) (bool, []byte, error) {
	if _, err := m.feed.BlockByHash(blockHash); err != nil {
		return false, nil, ErrBlockNotFound
	}

	poc, err := m.store.Get(onionKeyHash)
	if err == store.NotFound {
		return false, nil, ErrInvalidOrExpiredPoC
	}
	if err != nil {
		return false, nil, err
	}
	if poc.BlockHash != blockHash {
		return false, nil, ErrMismatchedBlockHash
	}
	if string(poc.Target) == string(challengee) {
		return true, poc.Onion, nil
	}
	return false, nil, nil
}

// activePoCs implements spec.md §4.5's active_pocs query.
func (m *Manager) activePoCs() []*store.LocalPoC {
	all, err := m.store.Iter()
	if err != nil {
		m.logger.Error("active_pocs: store iteration failed")
		return nil
	}
	return all
}
