// Package manager implements the Challenge Manager (spec.md §4.5): a
// single-actor state machine serializing all mutation of the Local PoC
// Store and the Address-Hash Filter behind one command channel, grounded
// on this codebase's p2p server select-loop style (p2p/server.go).
package manager

import (
	"context"
	"log/slog"
	"time"

	"covchain/chainfeed"
	"covchain/core/events"
	"covchain/core/types"
	"covchain/crypto"
	"covchain/ledger"
	"covchain/observability/metrics"
	"covchain/poc/addrfilter"
	"covchain/poc/keycache"
	"covchain/poc/onion"
	"covchain/poc/path"
	"covchain/poc/store"
	"covchain/poc/txsubmit"
)

// PoCTimeout is the maximum window, in blocks, during which receipts and
// witnesses may be collected before a challenge is submitted or GC'd
// (spec.md §6, POC_TIMEOUT).
const PoCTimeout = 4

const (
	keyCacheGCInterval    = 50
	publicPoCGCInterval   = 100
	bootstrapRetryBackoff = 500 * time.Millisecond
)

// Manager is the Challenge Manager actor.
type Manager struct {
	keyCache     *keycache.Cache
	store        *store.Store
	ledger       *ledger.Ledger
	filter       *addrfilter.Rebuilder
	feed         chainfeed.Source
	pathBuilder  path.Builder
	onionBuilder onion.Builder
	submitter    txsubmit.Submitter
	signer       crypto.KeyPair
	emitter      events.Emitter
	logger       *slog.Logger
	metrics      *metrics.PoC

	cmds chan any
}

// Config bundles a Manager's collaborators.
type Config struct {
	KeyCache     *keycache.Cache
	Store        *store.Store
	Ledger       *ledger.Ledger
	Feed         chainfeed.Source
	PathBuilder  path.Builder
	OnionBuilder onion.Builder
	Submitter    txsubmit.Submitter
	Signer       crypto.KeyPair
	Emitter      events.Emitter
	Logger       *slog.Logger
	Metrics      *metrics.PoC
}

// New constructs a Manager. Call Run to start the actor loop.
func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	return &Manager{
		keyCache:     cfg.KeyCache,
		store:        cfg.Store,
		ledger:       cfg.Ledger,
		filter:       addrfilter.NewRebuilder(cfg.Feed),
		feed:         cfg.Feed,
		pathBuilder:  cfg.PathBuilder,
		onionBuilder: cfg.OnionBuilder,
		submitter:    cfg.Submitter,
		signer:       cfg.Signer,
		emitter:      emitter,
		logger:       logger.With(slog.String("component", "poc_manager")),
		metrics:      cfg.Metrics,
		cmds:         make(chan any, 256),
	}
}

type checkTargetCmd struct {
	challengee   []byte
	blockHash    [32]byte
	onionKeyHash [32]byte
	reply        chan checkTargetReply
}

type checkTargetReply struct {
	match bool
	onion []byte
	err   error
}

type activePoCsCmd struct {
	reply chan []*store.LocalPoC
}

type receiptCmd struct {
	onionKeyHash [32]byte
	receipt      store.Receipt
	peer         string
	peerAddr     string
}

type witnessCmd struct {
	onionKeyHash [32]byte
	witness      store.Witness
	peer         string
	peerAddr     string
}

type blockCmd struct {
	block chainfeed.Block
	sync  bool
}

// Run attaches to the block event source and drives the actor loop until
// ctx is canceled. If the chain is not yet available, bootstrap reschedules
// every 500ms (spec.md §4.5, trigger "init").
func (m *Manager) Run(ctx context.Context) {
	blocks := m.bootstrap(ctx)
	if blocks == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case block, ok := <-blocks:
			if !ok {
				return
			}
			m.handleBlock(block, false)
		case cmd := <-m.cmds:
			m.dispatch(cmd)
		}
	}
}

func (m *Manager) bootstrap(ctx context.Context) <-chan chainfeed.Block {
	for {
		if m.feed == nil {
			m.logger.Info("waiting for chain event source")
		} else if blocks, err := m.feed.Subscribe(ctx); err == nil {
			return blocks
		} else {
			m.logger.Info("bootstrap: chain not yet available, retrying", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(bootstrapRetryBackoff):
		}
	}
}

func (m *Manager) dispatch(cmd any) {
	switch c := cmd.(type) {
	case checkTargetCmd:
		match, o, err := m.checkTarget(c.challengee, c.blockHash, c.onionKeyHash)
		c.reply <- checkTargetReply{match: match, onion: o, err: err}
	case activePoCsCmd:
		c.reply <- m.activePoCs()
	case receiptCmd:
		m.ingestReceipt(c.onionKeyHash, c.receipt, c.peer, c.peerAddr)
	case witnessCmd:
		m.ingestWitness(c.onionKeyHash, c.witness, c.peer, c.peerAddr)
	case blockCmd:
		m.handleBlock(c.block, c.sync)
	}
}

// BlockAdded feeds a block event directly into the actor, used by callers
// that own their own subscription to the feed (e.g. a daemon wiring a real
// node adapter ahead of Run's own bootstrap subscription).
func (m *Manager) BlockAdded(block chainfeed.Block, sync bool) {
	m.cmds <- blockCmd{block: block, sync: sync}
}

// CheckTarget answers spec.md §4.5's synchronous check_target query.
func (m *Manager) CheckTarget(challengee []byte, blockHash, onionKeyHash [32]byte) (bool, []byte, error) {
	reply := make(chan checkTargetReply, 1)
	m.cmds <- checkTargetCmd{challengee: challengee, blockHash: blockHash, onionKeyHash: onionKeyHash, reply: reply}
	r := <-reply
	return r.match, r.onion, r.err
}

// ActivePoCs answers spec.md §4.5's active_pocs query: a snapshot of every
// LocalPoC entry.
func (m *Manager) ActivePoCs() []*store.LocalPoC {
	reply := make(chan []*store.LocalPoC, 1)
	m.cmds <- activePoCsCmd{reply: reply}
	return <-reply
}

// Receipt submits an asynchronous receipt report (spec.md §4.5).
func (m *Manager) Receipt(onionKeyHash [32]byte, r store.Receipt, peer string, peerAddr string) {
	m.cmds <- receiptCmd{onionKeyHash: onionKeyHash, receipt: r, peer: peer, peerAddr: peerAddr}
}

// Witness submits an asynchronous witness report (spec.md §4.5).
func (m *Manager) Witness(onionKeyHash [32]byte, w store.Witness, peer string, peerAddr string) {
	m.cmds <- witnessCmd{onionKeyHash: onionKeyHash, witness: w, peer: peer, peerAddr: peerAddr}
}

func (m *Manager) emit(e events.Event) {
	if typed, ok := e.(interface{ Event() *types.Event }); ok {
		m.emitter.Emit(typed.Event())
		return
	}
}
