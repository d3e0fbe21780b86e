// Package ledger is this module's scoped view of the chain state the PoC
// challenge manager needs to read and mutate: populated hexes, the
// gateways within them, and the public PoC records every validator writes
// for every ephemeral key it sees land in a block. In a real deployment
// this package would be a thin adapter over the chain node's own state
// query interface (spec.md §6); here it is a complete, self-contained
// implementation so the module runs and tests end to end.
package ledger

import "covchain/config"

// GatewayMode mirrors the small set of operating modes a gateway can
// register under.
type GatewayMode string

const (
	ModeFull     GatewayMode = "full"
	ModeLight    GatewayMode = "light"
	ModeDataOnly GatewayMode = "dataonly"
)

// GatewayInfo is the subset of gateway registration data Target/Path
// Derivation needs: location (via its hex), capability, and recent
// challenge activity for HIP-17 interactivity filtering.
type GatewayInfo struct {
	PubKey           []byte
	Mode             GatewayMode
	HexID            uint64
	HasLocation      bool
	Challengee       bool
	LastPoCChallenge uint64
}

// Hex is an H3-style geospatial cell identifier together with the number
// of gateways registered inside it. The actual H3 indexing math is out of
// scope (spec.md §1) — IDs are opaque uint64s the ledger assigns.
type Hex struct {
	ID            uint64
	GatewayCount int
}

// PublicPoC is the public record every validator writes for every
// ephemeral key observed in a block, independent of who the challenger is.
type PublicPoC struct {
	OnionKeyHash [32]byte
	Challenger   []byte
	BlockHash    [32]byte
	StartHeight  uint64
}

// VarsSnapshot exposes the consensus-controlled PoC variables as of the
// ledger's current height.
type VarsSnapshot = config.Vars
