package config

// Vars is the snapshot of consensus-controlled PoC chain variables the
// Manager and Derivation packages consume. It mirrors spec.md §6's
// "chain variables consumed" list.
type Vars struct {
	AddrHashByteCount        uint32
	ChallengeInterval        uint64
	TargetPoolSize           uint32
	TargetHexParentRes       uint32
	TargetProbRandomnessWt   uint32
	WitnessConsiderationLimit uint32
	Hip17InteractivityBlocks uint64
	ActivityFilterEnabled    bool
	PerHopMaxWitnesses       int
	Version                  uint32
}

// DefaultVars returns the variable set a freshly initialized ledger exposes
// before any governance proposal has overridden them, matching the defaults
// the original validator ships. This keeps the module runnable against an
// empty ledger rather than failing closed.
func DefaultVars() Vars {
	return Vars{
		AddrHashByteCount:         8,
		ChallengeInterval:         30,
		TargetPoolSize:            10,
		TargetHexParentRes:        5,
		TargetProbRandomnessWt:    1,
		WitnessConsiderationLimit: 1000,
		Hip17InteractivityBlocks:  30 * 60 * 24, // ~24h at 30 blocks/min
		ActivityFilterEnabled:     false,
		PerHopMaxWitnesses:        5,
		Version:                  11,
	}
}

// AddrHashFilterEnabled reports whether both variables the Address-Hash
// Filter needs (byte count, challenge interval) are configured.
func (v Vars) AddrHashFilterEnabled() bool {
	return v.AddrHashByteCount > 0 && v.ChallengeInterval > 0
}

// ReceiptsV1Enabled reports whether the chain has activated the PoC
// receipts v1 transaction format (spec.md §6: "gated by poc_version >= 10").
func (v Vars) ReceiptsV1Enabled() bool {
	return v.Version >= 10
}
