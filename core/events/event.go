// Package events defines the structured events the Challenge Manager emits
// as it drives challenges through their lifecycle, and the narrow Emitter
// seam downstream subscribers (RPC, indexers) attach to.
package events

import "covchain/core/types"

// Event represents a structured state change emitted by the manager.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers.
type Emitter interface {
	Emit(*types.Event)
}

// NoopEmitter discards every event. It is the default for components that
// don't need to expose events, such as derivation workers run in tests.
type NoopEmitter struct{}

// Emit implements Emitter.
func (NoopEmitter) Emit(*types.Event) {}
