// Package policy implements the Policy Engine (SPEC_FULL.md section
// 4.5): local QoS profile storage, signed profile validation, versioned
// policy updates broadcast over the event bus, and last-known-good
// rollback.
//
// A Profile bundles the QoS Scheduler's tunable parameters (bandwidth
// band shares, max queue depth, FEC strategy, latency target) under a
// signed, SemVer-versioned envelope. Engine persists profiles through
// internal/store and notifies subscribers of PolicyUpdated events
// through internal/eventbus; the Session Orchestrator (or any other
// consumer) applies those updates to a live internal/qos.Scheduler via
// its ApplyProfile method.
package policy
