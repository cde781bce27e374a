// Package metrics defines the instrumentation hook components call into
// on session/packet/rotation events. Telemetry exporters are explicitly
// out of scope (SPEC_FULL.md section 1), so this package never exposes
// an HTTP endpoint or wires a metrics backend — it only defines the
// Reporter shape call sites depend on and a no-op default, generalized
// from the teacher's internal/metrics/collector.go Collector method set
// (renamed from BFD's session/packet/state-transition/auth-failure
// events to HoneyLink's).
package metrics

import "github.com/google/uuid"

// Reporter receives session, packet, and policy lifecycle events for
// whichever observability backend a deployment wires in. HoneyLink
// itself never implements more than NopReporter; a concrete backend
// (e.g. a Prometheus exporter) is something a caller supplies at
// construction, never something this module parses configuration for
// or starts a listener on.
type Reporter interface {
	// RegisterSession is called when a session becomes Active.
	RegisterSession(sessionID uuid.UUID)

	// UnregisterSession is called when a session reaches Closed.
	UnregisterSession(sessionID uuid.UUID)

	// IncPacketsSent/Received/Dropped are called per packet processed by
	// the QoS Scheduler or Transport.
	IncPacketsSent(sessionID uuid.UUID)
	IncPacketsReceived(sessionID uuid.UUID)
	IncPacketsDropped(sessionID uuid.UUID)

	// RecordStateTransition is called on every FSM transition
	// (generalized from the teacher's BFD Up/Down transition counter to
	// HoneyLink's Pending/Paired/Active/Suspended/Closed machine).
	RecordStateTransition(sessionID uuid.UUID, from, to string)

	// IncAuthFailures is called on a handshake MAC mismatch or signature
	// verification failure.
	IncAuthFailures(sessionID uuid.UUID)

	// IncKeyRotations is called on each completed key rotation
	// (routine or emergency).
	IncKeyRotations(sessionID uuid.UUID, scope string)
}

// NopReporter implements Reporter with no-ops. It is the default when a
// caller does not supply one.
type NopReporter struct{}

var _ Reporter = NopReporter{}

func (NopReporter) RegisterSession(uuid.UUID)                 {}
func (NopReporter) UnregisterSession(uuid.UUID)                {}
func (NopReporter) IncPacketsSent(uuid.UUID)                   {}
func (NopReporter) IncPacketsReceived(uuid.UUID)               {}
func (NopReporter) IncPacketsDropped(uuid.UUID)                {}
func (NopReporter) RecordStateTransition(uuid.UUID, string, string) {}
func (NopReporter) IncAuthFailures(uuid.UUID)                  {}
func (NopReporter) IncKeyRotations(uuid.UUID, string)          {}
