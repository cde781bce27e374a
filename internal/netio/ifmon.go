package netio

import (
	"context"
	"log/slog"
)

// -------------------------------------------------------------------------
// Link event monitor — push-driven adapter degradation signals
// -------------------------------------------------------------------------

// LinkEvent reports a sudden change in an adapter's reachability,
// generalized from the teacher's interface up/down model to
// HoneyLink's per-adapter link health (SPEC_FULL.md section 4.3): a
// native radio driver can push a "lost" event far faster than the hot
// swap registry's 5-second poll would notice it.
type LinkEvent struct {
	// AdapterName matches transport.PhysicalAdapter.Name().
	AdapterName string

	// Up is true when the link has just become reachable again, false
	// when it has just dropped out.
	Up bool
}

// LinkEventMonitor watches for adapter-level link events pushed by the
// adapter's own IPC channel (rather than sampled by polling) and emits
// them as they occur.
//
// Implementations may subscribe to a platform-specific IPC notification
// channel for the adapter in question. The interface is kept minimal so
// that the hot swap registry can react to a dropped link immediately,
// without waiting for its next MonitorInterval tick.
type LinkEventMonitor interface {
	// Run starts monitoring and blocks until ctx is cancelled. Events
	// are sent to the channel returned by Events(). Run must be called
	// at most once.
	Run(ctx context.Context) error

	// Events returns a read-only channel of link events. The channel
	// is closed when Run returns.
	Events() <-chan LinkEvent

	// Close releases any resources held by the monitor. If Run is
	// still active, the caller should cancel the context first.
	Close() error
}

// -------------------------------------------------------------------------
// StubLinkEventMonitor — no-op implementation
// -------------------------------------------------------------------------

// StubLinkEventMonitor is a no-op LinkEventMonitor used for adapters
// whose IPC channel does not support push notifications; hot swap
// falls back to the registry's own 5-second poll for those adapters.
type StubLinkEventMonitor struct {
	events chan LinkEvent
	logger *slog.Logger
}

// NewStubLinkEventMonitor creates a no-op link event monitor.
func NewStubLinkEventMonitor(logger *slog.Logger) *StubLinkEventMonitor {
	return &StubLinkEventMonitor{
		events: make(chan LinkEvent, 16),
		logger: logger.With(slog.String("component", "netio.linkmon.stub")),
	}
}

// Run blocks until ctx is cancelled, emitting nothing.
func (m *StubLinkEventMonitor) Run(ctx context.Context) error {
	m.logger.Info("stub link event monitor started (no-op)")
	<-ctx.Done()
	close(m.events)
	m.logger.Info("stub link event monitor stopped")
	return nil
}

// Events returns the (always empty) event channel.
func (m *StubLinkEventMonitor) Events() <-chan LinkEvent {
	return m.events
}

// Close is a no-op for the stub monitor.
func (m *StubLinkEventMonitor) Close() error {
	return nil
}
