// Package eventbus provides a generic, in-process publish/subscribe bus
// for cross-subsystem events (SPEC_FULL.md section 6: SessionEstablished,
// StateChanged, StreamOpened/Closed, KeyRotated, SessionClosed,
// PolicyUpdated, AdapterSwitched).
//
// Bus[T] generalizes internal/bfd/manager.go's rawNotifyCh/publicNotifyCh
// pair: every subscriber gets its own bounded channel, and a full
// subscriber channel drops its oldest queued event rather than the new
// one, so a slow consumer loses history instead of blocking every
// publisher or silently losing the most recent state.
package eventbus
