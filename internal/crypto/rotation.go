package crypto

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// RotationTrigger identifies why a rotation was requested (SPEC_FULL.md
// section 4.2: "Three triggers: scheduled, compromise-flagged
// (emergency), and policy-driven").
type RotationTrigger uint8

const (
	RotationScheduled RotationTrigger = iota
	RotationEmergency
	RotationPolicyDriven
)

func (t RotationTrigger) String() string {
	switch t {
	case RotationScheduled:
		return "scheduled"
	case RotationEmergency:
		return "emergency"
	case RotationPolicyDriven:
		return "policy-driven"
	default:
		return "unknown"
	}
}

// GraceWindow is how long a superseded session key version continues to
// decrypt inbound traffic after a non-emergency rotation (SPEC_FULL.md
// section 4.2 and the resolved Open Question in section 9).
const GraceWindow = time.Hour

// DefaultRotationSchedule is the routine rotation cadence.
const DefaultRotationSchedule = 90 * 24 * time.Hour

// EmergencyRotationDeadline bounds how quickly a compromise-flagged
// rotation must complete.
const EmergencyRotationDeadline = 30 * time.Minute

// SessionKeyRotator owns a session's current (and, during the grace
// window, previous) key version and runs the routine-rotation timer.
// Grounded on the teacher's auth.go AuthState: a small piece of
// mutex-guarded state advanced by both a background timer and explicit
// on-demand calls.
type SessionKeyRotator struct {
	mu       sync.Mutex
	dm       *DeviceMasterKey
	current  *SessionKey
	schedule time.Duration
	logger   *slog.Logger

	onRotated func(newVersion uint32, trigger RotationTrigger)
}

// NewSessionKeyRotator derives version 0 of the session key from dm and
// prepares the rotator. onRotated, if non-nil, is invoked after each
// successful rotation (the Session Orchestrator wires this to emit
// KeyRotated on the event bus).
func NewSessionKeyRotator(
	dm *DeviceMasterKey,
	schedule time.Duration,
	logger *slog.Logger,
	onRotated func(newVersion uint32, trigger RotationTrigger),
) (*SessionKeyRotator, error) {
	sk, err := DeriveSessionKey(dm, 0, nil)
	if err != nil {
		return nil, fmt.Errorf("initialize session key rotator: %w", err)
	}
	if schedule <= 0 {
		schedule = DefaultRotationSchedule
	}
	return &SessionKeyRotator{
		dm:        dm,
		current:   sk,
		schedule:  schedule,
		logger:    logger,
		onRotated: onRotated,
	}, nil
}

// Current returns the current session key.
func (r *SessionKeyRotator) Current() *SessionKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Rotate derives the next session key version. A scheduled or
// policy-driven rotation retains the previous version for GraceWindow
// so in-flight senders using the old version still decrypt. An
// emergency rotation skips the grace window and zeroizes the
// superseded key immediately (SPEC_FULL.md section 4.2: "A compromise
// flag skips the grace window").
func (r *SessionKeyRotator) Rotate(trigger RotationTrigger) (uint32, error) {
	r.mu.Lock()

	prevVersion := r.current.Version()
	nextVersion := prevVersion + 1

	var carryPrev *SessionKey
	if trigger != RotationEmergency {
		carryPrev = r.current
	}

	newKey, err := DeriveSessionKey(r.dm, nextVersion, carryPrev)
	if err != nil {
		r.mu.Unlock()
		return 0, fmt.Errorf("rotate session key (%s): %w", trigger, err)
	}

	old := r.current
	r.current = newKey

	if trigger == RotationEmergency {
		old.Zero()
	} else {
		// Grace window: the superseded key stays live as newKey's
		// "previous" until the window elapses; then both it and newKey's
		// copy of it are zeroed, so the old version stops decrypting.
		time.AfterFunc(GraceWindow, func() {
			old.Zero()
			newKey.mu.Lock()
			ZeroKey(&newKey.previous)
			newKey.hasPrev = false
			newKey.mu.Unlock()
		})
	}

	if r.logger != nil {
		r.logger.Info("session key rotated",
			slog.String("trigger", trigger.String()),
			slog.Uint64("version", uint64(nextVersion)))
	}

	// Unlock before invoking onRotated: the callback may call back into
	// Current(), which also takes r.mu, and r.mu is not reentrant.
	r.mu.Unlock()

	if r.onRotated != nil {
		r.onRotated(nextVersion, trigger)
	}

	return nextVersion, nil
}

// Run blocks, triggering a RotationScheduled rotation every r.schedule,
// until ctx is cancelled. This is the "Crypto rotation scheduler
// sleeping until the next scheduled rotation" suspension point named in
// SPEC_FULL.md section 5.
func (r *SessionKeyRotator) Run(ctx context.Context) {
	timer := time.NewTimer(r.schedule)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if _, err := r.Rotate(RotationScheduled); err != nil && r.logger != nil {
				r.logger.Error("scheduled rotation failed", slog.String("error", err.Error()))
			}
			timer.Reset(r.schedule)
		}
	}
}
