package session

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/honeylink/honeylink-core/internal/crypto"
)

// notifyChSize is the buffer size for the aggregated notification channel.
// Sized to absorb bursts of state changes across many sessions without
// blocking a session's own goroutine (SPEC_FULL.md section 4.1, "Event
// bus"). Grounded on internal/bfd/manager.go's notifyChSize=64 constant.
const notifyChSize = 64

// idempotencyWindow is how long a cached mutation result is replayed
// instead of re-executed (SPEC_FULL.md section 4.1: "within a 24-hour
// window, a repeated key returns the original result without
// re-executing").
const idempotencyWindow = 24 * time.Hour

var (
	// ErrSessionNotFound is returned by lookups with no matching session.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrDuplicatePeer is returned when a session already exists for a
	// peer identity that has not yet completed pairing or closed.
	ErrDuplicatePeer = errors.New("session: duplicate peer session")

	// ErrIdempotencyConflict is returned when an idempotency key is reused
	// with different request content (SPEC_FULL.md section 7, Idempotency
	// category: "duplicate idempotency key with mismatched content").
	ErrIdempotencyConflict = errors.New("session: idempotency key conflict")
)

// idempotencyEntry caches the outcome of a previously executed mutation
// keyed by an idempotency key, plus a content fingerprint so a replayed
// key with different request content is rejected rather than silently
// returning the wrong result.
type idempotencyEntry struct {
	contentHash string
	sessionID   uuid.UUID
	err         error
	recordedAt  time.Time
}

// sessionEntry pairs a live session with the cancel func that decouples
// its Run goroutine from the Manager's parent context, mirroring
// internal/bfd/manager.go's sessionEntry.
type sessionEntry struct {
	session *Session
	cancel  context.CancelFunc
}

// Manager owns every Session for this device, demultiplexes lookups by
// id and by peer identity, and fans out per-session notifications onto
// a single aggregated channel for the rest of the stack (QoS scheduler,
// policy engine, transport hot-swap). Grounded on internal/bfd/manager.go's
// Manager: same two-map lookup shape, same rawNotifyCh/publicNotifyCh
// fan-out, same context.WithCancel(context.WithoutCancel(ctx)) lifetime
// decoupling for session goroutines.
type Manager struct {
	mu             sync.RWMutex
	sessions       map[uuid.UUID]*sessionEntry
	sessionsByPeer map[string]*sessionEntry

	idempotency map[string]idempotencyEntry

	rawNotifyCh    chan Notification
	publicNotifyCh chan Notification

	rotatorSchedule time.Duration

	logger *slog.Logger
}

// NewManager constructs a Manager with empty session tables.
// rotatorSchedule configures the routine key-rotation interval every
// session's SessionKeyRotator is built with (SPEC_FULL.md section 3,
// default 90 days; 0 or a negative value selects
// crypto.DefaultRotationSchedule).
func NewManager(rotatorSchedule time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		sessions:        make(map[uuid.UUID]*sessionEntry),
		sessionsByPeer:  make(map[string]*sessionEntry),
		idempotency:     make(map[string]idempotencyEntry),
		rawNotifyCh:     make(chan Notification, notifyChSize),
		publicNotifyCh:  make(chan Notification, notifyChSize),
		rotatorSchedule: rotatorSchedule,
		logger:          logger.With(slog.String("component", "session.manager")),
	}
}

func peerKey(peerIdentity ed25519.PublicKey) string { return string(peerIdentity) }

// CreateSession allocates a new Session in StatePending for peerIdentity,
// deriving its SessionKeyRotator from dm, and starts its Run goroutine
// decoupled from ctx's lifetime. Returns ErrDuplicatePeer if a
// non-Closed session already exists for this peer.
//
// idempotencyKey is optional; when non-empty, a repeated call with the
// same key and peer identity returns the original session without
// re-executing, and a repeated key against a different peer identity
// fails with ErrIdempotencyConflict (SPEC_FULL.md section 4.1).
func (m *Manager) CreateSession(
	ctx context.Context,
	peerIdentity ed25519.PublicKey,
	dm *crypto.DeviceMasterKey,
	idempotencyKey string,
) (*Session, error) {
	contentHash := peerKey(peerIdentity)

	if idempotencyKey != "" {
		if sess, err, ok := m.replayIdempotent(idempotencyKey, contentHash); ok {
			return sess, err
		}
	}

	key := peerKey(peerIdentity)

	m.mu.Lock()
	if entry, exists := m.sessionsByPeer[key]; exists && entry.session.State() != StateClosed {
		m.mu.Unlock()
		return nil, fmt.Errorf("create session for peer: %w", ErrDuplicatePeer)
	}
	m.mu.Unlock()

	// sess is forward-declared so the rotator's onRotated closure can
	// reference it; this is safe because NewSessionKeyRotator never
	// invokes the callback during its own synchronous construction,
	// only later from Rotate/Run, by which point sess is assigned.
	var sess *Session
	rotator, err := crypto.NewSessionKeyRotator(dm, m.rotatorSchedule, m.logger, func(newVersion uint32, trigger crypto.RotationTrigger) {
		sess.onKeyRotated(newVersion, trigger)
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	sess = NewSession(id, peerIdentity, rotator, m.rawNotifyCh, m.logger)

	m.mu.Lock()
	if entry, exists := m.sessionsByPeer[key]; exists && entry.session.State() != StateClosed {
		m.mu.Unlock()
		return nil, fmt.Errorf("create session for peer: %w", ErrDuplicatePeer)
	}

	// Decouple the session goroutine's lifetime from ctx: cancelling the
	// caller's context (e.g. an inbound RPC's context) must not tear down
	// a session that is meant to outlive the request that created it.
	// Only DestroySession or the FSM driving itself to Closed ends it.
	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	entry := &sessionEntry{session: sess, cancel: cancel}
	m.sessions[sess.ID()] = entry
	m.sessionsByPeer[key] = entry
	m.mu.Unlock()

	go sess.Run(sessCtx)

	if idempotencyKey != "" {
		m.recordIdempotent(idempotencyKey, contentHash, sess, nil)
	}

	m.logger.Info("session created",
		slog.String("session_id", sess.ID().String()),
	)

	return sess, nil
}

// replayIdempotent looks up a previously recorded mutation outcome. ok is
// false when no entry exists (caller should proceed normally); when ok is
// true, the caller must return (sess, err) immediately without
// re-executing the mutation.
func (m *Manager) replayIdempotent(idempotencyKey, contentHash string) (*Session, error, bool) {
	m.mu.RLock()
	entry, exists := m.idempotency[idempotencyKey]
	m.mu.RUnlock()

	if !exists || time.Since(entry.recordedAt) > idempotencyWindow {
		return nil, nil, false
	}
	if entry.contentHash != contentHash {
		return nil, fmt.Errorf("create session: %w", ErrIdempotencyConflict), true
	}
	if entry.err != nil {
		return nil, entry.err, true
	}

	m.mu.RLock()
	sessEntry, ok := m.sessions[entry.sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("create session: %w", ErrSessionNotFound), true
	}
	return sessEntry.session, nil, true
}

func (m *Manager) recordIdempotent(idempotencyKey, contentHash string, sess *Session, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := idempotencyEntry{contentHash: contentHash, recordedAt: time.Now(), err: err}
	if sess != nil {
		entry.sessionID = sess.ID()
	}
	m.idempotency[idempotencyKey] = entry
}

// DestroySession cancels the session's Run goroutine and removes it from
// both lookup tables. Does not itself drive the FSM to Closed; callers
// that want a clean close should call Session.PeerDisconnect or
// Session.PolicyRevocation first so peers observe a SessionClosed
// notification before teardown.
func (m *Manager) DestroySession(id uuid.UUID) error {
	m.mu.Lock()
	entry, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("destroy session %s: %w", id, ErrSessionNotFound)
	}
	delete(m.sessions, id)
	delete(m.sessionsByPeer, peerKey(entry.session.PeerIdentity()))
	m.mu.Unlock()

	entry.cancel()
	return nil
}

// LookupByID returns the session with the given id.
func (m *Manager) LookupByID(id uuid.UUID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return entry.session, true
}

// LookupByPeer returns the session paired with the given peer identity.
func (m *Manager) LookupByPeer(peerIdentity ed25519.PublicKey) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.sessionsByPeer[peerKey(peerIdentity)]
	if !ok {
		return nil, false
	}
	return entry.session, true
}

// Sessions returns a snapshot slice of every live session. The slice is
// a fresh copy; callers may range over it without holding any lock.
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, entry := range m.sessions {
		out = append(out, entry.session)
	}
	return out
}

// RunDispatch forwards every notification from the raw per-session
// channel to the public channel exposed via Notifications(), dropping
// on a full public channel rather than blocking a session goroutine.
// Grounded on internal/bfd/manager.go's RunDispatch/rawNotifyCh/
// publicNotifyCh split.
func (m *Manager) RunDispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-m.rawNotifyCh:
			select {
			case m.publicNotifyCh <- n:
			default:
				m.logger.Warn("public notification channel full, dropping notification",
					slog.String("session_id", n.SessionID.String()),
					slog.Any("kind", n.Kind),
				)
			}
		}
	}
}

// Notifications returns the channel external consumers (QoS scheduler,
// policy engine, transport hot-swap) read session notifications from.
func (m *Manager) Notifications() <-chan Notification { return m.publicNotifyCh }

// Close cancels every session's Run goroutine. It does not drive any
// FSM to Closed or zeroize keys beyond what each session's own teardown
// already does on cancellation.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range m.sessions {
		entry.cancel()
	}
}
