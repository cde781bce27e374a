package session

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/honeylink/honeylink-core/internal/crypto"
	"github.com/honeylink/honeylink-core/internal/qos"
	"github.com/honeylink/honeylink-core/internal/transport"
)

// Default lifetime tuning (SPEC_FULL.md section 4.1, "Session").
const (
	DefaultTTL            = 12 * time.Hour
	DefaultSlidingRenewal = 30 * time.Minute
	DefaultIdleTimeout    = 30 * time.Minute
	PairingTimeout        = 30 * time.Second
)

// Sentinel errors surfaced to callers (SPEC_FULL.md section 7, State
// category: "operation not legal in current state").
var (
	ErrSessionNotActive = errors.New("session: not active")
	ErrSessionClosed    = errors.New("session: closed")

	// ErrStreamNotFound is returned by Send when the stream id does not
	// name a currently open stream.
	ErrStreamNotFound = errors.New("session: stream not found")

	// ErrPayloadTooLarge is returned by Send when payload exceeds the
	// 1 MiB per-packet ceiling (spec.md section 4.1, send()).
	ErrPayloadTooLarge = errors.New("session: payload exceeds 1 MiB limit")
)

// Ack acknowledges a Send call that reached the QoS Scheduler
// (spec.md section 4.1: "send(session, stream, payload) -> Ack").
type Ack struct {
	StreamID uint8
	Sequence uint64
}

// NotificationKind identifies an event bus notification
// (SPEC_FULL.md section 4.1, "Event bus").
type NotificationKind uint8

const (
	NotificationSessionEstablished NotificationKind = iota
	NotificationStateChanged
	NotificationStreamOpened
	NotificationStreamClosed
	NotificationKeyRotated
	NotificationSessionClosed
)

// Notification is emitted to the session's notifyCh on every
// FSM-driven event. Grounded on internal/bfd/session.go's notifyCh
// chan<- StateChange pattern, generalized to the richer event set
// SPEC_FULL.md section 4.1 names.
type Notification struct {
	Kind      NotificationKind
	SessionID uuid.UUID
	OldState  State
	NewState  State
	StreamID  uint8
	KeyVersion uint32
	Reason    string
	At        time.Time
}

// Stream is a single open stream within a session
// (SPEC_FULL.md section 4.1, "set of open streams"). SendKey/RecvKey
// are re-derived on every session-key rotation (section 4.2); they are
// held behind atomic.Pointer so Send can read the live key without
// locking Session.mu while onKeyRotated swaps them out from another
// goroutine.
type Stream struct {
	ID       uint8
	Priority uint8
	OpenedAt time.Time

	sendKey atomic.Pointer[crypto.StreamKey]
	recvKey atomic.Pointer[crypto.StreamKey]
}

// SendKey returns the stream's current send-direction key.
func (st *Stream) SendKey() *crypto.StreamKey { return st.sendKey.Load() }

// RecvKey returns the stream's current receive-direction key.
func (st *Stream) RecvKey() *crypto.StreamKey { return st.recvKey.Load() }

// Session is an authenticated, time-bounded connection to exactly one
// peer (SPEC_FULL.md section 4.1). Grounded on internal/bfd/session.go's
// shape: atomic fields for hot-path reads, a notifyCh for event bus
// delivery, and a Run/runLoop goroutine driving timers, generalized
// from BFD's tx/detect timers to HoneyLink's TTL/idle timers.
type Session struct {
	id           uuid.UUID
	state        atomic.Uint32
	peerIdentity ed25519.PublicKey
	profileID    string

	createdAt time.Time
	ttl       time.Duration
	idleTout  time.Duration
	expiresAt atomic.Int64 // unix nano
	lastIO    atomic.Int64 // unix nano

	mu        sync.Mutex
	streams   map[uint8]*Stream
	streamIDs *StreamIDAllocator

	rotator   *crypto.SessionKeyRotator
	scheduler atomic.Pointer[qos.Scheduler]

	stateTransitions atomic.Uint64
	lastStateChange  atomic.Int64

	notifyCh chan<- Notification
	logger   *slog.Logger
}

// NewSession constructs a session in StatePending. The caller must
// still drive it through the pairing handshake via Accept/Reject.
func NewSession(
	id uuid.UUID,
	peerIdentity ed25519.PublicKey,
	rotator *crypto.SessionKeyRotator,
	notifyCh chan<- Notification,
	logger *slog.Logger,
) *Session {
	s := &Session{
		id:           id,
		peerIdentity: peerIdentity,
		createdAt:    time.Now(),
		ttl:          DefaultTTL,
		idleTout:     DefaultIdleTimeout,
		streams:      make(map[uint8]*Stream),
		streamIDs:    NewStreamIDAllocator(),
		rotator:      rotator,
		notifyCh:     notifyCh,
		logger:       logger.With(slog.String("component", "session"), slog.String("session_id", id.String())),
	}
	s.state.Store(uint32(StatePending))
	return s
}

func (s *Session) ID() uuid.UUID { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) PeerIdentity() ed25519.PublicKey { return s.peerIdentity }

func (s *Session) ExpiresAt() time.Time {
	ns := s.expiresAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (s *Session) StateTransitions() uint64 { return s.stateTransitions.Load() }

// AttachScheduler wires a running qos.Scheduler into the session so
// Send has somewhere to enqueue outbound packets (SPEC_FULL.md section
// 4.1, send()). Callers construct and start the scheduler's Run
// goroutine themselves (cmd/honeylinkd does this per session) and call
// AttachScheduler once it is ready.
func (s *Session) AttachScheduler(sched *qos.Scheduler) {
	s.scheduler.Store(sched)
}

// Accept drives the FSM from Pending to Paired after a successful
// Confirm message (SPEC_FULL.md section 6, pairing exchange).
func (s *Session) Accept() error {
	return s.applyEvent(EventPairAccept, "")
}

// Reject drives the FSM from Pending to Closed, zeroizing ephemeral
// handshake secrets.
func (s *Session) Reject(reason string) error {
	return s.applyEvent(EventPairReject, reason)
}

// Activate drives the FSM from Paired to Active, arming the TTL timer.
func (s *Session) Activate() error {
	return s.applyEvent(EventActivate, "")
}

// OpenStream allocates the smallest free stream id for an Active
// session and derives its per-direction stream keys from the current
// session key (SPEC_FULL.md section 4.1, "open_stream"; section 3,
// "derived per (session, stream_id, direction)").
func (s *Session) OpenStream(priority uint8) (uint8, error) {
	if s.State() != StateActive {
		return 0, fmt.Errorf("open stream: %w", ErrSessionNotActive)
	}

	id, err := s.streamIDs.Allocate()
	if err != nil {
		return 0, fmt.Errorf("open stream: %w", err)
	}

	sendKey, recvKey, err := s.deriveStreamKeys(id)
	if err != nil {
		s.streamIDs.Release(id)
		return 0, fmt.Errorf("open stream: %w", err)
	}

	stream := &Stream{ID: id, Priority: priority, OpenedAt: time.Now()}
	stream.sendKey.Store(sendKey)
	stream.recvKey.Store(recvKey)

	s.mu.Lock()
	s.streams[id] = stream
	s.mu.Unlock()

	s.touchActivity()
	result := ApplyEvent(s.State(), EventOpenStream)
	s.executeActions(result, "")
	s.notify(NotificationStreamOpened, result.OldState, result.NewState, id, 0, "")

	return id, nil
}

// deriveStreamKeys derives a fresh send/recv key pair for a new stream
// under the session's current session key.
func (s *Session) deriveStreamKeys(id uint8) (send, recv *crypto.StreamKey, err error) {
	if s.rotator == nil {
		return nil, nil, fmt.Errorf("derive stream keys: %w", ErrSessionNotActive)
	}
	current := s.rotator.Current()
	version := current.Version()

	send, err = crypto.DeriveStreamKey(current, id, "send", version, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("derive send key: %w", err)
	}
	recv, err = crypto.DeriveStreamKey(current, id, "recv", version, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("derive recv key: %w", err)
	}
	return send, recv, nil
}

// CloseStream frees a stream id and zeroizes its stream keys
// (SPEC_FULL.md section 4.1, "Cancellation"). Packets of the stream
// already enqueued on the QoS Scheduler are not removed and are still
// dequeued.
func (s *Session) CloseStream(id uint8) error {
	s.mu.Lock()
	stream, ok := s.streams[id]
	if ok {
		delete(s.streams, id)
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}

	if k := stream.sendKey.Load(); k != nil {
		k.Zero()
	}
	if k := stream.recvKey.Load(); k != nil {
		k.Zero()
	}

	s.streamIDs.Release(id)
	result := ApplyEvent(s.State(), EventCloseStream)
	s.executeActions(result, "")
	s.notify(NotificationStreamClosed, result.OldState, result.NewState, id, 0, "")

	return nil
}

// Send encrypts payload under the stream's current send key and
// enqueues it on the session's QoS Scheduler (SPEC_FULL.md section
// 4.1, send()). A Suspended session resumes to Active on send, same as
// Touch.
func (s *Session) Send(ctx context.Context, streamID uint8, payload []byte) (Ack, error) {
	if s.State() == StateClosed {
		return Ack{}, fmt.Errorf("send: %w", ErrSessionClosed)
	}
	if len(payload) > crypto.MaxPlaintextSize {
		return Ack{}, fmt.Errorf("send: %w", ErrPayloadTooLarge)
	}

	s.mu.Lock()
	stream, ok := s.streams[streamID]
	s.mu.Unlock()
	if !ok {
		return Ack{}, fmt.Errorf("send: %w", ErrStreamNotFound)
	}

	sched := s.scheduler.Load()
	if sched == nil {
		return Ack{}, fmt.Errorf("send: %w", ErrSessionNotActive)
	}

	sendKey := stream.SendKey()
	frame, seq, err := sendKey.Encrypt(payload, sendAAD(s.id, streamID))
	if err != nil {
		return Ack{}, fmt.Errorf("send: %w", err)
	}

	s.Touch()

	item := qos.Item{
		Packet: transport.Packet{
			Header: transport.Header{
				SessionID:  s.id,
				StreamID:   streamID,
				KeyVersion: sendKey.Version(),
				Sequence:   seq,
				Priority:   stream.Priority,
			},
			Frame: frame,
		},
		Size: transport.HeaderSize + len(frame),
	}

	if err := sched.Enqueue(ctx, item); err != nil {
		return Ack{}, fmt.Errorf("send: %w", err)
	}

	return Ack{StreamID: streamID, Sequence: seq}, nil
}

// sendAAD binds each encrypted frame to its session and stream,
// preventing ciphertext from one stream being replayed onto another.
func sendAAD(sessionID uuid.UUID, streamID uint8) []byte {
	aad := make([]byte, 0, len(sessionID)+1)
	aad = append(aad, sessionID[:]...)
	aad = append(aad, streamID)
	return aad
}

// RotateKey rotates the session key on demand (SPEC_FULL.md section
// 4.1, rotate_session_key). The rotator's onRotated callback, wired in
// NewSessionKeyRotator by the caller that constructs this Session (see
// manager.go), funnels both this on-demand path and the scheduled
// rotator.Run ticker through onKeyRotated.
func (s *Session) RotateKey(trigger crypto.RotationTrigger) (uint32, error) {
	if s.rotator == nil {
		return 0, fmt.Errorf("rotate key: %w", ErrSessionNotActive)
	}
	version, err := s.rotator.Rotate(trigger)
	if err != nil {
		return 0, fmt.Errorf("rotate key: %w", err)
	}
	return version, nil
}

// onKeyRotated is the rotator's onRotated callback: it re-derives every
// open stream's keys under the new session key and emits
// NotificationKeyRotated (SPEC_FULL.md section 4.1's event bus list).
func (s *Session) onKeyRotated(newVersion uint32, trigger crypto.RotationTrigger) {
	s.rotateStreamKeys(newVersion, trigger)
	s.notify(NotificationKeyRotated, s.State(), s.State(), 0, newVersion, trigger.String())
}

func (s *Session) rotateStreamKeys(newVersion uint32, trigger crypto.RotationTrigger) {
	s.mu.Lock()
	streams := make([]*Stream, 0, len(s.streams))
	for _, st := range s.streams {
		streams = append(streams, st)
	}
	s.mu.Unlock()

	sessionKey := s.rotator.Current()
	for _, st := range streams {
		s.rotateOneStreamKey(st, sessionKey, newVersion, trigger)
	}
}

// rotateOneStreamKey derives the next send/recv key pair for one
// stream, carrying the superseded pair forward as "previous" unless
// trigger is RotationEmergency (mirrors SessionKeyRotator.Rotate's
// carryPrev/zero-immediately split).
func (s *Session) rotateOneStreamKey(st *Stream, sessionKey *crypto.SessionKey, newVersion uint32, trigger crypto.RotationTrigger) {
	var carrySend, carryRecv *crypto.StreamKey
	if trigger != crypto.RotationEmergency {
		carrySend, carryRecv = st.SendKey(), st.RecvKey()
	}

	newSend, err := crypto.DeriveStreamKey(sessionKey, st.ID, "send", newVersion, carrySend)
	if err != nil {
		s.logger.Error("stream send-key rotation failed", slog.Int("stream_id", int(st.ID)), slog.String("error", err.Error()))
		return
	}
	newRecv, err := crypto.DeriveStreamKey(sessionKey, st.ID, "recv", newVersion, carryRecv)
	if err != nil {
		s.logger.Error("stream recv-key rotation failed", slog.Int("stream_id", int(st.ID)), slog.String("error", err.Error()))
		return
	}

	oldSend, oldRecv := st.SendKey(), st.RecvKey()
	st.sendKey.Store(newSend)
	st.recvKey.Store(newRecv)

	if trigger == crypto.RotationEmergency {
		oldSend.Zero()
		oldRecv.Zero()
		return
	}
	zeroStreamKeyAfterGrace(oldSend)
	zeroStreamKeyAfterGrace(oldRecv)
}

// zeroStreamKeyAfterGrace mirrors SessionKeyRotator.Rotate's deferred
// zeroization of a superseded key once it falls outside GraceWindow.
func zeroStreamKeyAfterGrace(k *crypto.StreamKey) {
	if k == nil {
		return
	}
	time.AfterFunc(crypto.GraceWindow, k.Zero)
}

// Touch resets the sliding-renewal window on stream I/O, resuming a
// Suspended session (SPEC_FULL.md section 4.1: "Suspended + any stream
// I/O -> Active").
func (s *Session) Touch() {
	s.touchActivity()
	if s.State() == StateSuspended {
		_ = s.applyEvent(EventStreamIO, "")
	}
}

func (s *Session) touchActivity() {
	s.lastIO.Store(time.Now().UnixNano())
}

// PeerDisconnect drives the session to Closed on link loss with no
// hot-swap candidate, or an explicit peer-initiated close.
func (s *Session) PeerDisconnect(reason string) error {
	return s.applyEvent(EventPeerDisconnect, reason)
}

// PolicyRevocation drives the session to Closed when the Policy Engine
// revokes its active profile.
func (s *Session) PolicyRevocation(reason string) error {
	return s.applyEvent(EventPolicyRevocation, reason)
}

// applyEvent applies an FSM event under mu, executes its actions, and
// notifies the event bus. mu is held only for the state+bookkeeping
// mutation, not for notification delivery, matching the teacher's
// pattern of never blocking the session goroutine on a slow consumer.
func (s *Session) applyEvent(ev Event, reason string) error {
	if s.State() == StateClosed {
		return fmt.Errorf("apply %s: %w", ev, ErrSessionClosed)
	}

	result := ApplyEvent(s.State(), ev)
	if !result.Changed && len(result.Actions) == 0 {
		return nil
	}

	s.state.Store(uint32(result.NewState))
	s.stateTransitions.Add(1)
	s.lastStateChange.Store(time.Now().UnixNano())

	s.executeActions(result, reason)

	kind := NotificationStateChanged
	switch ev {
	case EventPairAccept:
		kind = NotificationSessionEstablished
	case EventPairReject, EventPairTimeout, EventTTLExpiry, EventPeerDisconnect, EventPolicyRevocation:
		kind = NotificationSessionClosed
	}
	s.notify(kind, result.OldState, result.NewState, 0, 0, reason)

	return nil
}

// executeActions runs the side effects ApplyEvent returned. Grounded
// on internal/bfd/session.go's executeFSMActions/executeAction
// decomposition.
func (s *Session) executeActions(result FSMResult, reason string) {
	for _, action := range result.Actions {
		s.executeAction(action, reason)
	}
}

func (s *Session) executeAction(action Action, reason string) {
	switch action {
	case ActionArmTTLTimer:
		s.expiresAt.Store(time.Now().Add(s.ttl).UnixNano())
		s.touchActivity()
	case ActionResetSlidingTimer:
		s.touchActivity()
	case ActionZeroizeScopedKeys:
		if s.rotator != nil {
			s.rotator.Current().Zero()
		}
		s.zeroAllStreamKeys()
	case ActionZeroEphemeralSecrets:
		// Ephemeral ECDH scalars belong to the pairing handshake, which
		// owns and zeroizes its own key material directly; nothing to
		// do at the session level beyond logging the rejection.
	case ActionAllocStreamID, ActionFreeStreamID,
		ActionEmitSessionEstablished, ActionEmitStateChanged, ActionEmitSessionClosed:
		// Handled by the caller (OpenStream/CloseStream) or by notify
		// below; listed for completeness against fsmTable's actions.
	case ActionStopQoSDequeue:
		// No effect: the attached qos.Scheduler has no pause operation, so
		// it keeps dequeuing while the session is Suspended.
	}

	if reason != "" {
		s.logger.Info("session action", slog.String("action", action.String()), slog.String("reason", reason))
	}
}

// zeroAllStreamKeys zeroizes every open stream's keys, run on
// ActionZeroizeScopedKeys (TTL expiry, disconnect, policy revocation).
func (s *Session) zeroAllStreamKeys() {
	s.mu.Lock()
	streams := make([]*Stream, 0, len(s.streams))
	for _, st := range s.streams {
		streams = append(streams, st)
	}
	s.mu.Unlock()

	for _, st := range streams {
		if k := st.SendKey(); k != nil {
			k.Zero()
		}
		if k := st.RecvKey(); k != nil {
			k.Zero()
		}
	}
}

func (s *Session) notify(kind NotificationKind, oldState, newState State, streamID uint8, keyVersion uint32, reason string) {
	if s.notifyCh == nil {
		return
	}
	n := Notification{
		Kind:       kind,
		SessionID:  s.id,
		OldState:   oldState,
		NewState:   newState,
		StreamID:   streamID,
		KeyVersion: keyVersion,
		Reason:     reason,
		At:         time.Now(),
	}
	select {
	case s.notifyCh <- n:
	default:
		s.logger.Warn("dropped session notification: consumer channel full", slog.Any("kind", kind))
	}
}

// Run drives the session's TTL and idle timers until ctx is cancelled
// or the session is closed. Grounded on internal/bfd/session.go's
// Run/runLoop separation, generalized from BFD's tx/detect timers to
// HoneyLink's TTL-expiry and idle-to-Suspended timers.
func (s *Session) Run(ctx context.Context) {
	ttlCheck := time.NewTicker(time.Minute)
	defer ttlCheck.Stop()

	idleCheck := time.NewTicker(time.Minute)
	defer idleCheck.Stop()

	if s.rotator != nil {
		go s.rotator.Run(ctx)
	}

	s.logger.Info("session run loop started", slog.String("state", s.State().String()))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session run loop stopped")
			return

		case <-ttlCheck.C:
			s.checkTTL()

		case <-idleCheck.C:
			s.checkIdle()
		}
	}
}

func (s *Session) checkTTL() {
	state := s.State()
	if state != StateActive && state != StateSuspended {
		return
	}
	expires := s.ExpiresAt()
	if expires.IsZero() || time.Now().Before(expires) {
		return
	}
	_ = s.applyEvent(EventTTLExpiry, "ttl expired")
}

func (s *Session) checkIdle() {
	if s.State() != StateActive {
		return
	}
	last := s.lastIO.Load()
	if last == 0 || time.Since(time.Unix(0, last)) < s.idleTout {
		return
	}
	_ = s.applyEvent(EventIdleTimeout, "idle timeout")
}
