// Package session implements HoneyLink's Session Orchestrator
// (SPEC_FULL.md section 4.1): the pairing handshake, session state
// machine, stream lifecycle, and key-rotation trigger wiring.
package session

// This file implements the session state machine (SPEC_FULL.md section
// 4.1, "State machine"). Grounded on internal/bfd/fsm.go's
// table-driven pure-function design: the FSM is a pure function over a
// transition table, with no Session dependency, so it stays trivially
// testable against the state table in the spec.
//
// State diagram (SPEC_FULL.md section 4.1):
//
//	Pending --pair_accept--> Paired --activate()--> Active
//	Pending --pair_reject/timeout--> Closed
//	Active --open_stream/close_stream--> Active (self-loop)
//	Active --idle>30m--> Suspended
//	Suspended --stream I/O--> Active
//	Active/Suspended --TTL expiry--> Closed
//	Active/Suspended --peer disconnect/policy revocation--> Closed
//
// Closed is terminal: a session id is never reused (SPEC_FULL.md
// section 4.1, "A session in Closed state never re-enters any other
// state").

// State is a session's position in its lifecycle (SPEC_FULL.md section
// 4.1, "Session").
type State uint8

const (
	StatePending State = iota
	StatePaired
	StateActive
	StateSuspended
	StateClosed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StatePaired:
		return "Paired"
	case StateActive:
		return "Active"
	case StateSuspended:
		return "Suspended"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Event is a session FSM event.
type Event uint8

const (
	// EventPairAccept is the event for a successful pairing handshake
	// (Confirm message validated).
	EventPairAccept Event = iota

	// EventPairReject is the event for a Reject message or a
	// protocol-violating handshake.
	EventPairReject

	// EventPairTimeout is the event for the 30-second pairing deadline
	// expiring without a Confirm.
	EventPairTimeout

	// EventActivate is the event for the caller invoking activate()
	// on a Paired session.
	EventActivate

	// EventOpenStream is the event for opening a new stream on an
	// Active session.
	EventOpenStream

	// EventCloseStream is the event for closing a stream on an Active
	// session.
	EventCloseStream

	// EventIdleTimeout is the event for 30 minutes elapsing without
	// activity on an Active session.
	EventIdleTimeout

	// EventStreamIO is the event for any stream send/receive activity,
	// which resumes a Suspended session.
	EventStreamIO

	// EventTTLExpiry is the event for the session's 12-hour TTL
	// elapsing.
	EventTTLExpiry

	// EventPeerDisconnect is the event for detecting the peer is
	// unreachable (link loss with no hot-swap candidate, or an
	// explicit peer-initiated close).
	EventPeerDisconnect

	// EventPolicyRevocation is the event for the Policy Engine
	// revoking the session's active profile.
	EventPolicyRevocation
)

// String returns the human-readable name of the event.
func (e Event) String() string {
	switch e {
	case EventPairAccept:
		return "PairAccept"
	case EventPairReject:
		return "PairReject"
	case EventPairTimeout:
		return "PairTimeout"
	case EventActivate:
		return "Activate"
	case EventOpenStream:
		return "OpenStream"
	case EventCloseStream:
		return "CloseStream"
	case EventIdleTimeout:
		return "IdleTimeout"
	case EventStreamIO:
		return "StreamIO"
	case EventTTLExpiry:
		return "TTLExpiry"
	case EventPeerDisconnect:
		return "PeerDisconnect"
	case EventPolicyRevocation:
		return "PolicyRevocation"
	default:
		return "Unknown"
	}
}

// Action represents a side-effect the caller must execute after a
// transition. The FSM itself never performs these; Manager/Session
// execute the returned actions (SPEC_FULL.md section 4.1, transition
// table's "Side effect" column).
type Action uint8

const (
	// ActionZeroEphemeralSecrets zeroizes the pairing handshake's
	// ephemeral ECDH scalars.
	ActionZeroEphemeralSecrets Action = iota + 1

	// ActionArmTTLTimer starts the 12-hour TTL timer and enables
	// stream operations.
	ActionArmTTLTimer

	// ActionAllocStreamID allocates a stream id and stream key.
	ActionAllocStreamID

	// ActionFreeStreamID frees a stream id and zeroizes its stream
	// key.
	ActionFreeStreamID

	// ActionStopQoSDequeue pauses the QoS scheduler's dequeue loop for
	// this session without dropping queued packets.
	ActionStopQoSDequeue

	// ActionResetSlidingTimer resets the 30-minute idle timer on
	// resuming from Suspended.
	ActionResetSlidingTimer

	// ActionZeroizeScopedKeys zeroizes every key scoped to this
	// session (session key, all stream keys) on close.
	ActionZeroizeScopedKeys

	// ActionEmitSessionEstablished emits SessionEstablished on the
	// event bus.
	ActionEmitSessionEstablished

	// ActionEmitStateChanged emits StateChanged on the event bus.
	ActionEmitStateChanged

	// ActionEmitSessionClosed emits SessionClosed{reason} on the event
	// bus.
	ActionEmitSessionClosed
)

// String returns the human-readable name of the action.
func (a Action) String() string {
	switch a {
	case ActionZeroEphemeralSecrets:
		return "ZeroEphemeralSecrets"
	case ActionArmTTLTimer:
		return "ArmTTLTimer"
	case ActionAllocStreamID:
		return "AllocStreamID"
	case ActionFreeStreamID:
		return "FreeStreamID"
	case ActionStopQoSDequeue:
		return "StopQoSDequeue"
	case ActionResetSlidingTimer:
		return "ResetSlidingTimer"
	case ActionZeroizeScopedKeys:
		return "ZeroizeScopedKeys"
	case ActionEmitSessionEstablished:
		return "EmitSessionEstablished"
	case ActionEmitStateChanged:
		return "EmitStateChanged"
	case ActionEmitSessionClosed:
		return "EmitSessionClosed"
	default:
		return "Unknown"
	}
}

type stateEvent struct {
	state State
	event Event
}

type transition struct {
	newState State
	actions  []Action
}

// FSMResult holds the outcome of applying an event to the FSM.
type FSMResult struct {
	OldState State
	NewState State
	Actions  []Action
	Changed  bool
}

// fsmTable is the complete session FSM transition table (SPEC_FULL.md
// section 4.1, "State machine"). Every (state, event) pair listed here
// is a valid transition; unlisted pairs are silently ignored.
//
//nolint:gochecknoglobals // FSM transition table is intentionally package-level, matching the teacher.
var fsmTable = map[stateEvent]transition{
	// Pending: pairing handshake in flight.
	{StatePending, EventPairAccept}: {
		newState: StatePaired,
		actions:  []Action{ActionEmitSessionEstablished, ActionEmitStateChanged},
	},
	{StatePending, EventPairReject}: {
		newState: StateClosed,
		actions:  []Action{ActionZeroEphemeralSecrets, ActionEmitSessionClosed},
	},
	{StatePending, EventPairTimeout}: {
		newState: StateClosed,
		actions:  []Action{ActionZeroEphemeralSecrets, ActionEmitSessionClosed},
	},

	// Paired: handshake complete, awaiting activation.
	{StatePaired, EventActivate}: {
		newState: StateActive,
		actions:  []Action{ActionArmTTLTimer, ActionEmitStateChanged},
	},

	// Active: streams may be opened, closed, or carry traffic.
	{StateActive, EventOpenStream}: {
		newState: StateActive,
		actions:  []Action{ActionAllocStreamID},
	},
	{StateActive, EventCloseStream}: {
		newState: StateActive,
		actions:  []Action{ActionFreeStreamID},
	},
	{StateActive, EventIdleTimeout}: {
		newState: StateSuspended,
		actions:  []Action{ActionStopQoSDequeue, ActionEmitStateChanged},
	},
	{StateActive, EventTTLExpiry}: {
		newState: StateClosed,
		actions:  []Action{ActionZeroizeScopedKeys, ActionEmitSessionClosed},
	},
	{StateActive, EventPeerDisconnect}: {
		newState: StateClosed,
		actions:  []Action{ActionZeroizeScopedKeys, ActionEmitSessionClosed},
	},
	{StateActive, EventPolicyRevocation}: {
		newState: StateClosed,
		actions:  []Action{ActionZeroizeScopedKeys, ActionEmitSessionClosed},
	},

	// Suspended: idle, keys retained. Entering it emits
	// ActionStopQoSDequeue, which Session does not act on; the scheduler
	// keeps dequeuing.
	{StateSuspended, EventStreamIO}: {
		newState: StateActive,
		actions:  []Action{ActionResetSlidingTimer, ActionEmitStateChanged},
	},
	{StateSuspended, EventTTLExpiry}: {
		newState: StateClosed,
		actions:  []Action{ActionZeroizeScopedKeys, ActionEmitSessionClosed},
	},
	{StateSuspended, EventPeerDisconnect}: {
		newState: StateClosed,
		actions:  []Action{ActionZeroizeScopedKeys, ActionEmitSessionClosed},
	},
	{StateSuspended, EventPolicyRevocation}: {
		newState: StateClosed,
		actions:  []Action{ActionZeroizeScopedKeys, ActionEmitSessionClosed},
	},
}

// ApplyEvent applies an FSM event to the given state and returns the
// result. Pure function: the caller executes the returned actions.
// Closed never appears on the left of fsmTable, so any event applied
// to a Closed session is silently ignored (SPEC_FULL.md section 4.1:
// "a new session id is issued instead").
func ApplyEvent(currentState State, event Event) FSMResult {
	key := stateEvent{state: currentState, event: event}

	tr, ok := fsmTable[key]
	if !ok {
		return FSMResult{
			OldState: currentState,
			NewState: currentState,
			Actions:  nil,
			Changed:  false,
		}
	}

	return FSMResult{
		OldState: currentState,
		NewState: tr.newState,
		Actions:  tr.actions,
		Changed:  currentState != tr.newState,
	}
}
