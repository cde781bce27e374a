package session_test

import (
	"slices"
	"testing"

	"github.com/honeylink/honeylink-core/internal/session"
)

// TestFSMTransitionTable verifies every transition in the session FSM
// table against SPEC_FULL.md section 4.1's state machine table.
func TestFSMTransitionTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		state       session.State
		event       session.Event
		wantState   session.State
		wantChanged bool
		wantActions []session.Action
	}{
		{
			name:        "Pending+PairAccept->Paired",
			state:       session.StatePending,
			event:       session.EventPairAccept,
			wantState:   session.StatePaired,
			wantChanged: true,
			wantActions: []session.Action{session.ActionEmitSessionEstablished, session.ActionEmitStateChanged},
		},
		{
			name:        "Pending+PairReject->Closed",
			state:       session.StatePending,
			event:       session.EventPairReject,
			wantState:   session.StateClosed,
			wantChanged: true,
			wantActions: []session.Action{session.ActionZeroEphemeralSecrets, session.ActionEmitSessionClosed},
		},
		{
			name:        "Pending+PairTimeout->Closed",
			state:       session.StatePending,
			event:       session.EventPairTimeout,
			wantState:   session.StateClosed,
			wantChanged: true,
			wantActions: []session.Action{session.ActionZeroEphemeralSecrets, session.ActionEmitSessionClosed},
		},
		{
			name:        "Paired+Activate->Active",
			state:       session.StatePaired,
			event:       session.EventActivate,
			wantState:   session.StateActive,
			wantChanged: true,
			wantActions: []session.Action{session.ActionArmTTLTimer, session.ActionEmitStateChanged},
		},
		{
			name:        "Active+OpenStream self-loop",
			state:       session.StateActive,
			event:       session.EventOpenStream,
			wantState:   session.StateActive,
			wantChanged: false,
			wantActions: []session.Action{session.ActionAllocStreamID},
		},
		{
			name:        "Active+CloseStream self-loop",
			state:       session.StateActive,
			event:       session.EventCloseStream,
			wantState:   session.StateActive,
			wantChanged: false,
			wantActions: []session.Action{session.ActionFreeStreamID},
		},
		{
			name:        "Active+IdleTimeout->Suspended",
			state:       session.StateActive,
			event:       session.EventIdleTimeout,
			wantState:   session.StateSuspended,
			wantChanged: true,
			wantActions: []session.Action{session.ActionStopQoSDequeue, session.ActionEmitStateChanged},
		},
		{
			name:        "Suspended+StreamIO->Active",
			state:       session.StateSuspended,
			event:       session.EventStreamIO,
			wantState:   session.StateActive,
			wantChanged: true,
			wantActions: []session.Action{session.ActionResetSlidingTimer, session.ActionEmitStateChanged},
		},
		{
			name:        "Active+TTLExpiry->Closed",
			state:       session.StateActive,
			event:       session.EventTTLExpiry,
			wantState:   session.StateClosed,
			wantChanged: true,
			wantActions: []session.Action{session.ActionZeroizeScopedKeys, session.ActionEmitSessionClosed},
		},
		{
			name:        "Suspended+TTLExpiry->Closed",
			state:       session.StateSuspended,
			event:       session.EventTTLExpiry,
			wantState:   session.StateClosed,
			wantChanged: true,
			wantActions: []session.Action{session.ActionZeroizeScopedKeys, session.ActionEmitSessionClosed},
		},
		{
			name:        "Active+PeerDisconnect->Closed",
			state:       session.StateActive,
			event:       session.EventPeerDisconnect,
			wantState:   session.StateClosed,
			wantChanged: true,
			wantActions: []session.Action{session.ActionZeroizeScopedKeys, session.ActionEmitSessionClosed},
		},
		{
			name:        "Suspended+PolicyRevocation->Closed",
			state:       session.StateSuspended,
			event:       session.EventPolicyRevocation,
			wantState:   session.StateClosed,
			wantChanged: true,
			wantActions: []session.Action{session.ActionZeroizeScopedKeys, session.ActionEmitSessionClosed},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := session.ApplyEvent(tt.state, tt.event)

			if got.NewState != tt.wantState {
				t.Errorf("NewState = %s, want %s", got.NewState, tt.wantState)
			}
			if got.Changed != tt.wantChanged {
				t.Errorf("Changed = %v, want %v", got.Changed, tt.wantChanged)
			}
			if !slices.Equal(got.Actions, tt.wantActions) {
				t.Errorf("Actions = %v, want %v", got.Actions, tt.wantActions)
			}
		})
	}
}

func TestApplyEvent_ClosedIsTerminal(t *testing.T) {
	t.Parallel()

	for _, ev := range []session.Event{
		session.EventPairAccept, session.EventActivate, session.EventOpenStream,
		session.EventStreamIO, session.EventTTLExpiry, session.EventPeerDisconnect,
	} {
		got := session.ApplyEvent(session.StateClosed, ev)
		if got.Changed {
			t.Errorf("event %s changed a Closed session to %s; Closed must be terminal", ev, got.NewState)
		}
		if got.NewState != session.StateClosed {
			t.Errorf("event %s moved Closed session to %s", ev, got.NewState)
		}
	}
}

func TestApplyEvent_UnknownPairIsIgnored(t *testing.T) {
	t.Parallel()

	got := session.ApplyEvent(session.StatePending, session.EventOpenStream)
	if got.Changed {
		t.Fatal("expected OpenStream on a Pending session to be ignored")
	}
	if len(got.Actions) != 0 {
		t.Fatalf("expected no actions, got %v", got.Actions)
	}
}
