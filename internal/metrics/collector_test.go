package metrics_test

import (
	"testing"

	"github.com/google/uuid"

	"github.com/honeylink/honeylink-core/internal/metrics"
)

func TestNopReporter_ImplementsReporter(t *testing.T) {
	t.Parallel()

	var r metrics.Reporter = metrics.NopReporter{}

	id := uuid.New()
	r.RegisterSession(id)
	r.UnregisterSession(id)
	r.IncPacketsSent(id)
	r.IncPacketsReceived(id)
	r.IncPacketsDropped(id)
	r.RecordStateTransition(id, "Pending", "Paired")
	r.IncAuthFailures(id)
	r.IncKeyRotations(id, "session")
}

// recordingReporter is a minimal Reporter used to verify call sites
// invoke the interface with the events they claim to.
type recordingReporter struct {
	sessionsRegistered   []uuid.UUID
	packetsSent          int
	transitions          []string
	authFailures         int
}

func (r *recordingReporter) RegisterSession(id uuid.UUID) {
	r.sessionsRegistered = append(r.sessionsRegistered, id)
}
func (r *recordingReporter) UnregisterSession(uuid.UUID) {}
func (r *recordingReporter) IncPacketsSent(uuid.UUID)    { r.packetsSent++ }
func (r *recordingReporter) IncPacketsReceived(uuid.UUID) {}
func (r *recordingReporter) IncPacketsDropped(uuid.UUID)  {}
func (r *recordingReporter) RecordStateTransition(_ uuid.UUID, from, to string) {
	r.transitions = append(r.transitions, from+"->"+to)
}
func (r *recordingReporter) IncAuthFailures(uuid.UUID)     { r.authFailures++ }
func (r *recordingReporter) IncKeyRotations(uuid.UUID, string) {}

func TestRecordingReporter_TracksEvents(t *testing.T) {
	t.Parallel()

	var r metrics.Reporter = &recordingReporter{}
	id := uuid.New()

	r.RegisterSession(id)
	r.IncPacketsSent(id)
	r.IncPacketsSent(id)
	r.RecordStateTransition(id, "Pending", "Paired")
	r.IncAuthFailures(id)

	rec := r.(*recordingReporter)
	if len(rec.sessionsRegistered) != 1 || rec.sessionsRegistered[0] != id {
		t.Errorf("sessionsRegistered = %v, want [%s]", rec.sessionsRegistered, id)
	}
	if rec.packetsSent != 2 {
		t.Errorf("packetsSent = %d, want 2", rec.packetsSent)
	}
	if len(rec.transitions) != 1 || rec.transitions[0] != "Pending->Paired" {
		t.Errorf("transitions = %v, want [Pending->Paired]", rec.transitions)
	}
	if rec.authFailures != 1 {
		t.Errorf("authFailures = %d, want 1", rec.authFailures)
	}
}
