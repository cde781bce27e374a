package session_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/honeylink/honeylink-core/internal/crypto"
	"github.com/honeylink/honeylink-core/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSession(t *testing.T, notifyCh chan session.Notification) *session.Session {
	t.Helper()

	identity, err := crypto.NewIdentityKeyPair()
	if err != nil {
		t.Fatalf("new identity: %v", err)
	}
	t.Cleanup(identity.Close)

	root := crypto.NewRootKey([crypto.KeySize]byte{1, 2, 3, 4})
	dm, err := crypto.DeriveDeviceMasterKey(root, []byte("transcript"))
	if err != nil {
		t.Fatalf("derive device master key: %v", err)
	}

	rotator, err := crypto.NewSessionKeyRotator(dm, 0, testLogger(), nil)
	if err != nil {
		t.Fatalf("new rotator: %v", err)
	}

	var ch chan<- session.Notification
	if notifyCh != nil {
		ch = notifyCh
	}

	return session.NewSession(uuid.New(), identity.Signer().PublicKey(), rotator, ch, testLogger())
}

func TestSession_PairingHappyPath(t *testing.T) {
	t.Parallel()

	notifyCh := make(chan session.Notification, 16)
	s := newTestSession(t, notifyCh)

	if s.State() != session.StatePending {
		t.Fatalf("initial state = %s, want Pending", s.State())
	}

	if err := s.Accept(); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if s.State() != session.StatePaired {
		t.Fatalf("state after accept = %s, want Paired", s.State())
	}

	if err := s.Activate(); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if s.State() != session.StateActive {
		t.Fatalf("state after activate = %s, want Active", s.State())
	}
	if s.ExpiresAt().IsZero() {
		t.Fatal("expected TTL timer armed after activation")
	}
}

func TestSession_RejectTerminatesSession(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, nil)

	if err := s.Reject("mac mismatch"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if s.State() != session.StateClosed {
		t.Fatalf("state after reject = %s, want Closed", s.State())
	}

	if err := s.Accept(); err == nil {
		t.Fatal("expected error applying an event to a closed session")
	}
}

func TestSession_OpenCloseStream(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, nil)
	if err := s.Accept(); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := s.Activate(); err != nil {
		t.Fatalf("activate: %v", err)
	}

	id, err := s.OpenStream(3)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	if id != 0 {
		t.Fatalf("first stream id = %d, want 0", id)
	}

	if err := s.CloseStream(id); err != nil {
		t.Fatalf("close stream: %v", err)
	}
}

func TestSession_OpenStreamRejectedWhenNotActive(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, nil)

	if _, err := s.OpenStream(0); err == nil {
		t.Fatal("expected OpenStream to fail on a Pending session")
	}
}

func TestSession_PeerDisconnectClosesActiveSession(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, nil)
	if err := s.Accept(); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := s.Activate(); err != nil {
		t.Fatalf("activate: %v", err)
	}

	if err := s.PeerDisconnect("link lost"); err != nil {
		t.Fatalf("peer disconnect: %v", err)
	}
	if s.State() != session.StateClosed {
		t.Fatalf("state after peer disconnect = %s, want Closed", s.State())
	}
}

func TestSession_TouchOnActiveSessionIsHarmless(t *testing.T) {
	t.Parallel()

	s := newTestSession(t, nil)
	if err := s.Accept(); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := s.Activate(); err != nil {
		t.Fatalf("activate: %v", err)
	}

	s.Touch()
	if s.State() != session.StateActive {
		t.Fatalf("state after Touch on an Active session = %s, want Active", s.State())
	}
}
