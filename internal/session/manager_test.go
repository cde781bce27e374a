package session_test

import (
	"context"
	"errors"
	"testing"
	"testing/synctest"
	"time"

	"github.com/honeylink/honeylink-core/internal/crypto"
	"github.com/honeylink/honeylink-core/internal/session"
)

// newTestManager creates a Manager with a discard logger and the default
// routine key-rotation schedule, mirroring internal/bfd/manager_test.go's newTestManager
// helper.
func newTestManager(t *testing.T) *session.Manager {
	t.Helper()
	return session.NewManager(0, testLogger())
}

func testPeerIdentity(t *testing.T) (crypto.Signer, func()) {
	t.Helper()
	identity, err := crypto.NewIdentityKeyPair()
	if err != nil {
		t.Fatalf("new identity: %v", err)
	}
	return identity.Signer(), identity.Close
}

func testDeviceMasterKey(t *testing.T) *crypto.DeviceMasterKey {
	t.Helper()
	root := crypto.NewRootKey([crypto.KeySize]byte{5, 6, 7, 8})
	dm, err := crypto.DeriveDeviceMasterKey(root, []byte("manager-test-transcript"))
	if err != nil {
		t.Fatalf("derive device master key: %v", err)
	}
	return dm
}

func TestManagerCreateSession(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		mgr := newTestManager(t)
		defer mgr.Close()

		signer, closeIdentity := testPeerIdentity(t)
		defer closeIdentity()

		sess, err := mgr.CreateSession(context.Background(), signer.PublicKey(), testDeviceMasterKey(t), "")
		if err != nil {
			t.Fatalf("CreateSession: %v", err)
		}

		found, ok := mgr.LookupByID(sess.ID())
		if !ok {
			t.Fatal("LookupByID: not found")
		}
		if found != sess {
			t.Error("LookupByID returned a different session")
		}

		if sess.State() != session.StatePending {
			t.Errorf("initial state = %s, want Pending", sess.State())
		}

		time.Sleep(10 * time.Millisecond)
	})
}

func TestManagerCreateSessionDuplicatePeer(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		mgr := newTestManager(t)
		defer mgr.Close()

		signer, closeIdentity := testPeerIdentity(t)
		defer closeIdentity()
		dm := testDeviceMasterKey(t)

		_, err := mgr.CreateSession(context.Background(), signer.PublicKey(), dm, "")
		if err != nil {
			t.Fatalf("first CreateSession: %v", err)
		}

		_, err = mgr.CreateSession(context.Background(), signer.PublicKey(), dm, "")
		if !errors.Is(err, session.ErrDuplicatePeer) {
			t.Errorf("error = %v, want ErrDuplicatePeer", err)
		}

		time.Sleep(10 * time.Millisecond)
	})
}

func TestManagerDestroySession(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		mgr := newTestManager(t)
		defer mgr.Close()

		signer, closeIdentity := testPeerIdentity(t)
		defer closeIdentity()

		sess, err := mgr.CreateSession(context.Background(), signer.PublicKey(), testDeviceMasterKey(t), "")
		if err != nil {
			t.Fatalf("CreateSession: %v", err)
		}

		if err := mgr.DestroySession(sess.ID()); err != nil {
			t.Fatalf("DestroySession: %v", err)
		}

		if _, ok := mgr.LookupByID(sess.ID()); ok {
			t.Error("session still found after destroy")
		}
		if got := mgr.Sessions(); len(got) != 0 {
			t.Errorf("expected 0 sessions after destroy, got %d", len(got))
		}

		time.Sleep(10 * time.Millisecond)
	})
}

func TestManagerDestroySessionNotFound(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(t)
	defer mgr.Close()

	if err := mgr.DestroySession([16]byte{}); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("error = %v, want ErrSessionNotFound", err)
	}
}

func TestManagerCreateSession_IdempotentReplay(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		mgr := newTestManager(t)
		defer mgr.Close()

		signer, closeIdentity := testPeerIdentity(t)
		defer closeIdentity()
		dm := testDeviceMasterKey(t)

		first, err := mgr.CreateSession(context.Background(), signer.PublicKey(), dm, "req-1")
		if err != nil {
			t.Fatalf("first CreateSession: %v", err)
		}

		second, err := mgr.CreateSession(context.Background(), signer.PublicKey(), dm, "req-1")
		if err != nil {
			t.Fatalf("replayed CreateSession: %v", err)
		}
		if second.ID() != first.ID() {
			t.Error("replayed idempotency key returned a different session")
		}

		time.Sleep(10 * time.Millisecond)
	})
}

func TestManagerCreateSession_IdempotencyConflict(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		mgr := newTestManager(t)
		defer mgr.Close()

		signerA, closeA := testPeerIdentity(t)
		defer closeA()
		signerB, closeB := testPeerIdentity(t)
		defer closeB()
		dm := testDeviceMasterKey(t)

		if _, err := mgr.CreateSession(context.Background(), signerA.PublicKey(), dm, "shared-key"); err != nil {
			t.Fatalf("first CreateSession: %v", err)
		}

		_, err := mgr.CreateSession(context.Background(), signerB.PublicKey(), dm, "shared-key")
		if !errors.Is(err, session.ErrIdempotencyConflict) {
			t.Errorf("error = %v, want ErrIdempotencyConflict", err)
		}

		time.Sleep(10 * time.Millisecond)
	})
}

func TestManagerRunDispatch_ForwardsNotifications(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		mgr := newTestManager(t)
		defer mgr.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go mgr.RunDispatch(ctx)

		signer, closeIdentity := testPeerIdentity(t)
		defer closeIdentity()

		sess, err := mgr.CreateSession(context.Background(), signer.PublicKey(), testDeviceMasterKey(t), "")
		if err != nil {
			t.Fatalf("CreateSession: %v", err)
		}

		if err := sess.Accept(); err != nil {
			t.Fatalf("accept: %v", err)
		}

		synctest.Wait()

		select {
		case n := <-mgr.Notifications():
			if n.SessionID != sess.ID() {
				t.Errorf("notification session id = %s, want %s", n.SessionID, sess.ID())
			}
		default:
			t.Fatal("expected a forwarded notification after Accept")
		}
	})
}
