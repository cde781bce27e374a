package session_test

import (
	"context"
	"sync"
	"testing"

	"github.com/honeylink/honeylink-core/internal/crypto"
	"github.com/honeylink/honeylink-core/internal/session"
)

// pipeTransport links two pairingTransport ends with buffered channels,
// standing in for a netio.QUICAdapter's framed Send/Recv in these tests.
type pipeTransport struct {
	out chan<- []byte
	in  <-chan []byte
}

func newPipePair() (a, b *pipeTransport) {
	ab := make(chan []byte, 4)
	ba := make(chan []byte, 4)
	return &pipeTransport{out: ab, in: ba}, &pipeTransport{out: ba, in: ab}
}

func (p *pipeTransport) Send(_ context.Context, frame []byte) error {
	cp := append([]byte(nil), frame...)
	p.out <- cp
	return nil
}

func (p *pipeTransport) Recv(ctx context.Context) ([]byte, error) {
	select {
	case f := <-p.in:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestPairingExchange_HappyPathAgreesOnRoot(t *testing.T) {
	t.Parallel()

	initiatorID, err := crypto.NewIdentityKeyPair()
	if err != nil {
		t.Fatalf("initiator identity: %v", err)
	}
	defer initiatorID.Close()
	responderID, err := crypto.NewIdentityKeyPair()
	if err != nil {
		t.Fatalf("responder identity: %v", err)
	}
	defer responderID.Close()

	initTransport, respTransport := newPipePair()
	oob := []byte("123456")

	var wg sync.WaitGroup
	wg.Add(2)

	var initResult, respResult session.PairingResult
	var initErr, respErr error

	ctx := context.Background()
	go func() {
		defer wg.Done()
		initResult, initErr = session.RunInitiatorPairing(ctx, initTransport, initiatorID, oob)
	}()
	go func() {
		defer wg.Done()
		respResult, respErr = session.RunResponderPairing(ctx, respTransport, responderID, oob)
	}()
	wg.Wait()

	if initErr != nil {
		t.Fatalf("initiator pairing: %v", initErr)
	}
	if respErr != nil {
		t.Fatalf("responder pairing: %v", respErr)
	}

	if string(initResult.PeerIdentity) != string(responderID.Signer().PublicKey()) {
		t.Error("initiator did not learn responder's identity")
	}
	if string(respResult.PeerIdentity) != string(initiatorID.Signer().PublicKey()) {
		t.Error("responder did not learn initiator's identity")
	}

	if _, err := crypto.DeriveDeviceMasterKey(initResult.Root, []byte("t")); err != nil {
		t.Errorf("initiator root unusable: %v", err)
	}
	if _, err := crypto.DeriveDeviceMasterKey(respResult.Root, []byte("t")); err != nil {
		t.Errorf("responder root unusable: %v", err)
	}
}

func TestPairingExchange_MismatchedOOBSecretFailsBothSides(t *testing.T) {
	t.Parallel()

	initiatorID, err := crypto.NewIdentityKeyPair()
	if err != nil {
		t.Fatalf("initiator identity: %v", err)
	}
	defer initiatorID.Close()
	responderID, err := crypto.NewIdentityKeyPair()
	if err != nil {
		t.Fatalf("responder identity: %v", err)
	}
	defer responderID.Close()

	initTransport, respTransport := newPipePair()

	var wg sync.WaitGroup
	wg.Add(2)

	var initErr, respErr error
	ctx := context.Background()
	go func() {
		defer wg.Done()
		_, initErr = session.RunInitiatorPairing(ctx, initTransport, initiatorID, []byte("123456"))
	}()
	go func() {
		defer wg.Done()
		_, respErr = session.RunResponderPairing(ctx, respTransport, responderID, []byte("654321"))
	}()
	wg.Wait()

	if respErr == nil {
		t.Fatal("expected responder to reject mismatched OOB secret")
	}
	_ = initErr // initiator may succeed locally (it never checks the MAC itself); only the responder verifies.
}
