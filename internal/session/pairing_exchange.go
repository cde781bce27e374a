package session

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/honeylink/honeylink-core/internal/crypto"
)

// PairingTransport is the minimal byte-stream a pairing exchange needs:
// one framed message in, one framed message out. netio.QUICAdapter
// satisfies this with its length-prefixed Send/Recv, the same pattern
// the rest of the codebase uses for application data frames.
type PairingTransport interface {
	Send(ctx context.Context, frame []byte) error
	Recv(ctx context.Context) ([]byte, error)
}

// encodeMessage/decodeMessage wrap the pairing wire messages in YAML,
// matching internal/store and internal/policy's choice of
// gopkg.in/yaml.v3 as the codec for HoneyLink's own control-plane
// envelopes (as opposed to transport.Marshal's binary framing, reserved
// for post-handshake application packets).
func encodeMessage(v any) ([]byte, error) {
	out, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("session: encode pairing message: %w", err)
	}
	return out, nil
}

func decodeMessage(frame []byte, v any) error {
	if err := yaml.Unmarshal(frame, v); err != nil {
		return fmt.Errorf("%w: %v", ErrPairingProtocolViolation, err)
	}
	return nil
}

// PairingResult carries what the pairing exchange hands the Session
// Orchestrator once both sides confirm: the peer's verified identity
// and the RootKey the Crypto Core derives the rest of the key hierarchy
// from (SPEC_FULL.md section 3, Key Hierarchy).
type PairingResult struct {
	PeerIdentity ed25519.PublicKey
	Root         *crypto.RootKey

	// Transcript is the same byte sequence ComputeHandshakeMAC signed
	// over (both ephemeral public keys, initiator first). Callers pass
	// it to crypto.DeriveDeviceMasterKey as the handshake transcript
	// (SPEC_FULL.md section 3: device-master key is "derived per
	// session-establishment from root + handshake ECDH output").
	Transcript []byte
}

// RunInitiatorPairing drives the initiator side of the three-message
// pairing exchange (spec.md section 6: "Hello{device_pubkey,
// supported_suites} -> HelloAck{device_pubkey, chosen_suite,
// ecdh_share} -> Confirm{ecdh_share, handshake_mac}"). oobSecret is the
// out-of-band shared secret (QR code or PIN); it authenticates the
// exchange but never appears in a RootKey or on the wire in cleartext.
//
// A handshake MAC mismatch or any protocol violation returns an error
// and leaves no trace for the caller to act on beyond that — per
// spec.md's "Rejection is a single Reject{reason} message; any protocol
// violation terminates the exchange without feedback beyond a generic
// error."
func RunInitiatorPairing(ctx context.Context, t PairingTransport, local *crypto.IdentityKeyPair, oobSecret []byte) (PairingResult, error) {
	ephPrivate, ephPublic, err := crypto.GenerateEphemeralKeypair()
	if err != nil {
		return PairingResult{}, fmt.Errorf("session: generate initiator ephemeral: %w", err)
	}
	defer crypto.ZeroKey(&ephPrivate)

	hello := HelloMessage{
		DevicePublicKey: local.Signer().PublicKey(),
		EphemeralPublic: ephPublic,
		SupportedSuites: []SupportedSuite{SuiteX25519ChaCha20Poly1305},
	}
	frame, err := encodeMessage(hello)
	if err != nil {
		return PairingResult{}, err
	}
	if err := t.Send(ctx, frame); err != nil {
		return PairingResult{}, fmt.Errorf("session: send hello: %w", err)
	}

	ackFrame, err := t.Recv(ctx)
	if err != nil {
		return PairingResult{}, fmt.Errorf("session: recv hello-ack: %w", err)
	}
	var reject RejectMessage
	if decodeMessage(ackFrame, &reject) == nil && reject.Reason != "" {
		return PairingResult{}, fmt.Errorf("%w: peer rejected: %s", ErrPairingProtocolViolation, reject.Reason)
	}
	var ack HelloAckMessage
	if err := decodeMessage(ackFrame, &ack); err != nil {
		return PairingResult{}, err
	}
	if ack.ChosenSuite != SuiteX25519ChaCha20Poly1305 {
		return PairingResult{}, fmt.Errorf("%w: unsupported suite %d", ErrPairingProtocolViolation, ack.ChosenSuite)
	}

	mac := ComputeHandshakeMAC(oobSecret, ephPublic, ack.EphemeralPublic)
	confirm := ConfirmMessage{EphemeralPublic: ephPublic, HandshakeMAC: mac}
	confirmFrame, err := encodeMessage(confirm)
	if err != nil {
		return PairingResult{}, err
	}
	if err := t.Send(ctx, confirmFrame); err != nil {
		return PairingResult{}, fmt.Errorf("session: send confirm: %w", err)
	}

	root, err := RootKeyFromHandshake(ephPrivate, ack.EphemeralPublic)
	if err != nil {
		return PairingResult{}, err
	}

	return PairingResult{
		PeerIdentity: ack.DevicePublicKey,
		Root:         root,
		Transcript:   transcript(ephPublic, ack.EphemeralPublic),
	}, nil
}

// RunResponderPairing drives the responder side of the exchange. It
// verifies the initiator's Confirm MAC itself (the initiator computes
// the same MAC independently; a mismatch here means the two sides were
// given different OOB secrets and the exchange is aborted without a
// Reject, per spec.md scenario 2, "Handshake MAC mismatch").
func RunResponderPairing(ctx context.Context, t PairingTransport, local *crypto.IdentityKeyPair, oobSecret []byte) (PairingResult, error) {
	helloFrame, err := t.Recv(ctx)
	if err != nil {
		return PairingResult{}, fmt.Errorf("session: recv hello: %w", err)
	}
	var hello HelloMessage
	if err := decodeMessage(helloFrame, &hello); err != nil {
		return PairingResult{}, err
	}

	var chosen SupportedSuite
	for _, s := range hello.SupportedSuites {
		if s == SuiteX25519ChaCha20Poly1305 {
			chosen = s
			break
		}
	}
	if chosen == 0 {
		rejectFrame, encErr := encodeMessage(RejectMessage{Reason: "no supported suite"})
		if encErr == nil {
			_ = t.Send(ctx, rejectFrame)
		}
		return PairingResult{}, fmt.Errorf("%w: no mutually supported suite", ErrPairingProtocolViolation)
	}

	ephPrivate, ephPublic, err := crypto.GenerateEphemeralKeypair()
	if err != nil {
		return PairingResult{}, fmt.Errorf("session: generate responder ephemeral: %w", err)
	}
	defer crypto.ZeroKey(&ephPrivate)

	ack := HelloAckMessage{
		DevicePublicKey: local.Signer().PublicKey(),
		ChosenSuite:     chosen,
		EphemeralPublic: ephPublic,
	}
	ackFrame, err := encodeMessage(ack)
	if err != nil {
		return PairingResult{}, err
	}
	if err := t.Send(ctx, ackFrame); err != nil {
		return PairingResult{}, fmt.Errorf("session: send hello-ack: %w", err)
	}

	confirmFrame, err := t.Recv(ctx)
	if err != nil {
		return PairingResult{}, fmt.Errorf("session: recv confirm: %w", err)
	}
	var confirm ConfirmMessage
	if err := decodeMessage(confirmFrame, &confirm); err != nil {
		return PairingResult{}, err
	}

	if err := VerifyHandshakeMAC(oobSecret, confirm.EphemeralPublic, ephPublic, confirm.HandshakeMAC); err != nil {
		return PairingResult{}, err
	}

	root, err := RootKeyFromHandshake(ephPrivate, confirm.EphemeralPublic)
	if err != nil {
		return PairingResult{}, err
	}

	return PairingResult{
		PeerIdentity: hello.DevicePublicKey,
		Root:         root,
		Transcript:   transcript(confirm.EphemeralPublic, ephPublic),
	}, nil
}
