package session

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/honeylink/honeylink-core/internal/crypto"
)

// Pairing exchange sentinel errors (SPEC_FULL.md section 6, "Pairing
// exchange"). Any protocol violation terminates the exchange without
// feedback beyond a generic error — callers never learn which check
// failed.
var (
	ErrPairingProtocolViolation = errors.New("session: pairing protocol violation")
	ErrHandshakeMACMismatch     = errors.New("session: handshake mac mismatch")
)

// SupportedSuite identifies a cipher/curve suite offered during Hello.
// HoneyLink ships exactly one suite today; the field exists so a future
// suite can be added without breaking the wire shape.
type SupportedSuite uint8

const SuiteX25519ChaCha20Poly1305 SupportedSuite = 1

// HelloMessage is the pairing initiator's first message (SPEC_FULL.md
// section 6: "Hello{device_pubkey, supported_suites}").
type HelloMessage struct {
	DevicePublicKey  ed25519.PublicKey
	EphemeralPublic  [crypto.KeySize]byte
	SupportedSuites  []SupportedSuite
}

// HelloAckMessage is the responder's reply (SPEC_FULL.md section 6:
// "HelloAck{device_pubkey, chosen_suite, ecdh_share}").
type HelloAckMessage struct {
	DevicePublicKey ed25519.PublicKey
	ChosenSuite     SupportedSuite
	EphemeralPublic [crypto.KeySize]byte
}

// ConfirmMessage is the initiator's final message (SPEC_FULL.md section
// 6: "Confirm{ecdh_share, handshake_mac}").
type ConfirmMessage struct {
	EphemeralPublic [crypto.KeySize]byte
	HandshakeMAC    []byte
}

// RejectMessage terminates a pairing exchange.
type RejectMessage struct {
	Reason string
}

// transcript builds the exact byte sequence the handshake MAC signs
// over: both ephemeral public keys in a fixed order, so neither side
// can reorder them to forge a different transcript.
func transcript(initiatorEphemeral, responderEphemeral [crypto.KeySize]byte) []byte {
	buf := make([]byte, 0, 2*crypto.KeySize)
	buf = append(buf, initiatorEphemeral[:]...)
	buf = append(buf, responderEphemeral[:]...)
	return buf
}

// ComputeHandshakeMAC computes the Confirm message's MAC over the
// transcript, keyed by the out-of-band shared secret exchanged via QR
// code or PIN entry (SPEC_FULL.md section 6: "The MAC is computed over
// the transcript using the OOB shared secret"). Grounded on the
// teacher's auth.go HMAC-style digest computation, generalized from
// BFD's MD5/SHA1 options to a single modern HMAC-SHA256 suite.
func ComputeHandshakeMAC(oobSecret []byte, initiatorEphemeral, responderEphemeral [crypto.KeySize]byte) []byte {
	mac := hmac.New(sha256.New, oobSecret)
	mac.Write(transcript(initiatorEphemeral, responderEphemeral))
	return mac.Sum(nil)
}

// VerifyHandshakeMAC checks a Confirm message's MAC in constant time,
// matching the teacher's subtle.ConstantTimeCompare idiom in
// internal/bfd/auth.go.
func VerifyHandshakeMAC(oobSecret []byte, initiatorEphemeral, responderEphemeral [crypto.KeySize]byte, mac []byte) error {
	want := ComputeHandshakeMAC(oobSecret, initiatorEphemeral, responderEphemeral)
	if subtle.ConstantTimeCompare(want, mac) != 1 {
		return ErrHandshakeMACMismatch
	}
	return nil
}

// RootKeyFromHandshake derives the per-peer RootKey from the ECDH
// shared secret computed over the two ephemeral keypairs (SPEC_FULL.md
// section 3, Key Hierarchy: RootKey is "the pairing handshake's shared
// secret").
func RootKeyFromHandshake(ephemeralPrivate, peerEphemeralPublic [crypto.KeySize]byte) (*crypto.RootKey, error) {
	shared, err := crypto.ComputeECDH(ephemeralPrivate, peerEphemeralPublic)
	if err != nil {
		return nil, fmt.Errorf("derive root key: %w", err)
	}
	defer crypto.ZeroKey(&shared)

	return crypto.NewRootKey(shared), nil
}
