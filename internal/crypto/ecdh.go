package crypto

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
)

// IdentityKeyPair is a device's long-lived identity: an X25519 keypair
// for ECDH and an Ed25519 keypair for signing (SPEC_FULL.md section 3,
// Device Identity). Private halves are zeroized on Close. This type does
// not persist them; cmd/honeylinkd writes them to a plaintext identity
// file with mode 0600.
type IdentityKeyPair struct {
	X25519Private [KeySize]byte
	X25519Public  [KeySize]byte
	Ed25519Seed   [KeySize]byte
	signer        Signer
	zeroed        bool
}

// NewIdentityKeyPair generates a fresh device identity.
func NewIdentityKeyPair() (*IdentityKeyPair, error) {
	priv, pub, err := GenerateEphemeralKeypair()
	if err != nil {
		return nil, fmt.Errorf("generate identity X25519 keypair: %w", err)
	}

	var seed [KeySize]byte
	if _, err := io.ReadFull(rand.Reader, seed[:]); err != nil {
		return nil, fmt.Errorf("generate identity Ed25519 seed: %w", err)
	}

	signer, err := newEd25519Signer(seed)
	if err != nil {
		return nil, fmt.Errorf("derive Ed25519 signer: %w", err)
	}

	return &IdentityKeyPair{
		X25519Private: priv,
		X25519Public:  pub,
		Ed25519Seed:   seed,
		signer:        signer,
	}, nil
}

// Signer returns the identity's Ed25519 signer, used for profile
// signatures and proof-of-possession tokens.
func (id *IdentityKeyPair) Signer() Signer { return id.signer }

// ImportIdentityKeyPair reconstructs a device identity from its saved
// private halves, so a device keeps the same identity (and therefore
// the same peer records) across process restarts. It does not read or
// write storage itself; cmd/honeylinkd keeps x25519Private/ed25519Seed
// in a plaintext identity file with mode 0600, not in a sealed
// store.Store.
func ImportIdentityKeyPair(x25519Private [KeySize]byte, ed25519Seed [KeySize]byte) (*IdentityKeyPair, error) {
	var x25519Public [KeySize]byte
	curve25519.ScalarBaseMult(&x25519Public, &x25519Private)

	signer, err := newEd25519Signer(ed25519Seed)
	if err != nil {
		return nil, fmt.Errorf("derive Ed25519 signer: %w", err)
	}

	return &IdentityKeyPair{
		X25519Private: x25519Private,
		X25519Public:  x25519Public,
		Ed25519Seed:   ed25519Seed,
		signer:        signer,
	}, nil
}

// Close zeroizes both private halves. Public halves are left intact —
// they remain the device identifier used during pairing.
func (id *IdentityKeyPair) Close() {
	if id.zeroed {
		return
	}
	ZeroKey(&id.X25519Private)
	ZeroKey(&id.Ed25519Seed)
	id.zeroed = true
}

// GenerateEphemeralKeypair generates a fresh X25519 keypair for a single
// pairing handshake. The private half should be zeroed after computing
// the shared secret.
func GenerateEphemeralKeypair() (privateKey, publicKey [KeySize]byte, err error) {
	if _, err = io.ReadFull(rand.Reader, privateKey[:]); err != nil {
		return privateKey, publicKey, fmt.Errorf("generate private key: %w", err)
	}

	// Clamp per the X25519 spec (RFC 7748 section 5).
	privateKey[0] &= 248
	privateKey[31] &= 127
	privateKey[31] |= 64

	curve25519.ScalarBaseMult(&publicKey, &privateKey)

	return privateKey, publicKey, nil
}

// ComputeECDH performs X25519 Diffie-Hellman and returns the shared
// secret. Rejects the all-zero remote public key and an all-zero
// result, both indicating a low-order point (SPEC_FULL.md section 4.2,
// "Low-order points rejected").
func ComputeECDH(privateKey, remotePublicKey [KeySize]byte) ([KeySize]byte, error) {
	var sharedSecret [KeySize]byte

	var zeroKey [KeySize]byte
	if remotePublicKey == zeroKey {
		return sharedSecret, ErrLowOrderPoint
	}

	curve25519.ScalarMult(&sharedSecret, &privateKey, &remotePublicKey)

	if sharedSecret == zeroKey {
		return sharedSecret, ErrLowOrderPoint
	}

	return sharedSecret, nil
}
