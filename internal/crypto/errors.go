package crypto

import "errors"

// Sentinel errors for the Crypto Core. Every error is fatal to the
// operation that produced it (SPEC_FULL.md section 4.2, "Contract
// invariants") — callers never retry these locally.
var (
	// ErrLowOrderPoint is returned when an ECDH input or output is a
	// low-order curve point (including the all-zero point).
	ErrLowOrderPoint = errors.New("crypto: low-order ECDH point")

	// ErrTagVerification is returned when AEAD tag verification fails.
	ErrTagVerification = errors.New("crypto: AEAD tag verification failed")

	// ErrNonceExhausted is returned when a key's sequence counter
	// reaches 2^64, per the taxonomy's Crypto/Resource rows.
	ErrNonceExhausted = errors.New("crypto: nonce sequence space exhausted")

	// ErrSignatureVerification is returned when an Ed25519 signature
	// fails to verify.
	ErrSignatureVerification = errors.New("crypto: signature verification failed")

	// ErrKeyZeroed is returned when an operation is attempted against
	// a key handle that has already been zeroized.
	ErrKeyZeroed = errors.New("crypto: key material already zeroized")

	// ErrPlaintextTooLarge is returned when plaintext exceeds the 1 MiB
	// per-packet ceiling (SPEC_FULL.md section 3, Packet).
	ErrPlaintextTooLarge = errors.New("crypto: plaintext exceeds 1 MiB limit")

	// ErrCiphertextTooShort is returned when ciphertext is too small to
	// contain a nonce and authentication tag.
	ErrCiphertextTooShort = errors.New("crypto: ciphertext shorter than nonce+tag")

	// ErrPopExpired is returned when a PoP token's TTL has elapsed.
	ErrPopExpired = errors.New("crypto: proof-of-possession token expired")

	// ErrPopReplayed is returned when a PoP token's nonce has been seen
	// before within its validity window.
	ErrPopReplayed = errors.New("crypto: proof-of-possession token replayed")

	// ErrVersionTooOld is returned when a frame's key version is older
	// than (current - 1), per SPEC_FULL.md section 3's invariant.
	ErrVersionTooOld = errors.New("crypto: key version older than grace window")
)

// MaxPlaintextSize is the maximum plaintext size per packet (SPEC_FULL.md
// section 3, Packet: "Maximum plaintext per packet: 1 MiB").
const MaxPlaintextSize = 1 << 20
