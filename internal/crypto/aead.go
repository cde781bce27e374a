package crypto

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// NonceSize is the ChaCha20-Poly1305 nonce size in bytes (96 bits).
const NonceSize = chacha20poly1305.NonceSize

// TagSize is the Poly1305 authentication tag size in bytes.
const TagSize = chacha20poly1305.Overhead

// EncryptionOverhead is the total per-packet overhead: the 32-bit key
// version and 64-bit sequence packed as the nonce, prepended, plus the
// trailing authentication tag.
const EncryptionOverhead = NonceSize + TagSize

// buildNonce packs the 96-bit AEAD nonce as version(32) || sequence(64),
// per SPEC_FULL.md section 4.2.
func buildNonce(version uint32, sequence uint64) [NonceSize]byte {
	var nonce [NonceSize]byte
	binary.BigEndian.PutUint32(nonce[0:4], version)
	binary.BigEndian.PutUint64(nonce[4:12], sequence)
	return nonce
}

// Encrypt seals plaintext under the stream key's current version,
// allocating and advancing the next send sequence number. The nonce is
// prepended to the returned ciphertext; the caller never constructs a
// nonce directly, which is what makes nonce reuse structurally
// impossible across calls on the same key. The allocated sequence
// number is returned so the caller can stamp transport.Header.Sequence
// with the same value embedded in the nonce, rather than maintaining a
// second counter that could drift out of sync.
func (k *StreamKey) Encrypt(plaintext, aad []byte) ([]byte, uint64, error) {
	if len(plaintext) > MaxPlaintextSize {
		return nil, 0, ErrPlaintextTooLarge
	}

	secret, err := k.secretBytes()
	if err != nil {
		return nil, 0, fmt.Errorf("encrypt: %w", err)
	}

	seq, err := k.nextSendSequence()
	if err != nil {
		return nil, 0, fmt.Errorf("encrypt: %w", err)
	}

	nonce := buildNonce(k.Version(), seq)

	aead, err := chacha20poly1305.New(secret)
	if err != nil {
		return nil, 0, fmt.Errorf("encrypt: create AEAD: %w", err)
	}

	out := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	copy(out, nonce[:])
	out = aead.Seal(out, nonce[:], plaintext, aad)

	return out, seq, nil
}

// decryptWithSecret opens ciphertext produced by Encrypt. secret must be
// the byte slice for the frame's embedded key version — Decrypt looks it
// up via secretForVersion before calling decryptWithSecret, since a StreamKey may be
// asked to decrypt frames tagged with either its current or previous
// version during the rotation grace window.
func decryptWithSecret(secret []byte, ciphertext, aad []byte) ([]byte, error) {
	if len(ciphertext) < EncryptionOverhead {
		return nil, ErrCiphertextTooShort
	}

	nonce := ciphertext[:NonceSize]

	aead, err := chacha20poly1305.New(secret)
	if err != nil {
		return nil, fmt.Errorf("decrypt: create AEAD: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext[NonceSize:], aad)
	if err != nil {
		return nil, ErrTagVerification
	}

	return plaintext, nil
}

// Decrypt decrypts a frame tagged with frameVersion, accepting the
// current version and, within the rotation grace window, the previous
// version too — enforcing "a packet whose stream-key version is older
// than (current - 1) is dropped" via secretForVersion's bounds.
//
// frameVersion is read from the packet header (SPEC_FULL.md section 3);
// this method does not re-derive the nonce's embedded version, it
// trusts the header and verifies via the AEAD tag.
func (k *StreamKey) Decrypt(frameVersion uint32, ciphertext, aad []byte) ([]byte, error) {
	secret, err := k.secretForVersion(frameVersion)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}

	plaintext, err := decryptWithSecret(secret, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}

	return plaintext, nil
}
