package store

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// sealKeySize is the ChaCha20-Poly1305 key size in bytes.
const sealKeySize = 32

// DeriveSealKey derives a per-store AEAD sealing key from the device
// identity's X25519 private key via HKDF-SHA256 (SPEC_FULL.md section 6:
// "AEAD-sealed per record with a key HKDF-derived from the device-identity
// private key"). purpose disambiguates peers.db from profiles.db so the
// two stores never share a key even when opened by the same device.
func DeriveSealKey(identityPrivate [32]byte, purpose string) ([sealKeySize]byte, error) {
	var out [sealKeySize]byte

	r := hkdf.New(sha256.New, identityPrivate[:], []byte("honeylink/store/v1"), []byte(purpose))
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, fmt.Errorf("derive store seal key for %q: %w", purpose, err)
	}
	return out, nil
}
