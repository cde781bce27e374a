// Package crypto implements the HoneyLink Crypto Core: the fixed,
// versioned cipher suite (X25519 ECDH, HKDF-SHA512 key derivation,
// ChaCha20-Poly1305 AEAD, Ed25519 signatures and proof-of-possession
// tokens) together with the key-hierarchy lifecycle — derivation,
// rotation, and zeroization — described in SPEC_FULL.md section 4.2.
//
// Callers hold opaque *RootKey / *DeviceMasterKey / *SessionKey /
// *StreamKey handles and call methods on them. Two places expose raw
// secrets outside this package: IdentityKeyPair's private halves are
// exported fields, and RootKey.Export copies out the root secret.
package crypto
