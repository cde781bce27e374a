package crypto

import (
	"sync"
	"sync/atomic"
)

// KeySize is the size of X25519, Ed25519, and ChaCha20-Poly1305 keys in
// bytes.
const KeySize = 32

// Scope identifies a level of the four-scope key hierarchy (SPEC_FULL.md
// section 3, Key Hierarchy): root, device-master, session, stream.
type Scope uint8

const (
	ScopeRoot Scope = iota
	ScopeDeviceMaster
	ScopeSession
	ScopeStream
)

//nolint:gochecknoglobals // name table mirrors the teacher's Diag/State String() idiom.
var scopeNames = [...]string{"root", "device-master", "session", "stream"}

// String returns the lowercase scope name used in HKDF info strings and
// log fields.
func (s Scope) String() string {
	if int(s) < len(scopeNames) {
		return scopeNames[s]
	}
	return "unknown"
}

// RootKey is the per-peer root secret established at pairing time. It
// lives as long as the pairing (SPEC_FULL.md section 3).
type RootKey struct {
	mu      sync.Mutex
	secret  [KeySize]byte
	zeroed  bool
	version atomic.Uint32
}

// NewRootKey wraps a 32-byte secret (e.g., the pairing handshake's
// shared secret) as a RootKey at version 0.
func NewRootKey(secret [KeySize]byte) *RootKey {
	return &RootKey{secret: secret}
}

// Version returns the root key's current version.
func (k *RootKey) Version() uint32 { return k.version.Load() }

// Zero overwrites the secret in place. Safe to call more than once.
func (k *RootKey) Zero() {
	k.mu.Lock()
	defer k.mu.Unlock()
	ZeroKey(&k.secret)
	k.zeroed = true
}

// secretBytes returns the raw secret for derivation; the caller must not
// retain the returned slice beyond the derivation call.
func (k *RootKey) secretBytes() ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.zeroed {
		return nil, ErrKeyZeroed
	}
	return k.secret[:], nil
}

// Export copies out the raw root secret for a caller that must persist
// it across process restarts (spec.md's Peer Record: "a stored root
// shared secret"). The copy must only ever be written through a sealed
// store.Store, never to plaintext disk; NewRootKey reconstructs a
// RootKey from the same bytes after a restart.
func (k *RootKey) Export() ([KeySize]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.zeroed {
		return [KeySize]byte{}, ErrKeyZeroed
	}
	return k.secret, nil
}

// DeviceMasterKey is derived per session-establishment from the root key
// plus the handshake ECDH output.
type DeviceMasterKey struct {
	mu      sync.Mutex
	secret  [KeySize]byte
	zeroed  bool
	version atomic.Uint32
}

func (k *DeviceMasterKey) Version() uint32 { return k.version.Load() }

func (k *DeviceMasterKey) Zero() {
	k.mu.Lock()
	defer k.mu.Unlock()
	ZeroKey(&k.secret)
	k.zeroed = true
}

func (k *DeviceMasterKey) secretBytes() ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.zeroed {
		return nil, ErrKeyZeroed
	}
	return k.secret[:], nil
}

// SessionKey is derived from the device-master key, rotated on the
// 90-day schedule or on demand (SPEC_FULL.md sections 3, 4.2).
//
// SessionKey retains both the current and previous versions during the
// 1-hour post-rotation grace window, mirroring the teacher's auth.go
// sequence-window bookkeeping for replay detection.
type SessionKey struct {
	mu       sync.Mutex
	current  [KeySize]byte
	previous [KeySize]byte
	hasPrev  bool
	zeroed   bool
	version  atomic.Uint32
}

func (k *SessionKey) Version() uint32 { return k.version.Load() }

// Zero overwrites both the current and previous secrets.
func (k *SessionKey) Zero() {
	k.mu.Lock()
	defer k.mu.Unlock()
	ZeroKey(&k.current)
	ZeroKey(&k.previous)
	k.zeroed = true
}

func (k *SessionKey) secretForVersion(version uint32) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.zeroed {
		return nil, ErrKeyZeroed
	}
	cur := k.version.Load()
	switch {
	case version == cur:
		return k.current[:], nil
	case k.hasPrev && version+1 == cur:
		return k.previous[:], nil
	default:
		return nil, ErrVersionTooOld
	}
}

// StreamKey is derived per (session, stream_id, direction) from the
// session key and re-derived every time the session key rotates.
// Mirrors SessionKey's current/previous bookkeeping: a stream key
// retains the version it superseded for GraceWindow, since a frame
// encrypted just before rotation may still be in flight when the new
// version takes effect (SPEC_FULL.md section 3's invariant, "a packet
// whose stream-key version is older than (current - 1) is dropped").
type StreamKey struct {
	mu       sync.Mutex
	current  [KeySize]byte
	previous [KeySize]byte
	hasPrev  bool
	zeroed   bool
	version  atomic.Uint32
	sendSeq  atomic.Uint64
	recvHigh atomic.Uint64
}

func (k *StreamKey) Version() uint32 { return k.version.Load() }

// Zero overwrites both the current and previous secrets.
func (k *StreamKey) Zero() {
	k.mu.Lock()
	defer k.mu.Unlock()
	ZeroKey(&k.current)
	ZeroKey(&k.previous)
	k.zeroed = true
}

func (k *StreamKey) secretBytes() ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.zeroed {
		return nil, ErrKeyZeroed
	}
	return k.current[:], nil
}

// secretForVersion mirrors SessionKey.secretForVersion: it returns the
// secret for frameVersion, accepting the current version and, within
// the rotation grace window, the immediately preceding one.
func (k *StreamKey) secretForVersion(version uint32) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.zeroed {
		return nil, ErrKeyZeroed
	}
	cur := k.version.Load()
	switch {
	case version == cur:
		return k.current[:], nil
	case k.hasPrev && version+1 == cur:
		return k.previous[:], nil
	default:
		return nil, ErrVersionTooOld
	}
}

// nextSendSequence returns the next send sequence number, and an error
// once the 64-bit sequence space is exhausted (SPEC_FULL.md section 7,
// "nonce exhaustion (>= 2^64 on one key)").
func (k *StreamKey) nextSendSequence() (uint64, error) {
	seq := k.sendSeq.Add(1) - 1
	if seq == ^uint64(0) {
		return 0, ErrNonceExhausted
	}
	return seq, nil
}

// ZeroBytes zeroes a byte slice in place. Used to clear ephemeral
// private keys and derivation intermediates after use.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ZeroKey zeroes a fixed-size key array in place.
func ZeroKey(k *[KeySize]byte) {
	for i := range k {
		k[i] = 0
	}
}
