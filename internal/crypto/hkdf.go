package crypto

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"hash"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
)

// infoPrefix is the mandatory context-separation prefix for every HKDF
// info string (SPEC_FULL.md section 4.2: `"HoneyLink-v1|<scope>|<context>"`).
const infoPrefix = "HoneyLink-v1"

// buildInfo composes the scope-separated HKDF info string.
func buildInfo(scope Scope, context string) []byte {
	return []byte(fmt.Sprintf("%s|%s|%s", infoPrefix, scope, context))
}

// DeriveDeviceMasterKey derives the device-master key from the root
// secret and the pairing handshake transcript (SPEC_FULL.md section 3:
// "derived per session-establishment from root + handshake ECDH output").
func DeriveDeviceMasterKey(root *RootKey, handshakeTranscript []byte) (*DeviceMasterKey, error) {
	secret, err := root.secretBytes()
	if err != nil {
		return nil, fmt.Errorf("derive device-master key: %w", err)
	}

	out, err := deriveHKDF(sha512.New, secret, handshakeTranscript, buildInfo(ScopeDeviceMaster, "handshake"))
	if err != nil {
		return nil, fmt.Errorf("derive device-master key: %w", err)
	}

	dm := &DeviceMasterKey{secret: out}
	return dm, nil
}

// DeriveSessionKey derives a session key from the device-master key at
// the given version. Pass the previous SessionKey (may be nil) to
// preserve it for the rotation grace window.
func DeriveSessionKey(dm *DeviceMasterKey, version uint32, prev *SessionKey) (*SessionKey, error) {
	secret, err := dm.secretBytes()
	if err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}

	salt := make([]byte, 4)
	binary.BigEndian.PutUint32(salt, version)

	out, err := deriveHKDF(sha512.New, secret, salt, buildInfo(ScopeSession, "session-key"))
	if err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}

	sk := &SessionKey{current: out}
	sk.version.Store(version)
	if prev != nil {
		func() {
			prev.mu.Lock()
			defer prev.mu.Unlock()
			if !prev.zeroed {
				sk.previous = prev.current
				sk.hasPrev = true
			}
		}()
	}
	return sk, nil
}

// DeriveStreamKey derives a stream key from the session key for the
// given (streamID, direction) at the given version. SPEC_FULL.md
// section 4.2 allows SHA-256 for stream keys; this module uses it here
// for the higher-throughput, lower-scope derivation while
// session-and-above scopes use SHA-512. Pass the previous StreamKey
// (may be nil) to preserve it for the rotation grace window, mirroring
// DeriveSessionKey's prev-threading.
func DeriveStreamKey(sk *SessionKey, streamID uint8, direction string, version uint32, prev *StreamKey) (*StreamKey, error) {
	secret, err := sk.secretForVersion(version)
	if err != nil {
		return nil, fmt.Errorf("derive stream key: %w", err)
	}

	salt := []byte{streamID}
	info := buildInfo(ScopeStream, fmt.Sprintf("%s-%d", direction, streamID))

	out, err := deriveHKDF(sha256.New, secret, salt, info)
	if err != nil {
		return nil, fmt.Errorf("derive stream key: %w", err)
	}

	stk := &StreamKey{current: out}
	stk.version.Store(version)
	if prev != nil {
		func() {
			prev.mu.Lock()
			defer prev.mu.Unlock()
			if !prev.zeroed {
				stk.previous = prev.current
				stk.hasPrev = true
			}
		}()
		if stk.hasPrev {
			time.AfterFunc(GraceWindow, func() {
				stk.mu.Lock()
				ZeroKey(&stk.previous)
				stk.hasPrev = false
				stk.mu.Unlock()
			})
		}
	}
	return stk, nil
}

// deriveHKDF runs HKDF-Extract-and-Expand and fills a 32-byte key.
func deriveHKDF(hashFn func() hash.Hash, secret, salt, info []byte) ([KeySize]byte, error) {
	var out [KeySize]byte
	reader := hkdf.New(hashFn, secret, salt, info)
	if _, err := io.ReadFull(reader, out[:]); err != nil {
		return out, fmt.Errorf("hkdf expand: %w", err)
	}
	return out, nil
}
