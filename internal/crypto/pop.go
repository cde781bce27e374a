package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"
)

// PopTTL is the maximum lifetime of a proof-of-possession token
// (SPEC_FULL.md section 4.2: "max TTL 5 minutes").
const PopTTL = 5 * time.Minute

// Signer signs and verifies messages with an identity's Ed25519 key.
type Signer interface {
	Sign(message []byte) []byte
	Verify(publicKey ed25519.PublicKey, message, signature []byte) bool
	PublicKey() ed25519.PublicKey
}

type ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

func newEd25519Signer(seed [KeySize]byte) (Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ed25519 seed must be %d bytes", ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed[:])
	return &ed25519Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

func (s *ed25519Signer) Sign(message []byte) []byte {
	return ed25519.Sign(s.priv, message)
}

func (s *ed25519Signer) Verify(publicKey ed25519.PublicKey, message, signature []byte) bool {
	return ed25519.Verify(publicKey, message, signature)
}

func (s *ed25519Signer) PublicKey() ed25519.PublicKey { return s.pub }

// Token is a short-lived, signed proof-of-possession binding an
// operation to a session's key material (DPoP-compatible, SPEC_FULL.md
// section 4.2).
type Token struct {
	Method    string
	URL       string
	Nonce     [16]byte
	IssuedAt  time.Time
	Signature []byte
}

// MintPop mints a PoP token bound to method+url, signed by signer. The
// nonce is freshly random per token so verifiers can detect replay.
func MintPop(signer Signer, method, url string) (Token, error) {
	var nonce [16]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return Token{}, fmt.Errorf("mint pop: generate nonce: %w", err)
	}

	issuedAt := time.Now()
	msg := popTranscript(method, url, nonce, issuedAt)
	sig := signer.Sign(msg)

	return Token{
		Method:    method,
		URL:       url,
		Nonce:     nonce,
		IssuedAt:  issuedAt,
		Signature: sig,
	}, nil
}

// popTranscript builds the exact byte sequence a PoP token signs over:
// method, url, nonce, and issue time, each length-prefixed to avoid
// ambiguous concatenation.
func popTranscript(method, url string, nonce [16]byte, issuedAt time.Time) []byte {
	buf := make([]byte, 0, len(method)+len(url)+16+8+12)
	buf = appendLengthPrefixed(buf, []byte(method))
	buf = appendLengthPrefixed(buf, []byte(url))
	buf = append(buf, nonce[:]...)

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(issuedAt.UnixNano()))
	buf = append(buf, ts[:]...)

	return buf
}

func appendLengthPrefixed(buf, data []byte) []byte {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(data)))
	buf = append(buf, l[:]...)
	return append(buf, data...)
}

// PopVerifier verifies PoP tokens and rejects replayed nonces within
// the token's validity window.
type PopVerifier struct {
	mu      sync.Mutex
	seen    map[[16]byte]time.Time
	lastGC  time.Time
	nowFunc func() time.Time
}

// NewPopVerifier constructs an empty replay cache.
func NewPopVerifier() *PopVerifier {
	return &PopVerifier{
		seen:    make(map[[16]byte]time.Time),
		nowFunc: time.Now,
	}
}

// Verify checks the token's signature, TTL, and replay status against
// method/url and the presenting identity's public key.
func (v *PopVerifier) Verify(pub []byte, method, url string, tok Token, signer Signer) error {
	now := v.nowFunc()

	if now.Sub(tok.IssuedAt) > PopTTL {
		return ErrPopExpired
	}

	if subtle.ConstantTimeCompare([]byte(method), []byte(tok.Method)) != 1 ||
		subtle.ConstantTimeCompare([]byte(url), []byte(tok.URL)) != 1 {
		return ErrSignatureVerification
	}

	msg := popTranscript(tok.Method, tok.URL, tok.Nonce, tok.IssuedAt)
	if !signer.Verify(pub, msg, tok.Signature) {
		return ErrSignatureVerification
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.gcLocked(now)

	if _, dup := v.seen[tok.Nonce]; dup {
		return ErrPopReplayed
	}
	v.seen[tok.Nonce] = tok.IssuedAt.Add(PopTTL)

	return nil
}

// gcLocked drops expired nonce entries. Called with mu held.
func (v *PopVerifier) gcLocked(now time.Time) {
	if now.Sub(v.lastGC) < time.Minute {
		return
	}
	v.lastGC = now
	for nonce, expiry := range v.seen {
		if now.After(expiry) {
			delete(v.seen, nonce)
		}
	}
}
