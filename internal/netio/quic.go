package netio

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/honeylink/honeylink-core/internal/crypto"
)

// ErrPeerIdentityMismatch is returned by the pinned-peer verifier when
// the certificate presented during the handshake does not carry the
// expected device's Ed25519 public key (SPEC_FULL.md section 6,
// "certificate verification via stored peer public key").
var ErrPeerIdentityMismatch = errors.New("netio: peer identity mismatch")

// certValiditySkew bounds the lifetime of the self-signed leaf used to
// carry a device's Ed25519 identity over TLS. HoneyLink has no
// certificate authority; the certificate is a container for the public
// key, not a trust anchor — trust comes from the pinned-peer verifier.
const certValiditySkew = 24 * time.Hour

// SelfSignedCertificate wraps identity.Signer's Ed25519 key in a
// minimal self-signed X.509 leaf so it can be presented as a
// tls.Certificate. There is no CA: both sides pin the peer's public
// key out of band (during pairing) and verify against it directly.
func SelfSignedCertificate(identity *crypto.IdentityKeyPair) (tls.Certificate, error) {
	pub := identity.Signer().PublicKey()

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate certificate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "honeylink-device"},
		NotBefore:    time.Now().Add(-certValiditySkew),
		NotAfter:     time.Now().Add(certValiditySkew),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}

	priv := ed25519.NewKeyFromSeed(identity.Ed25519Seed[:])

	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create self-signed certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}, nil
}

// PinnedPeerVerifier returns a tls.Config.VerifyPeerCertificate
// callback that accepts the handshake only if the leaf certificate's
// public key equals expectedPub exactly. Used in place of normal CA
// validation, since HoneyLink sessions are pre-paired device-to-device
// (SPEC_FULL.md section 6, Non-goal: no centralized service).
func PinnedPeerVerifier(expectedPub ed25519.PublicKey) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("netio: %w: no certificate presented", ErrPeerIdentityMismatch)
		}

		cert, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return fmt.Errorf("netio: parse peer certificate: %w", err)
		}

		got, ok := cert.PublicKey.(ed25519.PublicKey)
		if !ok || !got.Equal(expectedPub) {
			return ErrPeerIdentityMismatch
		}

		return nil
	}
}

// TLSConfig builds the tls.Config HoneyLink uses for both dialing and
// listening: the local self-signed identity certificate, ALPN pinned
// to "honeylink/1", and peer verification delegated entirely to
// VerifyPeerCertificate (InsecureSkipVerify is required to disable Go's
// built-in chain validation, which has no CA to validate against here).
// A listener requires the dialer to present its certificate too, so the
// callback runs on both sides.
func TLSConfig(localCert tls.Certificate, verifyPeer func([][]byte, [][]*x509.Certificate) error) *tls.Config {
	return &tls.Config{
		Certificates:          []tls.Certificate{localCert},
		ClientAuth:            tls.RequireAnyClientCert,
		InsecureSkipVerify:    true, //nolint:gosec // verification is delegated to VerifyPeerCertificate below.
		VerifyPeerCertificate: verifyPeer,
		NextProtos:            []string{"honeylink/1"},
		MinVersion:            tls.VersionTLS13,
	}
}

// quicConfig returns the shared quic.Config for dialers and listeners.
func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}
}

// Dial opens a QUIC connection to addr and returns a QUICAdapter
// carrying transport.Packet frames over a single bidirectional stream.
func Dial(ctx context.Context, addr string, tlsConf *tls.Config) (*QUICAdapter, error) {
	conn, err := quic.DialAddr(ctx, addr, tlsConf, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("netio: dial %s: %w", addr, err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "open stream failed")
		return nil, fmt.Errorf("netio: open stream to %s: %w", addr, err)
	}

	return newQUICAdapter(addr, conn, stream), nil
}

// Listener accepts inbound QUIC connections and hands back a
// QUICAdapter per accepted peer.
type Listener struct {
	ln *quic.Listener
}

// Listen binds a QUIC listener on addr.
func Listen(addr string, tlsConf *tls.Config) (*Listener, error) {
	ln, err := quic.ListenAddr(addr, tlsConf, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("netio: listen %s: %w", addr, err)
	}
	return &Listener{ln: ln}, nil
}

// Accept blocks for the next inbound connection, accepts its first
// stream, and returns a ready QUICAdapter.
func (l *Listener) Accept(ctx context.Context) (*QUICAdapter, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("netio: accept: %w", err)
	}

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "accept stream failed")
		return nil, fmt.Errorf("netio: accept stream: %w", err)
	}

	return newQUICAdapter(conn.RemoteAddr().String(), conn, stream), nil
}

// Addr returns the local listening address.
func (l *Listener) Addr() string { return l.ln.Addr().String() }

// Close shuts down the listener.
func (l *Listener) Close() error {
	if err := l.ln.Close(); err != nil {
		return fmt.Errorf("netio: close listener: %w", err)
	}
	return nil
}
