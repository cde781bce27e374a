package policy

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/honeylink/honeylink-core/internal/crypto"
	"github.com/honeylink/honeylink-core/internal/qos"
	"github.com/honeylink/honeylink-core/internal/transport"
)

// Profile is a named, versioned bundle of QoS parameters (SPEC_FULL.md
// section 3, "QoS Profile"): per-band bandwidth weights, FEC strategy,
// max queue depth, and a latency target. Profiles are signed by the
// issuing device and carry a SemVer version.
type Profile struct {
	ID              string        `yaml:"id"`
	Version         string        `yaml:"version"`
	BandShares      [3]float64    `yaml:"band_shares"`
	FECStrategy     transport.FECMode `yaml:"fec_strategy"`
	MaxQueueDepth   int           `yaml:"max_queue_depth"`
	LatencyTarget   time.Duration `yaml:"latency_target"`
	DeprecatedAfter *time.Time    `yaml:"deprecated_after,omitempty"`
	IssuerPublicKey ed25519.PublicKey `yaml:"issuer_public_key"`
	Signature       []byte        `yaml:"signature,omitempty"`
}

// QoSProfile converts Profile's scheduler-relevant fields into the
// qos.Profile shape consumed by Scheduler.ApplyProfile.
func (p Profile) QoSProfile() qos.Profile {
	return qos.Profile{
		BandShares: p.BandShares,
		DepthCap:   p.MaxQueueDepth,
	}
}

// signingTranscript builds the deterministic byte sequence a profile's
// signature is computed over: every field except Signature itself, in a
// fixed order, so both signer and verifier agree on exactly what was
// signed regardless of YAML map-key ordering.
func (p Profile) signingTranscript() []byte {
	unsigned := p
	unsigned.Signature = nil

	// yaml.Marshal of a struct (not a map) preserves field-declaration
	// order deterministically, making this a stable transcript.
	out, err := yaml.Marshal(unsigned)
	if err != nil {
		// Profile contains only plain value types; Marshal cannot fail.
		panic(fmt.Sprintf("policy: marshal profile transcript: %v", err))
	}
	return out
}

// Sign computes and attaches a profile's Ed25519 signature using the
// issuing device's signer, and sets IssuerPublicKey to match.
func (p *Profile) Sign(signer crypto.Signer) {
	p.IssuerPublicKey = signer.PublicKey()
	p.Signature = signer.Sign(p.signingTranscript())
}

// verifySignature checks p's signature against its own IssuerPublicKey.
func (p Profile) verifySignature(signer crypto.Signer) error {
	if len(p.Signature) == 0 || len(p.IssuerPublicKey) == 0 {
		return ErrSignatureInvalid
	}
	if !signer.Verify(p.IssuerPublicKey, p.signingTranscript(), p.Signature) {
		return ErrSignatureInvalid
	}
	return nil
}

// parsedVersion parses Version as SemVer.
func (p Profile) parsedVersion() (*semver.Version, error) {
	v, err := semver.NewVersion(p.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidVersion, p.Version, err)
	}
	return v, nil
}
