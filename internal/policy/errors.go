package policy

import "errors"

var (
	// ErrSignatureInvalid is returned when a profile's Ed25519 signature
	// fails to verify against its issuer's public key.
	ErrSignatureInvalid = errors.New("policy: profile signature invalid")

	// ErrMajorVersionBump is returned when install is given a profile
	// whose SemVer major component exceeds the currently installed
	// version for that id without an explicit migration (SPEC_FULL.md
	// section 3 invariant: "a profile update with a SemVer major bump
	// is rejected unless an explicit migration is provided").
	ErrMajorVersionBump = errors.New("policy: major version bump rejected without migration")

	// ErrProfileNotFound is returned by read/retire/rollback for an
	// unknown profile id.
	ErrProfileNotFound = errors.New("policy: profile not found")

	// ErrVersionNotFound is returned by read when the id exists but not
	// at the requested version.
	ErrVersionNotFound = errors.New("policy: profile version not found")

	// ErrNoRollbackSnapshot is returned by Rollback when no
	// last-known-good snapshot exists for the id (e.g. it has only ever
	// had one version installed).
	ErrNoRollbackSnapshot = errors.New("policy: no rollback snapshot available")

	// ErrInvalidVersion is returned when a profile's Version field does
	// not parse as SemVer.
	ErrInvalidVersion = errors.New("policy: version does not parse as SemVer")
)
