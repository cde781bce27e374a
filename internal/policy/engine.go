package policy

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/honeylink/honeylink-core/internal/crypto"
	"github.com/honeylink/honeylink-core/internal/eventbus"
	"github.com/honeylink/honeylink-core/internal/store"
)

// previousKeySuffix marks the store key holding a profile id's
// last-known-good snapshot, kept alongside its live entry so Rollback
// survives a process restart.
const previousKeySuffix = "\x00previous"

// Engine is the Policy Engine (SPEC_FULL.md section 4.5): profile CRUD,
// signature/SemVer validation, update propagation over an event bus,
// and last-known-good rollback. The profile table is copy-on-write
// (SPEC_FULL.md section 5, "Profile table... copy-on-write so live
// sessions hold stable snapshots"): Read and List always return value
// copies, never a reference into Engine's internal state.
type Engine struct {
	mu       sync.RWMutex
	profiles *store.Store[Profile]
	bus      *eventbus.Bus[PolicyUpdated]
	verifier crypto.Signer
	logger   *slog.Logger
}

// NewEngine constructs a Policy Engine backed by profiles, a persisted
// store.Store[Profile] (SPEC_FULL.md section 6, "profiles.db"), bus for
// PolicyUpdated propagation, and verifier for Ed25519 signature checks
// (any Signer instance works — Verify only reads the public key given
// to it, the same idiom internal/crypto.PopVerifier.Verify uses).
func NewEngine(profiles *store.Store[Profile], bus *eventbus.Bus[PolicyUpdated], verifier crypto.Signer, logger *slog.Logger) *Engine {
	return &Engine{
		profiles: profiles,
		bus:      bus,
		verifier: verifier,
		logger:   logger.With(slog.String("component", "policy.engine")),
	}
}

func previousKey(id string) string { return id + previousKeySuffix }

// Install validates and installs a new profile version (SPEC_FULL.md
// section 4.5: "install verifies the Ed25519 signature against the
// issuing device's known public key and rejects on failure or on
// SemVer conflict"). allowMigration permits an otherwise-rejected
// SemVer major bump (spec.md section 3: "rejected unless an explicit
// migration is provided").
func (e *Engine) Install(profile Profile, allowMigration bool) error {
	if err := profile.verifySignature(e.verifier); err != nil {
		return err
	}

	newVersion, err := profile.parsedVersion()
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	current, hasCurrent := e.profiles.Get(profile.ID)
	if hasCurrent {
		currentVersion, err := current.parsedVersion()
		if err != nil {
			return err
		}
		if !allowMigration && newVersion.Major() > currentVersion.Major() {
			return fmt.Errorf("%w: profile %q %s -> %s", ErrMajorVersionBump, profile.ID, current.Version, profile.Version)
		}
	}

	if hasCurrent {
		if err := e.profiles.Put(previousKey(profile.ID), current); err != nil {
			return fmt.Errorf("policy: snapshot previous profile %q: %w", profile.ID, err)
		}
	}
	if err := e.profiles.Put(profile.ID, profile); err != nil {
		return fmt.Errorf("policy: install profile %q: %w", profile.ID, err)
	}

	e.logger.Info("profile installed",
		slog.String("profile_id", profile.ID),
		slog.String("version", profile.Version),
	)

	e.bus.Publish(PolicyUpdated{ProfileID: profile.ID, Version: profile.Version, Profile: profile})
	return nil
}

// Read returns the profile for id, optionally constrained to version.
// An empty version returns the current live profile.
func (e *Engine) Read(id, version string) (Profile, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, ok := e.profiles.Get(id)
	if !ok {
		return Profile{}, ErrProfileNotFound
	}
	if version != "" && p.Version != version {
		if prev, ok := e.profiles.Get(previousKey(id)); ok && prev.Version == version {
			return prev, nil
		}
		return Profile{}, ErrVersionNotFound
	}
	return p, nil
}

// List returns every currently live profile (not including
// last-known-good snapshots), one per installed profile id.
func (e *Engine) List() []Profile {
	e.mu.RLock()
	defer e.mu.RUnlock()

	all := e.profiles.All()
	out := make([]Profile, 0, len(all))
	for id, p := range all {
		if len(id) > len(previousKeySuffix) && id[len(id)-len(previousKeySuffix):] == previousKeySuffix {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Retire removes a profile id entirely (both its live entry and its
// last-known-good snapshot), rejecting a version mismatch so a caller
// cannot accidentally retire a profile out from under a concurrent
// install.
func (e *Engine) Retire(id, version string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.profiles.Get(id)
	if !ok {
		return ErrProfileNotFound
	}
	if version != "" && p.Version != version {
		return ErrVersionNotFound
	}

	if err := e.profiles.Delete(id); err != nil && !errors.Is(err, store.ErrRecordNotFound) {
		return fmt.Errorf("policy: retire profile %q: %w", id, err)
	}
	if _, ok := e.profiles.Get(previousKey(id)); ok {
		if err := e.profiles.Delete(previousKey(id)); err != nil {
			return fmt.Errorf("policy: retire profile %q snapshot: %w", id, err)
		}
	}
	return nil
}

// Rollback restores id's last-known-good snapshot as the live profile
// and re-emits a PolicyUpdated event (SPEC_FULL.md section 4.5:
// "rollback(id) restores it and re-emits an update event... used both
// on explicit operator command and on automatic failure recovery").
func (e *Engine) Rollback(id string) (Profile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev, ok := e.profiles.Get(previousKey(id))
	if !ok {
		return Profile{}, ErrNoRollbackSnapshot
	}

	if err := e.profiles.Put(id, prev); err != nil {
		return Profile{}, fmt.Errorf("policy: rollback profile %q: %w", id, err)
	}
	if err := e.profiles.Delete(previousKey(id)); err != nil {
		return Profile{}, fmt.Errorf("policy: clear rollback snapshot for %q: %w", id, err)
	}

	e.logger.Warn("profile rolled back",
		slog.String("profile_id", id),
		slog.String("restored_version", prev.Version),
	)

	e.bus.Publish(PolicyUpdated{ProfileID: id, Version: prev.Version, Profile: prev, Rollback: true})
	return prev, nil
}
