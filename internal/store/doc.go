// Package store implements the encrypted-at-rest, append-only record
// store backing peers.db and profiles.db (SPEC_FULL.md section 6,
// "Persisted state").
//
// Each record is sealed individually with ChaCha20-Poly1305 under a key
// HKDF-derived from the device identity's X25519 private key, then
// appended to a single os.File as a length-prefixed frame — the same
// shape the teacher reaches for whenever it needs a small local record
// store (plain os.File, no embedded database). Loading a store replays
// every frame in file order into an in-memory map; Compact rewrites the
// file from that map, discarding superseded and tombstoned records,
// grounded on internal/bfd/manager.go's ReconcileSessions "rebuild
// authoritative state from a snapshot" pattern.
package store
