package store

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"gopkg.in/yaml.v3"
)

// frameOp distinguishes a live record from a tombstone within the
// append-only log.
type frameOp uint8

const (
	frameOpPut frameOp = iota + 1
	frameOpDelete
)

// record is the plaintext envelope sealed inside each on-disk frame.
type record struct {
	Op      frameOp `yaml:"op"`
	ID      string  `yaml:"id"`
	Payload []byte  `yaml:"payload,omitempty"`
}

// Store is an encrypted, append-only record log keyed by string id,
// generic over the record value type T (peer records, profile records).
// All exported methods are safe for concurrent use.
type Store[T any] struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	seal   cipher.AEAD
	values map[string]T
	closed bool
	logger *slog.Logger
}

// Open opens (creating if absent) the record log at path, seals/unseals
// records with sealKey, and replays every existing frame into memory.
func Open[T any](path string, sealKey [32]byte, logger *slog.Logger) (*Store[T], error) {
	aead, err := chacha20poly1305.New(sealKey[:])
	if err != nil {
		return nil, fmt.Errorf("store: construct AEAD: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	s := &Store[T]{
		path:   path,
		file:   f,
		seal:   aead,
		values: make(map[string]T),
		logger: logger.With(slog.String("component", "store"), slog.String("path", path)),
	}

	if err := s.replay(); err != nil {
		f.Close()
		return nil, err
	}

	return s, nil
}

// replay reads every frame from the start of the file and applies it to
// the in-memory map in order, so later frames (puts or deletes) win over
// earlier ones for the same id.
func (s *Store[T]) replay() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("store: seek to start: %w", err)
	}

	for {
		rec, err := s.readFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		switch rec.Op {
		case frameOpDelete:
			delete(s.values, rec.ID)
		case frameOpPut:
			var v T
			if err := yaml.Unmarshal(rec.Payload, &v); err != nil {
				return fmt.Errorf("store: decode record %q: %w", rec.ID, err)
			}
			s.values[rec.ID] = v
		default:
			return fmt.Errorf("store: unknown frame op %d for record %q", rec.Op, rec.ID)
		}
	}

	if _, err := s.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("store: seek to end: %w", err)
	}
	return nil
}

// readFrame reads and unseals the next length-prefixed frame from the
// file, returning io.EOF when no further frames remain.
func (s *Store[T]) readFrame() (record, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(s.file, lenBuf[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return record{}, fmt.Errorf("%w: truncated frame length", ErrCorruptFrame)
		}
		return record{}, err // io.EOF on a clean boundary
	}

	frameLen := binary.BigEndian.Uint32(lenBuf[:])
	sealed := make([]byte, frameLen)
	if _, err := io.ReadFull(s.file, sealed); err != nil {
		return record{}, fmt.Errorf("%w: truncated frame body: %v", ErrCorruptFrame, err)
	}

	nonceSize := s.seal.NonceSize()
	if len(sealed) < nonceSize {
		return record{}, fmt.Errorf("%w: frame shorter than nonce", ErrCorruptFrame)
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]

	plaintext, err := s.seal.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return record{}, fmt.Errorf("%w: %v", ErrCorruptFrame, err)
	}

	var rec record
	if err := yaml.Unmarshal(plaintext, &rec); err != nil {
		return record{}, fmt.Errorf("store: decode frame envelope: %w", err)
	}
	return rec, nil
}

// appendFrame seals rec and appends it to the file.
func (s *Store[T]) appendFrame(rec record) error {
	plaintext, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encode frame envelope: %w", err)
	}

	nonce := make([]byte, s.seal.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("store: generate nonce: %w", err)
	}

	sealed := s.seal.Seal(nil, nonce, plaintext, nil)
	frame := append(nonce, sealed...)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(frame)))

	if _, err := s.file.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("store: write frame length: %w", err)
	}
	if _, err := s.file.Write(frame); err != nil {
		return fmt.Errorf("store: write frame body: %w", err)
	}
	return s.file.Sync()
}

// Put inserts or replaces the record for id and appends the change to
// the on-disk log.
func (s *Store[T]) Put(id string, value T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	payload, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode value for %q: %w", id, err)
	}

	if err := s.appendFrame(record{Op: frameOpPut, ID: id, Payload: payload}); err != nil {
		return err
	}

	s.values[id] = value
	return nil
}

// Delete removes the record for id, appending a tombstone frame.
func (s *Store[T]) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, ok := s.values[id]; !ok {
		return ErrRecordNotFound
	}

	if err := s.appendFrame(record{Op: frameOpDelete, ID: id}); err != nil {
		return err
	}

	delete(s.values, id)
	return nil
}

// Get returns the current record for id.
func (s *Store[T]) Get(id string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.values[id]
	return v, ok
}

// All returns a copy of every live record, keyed by id.
func (s *Store[T]) All() map[string]T {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]T, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Compact rewrites the log from the current in-memory snapshot,
// discarding superseded puts and tombstoned deletes, per SPEC_FULL.md
// section 6's "append-only with periodic compaction." Grounded on
// internal/bfd/manager.go's ReconcileSessions rebuild-from-snapshot
// pattern.
func (s *Store[T]) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	tmpPath := s.path + ".compact"
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("store: open compaction file: %w", err)
	}

	old := s.file
	s.file = tmp

	var writeErr error
	for id, v := range s.values {
		payload, err := yaml.Marshal(v)
		if err != nil {
			writeErr = fmt.Errorf("store: encode value for %q during compaction: %w", id, err)
			break
		}
		if err := s.appendFrame(record{Op: frameOpPut, ID: id, Payload: payload}); err != nil {
			writeErr = err
			break
		}
	}

	if writeErr != nil {
		s.file = old
		tmp.Close()
		os.Remove(tmpPath)
		return writeErr
	}

	if err := tmp.Close(); err != nil {
		s.file = old
		return fmt.Errorf("store: close compaction file: %w", err)
	}
	if err := old.Close(); err != nil {
		s.logger.Warn("store: failed to close previous log file during compaction", slog.String("error", err.Error()))
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("store: replace log file: %w", err)
	}

	reopened, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("store: reopen compacted log: %w", err)
	}
	if _, err := reopened.Seek(0, io.SeekEnd); err != nil {
		reopened.Close()
		return fmt.Errorf("store: seek compacted log: %w", err)
	}
	s.file = reopened

	s.logger.Info("store compacted", slog.Int("records", len(s.values)))
	return nil
}

// Close releases the underlying file handle.
func (s *Store[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}
