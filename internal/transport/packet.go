package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/google/uuid"
)

// Wire layout constants (SPEC_FULL.md section 3, Packet).
const (
	Version = 1

	// HeaderSize is the fixed-size header: version(1) + session id(16) +
	// stream id(1) + key version(4) + sequence(8) + priority(1) +
	// FEC-group id(4) + flags(1) + header CRC-32(4).
	HeaderSize = 1 + 16 + 1 + 4 + 8 + 1 + 4 + 1 + 4

	// MaxPlaintextSize mirrors crypto.MaxPlaintextSize; duplicated as an
	// untyped constant here to avoid a dependency cycle on the crypto
	// package's test helpers.
	MaxPlaintextSize = 1 << 20

	// MaxPacketSize bounds a fully encoded packet: header plus the
	// largest possible AEAD frame (nonce + 1 MiB plaintext + tag).
	MaxPacketSize = HeaderSize + 12 + MaxPlaintextSize + 16
)

// FlagFECProtected marks a packet as part of an FEC group (SPEC_FULL.md
// section 4.3).
const FlagFECProtected = 1 << 0

// Sentinel codec errors.
var (
	ErrPacketTooShort    = errors.New("transport: packet shorter than header")
	ErrPacketTooLarge    = errors.New("transport: packet exceeds MaxPacketSize")
	ErrUnsupportedVer    = errors.New("transport: unsupported packet version")
	ErrHeaderCRCMismatch = errors.New("transport: header CRC-32 mismatch")
	ErrPoolType          = errors.New("transport: unexpected pool item type")
)

// Header is the fixed on-wire packet header (SPEC_FULL.md section 3).
type Header struct {
	SessionID  uuid.UUID
	StreamID   uint8
	KeyVersion uint32
	Sequence   uint64
	Priority   uint8
	FECGroupID uint32
	Flags      uint8
}

// Packet pairs a decoded Header with its AEAD frame (nonce || ciphertext
// || tag, as produced by crypto.StreamKey.Encrypt).
type Packet struct {
	Header Header
	Frame  []byte
}

// PacketPool is a sync.Pool of reusable byte-slice buffers for packet
// marshal/unmarshal, grounded on the teacher's internal/bfd/packet.go
// PacketPool idiom: avoid per-packet allocation on the hot send/receive
// path.
//
//nolint:gochecknoglobals // pool is intentionally process-wide, matching the teacher.
var PacketPool = sync.Pool{
	New: func() any {
		buf := make([]byte, MaxPacketSize)
		return &buf
	},
}

// Marshal encodes a Packet into buf (header fields big-endian, CRC-32
// over the header, then the AEAD frame verbatim).
func Marshal(p Packet, buf []byte) ([]byte, error) {
	if len(p.Frame) > MaxPacketSize-HeaderSize {
		return nil, ErrPacketTooLarge
	}

	total := HeaderSize + len(p.Frame)
	if cap(buf) < total {
		buf = make([]byte, total)
	}
	buf = buf[:total]

	buf[0] = Version
	copy(buf[1:17], p.Header.SessionID[:])
	buf[17] = p.Header.StreamID
	binary.BigEndian.PutUint32(buf[18:22], p.Header.KeyVersion)
	binary.BigEndian.PutUint64(buf[22:30], p.Header.Sequence)
	buf[30] = p.Header.Priority
	binary.BigEndian.PutUint32(buf[31:35], p.Header.FECGroupID)
	buf[35] = p.Header.Flags

	crc := crc32.ChecksumIEEE(buf[0:36])
	binary.BigEndian.PutUint32(buf[36:40], crc)

	copy(buf[HeaderSize:], p.Frame)

	return buf, nil
}

// Unmarshal decodes a Packet from buf, validating the header CRC-32
// before trusting any field.
func Unmarshal(buf []byte) (Packet, error) {
	if len(buf) < HeaderSize {
		return Packet{}, ErrPacketTooShort
	}
	if len(buf) > MaxPacketSize {
		return Packet{}, ErrPacketTooLarge
	}
	if buf[0] != Version {
		return Packet{}, fmt.Errorf("%w: got %d", ErrUnsupportedVer, buf[0])
	}

	wantCRC := binary.BigEndian.Uint32(buf[36:40])
	gotCRC := crc32.ChecksumIEEE(buf[0:36])
	if wantCRC != gotCRC {
		return Packet{}, ErrHeaderCRCMismatch
	}

	var h Header
	copy(h.SessionID[:], buf[1:17])
	h.StreamID = buf[17]
	h.KeyVersion = binary.BigEndian.Uint32(buf[18:22])
	h.Sequence = binary.BigEndian.Uint64(buf[22:30])
	h.Priority = buf[30]
	h.FECGroupID = binary.BigEndian.Uint32(buf[31:35])
	h.Flags = buf[35]

	frame := make([]byte, len(buf)-HeaderSize)
	copy(frame, buf[HeaderSize:])

	return Packet{Header: h, Frame: frame}, nil
}
