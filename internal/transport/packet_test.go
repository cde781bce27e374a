package transport

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
)

func TestMarshalUnmarshal_RoundTrip(t *testing.T) {
	p := Packet{
		Header: Header{
			SessionID:  uuid.New(),
			StreamID:   42,
			KeyVersion: 3,
			Sequence:   99,
			Priority:   7,
			FECGroupID: 12,
			Flags:      FlagFECProtected,
		},
		Frame: []byte("encrypted-frame-bytes"),
	}

	buf, err := Marshal(p, nil)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := Unmarshal(buf)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.Header != p.Header {
		t.Fatalf("header mismatch: got %+v want %+v", got.Header, p.Header)
	}
	if !bytes.Equal(got.Frame, p.Frame) {
		t.Fatalf("frame mismatch: got %q want %q", got.Frame, p.Frame)
	}
}

func TestUnmarshal_RejectsCRCMismatch(t *testing.T) {
	p := Packet{Header: Header{SessionID: uuid.New()}, Frame: []byte("x")}
	buf, err := Marshal(p, nil)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	buf[10] ^= 0xFF

	if _, err := Unmarshal(buf); err != ErrHeaderCRCMismatch {
		t.Fatalf("expected ErrHeaderCRCMismatch, got %v", err)
	}
}

func TestUnmarshal_RejectsTooShort(t *testing.T) {
	if _, err := Unmarshal([]byte{1, 2, 3}); err != ErrPacketTooShort {
		t.Fatalf("expected ErrPacketTooShort, got %v", err)
	}
}

func TestPacketPool_ReturnsUsableBuffer(t *testing.T) {
	bufp, ok := PacketPool.Get().(*[]byte)
	if !ok {
		t.Fatal("pool returned unexpected type")
	}
	defer PacketPool.Put(bufp)

	if len(*bufp) != MaxPacketSize {
		t.Fatalf("expected pooled buffer of size %d, got %d", MaxPacketSize, len(*bufp))
	}
}
