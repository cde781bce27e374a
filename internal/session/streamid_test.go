package session_test

import (
	"errors"
	"testing"

	"github.com/honeylink/honeylink-core/internal/session"
)

func TestNewStreamIDAllocator(t *testing.T) {
	t.Parallel()

	alloc := session.NewStreamIDAllocator()

	if alloc.IsAllocated(0) {
		t.Error("fresh allocator reports stream id 0 as allocated")
	}
	if alloc.Count() != 0 {
		t.Errorf("fresh allocator count = %d, want 0", alloc.Count())
	}
}

func TestStreamIDAllocator_AllocatesSmallestFree(t *testing.T) {
	t.Parallel()

	alloc := session.NewStreamIDAllocator()

	first, err := alloc.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if first != 0 {
		t.Fatalf("first allocation = %d, want 0", first)
	}

	second, err := alloc.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if second != 1 {
		t.Fatalf("second allocation = %d, want 1", second)
	}

	alloc.Release(first)

	third, err := alloc.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if third != 0 {
		t.Fatalf("third allocation after releasing 0 = %d, want 0", third)
	}
}

func TestStreamIDAllocator_ExhaustionAt256(t *testing.T) {
	t.Parallel()

	alloc := session.NewStreamIDAllocator()

	for i := 0; i < 256; i++ {
		if _, err := alloc.Allocate(); err != nil {
			t.Fatalf("allocation %d: unexpected error: %v", i, err)
		}
	}

	if _, err := alloc.Allocate(); !errors.Is(err, session.ErrStreamIDsExhausted) {
		t.Fatalf("expected ErrStreamIDsExhausted on the 257th allocation, got %v", err)
	}
}

func TestStreamIDAllocator_ReleaseUnallocatedIsNoop(t *testing.T) {
	t.Parallel()

	alloc := session.NewStreamIDAllocator()
	alloc.Release(42)

	if alloc.Count() != 0 {
		t.Fatalf("count after releasing unallocated id = %d, want 0", alloc.Count())
	}
}
