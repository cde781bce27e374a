package qos

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/honeylink/honeylink-core/internal/transport"
)

func testSchedulerLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testItem(priority uint8, size int, at time.Time) Item {
	return Item{
		Packet: transport.Packet{
			Header: transport.Header{SessionID: uuid.New(), Priority: priority},
			Frame:  make([]byte, size),
		},
		Size:       size,
		EnqueuedAt: at,
	}
}

func TestScheduler_Enqueue_HeapTopIsHighestPriorityAtEqualArrival(t *testing.T) {
	t.Parallel()

	s := NewScheduler(DefaultConfig(), testSchedulerLogger())
	at := time.Unix(1_700_000_000, 0)

	if err := s.enqueue(testItem(1, 1000, at)); err != nil {
		t.Fatalf("enqueue priority 1: %v", err)
	}
	if err := s.enqueue(testItem(7, 1000, at)); err != nil {
		t.Fatalf("enqueue priority 7: %v", err)
	}
	if err := s.enqueue(testItem(4, 1000, at)); err != nil {
		t.Fatalf("enqueue priority 4: %v", err)
	}

	if s.pq.Len() != 3 {
		t.Fatalf("heap length = %d, want 3", s.pq.Len())
	}
	if s.pq[0].priority != 7 {
		t.Errorf("heap top priority = %d, want 7", s.pq[0].priority)
	}
}

func TestScheduler_Enqueue_BackpressureEvictsLowestPriority(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.DepthCap = 2
	s := NewScheduler(cfg, testSchedulerLogger())

	at := time.Unix(1_700_000_000, 0)
	if err := s.enqueue(testItem(3, 100, at)); err != nil {
		t.Fatalf("enqueue first priority-3: %v", err)
	}
	if err := s.enqueue(testItem(3, 100, at.Add(time.Millisecond))); err != nil {
		t.Fatalf("enqueue second priority-3: %v", err)
	}
	if total := totalQueued(s); total != 2 {
		t.Fatalf("total queued = %d, want 2", total)
	}

	if err := s.enqueue(testItem(5, 100, at.Add(2*time.Millisecond))); err != nil {
		t.Fatalf("enqueue priority-5 at cap: %v", err)
	}

	if total := totalQueued(s); total != 2 {
		t.Errorf("total queued after eviction = %d, want 2 (cap unchanged)", total)
	}
	if s.priorityCount[3] != 1 {
		t.Errorf("priority-3 count after eviction = %d, want 1", s.priorityCount[3])
	}
	if s.priorityCount[5] != 1 {
		t.Errorf("priority-5 count after admission = %d, want 1", s.priorityCount[5])
	}
}

func TestScheduler_Enqueue_BackpressureRejectsLowestPriority(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.DepthCap = 2
	s := NewScheduler(cfg, testSchedulerLogger())

	at := time.Unix(1_700_000_000, 0)
	if err := s.enqueue(testItem(3, 100, at)); err != nil {
		t.Fatalf("enqueue first priority-3: %v", err)
	}
	if err := s.enqueue(testItem(3, 100, at.Add(time.Millisecond))); err != nil {
		t.Fatalf("enqueue second priority-3: %v", err)
	}

	err := s.enqueue(testItem(2, 100, at.Add(2*time.Millisecond)))
	if !errors.Is(err, ErrBackpressure) {
		t.Fatalf("error = %v, want ErrBackpressure", err)
	}
	if total := totalQueued(s); total != 2 {
		t.Errorf("total queued after rejection = %d, want 2 (unchanged)", total)
	}
}

func TestScheduler_EvictOldest_RemovesSmallestVirtualFinishTime(t *testing.T) {
	t.Parallel()

	s := NewScheduler(DefaultConfig(), testSchedulerLogger())
	at := time.Unix(1_700_000_000, 0)

	if err := s.enqueue(testItem(2, 100, at)); err != nil {
		t.Fatalf("enqueue oldest: %v", err)
	}
	if err := s.enqueue(testItem(2, 100, at.Add(time.Second))); err != nil {
		t.Fatalf("enqueue newest: %v", err)
	}

	s.evictOldest(2)

	if s.priorityCount[2] != 1 {
		t.Fatalf("priority-2 count after evictOldest = %d, want 1", s.priorityCount[2])
	}
	if s.pq[0].v != virtualFinishTime(at.Add(time.Second), 100, 2) {
		t.Error("evictOldest removed the newer entry instead of the oldest")
	}
}

func TestScheduler_LowestNonEmptyPriority(t *testing.T) {
	t.Parallel()

	s := NewScheduler(DefaultConfig(), testSchedulerLogger())

	if _, ok := s.lowestNonEmptyPriority(); ok {
		t.Fatal("expected no non-empty priority on a fresh scheduler")
	}

	at := time.Unix(1_700_000_000, 0)
	if err := s.enqueue(testItem(5, 100, at)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.enqueue(testItem(2, 100, at)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, ok := s.lowestNonEmptyPriority()
	if !ok || got != 2 {
		t.Errorf("lowestNonEmptyPriority = (%d, %v), want (2, true)", got, ok)
	}
}

func TestScheduler_ApplyProfile_UpdatesSharesAndDepthCap(t *testing.T) {
	t.Parallel()

	s := NewScheduler(DefaultConfig(), testSchedulerLogger())

	newShares := [bandCount]float64{BandLow: 0.10, BandMid: 0.10, BandHigh: 0.80}
	if err := s.applyProfile(Profile{BandShares: newShares, DepthCap: 5}); err != nil {
		t.Fatalf("applyProfile: %v", err)
	}

	if s.depthCap != 5 {
		t.Errorf("depthCap = %d, want 5", s.depthCap)
	}
	if got := float64(s.bandLimiters[BandHigh].Limit()); got != newShares[BandHigh]*s.totalBytesPerSec {
		t.Errorf("high band limit = %f, want %f", got, newShares[BandHigh]*s.totalBytesPerSec)
	}
}

func totalQueued(s *Scheduler) int {
	total := 0
	for _, c := range s.priorityCount {
		total += c
	}
	return total
}
