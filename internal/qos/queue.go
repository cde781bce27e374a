package qos

import (
	"container/heap"
	"time"

	"github.com/honeylink/honeylink-core/internal/transport"
)

// Item is one pending packet awaiting transmission (SPEC_FULL.md
// section 4.4, "Pick which pending packet to hand to Transport next").
type Item struct {
	Packet     transport.Packet
	Size       int // bytes; wire size, used for virtual finish time and bandwidth accounting.
	EnqueuedAt time.Time
}

// weight implements SPEC_FULL.md section 4.4: "weight = 2^priority".
func weight(priority uint8) uint64 { return uint64(1) << priority }

// virtualFinishTime implements SPEC_FULL.md section 4.4:
// "v = arrival_time + size/weight". size/weight is scaled to
// nanoseconds so it combines with the nanosecond arrival timestamp in
// consistent units; a lower weight (lower priority) produces a larger
// addend and so a later virtual finish time.
func virtualFinishTime(arrival time.Time, size int, priority uint8) float64 {
	return float64(arrival.UnixNano()) + float64(size)/float64(weight(priority))*float64(time.Second)
}

// heapEntry is one item tracked in the scheduler's priority heap, in
// the shape of the classic container/heap priority-queue example:
// index is maintained by Swap so a specific entry can later be removed
// by heap.Remove (used for backpressure eviction of the oldest entry
// in a specific priority).
type heapEntry struct {
	item     Item
	v        float64
	priority uint8
	index    int
}

// itemHeap orders entries by ascending virtual finish time, with
// priority (descending) as the tiebreaker (SPEC_FULL.md section 4.4:
// "smallest v across non-empty queues, with priority as the
// tiebreaker").
type itemHeap []*heapEntry

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].v != h[j].v {
		return h[i].v < h[j].v
	}
	return h[i].priority > h[j].priority
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	entry := x.(*heapEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]
	return entry
}

var _ heap.Interface = (*itemHeap)(nil)
