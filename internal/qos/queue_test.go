package qos

import (
	"container/heap"
	"testing"
	"time"
)

func TestWeight(t *testing.T) {
	t.Parallel()

	if got := weight(0); got != 1 {
		t.Errorf("weight(0) = %d, want 1", got)
	}
	if got := weight(7); got != 128 {
		t.Errorf("weight(7) = %d, want 128", got)
	}
}

func TestVirtualFinishTime_HigherPriorityIsSmaller(t *testing.T) {
	t.Parallel()

	arrival := time.Unix(1_700_000_000, 0)
	low := virtualFinishTime(arrival, 1000, 0)
	high := virtualFinishTime(arrival, 1000, 7)

	if high >= low {
		t.Errorf("high priority v = %f, want < low priority v = %f", high, low)
	}
}

func TestVirtualFinishTime_LaterArrivalIsLarger(t *testing.T) {
	t.Parallel()

	earlier := time.Unix(1_700_000_000, 0)
	later := earlier.Add(time.Second)

	vEarlier := virtualFinishTime(earlier, 1000, 3)
	vLater := virtualFinishTime(later, 1000, 3)

	if vLater <= vEarlier {
		t.Errorf("later arrival v = %f, want > earlier arrival v = %f", vLater, vEarlier)
	}
}

func TestItemHeap_OrdersByVirtualFinishTimeThenPriority(t *testing.T) {
	t.Parallel()

	h := &itemHeap{}
	heap.Init(h)

	heap.Push(h, &heapEntry{v: 30, priority: 2})
	heap.Push(h, &heapEntry{v: 10, priority: 1})
	heap.Push(h, &heapEntry{v: 10, priority: 5}) // same v as above, higher priority wins tiebreak
	heap.Push(h, &heapEntry{v: 20, priority: 4})

	var order []uint8
	for h.Len() > 0 {
		order = append(order, heap.Pop(h).(*heapEntry).priority)
	}

	want := []uint8{5, 1, 4, 2}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %d, want %d (full order %v)", i, order[i], want[i], order)
		}
	}
}
