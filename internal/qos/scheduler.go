package qos

import (
	"container/heap"
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/honeylink/honeylink-core/internal/transport"
)

// DefaultDepthCap is the global queue depth cap across all eight
// priority classes (SPEC_FULL.md section 4.4: "hard depth cap (default
// 10,000 packets)").
const DefaultDepthCap = 10_000

// DefaultTotalBandwidthBytesPerSec is the scheduler's total outbound
// budget shared across the three bandwidth bands in the absence of a
// profile-supplied figure. spec.md names only the band split ratios,
// not an absolute budget; this value is a conservative placeholder a
// real deployment overrides via QoS Profile installation.
const DefaultTotalBandwidthBytesPerSec = 10 << 20 // 10 MiB/s

const priorityClasses = 8

// dequeueAttemptInterval bounds how often the Run loop retries a
// band-throttled head-of-line packet.
const dequeueAttemptInterval = time.Millisecond

// enqueueRequest carries an Enqueue call into the Scheduler's owning
// goroutine, matching the teacher's channel-mediated cross-goroutine
// request pattern (no shared mutable state outside one goroutine).
type enqueueRequest struct {
	item   Item
	result chan error
}

// Profile is the subset of a Policy Engine QoS Profile the scheduler
// applies live (SPEC_FULL.md section 4.5, "Update propagation": "The
// Session Orchestrator, for each active session using that profile,
// applies the new weights to the QoS Scheduler atomically at a packet
// boundary").
type Profile struct {
	BandShares [bandCount]float64
	DepthCap   int
}

// reconfigureRequest carries an ApplyProfile call into Run's goroutine
// so band limiters are never replaced concurrently with an in-flight
// AllowN check.
type reconfigureRequest struct {
	profile Profile
	result  chan error
}

// Scheduler implements the 8-priority WFQ dequeue loop for one session
// (SPEC_FULL.md section 4.4). Exactly one goroutine (Run) owns the
// heap and per-priority counters; all other access is through Enqueue
// and the Dequeue channel, both channel operations, grounded on
// SPEC_FULL.md section 5: "no subsystem shares mutable state with
// another except through channels."
type Scheduler struct {
	reqCh       chan enqueueRequest
	reconfigCh  chan reconfigureRequest
	outCh       chan Item

	depthCap          int
	totalBytesPerSec  float64
	bandLimiters      [bandCount]*rate.Limiter
	bandShares        [bandCount]float64
	logger            *slog.Logger

	priorityCount [priorityClasses]int
	pq            itemHeap

	dropped uint64
}

// Config configures a Scheduler's depth cap, total bandwidth budget,
// and band split (SPEC_FULL.md section 4.4; spec.md's
// "bandwidth_bands" config field).
type Config struct {
	DepthCap                  int
	TotalBandwidthBytesPerSec float64
	BandShares                [bandCount]float64
	OutputBuffer              int
}

// DefaultConfig returns the scheduler's default tuning.
func DefaultConfig() Config {
	return Config{
		DepthCap:                  DefaultDepthCap,
		TotalBandwidthBytesPerSec: DefaultTotalBandwidthBytesPerSec,
		BandShares:                DefaultBandShares,
		OutputBuffer:              64,
	}
}

// NewScheduler constructs a Scheduler. Call Run in its own goroutine
// to start dequeuing; Enqueue and Dequeue() are safe to call from any
// goroutine once Run is started.
func NewScheduler(cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.DepthCap <= 0 {
		cfg.DepthCap = DefaultDepthCap
	}
	if cfg.TotalBandwidthBytesPerSec <= 0 {
		cfg.TotalBandwidthBytesPerSec = DefaultTotalBandwidthBytesPerSec
	}
	if cfg.OutputBuffer <= 0 {
		cfg.OutputBuffer = 64
	}

	return &Scheduler{
		reqCh:            make(chan enqueueRequest),
		reconfigCh:       make(chan reconfigureRequest),
		outCh:            make(chan Item, cfg.OutputBuffer),
		depthCap:         cfg.DepthCap,
		totalBytesPerSec: cfg.TotalBandwidthBytesPerSec,
		bandLimiters:     newBandLimiters(cfg.TotalBandwidthBytesPerSec, cfg.BandShares, transport.MaxPacketSize),
		bandShares:       cfg.BandShares,
		logger:           logger.With(slog.String("component", "qos.scheduler")),
	}
}

// ApplyProfile reconfigures the scheduler's band shares and depth cap
// from a newly installed QoS Profile, applied atomically at the next
// packet boundary inside Run's goroutine (SPEC_FULL.md section 4.5).
// A zero DepthCap in profile leaves the current depth cap unchanged.
func (s *Scheduler) ApplyProfile(ctx context.Context, profile Profile) error {
	req := reconfigureRequest{profile: profile, result: make(chan error, 1)}

	select {
	case s.reconfigCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue admits a packet for scheduling, blocking until the owning
// goroutine processes it or ctx is cancelled. Returns ErrBackpressure
// when the scheduler is at its global depth cap and the new packet is
// itself the lowest non-empty priority present (SPEC_FULL.md section
// 4.4, "Backpressure").
func (s *Scheduler) Enqueue(ctx context.Context, item Item) error {
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now()
	}

	req := enqueueRequest{item: item, result: make(chan error, 1)}

	select {
	case s.reqCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue returns the channel dequeued packets are delivered on.
// Transport reads from this channel; a full channel (a slow Transport)
// naturally backpressures Run's dequeue loop, and from there Enqueue
// callers, per SPEC_FULL.md section 5's bounded-channel backpressure
// contract.
func (s *Scheduler) Dequeue() <-chan Item { return s.outCh }

// Run drives the scheduler's single owning goroutine until ctx is
// cancelled. It processes enqueue requests and attempts to dequeue the
// globally-smallest-virtual-finish-time packet across all non-empty
// priority queues, honoring each packet's bandwidth band budget.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		if s.pq.Len() == 0 {
			select {
			case <-ctx.Done():
				s.drainPending(ctx.Err())
				return
			case req := <-s.reqCh:
				req.result <- s.enqueue(req.item)
			case req := <-s.reconfigCh:
				req.result <- s.applyProfile(req.profile)
			}
			continue
		}

		top := s.pq[0]
		band := bandForPriority(top.priority)

		if !s.bandLimiters[band].AllowN(time.Now(), top.item.Size) {
			select {
			case <-ctx.Done():
				s.drainPending(ctx.Err())
				return
			case req := <-s.reqCh:
				req.result <- s.enqueue(req.item)
			case req := <-s.reconfigCh:
				req.result <- s.applyProfile(req.profile)
			case <-time.After(dequeueAttemptInterval):
			}
			continue
		}

		popped := heap.Pop(&s.pq).(*heapEntry)
		s.priorityCount[popped.priority]--

		select {
		case <-ctx.Done():
			s.drainPending(ctx.Err())
			return
		case s.outCh <- popped.item:
		case req := <-s.reqCh:
			// Accept the enqueue without losing the already-popped
			// item: push it back ahead of processing the new request
			// so ordering (and the consumed band token) are preserved.
			heap.Push(&s.pq, popped)
			s.priorityCount[popped.priority]++
			req.result <- s.enqueue(req.item)
		case req := <-s.reconfigCh:
			heap.Push(&s.pq, popped)
			s.priorityCount[popped.priority]++
			req.result <- s.applyProfile(req.profile)
		}
	}
}

// applyProfile is called only from Run's goroutine. Rebuilding the
// band limiters from scratch means any band's accumulated tokens
// reset, which is acceptable: the update lands at a packet boundary,
// not mid-packet, satisfying the atomicity requirement without
// needing to preserve partial token state across a share change.
func (s *Scheduler) applyProfile(profile Profile) error {
	s.bandShares = profile.BandShares
	if profile.DepthCap > 0 {
		s.depthCap = profile.DepthCap
	}
	s.bandLimiters = newBandLimiters(s.totalBytesPerSec, s.bandShares, transport.MaxPacketSize)
	return nil
}

// drainPending replies to any enqueue or reconfigure requests still in
// flight when Run stops, so callers never block forever on a dead
// scheduler.
func (s *Scheduler) drainPending(err error) {
	for {
		select {
		case req := <-s.reqCh:
			req.result <- err
		case req := <-s.reconfigCh:
			req.result <- err
		default:
			return
		}
	}
}

// enqueue is called only from Run's goroutine. It applies the global
// depth cap / lowest-priority-eviction backpressure rule (SPEC_FULL.md
// section 4.4) before pushing the new item onto the heap.
func (s *Scheduler) enqueue(item Item) error {
	total := 0
	for _, c := range s.priorityCount {
		total += c
	}

	priority := item.Packet.Header.Priority

	if total >= s.depthCap {
		lowest, ok := s.lowestNonEmptyPriority()
		if !ok || priority <= lowest {
			s.dropped++
			return ErrBackpressure
		}
		s.evictOldest(lowest)
	}

	entry := &heapEntry{
		item:     item,
		v:        virtualFinishTime(item.EnqueuedAt, item.Size, priority),
		priority: priority,
	}
	heap.Push(&s.pq, entry)
	s.priorityCount[priority]++

	return nil
}

// lowestNonEmptyPriority returns the smallest priority class with at
// least one queued item.
func (s *Scheduler) lowestNonEmptyPriority() (uint8, bool) {
	for p := 0; p < priorityClasses; p++ {
		if s.priorityCount[p] > 0 {
			return uint8(p), true
		}
	}
	return 0, false
}

// evictOldest drops the oldest (smallest virtual finish time) queued
// entry at the given priority, emitting a log line in place of the
// telemetry event spec.md names (telemetry exporters are explicitly
// out of scope, SPEC_FULL.md section 1).
func (s *Scheduler) evictOldest(priority uint8) {
	oldestIdx := -1
	var oldestV float64

	for i, entry := range s.pq {
		if entry.priority != priority {
			continue
		}
		if oldestIdx == -1 || entry.v < oldestV {
			oldestIdx = i
			oldestV = entry.v
		}
	}
	if oldestIdx == -1 {
		return
	}

	evicted := heap.Remove(&s.pq, oldestIdx).(*heapEntry)
	s.priorityCount[priority]--
	s.dropped++

	s.logger.Warn("dropped packet under backpressure",
		slog.Int("priority", int(priority)),
		slog.String("session_id", evicted.item.Packet.Header.SessionID.String()),
		slog.Int("stream_id", int(evicted.item.Packet.Header.StreamID)),
	)
}

// Dropped returns the total number of packets dropped to backpressure:
// both evicted packets and outright Enqueue rejections.
func (s *Scheduler) Dropped() uint64 { return s.dropped }
