package qos

import "errors"

// Sentinel errors (SPEC_FULL.md section 4.4, "Backpressure").
var (
	// ErrBackpressure is returned when the scheduler's global depth cap
	// is reached and the newly enqueued packet is itself the lowest
	// non-empty priority present, so eviction would be pointless.
	ErrBackpressure = errors.New("qos: backpressure, queue at capacity")

	// ErrSchedulerClosed is not returned by the Scheduler. After its Run
	// goroutine has stopped, Enqueue blocks until the caller's ctx is
	// done and returns ctx.Err(); a request Run had already received
	// when it stopped gets Run's ctx error.
	ErrSchedulerClosed = errors.New("qos: scheduler closed")
)
