// Package qos implements HoneyLink's QoS Scheduler (SPEC_FULL.md
// section 4.4): an 8-priority weighted-fair-queueing dequeue loop that
// picks which pending packet Transport sends next, a three-band
// bandwidth enforcement window, and depth-capped backpressure.
//
// One Scheduler owns one goroutine, grounded on the teacher's
// one-goroutine-per-Session idiom generalized to one-goroutine-per-
// scheduler (SPEC_FULL.md section 5: "no subsystem shares mutable
// state with another except through channels"). Enqueue and the
// dequeued-packet output are both channel operations; nothing else
// touches a Scheduler's internal queues from outside its own
// goroutine.
package qos
