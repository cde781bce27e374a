// Package transport implements HoneyLink's Transport component
// (SPEC_FULL.md section 4.3): the wire packet codec, QUIC-based
// delivery, Reed-Solomon FEC mode selection, retry with backoff and a
// per-peer circuit breaker, and hot-swap between physical adapters.
package transport
