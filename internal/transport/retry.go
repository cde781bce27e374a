package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy configures exponential backoff with jitter (SPEC_FULL.md
// section 4.3: "100 ms -> 200 ms -> 400 ms, maximum 3 attempts").
type RetryPolicy struct {
	BaseInterval time.Duration
	MaxAttempts  int
}

// DefaultRetryPolicy matches the spec's fixed defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{BaseInterval: 100 * time.Millisecond, MaxAttempts: 3}
}

// newBackOff builds a cenkalti/backoff/v4 ExponentialBackOff configured
// to double from BaseInterval and bounded to MaxAttempts attempts in
// total (MaxAttempts-1 retries),
// grounded on real usage of cenkalti/backoff across
// malbeclabs-doublezero's telemetry and probing packages.
func (p RetryPolicy) newBackOff(ctx context.Context) backoff.BackOffContext {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseInterval
	eb.Multiplier = 2
	eb.RandomizationFactor = 0.25 // jitter
	eb.MaxElapsedTime = 0         // bounded by attempt count instead, below

	withRetries := backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1))
	return backoff.WithContext(withRetries, ctx)
}

// IsRetryable reports whether err is one of the taxonomy's retryable
// Transient I/O kinds (SPEC_FULL.md section 7): timeouts, buffer
// overflow, transient I/O. Authentication failures and protocol
// violations are never retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientIO) || errors.Is(err, context.DeadlineExceeded)
}

// ErrTransientIO marks a send/receive failure as retryable.
var ErrTransientIO = errors.New("transport: transient I/O error")

// ErrNonRetryable marks a send/receive failure as fatal to the attempt.
var ErrNonRetryable = errors.New("transport: non-retryable error")

// SendWithRetry calls send up to policy.MaxAttempts times, backing off
// between retryable failures. Non-retryable errors return immediately
// without consuming further attempts.
func SendWithRetry(ctx context.Context, policy RetryPolicy, send func(ctx context.Context) error) error {
	bo := policy.newBackOff(ctx)

	operation := func() error {
		err := send(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(operation, bo); err != nil {
		return fmt.Errorf("send with retry: %w", err)
	}
	return nil
}

// --- Circuit breaker -------------------------------------------------

// BreakerState is one of the circuit breaker's three states.
type BreakerState uint8

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// breakerEvent is an outcome fed into the breaker.
type breakerEvent uint8

const (
	eventSuccess breakerEvent = iota
	eventFailure
	eventProbeTimerFired
)

type breakerTransition struct {
	to     BreakerState
	action func(*CircuitBreaker)
}

// breakerTable is the circuit breaker's state-transition table,
// grounded on the teacher's internal/bfd/fsm.go table-driven FSM
// pattern (package-level map literal keyed by (state, event)) reapplied
// at the smaller granularity of open/closed/half-open instead of
// per-RFC-5880 session states.
//
//nolint:gochecknoglobals // transition table is intentionally package-level, per the teacher's fsm.go.
var breakerTable = map[BreakerState]map[breakerEvent]breakerTransition{
	BreakerClosed: {
		eventSuccess: {to: BreakerClosed, action: (*CircuitBreaker).resetFailures},
		eventFailure: {to: BreakerClosed, action: (*CircuitBreaker).recordFailureAndMaybeOpen},
	},
	BreakerOpen: {
		eventProbeTimerFired: {to: BreakerHalfOpen, action: nil},
		eventFailure:         {to: BreakerOpen, action: nil},
	},
	BreakerHalfOpen: {
		eventSuccess: {to: BreakerClosed, action: (*CircuitBreaker).resetFailures},
		eventFailure: {to: BreakerOpen, action: (*CircuitBreaker).armProbeTimer},
	},
}

// CircuitBreaker opens after FailureThreshold consecutive failures and
// half-opens after ReopenAfter (SPEC_FULL.md section 4.3: "opens after
// 5 consecutive failures, half-opens after 30 seconds").
type CircuitBreaker struct {
	FailureThreshold int
	ReopenAfter      time.Duration

	mu         sync.Mutex
	state      BreakerState
	failures   int
	probeTimer *time.Timer
	nowFunc    func() time.Time
}

// NewCircuitBreaker builds a closed breaker with the spec's defaults.
func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{
		FailureThreshold: 5,
		ReopenAfter:      30 * time.Second,
		state:            BreakerClosed,
		nowFunc:          time.Now,
	}
}

// State returns the breaker's current state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a new send attempt may proceed.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state != BreakerOpen
}

// RecordSuccess transitions the breaker on a successful send.
func (b *CircuitBreaker) RecordSuccess() {
	b.apply(eventSuccess)
}

// RecordFailure transitions the breaker on a failed send.
func (b *CircuitBreaker) RecordFailure() {
	b.apply(eventFailure)
}

func (b *CircuitBreaker) apply(ev breakerEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	transitions, ok := breakerTable[b.state]
	if !ok {
		return
	}
	t, ok := transitions[ev]
	if !ok {
		return
	}
	b.state = t.to
	if t.action != nil {
		t.action(b)
	}
}

func (b *CircuitBreaker) resetFailures() {
	b.failures = 0
	if b.probeTimer != nil {
		b.probeTimer.Stop()
	}
}

func (b *CircuitBreaker) recordFailureAndMaybeOpen() {
	b.failures++
	if b.failures >= b.FailureThreshold {
		b.state = BreakerOpen
		b.armProbeTimer()
	}
}

func (b *CircuitBreaker) armProbeTimer() {
	if b.probeTimer != nil {
		b.probeTimer.Stop()
	}
	b.probeTimer = time.AfterFunc(b.ReopenAfter, func() {
		b.apply(eventProbeTimerFired)
	})
}
