package resilience

import (
	"fmt"
	"sync"
	"time"
)

// BreakerState is the circuit breaker's current mode.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half-open"
)

// OpenError is returned when a call is rejected because the circuit is open.
// The underlying function was not invoked.
type OpenError struct {
	RetryIn time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open: retry in %s", e.RetryIn.Round(time.Second))
}

// Breaker is a fail-fast guard around a repeatedly-failing dependency.
//
// Closed: calls pass through; reaching FailureThreshold consecutive failures
// opens the circuit. Open: calls are rejected immediately until
// RecoveryTimeout elapses since the last failure, then the next call runs as
// a half-open trial. Half-open: exactly one trial executes; success closes
// the circuit and resets the failure count, failure reopens it and restarts
// the recovery timer.
//
// The breaker never blocks waiting for recovery.
type Breaker struct {
	mu sync.Mutex

	threshold int
	timeout   time.Duration
	now       func() time.Time

	state       BreakerState
	failures    int
	lastFailure time.Time
	trialActive bool
}

// NewBreaker returns a closed breaker that opens after failureThreshold
// consecutive failures and probes again after recoveryTimeout.
func NewBreaker(failureThreshold int, recoveryTimeout time.Duration) *Breaker {
	return &Breaker{
		threshold: failureThreshold,
		timeout:   recoveryTimeout,
		now:       time.Now,
		state:     StateClosed,
	}
}

// Do executes fn under the breaker's protection.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn()
	b.record(err)
	return err
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker closed with a zero failure count, regardless of
// its current state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.lastFailure = time.Time{}
	b.trialActive = false
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		elapsed := b.now().Sub(b.lastFailure)
		if elapsed < b.timeout {
			return &OpenError{RetryIn: b.timeout - elapsed}
		}
		b.state = StateHalfOpen
		b.trialActive = true
		return nil
	case StateHalfOpen:
		// Only one trial call at a time.
		if b.trialActive {
			return &OpenError{RetryIn: b.timeout}
		}
		b.trialActive = true
		return nil
	default:
		return nil
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trialActive = false
	if err == nil {
		b.state = StateClosed
		b.failures = 0
		return
	}

	b.failures++
	b.lastFailure = b.now()
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.state = StateOpen
	}
}
