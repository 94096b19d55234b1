// Package resilience provides the retry-with-backoff and circuit-breaker
// primitives that wrap network calls made by acquisition adapters. It has no
// knowledge of postings or stores; any call returning an error can be
// wrapped.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

// ExhaustedError is returned once the retry budget is spent. It wraps the
// last underlying failure.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// IsExhausted reports whether err is a retries-exhausted failure.
func IsExhausted(err error) bool {
	var ex *ExhaustedError
	return errors.As(err, &ex)
}

// StatusError indicates a non-2xx HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
}

// RetryableStatus reports whether an HTTP status code is worth retrying:
// timeouts, rate limits, and server errors. Client errors such as 404 are
// never retried.
func RetryableStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// IsTransient classifies an error as likely-transient: network timeouts,
// connection failures, and retryable HTTP statuses. Context cancellation
// and circuit-open failures are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var open *OpenError
	if errors.As(err, &open) {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return RetryableStatus(status.StatusCode)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	return false
}

// Policy retries a call with deterministic exponential backoff. The delay
// for attempt n is BaseDelay * Multiplier^n, capped at MaxDelay; there is no
// jitter, so tests can predict the exact delay sequence.
type Policy struct {
	MaxRetries int           // 0 = no retries
	BaseDelay  time.Duration // delay before the first retry
	MaxDelay   time.Duration // cap on any single delay; 0 = uncapped
	Multiplier float64       // growth factor, default 2.0

	// Retryable decides which errors qualify for a retry. Defaults to
	// IsTransient. Non-qualifying errors propagate immediately without
	// consuming the budget.
	Retryable func(error) bool

	// OnRetry is invoked before each sleep with the 1-based attempt number
	// that just failed, the delay about to be taken, and the error.
	OnRetry func(attempt int, delay time.Duration, err error)

	// Sleep suspends the calling goroutine. Overridable in tests; the
	// default honors ctx cancellation.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do runs fn, retrying qualifying failures per the policy. After the final
// qualifying failure it returns an *ExhaustedError wrapping the last error.
// Cancelling ctx aborts the loop before its next sleep.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	delay := p.BaseDelay
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt >= p.MaxRetries {
			return &ExhaustedError{Attempts: attempt + 1, Err: err}
		}

		d := delay
		if p.MaxDelay > 0 && d > p.MaxDelay {
			d = p.MaxDelay
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, d, err)
		}
		if serr := sleep(ctx, d); serr != nil {
			return serr
		}
		delay = time.Duration(float64(delay) * multiplier)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
