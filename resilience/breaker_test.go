package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

// newTestBreaker returns a breaker with a controllable clock.
func newTestBreaker(threshold int, timeout time.Duration) (*Breaker, *time.Time) {
	now := time.Now()
	b := NewBreaker(threshold, timeout)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute)

	for i := 0; i < 2; i++ {
		if err := b.Do(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: expected underlying error, got %v", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want open", b.State())
	}

	// Open circuit rejects without invoking the function.
	calls := 0
	err := b.Do(func() error { calls++; return nil })
	var open *OpenError
	if !errors.As(err, &open) {
		t.Fatalf("expected OpenError, got %v", err)
	}
	if calls != 0 {
		t.Errorf("function invoked %d times while open, want 0", calls)
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b, now := newTestBreaker(2, time.Minute)

	_ = b.Do(func() error { return errBoom })
	_ = b.Do(func() error { return errBoom })
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want open", b.State())
	}

	// After the recovery timeout the next call is attempted as a trial.
	*now = now.Add(time.Minute + time.Second)
	calls := 0
	if err := b.Do(func() error { calls++; return nil }); err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("trial calls = %d, want 1", calls)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %s, want closed after successful trial", b.State())
	}

	// Failure count was reset: one new failure must not reopen.
	_ = b.Do(func() error { return errBoom })
	if b.State() != StateClosed {
		t.Errorf("state = %s, want closed after a single failure", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)

	_ = b.Do(func() error { return errBoom })
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want open", b.State())
	}

	*now = now.Add(2 * time.Minute)
	if err := b.Do(func() error { return errBoom }); !errors.Is(err, errBoom) {
		t.Fatalf("expected underlying error, got %v", err)
	}
	if b.State() != StateOpen {
		t.Errorf("state = %s, want open after failed trial", b.State())
	}

	// The failure timer restarted: still rejected before another timeout.
	*now = now.Add(30 * time.Second)
	err := b.Do(func() error { return nil })
	var open *OpenError
	if !errors.As(err, &open) {
		t.Errorf("expected OpenError during restarted recovery window, got %v", err)
	}
}

func TestBreakerReset(t *testing.T) {
	b, _ := newTestBreaker(1, time.Hour)
	_ = b.Do(func() error { return errBoom })
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want open", b.State())
	}

	b.Reset()
	if b.State() != StateClosed {
		t.Errorf("state = %s, want closed after Reset", b.State())
	}
	if err := b.Do(func() error { return nil }); err != nil {
		t.Errorf("call after Reset failed: %v", err)
	}
}

func TestBreakerSuccessKeepsCountAtZero(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute)

	// Alternating failure/success never reaches the threshold.
	for i := 0; i < 5; i++ {
		_ = b.Do(func() error { return errBoom })
		_ = b.Do(func() error { return nil })
	}
	if b.State() != StateClosed {
		t.Errorf("state = %s, want closed", b.State())
	}
}
