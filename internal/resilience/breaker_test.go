package resilience

import (
	"errors"
	"testing"
	"time"
)

var errSubmit = errors.New("submit failed")

func TestNewBreaker_Defaults(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "pyannote"})
	if b.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", b.maxFailures)
	}
	if b.resetTimeout != 30*time.Second {
		t.Errorf("resetTimeout = %v, want 30s", b.resetTimeout)
	}
	if b.halfOpenMax != 3 {
		t.Errorf("halfOpenMax = %d, want 3", b.halfOpenMax)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreaker_ClosedForwardsCalls(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "pyannote", MaxFailures: 3})
	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("fn was not called")
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:         "pyannote",
		MaxFailures:  3,
		ResetTimeout: time.Hour, // long timeout so it stays open
	})

	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return errSubmit })
	}

	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open after 3 failures", b.State())
	}

	// Next submission is rejected without calling fn.
	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("err = %v, want ErrBreakerOpen", err)
	}
	if called {
		t.Fatal("fn was called while breaker open")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:        "pyannote",
		MaxFailures: 3,
	})

	// Two failures followed by a success should not open.
	_ = b.Execute(func() error { return errSubmit })
	_ = b.Execute(func() error { return errSubmit })
	_ = b.Execute(func() error { return nil })

	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed (success should reset counter)", b.State())
	}

	_ = b.Execute(func() error { return errSubmit })
	_ = b.Execute(func() error { return errSubmit })
	if b.State() != StateClosed {
		t.Fatal("should still be closed after 2 failures post-reset")
	}
}

func TestBreaker_OpenToHalfOpenAfterTimeout(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:         "pyannote",
		MaxFailures:  2,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  2,
	})

	_ = b.Execute(func() error { return errSubmit })
	_ = b.Execute(func() error { return errSubmit })
	if b.State() != StateOpen {
		t.Fatal("expected open")
	}

	time.Sleep(15 * time.Millisecond)

	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after timeout", b.State())
	}
}

func TestBreaker_HalfOpenClosesAfterSuccessfulProbes(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:         "pyannote",
		MaxFailures:  2,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  2,
	})

	_ = b.Execute(func() error { return errSubmit })
	_ = b.Execute(func() error { return errSubmit })

	time.Sleep(15 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := b.Execute(func() error { return nil }); err != nil {
			t.Fatalf("probe %d: unexpected error: %v", i, err)
		}
	}

	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after successful probes", b.State())
	}
}

func TestBreaker_HalfOpenReopensOnFailure(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:         "pyannote",
		MaxFailures:  2,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  3,
	})

	_ = b.Execute(func() error { return errSubmit })
	_ = b.Execute(func() error { return errSubmit })

	time.Sleep(15 * time.Millisecond)

	if err := b.Execute(func() error { return errSubmit }); err == nil {
		t.Fatal("expected error from failing probe")
	}

	// Open again, and lastFailure was just set so State() reports open.
	b.mu.Lock()
	s := b.state
	b.mu.Unlock()
	if s != StateOpen {
		t.Fatalf("state = %v, want open after half-open failure", s)
	}
}

func TestBreaker_ManualReset(t *testing.T) {
	b := NewBreaker(BreakerConfig{
		Name:         "pyannote",
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	})

	_ = b.Execute(func() error { return errSubmit })
	_ = b.Execute(func() error { return errSubmit })
	if b.State() != StateOpen {
		t.Fatal("expected open")
	}

	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after reset", b.State())
	}

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
