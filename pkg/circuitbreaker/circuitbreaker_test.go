package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

var errBackend = errors.New("backend failure")

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb := New(3, 1, time.Minute)

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errBackend }); !errors.Is(err, errBackend) {
			t.Fatalf("expected backend error, got %v", err)
		}
	}

	if cb.State() != Open {
		t.Fatalf("expected Open state, got %v", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := New(1, 2, 10*time.Millisecond)

	if err := cb.Execute(func() error { return errBackend }); err == nil {
		t.Fatal("expected failure")
	}
	if cb.State() != Open {
		t.Fatalf("expected Open state, got %v", cb.State())
	}

	time.Sleep(20 * time.Millisecond)
	if cb.State() != HalfOpen {
		t.Fatalf("expected Half-Open state, got %v", cb.State())
	}

	// Two successes are required to close again.
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("trial request failed: %v", err)
	}
	if cb.State() != HalfOpen {
		t.Fatalf("expected Half-Open after one success, got %v", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("trial request failed: %v", err)
	}
	if cb.State() != Closed {
		t.Fatalf("expected Closed state, got %v", cb.State())
	}
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	cb := New(1, 1, 10*time.Millisecond)

	cb.Execute(func() error { return errBackend })
	time.Sleep(20 * time.Millisecond)

	if err := cb.Execute(func() error { return errBackend }); !errors.Is(err, errBackend) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if cb.State() != Open {
		t.Fatalf("expected Open state after half-open failure, got %v", cb.State())
	}
}

func TestStateString(t *testing.T) {
	if Closed.String() != "Closed" || Open.String() != "Open" || HalfOpen.String() != "Half-Open" {
		t.Fatal("unexpected state names")
	}
}
