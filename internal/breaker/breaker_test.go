package breaker_test

import (
	"errors"
	"testing"
	"time"

	"github.com/atlas-desktop/execution-pipeline/internal/breaker"
)

var errBoom = errors.New("boom")

func TestBreakerTripAndFallback(t *testing.T) {
	r := breaker.NewRegistry(nil, breaker.Config{Threshold: 2, Reset: 1 * time.Second})

	failingOp := func() error { return errBoom }

	if err := r.Execute("x", failingOp, nil); err == nil {
		t.Fatal("expected failure on first call")
	}
	if err := r.Execute("x", failingOp, nil); err == nil {
		t.Fatal("expected failure on second call")
	}

	status := r.GetStatus("x")
	if !status.IsOpen {
		t.Fatalf("expected breaker open after %d failures", status.ConsecutiveFailures)
	}

	called := false
	opCalled := false
	err := r.Execute("x", func() error { opCalled = true; return nil }, func() error { called = true; return nil })
	if err != nil {
		t.Fatalf("fallback call should not error: %v", err)
	}
	if opCalled {
		t.Fatal("op should not be called while breaker is open")
	}
	if !called {
		t.Fatal("fallback should have been invoked")
	}

	time.Sleep(1100 * time.Millisecond)

	opCalled = false
	if err := r.Execute("x", func() error { opCalled = true; return nil }, nil); err != nil {
		t.Fatalf("op should succeed after reset window: %v", err)
	}
	if !opCalled {
		t.Fatal("op should have been invoked after reset window elapsed")
	}
}

func TestBreakerNoFallbackReturnsOpenError(t *testing.T) {
	r := breaker.NewRegistry(nil, breaker.Config{Threshold: 1, Reset: time.Hour})

	if err := r.Execute("y", func() error { return errBoom }, nil); err == nil {
		t.Fatal("expected failure")
	}
	if err := r.Execute("y", func() error { return nil }, nil); !errors.Is(err, breaker.ErrBreakerOpen) {
		t.Fatalf("expected ErrBreakerOpen, got %v", err)
	}
}

func TestBreakerResetsOnSuccess(t *testing.T) {
	r := breaker.NewRegistry(nil, breaker.Config{Threshold: 3, Reset: time.Hour})

	_ = r.Execute("z", func() error { return errBoom }, nil)
	_ = r.Execute("z", func() error { return errBoom }, nil)
	_ = r.Execute("z", func() error { return nil }, nil) // success resets counter

	status := r.GetStatus("z")
	if status.ConsecutiveFailures != 0 {
		t.Fatalf("expected failure count reset to 0, got %d", status.ConsecutiveFailures)
	}
	if status.IsOpen {
		t.Fatal("breaker should not be open")
	}
}
