package etlz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

func TestCircuitBreaker(t *testing.T) {
	t.Run("StaysClosedOnSuccess", func(t *testing.T) {
		cb := NewCircuitBreaker[*testEvent]("guard", &flakyNode{name: "ok"}, 3, time.Minute)
		for i := 0; i < 5; i++ {
			if _, err := cb.Process(context.Background(), &testEvent{}, nil); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if cb.State() != "closed" {
			t.Errorf("expected closed, got %q", cb.State())
		}
	})

	t.Run("OpensAfterThreshold", func(t *testing.T) {
		node := &flakyNode{name: "down", failFor: 100}
		cb := NewCircuitBreaker[*testEvent]("guard", node, 2, time.Minute)

		_, _ = cb.Process(context.Background(), &testEvent{}, nil)
		_, _ = cb.Process(context.Background(), &testEvent{}, nil)
		if cb.State() != "open" {
			t.Fatalf("expected open after threshold, got %q", cb.State())
		}

		attemptsBefore := node.attempts
		_, err := cb.Process(context.Background(), &testEvent{}, nil)
		if !errors.Is(err, ErrCircuitOpen) {
			t.Errorf("expected ErrCircuitOpen, got %v", err)
		}
		if node.attempts != attemptsBefore {
			t.Error("expected open circuit to fail fast without touching the node")
		}
	})

	t.Run("HalfOpenProbesAndCloses", func(t *testing.T) {
		clock := clockz.NewFakeClock()
		node := &flakyNode{name: "recovering", failFor: 2}
		cb := NewCircuitBreaker[*testEvent]("guard", node, 2, 30*time.Second).WithClock(clock)

		_, _ = cb.Process(context.Background(), &testEvent{}, nil)
		_, _ = cb.Process(context.Background(), &testEvent{}, nil)
		if cb.State() != "open" {
			t.Fatalf("expected open, got %q", cb.State())
		}

		clock.Advance(31 * time.Second)
		if cb.State() != "half-open" {
			t.Fatalf("expected half-open after reset timeout, got %q", cb.State())
		}

		// The node has recovered; the probe succeeds and closes.
		if _, err := cb.Process(context.Background(), &testEvent{}, nil); err != nil {
			t.Fatalf("unexpected probe error: %v", err)
		}
		if cb.State() != "closed" {
			t.Errorf("expected closed after successful probe, got %q", cb.State())
		}
	})

	t.Run("HalfOpenFailureReopens", func(t *testing.T) {
		clock := clockz.NewFakeClock()
		node := &flakyNode{name: "still-down", failFor: 100}
		cb := NewCircuitBreaker[*testEvent]("guard", node, 1, 30*time.Second).WithClock(clock)

		_, _ = cb.Process(context.Background(), &testEvent{}, nil)
		clock.Advance(31 * time.Second)

		_, _ = cb.Process(context.Background(), &testEvent{}, nil)
		if cb.State() != "open" {
			t.Errorf("expected reopened circuit, got %q", cb.State())
		}
	})

	t.Run("RuleFailuresDoNotTrip", func(t *testing.T) {
		node := &flakyNode{name: "strict", failFor: 100, err: &RuleError{Rule: "required"}}
		cb := NewCircuitBreaker[*testEvent]("guard", node, 1, time.Minute)

		_, _ = cb.Process(context.Background(), &testEvent{}, nil)
		_, _ = cb.Process(context.Background(), &testEvent{}, nil)
		if cb.State() != "closed" {
			t.Errorf("expected data rejections to leave the circuit closed, got %q", cb.State())
		}
	})

	t.Run("OpenedHookFires", func(t *testing.T) {
		node := &flakyNode{name: "down", failFor: 100}
		cb := NewCircuitBreaker[*testEvent]("guard", node, 1, time.Minute)

		opened := make(chan BreakerEvent, 1)
		if err := cb.OnOpened(func(_ context.Context, e BreakerEvent) error {
			opened <- e
			return nil
		}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		_, _ = cb.Process(context.Background(), &testEvent{}, nil)
		select {
		case e := <-opened:
			if e.State != "open" {
				t.Errorf("unexpected event: %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatal("expected an opened event")
		}
	})
}
