package etlz

import (
	"context"
	"errors"
	"testing"
	"time"
)

type testEvent struct {
	Kind string
	Size int
}

func TestFilter(t *testing.T) {
	t.Run("PassesMatchingItems", func(t *testing.T) {
		f := NewFilter[*testEvent]("events")
		f.Where("kind must be click", func(e *testEvent) bool { return e.Kind == "click" })

		in := &testEvent{Kind: "click"}
		out, err := f.Process(context.Background(), in, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out != in {
			t.Error("expected the same item reference back")
		}
	})

	t.Run("RejectsWithFilterError", func(t *testing.T) {
		f := NewFilter[*testEvent]("events")
		f.Where("size too small", func(e *testEvent) bool { return e.Size >= 10 })

		_, err := f.Process(context.Background(), &testEvent{Size: 1}, nil)
		if err == nil {
			t.Fatal("expected rejection")
		}
		var ferr *FilterError
		if !errors.As(err, &ferr) {
			t.Fatalf("expected *FilterError in chain, got %v", err)
		}
		if ferr.Reason != "size too small" {
			t.Errorf("expected reason, got %q", ferr.Reason)
		}
	})

	t.Run("AnyPredicateFalseRejects", func(t *testing.T) {
		f := NewFilter[*testEvent]("events")
		f.Where("kind allowed", func(e *testEvent) bool { return true }).
			Where("size allowed", func(e *testEvent) bool { return false })

		_, err := f.Process(context.Background(), &testEvent{}, nil)
		var ferr *FilterError
		if !errors.As(err, &ferr) {
			t.Fatalf("expected *FilterError, got %v", err)
		}
		if ferr.Reason != "size allowed" {
			t.Errorf("expected failing predicate's reason, got %q", ferr.Reason)
		}
	})

	t.Run("EmptyReasonFallback", func(t *testing.T) {
		f := NewFilter[*testEvent]("events")
		f.Where("", func(e *testEvent) bool { return false })

		_, err := f.Process(context.Background(), &testEvent{}, nil)
		var ferr *FilterError
		if !errors.As(err, &ferr) {
			t.Fatalf("expected *FilterError, got %v", err)
		}
		if ferr.Reason != "predicate 1 returned false" {
			t.Errorf("expected fallback reason, got %q", ferr.Reason)
		}
	})

	t.Run("ZeroPredicatesPassThrough", func(t *testing.T) {
		f := NewFilter[*testEvent]("empty")
		in := &testEvent{}
		out, err := f.Process(context.Background(), in, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out != in {
			t.Error("expected the same item reference back")
		}
	})

	t.Run("NilPredicatePanics", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected panic for nil predicate")
			}
		}()
		NewFilter[*testEvent]("events").Where("r", nil)
	})

	t.Run("RejectionHookFires", func(t *testing.T) {
		f := NewFilter[*testEvent]("events")
		f.Where("blocked", func(e *testEvent) bool { return false })

		events := make(chan FilterEvent, 1)
		if err := f.OnRejected(func(_ context.Context, e FilterEvent) error {
			events <- e
			return nil
		}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		_, _ = f.Process(context.Background(), &testEvent{}, nil)

		select {
		case e := <-events:
			if e.Reason != "blocked" {
				t.Errorf("expected reason in event, got %q", e.Reason)
			}
		case <-time.After(time.Second):
			t.Fatal("expected a rejection event")
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		f := NewFilter[*testEvent]("events")
		f.Where("even only", func(e *testEvent) bool { return e.Size%2 == 0 })

		_, _ = f.Process(context.Background(), &testEvent{Size: 2}, nil)
		_, _ = f.Process(context.Background(), &testEvent{Size: 3}, nil)

		if got := f.Metrics().Counter(FilterPassedTotal).Value(); got != 1 {
			t.Errorf("expected 1 passed, got %v", got)
		}
		if got := f.Metrics().Counter(FilterDroppedTotal).Value(); got != 1 {
			t.Errorf("expected 1 dropped, got %v", got)
		}
	})
}
