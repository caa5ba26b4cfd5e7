package etlz

import (
	"context"
	"errors"
	"testing"
)

type flakyNode struct {
	name     Name
	failFor  int
	attempts int
	err      error
}

func (n *flakyNode) Process(_ context.Context, item *testEvent, _ *RunContext) (*testEvent, error) {
	n.attempts++
	if n.attempts <= n.failFor {
		if n.err != nil {
			return item, n.err
		}
		return item, errors.New("transient failure")
	}
	return item, nil
}

func (n *flakyNode) Name() Name { return n.name }

func TestRetry(t *testing.T) {
	t.Run("SucceedsAfterTransientFailures", func(t *testing.T) {
		node := &flakyNode{name: "lookup", failFor: 2}
		r := NewRetry[*testEvent]("retry-lookup", node, 3)

		_, err := r.Process(context.Background(), &testEvent{}, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if node.attempts != 3 {
			t.Errorf("expected 3 attempts, got %d", node.attempts)
		}
	})

	t.Run("ExhaustsAttempts", func(t *testing.T) {
		node := &flakyNode{name: "lookup", failFor: 10}
		r := NewRetry[*testEvent]("retry-lookup", node, 3)

		_, err := r.Process(context.Background(), &testEvent{}, nil)
		if err == nil {
			t.Fatal("expected failure after exhausting attempts")
		}
		if node.attempts != 3 {
			t.Errorf("expected 3 attempts, got %d", node.attempts)
		}
	})

	t.Run("RuleFailureNotRetried", func(t *testing.T) {
		node := &flakyNode{name: "check", failFor: 10, err: &RuleError{Rule: "required"}}
		r := NewRetry[*testEvent]("retry-check", node, 3)

		_, err := r.Process(context.Background(), &testEvent{}, nil)
		if err == nil {
			t.Fatal("expected failure")
		}
		if node.attempts != 1 {
			t.Errorf("expected no retries for rule failures, got %d attempts", node.attempts)
		}
	})

	t.Run("NilNodePanics", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected panic for nil node")
			}
		}()
		NewRetry[*testEvent]("bad", nil, 3)
	})
}
