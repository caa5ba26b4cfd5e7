package etlz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zoobzio/metricz"
)

// Metric keys for Timeout nodes.
const (
	TimeoutItemsTotal    = metricz.Key("timeout.items.total")
	TimeoutTimeoutsTotal = metricz.Key("timeout.timeouts.total")
)

// Timeout bounds each item's processing time. The wrapped node runs
// on its own goroutine with a deadline-carrying context; when the
// deadline passes first, Process returns an *Error[T] marked as a
// timeout and the item is not delivered. The abandoned goroutine is
// expected to notice the canceled context and return: the wrapped
// node must honor ctx for the bound to mean anything.
type Timeout[T any] struct {
	node     Node[T]
	name     Name
	duration time.Duration
	mu       sync.RWMutex
	metrics  *metricz.Registry
}

// NewTimeout wraps node with a per-item deadline.
func NewTimeout[T any](name Name, node Node[T], duration time.Duration) *Timeout[T] {
	if node == nil {
		panic("etlz: NewTimeout requires a non-nil node")
	}
	if duration <= 0 {
		panic("etlz: NewTimeout requires a positive duration")
	}

	metrics := metricz.New()
	metrics.Counter(TimeoutItemsTotal)
	metrics.Counter(TimeoutTimeoutsTotal)

	return &Timeout[T]{
		name:     name,
		node:     node,
		duration: duration,
		metrics:  metrics,
	}
}

// Process implements Node.
func (t *Timeout[T]) Process(ctx context.Context, item T, rc *RunContext) (result T, err error) {
	defer recoverFromPanic(&result, &err, t.name, item)
	start := time.Now()

	t.mu.RLock()
	node := t.node
	duration := t.duration
	t.mu.RUnlock()

	t.metrics.Counter(TimeoutItemsTotal).Inc()

	tctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	type outcome struct {
		item T
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		var o outcome
		defer func() {
			if r := recover(); r != nil {
				var zero T
				o.item = zero
				o.err = fmt.Errorf("panic: %v", r)
			}
			done <- o
		}()
		o.item, o.err = node.Process(tctx, item, rc)
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return item, newError(t.name, item, start, o.err)
		}
		return o.item, nil
	case <-tctx.Done():
		t.metrics.Counter(TimeoutTimeoutsTotal).Inc()
		return item, newError(t.name, item, start, tctx.Err())
	}
}

// Name implements Node.
func (t *Timeout[T]) Name() Name { return t.name }

// SetDuration changes the deadline for subsequent items.
func (t *Timeout[T]) SetDuration(d time.Duration) *Timeout[T] {
	if d <= 0 {
		panic("etlz: SetDuration requires a positive duration")
	}
	t.mu.Lock()
	t.duration = d
	t.mu.Unlock()
	return t
}

// GetDuration returns the current per-item deadline.
func (t *Timeout[T]) GetDuration() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.duration
}

// Metrics returns the node's metrics registry.
func (t *Timeout[T]) Metrics() *metricz.Registry { return t.metrics }
