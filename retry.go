package etlz

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zoobzio/metricz"
)

// Metric keys for Retry nodes.
const (
	RetryAttemptsTotal  = metricz.Key("retry.attempts.total")
	RetrySuccessesTotal = metricz.Key("retry.successes.total")
	RetryFailuresTotal  = metricz.Key("retry.failures.total")
)

// Retry re-runs the wrapped node on failure, immediately and with the
// same item, up to maxAttempts times. Cancellation is checked between
// attempts; the last error wins when every attempt fails.
//
// Rule failures are not transient: a *RuleError or *FilterError from
// the wrapped node is returned without further attempts. Retry is for
// nodes that touch the outside world, mostly lookups against flaky
// services during enrichment.
//
// For attempts spaced out in time, use Backoff.
type Retry[T any] struct {
	node        Node[T]
	name        Name
	maxAttempts int
	mu          sync.RWMutex
	metrics     *metricz.Registry
}

// NewRetry wraps node with up to maxAttempts attempts per item.
func NewRetry[T any](name Name, node Node[T], maxAttempts int) *Retry[T] {
	if node == nil {
		panic("etlz: NewRetry requires a non-nil node")
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	metrics := metricz.New()
	metrics.Counter(RetryAttemptsTotal)
	metrics.Counter(RetrySuccessesTotal)
	metrics.Counter(RetryFailuresTotal)

	return &Retry[T]{
		name:        name,
		node:        node,
		maxAttempts: maxAttempts,
		metrics:     metrics,
	}
}

// Process implements Node.
func (r *Retry[T]) Process(ctx context.Context, item T, rc *RunContext) (result T, err error) {
	defer recoverFromPanic(&result, &err, r.name, item)
	start := time.Now()

	r.mu.RLock()
	node := r.node
	attempts := r.maxAttempts
	r.mu.RUnlock()

	for attempt := 1; attempt <= attempts; attempt++ {
		r.metrics.Counter(RetryAttemptsTotal).Inc()

		result, err = node.Process(ctx, item, rc)
		if err == nil {
			r.metrics.Counter(RetrySuccessesTotal).Inc()
			return result, nil
		}

		var ruleErr *RuleError
		var filterErr *FilterError
		if errors.As(err, &ruleErr) || errors.As(err, &filterErr) {
			break
		}
		if attempt == attempts {
			break
		}
		if cerr := ctx.Err(); cerr != nil {
			break
		}
	}

	r.metrics.Counter(RetryFailuresTotal).Inc()
	return item, newError(r.name, item, start, err)
}

// Name implements Node.
func (r *Retry[T]) Name() Name { return r.name }

// SetMaxAttempts changes the attempt budget for subsequent items.
func (r *Retry[T]) SetMaxAttempts(n int) *Retry[T] {
	if n < 1 {
		n = 1
	}
	r.mu.Lock()
	r.maxAttempts = n
	r.mu.Unlock()
	return r
}

// GetMaxAttempts returns the current attempt budget.
func (r *Retry[T]) GetMaxAttempts() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.maxAttempts
}

// Metrics returns the node's metrics registry.
func (r *Retry[T]) Metrics() *metricz.Registry { return r.metrics }
