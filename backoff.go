package etlz

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/metricz"
)

// Metric keys for Backoff nodes.
const (
	BackoffAttemptsTotal = metricz.Key("backoff.attempts.total")
	BackoffRetriesTotal  = metricz.Key("backoff.retries.total")
	BackoffSuccessTotal  = metricz.Key("backoff.successes.total")
	BackoffFailuresTotal = metricz.Key("backoff.failures.total")
	BackoffDelayMs       = metricz.Key("backoff.delay.ms")
)

// Backoff re-runs the wrapped node on failure with exponentially
// growing delays between attempts: baseDelay, 2x, 4x, and so on.
// The delay honors cancellation, so a canceled run never sits out a
// full backoff window.
//
// Like Retry, rule and filter failures short-circuit: they describe
// the data, not the infrastructure, and will not clear by waiting.
type Backoff[T any] struct {
	node        Node[T]
	clock       clockz.Clock
	name        Name
	maxAttempts int
	baseDelay   time.Duration
	mu          sync.RWMutex
	metrics     *metricz.Registry
}

// NewBackoff wraps node with delayed re-attempts.
func NewBackoff[T any](name Name, node Node[T], maxAttempts int, baseDelay time.Duration) *Backoff[T] {
	if node == nil {
		panic("etlz: NewBackoff requires a non-nil node")
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = time.Millisecond
	}

	metrics := metricz.New()
	metrics.Counter(BackoffAttemptsTotal)
	metrics.Counter(BackoffRetriesTotal)
	metrics.Counter(BackoffSuccessTotal)
	metrics.Counter(BackoffFailuresTotal)
	metrics.Gauge(BackoffDelayMs)

	return &Backoff[T]{
		name:        name,
		node:        node,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		clock:       clockz.RealClock,
		metrics:     metrics,
	}
}

// WithClock sets the clock used for delays. Tests use
// clockz.NewFakeClock() to step through retry schedules instantly.
func (b *Backoff[T]) WithClock(clock clockz.Clock) *Backoff[T] {
	b.mu.Lock()
	b.clock = clock
	b.mu.Unlock()
	return b
}

// Process implements Node.
func (b *Backoff[T]) Process(ctx context.Context, item T, rc *RunContext) (result T, err error) {
	defer recoverFromPanic(&result, &err, b.name, item)
	start := time.Now()

	b.mu.RLock()
	node := b.node
	attempts := b.maxAttempts
	delay := b.baseDelay
	clock := b.clock
	b.mu.RUnlock()

	for attempt := 1; attempt <= attempts; attempt++ {
		b.metrics.Counter(BackoffAttemptsTotal).Inc()

		result, err = node.Process(ctx, item, rc)
		if err == nil {
			b.metrics.Counter(BackoffSuccessTotal).Inc()
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

		b.metrics.Counter(BackoffRetriesTotal).Inc()
		b.metrics.Gauge(BackoffDelayMs).Set(float64(delay.Milliseconds()))

		select {
		case <-ctx.Done():
			return item, newError(b.name, item, start, ctx.Err())
		case <-clock.After(delay):
		}
		delay *= 2
	}

	b.metrics.Counter(BackoffFailuresTotal).Inc()
	return item, newError(b.name, item, start, err)
}

// Name implements Node.
func (b *Backoff[T]) Name() Name { return b.name }

// Metrics returns the node's metrics registry.
func (b *Backoff[T]) Metrics() *metricz.Registry { return b.metrics }
