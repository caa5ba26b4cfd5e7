package etlz

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
)

// Metric keys for CircuitBreaker nodes.
const (
	BreakerItemsTotal    = metricz.Key("breaker.items.total")
	BreakerRejectedTotal = metricz.Key("breaker.rejected.total")
	BreakerOpenedTotal   = metricz.Key("breaker.opened.total")
	BreakerClosedTotal   = metricz.Key("breaker.closed.total")
	BreakerState         = metricz.Key("breaker.state")
)

// Hook event keys for CircuitBreaker nodes.
const (
	BreakerEventOpened   = hookz.Key("breaker.opened")
	BreakerEventClosed   = hookz.Key("breaker.closed")
	BreakerEventHalfOpen = hookz.Key("breaker.half_open")
	BreakerEventRejected = hookz.Key("breaker.rejected")
)

// Circuit states.
const (
	breakerClosed int32 = iota
	breakerOpen
	breakerHalfOpen
)

// ErrCircuitOpen is the cause carried by failures rejected while the
// circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerEvent describes a circuit state transition or rejection.
type BreakerEvent struct {
	Name      Name      // Breaker node name
	State     string    // State after the event: closed, open, half-open
	Failures  int       // Consecutive failures at the time of the event
	Timestamp time.Time // When the event occurred
}

// CircuitBreaker stops sending items to a failing node. After
// failureThreshold consecutive failures the circuit opens and every
// item fails fast with ErrCircuitOpen; once resetTimeout elapses the
// next item probes the node (half-open), and successThreshold
// consecutive probe successes close the circuit again.
//
// Like RateLimiter, the breaker is stateful and should be shared:
// one instance per protected back-end, reused across runs.
type CircuitBreaker[T any] struct {
	node             Node[T]
	clock            clockz.Clock
	name             Name
	failureThreshold int
	successThreshold int
	resetTimeout     time.Duration

	mu           sync.Mutex
	state        int32
	failures     int
	successes    int
	lastFailure  time.Time
	metrics      *metricz.Registry
	hooks        *hookz.Hooks[BreakerEvent]
}

// NewCircuitBreaker wraps node with a circuit opening after
// failureThreshold consecutive failures and re-probing after
// resetTimeout.
func NewCircuitBreaker[T any](name Name, node Node[T], failureThreshold int, resetTimeout time.Duration) *CircuitBreaker[T] {
	if node == nil {
		panic("etlz: NewCircuitBreaker requires a non-nil node")
	}
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}

	metrics := metricz.New()
	metrics.Counter(BreakerItemsTotal)
	metrics.Counter(BreakerRejectedTotal)
	metrics.Counter(BreakerOpenedTotal)
	metrics.Counter(BreakerClosedTotal)
	metrics.Gauge(BreakerState)

	return &CircuitBreaker[T]{
		name:             name,
		node:             node,
		failureThreshold: failureThreshold,
		successThreshold: 1,
		resetTimeout:     resetTimeout,
		clock:            clockz.RealClock,
		metrics:          metrics,
		hooks:            hookz.New[BreakerEvent](),
	}
}

// WithClock sets the clock used for the reset timeout.
func (cb *CircuitBreaker[T]) WithClock(clock clockz.Clock) *CircuitBreaker[T] {
	cb.mu.Lock()
	cb.clock = clock
	cb.mu.Unlock()
	return cb
}

// SetSuccessThreshold sets how many half-open successes close the
// circuit.
func (cb *CircuitBreaker[T]) SetSuccessThreshold(n int) *CircuitBreaker[T] {
	if n < 1 {
		n = 1
	}
	cb.mu.Lock()
	cb.successThreshold = n
	cb.mu.Unlock()
	return cb
}

// State returns the current state as a string: closed, open, or
// half-open.
func (cb *CircuitBreaker[T]) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	return stateName(cb.state)
}

func stateName(s int32) string {
	switch s {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// maybeHalfOpen transitions open -> half-open once the reset timeout
// has elapsed. Caller holds cb.mu.
func (cb *CircuitBreaker[T]) maybeHalfOpen() {
	if cb.state == breakerOpen && cb.clock.Now().Sub(cb.lastFailure) >= cb.resetTimeout {
		cb.state = breakerHalfOpen
		cb.successes = 0
		cb.metrics.Gauge(BreakerState).Set(float64(breakerHalfOpen))
	}
}

// Process implements Node.
func (cb *CircuitBreaker[T]) Process(ctx context.Context, item T, rc *RunContext) (result T, err error) {
	defer recoverFromPanic(&result, &err, cb.name, item)
	start := time.Now()

	cb.metrics.Counter(BreakerItemsTotal).Inc()

	cb.mu.Lock()
	cb.maybeHalfOpen()
	state := cb.state
	failures := cb.failures
	cb.mu.Unlock()

	if state == breakerOpen {
		cb.metrics.Counter(BreakerRejectedTotal).Inc()
		_ = cb.hooks.Emit(ctx, BreakerEventRejected, BreakerEvent{ //nolint:errcheck
			Name:      cb.name,
			State:     "open",
			Failures:  failures,
			Timestamp: time.Now(),
		})
		return item, newError(cb.name, item, start, ErrCircuitOpen)
	}

	if state == breakerHalfOpen {
		_ = cb.hooks.Emit(ctx, BreakerEventHalfOpen, BreakerEvent{ //nolint:errcheck
			Name:      cb.name,
			State:     "half-open",
			Timestamp: time.Now(),
		})
	}

	result, err = cb.node.Process(ctx, item, rc)
	if err != nil {
		// Data rejections do not indicate an unhealthy back-end.
		var ruleErr *RuleError
		var filterErr *FilterError
		if errors.As(err, &ruleErr) || errors.As(err, &filterErr) {
			return item, newError(cb.name, item, start, err)
		}
		cb.recordFailure(ctx)
		return item, newError(cb.name, item, start, err)
	}

	cb.recordSuccess(ctx)
	return result, nil
}

func (cb *CircuitBreaker[T]) recordFailure(ctx context.Context) {
	cb.mu.Lock()
	cb.failures++
	cb.successes = 0
	cb.lastFailure = cb.clock.Now()
	opened := false
	if cb.state == breakerHalfOpen || cb.failures >= cb.failureThreshold {
		if cb.state != breakerOpen {
			opened = true
		}
		cb.state = breakerOpen
	}
	failures := cb.failures
	cb.mu.Unlock()

	if opened {
		cb.metrics.Counter(BreakerOpenedTotal).Inc()
		cb.metrics.Gauge(BreakerState).Set(float64(breakerOpen))
		_ = cb.hooks.Emit(ctx, BreakerEventOpened, BreakerEvent{ //nolint:errcheck
			Name:      cb.name,
			State:     "open",
			Failures:  failures,
			Timestamp: time.Now(),
		})
	}
}

func (cb *CircuitBreaker[T]) recordSuccess(ctx context.Context) {
	cb.mu.Lock()
	closed := false
	switch cb.state {
	case breakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.state = breakerClosed
			cb.failures = 0
			closed = true
		}
	case breakerClosed:
		cb.failures = 0
	}
	cb.mu.Unlock()

	if closed {
		cb.metrics.Counter(BreakerClosedTotal).Inc()
		cb.metrics.Gauge(BreakerState).Set(float64(breakerClosed))
		_ = cb.hooks.Emit(ctx, BreakerEventClosed, BreakerEvent{ //nolint:errcheck
			Name:      cb.name,
			State:     "closed",
			Timestamp: time.Now(),
		})
	}
}

// OnOpened registers a hook fired when the circuit opens.
func (cb *CircuitBreaker[T]) OnOpened(handler func(context.Context, BreakerEvent) error) error {
	_, err := cb.hooks.Hook(BreakerEventOpened, handler)
	return err
}

// OnClosed registers a hook fired when the circuit closes.
func (cb *CircuitBreaker[T]) OnClosed(handler func(context.Context, BreakerEvent) error) error {
	_, err := cb.hooks.Hook(BreakerEventClosed, handler)
	return err
}

// OnRejected registers a hook fired when an open circuit rejects an
// item.
func (cb *CircuitBreaker[T]) OnRejected(handler func(context.Context, BreakerEvent) error) error {
	_, err := cb.hooks.Hook(BreakerEventRejected, handler)
	return err
}

// Name implements Node.
func (cb *CircuitBreaker[T]) Name() Name { return cb.name }

// Metrics returns the node's metrics registry.
func (cb *CircuitBreaker[T]) Metrics() *metricz.Registry { return cb.metrics }
