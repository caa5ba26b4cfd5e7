package etlz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zoobzio/metricz"
	"golang.org/x/time/rate"
)

// Metric keys for RateLimiter nodes.
const (
	RateLimiterItemsTotal     = metricz.Key("ratelimiter.items.total")
	RateLimiterThrottledTotal = metricz.Key("ratelimiter.throttled.total")
	RateLimiterDroppedTotal   = metricz.Key("ratelimiter.dropped.total")
)

// RateLimiter modes.
const (
	RateLimitWait = "wait"
	RateLimitDrop = "drop"
)

// RateLimiter throttles item flow through the pipeline with a token
// bucket, protecting rate-sensitive back-ends fed by enrichment
// lookups or sinks.
//
// The limiter is stateful: reuse one instance across runs so the
// bucket actually fills and drains. Two modes:
//
//   - wait (default): block until a token is available, honoring
//     cancellation while waiting.
//   - drop: reject the item with a filter rejection when no token is
//     available, so the pipeline drops it and moves on.
type RateLimiter[T any] struct {
	limiter *rate.Limiter
	name    Name
	mode    string
	mu      sync.RWMutex
	metrics *metricz.Registry
}

// NewRateLimiter creates a rate limiter sustaining ratePerSecond with
// bursts up to burst.
func NewRateLimiter[T any](name Name, ratePerSecond float64, burst int) *RateLimiter[T] {
	metrics := metricz.New()
	metrics.Counter(RateLimiterItemsTotal)
	metrics.Counter(RateLimiterThrottledTotal)
	metrics.Counter(RateLimiterDroppedTotal)

	return &RateLimiter[T]{
		name:    name,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		mode:    RateLimitWait,
		metrics: metrics,
	}
}

// SetMode selects wait or drop behavior.
func (r *RateLimiter[T]) SetMode(mode string) *RateLimiter[T] {
	if mode != RateLimitWait && mode != RateLimitDrop {
		panic(fmt.Sprintf("etlz: SetMode requires %q or %q, got %q", RateLimitWait, RateLimitDrop, mode))
	}
	r.mu.Lock()
	r.mode = mode
	r.mu.Unlock()
	return r
}

// SetRate changes the sustained rate for subsequent items.
func (r *RateLimiter[T]) SetRate(ratePerSecond float64) *RateLimiter[T] {
	r.mu.RLock()
	r.limiter.SetLimit(rate.Limit(ratePerSecond))
	r.mu.RUnlock()
	return r
}

// SetBurst changes the burst capacity for subsequent items.
func (r *RateLimiter[T]) SetBurst(burst int) *RateLimiter[T] {
	r.mu.RLock()
	r.limiter.SetBurst(burst)
	r.mu.RUnlock()
	return r
}

// Process implements Node.
func (r *RateLimiter[T]) Process(ctx context.Context, item T, _ *RunContext) (result T, err error) {
	defer recoverFromPanic(&result, &err, r.name, item)
	start := time.Now()

	r.mu.RLock()
	limiter := r.limiter
	mode := r.mode
	r.mu.RUnlock()

	r.metrics.Counter(RateLimiterItemsTotal).Inc()

	switch mode {
	case RateLimitDrop:
		if !limiter.Allow() {
			r.metrics.Counter(RateLimiterDroppedTotal).Inc()
			return item, newError(r.name, item, start, &FilterError{Reason: "rate limit exceeded"})
		}
		return item, nil
	default:
		if limiter.Tokens() < 1 {
			r.metrics.Counter(RateLimiterThrottledTotal).Inc()
		}
		if werr := limiter.Wait(ctx); werr != nil {
			return item, newError(r.name, item, start, werr)
		}
		return item, nil
	}
}

// Name implements Node.
func (r *RateLimiter[T]) Name() Name { return r.name }

// Metrics returns the node's metrics registry.
func (r *RateLimiter[T]) Metrics() *metricz.Registry { return r.metrics }
