package etlz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Metric keys for Filter nodes.
const (
	FilterItemsTotal   = metricz.Key("filter.items.total")
	FilterPassedTotal  = metricz.Key("filter.passed.total")
	FilterDroppedTotal = metricz.Key("filter.dropped.total")
)

// Span names for Filter nodes.
const (
	FilterProcessSpan = tracez.Key("filter.process")
)

// Span tags for Filter nodes.
const (
	FilterTagNode   = tracez.Tag("filter.node")
	FilterTagPassed = tracez.Tag("filter.passed")
	FilterTagReason = tracez.Tag("filter.reason")

	// Hook event keys.
	FilterEventRejected = hookz.Key("filter.rejected")
)

// FilterEvent is emitted via hooks when a predicate rejects an item,
// so rejects can be counted or routed without attaching an error
// handler to the pipeline.
type FilterEvent struct {
	Name      Name      // Node name
	Reason    string    // Label of the rejecting predicate
	Item      any       // The rejected item
	Timestamp time.Time // When the rejection occurred
}

// Filter is a rule-based node that drops items from the stream. An
// item is dropped when any registered predicate returns false; it is
// simply not yielded downstream. Rejection is not an error to the
// pipeline driver: the structured *FilterError exists so an attached
// error handler (or hook subscriber) can log or route rejects.
//
// Filtering never reorders items; survivors flow downstream in source
// order.
type Filter[T any] struct {
	name       Name
	predicates []wherePredicate[T]
	mu         sync.RWMutex
	metrics    *metricz.Registry
	tracer     *tracez.Tracer
	hooks      *hookz.Hooks[FilterEvent]
}

type wherePredicate[T any] struct {
	reason string
	pred   func(T) bool
}

// NewFilter creates an empty Filter node. With no predicates every
// item passes.
func NewFilter[T any](name Name) *Filter[T] {
	metrics := metricz.New()
	metrics.Counter(FilterItemsTotal)
	metrics.Counter(FilterPassedTotal)
	metrics.Counter(FilterDroppedTotal)

	return &Filter[T]{
		name:    name,
		metrics: metrics,
		tracer:  tracez.New(),
		hooks:   hookz.New[FilterEvent](),
	}
}

// Where registers a keep-predicate under a human-readable reason label.
// The label becomes the FilterError reason when the predicate rejects.
func (f *Filter[T]) Where(reason string, pred func(T) bool) *Filter[T] {
	if f == nil {
		panic("etlz: Where requires a non-nil filter")
	}
	if pred == nil {
		panic("etlz: Where requires a non-nil predicate")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.predicates = append(f.predicates, wherePredicate[T]{reason: reason, pred: pred})
	return f
}

// Process implements Node. A rejected item surfaces a *FilterError;
// the pipeline runner recognizes it, routes it to the error handler
// and hook subscribers, and drops the item instead of aborting.
func (f *Filter[T]) Process(ctx context.Context, item T, _ *RunContext) (result T, err error) {
	defer recoverFromPanic(&result, &err, f.name, item)

	f.mu.RLock()
	predicates := make([]wherePredicate[T], len(f.predicates))
	copy(predicates, f.predicates)
	f.mu.RUnlock()

	start := time.Now()
	f.metrics.Counter(FilterItemsTotal).Inc()

	ctx, span := f.tracer.StartSpan(ctx, FilterProcessSpan)
	span.SetTag(FilterTagNode, string(f.name))
	defer span.Finish()

	if cerr := ctx.Err(); cerr != nil {
		span.SetTag(FilterTagPassed, "false")
		return item, newError(f.name, item, start, cerr)
	}

	for i, wp := range predicates {
		if wp.pred(item) {
			continue
		}
		f.metrics.Counter(FilterDroppedTotal).Inc()
		span.SetTag(FilterTagPassed, "false")
		span.SetTag(FilterTagReason, wp.reason)

		_ = f.hooks.Emit(ctx, FilterEventRejected, FilterEvent{ //nolint:errcheck
			Name:      f.name,
			Reason:    wp.reason,
			Item:      item,
			Timestamp: time.Now(),
		})

		reason := wp.reason
		if reason == "" {
			reason = fmt.Sprintf("predicate %d returned false", i+1)
		}
		return item, newError(f.name, item, start, &FilterError{Reason: reason})
	}

	f.metrics.Counter(FilterPassedTotal).Inc()
	span.SetTag(FilterTagPassed, "true")
	return item, nil
}

// Name returns the node name.
func (f *Filter[T]) Name() Name { return f.name }

// Len reports the number of registered predicates.
func (f *Filter[T]) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.predicates)
}

// OnRejected registers a hook invoked whenever a predicate rejects an
// item.
func (f *Filter[T]) OnRejected(handler func(context.Context, FilterEvent) error) error {
	_, err := f.hooks.Hook(FilterEventRejected, handler)
	return err
}

// Metrics returns the filter's metrics registry.
func (f *Filter[T]) Metrics() *metricz.Registry { return f.metrics }

// Tracer returns the filter's tracer.
func (f *Filter[T]) Tracer() *tracez.Tracer { return f.tracer }
