package etlz

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Metric keys for Switch nodes.
const (
	SwitchItemsTotal   = metricz.Key("switch.items.total")
	SwitchRoutedTotal  = metricz.Key("switch.routed.total")
	SwitchDefaultTotal = metricz.Key("switch.default.total")
)

// Span names and tags for Switch nodes.
const (
	SwitchProcessSpan = tracez.Key("switch.process")
	SwitchTagRoute    = tracez.Tag("switch.route")
)

// Condition computes a routing key for an item. Keys are typically
// small enums or strings derived from the record: a country code, a
// record kind, a priority band.
type Condition[T any, K comparable] func(context.Context, T) K

// Switch routes each item to the node registered for its computed
// key. An item whose key has no route passes through unchanged, so a
// Switch can apply region-specific cleansing to some records while
// letting the rest flow by.
type Switch[T any, K comparable] struct {
	condition Condition[T, K]
	routes    map[K]Node[T]
	name      Name
	mu        sync.RWMutex
	metrics   *metricz.Registry
	tracer    *tracez.Tracer
}

// NewSwitch creates a Switch with the given routing condition.
func NewSwitch[T any, K comparable](name Name, condition Condition[T, K]) *Switch[T, K] {
	if condition == nil {
		panic("etlz: NewSwitch requires a non-nil condition")
	}

	metrics := metricz.New()
	metrics.Counter(SwitchItemsTotal)
	metrics.Counter(SwitchRoutedTotal)
	metrics.Counter(SwitchDefaultTotal)

	return &Switch[T, K]{
		name:      name,
		condition: condition,
		routes:    make(map[K]Node[T]),
		metrics:   metrics,
		tracer:    tracez.New(),
	}
}

// AddRoute registers the node handling items whose key equals key.
// Re-registering a key replaces the previous route.
func (s *Switch[T, K]) AddRoute(key K, node Node[T]) *Switch[T, K] {
	if node == nil {
		panic("etlz: AddRoute requires a non-nil node")
	}
	s.mu.Lock()
	s.routes[key] = node
	s.mu.Unlock()
	return s
}

// RemoveRoute deletes the route for key, if any.
func (s *Switch[T, K]) RemoveRoute(key K) *Switch[T, K] {
	s.mu.Lock()
	delete(s.routes, key)
	s.mu.Unlock()
	return s
}

// HasRoute reports whether a route exists for key.
func (s *Switch[T, K]) HasRoute(key K) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.routes[key]
	return ok
}

// Process implements Node.
func (s *Switch[T, K]) Process(ctx context.Context, item T, rc *RunContext) (result T, err error) {
	defer recoverFromPanic(&result, &err, s.name, item)
	start := time.Now()

	s.mu.RLock()
	condition := s.condition
	s.mu.RUnlock()

	s.metrics.Counter(SwitchItemsTotal).Inc()

	ctx, span := s.tracer.StartSpan(ctx, SwitchProcessSpan)
	defer span.Finish()

	key := condition(ctx, item)

	s.mu.RLock()
	node, ok := s.routes[key]
	s.mu.RUnlock()

	if !ok {
		s.metrics.Counter(SwitchDefaultTotal).Inc()
		span.SetTag(SwitchTagRoute, "passthrough")
		return item, nil
	}

	s.metrics.Counter(SwitchRoutedTotal).Inc()
	span.SetTag(SwitchTagRoute, string(node.Name()))

	result, err = node.Process(ctx, item, rc)
	if err != nil {
		return item, newError(s.name, item, start, err)
	}
	return result, nil
}

// Name implements Node.
func (s *Switch[T, K]) Name() Name { return s.name }

// Metrics returns the node's metrics registry.
func (s *Switch[T, K]) Metrics() *metricz.Registry { return s.metrics }

// Tracer returns the node's tracer.
func (s *Switch[T, K]) Tracer() *tracez.Tracer { return s.tracer }
