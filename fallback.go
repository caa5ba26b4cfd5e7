package etlz

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zoobzio/metricz"
)

// Metric keys for Fallback nodes.
const (
	FallbackItemsTotal     = metricz.Key("fallback.items.total")
	FallbackActivatedTotal = metricz.Key("fallback.activated.total")
	FallbackExhaustedTotal = metricz.Key("fallback.exhausted.total")
)

// Fallback tries each node in order until one succeeds, feeding every
// attempt the original item. It suits enrichment against redundant
// back-ends: primary lookup service, then the replica, then a static
// table.
//
// Rule and filter failures stop the chain immediately: a rejected
// item is rejected, not unlucky. When every node fails, the last error
// is returned with this node's name prepended to the path.
type Fallback[T any] struct {
	nodes   []Node[T]
	name    Name
	mu      sync.RWMutex
	metrics *metricz.Registry
}

// NewFallback chains primary with any number of alternatives.
func NewFallback[T any](name Name, primary Node[T], alternatives ...Node[T]) *Fallback[T] {
	if primary == nil {
		panic("etlz: NewFallback requires a non-nil primary node")
	}
	for _, alt := range alternatives {
		if alt == nil {
			panic("etlz: NewFallback requires non-nil alternative nodes")
		}
	}

	metrics := metricz.New()
	metrics.Counter(FallbackItemsTotal)
	metrics.Counter(FallbackActivatedTotal)
	metrics.Counter(FallbackExhaustedTotal)

	return &Fallback[T]{
		name:    name,
		nodes:   append([]Node[T]{primary}, alternatives...),
		metrics: metrics,
	}
}

// Process implements Node.
func (f *Fallback[T]) Process(ctx context.Context, item T, rc *RunContext) (result T, err error) {
	defer recoverFromPanic(&result, &err, f.name, item)
	start := time.Now()

	f.mu.RLock()
	nodes := make([]Node[T], len(f.nodes))
	copy(nodes, f.nodes)
	f.mu.RUnlock()

	f.metrics.Counter(FallbackItemsTotal).Inc()

	for i, node := range nodes {
		if cerr := ctx.Err(); cerr != nil {
			return item, newError(f.name, item, start, cerr)
		}
		if i > 0 {
			f.metrics.Counter(FallbackActivatedTotal).Inc()
		}

		result, err = node.Process(ctx, item, rc)
		if err == nil {
			return result, nil
		}

		var ruleErr *RuleError
		var filterErr *FilterError
		if errors.As(err, &ruleErr) || errors.As(err, &filterErr) {
			return item, newError(f.name, item, start, err)
		}
	}

	f.metrics.Counter(FallbackExhaustedTotal).Inc()
	return item, newError(f.name, item, start, err)
}

// Name implements Node.
func (f *Fallback[T]) Name() Name { return f.name }

// Len returns the number of nodes in the chain.
func (f *Fallback[T]) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.nodes)
}

// Metrics returns the node's metrics registry.
func (f *Fallback[T]) Metrics() *metricz.Registry { return f.metrics }
