package etlz

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/zoobzio/clockz"
)

// RunContext carries the cross-cutting state of one pipeline run: the
// active lineage collector and sink, a structured logger, a clock, and
// arbitrary run-scoped key/value state. It is created before the first
// node executes, passed by pointer into every node call, and discarded
// when the run completes, so no state leaks across runs.
//
// There is exactly one logical thread of control per run, so nodes may
// read and mutate the context freely during execution. The value bag
// is still mutex-guarded so diagnostics from another goroutine (e.g. a
// progress reporter) cannot race the run.
type RunContext struct {
	collector   Collector
	lineageSink LineageSink
	clock       clockz.Clock
	logger      zerolog.Logger
	values      map[string]any
	mu          sync.RWMutex
}

// RunOption configures a RunContext.
type RunOption func(*RunContext)

// WithCollector installs the lineage collector for the run.
func WithCollector(c Collector) RunOption {
	return func(rc *RunContext) { rc.collector = c }
}

// WithLineageSink installs the sink that receives the lineage report
// when the run completes.
func WithLineageSink(s LineageSink) RunOption {
	return func(rc *RunContext) { rc.lineageSink = s }
}

// WithLogger installs the run logger. The default logger is disabled.
func WithLogger(l zerolog.Logger) RunOption {
	return func(rc *RunContext) { rc.logger = l }
}

// WithRunClock overrides the clock used for run-level timestamps.
// Primarily useful with a fake clock in tests.
func WithRunClock(c clockz.Clock) RunOption {
	return func(rc *RunContext) { rc.clock = c }
}

// WithValue seeds a run-scoped key/value pair.
func WithValue(key string, value any) RunOption {
	return func(rc *RunContext) { rc.values[key] = value }
}

// NewRunContext creates the context for a single pipeline run.
func NewRunContext(opts ...RunOption) *RunContext {
	rc := &RunContext{
		clock:  clockz.RealClock,
		logger: zerolog.Nop(),
		values: make(map[string]any),
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// Collector returns the run's lineage collector, or nil when lineage
// collection is not enabled.
func (rc *RunContext) Collector() Collector { return rc.collector }

// LineageSink returns the configured lineage sink, or nil.
func (rc *RunContext) LineageSink() LineageSink { return rc.lineageSink }

// Logger returns the run logger.
func (rc *RunContext) Logger() zerolog.Logger { return rc.logger }

// Clock returns the run clock.
func (rc *RunContext) Clock() clockz.Clock { return rc.clock }

// Set stores a run-scoped value.
func (rc *RunContext) Set(key string, value any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.values[key] = value
}

// Value retrieves a run-scoped value.
func (rc *RunContext) Value(key string) (any, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	v, ok := rc.values[key]
	return v, ok
}
