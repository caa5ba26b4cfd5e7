package etlz

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Metric keys for Validator nodes.
const (
	ValidatorItemsTotal    = metricz.Key("validator.items.total")
	ValidatorChecksTotal   = metricz.Key("validator.checks.total")
	ValidatorFailuresTotal = metricz.Key("validator.failures.total")
)

// Span names for Validator nodes.
const (
	ValidatorProcessSpan = tracez.Key("validator.process")
)

// Span tags for Validator nodes.
const (
	ValidatorTagNode    = tracez.Tag("validator.node")
	ValidatorTagSuccess = tracez.Tag("validator.success")
	ValidatorTagRule    = tracez.Tag("validator.rule")

	// Hook event keys.
	ValidationEventFailed = hookz.Key("validator.rule_failed")
)

// ValidationEvent is emitted via hooks when a rule rejects an item,
// letting external systems track data-quality failures without
// attaching an error handler.
type ValidationEvent struct {
	Name         Name      // Node name
	Rule         Name      // Failing rule name
	PropertyPath string    // Property the rule was bound to
	Value        any       // Offending value
	Message      string    // Formatted message, if a formatter was set
	Timestamp    time.Time // When the failure occurred
}

// Validator is a rule-based node that checks properties of an item
// against registered predicates. Rules are evaluated in registration
// order and evaluation stops at the first failing rule, which raises a
// *RuleError carrying the property path, rule name and offending value.
//
// Configuration is append-only: Check and CheckAll add entries, nothing
// removes them. A configured validator keeps no per-item state and can
// be reused across any number of pipeline runs. With zero rules it
// returns the exact pointer it was given.
//
// Because Go methods cannot introduce type parameters, rules are
// registered through the free functions Check and CheckAll, which
// return the validator for chaining:
//
//	v := etlz.NewValidator[*User]("user-validation")
//	etlz.Check(v, ageField, func(age int) bool { return age >= 0 }, "age-not-negative")
//	etlz.Check(v, emailField, isEmail, "email-format",
//	    etlz.WithMessage(func(s string) string { return fmt.Sprintf("%q is not an email", s) }))
type Validator[T any] struct {
	name    Name
	rules   []boundRule[T]
	mu      sync.RWMutex
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[ValidationEvent]
}

type boundRule[T any] struct {
	rule  Name
	path  string
	apply func(item T) error
}

// NewValidator creates an empty Validator node.
func NewValidator[T any](name Name) *Validator[T] {
	metrics := metricz.New()
	metrics.Counter(ValidatorItemsTotal)
	metrics.Counter(ValidatorChecksTotal)
	metrics.Counter(ValidatorFailuresTotal)

	return &Validator[T]{
		name:    name,
		metrics: metrics,
		tracer:  tracez.New(),
		hooks:   hookz.New[ValidationEvent](),
	}
}

// CheckOption customizes a single rule registration.
type CheckOption[V any] func(*checkConfig[V])

type checkConfig[V any] struct {
	message func(V) string
}

// WithMessage attaches a message formatter invoked with the offending
// value when the rule fails.
func WithMessage[V any](format func(V) string) CheckOption[V] {
	return func(c *checkConfig[V]) { c.message = format }
}

// Check registers a rule binding field to predicate under ruleName.
// Registration is fail-fast: a nil validator, field or predicate
// panics immediately, before the rule is stored.
func Check[T, V any](v *Validator[T], field *Field[T, V], predicate func(V) bool, ruleName Name, opts ...CheckOption[V]) *Validator[T] {
	if v == nil {
		panic("etlz: Check requires a non-nil validator")
	}
	if field == nil {
		panic("etlz: Check requires a non-nil field accessor")
	}
	if predicate == nil {
		panic("etlz: Check requires a non-nil predicate")
	}

	var cfg checkConfig[V]
	for _, opt := range opts {
		opt(&cfg)
	}

	apply := func(item T) error {
		value, err := field.Get(item)
		if err != nil {
			return err
		}
		if predicate(value) {
			return nil
		}
		re := &RuleError{
			PropertyPath: field.Path(),
			Rule:         ruleName,
			Value:        value,
		}
		if cfg.message != nil {
			re.Message = cfg.message(value)
		}
		return re
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.rules = append(v.rules, boundRule[T]{rule: ruleName, path: field.Path(), apply: apply})
	return v
}

// CheckAll registers one predicate across several properties. Each
// field becomes its own rule entry under the shared rule name, in the
// order the fields are given.
func CheckAll[T, V any](v *Validator[T], fields []*Field[T, V], predicate func(V) bool, ruleName Name) *Validator[T] {
	if v == nil {
		panic("etlz: CheckAll requires a non-nil validator")
	}
	for _, field := range fields {
		Check(v, field, predicate, ruleName)
	}
	return v
}

// Process implements Node. Rules run in registration order; the first
// failing predicate stops evaluation and surfaces a *RuleError wrapped
// in an *Error[T]. With no registered rules the item passes through
// unchanged, same reference.
func (v *Validator[T]) Process(ctx context.Context, item T, _ *RunContext) (result T, err error) {
	defer recoverFromPanic(&result, &err, v.name, item)

	v.mu.RLock()
	rules := make([]boundRule[T], len(v.rules))
	copy(rules, v.rules)
	v.mu.RUnlock()

	start := time.Now()
	v.metrics.Counter(ValidatorItemsTotal).Inc()

	ctx, span := v.tracer.StartSpan(ctx, ValidatorProcessSpan)
	span.SetTag(ValidatorTagNode, string(v.name))
	defer span.Finish()

	if cerr := ctx.Err(); cerr != nil {
		span.SetTag(ValidatorTagSuccess, "false")
		return item, newError(v.name, item, start, cerr)
	}

	for _, r := range rules {
		v.metrics.Counter(ValidatorChecksTotal).Inc()
		if rerr := r.apply(item); rerr != nil {
			v.metrics.Counter(ValidatorFailuresTotal).Inc()
			span.SetTag(ValidatorTagSuccess, "false")
			span.SetTag(ValidatorTagRule, string(r.rule))

			if re, ok := rerr.(*RuleError); ok {
				_ = v.hooks.Emit(ctx, ValidationEventFailed, ValidationEvent{ //nolint:errcheck
					Name:         v.name,
					Rule:         re.Rule,
					PropertyPath: re.PropertyPath,
					Value:        re.Value,
					Message:      re.Message,
					Timestamp:    time.Now(),
				})
			}
			return item, newError(v.name, item, start, rerr)
		}
	}

	span.SetTag(ValidatorTagSuccess, "true")
	return item, nil
}

// Name returns the node name.
func (v *Validator[T]) Name() Name { return v.name }

// Len reports the number of registered rules.
func (v *Validator[T]) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.rules)
}

// Rules returns the registered rule names in order.
func (v *Validator[T]) Rules() []Name {
	v.mu.RLock()
	defer v.mu.RUnlock()
	names := make([]Name, len(v.rules))
	for i, r := range v.rules {
		names[i] = r.rule
	}
	return names
}

// OnRuleFailed registers a hook invoked whenever a rule rejects an item.
func (v *Validator[T]) OnRuleFailed(handler func(context.Context, ValidationEvent) error) error {
	_, err := v.hooks.Hook(ValidationEventFailed, handler)
	return err
}

// Metrics returns the validator's metrics registry.
func (v *Validator[T]) Metrics() *metricz.Registry { return v.metrics }

// Tracer returns the validator's tracer.
func (v *Validator[T]) Tracer() *tracez.Tracer { return v.tracer }
