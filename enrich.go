package etlz

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Enricher is a rule-based node that fills in or augments properties
// of an item: lookups against in-memory tables, computed fields, and
// defaulting of empty values. Entries apply in registration order on
// the same item instance, so a later Compute observes values set by an
// earlier Lookup within the same Process call.
//
// Like Validator, registration happens through free generic functions
// (Lookup, SetFrom, Compute, DefaultIfZero, ...) that return the
// enricher for chaining. Zero entries means the item passes through
// unchanged, same reference.
type Enricher[T any] struct {
	name    Name
	entries []enrichEntry[T]
	mu      sync.RWMutex
}

type enrichEntry[T any] struct {
	path  string
	apply func(item T) error
}

// NewEnricher creates an empty Enricher node.
func NewEnricher[T any](name Name) *Enricher[T] {
	return &Enricher[T]{name: name}
}

func (e *Enricher[T]) add(path string, apply func(T) error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, enrichEntry[T]{path: path, apply: apply})
}

func requireEnricher[T any](e *Enricher[T], op string) {
	if e == nil {
		panic("etlz: " + op + " requires a non-nil enricher")
	}
}

func requireField[T, V any](f *Field[T, V], op string) {
	if f == nil {
		panic("etlz: " + op + " requires a non-nil field accessor")
	}
}

// Lookup sets field from table[key(item)] only when the key exists.
// A missing key leaves the property at its prior value.
func Lookup[T any, K comparable, V any](e *Enricher[T], field *Field[T, V], table map[K]V, key func(T) K) *Enricher[T] {
	requireEnricher(e, "Lookup")
	requireField(field, "Lookup")
	if key == nil {
		panic("etlz: Lookup requires a non-nil key selector")
	}
	e.add(field.Path(), func(item T) error {
		if value, ok := table[key(item)]; ok {
			return field.Set(item, value)
		}
		return nil
	})
	return e
}

// SetFrom always assigns field from table[key(item)], using the value
// type's zero value when the key is missing. Contrast with Lookup,
// which leaves the property untouched on a miss.
func SetFrom[T any, K comparable, V any](e *Enricher[T], field *Field[T, V], table map[K]V, key func(T) K) *Enricher[T] {
	requireEnricher(e, "SetFrom")
	requireField(field, "SetFrom")
	if key == nil {
		panic("etlz: SetFrom requires a non-nil key selector")
	}
	e.add(field.Path(), func(item T) error {
		return field.Set(item, table[key(item)])
	})
	return e
}

// Compute unconditionally assigns field from fn(item). Because entries
// run in order, fn sees mutations made by earlier entries.
func Compute[T, V any](e *Enricher[T], field *Field[T, V], fn func(T) V) *Enricher[T] {
	requireEnricher(e, "Compute")
	requireField(field, "Compute")
	if fn == nil {
		panic("etlz: Compute requires a non-nil function")
	}
	e.add(field.Path(), func(item T) error {
		return field.Set(item, fn(item))
	})
	return e
}

// DefaultWhen assigns def to field when condition holds for the
// property's current value.
func DefaultWhen[T, V any](e *Enricher[T], field *Field[T, V], condition func(V) bool, def V) *Enricher[T] {
	requireEnricher(e, "DefaultWhen")
	requireField(field, "DefaultWhen")
	if condition == nil {
		panic("etlz: DefaultWhen requires a non-nil condition")
	}
	e.add(field.Path(), func(item T) error {
		current, err := field.Get(item)
		if err != nil {
			return err
		}
		if condition(current) {
			return field.Set(item, def)
		}
		return nil
	})
	return e
}

// DefaultIfZero assigns def when the property equals its type's zero
// value. For strings that is "", for numbers 0, for pointers nil.
func DefaultIfZero[T any, V comparable](e *Enricher[T], field *Field[T, V], def V) *Enricher[T] {
	var zero V
	return DefaultWhen(e, field, func(v V) bool { return v == zero }, def)
}

// DefaultIfEmpty assigns def when the string property is empty.
func DefaultIfEmpty[T any](e *Enricher[T], field *Field[T, string], def string) *Enricher[T] {
	return DefaultWhen(e, field, func(s string) bool { return s == "" }, def)
}

// DefaultIfBlank assigns def when the string property is empty or
// contains only whitespace.
func DefaultIfBlank[T any](e *Enricher[T], field *Field[T, string], def string) *Enricher[T] {
	return DefaultWhen(e, field, func(s string) bool { return strings.TrimSpace(s) == "" }, def)
}

// DefaultIfNil assigns def when the pointer property is nil.
func DefaultIfNil[T, V any](e *Enricher[T], field *Field[T, *V], def *V) *Enricher[T] {
	return DefaultWhen(e, field, func(p *V) bool { return p == nil }, def)
}

// DefaultIfEmptySlice assigns def when the slice property is nil or
// has zero elements. A non-empty slice is left untouched.
func DefaultIfEmptySlice[T, E any](e *Enricher[T], field *Field[T, []E], def []E) *Enricher[T] {
	return DefaultWhen(e, field, func(s []E) bool { return len(s) == 0 }, def)
}

// Process implements Node, applying entries in registration order on
// the incoming item.
func (e *Enricher[T]) Process(ctx context.Context, item T, _ *RunContext) (result T, err error) {
	defer recoverFromPanic(&result, &err, e.name, item)

	e.mu.RLock()
	entries := make([]enrichEntry[T], len(e.entries))
	copy(entries, e.entries)
	e.mu.RUnlock()

	if cerr := ctx.Err(); cerr != nil {
		return item, newError(e.name, item, time.Now(), cerr)
	}

	for _, entry := range entries {
		if aerr := entry.apply(item); aerr != nil {
			return item, newError(e.name, item, time.Now(), aerr)
		}
	}
	return item, nil
}

// Name returns the node name.
func (e *Enricher[T]) Name() Name { return e.name }

// Len reports the number of registered entries.
func (e *Enricher[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.entries)
}
