package etlz

import (
	"cmp"
	"context"
	"strings"
	"sync"
	"time"
)

// Cleanser is a rule-based node that normalizes property values in
// place: trimming and case-folding strings, clamping numbers, rounding
// timestamps, compacting collections. Each operation is registered
// against one property and applied unconditionally to that property's
// current value, in registration order, on the same item instance.
//
// The string, numeric, datetime and collection specializations are all
// expressed as typed registration functions over the one node type;
// the value type parameter of each function is what constrains which
// properties an operation can bind to.
type Cleanser[T any] struct {
	name    Name
	entries []cleanseEntry[T]
	mu      sync.RWMutex
}

type cleanseEntry[T any] struct {
	path  string
	apply func(item T) error
}

// NewCleanser creates an empty Cleanser node.
func NewCleanser[T any](name Name) *Cleanser[T] {
	return &Cleanser[T]{name: name}
}

func (c *Cleanser[T]) add(path string, apply func(T) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, cleanseEntry[T]{path: path, apply: apply})
}

// CleanseWith registers an arbitrary value transformation for field.
// All built-in operations are defined in terms of it.
func CleanseWith[T, V any](c *Cleanser[T], field *Field[T, V], op func(V) V) *Cleanser[T] {
	if c == nil {
		panic("etlz: CleanseWith requires a non-nil cleanser")
	}
	requireField(field, "CleanseWith")
	if op == nil {
		panic("etlz: CleanseWith requires a non-nil operation")
	}
	c.add(field.Path(), func(item T) error {
		value, err := field.Get(item)
		if err != nil {
			return err
		}
		return field.Set(item, op(value))
	})
	return c
}

// Trim removes leading and trailing whitespace.
func Trim[T any](c *Cleanser[T], field *Field[T, string]) *Cleanser[T] {
	return CleanseWith(c, field, strings.TrimSpace)
}

// Lower folds the string property to lower case.
func Lower[T any](c *Cleanser[T], field *Field[T, string]) *Cleanser[T] {
	return CleanseWith(c, field, strings.ToLower)
}

// Upper folds the string property to upper case.
func Upper[T any](c *Cleanser[T], field *Field[T, string]) *Cleanser[T] {
	return CleanseWith(c, field, strings.ToUpper)
}

// CollapseSpaces replaces runs of whitespace with a single space and
// trims the ends.
func CollapseSpaces[T any](c *Cleanser[T], field *Field[T, string]) *Cleanser[T] {
	return CleanseWith(c, field, func(s string) string {
		return strings.Join(strings.Fields(s), " ")
	})
}

// TruncateString cuts the string property to at most max runes.
func TruncateString[T any](c *Cleanser[T], field *Field[T, string], max int) *Cleanser[T] {
	return CleanseWith(c, field, func(s string) string {
		runes := []rune(s)
		if len(runes) <= max {
			return s
		}
		return string(runes[:max])
	})
}

// Clamp restricts the numeric property to the [lo, hi] range.
func Clamp[T any, N cmp.Ordered](c *Cleanser[T], field *Field[T, N], lo, hi N) *Cleanser[T] {
	return CleanseWith(c, field, func(n N) N {
		if n < lo {
			return lo
		}
		if n > hi {
			return hi
		}
		return n
	})
}

// signedNumber covers the numeric types AbsValue applies to.
type signedNumber interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 | ~float32 | ~float64
}

// AbsValue replaces the numeric property with its absolute value.
func AbsValue[T any, N signedNumber](c *Cleanser[T], field *Field[T, N]) *Cleanser[T] {
	return CleanseWith(c, field, func(n N) N {
		if n < 0 {
			return -n
		}
		return n
	})
}

// ToUTC converts the time property to UTC.
func ToUTC[T any](c *Cleanser[T], field *Field[T, time.Time]) *Cleanser[T] {
	return CleanseWith(c, field, func(t time.Time) time.Time { return t.UTC() })
}

// ToLocal converts the time property to the local time zone.
func ToLocal[T any](c *Cleanser[T], field *Field[T, time.Time]) *Cleanser[T] {
	return CleanseWith(c, field, func(t time.Time) time.Time { return t.Local() })
}

// StripTime zeroes the time-of-day portion, keeping the calendar date
// in the value's own location.
func StripTime[T any](c *Cleanser[T], field *Field[T, time.Time]) *Cleanser[T] {
	return CleanseWith(c, field, func(t time.Time) time.Time {
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	})
}

// TruncateTo rounds the time property down to a multiple of d.
func TruncateTo[T any](c *Cleanser[T], field *Field[T, time.Time], d time.Duration) *Cleanser[T] {
	return CleanseWith(c, field, func(t time.Time) time.Time { return t.Truncate(d) })
}

// RoundToMinute rounds to the nearest minute; 30 seconds or more
// rounds the minute up.
func RoundToMinute[T any](c *Cleanser[T], field *Field[T, time.Time]) *Cleanser[T] {
	return CleanseWith(c, field, func(t time.Time) time.Time { return t.Round(time.Minute) })
}

// RoundToHour rounds to the nearest hour; 30 minutes rounds up.
func RoundToHour[T any](c *Cleanser[T], field *Field[T, time.Time]) *Cleanser[T] {
	return CleanseWith(c, field, func(t time.Time) time.Time { return t.Round(time.Hour) })
}

// RoundToDay rounds to the nearest day boundary; noon rounds up.
func RoundToDay[T any](c *Cleanser[T], field *Field[T, time.Time]) *Cleanser[T] {
	return CleanseWith(c, field, func(t time.Time) time.Time { return t.Round(24 * time.Hour) })
}

// DefaultIfZeroTime replaces the zero time.Time with def.
func DefaultIfZeroTime[T any](c *Cleanser[T], field *Field[T, time.Time], def time.Time) *Cleanser[T] {
	return CleanseWith(c, field, func(t time.Time) time.Time {
		if t.IsZero() {
			return def
		}
		return t
	})
}

// Compact removes nil pointers from the slice property, preserving the
// order of the remaining elements.
func Compact[T, E any](c *Cleanser[T], field *Field[T, []*E]) *Cleanser[T] {
	return CleanseWith(c, field, func(s []*E) []*E {
		if s == nil {
			return nil
		}
		out := s[:0]
		for _, e := range s {
			if e != nil {
				out = append(out, e)
			}
		}
		return out
	})
}

// DropZero removes zero-valued elements from the slice property.
func DropZero[T any, E comparable](c *Cleanser[T], field *Field[T, []E]) *Cleanser[T] {
	var zero E
	return CleanseWith(c, field, func(s []E) []E {
		if s == nil {
			return nil
		}
		out := s[:0]
		for _, e := range s {
			if e != zero {
				out = append(out, e)
			}
		}
		return out
	})
}

// Process implements Node, applying operations in registration order.
func (c *Cleanser[T]) Process(ctx context.Context, item T, _ *RunContext) (result T, err error) {
	defer recoverFromPanic(&result, &err, c.name, item)

	c.mu.RLock()
	entries := make([]cleanseEntry[T], len(c.entries))
	copy(entries, c.entries)
	c.mu.RUnlock()

	if cerr := ctx.Err(); cerr != nil {
		return item, newError(c.name, item, time.Now(), cerr)
	}

	for _, entry := range entries {
		if aerr := entry.apply(item); aerr != nil {
			return item, newError(c.name, item, time.Now(), aerr)
		}
	}
	return item, nil
}

// Name returns the node name.
func (c *Cleanser[T]) Name() Name { return c.name }

// Len reports the number of registered operations.
func (c *Cleanser[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
