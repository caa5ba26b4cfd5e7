package etlz

import (
	"context"
	"time"
)

// Transform creates a Node from a pure transformation that cannot
// fail. Use it for formatting, field mapping, and computed fields; if
// the operation might fail, use Apply instead.
//
//	upper := etlz.Transform("uppercase", func(_ context.Context, u *User) *User {
//	    u.Name = strings.ToUpper(u.Name)
//	    return u
//	})
func Transform[T any](name Name, fn func(context.Context, T) T) Node[T] {
	if fn == nil {
		panic("etlz: Transform requires a non-nil function")
	}
	return nodeFunc[T]{name: name, fn: func(ctx context.Context, item T, _ *RunContext) (result T, err error) {
		defer recoverFromPanic(&result, &err, name, item)
		result = fn(ctx, item)
		return result, nil
	}}
}

// Apply creates a Node from a function that transforms an item and may
// return an error. On error the run stops and the error is wrapped
// with the node's name and timing for debugging.
func Apply[T any](name Name, fn func(context.Context, T) (T, error)) Node[T] {
	if fn == nil {
		panic("etlz: Apply requires a non-nil function")
	}
	return nodeFunc[T]{name: name, fn: func(ctx context.Context, item T, _ *RunContext) (result T, err error) {
		defer recoverFromPanic(&result, &err, name, item)
		start := time.Now()
		result, err = fn(ctx, item)
		if err != nil {
			var zero T
			return zero, newError(name, item, start, err)
		}
		return result, nil
	}}
}

// Effect creates a Node that performs a side effect (logging, metrics,
// notifications) without modifying the item. The item always passes
// through unchanged; a returned error still stops the run.
func Effect[T any](name Name, fn func(context.Context, T) error) Node[T] {
	if fn == nil {
		panic("etlz: Effect requires a non-nil function")
	}
	return nodeFunc[T]{name: name, fn: func(ctx context.Context, item T, _ *RunContext) (result T, err error) {
		defer recoverFromPanic(&result, &err, name, item)
		start := time.Now()
		if err := fn(ctx, item); err != nil {
			var zero T
			return zero, newError(name, item, start, err)
		}
		return item, nil
	}}
}

// NodeFunc adapts a bare function, including its RunContext access,
// into a Node.
func NodeFunc[T any](name Name, fn func(context.Context, T, *RunContext) (T, error)) Node[T] {
	if fn == nil {
		panic("etlz: NodeFunc requires a non-nil function")
	}
	return nodeFunc[T]{name: name, fn: fn}
}

type nodeFunc[T any] struct {
	fn   func(context.Context, T, *RunContext) (T, error)
	name Name
}

func (n nodeFunc[T]) Process(ctx context.Context, item T, rc *RunContext) (T, error) {
	return n.fn(ctx, item, rc)
}

func (n nodeFunc[T]) Name() Name { return n.name }
