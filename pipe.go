package etlz

import (
	"context"
	"fmt"
	"iter"
	"sync/atomic"
)

// Pipe is a lazy, pull-based, single-pass sequence of typed items.
// The cancellation signal is checked before each element is yielded;
// when the context is done the pipe surfaces a cancellation-kind
// failure instead of silently truncating, so a consumer can always
// distinguish "stream finished" from "stream interrupted".
//
// A pipe may be iterated at most once. Re-iteration (including ToList
// after iteration has started) yields ErrPipeConsumed. Exactly one
// consumer owns a pipe; pipes are not safe for two goroutines to pull
// concurrently.
type Pipe[T any] interface {
	// All returns the single-use iterator over the pipe's items.
	// Iteration stops at the first non-nil error.
	All(ctx context.Context) iter.Seq2[T, error]

	// ToList eagerly drains the pipe into a slice. It is terminal:
	// the pipe cannot be iterated afterwards.
	ToList(ctx context.Context) ([]T, error)
}

// FromSlice creates an in-memory Pipe over a finite materialized
// collection. The slice is not copied; callers must not mutate it
// while the pipe is being consumed.
func FromSlice[T any](items []T) Pipe[T] {
	return &slicePipe[T]{items: items}
}

type slicePipe[T any] struct {
	items    []T
	consumed atomic.Bool
}

func (p *slicePipe[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		if p.consumed.Swap(true) {
			yield(zero, ErrPipeConsumed)
			return
		}
		for _, item := range p.items {
			if err := ctx.Err(); err != nil {
				yield(zero, fmt.Errorf("pipe interrupted: %w", err))
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

func (p *slicePipe[T]) ToList(ctx context.Context) ([]T, error) {
	return drain[T](ctx, p)
}

// FromSeq creates a streaming Pipe over a lazily produced sequence,
// typically decoded on demand from storage. The sequence's own errors
// pass through; the pipe adds the cancellation check at each pull
// boundary and enforces the single-pass invariant.
func FromSeq[T any](seq iter.Seq2[T, error]) Pipe[T] {
	if seq == nil {
		panic("etlz: FromSeq requires a non-nil sequence")
	}
	return &seqPipe[T]{seq: seq}
}

type seqPipe[T any] struct {
	seq      iter.Seq2[T, error]
	consumed atomic.Bool
}

func (p *seqPipe[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		if p.consumed.Swap(true) {
			yield(zero, ErrPipeConsumed)
			return
		}
		next, stop := iter.Pull2(p.seq)
		defer stop()
		for {
			if cerr := ctx.Err(); cerr != nil {
				yield(zero, fmt.Errorf("pipe interrupted: %w", cerr))
				return
			}
			item, err, ok := next()
			if !ok {
				return
			}
			if !yield(item, err) {
				return
			}
			if err != nil {
				return
			}
		}
	}
}

func (p *seqPipe[T]) ToList(ctx context.Context) ([]T, error) {
	return drain[T](ctx, p)
}

// FromFunc creates a streaming Pipe from a pull callback. next returns
// the next item, whether one was produced, and any error; (zero,
// false, nil) signals normal end of stream.
func FromFunc[T any](next func(ctx context.Context) (T, bool, error)) Pipe[T] {
	if next == nil {
		panic("etlz: FromFunc requires a non-nil pull function")
	}
	return &funcPipe[T]{next: next}
}

type funcPipe[T any] struct {
	next     func(ctx context.Context) (T, bool, error)
	consumed atomic.Bool
}

func (p *funcPipe[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		if p.consumed.Swap(true) {
			yield(zero, ErrPipeConsumed)
			return
		}
		for {
			if err := ctx.Err(); err != nil {
				yield(zero, fmt.Errorf("pipe interrupted: %w", err))
				return
			}
			item, ok, err := p.next(ctx)
			if err != nil {
				yield(item, err)
				return
			}
			if !ok {
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

func (p *funcPipe[T]) ToList(ctx context.Context) ([]T, error) {
	return drain[T](ctx, p)
}

func drain[T any](ctx context.Context, p Pipe[T]) ([]T, error) {
	var out []T
	for item, err := range p.All(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, item)
	}
	return out, nil
}
