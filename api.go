package etlz

import "context"

// Name identifies a node within a pipeline. Using this type encourages
// storing node names as constants rather than scattering inline strings:
//
//	const (
//	    ValidateOrderName Name = "validate-order"
//	    EnrichOrderName   Name = "enrich-order"
//	)
type Name = string

// Source produces the stream a pipeline consumes. Init performs pure
// setup and returns a lazy Pipe; actual I/O happens as the pipe is
// pulled. Setup errors (bad configuration, unreachable endpoint
// descriptors) surface from Init itself, while per-item errors surface
// from the pipe when the failing element would be yielded.
type Source[T any] interface {
	Init(ctx context.Context, rc *RunContext) (Pipe[T], error)
	Name() Name
}

// Node is a unit of per-item pipeline work. Process receives one item
// at a time from whatever drives the pipe, and returns the (possibly
// mutated) item. Implementations must observe ctx before doing work:
// a canceled context is an error, not a silent pass-through.
//
// Items flow as pointers, and rule-based nodes mutate them in place.
// A node with nothing to do returns the same pointer it was given.
type Node[T any] interface {
	Process(ctx context.Context, item T, rc *RunContext) (T, error)
	Name() Name
}

// Sink is the terminal consumer of a pipeline. Drain owns the full
// responsibility of pulling pipe to completion (or to the first fatal
// error) and releasing any resources it opened along the way.
type Sink[T any] interface {
	Drain(ctx context.Context, pipe Pipe[T], rc *RunContext) error
	Name() Name
}

// SourceFunc adapts a function into a Source.
func SourceFunc[T any](name Name, fn func(ctx context.Context, rc *RunContext) (Pipe[T], error)) Source[T] {
	if fn == nil {
		panic("etlz: SourceFunc requires a non-nil function")
	}
	return sourceFunc[T]{name: name, fn: fn}
}

type sourceFunc[T any] struct {
	fn   func(context.Context, *RunContext) (Pipe[T], error)
	name Name
}

func (s sourceFunc[T]) Init(ctx context.Context, rc *RunContext) (Pipe[T], error) {
	return s.fn(ctx, rc)
}

func (s sourceFunc[T]) Name() Name { return s.name }

// SliceSource is a Source over an in-memory slice, mainly useful for
// embedding small fixed inputs and for tests.
func SliceSource[T any](name Name, items []T) Source[T] {
	return SourceFunc(name, func(context.Context, *RunContext) (Pipe[T], error) {
		return FromSlice(items), nil
	})
}

// SinkFunc adapts a function into a Sink.
func SinkFunc[T any](name Name, fn func(ctx context.Context, pipe Pipe[T], rc *RunContext) error) Sink[T] {
	if fn == nil {
		panic("etlz: SinkFunc requires a non-nil function")
	}
	return sinkFunc[T]{name: name, fn: fn}
}

type sinkFunc[T any] struct {
	fn   func(context.Context, Pipe[T], *RunContext) error
	name Name
}

func (s sinkFunc[T]) Drain(ctx context.Context, pipe Pipe[T], rc *RunContext) error {
	return s.fn(ctx, pipe, rc)
}

func (s sinkFunc[T]) Name() Name { return s.name }

// SliceSink drains a pipe into the slice pointed at by out. The slice
// observes items in the exact order the source yielded them.
func SliceSink[T any](name Name, out *[]T) Sink[T] {
	if out == nil {
		panic("etlz: SliceSink requires a non-nil destination")
	}
	return SinkFunc(name, func(ctx context.Context, pipe Pipe[T], _ *RunContext) error {
		items, err := pipe.ToList(ctx)
		*out = append(*out, items...)
		return err
	})
}
