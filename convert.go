package etlz

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"reflect"
	"time"
)

// Converter turns items of one type into another. It wraps a single
// conversion function; when the function fails (or panics) the failure
// surfaces as a *ConversionError carrying the source type, target type
// and offending value.
//
// Because a pipeline's stages all share one item type, a converter is
// applied at the pipe level with MapPipe, joining a typed upstream to
// a differently-typed downstream.
type Converter[In, Out any] struct {
	name Name
	fn   func(context.Context, In) (Out, error)
}

// NewConverter creates a Converter from fn.
func NewConverter[In, Out any](name Name, fn func(context.Context, In) (Out, error)) *Converter[In, Out] {
	if fn == nil {
		panic("etlz: NewConverter requires a non-nil function")
	}
	return &Converter[In, Out]{name: name, fn: fn}
}

// Name returns the converter's name.
func (c *Converter[In, Out]) Name() Name { return c.name }

// Convert applies the conversion to one item.
func (c *Converter[In, Out]) Convert(ctx context.Context, item In) (Out, error) {
	var zero Out
	if cerr := ctx.Err(); cerr != nil {
		return zero, newError(c.name, item, time.Now(), cerr)
	}

	out, err := func() (result Out, err error) {
		defer func() {
			if r := recover(); r != nil {
				var z Out
				result = z
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return c.fn(ctx, item)
	}()
	if err != nil {
		var convErr *ConversionError
		if !errors.As(err, &convErr) {
			convErr = &ConversionError{
				Value:   item,
				From:    reflect.TypeFor[In]().String(),
				To:      reflect.TypeFor[Out]().String(),
				Message: err.Error(),
			}
		}
		return zero, newError(c.name, item, time.Now(), convErr)
	}
	return out, nil
}

// MapPipe lazily applies conv to each element of pipe, producing a
// pipe of the converted type. Errors from the upstream pipe and from
// the conversion both stop iteration; cancellation is observed at each
// pull boundary by the upstream pipe.
func MapPipe[In, Out any](pipe Pipe[In], conv *Converter[In, Out]) Pipe[Out] {
	if pipe == nil {
		panic("etlz: MapPipe requires a non-nil pipe")
	}
	if conv == nil {
		panic("etlz: MapPipe requires a non-nil converter")
	}
	return &mappedPipe[In, Out]{src: pipe, conv: conv}
}

type mappedPipe[In, Out any] struct {
	src  Pipe[In]
	conv *Converter[In, Out]
}

func (p *mappedPipe[In, Out]) All(ctx context.Context) iter.Seq2[Out, error] {
	return func(yield func(Out, error) bool) {
		var zero Out
		for item, err := range p.src.All(ctx) {
			if err != nil {
				yield(zero, err)
				return
			}
			out, cerr := p.conv.Convert(ctx, item)
			if cerr != nil {
				yield(zero, cerr)
				return
			}
			if !yield(out, nil) {
				return
			}
		}
	}
}

func (p *mappedPipe[In, Out]) ToList(ctx context.Context) ([]Out, error) {
	return drain[Out](ctx, p)
}
