package etlz

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
)

type rawReading struct {
	Sensor string
	Value  string
}

type typedReading struct {
	Sensor string
	Value  float64
}

func TestConverter(t *testing.T) {
	parse := NewConverter("parse-reading", func(_ context.Context, in *rawReading) (*typedReading, error) {
		v, err := strconv.ParseFloat(in.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("value %q is not numeric", in.Value)
		}
		return &typedReading{Sensor: in.Sensor, Value: v}, nil
	})

	t.Run("Converts", func(t *testing.T) {
		out, err := parse.Convert(context.Background(), &rawReading{Sensor: "t1", Value: "21.5"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.Sensor != "t1" || out.Value != 21.5 {
			t.Errorf("unexpected result: %+v", out)
		}
	})

	t.Run("FailureWrapsConversionError", func(t *testing.T) {
		_, err := parse.Convert(context.Background(), &rawReading{Sensor: "t1", Value: "oops"})
		if err == nil {
			t.Fatal("expected conversion failure")
		}
		var cerr *ConversionError
		if !errors.As(err, &cerr) {
			t.Fatalf("expected *ConversionError, got %v", err)
		}
		if cerr.From != "*etlz.rawReading" || cerr.To != "*etlz.typedReading" {
			t.Errorf("expected type names, got From=%q To=%q", cerr.From, cerr.To)
		}
	})

	t.Run("PanicBecomesError", func(t *testing.T) {
		boom := NewConverter("boom", func(_ context.Context, in *rawReading) (*typedReading, error) {
			panic("conversion exploded")
		})
		_, err := boom.Convert(context.Background(), &rawReading{})
		if err == nil {
			t.Fatal("expected error from panicking converter")
		}
	})

	t.Run("NilFnPanics", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected panic for nil conversion func")
			}
		}()
		NewConverter[*rawReading, *typedReading]("bad", nil)
	})
}

func TestMapPipe(t *testing.T) {
	parse := NewConverter("parse-reading", func(_ context.Context, in *rawReading) (*typedReading, error) {
		v, err := strconv.ParseFloat(in.Value, 64)
		if err != nil {
			return nil, err
		}
		return &typedReading{Sensor: in.Sensor, Value: v}, nil
	})

	t.Run("MapsLazily", func(t *testing.T) {
		src := FromSlice([]*rawReading{
			{Sensor: "a", Value: "1"},
			{Sensor: "b", Value: "2"},
		})
		out, err := MapPipe(src, parse).ToList(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(out) != 2 || out[0].Value != 1 || out[1].Value != 2 {
			t.Errorf("unexpected output: %v", out)
		}
	})

	t.Run("StopsOnFirstFailure", func(t *testing.T) {
		src := FromSlice([]*rawReading{
			{Sensor: "a", Value: "1"},
			{Sensor: "b", Value: "bad"},
			{Sensor: "c", Value: "3"},
		})
		out, err := MapPipe(src, parse).ToList(context.Background())
		if err == nil {
			t.Fatal("expected conversion failure")
		}
		if len(out) != 1 {
			t.Errorf("expected 1 converted item before failure, got %d", len(out))
		}
	})

	t.Run("Cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		src := FromSlice([]*rawReading{{Sensor: "a", Value: "1"}})
		_, err := MapPipe(src, parse).ToList(ctx)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected wrapped context.Canceled, got %v", err)
		}
	})
}
