package etlz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors returned by pipes and builders.
var (
	// ErrPipeConsumed is yielded when a single-pass pipe is iterated a
	// second time. Materialize with ToList first if you need replay.
	ErrPipeConsumed = errors.New("pipe already consumed")

	// ErrNoSource is reported by Build when no source was registered.
	ErrNoSource = errors.New("pipeline has no source")

	// ErrNoSink is reported by Build when no sink was registered.
	ErrNoSink = errors.New("pipeline has no sink")
)

// Error provides rich context about a pipeline execution failure.
// It wraps the underlying cause with the path of node names the item
// traveled, the input that triggered the failure, and whether the
// failure was a timeout or a cancellation.
type Error[T any] struct {
	InputData T
	Timestamp time.Time
	Err       error
	Path      []Name
	Duration  time.Duration
	Timeout   bool
	Canceled  bool
}

// Error implements the error interface with a detailed message.
func (e *Error[T]) Error() string {
	location := strings.Join(e.Path, " -> ")
	if location == "" {
		location = "pipeline"
	}
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s timed out after %v: %v", location, e.Duration, e.Err)
	case e.Canceled:
		return fmt.Sprintf("%s canceled after %v: %v", location, e.Duration, e.Err)
	default:
		return fmt.Sprintf("%s failed after %v: %v", location, e.Duration, e.Err)
	}
}

// Unwrap returns the underlying cause, supporting errors.Is/As.
func (e *Error[T]) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether the failure was caused by a deadline.
func (e *Error[T]) IsTimeout() bool {
	return e.Timeout || errors.Is(e.Err, context.DeadlineExceeded)
}

// IsCanceled reports whether the failure was caused by cancellation.
func (e *Error[T]) IsCanceled() bool {
	return e.Canceled || errors.Is(e.Err, context.Canceled)
}

// newError wraps cause into an *Error[T], preserving an existing
// *Error[T] by prepending name to its path (so the outermost component
// appears first, as in ["pipeline", "validator", "email-required"]).
func newError[T any](name Name, input T, start time.Time, cause error) *Error[T] {
	var pe *Error[T]
	if errors.As(cause, &pe) {
		pe.Path = append([]Name{name}, pe.Path...)
		return pe
	}
	return &Error[T]{
		Path:      []Name{name},
		InputData: input,
		Err:       cause,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
		Timeout:   errors.Is(cause, context.DeadlineExceeded),
		Canceled:  errors.Is(cause, context.Canceled),
	}
}

// recoverFromPanic converts a panic inside a node into an *Error[T] so
// a misbehaving processor cannot take down the driving goroutine.
func recoverFromPanic[T any](result *T, err *error, name Name, input T) {
	if r := recover(); r != nil {
		var zero T
		*result = zero
		*err = &Error[T]{
			Path:      []Name{name},
			InputData: input,
			Err:       fmt.Errorf("panic: %v", r),
			Timestamp: time.Now(),
		}
	}
}

// RuleError is raised when a registered validation rule's predicate
// returns false. It is immutable after construction and carries enough
// payload for an error handler to route the item without re-inspecting
// it via reflection.
type RuleError struct {
	Value        any
	PropertyPath string
	Rule         Name
	Message      string
}

func (e *RuleError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("validation rule %q failed for %s: %s", e.Rule, e.PropertyPath, e.Message)
	}
	return fmt.Sprintf("validation rule %q failed for %s (value %v)", e.Rule, e.PropertyPath, e.Value)
}

// FilterError describes an item rejected by a Filter predicate. It is
// never returned to the pipeline driver; the runner routes it to the
// attached error handler and hook subscribers, then drops the item.
type FilterError struct {
	Reason string
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("item rejected by filter: %s", e.Reason)
}

// ConversionError is raised when a Converter's function fails or
// produces an unusable value.
type ConversionError struct {
	Value   any
	From    string
	To      string
	Message string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("cannot convert %s to %s (value %v): %s", e.From, e.To, e.Value, e.Message)
}
