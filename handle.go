package etlz

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Metric keys for Handle nodes.
const (
	HandleItemsTotal    = metricz.Key("handle.items.total")
	HandleErrorsTotal   = metricz.Key("handle.errors.total")
	HandleHandlerErrors = metricz.Key("handle.handler.errors.total")
)

// Span names for Handle nodes.
const (
	HandleProcessSpan = tracez.Key("handle.process")
	HandleErrorSpan   = tracez.Key("handle.error")
)

// Span tags for Handle nodes.
const (
	HandleTagNode     = tracez.Tag("handle.node")
	HandleTagHasError = tracez.Tag("handle.has_error")

	// Hook event keys.
	HandleEventError        = hookz.Key("handle.error")
	HandleEventHandled      = hookz.Key("handle.handled")
	HandleEventHandlerError = hookz.Key("handle.handler_error")
)

// HandleEvent describes one error-handling episode.
type HandleEvent struct {
	Name         Name          // Handle node name
	NodeName     Name          // Name of the wrapped node that failed
	Error        error         // The original error
	HandlerError error         // Error returned by the handler, if any
	Item         any           // The input item that caused the error
	Duration     time.Duration // How long error handling took
	Timestamp    time.Time     // When the event occurred
}

// Handle wraps a node with an error observer. When the wrapped node
// fails, the handler receives the structured *Error[T] (input item,
// property-level cause, path), makes whatever routing decision it
// needs (log, alert, compensate), and then the original error
// propagates unchanged. Handle never swallows failures; pair it with
// the builder-level OnError policy when recovery is wanted.
type Handle[T any] struct {
	node    Node[T]
	handler func(context.Context, *Error[T]) error
	name    Name
	mu      sync.RWMutex
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[HandleEvent]
}

// NewHandle wraps node so that handler observes every failure.
func NewHandle[T any](name Name, node Node[T], handler func(context.Context, *Error[T]) error) *Handle[T] {
	if node == nil {
		panic("etlz: NewHandle requires a non-nil node")
	}
	if handler == nil {
		panic("etlz: NewHandle requires a non-nil handler")
	}

	metrics := metricz.New()
	metrics.Counter(HandleItemsTotal)
	metrics.Counter(HandleErrorsTotal)
	metrics.Counter(HandleHandlerErrors)

	return &Handle[T]{
		name:    name,
		node:    node,
		handler: handler,
		metrics: metrics,
		tracer:  tracez.New(),
		hooks:   hookz.New[HandleEvent](),
	}
}

// Process implements Node.
func (h *Handle[T]) Process(ctx context.Context, item T, rc *RunContext) (result T, err error) {
	defer recoverFromPanic(&result, &err, h.name, item)

	h.mu.RLock()
	node := h.node
	handler := h.handler
	h.mu.RUnlock()

	h.metrics.Counter(HandleItemsTotal).Inc()

	ctx, span := h.tracer.StartSpan(ctx, HandleProcessSpan)
	span.SetTag(HandleTagNode, string(h.name))
	defer span.Finish()

	result, err = node.Process(ctx, item, rc)
	if err == nil {
		span.SetTag(HandleTagHasError, "false")
		return result, nil
	}

	span.SetTag(HandleTagHasError, "true")
	h.metrics.Counter(HandleErrorsTotal).Inc()

	var pipeErr *Error[T]
	if !errors.As(err, &pipeErr) {
		pipeErr = newError(node.Name(), item, time.Now(), err)
	}

	_ = h.hooks.Emit(ctx, HandleEventError, HandleEvent{ //nolint:errcheck
		Name:      h.name,
		NodeName:  node.Name(),
		Error:     err,
		Item:      item,
		Timestamp: time.Now(),
	})

	handlerCtx, handlerSpan := h.tracer.StartSpan(ctx, HandleErrorSpan)
	handlerStart := time.Now()
	handlerErr := handler(handlerCtx, pipeErr)
	handlerDuration := time.Since(handlerStart)
	handlerSpan.Finish()

	if handlerErr != nil {
		h.metrics.Counter(HandleHandlerErrors).Inc()
		_ = h.hooks.Emit(ctx, HandleEventHandlerError, HandleEvent{ //nolint:errcheck
			Name:         h.name,
			NodeName:     node.Name(),
			Error:        err,
			HandlerError: handlerErr,
			Item:         item,
			Duration:     handlerDuration,
			Timestamp:    time.Now(),
		})
	} else {
		_ = h.hooks.Emit(ctx, HandleEventHandled, HandleEvent{ //nolint:errcheck
			Name:      h.name,
			NodeName:  node.Name(),
			Error:     err,
			Item:      item,
			Duration:  handlerDuration,
			Timestamp: time.Now(),
		})
	}

	return result, err
}

// Name returns the node name.
func (h *Handle[T]) Name() Name { return h.name }

// OnError registers a hook fired when the wrapped node fails.
func (h *Handle[T]) OnError(handler func(context.Context, HandleEvent) error) error {
	_, err := h.hooks.Hook(HandleEventError, handler)
	return err
}

// OnHandled registers a hook fired when the error handler succeeds.
func (h *Handle[T]) OnHandled(handler func(context.Context, HandleEvent) error) error {
	_, err := h.hooks.Hook(HandleEventHandled, handler)
	return err
}

// OnHandlerError registers a hook fired when the handler itself fails.
func (h *Handle[T]) OnHandlerError(handler func(context.Context, HandleEvent) error) error {
	_, err := h.hooks.Hook(HandleEventHandlerError, handler)
	return err
}

// Metrics returns the handle's metrics registry.
func (h *Handle[T]) Metrics() *metricz.Registry { return h.metrics }

// Tracer returns the handle's tracer.
func (h *Handle[T]) Tracer() *tracez.Tracer { return h.tracer }
