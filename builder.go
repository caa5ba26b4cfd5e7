package etlz

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/multierr"
)

// NodeHandle is the builder's opaque reference to a registered node,
// carrying its resolved id.
type NodeHandle struct {
	id Name
}

// ID returns the resolved node id.
func (h NodeHandle) ID() Name { return h.id }

// Builder assembles named nodes into a runnable Pipeline. Nodes are
// registered under unique string ids: an explicit name wins; otherwise
// the id is the lower-cased node kind ("validator", "enricher",
// "cleanser", "filter", ...), with the first instance of a kind
// unsuffixed and later instances numbered "-2", "-3", and so on.
//
// Registration problems (duplicate ids, missing source or sink) are
// accumulated and reported together by Build. Nil configure delegates
// and nil receivers are programmer errors and panic immediately,
// before any node is constructed.
type Builder[T any] struct {
	name     Name
	source   Source[T]
	sourceID Name
	stages   []stage[T]
	sink     Sink[T]
	sinkID   Name
	onError  func(context.Context, *Error[T]) error
	runOpts  []RunOption
	counts   map[string]int
	ids      map[Name]struct{}
	buildErr error
	mu       sync.Mutex
}

type stage[T any] struct {
	node Node[T]
	id   Name
}

// New creates a Builder for a pipeline with the given name.
func New[T any](name Name) *Builder[T] {
	return &Builder[T]{
		name:   name,
		counts: make(map[string]int),
		ids:    make(map[Name]struct{}),
	}
}

func (b *Builder[T]) require(op string) {
	if b == nil {
		panic("etlz: " + op + " called on a nil builder")
	}
}

// resolveID picks the node id: explicit name if given, otherwise the
// kind with a collision counter. Duplicate ids are recorded and
// surface from Build.
func (b *Builder[T]) resolveID(kind string, explicit []Name) Name {
	var id Name
	if len(explicit) > 0 && explicit[0] != "" {
		id = explicit[0]
	} else {
		b.counts[kind]++
		if n := b.counts[kind]; n == 1 {
			id = Name(kind)
		} else {
			id = Name(fmt.Sprintf("%s-%d", kind, n))
		}
	}
	if _, dup := b.ids[id]; dup {
		b.buildErr = multierr.Append(b.buildErr, fmt.Errorf("duplicate node id %q", id))
	}
	b.ids[id] = struct{}{}
	return id
}

// Source registers the pipeline's source. Registering a second source
// is an error reported by Build.
func (b *Builder[T]) Source(src Source[T], name ...Name) NodeHandle {
	b.require("Source")
	if src == nil {
		panic("etlz: Source requires a non-nil source")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.source != nil {
		b.buildErr = multierr.Append(b.buildErr, fmt.Errorf("source already registered as %q", b.sourceID))
	}
	id := b.resolveID(kindOf(src, "source"), name)
	b.source = src
	b.sourceID = id
	return NodeHandle{id: id}
}

// Add registers a pre-built node. When no explicit name is given the
// node's own name is used, falling back to its lower-cased type name.
func (b *Builder[T]) Add(node Node[T], name ...Name) NodeHandle {
	b.require("Add")
	if node == nil {
		panic("etlz: Add requires a non-nil node")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var id Name
	if len(name) > 0 && name[0] != "" {
		id = b.resolveID("", name)
	} else if n := node.Name(); n != "" {
		id = b.resolveID("", []Name{n})
	} else {
		id = b.resolveID(kindOf(node, "node"), nil)
	}
	b.stages = append(b.stages, stage[T]{id: id, node: node})
	return NodeHandle{id: id}
}

// AddValidator constructs a Validator under the resolved id and hands
// it to configure for rule registration.
func (b *Builder[T]) AddValidator(configure func(*Validator[T]), name ...Name) NodeHandle {
	b.require("AddValidator")
	if configure == nil {
		panic("etlz: AddValidator requires a non-nil configure delegate")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.resolveID("validator", name)
	node := NewValidator[T](id)
	configure(node)
	b.stages = append(b.stages, stage[T]{id: id, node: node})
	return NodeHandle{id: id}
}

// AddEnricher constructs an Enricher under the resolved id and hands
// it to configure for entry registration.
func (b *Builder[T]) AddEnricher(configure func(*Enricher[T]), name ...Name) NodeHandle {
	b.require("AddEnricher")
	if configure == nil {
		panic("etlz: AddEnricher requires a non-nil configure delegate")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.resolveID("enricher", name)
	node := NewEnricher[T](id)
	configure(node)
	b.stages = append(b.stages, stage[T]{id: id, node: node})
	return NodeHandle{id: id}
}

// AddCleanser constructs a Cleanser under the resolved id and hands it
// to configure for operation registration.
func (b *Builder[T]) AddCleanser(configure func(*Cleanser[T]), name ...Name) NodeHandle {
	b.require("AddCleanser")
	if configure == nil {
		panic("etlz: AddCleanser requires a non-nil configure delegate")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.resolveID("cleanser", name)
	node := NewCleanser[T](id)
	configure(node)
	b.stages = append(b.stages, stage[T]{id: id, node: node})
	return NodeHandle{id: id}
}

// AddFilter constructs a Filter under the resolved id and hands it to
// configure for predicate registration.
func (b *Builder[T]) AddFilter(configure func(*Filter[T]), name ...Name) NodeHandle {
	b.require("AddFilter")
	if configure == nil {
		panic("etlz: AddFilter requires a non-nil configure delegate")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.resolveID("filter", name)
	node := NewFilter[T](id)
	configure(node)
	b.stages = append(b.stages, stage[T]{id: id, node: node})
	return NodeHandle{id: id}
}

// Sink registers the pipeline's terminal consumer.
func (b *Builder[T]) Sink(snk Sink[T], name ...Name) NodeHandle {
	b.require("Sink")
	if snk == nil {
		panic("etlz: Sink requires a non-nil sink")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sink != nil {
		b.buildErr = multierr.Append(b.buildErr, fmt.Errorf("sink already registered as %q", b.sinkID))
	}
	id := b.resolveID(kindOf(snk, "sink"), name)
	b.sink = snk
	b.sinkID = id
	return NodeHandle{id: id}
}

// OnError attaches the run-wide error handler. When a stage fails, the
// handler receives the structured *Error[T]; returning nil means the
// item is skipped and the run continues, returning an error aborts the
// run. Filter rejections always reach the handler and never abort.
func (b *Builder[T]) OnError(handler func(context.Context, *Error[T]) error) *Builder[T] {
	b.require("OnError")
	if handler == nil {
		panic("etlz: OnError requires a non-nil handler")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = handler
	return b
}

// WithRunOptions stores RunContext options applied to every run of the
// built pipeline.
func (b *Builder[T]) WithRunOptions(opts ...RunOption) *Builder[T] {
	b.require("WithRunOptions")
	b.mu.Lock()
	defer b.mu.Unlock()
	b.runOpts = append(b.runOpts, opts...)
	return b
}

// Build validates the assembled graph and returns the runnable
// Pipeline. All registration problems are reported together.
func (b *Builder[T]) Build() (*Pipeline[T], error) {
	b.require("Build")
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.buildErr
	if b.source == nil {
		err = multierr.Append(err, ErrNoSource)
	}
	if b.sink == nil {
		err = multierr.Append(err, ErrNoSink)
	}
	if err != nil {
		return nil, fmt.Errorf("build pipeline %q: %w", b.name, err)
	}

	stages := make([]stage[T], len(b.stages))
	copy(stages, b.stages)

	return newPipeline(b.name, b.source, b.sourceID, stages, b.sink, b.sinkID, b.onError, b.runOpts), nil
}

// kindOf derives an auto-naming kind from a value's type, e.g.
// "slicesource" for sliceSource[T]. Generic type arguments and pointer
// markers are stripped.
func kindOf(v any, fallback string) string {
	t := fmt.Sprintf("%T", v)
	if i := strings.IndexByte(t, '['); i >= 0 {
		t = t[:i]
	}
	if i := strings.LastIndexByte(t, '.'); i >= 0 {
		t = t[i+1:]
	}
	t = strings.TrimPrefix(t, "*")
	t = strings.ToLower(t)
	if t == "" {
		return fallback
	}
	return t
}
