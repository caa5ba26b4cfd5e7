// Package etlz is an embeddable, type-safe data pipeline engine for
// extract-transform-load work: validation, enrichment, cleansing,
// filtering, and type conversion over lazily pulled streams of typed
// records.
//
// Everything flows through two small contracts. A Source produces a
// Pipe, a lazy single-pass sequence of items; Nodes transform one item
// at a time; a Sink drains the staged pipe to completion:
//
//	type Source[T any] interface {
//		Init(ctx context.Context, rc *RunContext) (Pipe[T], error)
//		Name() Name
//	}
//
//	type Node[T any] interface {
//		Process(ctx context.Context, item T, rc *RunContext) (T, error)
//		Name() Name
//	}
//
// Items are pointer-typed (T = *Order, not Order) so rule nodes mutate
// in place; a node with nothing to do returns the same pointer it was
// given.
//
// Rule nodes are configured with compiled property accessors rather
// than strings resolved per item:
//
//	city := etlz.MustFieldOf[*Order, string]("Shipping.City")
//
//	b := etlz.New[*Order]("orders")
//	b.Source(etlz.SliceSource("orders-in", orders))
//	b.AddValidator(func(v *etlz.Validator[*Order]) {
//		etlz.Check(v, city, func(s string) bool { return s != "" }, "city-required")
//	})
//	b.AddCleanser(func(c *etlz.Cleanser[*Order]) {
//		etlz.Trim(c, city)
//	})
//	b.Sink(etlz.SliceSink("orders-out", &out))
//	p, err := b.Build()
//	if err != nil {
//		return err
//	}
//	return p.Run(ctx)
//
// Every registration returns a NodeHandle carrying the node's resolved
// id, useful for correlating lineage hops and stage spans.
//
// Pipelines are pull-based: the sink demands items, stages apply one
// item at a time on the consumer's goroutine, and cancellation is
// observed before every pull and every stage. Filter rejections drop
// the item and continue; other failures consult the handler installed
// with Builder.OnError, which decides between skipping the item and
// aborting the run.
//
// Lineage is opt-in: run with a Collector and every item gets an
// opaque id and an append-only hop trail, delivered as a Report to the
// configured LineageSink when the run completes.
//
// Errors carry their context. Every failure surfaces as *Error[T] with
// the failing node path, the input item, and timeout/cancellation
// classification, wrapping the typed cause (*RuleError, *FilterError,
// *ConversionError) for errors.As routing.
package etlz
