package etlz

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
	"go.uber.org/multierr"
)

// Metric keys for Pipeline runs.
const (
	PipelineRunsTotal     = metricz.Key("pipeline.runs.total")
	PipelineFailuresTotal = metricz.Key("pipeline.failures.total")
	PipelineItemsTotal    = metricz.Key("pipeline.items.total")
	PipelineDropsTotal    = metricz.Key("pipeline.drops.total")
	PipelineSkipsTotal    = metricz.Key("pipeline.skips.total")
	PipelineDurationMs    = metricz.Key("pipeline.duration.ms")
)

// Span names for Pipeline runs.
const (
	PipelineRunSpan   = tracez.Key("pipeline.run")
	PipelineStageSpan = tracez.Key("pipeline.stage")
)

// Span tags for Pipeline runs.
const (
	PipelineTagName    = tracez.Tag("pipeline.name")
	PipelineTagRunID   = tracez.Tag("pipeline.run_id")
	PipelineTagStage   = tracez.Tag("pipeline.stage")
	PipelineTagSuccess = tracez.Tag("pipeline.success")
	PipelineTagError   = tracez.Tag("pipeline.error")

	// Hook event keys.
	PipelineEventItemDropped   = hookz.Key("pipeline.item_dropped")
	PipelineEventItemRecovered = hookz.Key("pipeline.item_recovered")
	PipelineEventRunComplete   = hookz.Key("pipeline.run_complete")
)

// PipelineEvent describes pipeline-level happenings: items dropped by
// filters, items skipped after handler recovery, and run completion.
type PipelineEvent struct {
	Pipeline  Name          // Pipeline name
	RunID     string        // Unique id of this run
	Stage     Name          // Stage involved (for item events)
	Reason    string        // Drop/skip reason
	Items     int           // Items delivered (for run_complete)
	Dropped   int           // Items dropped by filters (for run_complete)
	Skipped   int           // Items skipped via handler recovery
	Duration  time.Duration // Run duration (for run_complete)
	Success   bool          // Whether the run completed without error
	Error     error         // Run error, if any
	Timestamp time.Time     // When the event occurred
}

// PacketSink is an optional sink capability: a sink that also
// implements PacketSink receives items wrapped in lineage packets
// instead of raw items. Ordinary nodes always see the unwrapped item.
type PacketSink[T any] interface {
	DrainPackets(ctx context.Context, pipe Pipe[*Packet[T]], rc *RunContext) error
}

// Pipeline is a runnable graph assembled by a Builder: one source,
// zero or more transform stages, one sink. Items flow strictly
// downstream in source order; control flows by demand: the sink pulls
// from the staged pipe, which pulls from the source, one item at a
// time on the pulling consumer's goroutine.
//
// A Pipeline is immutable after Build and safe to run many times; each
// Run owns a fresh RunContext and fresh pipes, so concurrent runs do
// not share mutable state beyond the (stateless) node configuration.
type Pipeline[T any] struct {
	name     Name
	source   Source[T]
	sourceID Name
	stages   []stage[T]
	sink     Sink[T]
	sinkID   Name
	onError  func(context.Context, *Error[T]) error
	runOpts  []RunOption
	metrics  *metricz.Registry
	tracer   *tracez.Tracer
	hooks    *hookz.Hooks[PipelineEvent]
}

func newPipeline[T any](
	name Name,
	source Source[T], sourceID Name,
	stages []stage[T],
	sink Sink[T], sinkID Name,
	onError func(context.Context, *Error[T]) error,
	runOpts []RunOption,
) *Pipeline[T] {
	metrics := metricz.New()
	metrics.Counter(PipelineRunsTotal)
	metrics.Counter(PipelineFailuresTotal)
	metrics.Counter(PipelineItemsTotal)
	metrics.Counter(PipelineDropsTotal)
	metrics.Counter(PipelineSkipsTotal)
	metrics.Gauge(PipelineDurationMs)

	return &Pipeline[T]{
		name:     name,
		source:   source,
		sourceID: sourceID,
		stages:   stages,
		sink:     sink,
		sinkID:   sinkID,
		onError:  onError,
		runOpts:  runOpts,
		metrics:  metrics,
		tracer:   tracez.New(),
		hooks:    hookz.New[PipelineEvent](),
	}
}

// Name returns the pipeline name.
func (p *Pipeline[T]) Name() Name { return p.name }

// StageIDs returns the resolved ids of the transform stages in order.
func (p *Pipeline[T]) StageIDs() []Name {
	ids := make([]Name, len(p.stages))
	for i, s := range p.stages {
		ids[i] = s.id
	}
	return ids
}

// Run executes the pipeline once. It creates the RunContext, asks the
// source for its pipe, threads every item through the stages lazily,
// and drains the result into the sink; when the run completes, the
// accumulated lineage report is handed to the configured lineage sink.
//
// Cancellation is observed before every pull and before every stage;
// items already delivered to the sink are not rolled back.
func (p *Pipeline[T]) Run(ctx context.Context, opts ...RunOption) (err error) {
	rc := NewRunContext(append(append([]RunOption{}, p.runOpts...), opts...)...)
	runID := uuid.NewString()
	start := time.Now()

	p.metrics.Counter(PipelineRunsTotal).Inc()

	ctx, span := p.tracer.StartSpan(ctx, PipelineRunSpan)
	span.SetTag(PipelineTagName, string(p.name))
	span.SetTag(PipelineTagRunID, runID)
	defer func() {
		elapsed := time.Since(start)
		p.metrics.Gauge(PipelineDurationMs).Set(float64(elapsed.Milliseconds()))
		if err == nil {
			span.SetTag(PipelineTagSuccess, "true")
		} else {
			span.SetTag(PipelineTagSuccess, "false")
			span.SetTag(PipelineTagError, err.Error())
			p.metrics.Counter(PipelineFailuresTotal).Inc()
		}
		span.Finish()
	}()

	source, err := p.source.Init(ctx, rc)
	if err != nil {
		var zero T
		return newError(p.name, zero, start, fmt.Errorf("source %q: %w", p.sourceID, err))
	}

	run := &pipelineRun[T]{p: p, rc: rc, runID: runID, src: source}

	var drainErr error
	if ps, ok := p.sink.(PacketSink[T]); ok && rc.Collector() != nil {
		drainErr = ps.DrainPackets(ctx, packetView[T]{run: run}, rc)
	} else {
		drainErr = p.sink.Drain(ctx, itemView[T]{run: run}, rc)
	}

	// Lineage collected so far is flushed even when the drain failed.
	err = multierr.Append(drainErr, p.recordLineage(ctx, rc, runID))
	if drainErr != nil {
		var zero T
		err = newError(p.name, zero, start, err)
	}

	delivered := int(run.delivered.Load())
	dropped := int(run.dropped.Load())
	skipped := int(run.skipped.Load())
	_ = p.hooks.Emit(ctx, PipelineEventRunComplete, PipelineEvent{ //nolint:errcheck
		Pipeline:  p.name,
		RunID:     runID,
		Items:     delivered,
		Dropped:   dropped,
		Skipped:   skipped,
		Duration:  time.Since(start),
		Success:   err == nil,
		Error:     err,
		Timestamp: time.Now(),
	})
	return err
}

func (p *Pipeline[T]) recordLineage(ctx context.Context, rc *RunContext, runID string) error {
	collector := rc.Collector()
	sink := rc.LineageSink()
	if collector == nil || sink == nil {
		return nil
	}
	report := &Report{
		Pipeline:    p.name,
		RunID:       runID,
		CompletedAt: rc.Clock().Now(),
		Items:       collector.AllInfo(),
	}
	if err := sink.Record(ctx, report); err != nil {
		return fmt.Errorf("lineage sink: %w", err)
	}
	return nil
}

// OnItemDropped registers a hook fired when a filter rejects an item.
func (p *Pipeline[T]) OnItemDropped(handler func(context.Context, PipelineEvent) error) error {
	_, err := p.hooks.Hook(PipelineEventItemDropped, handler)
	return err
}

// OnItemRecovered registers a hook fired when the error handler
// recovers a failed item and the run continues without it.
func (p *Pipeline[T]) OnItemRecovered(handler func(context.Context, PipelineEvent) error) error {
	_, err := p.hooks.Hook(PipelineEventItemRecovered, handler)
	return err
}

// OnRunComplete registers a hook fired when a run finishes.
func (p *Pipeline[T]) OnRunComplete(handler func(context.Context, PipelineEvent) error) error {
	_, err := p.hooks.Hook(PipelineEventRunComplete, handler)
	return err
}

// Metrics returns the pipeline's metrics registry.
func (p *Pipeline[T]) Metrics() *metricz.Registry { return p.metrics }

// Tracer returns the pipeline's tracer.
func (p *Pipeline[T]) Tracer() *tracez.Tracer { return p.tracer }

// pipelineRun is the per-run state shared between the staged views.
type pipelineRun[T any] struct {
	p         *Pipeline[T]
	rc        *RunContext
	runID     string
	src       Pipe[T]
	delivered atomic.Int64
	dropped   atomic.Int64
	skipped   atomic.Int64
}

type flowItem[T any] struct {
	item      T
	lineageID string
}

// flow pulls items from the source, applies each stage in order, and
// yields survivors with their lineage id. It implements the drop and
// recover policies: filter rejections drop the item and continue;
// other stage failures consult the error handler, where a nil return
// means skip-and-continue and anything else aborts the run.
func (r *pipelineRun[T]) flow(ctx context.Context) iter.Seq2[flowItem[T], error] {
	p := r.p
	collector := r.rc.Collector()

	return func(yield func(flowItem[T], error) bool) {
		var zero flowItem[T]
		for item, err := range r.src.All(ctx) {
			if err != nil {
				yield(zero, newError(p.sourceID, item, time.Now(), err))
				return
			}
			p.metrics.Counter(PipelineItemsTotal).Inc()

			var lineageID string
			if collector != nil {
				if id, ok := collector.NewLineageID(p.sourceID); ok {
					lineageID = id
				}
			}

			delivered, aborted := r.applyStages(ctx, &item, lineageID, yield)
			if aborted {
				return
			}
			if !delivered {
				continue
			}
			r.delivered.Add(1)
		}
	}
}

// applyStages runs one item through every stage. It returns whether
// the item was yielded downstream and whether iteration must stop.
func (r *pipelineRun[T]) applyStages(ctx context.Context, item *T, lineageID string, yield func(flowItem[T], error) bool) (delivered, aborted bool) {
	p := r.p
	collector := r.rc.Collector()
	var zero flowItem[T]

	current := *item
	for _, s := range p.stages {
		if cerr := ctx.Err(); cerr != nil {
			yield(zero, newError(p.name, current, time.Now(), cerr))
			return false, true
		}

		stageCtx, stageSpan := p.tracer.StartSpan(ctx, PipelineStageSpan)
		stageSpan.SetTag(PipelineTagStage, string(s.id))
		next, serr := s.node.Process(stageCtx, current, r.rc)
		stageSpan.Finish()

		if serr != nil {
			var ferr *FilterError
			if errors.As(serr, &ferr) {
				p.metrics.Counter(PipelineDropsTotal).Inc()
				r.dropped.Add(1)
				_ = p.hooks.Emit(ctx, PipelineEventItemDropped, PipelineEvent{ //nolint:errcheck
					Pipeline:  p.name,
					RunID:     r.runID,
					Stage:     s.id,
					Reason:    ferr.Reason,
					Timestamp: time.Now(),
				})
				if p.onError != nil {
					var pe *Error[T]
					if !errors.As(serr, &pe) {
						pe = newError(s.id, current, time.Now(), serr)
					}
					// Rejects are handler-visible but never abort.
					_ = p.onError(ctx, pe) //nolint:errcheck
				}
				return false, false
			}

			var pe *Error[T]
			if !errors.As(serr, &pe) {
				pe = newError(s.id, current, time.Now(), serr)
			}
			if errors.Is(serr, context.Canceled) || errors.Is(serr, context.DeadlineExceeded) {
				yield(zero, pe)
				return false, true
			}
			if p.onError != nil {
				if herr := p.onError(ctx, pe); herr == nil {
					p.metrics.Counter(PipelineSkipsTotal).Inc()
					r.skipped.Add(1)
					_ = p.hooks.Emit(ctx, PipelineEventItemRecovered, PipelineEvent{ //nolint:errcheck
						Pipeline:  p.name,
						RunID:     r.runID,
						Stage:     s.id,
						Reason:    pe.Err.Error(),
						Timestamp: time.Now(),
					})
					return false, false
				}
			}
			yield(zero, pe)
			return false, true
		}

		current = next
		if collector != nil && lineageID != "" {
			collector.RecordHop(lineageID, s.id)
		}
	}

	if !yield(flowItem[T]{item: current, lineageID: lineageID}, nil) {
		return false, true
	}
	if collector != nil && lineageID != "" {
		collector.RecordHop(lineageID, p.sinkID)
	}
	return true, false
}

// itemView adapts a run's flow into an item pipe for ordinary sinks.
type itemView[T any] struct {
	run *pipelineRun[T]
}

func (v itemView[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		for fi, err := range v.run.flow(ctx) {
			if err != nil {
				yield(zero, err)
				return
			}
			if !yield(fi.item, nil) {
				return
			}
		}
	}
}

func (v itemView[T]) ToList(ctx context.Context) ([]T, error) {
	return drain[T](ctx, v)
}

// packetView adapts a run's flow into a lineage-packet pipe.
type packetView[T any] struct {
	run *pipelineRun[T]
}

func (v packetView[T]) All(ctx context.Context) iter.Seq2[*Packet[T], error] {
	collector := v.run.rc.Collector()
	return func(yield func(*Packet[T], error) bool) {
		for fi, err := range v.run.flow(ctx) {
			if err != nil {
				yield(nil, err)
				return
			}
			pkt := &Packet[T]{Item: fi.item, LineageID: fi.lineageID}
			SnapshotPacket(collector, pkt)
			if !yield(pkt, nil) {
				return
			}
		}
	}
}

func (v packetView[T]) ToList(ctx context.Context) ([]*Packet[T], error) {
	return drain[*Packet[T]](ctx, v)
}
