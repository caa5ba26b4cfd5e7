package etlz

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func usersFixture() []*testUser {
	return []*testUser{
		{ID: "u-1", Email: "  ADA@example.com ", Country: "fr", Age: 36},
		{ID: "u-2", Email: "grace@example.com", Country: "us", Age: 45},
		{ID: "u-3", Email: "alan@example.com", Country: "uk", Age: 41},
	}
}

func TestPipelineRun(t *testing.T) {
	t.Run("EndToEnd", func(t *testing.T) {
		var out []*testUser
		in := usersFixture()

		b := New[*testUser]("users")
		b.Source(SliceSource("memory", in), "memory")
		b.AddValidator(func(v *Validator[*testUser]) {
			Check(v, userEmail, func(s string) bool { return s != "" }, "email-required")
		})
		b.AddCleanser(func(c *Cleanser[*testUser]) {
			Trim(c, userEmail)
			Lower(c, userEmail)
			Upper(c, userCountry)
		})
		b.Sink(SliceSink("collected", &out), "collected")

		p, err := b.Build()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := p.Run(context.Background()); err != nil {
			t.Fatalf("unexpected run error: %v", err)
		}

		if len(out) != 3 {
			t.Fatalf("expected 3 items delivered, got %d", len(out))
		}
		if out[0] != in[0] {
			t.Error("expected in-place mutation, same references delivered")
		}
		if out[0].Email != "ada@example.com" {
			t.Errorf("expected cleansed email, got %q", out[0].Email)
		}
		if out[0].Country != "FR" {
			t.Errorf("expected upper-cased country, got %q", out[0].Country)
		}
	})

	t.Run("FilterDropsAndContinues", func(t *testing.T) {
		var out []*testUser
		b := New[*testUser]("users")
		b.Source(SliceSource("memory", usersFixture()), "memory")
		b.AddFilter(func(f *Filter[*testUser]) {
			f.Where("adults over 40 only", func(u *testUser) bool { return u.Age > 40 })
		})
		b.Sink(SliceSink("collected", &out), "collected")

		p, err := b.Build()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := p.Run(context.Background()); err != nil {
			t.Fatalf("expected drops to not fail the run, got %v", err)
		}
		if len(out) != 2 {
			t.Fatalf("expected 2 survivors, got %d", len(out))
		}
		if got := p.Metrics().Counter(PipelineDropsTotal).Value(); got != 1 {
			t.Errorf("expected 1 drop counted, got %v", got)
		}
	})

	t.Run("ValidationFailureAbortsWithoutHandler", func(t *testing.T) {
		var out []*testUser
		in := usersFixture()
		in[1].Email = ""

		b := New[*testUser]("users")
		b.Source(SliceSource("memory", in), "memory")
		b.AddValidator(func(v *Validator[*testUser]) {
			Check(v, userEmail, func(s string) bool { return s != "" }, "email-required")
		}, "email-check")
		b.Sink(SliceSink("collected", &out), "collected")

		p, _ := b.Build()
		err := p.Run(context.Background())
		if err == nil {
			t.Fatal("expected run failure")
		}
		var ruleErr *RuleError
		if !errors.As(err, &ruleErr) {
			t.Fatalf("expected *RuleError in chain, got %v", err)
		}
		var pipeErr *Error[*testUser]
		if !errors.As(err, &pipeErr) {
			t.Fatalf("expected *Error, got %v", err)
		}
		found := false
		for _, n := range pipeErr.Path {
			if n == "email-check" {
				found = true
			}
		}
		if !found {
			t.Errorf("expected failing stage in path, got %v", pipeErr.Path)
		}
		if len(out) != 1 {
			t.Errorf("expected items before the failure to stay delivered, got %d", len(out))
		}
	})

	t.Run("OnErrorNilSkipsItem", func(t *testing.T) {
		var out []*testUser
		var handled []*Error[*testUser]
		in := usersFixture()
		in[0].Email = ""

		b := New[*testUser]("users")
		b.Source(SliceSource("memory", in), "memory")
		b.AddValidator(func(v *Validator[*testUser]) {
			Check(v, userEmail, func(s string) bool { return s != "" }, "email-required")
		})
		b.Sink(SliceSink("collected", &out), "collected")
		b.OnError(func(_ context.Context, e *Error[*testUser]) error {
			handled = append(handled, e)
			return nil
		})

		p, _ := b.Build()
		if err := p.Run(context.Background()); err != nil {
			t.Fatalf("expected recovered run, got %v", err)
		}
		if len(out) != 2 {
			t.Errorf("expected bad item skipped, got %d delivered", len(out))
		}
		if len(handled) != 1 {
			t.Fatalf("expected 1 handled error, got %d", len(handled))
		}
		if handled[0].InputData.ID != "u-1" {
			t.Errorf("expected failing item in handler, got %v", handled[0].InputData)
		}
	})

	t.Run("OnErrorNonNilAborts", func(t *testing.T) {
		var out []*testUser
		in := usersFixture()
		in[0].Email = ""

		b := New[*testUser]("users")
		b.Source(SliceSource("memory", in), "memory")
		b.AddValidator(func(v *Validator[*testUser]) {
			Check(v, userEmail, func(s string) bool { return s != "" }, "email-required")
		})
		b.Sink(SliceSink("collected", &out), "collected")
		b.OnError(func(_ context.Context, e *Error[*testUser]) error {
			return errors.New("not recoverable")
		})

		p, _ := b.Build()
		if err := p.Run(context.Background()); err == nil {
			t.Fatal("expected aborted run")
		}
		if len(out) != 0 {
			t.Errorf("expected no deliveries, got %d", len(out))
		}
	})

	t.Run("FilterRejectionNeverAborts", func(t *testing.T) {
		var out []*testUser
		b := New[*testUser]("users")
		b.Source(SliceSource("memory", usersFixture()), "memory")
		b.AddFilter(func(f *Filter[*testUser]) {
			f.Where("nobody passes", func(u *testUser) bool { return false })
		})
		b.Sink(SliceSink("collected", &out), "collected")
		b.OnError(func(_ context.Context, e *Error[*testUser]) error {
			// Abort-style handler; rejects must still be drop-only.
			return errors.New("abort")
		})

		p, _ := b.Build()
		if err := p.Run(context.Background()); err != nil {
			t.Fatalf("expected rejects to stay non-fatal, got %v", err)
		}
		if len(out) != 0 {
			t.Errorf("expected all items dropped, got %d", len(out))
		}
	})

	t.Run("Cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		seen := 0
		var out []*testUser

		b := New[*testUser]("users")
		b.Source(SliceSource("memory", usersFixture()), "memory")
		b.Add(Apply("cancel-after-first", func(_ context.Context, u *testUser) (*testUser, error) {
			seen++
			cancel()
			return u, nil
		}))
		b.Sink(SliceSink("collected", &out), "collected")

		p, _ := b.Build()
		err := p.Run(ctx)
		if err == nil {
			t.Fatal("expected cancellation error")
		}
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled in chain, got %v", err)
		}
		if seen > 1 {
			t.Errorf("expected processing to stop promptly, processed %d", seen)
		}
	})

	t.Run("SourceInitError", func(t *testing.T) {
		var out []*testUser
		b := New[*testUser]("users")
		b.Source(SourceFunc("broken", func(context.Context, *RunContext) (Pipe[*testUser], error) {
			return nil, errors.New("connection refused")
		}), "broken")
		b.Sink(SliceSink("collected", &out), "collected")

		p, _ := b.Build()
		err := p.Run(context.Background())
		if err == nil || !strings.Contains(err.Error(), "connection refused") {
			t.Errorf("expected source init failure, got %v", err)
		}
	})

	t.Run("ReusableAcrossRuns", func(t *testing.T) {
		run := func(p *Pipeline[*testUser], out *[]*testUser) {
			*out = nil
			if err := p.Run(context.Background()); err != nil {
				t.Fatalf("unexpected run error: %v", err)
			}
		}

		var out []*testUser
		b := New[*testUser]("users")
		b.Source(SourceFunc("fresh", func(context.Context, *RunContext) (Pipe[*testUser], error) {
			return FromSlice(usersFixture()), nil
		}), "fresh")
		b.Sink(SliceSink("collected", &out), "collected")

		p, _ := b.Build()
		run(p, &out)
		run(p, &out)
		if len(out) != 3 {
			t.Errorf("expected second run to deliver all items, got %d", len(out))
		}
		if got := p.Metrics().Counter(PipelineRunsTotal).Value(); got != 2 {
			t.Errorf("expected 2 runs counted, got %v", got)
		}
	})
}

func TestPipelineLineage(t *testing.T) {
	t.Run("ReportDeliveredToSink", func(t *testing.T) {
		var out []*testUser
		collector := NewMemoryCollector()
		sink := NewMemoryLineageSink()

		b := New[*testUser]("users")
		b.Source(SliceSource("memory", usersFixture()), "memory")
		b.AddCleanser(func(c *Cleanser[*testUser]) {
			Trim(c, userEmail)
		}, "email-cleanse")
		b.Sink(SliceSink("collected", &out), "collected")
		b.WithRunOptions(WithCollector(collector), WithLineageSink(sink))

		p, _ := b.Build()
		if err := p.Run(context.Background()); err != nil {
			t.Fatalf("unexpected run error: %v", err)
		}

		reports := sink.Reports()
		if len(reports) != 1 {
			t.Fatalf("expected 1 lineage report, got %d", len(reports))
		}
		r := reports[0]
		if r.Pipeline != "users" || r.RunID == "" {
			t.Errorf("unexpected report header: %+v", r)
		}
		if len(r.Items) != 3 {
			t.Fatalf("expected lineage for 3 items, got %d", len(r.Items))
		}
		hops := r.Items[0].Hops
		if len(hops) != 3 {
			t.Fatalf("expected source, cleanser and sink hops, got %+v", hops)
		}
		if hops[0].Node != "memory" || hops[1].Node != "email-cleanse" || hops[2].Node != "collected" {
			t.Errorf("unexpected hop trail: %+v", hops)
		}
	})

	t.Run("SampledLineage", func(t *testing.T) {
		var out []*testUser
		collector := NewMemoryCollector(SampleEvery(2))
		sink := NewMemoryLineageSink()

		b := New[*testUser]("users")
		b.Source(SliceSource("memory", usersFixture()), "memory")
		b.Sink(SliceSink("collected", &out), "collected")
		b.WithRunOptions(WithCollector(collector), WithLineageSink(sink))

		p, _ := b.Build()
		if err := p.Run(context.Background()); err != nil {
			t.Fatalf("unexpected run error: %v", err)
		}
		if len(out) != 3 {
			t.Errorf("sampling must not affect delivery, got %d items", len(out))
		}
		reports := sink.Reports()
		if len(reports) != 1 {
			t.Fatalf("expected 1 report, got %d", len(reports))
		}
		if got := len(reports[0].Items); got >= 3 || got == 0 {
			t.Errorf("expected a strict sample of 3 items, got %d", got)
		}
	})

	t.Run("NoCollectorNoReport", func(t *testing.T) {
		var out []*testUser
		sink := NewMemoryLineageSink()

		b := New[*testUser]("users")
		b.Source(SliceSource("memory", usersFixture()), "memory")
		b.Sink(SliceSink("collected", &out), "collected")
		b.WithRunOptions(WithLineageSink(sink))

		p, _ := b.Build()
		if err := p.Run(context.Background()); err != nil {
			t.Fatalf("unexpected run error: %v", err)
		}
		if len(sink.Reports()) != 0 {
			t.Error("expected no report without a collector")
		}
	})

	t.Run("PacketSinkReceivesWrappers", func(t *testing.T) {
		collector := NewMemoryCollector()
		var packets []*Packet[*testUser]

		b := New[*testUser]("users")
		b.Source(SliceSource("memory", usersFixture()), "memory")
		b.Sink(packetCapture[*testUser]{out: &packets}, "packets")
		b.WithRunOptions(WithCollector(collector))

		p, _ := b.Build()
		if err := p.Run(context.Background()); err != nil {
			t.Fatalf("unexpected run error: %v", err)
		}
		if len(packets) != 3 {
			t.Fatalf("expected 3 packets, got %d", len(packets))
		}
		for _, pkt := range packets {
			if pkt.LineageID == "" {
				t.Error("expected packet to carry a lineage id")
			}
			if len(pkt.Hops) == 0 {
				t.Error("expected packet hops to be snapshotted")
			}
		}
	})

	t.Run("RunCompleteHook", func(t *testing.T) {
		var out []*testUser
		b := New[*testUser]("users")
		b.Source(SliceSource("memory", usersFixture()), "memory")
		b.Sink(SliceSink("collected", &out), "collected")

		p, _ := b.Build()
		done := make(chan PipelineEvent, 1)
		if err := p.OnRunComplete(func(_ context.Context, e PipelineEvent) error {
			done <- e
			return nil
		}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if err := p.Run(context.Background()); err != nil {
			t.Fatalf("unexpected run error: %v", err)
		}
		select {
		case e := <-done:
			if e.Items != 3 || !e.Success {
				t.Errorf("unexpected completion event: %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatal("expected a run completion event")
		}
	})
}

// packetCapture is a sink that records lineage packets.
type packetCapture[T any] struct {
	out *[]*Packet[T]
}

func (s packetCapture[T]) Drain(ctx context.Context, pipe Pipe[T], _ *RunContext) error {
	_, err := pipe.ToList(ctx)
	return err
}

func (s packetCapture[T]) DrainPackets(ctx context.Context, pipe Pipe[*Packet[T]], _ *RunContext) error {
	for pkt, err := range pipe.All(ctx) {
		if err != nil {
			return err
		}
		*s.out = append(*s.out, pkt)
	}
	return nil
}

func (s packetCapture[T]) Name() Name { return "packet-capture" }
