package etlz

import (
	"context"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

func TestMemoryCollector(t *testing.T) {
	t.Run("CollectsEveryItemByDefault", func(t *testing.T) {
		c := NewMemoryCollector()
		for i := 0; i < 5; i++ {
			if _, ok := c.NewLineageID("csv-source"); !ok {
				t.Fatalf("expected item %d to be collected", i)
			}
		}
		if got := len(c.AllInfo()); got != 5 {
			t.Errorf("expected 5 collected items, got %d", got)
		}
	})

	t.Run("UniqueIDs", func(t *testing.T) {
		c := NewMemoryCollector()
		a, _ := c.NewLineageID("src")
		b, _ := c.NewLineageID("src")
		if a == b {
			t.Error("expected distinct lineage ids")
		}
	})

	t.Run("SampleEveryNth", func(t *testing.T) {
		c := NewMemoryCollector(SampleEvery(3))
		collected := 0
		for i := 0; i < 9; i++ {
			if _, ok := c.NewLineageID("src"); ok {
				collected++
			}
		}
		if collected != 3 {
			t.Errorf("expected 3 of 9 collected, got %d", collected)
		}
	})

	t.Run("SamplingIsDeterministic", func(t *testing.T) {
		pattern := func() []bool {
			c := NewMemoryCollector(SampleEvery(2))
			var out []bool
			for i := 0; i < 6; i++ {
				_, ok := c.NewLineageID("src")
				out = append(out, ok)
			}
			return out
		}
		a, b := pattern(), pattern()
		for i := range a {
			if a[i] != b[i] {
				t.Fatalf("expected identical sampling decisions, diverged at %d", i)
			}
		}
	})

	t.Run("RecordsHopsInOrder", func(t *testing.T) {
		clock := clockz.NewFakeClock()
		c := NewMemoryCollector(WithClock(clock))

		id, _ := c.NewLineageID("source")
		clock.Advance(time.Second)
		c.RecordHop(id, "validator")
		clock.Advance(time.Second)
		c.RecordHop(id, "enricher")

		info, ok := c.Info(id)
		if !ok {
			t.Fatal("expected info for collected id")
		}
		if info.Source != "source" {
			t.Errorf("expected source recorded, got %q", info.Source)
		}
		if len(info.Hops) != 3 {
			t.Fatalf("expected 3 hops including source, got %d", len(info.Hops))
		}
		if info.Hops[0].Node != "source" || info.Hops[1].Node != "validator" || info.Hops[2].Node != "enricher" {
			t.Errorf("unexpected hop order: %+v", info.Hops)
		}
		for i, h := range info.Hops {
			if h.Seq != i {
				t.Errorf("expected hop %d to carry seq %d, got %d", i, i, h.Seq)
			}
		}
		if !info.Hops[2].At.After(info.Hops[1].At) {
			t.Error("expected hop timestamps to advance with the clock")
		}
	})

	t.Run("UnknownIDHopIgnored", func(t *testing.T) {
		c := NewMemoryCollector()
		c.RecordHop("no-such-id", "node")
		if got := len(c.AllInfo()); got != 0 {
			t.Errorf("expected no records, got %d", got)
		}
	})

	t.Run("Clear", func(t *testing.T) {
		c := NewMemoryCollector()
		_, _ = c.NewLineageID("src")
		c.Clear()
		if got := len(c.AllInfo()); got != 0 {
			t.Errorf("expected empty collector after Clear, got %d", got)
		}
	})

	t.Run("InfoSnapshotsAreIsolated", func(t *testing.T) {
		c := NewMemoryCollector()
		id, _ := c.NewLineageID("src")
		info, _ := c.Info(id)
		before := len(info.Hops)

		c.RecordHop(id, "later")
		if len(info.Hops) != before {
			t.Error("expected snapshot to be unaffected by later hops")
		}
	})
}

func TestNewPacket(t *testing.T) {
	t.Run("WrapsSampledItem", func(t *testing.T) {
		c := NewMemoryCollector()
		pkt, ok := NewPacket(c, 42, "src")
		if !ok {
			t.Fatal("expected packet for collected item")
		}
		if pkt.Item != 42 || pkt.LineageID == "" {
			t.Errorf("unexpected packet: %+v", pkt)
		}
	})

	t.Run("NilCollector", func(t *testing.T) {
		if _, ok := NewPacket[int](nil, 1, "src"); ok {
			t.Error("expected no packet without a collector")
		}
	})

	t.Run("SnapshotPacketFillsHops", func(t *testing.T) {
		c := NewMemoryCollector()
		pkt, _ := NewPacket(c, 1, "src")
		c.RecordHop(pkt.LineageID, "cleanser")

		SnapshotPacket(c, pkt)
		if len(pkt.Hops) != 2 {
			t.Errorf("expected source + cleanser hops, got %+v", pkt.Hops)
		}
	})
}

func TestMemoryLineageSink(t *testing.T) {
	s := NewMemoryLineageSink()
	report := &Report{Pipeline: "p", RunID: "r-1"}
	if err := s.Record(context.Background(), report); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := s.Reports()
	if len(got) != 1 || got[0].RunID != "r-1" {
		t.Errorf("expected recorded report, got %v", got)
	}
}
