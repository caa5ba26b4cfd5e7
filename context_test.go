package etlz

import (
	"testing"

	"github.com/zoobzio/clockz"
)

func TestRunContext(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		rc := NewRunContext()
		if rc.Collector() != nil {
			t.Error("expected no collector by default")
		}
		if rc.LineageSink() != nil {
			t.Error("expected no lineage sink by default")
		}
		if rc.Clock() == nil {
			t.Error("expected a default clock")
		}
	})

	t.Run("Options", func(t *testing.T) {
		collector := NewMemoryCollector()
		sink := NewMemoryLineageSink()
		clock := clockz.NewFakeClock()

		rc := NewRunContext(
			WithCollector(collector),
			WithLineageSink(sink),
			WithRunClock(clock),
			WithValue("batch", "2024-03-01"),
		)
		if rc.Collector() != Collector(collector) {
			t.Error("expected configured collector")
		}
		if rc.LineageSink() != LineageSink(sink) {
			t.Error("expected configured lineage sink")
		}
		if rc.Clock() != clockz.Clock(clock) {
			t.Error("expected configured clock")
		}
		if v, ok := rc.Value("batch"); !ok || v != "2024-03-01" {
			t.Errorf("expected run value, got %v/%v", v, ok)
		}
	})

	t.Run("SetAndValue", func(t *testing.T) {
		rc := NewRunContext()
		rc.Set("rows-read", 120)
		v, ok := rc.Value("rows-read")
		if !ok || v != 120 {
			t.Errorf("expected stored value, got %v/%v", v, ok)
		}
		if _, ok := rc.Value("unset"); ok {
			t.Error("expected missing key to report false")
		}
	})
}
