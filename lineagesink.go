package etlz

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// LineageSink persists the accumulated lineage report of a run. Record
// is invoked exactly once per completed run, after the data sink has
// finished draining.
type LineageSink interface {
	Record(ctx context.Context, report *Report) error
}

// LineageSinkFunc adapts a function into a LineageSink.
type LineageSinkFunc func(ctx context.Context, report *Report) error

// Record implements LineageSink.
func (f LineageSinkFunc) Record(ctx context.Context, report *Report) error {
	return f(ctx, report)
}

// MemoryLineageSink retains reports in memory, mainly for tests and
// diagnostics.
type MemoryLineageSink struct {
	reports []*Report
	mu      sync.Mutex
}

// NewMemoryLineageSink creates an empty MemoryLineageSink.
func NewMemoryLineageSink() *MemoryLineageSink {
	return &MemoryLineageSink{}
}

// Record implements LineageSink.
func (s *MemoryLineageSink) Record(_ context.Context, report *Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report)
	return nil
}

// Reports returns the recorded reports in arrival order.
func (s *MemoryLineageSink) Reports() []*Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Report, len(s.reports))
	copy(out, s.reports)
	return out
}

// ZerologLineageSink writes one structured log line per collected item
// plus a run summary line.
type ZerologLineageSink struct {
	logger zerolog.Logger
}

// NewZerologLineageSink creates a sink logging through logger.
func NewZerologLineageSink(logger zerolog.Logger) *ZerologLineageSink {
	return &ZerologLineageSink{logger: logger}
}

// Record implements LineageSink.
func (s *ZerologLineageSink) Record(_ context.Context, report *Report) error {
	for _, info := range report.Items {
		hops := make([]string, len(info.Hops))
		for i, hop := range info.Hops {
			hops[i] = string(hop.Node)
		}
		s.logger.Info().
			Str("pipeline", string(report.Pipeline)).
			Str("run_id", report.RunID).
			Str("lineage_id", info.ID).
			Str("source", string(info.Source)).
			Strs("hops", hops).
			Time("created_at", info.CreatedAt).
			Msg("lineage")
	}
	s.logger.Info().
		Str("pipeline", string(report.Pipeline)).
		Str("run_id", report.RunID).
		Int("items", len(report.Items)).
		Time("completed_at", report.CompletedAt).
		Msg("lineage report")
	return nil
}
