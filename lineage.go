package etlz

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"
)

// Hop is a single recorded lineage event naming the node an item
// passed through.
type Hop struct {
	Node Name
	At   time.Time
	Seq  int
}

// Packet wraps an item with its lineage identity and the hop history
// accumulated so far. Ordinary nodes operate on the unwrapped item;
// packets are what lineage-aware sinks see.
type Packet[T any] struct {
	Item      T
	LineageID string
	Hops      []Hop
}

// Info is a read-only snapshot of one item's collected lineage.
type Info struct {
	ID        string
	Source    Name
	CreatedAt time.Time
	Hops      []Hop
}

// Report is the full lineage picture of one completed run, handed to
// the configured LineageSink exactly once.
type Report struct {
	Pipeline    Name
	RunID       string
	CompletedAt time.Time
	Items       []*Info
}

// Collector accumulates per-item provenance across node boundaries
// within one run. There is a single logical thread of control per run,
// but implementations must be internally synchronized so concurrent
// runs may share one collector.
type Collector interface {
	// NewLineageID opens lineage tracking for one item originating at
	// source. The second return is the sampling decision: false means
	// this item is not collected and no id was allocated.
	NewLineageID(source Name) (string, bool)

	// RecordHop appends a hop for the given lineage id. Unknown ids
	// are ignored (the item was not sampled).
	RecordHop(id string, node Name)

	// Info returns the snapshot for one lineage id, if collected.
	Info(id string) (*Info, bool)

	// AllInfo returns snapshots for every collected item, in creation
	// order.
	AllInfo() []*Info

	// Clear discards all collected lineage.
	Clear()
}

// NewPacket wraps item with lineage identity from c. The second return
// mirrors the collector's sampling decision.
func NewPacket[T any](c Collector, item T, source Name) (*Packet[T], bool) {
	if c == nil {
		return nil, false
	}
	id, ok := c.NewLineageID(source)
	if !ok {
		return nil, false
	}
	return &Packet[T]{Item: item, LineageID: id}, true
}

// SnapshotPacket refreshes a packet's hop history from the collector.
func SnapshotPacket[T any](c Collector, p *Packet[T]) *Packet[T] {
	if c == nil || p == nil {
		return p
	}
	if info, ok := c.Info(p.LineageID); ok {
		p.Hops = info.Hops
	}
	return p
}

// MemoryCollector is the in-process Collector. Sampling is
// deterministic: with SampleEvery(n), the first of every n items is
// collected, which keeps tests and replays stable.
type MemoryCollector struct {
	clock   clockz.Clock
	records map[string]*lineageRecord
	order   []string
	every   int
	seen    int
	mu      sync.Mutex
}

type lineageRecord struct {
	id        string
	source    Name
	createdAt time.Time
	hops      []Hop
}

// CollectorOption configures a MemoryCollector.
type CollectorOption func(*MemoryCollector)

// SampleEvery collects one of every n items. n <= 1 collects all.
func SampleEvery(n int) CollectorOption {
	return func(c *MemoryCollector) { c.every = n }
}

// WithClock overrides the clock used for hop timestamps. Primarily
// useful with clockz.NewFakeClock in tests.
func WithClock(clock clockz.Clock) CollectorOption {
	return func(c *MemoryCollector) { c.clock = clock }
}

// NewMemoryCollector creates a collector that records every item
// unless a sampling option says otherwise.
func NewMemoryCollector(opts ...CollectorOption) *MemoryCollector {
	c := &MemoryCollector{
		records: make(map[string]*lineageRecord),
		every:   1,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = clockz.RealClock
	}
	return c
}

// NewLineageID implements Collector.
func (c *MemoryCollector) NewLineageID(source Name) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.seen
	c.seen++
	if c.every > 1 && n%c.every != 0 {
		return "", false
	}

	id := uuid.NewString()
	now := c.clock.Now()
	c.records[id] = &lineageRecord{
		id:        id,
		source:    source,
		createdAt: now,
		hops:      []Hop{{Node: source, At: now, Seq: 0}},
	}
	c.order = append(c.order, id)
	return id, true
}

// RecordHop implements Collector.
func (c *MemoryCollector) RecordHop(id string, node Name) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[id]
	if !ok {
		return
	}
	rec.hops = append(rec.hops, Hop{Node: node, At: c.clock.Now(), Seq: len(rec.hops)})
}

// Info implements Collector.
func (c *MemoryCollector) Info(id string) (*Info, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[id]
	if !ok {
		return nil, false
	}
	return rec.snapshot(), true
}

// AllInfo implements Collector.
func (c *MemoryCollector) AllInfo() []*Info {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*Info, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.records[id].snapshot())
	}
	return out
}

// Clear implements Collector.
func (c *MemoryCollector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = make(map[string]*lineageRecord)
	c.order = nil
	c.seen = 0
}

func (r *lineageRecord) snapshot() *Info {
	hops := make([]Hop, len(r.hops))
	copy(hops, r.hops)
	return &Info{ID: r.id, Source: r.source, CreatedAt: r.createdAt, Hops: hops}
}
