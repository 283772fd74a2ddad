// Package telemetry records every cache operation in a bounded ring
// ledger and derives the statistics the engine feeds back into its own
// policy: hit rates, latency percentiles, distribution summaries,
// tuning recommendations and performance trends. An optional Prometheus
// collector exposes the same numbers to hosts that already scrape.
package telemetry

import (
	"sort"
	"sync"
	"time"
)

// Op identifies the kind of cache operation an event describes.
type Op string

const (
	OpHit      Op = "hit"
	OpMiss     Op = "miss"
	OpStore    Op = "store"
	OpRemove   Op = "remove"
	OpClear    Op = "clear"
	OpOptimize Op = "optimize"
	OpPrefetch Op = "prefetch"
)

// Ledger capacity bounds. A ledger is created with a capacity inside
// this range; out-of-range requests are clamped so a bad config cannot
// make the ring unbounded or useless.
const (
	MinLedgerSize     = 100
	MaxLedgerSize     = 1000
	DefaultLedgerSize = 512
)

// Event is one recorded cache operation.
type Event struct {
	Time     time.Time     `json:"time"`
	Op       Op            `json:"op"`
	Key      string        `json:"key,omitempty"`
	Size     int64         `json:"size,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// KeyCounter holds the cumulative read outcomes for a single key.
type KeyCounter struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

type opAggregate struct {
	count uint64
	sum   time.Duration
}

// Ledger is a fixed-capacity ring of recent events plus cumulative
// counters. The ring answers windowed questions (percentiles, trends);
// the counters answer lifetime ones (hit rate). Safe for concurrent use.
type Ledger struct {
	mu     sync.RWMutex
	events []Event
	head   int
	count  int

	hits   uint64
	misses uint64
	keys   map[string]*KeyCounter
	ops    map[Op]*opAggregate
}

// NewLedger returns a ledger retaining the last size events. Sizes
// outside [MinLedgerSize, MaxLedgerSize] are clamped; size <= 0 selects
// DefaultLedgerSize.
func NewLedger(size int) *Ledger {
	if size <= 0 {
		size = DefaultLedgerSize
	}
	if size < MinLedgerSize {
		size = MinLedgerSize
	}
	if size > MaxLedgerSize {
		size = MaxLedgerSize
	}
	return &Ledger{
		events: make([]Event, size),
		keys:   make(map[string]*KeyCounter),
		ops:    make(map[Op]*opAggregate),
	}
}

// Record appends an event to the ring, evicting the oldest once full,
// and bumps the cumulative counters.
func (l *Ledger) Record(op Op, key string, size int64, dur time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.insert(Event{Time: time.Now(), Op: op, Key: key, Size: size, Duration: dur})

	switch op {
	case OpHit:
		l.hits++
		l.keyCounter(key).Hits++
	case OpMiss:
		l.misses++
		l.keyCounter(key).Misses++
	}

	agg, ok := l.ops[op]
	if !ok {
		agg = &opAggregate{}
		l.ops[op] = agg
	}
	agg.count++
	agg.sum += dur
}

// insert writes one event into the ring. Caller holds l.mu.
func (l *Ledger) insert(evt Event) {
	l.events[l.head] = evt
	l.head = (l.head + 1) % len(l.events)
	if l.count < len(l.events) {
		l.count++
	}
}

func (l *Ledger) keyCounter(key string) *KeyCounter {
	if key == "" {
		key = "-"
	}
	c, ok := l.keys[key]
	if !ok {
		c = &KeyCounter{}
		l.keys[key] = c
	}
	return c
}

// Events returns the retained events, oldest first.
func (l *Ledger) Events() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Event, 0, l.count)
	if l.count < len(l.events) {
		return append(out, l.events[:l.count]...)
	}
	out = append(out, l.events[l.head:]...)
	return append(out, l.events[:l.head]...)
}

// Len reports how many events the ring currently retains.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// Cap reports the ring capacity.
func (l *Ledger) Cap() int {
	return len(l.events)
}

// Hits returns the cumulative hit and miss counts.
func (l *Ledger) Hits() (hits, misses uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.hits, l.misses
}

// KeyCounters returns a copy of the per-key read counters.
func (l *Ledger) KeyCounters() map[string]KeyCounter {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]KeyCounter, len(l.keys))
	for key, c := range l.keys {
		out[key] = *c
	}
	return out
}

// Reset drops all retained events and counters.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.head = 0
	l.count = 0
	l.hits = 0
	l.misses = 0
	l.keys = make(map[string]*KeyCounter)
	l.ops = make(map[Op]*opAggregate)
}

// readDurationsLocked collects the durations of retained read events.
// Caller holds l.mu.
func (l *Ledger) readDurationsLocked() []time.Duration {
	durs := make([]time.Duration, 0, l.count)
	for i := 0; i < l.count; i++ {
		evt := l.events[(l.head-l.count+i+len(l.events))%len(l.events)]
		if evt.Op == OpHit || evt.Op == OpMiss {
			durs = append(durs, evt.Duration)
		}
	}
	return durs
}

// percentile returns the p-th percentile of durs using the ceiling rank
// convention. durs is not modified.
func percentile(durs []time.Duration, p int) time.Duration {
	if len(durs) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(durs))
	copy(sorted, durs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := (len(sorted)*p+99)/100 - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
