package telemetry

import (
	"fmt"
	"testing"
	"time"
)

func TestLedgerSizeClamping(t *testing.T) {
	cases := []struct {
		in, want int
	}{
		{0, DefaultLedgerSize},
		{-5, DefaultLedgerSize},
		{10, MinLedgerSize},
		{5000, MaxLedgerSize},
		{256, 256},
	}
	for _, tc := range cases {
		if got := NewLedger(tc.in).Cap(); got != tc.want {
			t.Errorf("NewLedger(%d).Cap() = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestRecordUpdatesCounters(t *testing.T) {
	l := NewLedger(100)
	l.Record(OpHit, "user/1", 64, time.Millisecond)
	l.Record(OpHit, "user/1", 64, time.Millisecond)
	l.Record(OpMiss, "user/2", 0, time.Microsecond)
	l.Record(OpStore, "user/2", 128, 2*time.Millisecond)

	hits, misses := l.Hits()
	if hits != 2 || misses != 1 {
		t.Fatalf("Hits() = %d, %d, want 2, 1", hits, misses)
	}
	if got := l.Len(); got != 4 {
		t.Fatalf("Len = %d, want 4", got)
	}

	counters := l.KeyCounters()
	if c := counters["user/1"]; c.Hits != 2 || c.Misses != 0 {
		t.Fatalf("counters[user/1] = %+v, want 2 hits", c)
	}
	if c := counters["user/2"]; c.Hits != 0 || c.Misses != 1 {
		t.Fatalf("counters[user/2] = %+v, want 1 miss", c)
	}
}

func TestRingEvictsOldestFirst(t *testing.T) {
	l := NewLedger(100)
	for i := 0; i < 150; i++ {
		l.Record(OpStore, fmt.Sprintf("k%d", i), 1, 0)
	}

	if got := l.Len(); got != 100 {
		t.Fatalf("Len = %d, want 100", got)
	}
	events := l.Events()
	if events[0].Key != "k50" {
		t.Fatalf("oldest retained key = %q, want k50", events[0].Key)
	}
	if events[len(events)-1].Key != "k149" {
		t.Fatalf("newest retained key = %q, want k149", events[len(events)-1].Key)
	}
}

func TestStatsRatesAndLatency(t *testing.T) {
	l := NewLedger(100)
	for i := 1; i <= 20; i++ {
		l.Record(OpHit, "k", 10, time.Duration(i)*time.Millisecond)
	}

	stats := l.Stats(Inventory{})
	if stats.HitRate != 1 || stats.MissRate != 0 {
		t.Fatalf("rates = %v, %v, want 1, 0", stats.HitRate, stats.MissRate)
	}
	if want := 10500 * time.Microsecond; stats.AvgAccessTime != want {
		t.Fatalf("AvgAccessTime = %v, want %v", stats.AvgAccessTime, want)
	}
	if want := 19 * time.Millisecond; stats.P95AccessTime != want {
		t.Fatalf("P95AccessTime = %v, want %v", stats.P95AccessTime, want)
	}
}

func TestStatsMixedReads(t *testing.T) {
	l := NewLedger(100)
	l.Record(OpHit, "a", 1, time.Millisecond)
	l.Record(OpHit, "b", 1, time.Millisecond)
	l.Record(OpHit, "c", 1, time.Millisecond)
	l.Record(OpMiss, "d", 0, time.Millisecond)

	stats := l.Stats(Inventory{})
	if stats.HitRate != 0.75 || stats.MissRate != 0.25 {
		t.Fatalf("rates = %v, %v, want 0.75, 0.25", stats.HitRate, stats.MissRate)
	}
}

func TestStatsIdleLedger(t *testing.T) {
	l := NewLedger(100)
	stats := l.Stats(Inventory{TotalItems: 3, TotalSize: 512, MaxSize: 1024})

	if stats.HitRate != 0 || stats.MissRate != 0 {
		t.Fatalf("rates = %v, %v, want 0, 0", stats.HitRate, stats.MissRate)
	}
	if stats.AvgAccessTime != 0 || stats.P95AccessTime != 0 {
		t.Fatalf("latency = %v, %v, want 0, 0", stats.AvgAccessTime, stats.P95AccessTime)
	}
	if stats.MemoryUtilization != 0.5 {
		t.Fatalf("MemoryUtilization = %v, want 0.5", stats.MemoryUtilization)
	}
	if stats.TotalItems != 3 || stats.TotalSize != 512 {
		t.Fatalf("inventory passthrough = %d items, %d bytes", stats.TotalItems, stats.TotalSize)
	}
}

func TestTTLDistribution(t *testing.T) {
	var d TTLDistribution
	d.Add(30 * time.Minute)
	d.Add(59 * time.Minute)
	d.Add(2 * time.Hour)
	d.Add(24 * time.Hour)
	d.Add(7 * 24 * time.Hour)
	d.Add(0) // no expiry counts as long-lived

	if d.Short != 2 || d.Medium != 1 || d.Long != 3 {
		t.Fatalf("distribution = %+v, want 2/1/3", d)
	}
	if got := d.LongShare(); got != 0.5 {
		t.Fatalf("LongShare = %v, want 0.5", got)
	}
}

func TestReset(t *testing.T) {
	l := NewLedger(100)
	l.Record(OpHit, "a", 1, time.Millisecond)
	l.Record(OpMiss, "b", 0, time.Millisecond)

	l.Reset()

	if got := l.Len(); got != 0 {
		t.Fatalf("Len = %d after Reset, want 0", got)
	}
	hits, misses := l.Hits()
	if hits != 0 || misses != 0 {
		t.Fatalf("Hits() = %d, %d after Reset, want 0, 0", hits, misses)
	}
	if got := len(l.KeyCounters()); got != 0 {
		t.Fatalf("KeyCounters len = %d after Reset, want 0", got)
	}
}

func TestPercentileRank(t *testing.T) {
	durs := []time.Duration{
		5 * time.Millisecond,
		1 * time.Millisecond,
		3 * time.Millisecond,
		2 * time.Millisecond,
		4 * time.Millisecond,
	}
	if got := percentile(durs, 50); got != 3*time.Millisecond {
		t.Fatalf("p50 = %v, want 3ms", got)
	}
	if got := percentile(durs, 95); got != 5*time.Millisecond {
		t.Fatalf("p95 = %v, want 5ms", got)
	}
	if got := percentile(nil, 95); got != 0 {
		t.Fatalf("p95 of empty = %v, want 0", got)
	}
}
