package telemetry

import (
	"testing"
	"time"
)

func healthyStats() PerformanceStats {
	return PerformanceStats{
		TotalItems:           20,
		TotalSize:            1 << 20,
		HitRate:              0.9,
		MissRate:             0.1,
		AvgAccessTime:        5 * time.Millisecond,
		P95AccessTime:        20 * time.Millisecond,
		DataTypeDistribution: map[string]int{"json": 15, "image": 5},
		TTLDistribution:      TTLDistribution{Short: 10, Medium: 8, Long: 2},
		MemoryUtilization:    0.4,
	}
}

func TestRecommendHealthyCache(t *testing.T) {
	if recs := Recommend(healthyStats()); len(recs) != 0 {
		t.Fatalf("Recommend = %v, want none", recs)
	}
}

func TestRecommendRules(t *testing.T) {
	cases := []struct {
		name       string
		mutate     func(*PerformanceStats)
		wantRule   string
		wantImpact Impact
	}{
		{
			name: "LowHitRate",
			mutate: func(s *PerformanceStats) {
				s.HitRate = 0.3
				s.MissRate = 0.7
			},
			wantRule:   "low-hit-rate",
			wantImpact: ImpactHigh,
		},
		{
			name:       "MemoryPressure",
			mutate:     func(s *PerformanceStats) { s.MemoryUtilization = 0.92 },
			wantRule:   "memory-pressure",
			wantImpact: ImpactHigh,
		},
		{
			name:       "SlowAccess",
			mutate:     func(s *PerformanceStats) { s.P95AccessTime = 150 * time.Millisecond },
			wantRule:   "slow-access",
			wantImpact: ImpactMedium,
		},
		{
			name:       "ImageVolume",
			mutate:     func(s *PerformanceStats) { s.DataTypeDistribution["image"] = 30 },
			wantRule:   "image-volume",
			wantImpact: ImpactMedium,
		},
		{
			name: "LongTTLSkew",
			mutate: func(s *PerformanceStats) {
				s.TTLDistribution = TTLDistribution{Short: 1, Medium: 1, Long: 8}
			},
			wantRule:   "long-ttl-skew",
			wantImpact: ImpactLow,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stats := healthyStats()
			tc.mutate(&stats)

			recs := Recommend(stats)
			if len(recs) != 1 {
				t.Fatalf("Recommend = %v, want exactly one", recs)
			}
			if recs[0].Rule != tc.wantRule {
				t.Fatalf("rule = %q, want %q", recs[0].Rule, tc.wantRule)
			}
			if recs[0].Impact != tc.wantImpact {
				t.Fatalf("impact = %q, want %q", recs[0].Impact, tc.wantImpact)
			}
			if recs[0].Message == "" {
				t.Fatal("recommendation carries no message")
			}
		})
	}
}

func TestRecommendIdleCacheNotFlagged(t *testing.T) {
	// A cache with no reads yet has a zero hit rate that means nothing.
	stats := PerformanceStats{}
	for _, rec := range Recommend(stats) {
		if rec.Rule == "low-hit-rate" {
			t.Fatal("idle cache flagged for low hit rate")
		}
	}
}

func TestRecommendStacksIndependentRules(t *testing.T) {
	stats := healthyStats()
	stats.HitRate, stats.MissRate = 0.2, 0.8
	stats.MemoryUtilization = 0.95

	recs := Recommend(stats)
	if len(recs) != 2 {
		t.Fatalf("Recommend = %v, want two", recs)
	}
}
