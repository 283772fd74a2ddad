package telemetry

import "time"

// Impact grades how much a recommendation is expected to matter.
type Impact string

const (
	ImpactLow    Impact = "low"
	ImpactMedium Impact = "medium"
	ImpactHigh   Impact = "high"
)

// Recommendation is one actionable tuning suggestion.
type Recommendation struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
	Impact  Impact `json:"impact"`
}

// Recommendation thresholds.
const (
	lowHitRateThreshold   = 0.5
	memoryUtilThreshold   = 0.8
	slowAccessThreshold   = 100 * time.Millisecond
	imageCountThreshold   = 10
	longTTLShareThreshold = 0.7
)

// Recommend applies the fixed tuning rules to a stats snapshot. The
// result is empty when nothing crosses a threshold.
func Recommend(stats PerformanceStats) []Recommendation {
	var recs []Recommendation

	// HitRate+MissRate is zero until the first read, so an idle cache
	// does not get flagged for a low hit rate.
	if stats.HitRate < lowHitRateThreshold && stats.HitRate+stats.MissRate > 0 {
		recs = append(recs, Recommendation{
			Rule:    "low-hit-rate",
			Message: "hit rate is below 50%: raise default TTLs or enable prefetching",
			Impact:  ImpactHigh,
		})
	}

	if stats.MemoryUtilization > memoryUtilThreshold {
		recs = append(recs, Recommendation{
			Rule:    "memory-pressure",
			Message: "cache is over 80% of its size budget: run an optimization pass",
			Impact:  ImpactHigh,
		})
	}

	if stats.P95AccessTime > slowAccessThreshold {
		recs = append(recs, Recommendation{
			Rule:    "slow-access",
			Message: "p95 access time exceeds 100ms: compress large payloads or move to a faster store",
			Impact:  ImpactMedium,
		})
	}

	if stats.DataTypeDistribution["image"] > imageCountThreshold {
		recs = append(recs, Recommendation{
			Rule:    "image-volume",
			Message: "more than 10 images cached: bound or compress image payloads",
			Impact:  ImpactMedium,
		})
	}

	if stats.TTLDistribution.LongShare() > longTTLShareThreshold {
		recs = append(recs, Recommendation{
			Rule:    "long-ttl-skew",
			Message: "over 70% of entries have day-plus TTLs: adopt the adaptive strategy for TTL tuning",
			Impact:  ImpactLow,
		})
	}

	return recs
}
