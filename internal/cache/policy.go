package cache

import (
	"math"
	"sort"
	"time"
)

// Adaptive score weights. Recency and frequency dominate; the size term
// rewards small entries and the priority term is policy-tunable.
const (
	adaptiveRecencyWeight   = 0.4
	adaptiveFrequencyWeight = 0.3
	adaptiveSizeWeight      = 0.2

	// recencyHorizon is the age at which the recency component bottoms out.
	recencyHorizon = 7 * 24 * time.Hour

	// frequencySaturation is the access count at which the frequency
	// component saturates at 1.0.
	frequencySaturation = 100.0

	// ttlExtensionAccessFloor is the access count an entry must exceed
	// before an adaptive pass extends its TTL.
	ttlExtensionAccessFloor = 10

	// maxExtendedTTL caps TTL growth across repeated adaptive passes.
	maxExtendedTTL = 30 * 24 * time.Hour

	// highPriorityPressureRatio is the fraction of the size budget above
	// which high-priority entries lose their eviction exemption.
	highPriorityPressureRatio = 0.9
)

// EvictionPlan is the outcome of ranking one set of index entries.
// Evict is ordered most-evictable first; Extend maps surviving keys to
// their new TTLs.
type EvictionPlan struct {
	Evict      []Metadata
	FreedBytes int64
	Extend     map[string]time.Duration
}

// Planner ranks index metadata under the active policy and selects
// eviction victims. It is stateless; every pass re-ranks the entries it
// is handed, so policy swaps take effect on the next pass without any
// bookkeeping migration.
type Planner struct{}

// NewPlanner creates an eviction planner.
func NewPlanner() *Planner {
	return &Planner{}
}

type rankedEntry struct {
	meta Metadata
	rank float64
}

// Plan selects victims until both the count and size targets are met, or
// candidates run out. Entries are assumed to be unexpired; the expiry
// sweep runs before planning. High-priority entries are spared unless
// sparing them would leave the cache above 90% of its size budget.
// Ranking ties break on lexicographic key order so equal inputs always
// produce the same plan.
func (pl *Planner) Plan(entries []Metadata, policy Policy, now time.Time) EvictionPlan {
	plan := EvictionPlan{Extend: make(map[string]time.Duration)}

	var totalSize, largest int64
	for i := range entries {
		totalSize += entries[i].Size
		if entries[i].Size > largest {
			largest = entries[i].Size
		}
	}

	if len(entries) > policy.MaxCount || totalSize > policy.MaxSizeBytes {
		ranked := make([]rankedEntry, len(entries))
		for i := range entries {
			ranked[i] = rankedEntry{
				meta: entries[i],
				rank: pl.rank(&entries[i], policy, now, largest),
			}
		}
		sort.Slice(ranked, func(i, j int) bool {
			if ranked[i].rank != ranked[j].rank {
				return ranked[i].rank < ranked[j].rank
			}
			return ranked[i].meta.Key < ranked[j].meta.Key
		})

		targetCount := int(float64(policy.MaxCount) * (1 - policy.ReductionTarget))
		targetSize := int64(float64(policy.MaxSizeBytes) * (1 - policy.ReductionTarget))

		remainingCount := len(ranked)
		remainingSize := totalSize
		var spared []Metadata

		for i := range ranked {
			if remainingCount <= targetCount && remainingSize <= targetSize {
				break
			}
			if ranked[i].meta.Priority == PriorityHigh {
				spared = append(spared, ranked[i].meta)
				continue
			}
			plan.Evict = append(plan.Evict, ranked[i].meta)
			plan.FreedBytes += ranked[i].meta.Size
			remainingCount--
			remainingSize -= ranked[i].meta.Size
		}

		// Graceful degradation: sparing every high-priority entry is only
		// honored while the cache stays under the pressure line.
		if remainingSize > int64(float64(policy.MaxSizeBytes)*highPriorityPressureRatio) {
			for i := range spared {
				if remainingCount <= targetCount && remainingSize <= targetSize {
					break
				}
				plan.Evict = append(plan.Evict, spared[i])
				plan.FreedBytes += spared[i].Size
				remainingCount--
				remainingSize -= spared[i].Size
			}
		}
	}

	if policy.Strategy == StrategyAdaptive && policy.TTLExtensionFactor > 1 {
		evicted := make(map[string]struct{}, len(plan.Evict))
		for i := range plan.Evict {
			evicted[plan.Evict[i].Key] = struct{}{}
		}
		for i := range entries {
			m := &entries[i]
			if _, gone := evicted[m.Key]; gone {
				continue
			}
			if m.AccessCount <= ttlExtensionAccessFloor || m.TTL <= 0 {
				continue
			}
			extended := time.Duration(float64(m.TTL) * policy.TTLExtensionFactor)
			if extended > maxExtendedTTL {
				extended = maxExtendedTTL
			}
			if extended > m.TTL {
				plan.Extend[m.Key] = extended
			}
		}
	}

	return plan
}

// rank maps an entry to its eviction ordering under the strategy.
// Lower ranks are evicted first.
func (pl *Planner) rank(m *Metadata, policy Policy, now time.Time, largest int64) float64 {
	switch policy.Strategy {
	case StrategyLRU:
		return float64(m.LastAccessedAt.UnixNano())
	case StrategyLFU:
		return float64(m.AccessCount)
	case StrategyFIFO:
		return float64(m.CreatedAt.UnixNano())
	case StrategySize:
		// Largest first.
		return -float64(m.Size)
	case StrategyPriority:
		return float64(m.Priority)
	default:
		return pl.adaptiveScore(m, policy, now, largest)
	}
}

// adaptiveScore computes the composite retention score. Recency decays
// linearly to zero over recencyHorizon, frequency saturates at
// frequencySaturation accesses, and the size component favors small
// entries relative to the largest entry in the candidate set.
func (pl *Planner) adaptiveScore(m *Metadata, policy Policy, now time.Time, largest int64) float64 {
	age := now.Sub(m.LastAccessedAt)
	if age < 0 {
		age = 0
	}
	recency := 1.0 - math.Min(1.0, float64(age)/float64(recencyHorizon))
	frequency := math.Min(1.0, float64(m.AccessCount)/frequencySaturation)

	sizeNorm := 0.0
	if largest > 0 {
		sizeNorm = float64(m.Size) / float64(largest)
	}

	return adaptiveRecencyWeight*recency +
		adaptiveFrequencyWeight*frequency +
		adaptiveSizeWeight*(1.0-sizeNorm) +
		policy.PriorityWeight*float64(m.Priority)
}
