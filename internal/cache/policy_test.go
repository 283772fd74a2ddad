package cache

import (
	"errors"
	"testing"
	"time"
)

var planBase = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func entry(key string, size int64, created, accessed time.Time, count uint64, prio Priority) Metadata {
	return Metadata{
		Key:            key,
		Size:           size,
		TTL:            time.Hour,
		CreatedAt:      created,
		LastAccessedAt: accessed,
		AccessCount:    count,
		Priority:       prio,
	}
}

func evictedKeys(plan EvictionPlan) []string {
	keys := make([]string, 0, len(plan.Evict))
	for _, m := range plan.Evict {
		keys = append(keys, m.Key)
	}
	return keys
}

func TestPlanLRUEvictsOldestDeterministically(t *testing.T) {
	planner := NewPlanner()
	policy := Policy{
		Strategy:        StrategyLRU,
		MaxSizeBytes:    1 << 20,
		MaxCount:        2,
		ReductionTarget: 0,
	}

	entries := []Metadata{
		entry("A", 10, planBase, planBase, 1, PriorityMedium),
		entry("B", 10, planBase, planBase.Add(10*time.Millisecond), 1, PriorityMedium),
		entry("C", 10, planBase, planBase.Add(20*time.Millisecond), 1, PriorityMedium),
	}

	// The plan must be identical on every pass over the same entries.
	for i := 0; i < 5; i++ {
		plan := planner.Plan(entries, policy, planBase.Add(time.Second))
		keys := evictedKeys(plan)
		if len(keys) != 1 || keys[0] != "A" {
			t.Fatalf("pass %d: expected exactly [A] evicted, got %v", i, keys)
		}
	}
}

func TestPlanStrategyOrdering(t *testing.T) {
	planner := NewPlanner()

	testCases := []struct {
		name        string
		strategy    Strategy
		entries     []Metadata
		firstVictim string
	}{
		{
			name:     "lfu evicts least frequently used",
			strategy: StrategyLFU,
			entries: []Metadata{
				entry("hot", 10, planBase, planBase, 50, PriorityMedium),
				entry("cold", 10, planBase, planBase, 1, PriorityMedium),
				entry("warm", 10, planBase, planBase, 10, PriorityMedium),
			},
			firstVictim: "cold",
		},
		{
			name:     "fifo evicts oldest insertion",
			strategy: StrategyFIFO,
			entries: []Metadata{
				entry("second", 10, planBase.Add(time.Minute), planBase.Add(time.Hour), 1, PriorityMedium),
				entry("first", 10, planBase, planBase.Add(2*time.Hour), 9, PriorityMedium),
				entry("third", 10, planBase.Add(2*time.Minute), planBase, 1, PriorityMedium),
			},
			firstVictim: "first",
		},
		{
			name:     "size evicts largest entry",
			strategy: StrategySize,
			entries: []Metadata{
				entry("small", 100, planBase, planBase, 1, PriorityMedium),
				entry("huge", 5000, planBase, planBase, 1, PriorityMedium),
				entry("medium", 300, planBase, planBase, 1, PriorityMedium),
			},
			firstVictim: "huge",
		},
		{
			name:     "priority evicts low priority first",
			strategy: StrategyPriority,
			entries: []Metadata{
				entry("important", 10, planBase, planBase, 1, PriorityHigh),
				entry("normal", 10, planBase, planBase, 1, PriorityMedium),
				entry("throwaway", 10, planBase, planBase, 1, PriorityLow),
			},
			firstVictim: "throwaway",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			policy := Policy{
				Strategy:        tc.strategy,
				MaxSizeBytes:    1 << 20,
				MaxCount:        2,
				ReductionTarget: 0,
			}
			plan := planner.Plan(tc.entries, policy, planBase.Add(3*time.Hour))
			keys := evictedKeys(plan)
			if len(keys) == 0 {
				t.Fatalf("expected an eviction, got none")
			}
			if keys[0] != tc.firstVictim {
				t.Errorf("expected first victim %s, got %s", tc.firstVictim, keys[0])
			}
		})
	}
}

func TestPlanTieBreaksOnKeyOrder(t *testing.T) {
	planner := NewPlanner()
	policy := Policy{
		Strategy:        StrategyLRU,
		MaxSizeBytes:    1 << 20,
		MaxCount:        2,
		ReductionTarget: 0,
	}

	// Identical metadata except for the key: ordering must fall back to
	// lexicographic comparison.
	entries := []Metadata{
		entry("b", 10, planBase, planBase, 1, PriorityMedium),
		entry("a", 10, planBase, planBase, 1, PriorityMedium),
		entry("c", 10, planBase, planBase, 1, PriorityMedium),
	}

	plan := planner.Plan(entries, policy, planBase.Add(time.Second))
	keys := evictedKeys(plan)
	if len(keys) != 1 || keys[0] != "a" {
		t.Fatalf("expected [a] evicted on tie, got %v", keys)
	}
}

func TestPlanSparesHighPriority(t *testing.T) {
	planner := NewPlanner()
	policy := Policy{
		Strategy:        StrategyLRU,
		MaxSizeBytes:    1 << 20,
		MaxCount:        1,
		ReductionTarget: 0,
	}

	entries := []Metadata{
		entry("old-high", 10, planBase, planBase, 1, PriorityHigh),
		entry("new-low", 10, planBase, planBase.Add(time.Minute), 1, PriorityLow),
	}

	plan := planner.Plan(entries, policy, planBase.Add(time.Hour))
	keys := evictedKeys(plan)
	if len(keys) != 1 || keys[0] != "new-low" {
		t.Fatalf("expected high-priority entry spared, evicted %v", keys)
	}
}

func TestPlanHighPriorityFallsUnderPressure(t *testing.T) {
	planner := NewPlanner()
	policy := Policy{
		Strategy:        StrategyLRU,
		MaxSizeBytes:    1000,
		MaxCount:        10,
		ReductionTarget: 0.2,
	}

	entries := []Metadata{
		entry("l1", 100, planBase, planBase, 1, PriorityLow),
		entry("h1", 500, planBase, planBase.Add(time.Minute), 1, PriorityHigh),
		entry("h2", 500, planBase, planBase.Add(2*time.Minute), 1, PriorityHigh),
	}

	plan := planner.Plan(entries, policy, planBase.Add(time.Hour))
	keys := evictedKeys(plan)

	// Evicting l1 alone leaves 1000 bytes resident, above the 90%
	// pressure line, so the oldest high-priority entry goes too.
	if len(keys) != 2 || keys[0] != "l1" || keys[1] != "h1" {
		t.Fatalf("expected [l1 h1] evicted under pressure, got %v", keys)
	}
	if plan.FreedBytes != 600 {
		t.Errorf("expected 600 bytes freed, got %d", plan.FreedBytes)
	}
}

func TestPlanAdaptiveKeepsHotEntries(t *testing.T) {
	planner := NewPlanner()
	policy := Policy{
		Strategy:        StrategyAdaptive,
		MaxSizeBytes:    1 << 20,
		MaxCount:        2,
		ReductionTarget: 0,
		PriorityWeight:  0.1,
	}

	now := planBase.Add(24 * time.Hour)
	entries := []Metadata{
		entry("stale", 10, planBase, planBase, 1, PriorityMedium),
		entry("hot", 10, planBase, now.Add(-time.Minute), 90, PriorityMedium),
		entry("recent", 10, planBase, now.Add(-5*time.Minute), 3, PriorityMedium),
	}

	plan := planner.Plan(entries, policy, now)
	keys := evictedKeys(plan)
	if len(keys) != 1 || keys[0] != "stale" {
		t.Fatalf("expected stale entry evicted under adaptive scoring, got %v", keys)
	}
}

func TestPlanAdaptiveTTLExtension(t *testing.T) {
	planner := NewPlanner()
	policy := Policy{
		Strategy:           StrategyAdaptive,
		MaxSizeBytes:       1 << 20,
		MaxCount:           100,
		ReductionTarget:    0,
		TTLExtensionFactor: 1.5,
	}

	hot := entry("hot", 10, planBase, planBase, 25, PriorityMedium)
	hot.TTL = time.Hour
	lukewarm := entry("lukewarm", 10, planBase, planBase, 10, PriorityMedium)
	lukewarm.TTL = time.Hour
	capped := entry("capped", 10, planBase, planBase, 25, PriorityMedium)
	capped.TTL = 29 * 24 * time.Hour
	saturated := entry("saturated", 10, planBase, planBase, 25, PriorityMedium)
	saturated.TTL = 30 * 24 * time.Hour

	plan := planner.Plan([]Metadata{hot, lukewarm, capped, saturated}, policy, planBase.Add(time.Minute))

	if got := plan.Extend["hot"]; got != 90*time.Minute {
		t.Errorf("expected hot TTL extended to 90m, got %v", got)
	}
	if _, ok := plan.Extend["lukewarm"]; ok {
		t.Errorf("entry at the access floor must not be extended")
	}
	if got := plan.Extend["capped"]; got != 30*24*time.Hour {
		t.Errorf("expected capped TTL clamped to 30 days, got %v", got)
	}
	if _, ok := plan.Extend["saturated"]; ok {
		t.Errorf("entry already at the TTL cap must not be adjusted")
	}
}

func TestPlanNoEvictionUnderBudget(t *testing.T) {
	planner := NewPlanner()
	policy := Policy{
		Strategy:        StrategyLRU,
		MaxSizeBytes:    1 << 20,
		MaxCount:        10,
		ReductionTarget: 0.2,
	}

	entries := []Metadata{
		entry("a", 10, planBase, planBase, 1, PriorityMedium),
		entry("b", 10, planBase, planBase, 1, PriorityMedium),
	}

	plan := planner.Plan(entries, policy, planBase.Add(time.Minute))
	if len(plan.Evict) != 0 {
		t.Fatalf("expected no evictions under budget, got %v", evictedKeys(plan))
	}
	if plan.FreedBytes != 0 {
		t.Errorf("expected zero freed bytes, got %d", plan.FreedBytes)
	}
}

func TestPolicyValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"unknown strategy", func(p *Policy) { p.Strategy = "rocket" }},
		{"zero size budget", func(p *Policy) { p.MaxSizeBytes = 0 }},
		{"zero count budget", func(p *Policy) { p.MaxCount = 0 }},
		{"reduction target above one", func(p *Policy) { p.ReductionTarget = 1.5 }},
		{"negative reduction target", func(p *Policy) { p.ReductionTarget = -0.1 }},
		{"shrinking ttl factor", func(p *Policy) { p.TTLExtensionFactor = 0.5 }},
		{"priority weight above one", func(p *Policy) { p.PriorityWeight = 2 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			policy := DefaultPolicy()
			tc.mutate(&policy)
			err := policy.Validate()
			if err == nil {
				t.Fatalf("expected validation failure")
			}
			if !errors.Is(err, ErrPolicyViolation) {
				t.Errorf("expected ErrPolicyViolation, got %v", err)
			}
		})
	}

	if err := DefaultPolicy().Validate(); err != nil {
		t.Errorf("default policy must validate, got %v", err)
	}
}
