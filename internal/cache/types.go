package cache

import (
	"fmt"
	"strings"
	"time"
)

// Priority classifies how valuable an entry is to the client.
// Higher priorities survive eviction passes longer.
type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParsePriority converts a configuration string to a Priority.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(s) {
	case "low", "":
		return PriorityLow, nil
	case "medium", "normal":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	default:
		return PriorityLow, fmt.Errorf("%w: unknown priority %q", ErrPolicyViolation, s)
	}
}

// Strategy selects how the eviction planner ranks entries.
type Strategy string

const (
	StrategyLRU      Strategy = "lru"
	StrategyLFU      Strategy = "lfu"
	StrategyFIFO     Strategy = "fifo"
	StrategySize     Strategy = "size"
	StrategyPriority Strategy = "priority"
	StrategyAdaptive Strategy = "adaptive"
)

// ParseStrategy converts a configuration string to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	strategy := Strategy(strings.ToLower(s))
	switch strategy {
	case StrategyLRU, StrategyLFU, StrategyFIFO, StrategySize, StrategyPriority, StrategyAdaptive:
		return strategy, nil
	case "":
		return StrategyAdaptive, nil
	default:
		return "", fmt.Errorf("%w: unknown eviction strategy %q", ErrPolicyViolation, s)
	}
}

// Metadata is the per-key record held by the index. The payload itself
// lives in the backing store; everything the eviction planner, the
// telemetry ledger and the expiry sweep need to know lives here.
type Metadata struct {
	Key            string        `json:"key"`
	Size           int64         `json:"size"`
	DataType       string        `json:"data_type,omitempty"`
	ValueType      string        `json:"value_type,omitempty"`
	TTL            time.Duration `json:"ttl"`
	CreatedAt      time.Time     `json:"created_at"`
	LastAccessedAt time.Time     `json:"last_accessed_at"`
	AccessCount    uint64        `json:"access_count"`
	Priority       Priority      `json:"priority"`
	Encrypted      bool          `json:"encrypted"`
}

// ExpiresAt returns the absolute expiry instant, or the zero time when
// the entry never expires.
func (m *Metadata) ExpiresAt() time.Time {
	if m.TTL <= 0 {
		return time.Time{}
	}
	return m.CreatedAt.Add(m.TTL)
}

// Expired reports whether the entry's TTL has elapsed at the given instant.
func (m *Metadata) Expired(now time.Time) bool {
	if m.TTL <= 0 {
		return false
	}
	return now.After(m.CreatedAt.Add(m.TTL))
}

// Policy holds the tunables the eviction planner reads on every pass.
// The engine owns a Policy and may swap it at runtime.
type Policy struct {
	Strategy           Strategy `yaml:"strategy" json:"strategy"`
	MaxSizeBytes       int64    `yaml:"max_size_bytes" json:"max_size_bytes"`
	MaxCount           int      `yaml:"max_count" json:"max_count"`
	ReductionTarget    float64  `yaml:"reduction_target" json:"reduction_target"`
	TTLExtensionFactor float64  `yaml:"ttl_extension_factor" json:"ttl_extension_factor"`
	PriorityWeight     float64  `yaml:"priority_weight" json:"priority_weight"`
}

// DefaultPolicy returns the policy used when the host configures nothing.
func DefaultPolicy() Policy {
	return Policy{
		Strategy:           StrategyAdaptive,
		MaxSizeBytes:       64 * 1024 * 1024,
		MaxCount:           5000,
		ReductionTarget:    0.2,
		TTLExtensionFactor: 1.5,
		PriorityWeight:     0.1,
	}
}

// Validate fails fast on out-of-range tunables. All violations wrap
// ErrPolicyViolation so callers can detect the class with errors.Is.
func (p Policy) Validate() error {
	if _, err := ParseStrategy(string(p.Strategy)); err != nil {
		return err
	}
	if p.MaxSizeBytes <= 0 {
		return fmt.Errorf("%w: max_size_bytes must be greater than 0", ErrPolicyViolation)
	}
	if p.MaxCount <= 0 {
		return fmt.Errorf("%w: max_count must be greater than 0", ErrPolicyViolation)
	}
	if p.ReductionTarget < 0 || p.ReductionTarget > 1 {
		return fmt.Errorf("%w: reduction_target must be between 0.0 and 1.0", ErrPolicyViolation)
	}
	if p.TTLExtensionFactor < 1 {
		return fmt.Errorf("%w: ttl_extension_factor must be >= 1.0", ErrPolicyViolation)
	}
	if p.PriorityWeight < 0 || p.PriorityWeight > 1 {
		return fmt.Errorf("%w: priority_weight must be between 0.0 and 1.0", ErrPolicyViolation)
	}
	return nil
}

// OptimizationReport summarizes one optimization pass over the index.
type OptimizationReport struct {
	Pass           uint64                   `json:"pass"`
	RemovedKeys    []string                 `json:"removed_keys"`
	ExpiredKeys    []string                 `json:"expired_keys"`
	SkippedKeys    []string                 `json:"skipped_keys,omitempty"`
	FreedBytes     int64                    `json:"freed_bytes"`
	TTLAdjustments map[string]time.Duration `json:"ttl_adjustments,omitempty"`
	Duration       time.Duration            `json:"duration"`
}
