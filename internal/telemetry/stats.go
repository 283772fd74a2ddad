package telemetry

import "time"

// TTL bucket boundaries.
const (
	shortTTLBound  = time.Hour
	mediumTTLBound = 24 * time.Hour
)

// TTLDistribution counts entries by how long they are allowed to live.
type TTLDistribution struct {
	Short  int `json:"short"`  // under one hour
	Medium int `json:"medium"` // under one day
	Long   int `json:"long"`   // one day or more
}

// Add buckets one entry's TTL. Entries without an expiry bound count
// as long-lived.
func (d *TTLDistribution) Add(ttl time.Duration) {
	switch {
	case ttl <= 0:
		d.Long++
	case ttl < shortTTLBound:
		d.Short++
	case ttl < mediumTTLBound:
		d.Medium++
	default:
		d.Long++
	}
}

// Total returns the number of bucketed entries.
func (d TTLDistribution) Total() int {
	return d.Short + d.Medium + d.Long
}

// LongShare returns the fraction of entries in the long bucket.
func (d TTLDistribution) LongShare() float64 {
	total := d.Total()
	if total == 0 {
		return 0
	}
	return float64(d.Long) / float64(total)
}

// Inventory is the engine's view of current cache contents, passed into
// Stats so the ledger does not need to reach into the metadata index.
type Inventory struct {
	TotalItems int
	TotalSize  int64
	MaxSize    int64
	DataTypes  map[string]int
	TTL        TTLDistribution
}

// PerformanceStats is the combined snapshot handed to callers and to the
// recommendation rules. Hit and miss rates are cumulative for the
// process lifetime; the latency figures cover the ledger's retained
// window.
type PerformanceStats struct {
	TotalItems           int             `json:"total_items"`
	TotalSize            int64           `json:"total_size"`
	HitRate              float64         `json:"hit_rate"`
	MissRate             float64         `json:"miss_rate"`
	AvgAccessTime        time.Duration   `json:"avg_access_time"`
	P95AccessTime        time.Duration   `json:"p95_access_time"`
	DataTypeDistribution map[string]int  `json:"data_type_distribution"`
	TTLDistribution      TTLDistribution `json:"ttl_distribution"`
	MemoryUtilization    float64         `json:"memory_utilization"`
}

// Stats derives the current performance snapshot from the ledger and the
// supplied inventory.
func (l *Ledger) Stats(inv Inventory) PerformanceStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := PerformanceStats{
		TotalItems:           inv.TotalItems,
		TotalSize:            inv.TotalSize,
		DataTypeDistribution: inv.DataTypes,
		TTLDistribution:      inv.TTL,
	}

	reads := l.hits + l.misses
	if reads > 0 {
		stats.HitRate = float64(l.hits) / float64(reads)
		stats.MissRate = float64(l.misses) / float64(reads)
	}

	durs := l.readDurationsLocked()
	if len(durs) > 0 {
		var sum time.Duration
		for _, d := range durs {
			sum += d
		}
		stats.AvgAccessTime = sum / time.Duration(len(durs))
		stats.P95AccessTime = percentile(durs, 95)
	}

	if inv.MaxSize > 0 {
		stats.MemoryUtilization = float64(inv.TotalSize) / float64(inv.MaxSize)
	}
	return stats
}
