package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricNamespace = "pocketcache"

// GaugeSource supplies the point-in-time cache gauges at scrape time.
// The engine implements it from its metadata index.
type GaugeSource func() (entries int, sizeBytes int64, utilization float64)

// Collector bridges a Ledger into a Prometheus registry. All metrics
// are read from the ledger at scrape time, so the cache pays no metric
// bookkeeping cost on the hot path. Registration is the host's choice;
// the library never starts an HTTP server of its own.
type Collector struct {
	ledger *Ledger
	source GaugeSource

	hitsDesc    *prometheus.Desc
	missesDesc  *prometheus.Desc
	ratioDesc   *prometheus.Desc
	entriesDesc *prometheus.Desc
	sizeDesc    *prometheus.Desc
	utilDesc    *prometheus.Desc
	opsDesc     *prometheus.Desc
	latencyDesc *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector over ledger. source may be nil, in
// which case the entry, size and utilization gauges are omitted.
func NewCollector(ledger *Ledger, source GaugeSource) *Collector {
	name := func(n string) string { return prometheus.BuildFQName(metricNamespace, "", n) }
	return &Collector{
		ledger: ledger,
		source: source,
		hitsDesc: prometheus.NewDesc(name("hits_total"),
			"Cumulative cache hits.", nil, nil),
		missesDesc: prometheus.NewDesc(name("misses_total"),
			"Cumulative cache misses.", nil, nil),
		ratioDesc: prometheus.NewDesc(name("hit_ratio"),
			"Hits over reads for the process lifetime.", nil, nil),
		entriesDesc: prometheus.NewDesc(name("entries"),
			"Entries currently cached.", nil, nil),
		sizeDesc: prometheus.NewDesc(name("size_bytes"),
			"Total size of cached payloads in bytes.", nil, nil),
		utilDesc: prometheus.NewDesc(name("memory_utilization"),
			"Cached bytes over the configured size budget.", nil, nil),
		opsDesc: prometheus.NewDesc(name("operations_total"),
			"Cumulative operations by kind.", []string{"op"}, nil),
		latencyDesc: prometheus.NewDesc(name("operation_duration_seconds"),
			"Operation latency by kind.", []string{"op"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hitsDesc
	ch <- c.missesDesc
	ch <- c.ratioDesc
	ch <- c.entriesDesc
	ch <- c.sizeDesc
	ch <- c.utilDesc
	ch <- c.opsDesc
	ch <- c.latencyDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	type opSnapshot struct {
		count uint64
		sum   time.Duration
		durs  []time.Duration
	}

	l := c.ledger
	l.mu.RLock()
	hits, misses := l.hits, l.misses
	ops := make(map[Op]*opSnapshot, len(l.ops))
	for op, agg := range l.ops {
		ops[op] = &opSnapshot{count: agg.count, sum: agg.sum}
	}
	for i := 0; i < l.count; i++ {
		evt := l.events[(l.head-l.count+i+len(l.events))%len(l.events)]
		if snap, ok := ops[evt.Op]; ok {
			snap.durs = append(snap.durs, evt.Duration)
		}
	}
	l.mu.RUnlock()

	ch <- prometheus.MustNewConstMetric(c.hitsDesc, prometheus.CounterValue, float64(hits))
	ch <- prometheus.MustNewConstMetric(c.missesDesc, prometheus.CounterValue, float64(misses))

	ratio := 0.0
	if reads := hits + misses; reads > 0 {
		ratio = float64(hits) / float64(reads)
	}
	ch <- prometheus.MustNewConstMetric(c.ratioDesc, prometheus.GaugeValue, ratio)

	if c.source != nil {
		entries, sizeBytes, utilization := c.source()
		ch <- prometheus.MustNewConstMetric(c.entriesDesc, prometheus.GaugeValue, float64(entries))
		ch <- prometheus.MustNewConstMetric(c.sizeDesc, prometheus.GaugeValue, float64(sizeBytes))
		ch <- prometheus.MustNewConstMetric(c.utilDesc, prometheus.GaugeValue, utilization)
	}

	for op, snap := range ops {
		ch <- prometheus.MustNewConstMetric(c.opsDesc, prometheus.CounterValue,
			float64(snap.count), string(op))

		var quantiles map[float64]float64
		if len(snap.durs) > 0 {
			quantiles = map[float64]float64{
				0.5:  percentile(snap.durs, 50).Seconds(),
				0.95: percentile(snap.durs, 95).Seconds(),
			}
		}
		ch <- prometheus.MustNewConstSummary(c.latencyDesc,
			snap.count, snap.sum.Seconds(), quantiles, string(op))
	}
}
