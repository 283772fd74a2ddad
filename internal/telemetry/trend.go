package telemetry

import "time"

// TrendDirection summarizes where performance is heading.
type TrendDirection string

const (
	TrendImproving TrendDirection = "improving"
	TrendDegrading TrendDirection = "degrading"
	TrendStable    TrendDirection = "stable"
)

// Deltas smaller than these are treated as noise.
const (
	trendHitRateEpsilon = 0.05
	trendLatencyEpsilon = 5 * time.Millisecond
)

// TrendSample aggregates the read events of one half of the window.
type TrendSample struct {
	Events        int           `json:"events"`
	HitRate       float64       `json:"hit_rate"`
	AvgAccessTime time.Duration `json:"avg_access_time"`
}

// TrendReport compares the two halves of a time window. Deltas are
// recent minus earlier, so a positive HitRateDelta means the hit rate
// went up.
type TrendReport struct {
	Window       time.Duration  `json:"window"`
	Earlier      TrendSample    `json:"earlier"`
	Recent       TrendSample    `json:"recent"`
	HitRateDelta float64        `json:"hit_rate_delta"`
	LatencyDelta time.Duration  `json:"latency_delta"`
	Direction    TrendDirection `json:"direction"`
}

// AnalyzeTrend splits the read events of the last window into an earlier
// and a recent half and reports how hit rate and latency moved between
// them. With an empty half there is nothing to compare and the direction
// is stable. A window <= 0 defaults to one hour.
func (l *Ledger) AnalyzeTrend(window time.Duration) TrendReport {
	if window <= 0 {
		window = time.Hour
	}

	now := time.Now()
	cutoff := now.Add(-window)
	mid := now.Add(-window / 2)

	l.mu.RLock()
	var earlier, recent trendAccumulator
	for i := 0; i < l.count; i++ {
		evt := l.events[(l.head-l.count+i+len(l.events))%len(l.events)]
		if evt.Op != OpHit && evt.Op != OpMiss {
			continue
		}
		if evt.Time.Before(cutoff) {
			continue
		}
		if evt.Time.Before(mid) {
			earlier.add(evt)
		} else {
			recent.add(evt)
		}
	}
	l.mu.RUnlock()

	report := TrendReport{
		Window:    window,
		Earlier:   earlier.sample(),
		Recent:    recent.sample(),
		Direction: TrendStable,
	}
	if earlier.events == 0 || recent.events == 0 {
		return report
	}

	report.HitRateDelta = report.Recent.HitRate - report.Earlier.HitRate
	report.LatencyDelta = report.Recent.AvgAccessTime - report.Earlier.AvgAccessTime

	switch {
	case report.HitRateDelta > trendHitRateEpsilon:
		report.Direction = TrendImproving
	case report.HitRateDelta < -trendHitRateEpsilon:
		report.Direction = TrendDegrading
	case report.LatencyDelta < -trendLatencyEpsilon:
		report.Direction = TrendImproving
	case report.LatencyDelta > trendLatencyEpsilon:
		report.Direction = TrendDegrading
	}
	return report
}

type trendAccumulator struct {
	events   int
	hits     int
	duration time.Duration
}

func (a *trendAccumulator) add(evt Event) {
	a.events++
	if evt.Op == OpHit {
		a.hits++
	}
	a.duration += evt.Duration
}

func (a trendAccumulator) sample() TrendSample {
	s := TrendSample{Events: a.events}
	if a.events > 0 {
		s.HitRate = float64(a.hits) / float64(a.events)
		s.AvgAccessTime = a.duration / time.Duration(a.events)
	}
	return s
}
