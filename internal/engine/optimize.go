package engine

import (
	"context"
	"sync/atomic"
	"time"

	"pocketcache/internal/cache"
	"pocketcache/internal/logging"
	"pocketcache/internal/telemetry"
)

// Optimize runs one maintenance pass: sweep expired entries, evict
// under the active policy, extend TTLs for hot survivors and flush the
// index snapshot. Calls arriving while a pass is running do not start
// a second one; they wait for the in-flight pass and receive its
// report.
func (e *Engine) Optimize(ctx context.Context) (*cache.OptimizationReport, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	e.optMu.Lock()
	if e.optRunning {
		done := e.optDone
		e.optMu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		e.optMu.Lock()
		report, err := e.optReport, e.optErr
		e.optMu.Unlock()
		return report, err
	}
	e.optRunning = true
	e.optDone = make(chan struct{})
	done := e.optDone
	e.optMu.Unlock()

	report, err := e.runOptimize(ctx)

	e.optMu.Lock()
	e.optReport, e.optErr = report, err
	e.optRunning = false
	e.optMu.Unlock()
	close(done)

	return report, err
}

func (e *Engine) runOptimize(ctx context.Context) (*cache.OptimizationReport, error) {
	start := time.Now()
	pass := atomic.AddUint64(&e.passes, 1)

	report := &cache.OptimizationReport{
		Pass:           pass,
		TTLAdjustments: make(map[string]time.Duration),
	}

	// Expire first so the planner only ranks live entries.
	report.ExpiredKeys, report.SkippedKeys = e.sweepExpired(ctx)

	policy := e.Policy()
	plan := e.planner.Plan(e.index.All(), policy, time.Now())

	for i := range plan.Evict {
		key := plan.Evict[i].Key
		if err := e.store.Delete(ctx, dataPrefix+key); err != nil {
			// Skip and continue; the entry stays until a later pass.
			logging.Warn(ctx, logging.ComponentPolicy, logging.ActionEvict, "failed to evict entry, skipping", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
			report.SkippedKeys = append(report.SkippedKeys, key)
			continue
		}
		e.index.Remove(key)
		e.filterDelete(key)
		report.RemovedKeys = append(report.RemovedKeys, key)
		report.FreedBytes += plan.Evict[i].Size
	}

	for key, ttl := range plan.Extend {
		if e.index.SetTTL(key, ttl) {
			report.TTLAdjustments[key] = ttl
		}
	}

	if err := e.persist.Flush(ctx, e.index); err != nil {
		logging.Warn(ctx, logging.ComponentIndex, logging.ActionFlush, "index snapshot flush failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	report.Duration = time.Since(start)
	e.ledger.Record(telemetry.OpOptimize, "", report.FreedBytes, report.Duration)
	logging.Info(ctx, logging.ComponentPolicy, logging.ActionOptimize, "optimization pass complete", map[string]interface{}{
		"pass":            pass,
		"strategy":        string(policy.Strategy),
		"removed":         len(report.RemovedKeys),
		"expired":         len(report.ExpiredKeys),
		"skipped":         len(report.SkippedKeys),
		"freed_bytes":     report.FreedBytes,
		"ttl_adjustments": len(report.TTLAdjustments),
		"duration_ms":     report.Duration.Milliseconds(),
		"graph_keys":      e.graph.Len(),
	})
	return report, nil
}

// sweepExpired removes entries whose TTL has elapsed. Entries whose
// payload delete fails are kept and retried on the next sweep.
func (e *Engine) sweepExpired(ctx context.Context) (expired, skipped []string) {
	now := time.Now()
	for _, meta := range e.index.All() {
		if !meta.Expired(now) {
			continue
		}
		if err := e.store.Delete(ctx, dataPrefix+meta.Key); err != nil {
			logging.Warn(ctx, logging.ComponentEngine, logging.ActionExpire, "failed to delete expired payload, will retry", map[string]interface{}{
				"key":   meta.Key,
				"error": err.Error(),
			})
			skipped = append(skipped, meta.Key)
			continue
		}
		e.index.Remove(meta.Key)
		e.filterDelete(meta.Key)
		expired = append(expired, meta.Key)
	}
	if len(expired) > 0 {
		logging.Debug(ctx, logging.ComponentEngine, logging.ActionExpire, "swept expired entries", map[string]interface{}{
			"count": len(expired),
		})
	}
	return expired, skipped
}
