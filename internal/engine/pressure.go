package engine

import (
	"context"
	"errors"

	"pocketcache/internal/cache"
	"pocketcache/internal/logging"
)

// PressureLevel classifies how full the cache is against its size
// budget.
type PressureLevel string

const (
	PressureNone     PressureLevel = "none"
	PressureWarning  PressureLevel = "warning"
	PressureCritical PressureLevel = "critical"
	PressurePanic    PressureLevel = "panic"
)

// Utilization thresholds for each pressure level.
const (
	pressureWarningRatio  = 0.85
	pressureCriticalRatio = 0.90
	pressurePanicRatio    = 0.95
)

func pressureFor(utilization float64) PressureLevel {
	switch {
	case utilization >= pressurePanicRatio:
		return PressurePanic
	case utilization >= pressureCriticalRatio:
		return PressureCritical
	case utilization >= pressureWarningRatio:
		return PressureWarning
	default:
		return PressureNone
	}
}

// OnPressure registers a callback fired asynchronously whenever the
// pressure level changes to warning or above.
func (e *Engine) OnPressure(fn func(level PressureLevel, utilization float64)) {
	e.pressureMu.Lock()
	e.onPressure = append(e.onPressure, fn)
	e.pressureMu.Unlock()
}

// checkPressure runs after every Put. Crossing into critical or panic
// kicks an asynchronous optimization pass; the single-flight guard
// keeps repeated crossings from stacking passes.
func (e *Engine) checkPressure(ctx context.Context) {
	policy := e.Policy()
	if policy.MaxSizeBytes <= 0 {
		return
	}
	utilization := float64(e.index.TotalSize()) / float64(policy.MaxSizeBytes)
	level := pressureFor(utilization)

	e.pressureMu.Lock()
	changed := level != e.lastPressure
	e.lastPressure = level
	var callbacks []func(PressureLevel, float64)
	if changed && level != PressureNone {
		callbacks = append(callbacks, e.onPressure...)
	}
	e.pressureMu.Unlock()

	if !changed || level == PressureNone {
		return
	}

	logging.Warn(ctx, logging.ComponentEngine, logging.ActionPressure, "cache size pressure", map[string]interface{}{
		"level":       string(level),
		"utilization": utilization,
		"total_size":  e.index.TotalSize(),
		"max_size":    policy.MaxSizeBytes,
	})

	for _, fn := range callbacks {
		go fn(level, utilization)
	}

	if level == PressureCritical || level == PressurePanic {
		go func() {
			if _, err := e.Optimize(context.Background()); err != nil && !errors.Is(err, cache.ErrEngineClosed) {
				logging.Error(context.Background(), logging.ComponentEngine, logging.ActionOptimize, "pressure-triggered optimization failed", err)
			}
		}()
	}
}
