package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck reports unhealthy when the process goroutine count
// exceeds threshold. Liveness probe for goroutine leaks.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(_ context.Context) error {
		if count := runtime.NumGoroutine(); count > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", count, threshold)
		}
		return nil
	}
}

// GCMaxPauseCheck reports unhealthy when any recorded stop-the-world GC pause
// exceeds threshold.
func GCMaxPauseCheck(threshold time.Duration) CheckFunc {
	return func(_ context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)
		for _, pause := range stats.Pause {
			if pause > threshold {
				return errors.Errorf("GC pause %s exceeds threshold %s", pause, threshold)
			}
		}
		return nil
	}
}

// CapacityCheck reports unhealthy when gauge exceeds limit. Used for bounded
// in-process resources, e.g. payment sessions awaiting a gateway outcome.
func CapacityCheck(what string, gauge func() int, limit int) CheckFunc {
	return func(_ context.Context) error {
		if n := gauge(); n > limit {
			return errors.Errorf("%s: %d exceeds limit %d", what, n, limit)
		}
		return nil
	}
}
