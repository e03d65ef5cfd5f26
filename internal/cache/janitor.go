package cache

import (
	"context"
	"log/slog"
	"time"
)

// Sweepable is any cache the janitor can expire entries from.
type Sweepable interface {
	Sweep() int
	Len() int
}

// Janitor proactively expires stale cache entries on a fixed interval.
// Lazy expiry on Get alone would let entries that are never read again
// accumulate, so memory is bounded by this background sweep.
type Janitor struct {
	interval time.Duration
	targets  map[string]Sweepable

	// OnStats, if set, receives post-sweep cache sizes keyed by cache name.
	OnStats func(sizes map[string]int)
}

// NewJanitor creates a janitor sweeping the given named caches.
func NewJanitor(interval time.Duration, targets map[string]Sweepable) *Janitor {
	return &Janitor{interval: interval, targets: targets}
}

// Run sweeps every interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.SweepOnce()
		}
	}
}

// SweepOnce runs one sweep across all targets and reports sizes.
func (j *Janitor) SweepOnce() {
	sizes := make(map[string]int, len(j.targets))
	attrs := make([]any, 0, len(j.targets)*2)
	for name, target := range j.targets {
		dropped := target.Sweep()
		sizes[name] = target.Len()
		attrs = append(attrs, slog.Int(name, sizes[name]))
		if dropped > 0 {
			slog.Debug("janitor expired entries", "cache", name, "dropped", dropped)
		}
	}
	slog.Info("cache sizes", attrs...)
	if j.OnStats != nil {
		j.OnStats(sizes)
	}
}
