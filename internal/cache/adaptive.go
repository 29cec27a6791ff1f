package cache

import (
	"context"
	"sync"
	"time"
)

// AdaptiveTTLConfig tunes the per-namespace TTL controller.
type AdaptiveTTLConfig struct {
	// Min and Max bound every namespace's TTL.
	Min time.Duration
	Max time.Duration
	// SampleSize is how many recent hit/miss outcomes each namespace tracks.
	SampleSize int
	// AdjustInterval is how often TTLs are recomputed from the sample window.
	AdjustInterval time.Duration
	// TargetHitRate is the hit rate the controller steers namespaces toward.
	TargetHitRate float64
	// StepFactor is the fraction of the current TTL added or subtracted per adjustment.
	StepFactor float64
}

// DefaultAdaptiveTTLConfig returns conservative tuning: 30s-10m bounds, a
// 200-sample window, adjusting every 30s toward an 80% hit rate.
func DefaultAdaptiveTTLConfig() AdaptiveTTLConfig {
	return AdaptiveTTLConfig{
		Min:            30 * time.Second,
		Max:            10 * time.Minute,
		SampleSize:     200,
		AdjustInterval: 30 * time.Second,
		TargetHitRate:  0.8,
		StepFactor:     0.1,
	}
}

type namespaceStats struct {
	outcomes []bool
	pos      int
	ttl      time.Duration
}

// AdaptiveTTL tracks hit/miss outcomes per namespace and steps each
// namespace's TTL up or down within [Min, Max] on a ticker, the same
// ticker-loop shape CronScheduler.Start uses to check for due schedules.
type AdaptiveTTL struct {
	mu         sync.Mutex
	cfg        AdaptiveTTLConfig
	namespaces map[string]*namespaceStats
}

// NewAdaptiveTTL creates a controller tuned by cfg.
func NewAdaptiveTTL(cfg AdaptiveTTLConfig) *AdaptiveTTL {
	return &AdaptiveTTL{cfg: cfg, namespaces: make(map[string]*namespaceStats)}
}

// RecordHit records a cache hit for namespace.
func (a *AdaptiveTTL) RecordHit(namespace string) { a.record(namespace, true) }

// RecordMiss records a cache miss for namespace.
func (a *AdaptiveTTL) RecordMiss(namespace string) { a.record(namespace, false) }

func (a *AdaptiveTTL) record(namespace string, hit bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ns := a.statsFor(namespace)
	if len(ns.outcomes) < a.cfg.SampleSize {
		ns.outcomes = append(ns.outcomes, hit)
		return
	}
	ns.outcomes[ns.pos] = hit
	ns.pos = (ns.pos + 1) % a.cfg.SampleSize
}

// TTL returns namespace's current TTL, defaulting to Min until its first adjustment.
func (a *AdaptiveTTL) TTL(namespace string) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statsFor(namespace).ttl
}

func (a *AdaptiveTTL) statsFor(namespace string) *namespaceStats {
	ns, ok := a.namespaces[namespace]
	if !ok {
		ns = &namespaceStats{ttl: a.cfg.Min}
		a.namespaces[namespace] = ns
	}
	return ns
}

// Start runs the adjustment loop until ctx is cancelled.
func (a *AdaptiveTTL) Start(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.AdjustInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.adjustAll()
		}
	}
}

func (a *AdaptiveTTL) adjustAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ns := range a.namespaces {
		a.adjust(ns)
	}
}

// adjust steps ns.ttl up toward Max when the hit rate clears target
// (entries are worth keeping longer) and back down toward Min when it
// falls short (favoring freshness over reuse).
func (a *AdaptiveTTL) adjust(ns *namespaceStats) {
	if len(ns.outcomes) == 0 {
		return
	}
	hits := 0
	for _, o := range ns.outcomes {
		if o {
			hits++
		}
	}
	hitRate := float64(hits) / float64(len(ns.outcomes))

	step := time.Duration(float64(ns.ttl) * a.cfg.StepFactor)
	if step <= 0 {
		step = time.Second
	}

	if hitRate > a.cfg.TargetHitRate {
		ns.ttl += step
	} else {
		ns.ttl -= step
	}

	if ns.ttl < a.cfg.Min {
		ns.ttl = a.cfg.Min
	}
	if ns.ttl > a.cfg.Max {
		ns.ttl = a.cfg.Max
	}
}
