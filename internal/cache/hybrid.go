package cache

import (
	"context"
	"log"
	"time"

	"github.com/datagen24/cowrieprocessor/internal/storage"
)

// Config selects which tiers are enabled and where L3 lives on disk.
type Config struct {
	L1Enabled bool
	L3Enabled bool
	L3Root    string
}

// HybridCache composes the three tiers with read-down/backfill-up and
// write-through-with-isolated-failure semantics.
type HybridCache struct {
	l1 L1
	l2 *storage.L2Cache
	l3 *L3

	l1Stats TierStats
	l2Stats TierStats
	l3Stats TierStats

	log *log.Logger
}

// NewHybridCache assembles a cache from its tiers. l1 or l3 may be nil to
// disable that tier; l2 is always required.
func NewHybridCache(l1 L1, l2 *storage.L2Cache, l3 *L3) *HybridCache {
	return &HybridCache{
		l1:  l1,
		l2:  l2,
		l3:  l3,
		log: log.New(log.Writer(), "[cache.hybrid] ", log.LstdFlags),
	}
}

// Get walks L1 -> L2 -> L3, returning the first hit and backfilling every
// faster tier above it. A clean miss across all tiers returns (nil, false).
func (h *HybridCache) Get(ctx context.Context, service, key string, ttl time.Duration) ([]byte, bool) {
	if h.l1 != nil {
		start := time.Now()
		val, ok, err := h.l1.Get(ctx, l1Key(service, key))
		if err != nil {
			h.l1Stats.recordError()
			h.log.Printf("l1 get error for %s/%s: %v", service, key, err)
		} else if ok {
			h.l1Stats.recordHit(time.Since(start))
			return val, true
		} else {
			h.l1Stats.recordMiss(time.Since(start))
		}
	}

	start := time.Now()
	val, ok, err := h.l2.Get(service, key)
	if err != nil {
		h.l2Stats.recordError()
		h.log.Printf("l2 get error for %s/%s: %v", service, key, err)
	} else if ok {
		h.l2Stats.recordHit(time.Since(start))
		h.backfillAbove(ctx, service, key, val, ttl, tierL2)
		return val, true
	} else {
		h.l2Stats.recordMiss(time.Since(start))
	}

	if h.l3 != nil {
		start = time.Now()
		val, ok, err := h.l3.Get(service, key)
		if err != nil {
			h.l3Stats.recordError()
			h.log.Printf("l3 get error for %s/%s: %v", service, key, err)
		} else if ok {
			h.l3Stats.recordHit(time.Since(start))
			h.backfillAbove(ctx, service, key, val, ttl, tierL3)
			return val, true
		} else {
			h.l3Stats.recordMiss(time.Since(start))
		}
	}

	return nil, false
}

type tier int

const (
	tierL1 tier = iota
	tierL2
	tierL3
)

// backfillAbove writes val into every tier faster than foundAt, isolating
// each tier's failure.
func (h *HybridCache) backfillAbove(ctx context.Context, service, key string, val []byte, ttl time.Duration, foundAt tier) {
	if foundAt > tierL1 && h.l1 != nil {
		if err := h.l1.Set(ctx, l1Key(service, key), val, ttl); err != nil {
			h.l1Stats.recordError()
			h.log.Printf("l1 backfill error for %s/%s: %v", service, key, err)
		}
	}
	if foundAt > tierL2 {
		if err := h.l2.Set(service, key, val, L2TTLFor(service)); err != nil {
			h.l2Stats.recordError()
			h.log.Printf("l2 backfill error for %s/%s: %v", service, key, err)
		}
	}
}

// Set writes through to every enabled tier, isolating each tier's failure.
func (h *HybridCache) Set(ctx context.Context, service, key string, value []byte, l1TTL time.Duration) {
	if h.l1 != nil {
		if err := h.l1.Set(ctx, l1Key(service, key), value, l1TTL); err != nil {
			h.l1Stats.recordError()
			h.log.Printf("l1 set error for %s/%s: %v", service, key, err)
		} else {
			h.l1Stats.recordStore()
		}
	}

	if err := h.l2.Set(service, key, value, L2TTLFor(service)); err != nil {
		h.l2Stats.recordError()
		h.log.Printf("l2 set error for %s/%s: %v", service, key, err)
	} else {
		h.l2Stats.recordStore()
	}

	if h.l3 != nil {
		if err := h.l3.Set(service, key, value, l3TTL); err != nil {
			h.l3Stats.recordError()
			h.log.Printf("l3 set error for %s/%s: %v", service, key, err)
		} else {
			h.l3Stats.recordStore()
		}
	}
}

// Stats is a snapshot of all three tiers' counters plus the blended overall
// hit rate, reported to telemetry.
type Stats struct {
	L1 TierStats
	L2 TierStats
	L3 TierStats
}

// OverallHitRate computes hits / (hits + misses) across all tiers combined.
func (s Stats) OverallHitRate() float64 {
	hits := s.L1.Hits + s.L2.Hits + s.L3.Hits
	misses := s.L1.Misses + s.L2.Misses + s.L3.Misses
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Stats returns a point-in-time snapshot of every tier's counters.
func (h *HybridCache) Stats() Stats {
	return Stats{L1: h.l1Stats.Snapshot(), L2: h.l2Stats.Snapshot(), L3: h.l3Stats.Snapshot()}
}

func l1Key(service, key string) string {
	return service + ":" + key
}
