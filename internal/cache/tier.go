// Package cache implements the three-tier enrichment cache: an in-process
// or Redis-backed L1, the relational L2 (internal/storage.L2Cache), and a
// filesystem-backed L3, orchestrated by HybridCache with read-down/backfill-up
// and write-through semantics.
package cache

import (
	"sync"
	"time"
)

// TierStats tracks per-tier counters feeding the telemetry emitter.
type TierStats struct {
	mu sync.Mutex

	Hits    int64
	Misses  int64
	Stores  int64
	Errors  int64
	Latency time.Duration
}

func (s *TierStats) recordHit(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Hits++
	s.Latency += d
}

func (s *TierStats) recordMiss(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Misses++
	s.Latency += d
}

func (s *TierStats) recordStore() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stores++
}

func (s *TierStats) recordError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Errors++
}

// Snapshot returns a copy of the current counters, safe to read concurrently.
func (s *TierStats) Snapshot() TierStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return TierStats{Hits: s.Hits, Misses: s.Misses, Stores: s.Stores, Errors: s.Errors, Latency: s.Latency}
}

// HitRate returns hits / (hits + misses), or 0 when there have been no reads.
func (s TierStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// ipTypeTTLs are the per-IP-type short TTLs applied at L1.
var ipTypeTTLs = map[string]time.Duration{
	"tor":         time.Hour,
	"cloud":       24 * time.Hour,
	"datacenter":  24 * time.Hour,
	"residential": 24 * time.Hour,
	"unknown":     time.Hour,
}

// L1TTLFor returns the short TTL for a given IP classification, falling
// back to the 1-hour default for unrecognized types.
func L1TTLFor(ipType string) time.Duration {
	if ttl, ok := ipTypeTTLs[ipType]; ok {
		return ttl
	}
	return time.Hour
}

// serviceL2TTLs are the per-service medium TTL overrides applied at L2.
var serviceL2TTLs = map[string]time.Duration{
	"virustotal":      30 * 24 * time.Hour,
	"dshield":         7 * 24 * time.Hour,
	"urlhaus":         3 * 24 * time.Hour,
	"spur":            7 * 24 * time.Hour,
	"hibp":            90 * 24 * time.Hour,
	"ip_classification": 7 * 24 * time.Hour,
}

// L2TTLFor returns the medium TTL for a service, falling back to the 30-day
// default.
func L2TTLFor(service string) time.Duration {
	if ttl, ok := serviceL2TTLs[service]; ok {
		return ttl
	}
	return 30 * 24 * time.Hour
}

// l3TTL is the long TTL applied uniformly at L3.
const l3TTL = 30 * 24 * time.Hour
