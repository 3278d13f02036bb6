package ipclass

import (
	"net/netip"
	"sync"
	"time"
)

// Classifier runs the priority-ordered matcher pipeline: TOR, then cloud,
// then datacenter, then residential. The first matcher to report a hit
// wins; an IP matching multiple kinds is classified by the
// highest-priority one only.
type Classifier struct {
	tor         Matcher
	cloud       Matcher
	datacenter  Matcher
	residential Matcher

	mu    sync.Mutex
	stats map[IPType]int64
}

// NewClassifier assembles the fixed five-stage pipeline. Any matcher may be
// nil to disable that stage (e.g. in tests).
func NewClassifier(tor, cloud, datacenter, residential Matcher) *Classifier {
	return &Classifier{
		tor:         tor,
		cloud:       cloud,
		datacenter:  datacenter,
		residential: residential,
		stats:       make(map[IPType]int64),
	}
}

// Classify runs ip (plus optional asn/as_name context) through the priority
// pipeline, auto-refreshing any stale matcher along the way.
func (c *Classifier) Classify(ip netip.Addr, asn int, asName string) (Result, error) {
	now := time.Now().UTC()

	stages := []struct {
		matcher Matcher
		ipType  IPType
		source  func(provider string) string
		confidence func(m *Match) float64
	}{
		{c.tor, TypeTOR, func(string) string { return "tor_bulk_list" }, func(*Match) float64 { return 0.95 }},
		{c.cloud, TypeCloud, func(p string) string { return "cloud_ranges_" + p }, func(*Match) float64 { return 0.99 }},
		{c.datacenter, TypeDatacenter, func(string) string { return "datacenter_community_lists" }, func(*Match) float64 { return 0.75 }},
		{c.residential, TypeResidential, func(string) string { return "residential_as_pattern" }, residentialConfidence},
	}

	for _, stage := range stages {
		if stage.matcher == nil {
			continue
		}
		if err := EnsureFresh(stage.matcher); err != nil {
			return Result{}, err
		}
		match, ok := stage.matcher.Match(ip, asn, asName)
		if !ok {
			continue
		}
		result := Result{
			IPType:       stage.ipType,
			Provider:     match.Provider,
			Confidence:   stage.confidence(match),
			Source:       stage.source(match.Provider),
			ClassifiedAt: now,
		}
		c.record(stage.ipType)
		return result, nil
	}

	c.record(TypeUnknown)
	return Result{IPType: TypeUnknown, Confidence: 0, Source: "unknown", ClassifiedAt: now}, nil
}

func residentialConfidence(m *Match) float64 {
	switch m.Metadata["confidence"] {
	case "0.8":
		return 0.8
	case "0.7":
		return 0.7
	default:
		return 0.5
	}
}

func (c *Classifier) record(t IPType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats[t]++
}

// Stats returns per-type classification counters accumulated since
// construction.
func (c *Classifier) Stats() map[IPType]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[IPType]int64, len(c.stats))
	for k, v := range c.stats {
		out[k] = v
	}
	return out
}
