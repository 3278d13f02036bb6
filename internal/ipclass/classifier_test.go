package ipclass_test

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/datagen24/cowrieprocessor/internal/ipclass"
)

// fakeMatcher is a Matcher stub that always reports loaded/fresh and hits
// only for a fixed set of addresses.
type fakeMatcher struct {
	name string
	hits map[string]string // addr -> provider
}

func (f *fakeMatcher) Name() string { return f.name }

func (f *fakeMatcher) Match(ip netip.Addr, _ int, _ string) (*ipclass.Match, bool) {
	provider, ok := f.hits[ip.String()]
	if !ok {
		return nil, false
	}
	return &ipclass.Match{Provider: provider}, true
}

func (f *fakeMatcher) Refresh() error { return nil }
func (f *fakeMatcher) Stale() bool    { return false }
func (f *fakeMatcher) Loaded() bool   { return true }

func TestClassifyPriorityOrder(t *testing.T) {
	overlap := "198.51.100.7" // matches both tor and cloud; tor must win

	tor := &fakeMatcher{name: "tor", hits: map[string]string{overlap: "tor"}}
	cloud := &fakeMatcher{name: "cloud", hits: map[string]string{
		overlap:        "aws",
		"198.51.100.8": "gcp",
	}}
	datacenter := &fakeMatcher{name: "datacenter", hits: map[string]string{"198.51.100.9": "datacenter_community_lists"}}
	residential := ipclass.NewResidentialMatcher()

	c := ipclass.NewClassifier(tor, cloud, datacenter, residential)

	result, err := c.Classify(netip.MustParseAddr(overlap), 0, "")
	require.NoError(t, err)
	require.Equal(t, ipclass.TypeTOR, result.IPType, "TOR must outrank cloud")

	result, err = c.Classify(netip.MustParseAddr("198.51.100.8"), 0, "")
	require.NoError(t, err)
	require.Equal(t, ipclass.TypeCloud, result.IPType)

	result, err = c.Classify(netip.MustParseAddr("198.51.100.9"), 0, "")
	require.NoError(t, err)
	require.Equal(t, ipclass.TypeDatacenter, result.IPType)
}

func TestClassifyResidentialFallback(t *testing.T) {
	c := ipclass.NewClassifier(nil, nil, nil, ipclass.NewResidentialMatcher())

	result, err := c.Classify(netip.MustParseAddr("203.0.113.1"), 0, "Example Telecom Broadband Services")
	require.NoError(t, err)
	require.Equal(t, ipclass.TypeResidential, result.IPType)
	require.Equal(t, 0.8, result.Confidence, "two strong AS-name pattern hits should yield 0.8 confidence")
}

func TestClassifyUnknownWhenNoStageMatches(t *testing.T) {
	c := ipclass.NewClassifier(nil, nil, nil, ipclass.NewResidentialMatcher())

	result, err := c.Classify(netip.MustParseAddr("203.0.113.2"), 0, "")
	require.NoError(t, err)
	require.Equal(t, ipclass.TypeUnknown, result.IPType)
	require.Zero(t, result.Confidence)
}

func TestClassifyStatsAccumulate(t *testing.T) {
	tor := &fakeMatcher{name: "tor", hits: map[string]string{"192.0.2.1": "tor"}}
	c := ipclass.NewClassifier(tor, nil, nil, ipclass.NewResidentialMatcher())

	_, err := c.Classify(netip.MustParseAddr("192.0.2.1"), 0, "")
	require.NoError(t, err)
	_, err = c.Classify(netip.MustParseAddr("192.0.2.2"), 0, "")
	require.NoError(t, err)

	stats := c.Stats()
	require.Equal(t, int64(1), stats[ipclass.TypeTOR])
	require.Equal(t, int64(1), stats[ipclass.TypeUnknown])
}
