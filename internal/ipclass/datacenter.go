package ipclass

import (
	"bufio"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"
)

// DatacenterMatcher checks IPs against a community-maintained hosting/
// datacenter prefix list, refreshed weekly.
type DatacenterMatcher struct {
	*RefreshState

	sourceURL string
	client    *http.Client
	set       *PrefixSet
}

// NewDatacenterMatcher constructs a matcher backed by a single CSV source.
func NewDatacenterMatcher(sourceURL string, client *http.Client) *DatacenterMatcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &DatacenterMatcher{
		RefreshState: NewRefreshState("datacenter", 7*24*time.Hour),
		sourceURL:    sourceURL,
		client:       client,
		set:          NewPrefixSet(nil),
	}
}

// Name identifies this matcher.
func (d *DatacenterMatcher) Name() string { return "datacenter" }

// Match reports a hit when ip falls in the loaded hosting range set.
func (d *DatacenterMatcher) Match(ip netip.Addr, _ int, _ string) (*Match, bool) {
	provider, ok := d.set.Lookup(ip)
	if !ok {
		return nil, false
	}
	return &Match{Provider: provider}, true
}

// Refresh downloads and parses the community hosting-range CSV.
func (d *DatacenterMatcher) Refresh() error {
	resp, err := d.client.Get(d.sourceURL)
	if err != nil {
		return fmt.Errorf("ipclass: fetch datacenter ranges: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ipclass: datacenter ranges returned %s", resp.Status)
	}

	cidrs := make(map[string]string)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ",")
		cidr := strings.TrimSpace(fields[0])
		provider := "datacenter_community_lists"
		if len(fields) > 1 {
			provider = strings.TrimSpace(fields[1])
		}
		if _, err := netip.ParsePrefix(cidr); err != nil {
			continue
		}
		cidrs[cidr] = provider
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("ipclass: scan datacenter ranges: %w", err)
	}
	if len(cidrs) == 0 {
		return fmt.Errorf("ipclass: datacenter ranges source returned no entries")
	}

	d.set = NewPrefixSet(cidrs)
	d.MarkRefreshed()
	return nil
}
