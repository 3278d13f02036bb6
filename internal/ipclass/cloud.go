package ipclass

import (
	"bufio"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"
)

// CloudProvider identifies one of the major cloud networks the CloudMatcher
// downloads prefix ranges for.
type CloudProvider struct {
	Name      string
	SourceURL string
}

// CloudMatcher checks IPs against per-provider prefix trees for AWS, Azure,
// GCP, and CloudFlare, refreshed daily. A provider whose download fails is
// simply absent from the merged set; the matcher is usable as long as at
// least one provider loaded.
type CloudMatcher struct {
	*RefreshState

	providers []CloudProvider
	client    *http.Client
	set       *PrefixSet
}

// NewCloudMatcher constructs a cloud matcher across the given providers.
func NewCloudMatcher(providers []CloudProvider, client *http.Client) *CloudMatcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &CloudMatcher{
		RefreshState: NewRefreshState("cloud", 24*time.Hour),
		providers:    providers,
		client:       client,
		set:          NewPrefixSet(nil),
	}
}

// Name identifies this matcher.
func (c *CloudMatcher) Name() string { return "cloud" }

// Match reports a hit when ip falls in any loaded provider's range.
func (c *CloudMatcher) Match(ip netip.Addr, _ int, _ string) (*Match, bool) {
	provider, ok := c.set.Lookup(ip)
	if !ok {
		return nil, false
	}
	return &Match{Provider: provider}, true
}

// Refresh downloads each provider's CIDR list, tolerating individual
// provider failures as long as at least one succeeds.
func (c *CloudMatcher) Refresh() error {
	cidrs := make(map[string]string)
	successes := 0
	var lastErr error

	for _, p := range c.providers {
		n, err := c.fetchProvider(p, cidrs)
		if err != nil {
			lastErr = err
			continue
		}
		if n > 0 {
			successes++
		}
	}

	if successes == 0 {
		if lastErr != nil {
			return fmt.Errorf("ipclass: all cloud providers failed: %w", lastErr)
		}
		return fmt.Errorf("ipclass: no cloud providers configured")
	}

	c.set = NewPrefixSet(cidrs)
	c.MarkRefreshed()
	return nil
}

func (c *CloudMatcher) fetchProvider(p CloudProvider, into map[string]string) (int, error) {
	resp, err := c.client.Get(p.SourceURL)
	if err != nil {
		return 0, fmt.Errorf("ipclass: fetch %s ranges: %w", p.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("ipclass: %s ranges returned %s", p.Name, resp.Status)
	}

	n := 0
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		field := strings.Split(line, ",")[0]
		if _, err := netip.ParsePrefix(field); err != nil {
			continue
		}
		into[field] = p.Name
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("ipclass: scan %s ranges: %w", p.Name, err)
	}
	return n, nil
}
