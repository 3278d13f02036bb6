package ipclass

import (
	"bufio"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"
)

// TORMatcher checks IPs against the downloaded TOR bulk exit list.
type TORMatcher struct {
	*RefreshState

	sourceURL string
	client    *http.Client
	exits     map[netip.Addr]bool
}

// NewTORMatcher constructs a TOR matcher that refreshes hourly from
// sourceURL (the TOR Project's bulk exit list endpoint).
func NewTORMatcher(sourceURL string, client *http.Client) *TORMatcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &TORMatcher{
		RefreshState: NewRefreshState("tor", time.Hour),
		sourceURL:    sourceURL,
		client:       client,
		exits:        make(map[netip.Addr]bool),
	}
}

// Name identifies this matcher.
func (t *TORMatcher) Name() string { return "tor" }

// Match reports a hit when ip is a known TOR exit node.
func (t *TORMatcher) Match(ip netip.Addr, _ int, _ string) (*Match, bool) {
	if t.exits[ip] {
		return &Match{Provider: "tor"}, true
	}
	return nil, false
}

// Refresh downloads and parses the bulk exit list.
func (t *TORMatcher) Refresh() error {
	resp, err := t.client.Get(t.sourceURL)
	if err != nil {
		return fmt.Errorf("ipclass: fetch tor exit list: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ipclass: tor exit list returned %s", resp.Status)
	}

	exits := make(map[netip.Addr]bool)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addr, err := netip.ParseAddr(line)
		if err != nil {
			continue
		}
		exits[addr] = true
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("ipclass: scan tor exit list: %w", err)
	}

	t.exits = exits
	t.MarkRefreshed()
	return nil
}
