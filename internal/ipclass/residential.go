package ipclass

import (
	"net/netip"
	"regexp"
)

var residentialStrongPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)telecom`),
	regexp.MustCompile(`(?i)broadband`),
	regexp.MustCompile(`(?i)cable`),
	regexp.MustCompile(`(?i)mobile`),
	regexp.MustCompile(`(?i)\bdsl\b`),
	regexp.MustCompile(`(?i)fiber`),
}

var residentialWeakPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)wireless`),
	regexp.MustCompile(`(?i)isp\b`),
	regexp.MustCompile(`(?i)home`),
}

var residentialExclusions = []*regexp.Regexp{
	regexp.MustCompile(`(?i)hosting`),
	regexp.MustCompile(`(?i)datacenter`),
	regexp.MustCompile(`(?i)data center`),
	regexp.MustCompile(`(?i)cloud`),
	regexp.MustCompile(`(?i)\bcdn\b`),
	regexp.MustCompile(`(?i)colo`),
}

// ResidentialMatcher classifies IPs by regex patterns over the AS name
// rather than a downloaded prefix list; it never goes stale since it has no
// external data source.
type ResidentialMatcher struct{}

// NewResidentialMatcher returns a stateless AS-name pattern matcher.
func NewResidentialMatcher() *ResidentialMatcher {
	return &ResidentialMatcher{}
}

// Name identifies this matcher.
func (r *ResidentialMatcher) Name() string { return "residential" }

// Refresh is a no-op; there is no external data to refresh.
func (r *ResidentialMatcher) Refresh() error { return nil }

// Stale is always false: pattern matching needs no refresh.
func (r *ResidentialMatcher) Stale() bool { return false }

// Loaded is always true: the patterns are compiled at init.
func (r *ResidentialMatcher) Loaded() bool { return true }

// Match classifies by asName, excluding hosting/datacenter/cloud/CDN/colo
// terms even when a residential keyword also appears.
func (r *ResidentialMatcher) Match(_ netip.Addr, _ int, asName string) (*Match, bool) {
	if asName == "" {
		return nil, false
	}
	for _, excl := range residentialExclusions {
		if excl.MatchString(asName) {
			return nil, false
		}
	}

	strongHits := 0
	for _, p := range residentialStrongPatterns {
		if p.MatchString(asName) {
			strongHits++
		}
	}
	if strongHits >= 2 {
		return &Match{Provider: "residential", Metadata: map[string]string{"confidence": "0.8"}}, true
	}
	if strongHits == 1 {
		return &Match{Provider: "residential", Metadata: map[string]string{"confidence": "0.7"}}, true
	}

	for _, p := range residentialWeakPatterns {
		if p.MatchString(asName) {
			return &Match{Provider: "residential", Metadata: map[string]string{"confidence": "0.5"}}, true
		}
	}

	return nil, false
}
