package ipclass

import (
	"fmt"
	"log"
	"net/netip"
	"sync"
	"time"
)

// IPType is the classification result's coarse category.
type IPType string

const (
	TypeTOR         IPType = "tor"
	TypeCloud       IPType = "cloud"
	TypeDatacenter  IPType = "datacenter"
	TypeResidential IPType = "residential"
	TypeUnknown     IPType = "unknown"
)

// Result is the outcome of classifying one IP.
type Result struct {
	IPType       IPType
	Provider     string
	Confidence   float64
	Source       string
	ClassifiedAt time.Time
}

// Match is what a Matcher returns for a hit: the provider name and an
// opaque metadata map (e.g. {"as_pattern": "telecom"}).
type Match struct {
	Provider string
	Metadata map[string]string
}

// Matcher is the interface every network-range or pattern-based classifier
// implements. Replaces a polymorphic base-class hierarchy: the classifier
// holds a priority-ordered list of Matcher values and calls Match on each in
// turn. Lookup-only calls are safe to share across goroutines; Refresh is
// not internally locked and callers must serialize it externally (e.g. one
// refresh goroutine per matcher, guarded by its own mutex as shown in
// RefreshState).
type Matcher interface {
	Name() string
	Match(ip netip.Addr, asn int, asName string) (*Match, bool)
	Refresh() error
	Stale() bool
	Loaded() bool
}

// RefreshState tracks when a matcher last refreshed and how often it should,
// embedded by every concrete matcher.
type RefreshState struct {
	mu             sync.Mutex
	lastUpdate     time.Time
	updateInterval time.Duration
	everLoaded     bool

	log *log.Logger
}

// NewRefreshState returns refresh bookkeeping with the given interval.
func NewRefreshState(name string, interval time.Duration) *RefreshState {
	return &RefreshState{
		updateInterval: interval,
		log:            log.New(log.Writer(), fmt.Sprintf("[ipclass.%s] ", name), log.LstdFlags),
	}
}

// Stale reports whether the data is older than its update interval, or has
// never been loaded.
func (r *RefreshState) Stale() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.everLoaded || time.Since(r.lastUpdate) > r.updateInterval
}

// Loaded reports whether the matcher has ever completed a successful
// refresh.
func (r *RefreshState) Loaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.everLoaded
}

// MarkRefreshed records a successful refresh, called by the concrete
// matcher at the end of its Refresh implementation.
func (r *RefreshState) MarkRefreshed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastUpdate = time.Now()
	r.everLoaded = true
}

// EnsureFresh refreshes a matcher if its data is stale. A failed refresh is
// tolerated (logged, stale data kept) once the matcher has loaded
// successfully at least once; the first load's failure propagates since
// there is nothing to fall back on.
func EnsureFresh(m Matcher) error {
	if !m.Stale() {
		return nil
	}
	if err := m.Refresh(); err != nil {
		if m.Loaded() {
			log.Printf("[ipclass] %s: refresh failed, continuing with stale data: %v", m.Name(), err)
			return nil
		}
		return fmt.Errorf("ipclass: %s: initial load failed: %w", m.Name(), err)
	}
	return nil
}
