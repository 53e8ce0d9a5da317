package stateful

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/smartpixl/forge/internal/clock"
	"github.com/smartpixl/forge/internal/record"
)

// CrossCustomerWindow is the sliding window over which hits are kept
// and distinct companies counted.
const CrossCustomerWindow = 2 * time.Hour

// CrossCustomerAlertWindow is the shorter window used for the
// multi-company alert check.
const CrossCustomerAlertWindow = 5 * time.Minute

// CrossCustomerAlertThreshold is the distinct-company count within
// CrossCustomerAlertWindow that triggers _srv_crossCustAlert.
const CrossCustomerAlertThreshold = 3

// CrossCustomerEvictionInterval is how often Evict should be run
// against the process lifecycle, per spec.md §4.5.2.
const CrossCustomerEvictionInterval = 5 * time.Minute

type crossCustHit struct {
	companyID string
	at        time.Time
}

type crossCustEntry struct {
	mu   sync.Mutex
	hits []crossCustHit
}

// CrossCustomer implements spec.md §4.5.2: tracks, per (IP,
// fingerprint hash), how many distinct companies have observed this
// visitor recently — a signal for traffic being resold or scraped
// across customers.
type CrossCustomer struct {
	entries *xsync.Map[string, *crossCustEntry]
	clock   clock.Clock
}

// NewCrossCustomer returns a cross-customer intel tracker.
func NewCrossCustomer(c clock.Clock) *CrossCustomer {
	if c == nil {
		c = clock.Real{}
	}
	return &CrossCustomer{
		entries: xsync.NewMap[string, *crossCustEntry](),
		clock:   c,
	}
}

func crossCustKey(ip, fingerprintHash string) string {
	return ip + "|" + fingerprintHash
}

// Apply records a hit for (ip, fingerprintHash, companyID) and appends
// _srv_crossCustHits, _srv_crossCustWindow=5, and, when the alert
// threshold trips, _srv_crossCustAlert.
func (c *CrossCustomer) Apply(maxLen int, r *record.TrackingRecord, ip, fingerprintHash, companyID string) {
	if ip == "" || fingerprintHash == "" {
		return
	}
	now := c.clock.Now()
	key := crossCustKey(ip, fingerprintHash)

	entry, _ := c.entries.LoadOrStore(key, &crossCustEntry{})

	entry.mu.Lock()
	entry.hits = append(entry.hits, crossCustHit{companyID: companyID, at: now})
	entry.hits = pruneOlderThan(entry.hits, now, CrossCustomerWindow)

	distinct := make(map[string]struct{})
	distinctRecent := make(map[string]struct{})
	for _, h := range entry.hits {
		distinct[h.companyID] = struct{}{}
		if now.Sub(h.at) <= CrossCustomerAlertWindow {
			distinctRecent[h.companyID] = struct{}{}
		}
	}
	distinctCount := len(distinct)
	alert := len(distinctRecent) >= CrossCustomerAlertThreshold
	entry.mu.Unlock()

	r.AppendServerInt(maxLen, "crossCustHits", int64(distinctCount))
	r.AppendServer(maxLen, "crossCustWindow", "5")
	r.AppendServerBool(maxLen, "crossCustAlert", alert)
}

func pruneOlderThan(hits []crossCustHit, now time.Time, window time.Duration) []crossCustHit {
	out := hits[:0]
	for _, h := range hits {
		if now.Sub(h.at) <= window {
			out = append(out, h)
		}
	}
	return out
}

// Evict drops entries whose hit list is empty after pruning. Intended
// to run every 5 minutes per spec.md §4.5.2.
func (c *CrossCustomer) Evict() int {
	now := c.clock.Now()
	removed := 0
	c.entries.Range(func(key string, entry *crossCustEntry) bool {
		entry.mu.Lock()
		entry.hits = pruneOlderThan(entry.hits, now, CrossCustomerWindow)
		empty := len(entry.hits) == 0
		entry.mu.Unlock()
		if empty {
			c.entries.Delete(key)
			removed++
		}
		return true
	})
	return removed
}
