package stateful

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/smartpixl/forge/internal/clock"
	"github.com/smartpixl/forge/internal/record"
)

// DeadInternetWindow is the rolling window over which hour-buckets are
// kept before eviction.
const DeadInternetWindow = 24 * time.Hour

// DeadInternetIdleEviction drops a customer's entire bucket set after
// this much inactivity.
const DeadInternetIdleEviction = 48 * time.Hour

// DeadInternetMinHits is the minimum TotalHits in-window before an
// index value is computed for a record (spec.md §4.5.7).
const DeadInternetMinHits = 5

// DeadInternetEvictionInterval is how often Evict should be run
// against the process lifecycle, per spec.md §4.5.7.
const DeadInternetEvictionInterval = 10 * time.Minute

type hourBucket struct {
	totalHits         int
	botHits           int
	zeroMouseHits     int
	datacenterHits    int
	contradictionHits int
	replayHits        int
	uniqueFps         map[string]struct{}
}

type deadInternetEntry struct {
	mu         sync.Mutex
	buckets    map[int64]*hourBucket
	lastSeenAt time.Time
}

// DeadInternet implements spec.md §4.5.7: a per-customer rolling
// 24-hour index of how much traffic looks automated or disengaged.
type DeadInternet struct {
	customers *xsync.Map[string, *deadInternetEntry]
	clock     clock.Clock
}

// NewDeadInternet returns a dead-internet index tracker.
func NewDeadInternet(c clock.Clock) *DeadInternet {
	if c == nil {
		c = clock.Real{}
	}
	return &DeadInternet{
		customers: xsync.NewMap[string, *deadInternetEntry](),
		clock:     c,
	}
}

func hourBucketKey(t time.Time) int64 {
	return t.Unix() / 3600
}

// Apply records this record's signals into the current hour-bucket for
// companyID and, once enough hits have accumulated in-window, appends
// _srv_deadInternetIndex (0-100).
func (d *DeadInternet) Apply(maxLen int, r *record.TrackingRecord, companyID, fingerprint string, isBot, zeroMouse, isDatacenter, hasContradiction, isReplay bool) {
	if companyID == "" {
		return
	}
	now := d.clock.Now()
	entry, _ := d.customers.LoadOrStore(companyID, &deadInternetEntry{buckets: make(map[int64]*hourBucket)})

	entry.mu.Lock()
	entry.lastSeenAt = now
	pruneHourBuckets(entry.buckets, now)

	key := hourBucketKey(now)
	b, ok := entry.buckets[key]
	if !ok {
		b = &hourBucket{uniqueFps: make(map[string]struct{})}
		entry.buckets[key] = b
	}
	b.totalHits++
	if isBot {
		b.botHits++
	}
	if zeroMouse {
		b.zeroMouseHits++
	}
	if isDatacenter {
		b.datacenterHits++
	}
	if hasContradiction {
		b.contradictionHits++
	}
	if isReplay {
		b.replayHits++
	}
	if fingerprint != "" {
		b.uniqueFps[fingerprint] = struct{}{}
	}

	var total, botSum, zeroSum, dcSum, contraSum, replaySum int
	uniqueFps := make(map[string]struct{})
	for _, bucket := range entry.buckets {
		total += bucket.totalHits
		botSum += bucket.botHits
		zeroSum += bucket.zeroMouseHits
		dcSum += bucket.datacenterHits
		contraSum += bucket.contradictionHits
		replaySum += bucket.replayHits
		for fp := range bucket.uniqueFps {
			uniqueFps[fp] = struct{}{}
		}
	}
	entry.mu.Unlock()

	if total < DeadInternetMinHits {
		return
	}
	index := computeDeadInternetIndex(total, botSum, zeroSum, dcSum, contraSum, len(uniqueFps))
	r.AppendServerInt(maxLen, "deadInternetIndex", int64(index))
}

func pruneHourBuckets(buckets map[int64]*hourBucket, now time.Time) {
	cutoff := hourBucketKey(now.Add(-DeadInternetWindow))
	for k := range buckets {
		if k < cutoff {
			delete(buckets, k)
		}
	}
}

func computeDeadInternetIndex(total, bot, zeroEngage, datacenter, contradiction, uniqueFps int) int {
	botRatio := ratio(bot, total)
	zeroEngageRatio := ratio(zeroEngage, total)
	datacenterRatio := ratio(datacenter, total)
	contradictionRatio := ratio(contradiction, total)
	fpDiversityRatio := 1 - minFloat(ratio(uniqueFps, total), 1)

	index := 100 * (0.30*botRatio + 0.20*zeroEngageRatio + 0.20*datacenterRatio + 0.15*contradictionRatio + 0.15*fpDiversityRatio)
	rounded := int(index + 0.5)
	if rounded < 0 {
		return 0
	}
	if rounded > 100 {
		return 100
	}
	return rounded
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Evict drops hour-buckets older than the rolling window and entire
// customer entries idle past DeadInternetIdleEviction. Intended to run
// every 10 minutes per spec.md §4.5.7.
func (d *DeadInternet) Evict() int {
	now := d.clock.Now()
	removed := 0
	d.customers.Range(func(key string, entry *deadInternetEntry) bool {
		entry.mu.Lock()
		pruneHourBuckets(entry.buckets, now)
		idle := now.Sub(entry.lastSeenAt) > DeadInternetIdleEviction
		entry.mu.Unlock()
		if idle {
			d.customers.Delete(key)
			removed++
		}
		return true
	})
	return removed
}
