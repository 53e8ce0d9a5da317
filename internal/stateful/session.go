// Package stateful implements the cross-request enrichment services
// (spec.md §4.5): session stitching, cross-customer intel, geographic
// arbitrage, device-age estimation, behavioral-replay detection, and
// the dead-internet index, plus the contradiction matrix. The services
// with per-key state (session, cross-customer, dead-internet) serialize
// mutation with an xsync.Map plus an entry-embedded mutex, the replay
// index is a concurrent-safe otter cache, and arbitrage, device-age and
// contradiction hold no state, so the pipeline may be sharded across N
// parallel workers without further synchronization (spec.md §4.3).
package stateful

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/smartpixl/forge/internal/clock"
	"github.com/smartpixl/forge/internal/record"
)

// SessionTimeout is the inactivity window after which a session entry
// is considered ended; a hit arriving after this gap starts a new
// session under the same fingerprint.
const SessionTimeout = 30 * time.Minute

// SessionEvictionInterval is how often the eviction sweep runs.
const SessionEvictionInterval = 2 * time.Minute

type sessionEntry struct {
	mu         sync.Mutex
	sessionID  string
	startedAt  time.Time
	lastHitAt  time.Time
	hitCount   int
	pages      map[string]struct{}
}

// SessionStitcher implements spec.md §4.5.1.
type SessionStitcher struct {
	sessions *xsync.Map[string, *sessionEntry]
	clock    clock.Clock
	newID    func() string
}

// NewSessionStitcher returns a session stitcher. newID mints a stable
// opaque session ID (production wiring passes uuid.NewString).
func NewSessionStitcher(c clock.Clock, newID func() string) *SessionStitcher {
	if c == nil {
		c = clock.Real{}
	}
	return &SessionStitcher{
		sessions: xsync.NewMap[string, *sessionEntry](),
		clock:    c,
		newID:    newID,
	}
}

// Apply looks up or creates the session for fingerprint, updates its
// hit count and page set, and appends _srv_sessionId,
// _srv_sessionHitNum, _srv_sessionDurationSec, _srv_sessionPages.
func (s *SessionStitcher) Apply(maxLen int, r *record.TrackingRecord, fingerprint, pagePath string) {
	if fingerprint == "" {
		return
	}
	now := s.clock.Now()

	entry, _ := s.sessions.LoadOrStore(fingerprint, &sessionEntry{
		sessionID: s.newID(),
		startedAt: now,
		pages:     make(map[string]struct{}),
	})

	entry.mu.Lock()
	if !entry.lastHitAt.IsZero() && now.Sub(entry.lastHitAt) > SessionTimeout {
		entry.sessionID = s.newID()
		entry.startedAt = now
		entry.hitCount = 0
		entry.pages = make(map[string]struct{})
	}
	entry.hitCount++
	entry.lastHitAt = now
	if pagePath != "" {
		entry.pages[pagePath] = struct{}{}
	}
	sessionID := entry.sessionID
	hitCount := entry.hitCount
	durationSec := int64(now.Sub(entry.startedAt).Seconds())
	pageCount := len(entry.pages)
	entry.mu.Unlock()

	r.AppendServer(maxLen, "sessionId", sessionID)
	r.AppendServerInt(maxLen, "sessionHitNum", int64(hitCount))
	r.AppendServerInt(maxLen, "sessionDurationSec", durationSec)
	r.AppendServerInt(maxLen, "sessionPages", int64(pageCount))
}

// Evict removes session entries idle past SessionTimeout. cmd/forge
// runs it every SessionEvictionInterval from its runEvictLoop.
func (s *SessionStitcher) Evict() int {
	now := s.clock.Now()
	removed := 0
	s.sessions.Range(func(key string, entry *sessionEntry) bool {
		entry.mu.Lock()
		expired := now.Sub(entry.lastHitAt) > SessionTimeout
		entry.mu.Unlock()
		if expired {
			s.sessions.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// Count returns the number of tracked sessions, for diagnostics.
func (s *SessionStitcher) Count() int {
	return s.sessions.Size()
}
