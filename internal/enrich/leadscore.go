package enrich

import (
	"strings"

	"github.com/smartpixl/forge/internal/record"
	"github.com/smartpixl/forge/internal/stateful"
)

// leadScoreSessionDurationThreshold is the minimum session age (signal
// 4, spec.md §4.4.8) a record must exceed to count as engaged.
const leadScoreSessionDurationThreshold = 10 // seconds

// leadScoreMouseEntropyMin/Max bound the "human-range" mouse-movement
// count a scripted client is unlikely to reproduce: too few points
// looks like a single synthetic event, too many looks like a replayed
// or generated path.
const (
	leadScoreMouseEntropyMin = 3
	leadScoreMouseEntropyMax = 2000
)

// leadScoreWeights are the nine signal weights from spec.md §4.4.8,
// tuned to sum to 100 so the total needs no normalization.
const (
	leadScoreWeightMouse         = 20 // presence of mouse movement
	leadScoreWeightKeyboard      = 10 // presence of keyboard activity
	leadScoreWeightScroll        = 5  // non-zero scroll
	leadScoreWeightDuration      = 10 // session duration > threshold
	leadScoreWeightMultiPage     = 5  // multi-page session
	leadScoreWeightLocaleMatch   = 15 // timezone/IP-country match
	leadScoreWeightNoContradict  = 20 // zero contradictions
	leadScoreWeightNonCloudHost  = 10 // non-cloud hostname
	leadScoreWeightMouseEntropy  = 5  // human-range mouse entropy
)

// LeadScore combines nine weighted behavioral signals into a single
// 0-100 lead-quality score (spec.md §4.4.8), the final step of the
// enrichment chain. Plain arithmetic over already-appended fields,
// matching affluence.go's reasoning for staying on the standard
// library; the only non-trivial piece (quantizing a mouse path for the
// entropy signal) reuses stateful.QuantizePath rather than
// reimplementing it.
type LeadScore struct{}

// NewLeadScore returns a stateless lead-quality scorer.
func NewLeadScore() *LeadScore { return &LeadScore{} }

// Apply reads the signals appended by earlier steps and appends
// _srv_leadScore. A known bot always scores 0, regardless of the nine
// signals below.
func (l *LeadScore) Apply(maxLen int, r *record.TrackingRecord) {
	if v, ok := r.Get("_srv_knownBot"); ok && v == "1" {
		r.AppendServerInt(maxLen, "leadScore", 0)
		return
	}

	score := 0
	if hasServerBoolSet(r, "_srv_hasMouse") {
		score += leadScoreWeightMouse
	}
	if hasServerBoolSet(r, "_srv_hasKeyboard") {
		score += leadScoreWeightKeyboard
	}
	if hasNonZeroScroll(r) {
		score += leadScoreWeightScroll
	}
	if n, ok := queryInt(r, "_srv_sessionDurationSec"); ok && n > leadScoreSessionDurationThreshold {
		score += leadScoreWeightDuration
	}
	if n, ok := queryInt(r, "_srv_sessionPages"); ok && n > 1 {
		score += leadScoreWeightMultiPage
	}
	if localeMatchesIPCountry(r) {
		score += leadScoreWeightLocaleMatch
	}
	if n, ok := queryInt(r, "_srv_contradictions"); ok && n == 0 {
		score += leadScoreWeightNoContradict
	}
	if !r.HasServer("cloudProvider") {
		score += leadScoreWeightNonCloudHost
	}
	if hasHumanRangeMouseEntropy(r) {
		score += leadScoreWeightMouseEntropy
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	r.AppendServerInt(maxLen, "leadScore", int64(score))
}

func hasServerBoolSet(r *record.TrackingRecord, key string) bool {
	v, ok := r.Get(key)
	return ok && v == "1"
}

func hasNonZeroScroll(r *record.TrackingRecord) bool {
	n, ok := queryInt(r, "scroll")
	return ok && n > 0
}

// localeMatchesIPCountry reuses the geographic-arbitrage output
// (signal 6): a match requires an IP-derived country and the
// arbitrage tz check not to have failed.
func localeMatchesIPCountry(r *record.TrackingRecord) bool {
	if !r.HasServer("geoCountry") {
		return false
	}
	flags, _ := r.Get("_srv_culturalFlags")
	for _, f := range strings.Split(flags, ",") {
		if f == "tz" {
			return false
		}
	}
	return true
}

// hasHumanRangeMouseEntropy prefers the quantized mouse-path ("mp")
// sample when present, counting distinct quantized points as a coarse
// entropy proxy; falling back to the raw movement count when only that
// is available.
func hasHumanRangeMouseEntropy(r *record.TrackingRecord) bool {
	if mp, ok := r.Get("mp"); ok && mp != "" {
		quantized := stateful.QuantizePath(mp)
		distinct := make(map[string]struct{})
		for _, point := range strings.Split(quantized, ";") {
			if point != "" {
				distinct[point] = struct{}{}
			}
		}
		n := len(distinct)
		return n >= leadScoreMouseEntropyMin && n <= leadScoreMouseEntropyMax
	}
	if n, ok := queryInt(r, "mouseMoves"); ok {
		return n >= leadScoreMouseEntropyMin && n <= leadScoreMouseEntropyMax
	}
	return false
}
