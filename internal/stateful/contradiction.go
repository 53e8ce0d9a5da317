package stateful

import (
	"strconv"
	"strings"

	"github.com/smartpixl/forge/internal/record"
)

// contradictionSeverity tiers a rule by how implausible its trigger is.
type contradictionSeverity int

const (
	severityImpossible contradictionSeverity = iota
	severityImprobable
	severitySuspicious
)

type contradictionRule struct {
	ID       string
	Severity contradictionSeverity
	Check    func(r *record.TrackingRecord) bool
}

func queryHas(r *record.TrackingRecord, key, value string) bool {
	v, ok := r.Get(key)
	return ok && v == value
}

func queryContains(r *record.TrackingRecord, key, substr string) bool {
	v, ok := r.Get(key)
	return ok && strings.Contains(strings.ToLower(v), strings.ToLower(substr))
}

// contradictionTable holds the 13 fixed rules from spec.md §4.5.3: 7
// IMPOSSIBLE, 3 IMPROBABLE, 3 SUSPICIOUS.
var contradictionTable = []contradictionRule{
	{"C01", severityImpossible, func(r *record.TrackingRecord) bool {
		return queryContains(r, "ua", "mobile") && queryHas(r, "_srv_hasMouse", "1") && screenIsAtLeast4K(r)
	}},
	{"C02", severityImpossible, func(r *record.TrackingRecord) bool {
		return queryContains(r, "platform", "iphone") && queryContains(r, "cores", "32")
	}},
	{"C03", severityImpossible, func(r *record.TrackingRecord) bool {
		return queryHas(r, "_srv_knownBot", "1") && queryHas(r, "_srv_hasKeyboard", "1")
	}},
	{"C04", severityImpossible, func(r *record.TrackingRecord) bool {
		return queryContains(r, "ua", "android") && queryContains(r, "gpu", "apple m")
	}},
	{"C05", severityImpossible, func(r *record.TrackingRecord) bool {
		return queryHas(r, "touch", "0") && queryContains(r, "ua", "iphone")
	}},
	{"C06", severityImpossible, func(r *record.TrackingRecord) bool {
		return queryContains(r, "ua", "windows") && queryContains(r, "platform", "macintel")
	}},
	{"C07", severityImpossible, func(r *record.TrackingRecord) bool {
		return queryHas(r, "_srv_datacenterTraffic", "1") && queryHas(r, "_srv_hasKeyboard", "1") && queryHas(r, "_srv_hasMouse", "1")
	}},
	{"C08", severityImprobable, func(r *record.TrackingRecord) bool {
		return screenIsAtLeast4K(r) && queryContains(r, "mem", "1")
	}},
	{"C09", severityImprobable, func(r *record.TrackingRecord) bool {
		return queryHas(r, "_srv_sessionHitNum", "1") && queryContains(r, "referer", "")
	}},
	{"C10", severityImprobable, func(r *record.TrackingRecord) bool {
		return queryContains(r, "lang", "zh") && queryHas(r, "_srv_geoCountry", "US")
	}},
	{"C11", severitySuspicious, func(r *record.TrackingRecord) bool {
		return r.HasServer("cloudProvider") && queryHas(r, "_srv_hasMouse", "1")
	}},
	{"C12", severitySuspicious, func(r *record.TrackingRecord) bool {
		return queryContains(r, "tz", "utc") && r.HasServer("geoCountry")
	}},
	{"C13", severitySuspicious, func(r *record.TrackingRecord) bool {
		return queryHas(r, "_srv_botName", "HeadlessChrome")
	}},
}

func screenIsAtLeast4K(r *record.TrackingRecord) bool {
	w, ok := r.Get("sw")
	if !ok {
		return false
	}
	n, err := strconv.Atoi(w)
	return err == nil && n >= 3840
}

// Contradiction implements spec.md §4.5.3. Stateless by nature — it
// evaluates a fixed rule set over the record's current fields — but
// kept in this package because the spec groups it with the stateful
// services (it runs between the stateful session/cross-customer steps
// and the stateful replay/dead-internet steps in the fixed chain).
type Contradiction struct{}

// NewContradiction returns a contradiction-matrix evaluator.
func NewContradiction() *Contradiction { return &Contradiction{} }

// Apply evaluates all 13 rules and appends _srv_contradictions (the
// match count) and _srv_contradictionRules (comma-separated rule IDs).
func (c *Contradiction) Apply(maxLen int, r *record.TrackingRecord) {
	var matched []string
	for _, rule := range contradictionTable {
		if rule.Check(r) {
			matched = append(matched, rule.ID)
		}
	}
	r.AppendServerInt(maxLen, "contradictions", int64(len(matched)))
	if len(matched) > 0 {
		r.AppendServer(maxLen, "contradictionRules", strings.Join(matched, ","))
	}
}
