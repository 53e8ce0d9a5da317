package stateful

import (
	"strconv"
	"strings"

	"github.com/smartpixl/forge/internal/record"
)

// arbitrageCheck weighs one locale-consistency signal against the
// IP-derived country. Weights sum to 100 across the seven checks
// (spec.md §4.5.4).
type arbitrageCheck struct {
	Flag   string
	Weight int
	Passes func(r *record.TrackingRecord) bool
}

// countryLanguages is a small seed table of majority languages per
// country code, enough to evaluate the language-consistency check
// without requiring a full locale database.
var countryLanguages = map[string][]string{
	"US": {"en"}, "GB": {"en"}, "CA": {"en", "fr"}, "AU": {"en"},
	"DE": {"de"}, "FR": {"fr"}, "ES": {"es"}, "IT": {"it"},
	"BR": {"pt"}, "PT": {"pt"}, "MX": {"es"}, "JP": {"ja"},
	"CN": {"zh"}, "KR": {"ko"}, "RU": {"ru"}, "NL": {"nl"},
	"SE": {"sv"}, "PL": {"pl"}, "IN": {"en", "hi"},
}

// countryTimezoneOffsets maps a country to its set of standard UTC
// offsets in minutes, for the timezone-consistency check.
var countryTimezoneOffsets = map[string][]int{
	"US": {-480, -420, -360, -300}, "GB": {0}, "DE": {60}, "FR": {60},
	"JP": {540}, "CN": {480}, "IN": {330}, "RU": {180, 600},
	"BR": {-180}, "AU": {480, 570, 600},
}

// Only lang and tz have corresponding query-string fields from the
// edge today; the remaining five checks pass through at full weight
// until the client-side probes that would populate font/calendar/
// number-format/date-format/relative-time signals exist.
var arbitrageTable = []arbitrageCheck{
	{"font", 15, func(r *record.TrackingRecord) bool {
		return true
	}},
	{"lang", 20, func(r *record.TrackingRecord) bool {
		lang, ok := r.Get("lang")
		country, gok := r.Get("_srv_geoCountry")
		if !ok || !gok {
			return true
		}
		langs, known := countryLanguages[country]
		if !known {
			return true
		}
		primary := strings.ToLower(strings.SplitN(lang, "-", 2)[0])
		for _, l := range langs {
			if l == primary {
				return true
			}
		}
		return false
	}},
	{"tz", 20, func(r *record.TrackingRecord) bool {
		offsetStr, ok := r.Get("tzoffset")
		country, gok := r.Get("_srv_geoCountry")
		if !ok || !gok {
			return true
		}
		offsets, known := countryTimezoneOffsets[country]
		if !known {
			return true
		}
		for _, o := range offsets {
			if offsetStr == strconv.Itoa(o) {
				return true
			}
		}
		return false
	}},
	{"calendar", 10, func(r *record.TrackingRecord) bool { return true }},
	{"numberFormat", 10, func(r *record.TrackingRecord) bool { return true }},
	{"dateFormat", 15, func(r *record.TrackingRecord) bool { return true }},
	{"relativeTime", 10, func(r *record.TrackingRecord) bool { return true }},
}

// Arbitrage implements spec.md §4.5.4: scores locale-consistency
// between declared browser signals and the IP-derived country.
type Arbitrage struct{}

// NewArbitrage returns a geographic-arbitrage scorer.
func NewArbitrage() *Arbitrage { return &Arbitrage{} }

// Apply computes a 0-100 consistency score and appends
// _srv_arbitrageScore and, for each failing check, an entry in
// _srv_culturalFlags (comma-separated).
func (a *Arbitrage) Apply(maxLen int, r *record.TrackingRecord) {
	score := 0
	var flags []string
	for _, check := range arbitrageTable {
		if check.Passes(r) {
			score += check.Weight
		} else {
			flags = append(flags, check.Flag)
		}
	}
	r.AppendServerInt(maxLen, "arbitrageScore", int64(score))
	if len(flags) > 0 {
		r.AppendServer(maxLen, "culturalFlags", strings.Join(flags, ","))
	}
}
