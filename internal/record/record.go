// Package record defines the TrackingRecord, the unit of work that
// flows from the edge through the enrichment pipeline to the bulk
// writer.
package record

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// MaxQueryStringLen is the hard cap spec.md §9 asks implementations to
// enforce beyond the platform's 16KB HTTP limit observed at the edge.
// Overridable by the pipeline's configured limit; this is the default.
const MaxQueryStringLen = 32 * 1024

// ServerKeyPrefix marks every key an enrichment step appends, as
// opposed to a client-supplied field.
const ServerKeyPrefix = "_srv_"

// TrackingRecord is the unit of work traversing the pipeline. It is
// immutable except for QueryString, which only ever grows by appending
// "_srv_*" key/value pairs — ReceivedAt is never overwritten and no
// step may delete or overwrite another step's keys.
type TrackingRecord struct {
	CompanyID   string    `json:"CompanyID"`
	PixelID     string    `json:"PiXLID"`
	IPAddress   string    `json:"IPAddress"`
	UserAgent   string    `json:"UserAgent"`
	Referer     string    `json:"Referer"`
	QueryString string    `json:"QueryString"`
	RequestPath string    `json:"RequestPath"`
	HeadersJson string    `json:"HeadersJson"`
	ReceivedAt  time.Time `json:"ReceivedAt"`

	// Truncated is set by AppendServer when a write would exceed the
	// configured QueryString cap; the write is dropped and this flag
	// lets the pipeline log a single truncation warning per record.
	Truncated bool `json:"-"`
}

// Decode parses a single newline-delimited JSON line into a
// TrackingRecord, per the wire format in spec.md §6.1/§6.2.
func Decode(line []byte) (*TrackingRecord, error) {
	var r TrackingRecord
	if err := json.Unmarshal(line, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Keys returns the set of "k" names present in QueryString, both
// client-supplied and "_srv_*", by splitting on "&" and "=". Used by
// tests asserting the strict-superset invariant (spec.md §8, property 3).
func (r *TrackingRecord) Keys() map[string]struct{} {
	keys := make(map[string]struct{})
	for _, pair := range strings.Split(r.QueryString, "&") {
		if pair == "" {
			continue
		}
		k := pair
		if idx := strings.IndexByte(pair, '='); idx >= 0 {
			k = pair[:idx]
		}
		keys[k] = struct{}{}
	}
	return keys
}

// Get returns the decoded value of a single key in QueryString, or
// ("", false) if absent. Linear scan — QueryString is small (≤32KB)
// and this is called a bounded number of times per record.
func (r *TrackingRecord) Get(key string) (string, bool) {
	for _, pair := range strings.Split(r.QueryString, "&") {
		if pair == "" {
			continue
		}
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			continue
		}
		if pair[:idx] != key {
			continue
		}
		v, err := url.QueryUnescape(pair[idx+1:])
		if err != nil {
			return pair[idx+1:], true
		}
		return v, true
	}
	return "", false
}

// HasServer reports whether a "_srv_*" key has already been written,
// so a step can respect "must not overwrite a later step's keys" by
// checking for a key no earlier step should have produced.
func (r *TrackingRecord) HasServer(key string) bool {
	_, ok := r.Get(ServerKeyPrefix + key)
	return ok
}

// AppendServer appends a single "_srv_<key>=<urlencoded value>" pair.
// maxLen is the caller-supplied cap (the pipeline threads its
// configured Pipeline.MaxQueryStringLen through); a write that would
// exceed it is dropped and Truncated is set instead of growing the
// record unboundedly under pathological input, per spec.md §9.
func (r *TrackingRecord) AppendServer(maxLen int, key, value string) {
	if maxLen <= 0 {
		maxLen = MaxQueryStringLen
	}
	pair := ServerKeyPrefix + key + "=" + url.QueryEscape(value) + "&"
	if r.QueryString != "" && !strings.HasSuffix(r.QueryString, "&") {
		pair = "&" + pair
	}
	if len(r.QueryString)+len(pair) > maxLen {
		r.Truncated = true
		return
	}
	r.QueryString += pair
}

// AppendServerInt is a convenience wrapper for integer-valued fields.
func (r *TrackingRecord) AppendServerInt(maxLen int, key string, value int64) {
	r.AppendServer(maxLen, key, strconv.FormatInt(value, 10))
}

// AppendServerBool appends "1" for true and omits the key entirely for
// false, matching spec.md's examples ("_srv_knownBot=1" only appears
// when the record is in fact a bot).
func (r *TrackingRecord) AppendServerBool(maxLen int, key string, value bool) {
	if value {
		r.AppendServer(maxLen, key, "1")
	}
}
