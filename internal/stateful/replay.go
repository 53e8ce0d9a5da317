package stateful

import (
	"hash/fnv"
	"strconv"

	"github.com/maypok86/otter"

	"github.com/smartpixl/forge/internal/record"
)

// ReplayGridPixels and ReplayBucketMs are the spatial/temporal
// quantization granularity applied to a mouse-path sample before
// hashing, per spec.md §4.5.6.
const (
	ReplayGridPixels = 10
	ReplayBucketMs   = 100
)

// ReplayIndexSize bounds the hash index so memory stays flat under
// sustained traffic; spec.md §4.5.6 caps it at 100k entries.
const ReplayIndexSize = 100_000

// Replay implements spec.md §4.5.6: quantizes a mouse-movement path,
// hashes it with FNV-1a, and checks whether the same path has been
// seen from a different fingerprint — a strong signal of a scripted
// replay rather than independent human movement.
type Replay struct {
	index *otter.Cache[uint32, string]
}

// NewReplay builds the bounded behavioral-replay hash index.
func NewReplay() (*Replay, error) {
	cache, err := otter.MustBuilder[uint32, string](ReplayIndexSize).Build()
	if err != nil {
		return nil, err
	}
	return &Replay{index: &cache}, nil
}

// QuantizePath reduces a raw "x,y,tMs;x,y,tMs;..." mouse-path sample
// to a coarse grid, so near-identical but not byte-identical paths
// (positions or timings a few units apart) hash to the same bucket.
// Samples that are not three non-negative integers are dropped.
func QuantizePath(rawPath string) string {
	var sb []byte
	for _, field := range splitSamples(rawPath) {
		qx := field.x / ReplayGridPixels
		qy := field.y / ReplayGridPixels
		qt := field.t / ReplayBucketMs
		sb = append(sb, []byte(strconv.Itoa(qx)+","+strconv.Itoa(qy)+","+strconv.Itoa(qt)+";")...)
	}
	return string(sb)
}

type pathSample struct{ x, y, t int }

func splitSamples(raw string) []pathSample {
	var out []pathSample
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ';' {
			if i > start {
				if s, ok := parseSample(raw[start:i]); ok {
					out = append(out, s)
				}
			}
			start = i + 1
		}
	}
	return out
}

func parseSample(field string) (pathSample, bool) {
	var nums [3]int
	idx := 0
	cur := 0
	for i := 0; i <= len(field); i++ {
		if i == len(field) || field[i] == ',' {
			if idx >= 3 {
				return pathSample{}, false
			}
			nums[idx] = cur
			idx++
			cur = 0
			continue
		}
		c := field[i]
		if c < '0' || c > '9' {
			return pathSample{}, false
		}
		cur = cur*10 + int(c-'0')
	}
	if idx != 3 {
		return pathSample{}, false
	}
	return pathSample{x: nums[0], y: nums[1], t: nums[2]}, true
}

// HashPath computes the non-cryptographic FNV-1a hash of a quantized
// path string.
func HashPath(quantized string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(quantized))
	return h.Sum32()
}

// Apply quantizes and hashes rawMousePath, checks it against the index,
// and appends _srv_replayDetected when the same hash was first seen
// under a different fingerprint. A same-fingerprint repeat (a revisit)
// is not flagged.
func (rp *Replay) Apply(maxLen int, r *record.TrackingRecord, rawMousePath, fingerprint string) {
	if rawMousePath == "" || fingerprint == "" {
		return
	}
	quantized := QuantizePath(rawMousePath)
	if quantized == "" {
		return
	}
	hash := HashPath(quantized)

	if seenFingerprint, ok := rp.index.Get(hash); ok {
		if seenFingerprint != fingerprint {
			r.AppendServerBool(maxLen, "replayDetected", true)
		}
		return
	}
	rp.index.Set(hash, fingerprint)
}
