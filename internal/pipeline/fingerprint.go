package pipeline

import (
	"hash/fnv"
	"strconv"

	"github.com/smartpixl/forge/internal/record"
)

// Fingerprint computes a stable device fingerprint from the
// client-supplied signals least likely to change across a visit:
// platform, screen resolution, timezone offset, language, GPU renderer,
// and the User-Agent string. This is
// intentionally coarse — the same physical device should hash
// identically across requests within a session, which is what the
// session stitcher and cross-customer tracker both rely on.
func Fingerprint(r *record.TrackingRecord) string {
	h := fnv.New64a()
	for _, key := range []string{"platform", "sw", "sh", "tzoffset", "lang", "gpu"} {
		v, _ := r.Get(key)
		_, _ = h.Write([]byte(key))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(v))
		_, _ = h.Write([]byte{0})
	}
	_, _ = h.Write([]byte(r.UserAgent))
	return strconv.FormatUint(h.Sum64(), 16)
}
