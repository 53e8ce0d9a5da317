package enrich

import "github.com/smartpixl/forge/internal/record"

// ClientSignals derives the raw presence flags several later steps
// depend on (the contradiction matrix, lead scoring): whether the
// client reported any mouse
// movement or keyboard activity at all. Grouped with the other
// device-signal parsing (step 2, alongside uaparse.go) since it reads
// the same raw edge-supplied fields rather than anything appended by a
// later step.
type ClientSignals struct{}

// NewClientSignals returns a stateless client-signal flag extractor.
func NewClientSignals() *ClientSignals { return &ClientSignals{} }

// Apply appends _srv_hasMouse when the mouseMoves count (or a raw
// mouse-path sample) is non-empty/non-zero, and _srv_hasKeyboard when
// the keyPresses count is non-zero.
func (c *ClientSignals) Apply(maxLen int, r *record.TrackingRecord) {
	if hasNonZeroMouseActivity(r) {
		r.AppendServerBool(maxLen, "hasMouse", true)
	}
	if n, ok := queryInt(r, "keyPresses"); ok && n > 0 {
		r.AppendServerBool(maxLen, "hasKeyboard", true)
	}
}

func hasNonZeroMouseActivity(r *record.TrackingRecord) bool {
	if n, ok := queryInt(r, "mouseMoves"); ok {
		return n > 0
	}
	mp, ok := r.Get("mp")
	return ok && mp != ""
}
