package enrich

import (
	"log/slog"

	"github.com/smartpixl/forge/internal/record"
	"github.com/ua-parser/uap-go/uaparser"
)

// UAParser decomposes a User-Agent string into browser/OS/device triples.
// Step 2 of the enrichment chain (spec.md §4.3), run regardless of the
// bot-detection outcome so a misclassified bot still yields a
// best-effort browser/OS guess.
type UAParser struct {
	parser *uaparser.Parser
	log    *slog.Logger
}

// NewUAParser loads the regexes.yaml definitions bundled with uap-go at
// regexesPath. Returns an error if the file is missing or malformed;
// callers should treat this as a startup-time failure, not a per-record one.
func NewUAParser(regexesPath string, log *slog.Logger) (*UAParser, error) {
	p, err := uaparser.New(regexesPath)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &UAParser{parser: p, log: log.With("component", "uaparse")}, nil
}

// Apply parses r.UserAgent and appends browser family/version and OS
// family/version. Leaves the record untouched if UserAgent is empty.
func (u *UAParser) Apply(maxLen int, r *record.TrackingRecord) {
	if r.UserAgent == "" {
		return
	}
	client := u.parser.Parse(r.UserAgent)

	r.AppendServer(maxLen, "browser", client.UserAgent.Family)
	r.AppendServer(maxLen, "browserVersion", joinVersion(client.UserAgent.Major, client.UserAgent.Minor, client.UserAgent.Patch))
	r.AppendServer(maxLen, "os", client.Os.Family)
	r.AppendServer(maxLen, "osVersion", joinVersion(client.Os.Major, client.Os.Minor, client.Os.Patch))

	if client.Device.Family != "" && client.Device.Family != "Other" {
		r.AppendServer(maxLen, "deviceFamily", client.Device.Family)
	}
}

func joinVersion(major, minor, patch string) string {
	v := major
	if minor != "" {
		v += "." + minor
	}
	if patch != "" {
		v += "." + patch
	}
	return v
}
