package enrich

import (
	"context"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/smartpixl/forge/internal/record"
)

// cloudHostPattern matches a reverse-DNS hostname against a known cloud
// or hosting provider, so traffic originating from a datacenter rather
// than a residential/mobile ISP can be flagged downstream (lead
// scoring, the contradiction matrix and the dead-internet index read
// the result).
type cloudHostPattern struct {
	Provider string
	Pattern  *regexp.Regexp
}

var cloudHostTable = []cloudHostPattern{
	{"AWS", regexp.MustCompile(`(?i)\.compute\.amazonaws\.com$|\.amazonaws\.com$`)},
	{"GCP", regexp.MustCompile(`(?i)\.bc\.googleusercontent\.com$|\.googleusercontent\.com$`)},
	{"Azure", regexp.MustCompile(`(?i)\.cloudapp\.azure\.com$|\.azure\.com$`)},
	{"DigitalOcean", regexp.MustCompile(`(?i)\.digitalocean\.com$`)},
	{"Hetzner", regexp.MustCompile(`(?i)\.hetzner\.(com|de)$`)},
	{"OVH", regexp.MustCompile(`(?i)\.ovh\.(net|com)$`)},
	{"Linode", regexp.MustCompile(`(?i)\.linode\.com$`)},
	{"Cloudflare", regexp.MustCompile(`(?i)\.cloudflare\.com$`)},
	{"Akamai", regexp.MustCompile(`(?i)\.akamai(technologies)?\.com$|\.akamaiedge\.net$`)},
}

// Resolver is the subset of *net.Resolver this package depends on, so
// tests can substitute a fake without touching the network.
type Resolver interface {
	LookupAddr(ctx context.Context, addr string) (names []string, err error)
}

// RDNS performs reverse DNS lookups and classifies the result against
// known cloud/hosting providers. Step 3 of the enrichment chain.
type RDNS struct {
	resolver Resolver
	timeout  time.Duration
}

// NewRDNS returns an RDNS enricher using the given Resolver (pass
// &net.Resolver{} in production) with a bounded per-lookup timeout.
func NewRDNS(resolver Resolver, timeout time.Duration) *RDNS {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RDNS{resolver: resolver, timeout: timeout}
}

// Apply resolves r.IPAddress to a hostname and appends _srv_rdns and,
// when the hostname matches a known provider, _srv_cloudProvider. A
// lookup failure or timeout is silent: rDNS coverage is inherently
// partial and this step must never block the pipeline.
func (e *RDNS) Apply(maxLen int, r *record.TrackingRecord) {
	if r.IPAddress == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	names, err := e.resolver.LookupAddr(ctx, r.IPAddress)
	if err != nil || len(names) == 0 {
		return
	}
	host := strings.TrimSuffix(names[0], ".")
	r.AppendServer(maxLen, "rdns", host)

	for _, cp := range cloudHostTable {
		if cp.Pattern.MatchString(host) {
			r.AppendServer(maxLen, "cloudProvider", cp.Provider)
			r.AppendServerBool(maxLen, "datacenterTraffic", true)
			return
		}
	}
}

var _ Resolver = (*net.Resolver)(nil)
