package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/maypok86/otter"

	"github.com/smartpixl/forge/internal/record"
	"github.com/smartpixl/forge/internal/storage"
	"github.com/smartpixl/forge/pkg/ratelimit"
)

// geoCacheStore is the subset of *storage.Store this enricher persists
// the known-IP cache through, so tests can substitute a fake.
type geoCacheStore interface {
	StreamKnownIPs(ctx context.Context, fn func(storage.KnownIP)) error
	UpsertGeoCache(ctx context.Context, ip, affluence, isp string, seenAt time.Time) error
}

// geoAPIResponse is the subset of the external geo API's response body
// this enricher consumes.
type geoAPIResponse struct {
	Affluence string `json:"affluence"`
	ISP       string `json:"isp"`
}

// GeoAPI calls the external geo-enrichment service for IPs the offline
// MaxMind lookup could not resolve to the confidence the spec requires,
// rate-limited and backed by a bounded, TTL'd cache of already-seen IPs
// so the ≤28.5 req/min ceiling (spec.md §6.4) is never exceeded under
// repeat traffic from the same address. Step 5 of the enrichment chain.
type GeoAPI struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	cache      *otter.Cache[string, geoAPIResponse]
	store      geoCacheStore
	log        *slog.Logger
}

// NewGeoAPI builds a GeoAPI enricher. minInterval enforces the external
// service's rate ceiling (e.g. 60s/28.5 ≈ 2105ms between calls);
// knownIPTTL bounds how long a cache hit is trusted before the IP is
// re-queried. When store is non-nil, the cache is seeded at startup by
// streaming IpApiCache (spec.md §9, "known-IP cache at startup") and
// every successful external lookup is persisted back via MERGE so the
// cache survives a restart.
func NewGeoAPI(ctx context.Context, baseURL, apiKey string, minInterval time.Duration, knownIPTTL time.Duration, store geoCacheStore, log *slog.Logger) (*GeoAPI, error) {
	cache, err := otter.MustBuilder[string, geoAPIResponse](100_000).
		WithTTL(knownIPTTL).
		Build()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	g := &GeoAPI{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 3 * time.Second},
		limiter:    ratelimit.New(minInterval),
		cache:      &cache,
		store:      store,
		log:        log.With("component", "geoapi"),
	}
	if store != nil {
		if err := g.seedKnownIPs(ctx); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// seedKnownIPs streams the persisted known-IP set into the in-memory
// cache so a restart doesn't re-query the external service for IPs
// already seen, per spec.md §9.
func (g *GeoAPI) seedKnownIPs(ctx context.Context) error {
	n := 0
	err := g.store.StreamKnownIPs(ctx, func(k storage.KnownIP) {
		g.cache.Set(k.IP, geoAPIResponse{})
		n++
	})
	if err != nil {
		return err
	}
	g.log.Info("seeded known-IP cache from storage", "count", n)
	return nil
}

// Apply queries the external geo API for r.IPAddress when the offline
// geo step left _srv_geoCountry unset, consulting the known-IP cache
// first and never blocking the pipeline past the limiter's reservation:
// a record that would have to wait for a token is skipped for this
// step rather than stalling the enrichment chain.
func (g *GeoAPI) Apply(ctx context.Context, maxLen int, r *record.TrackingRecord) {
	if r.IPAddress == "" || r.HasServer("geoCountry") {
		return
	}

	if resp, ok := g.cache.Get(r.IPAddress); ok {
		g.applyResponse(maxLen, r, resp)
		return
	}

	if !g.limiter.Allow() {
		return
	}

	resp, err := g.fetch(ctx, r.IPAddress)
	if err != nil {
		g.log.Warn("geo api lookup failed", "ip", r.IPAddress, "error", err)
		return
	}
	g.cache.Set(r.IPAddress, resp)
	if g.store != nil {
		if err := g.store.UpsertGeoCache(ctx, r.IPAddress, resp.Affluence, resp.ISP, time.Now()); err != nil {
			g.log.Warn("geo api cache persist failed", "ip", r.IPAddress, "error", err)
		}
	}
	g.applyResponse(maxLen, r, resp)
}

func (g *GeoAPI) applyResponse(maxLen int, r *record.TrackingRecord, resp geoAPIResponse) {
	if resp.Affluence != "" {
		r.AppendServer(maxLen, "geoApiAffluence", resp.Affluence)
	}
	if resp.ISP != "" {
		r.AppendServer(maxLen, "geoApiIsp", resp.ISP)
	}
}

func (g *GeoAPI) fetch(ctx context.Context, ip string) (geoAPIResponse, error) {
	url := fmt.Sprintf("%s/lookup?ip=%s&key=%s", g.baseURL, ip, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return geoAPIResponse{}, err
	}

	httpResp, err := g.httpClient.Do(req)
	if err != nil {
		return geoAPIResponse{}, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return geoAPIResponse{}, fmt.Errorf("geo api: unexpected status %d", httpResp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 16*1024))
	if err != nil {
		return geoAPIResponse{}, err
	}

	var resp geoAPIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return geoAPIResponse{}, err
	}
	return resp, nil
}
