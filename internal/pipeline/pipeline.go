// Package pipeline implements the enrichment pipeline (spec.md §4.3):
// a fixed chain run over every record read from the enrichment channel
// before it is handed to the bulk writer.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/smartpixl/forge/internal/clock"
	"github.com/smartpixl/forge/internal/enrich"
	"github.com/smartpixl/forge/internal/record"
	"github.com/smartpixl/forge/internal/stateful"
)

// Metrics is the subset of the metrics registry the pipeline reports
// to. Kept as an interface so tests can run without a real registry.
type Metrics interface {
	RecordProcessed(step string)
	RecordDropped(reason string)
	StepDuration(step string, d time.Duration)
	QueueDepth(name string, depth int)
}

type noopMetrics struct{}

func (noopMetrics) RecordProcessed(string)            {}
func (noopMetrics) RecordDropped(string)              {}
func (noopMetrics) StepDuration(string, time.Duration) {}
func (noopMetrics) QueueDepth(string, int)             {}

// Config controls pipeline behavior not tied to a specific enricher.
type Config struct {
	Workers           int
	MaxQueryStringLen int

	// DrainTimeout bounds how long a worker keeps consuming already
	// buffered records off ChanEnrichment after a shutdown signal,
	// per spec.md §5. Defaults to DefaultDrainTimeout.
	DrainTimeout time.Duration
}

// DefaultDrainTimeout is the shutdown drain window applied when
// Config.DrainTimeout is left at zero.
const DefaultDrainTimeout = 5 * time.Second

// Pipeline wires the stateless and stateful enrichment services into
// the fixed chain and drains ChanEnrichment into ChanWriter.
type Pipeline struct {
	in  <-chan *record.TrackingRecord
	out chan<- *record.TrackingRecord

	botUA         *enrich.BotUA
	uaParser      *enrich.UAParser
	clientSignals *enrich.ClientSignals
	rdns          *enrich.RDNS
	geo           *enrich.Geo
	geoAPI        *enrich.GeoAPI
	whois         *enrich.Whois
	affluence     *enrich.Affluence
	leadScore     *enrich.LeadScore

	session       *stateful.SessionStitcher
	crossCustomer *stateful.CrossCustomer
	contradiction *stateful.Contradiction
	arbitrage     *stateful.Arbitrage
	deviceAge     *stateful.DeviceAge
	replay        *stateful.Replay
	deadInternet  *stateful.DeadInternet

	clock   clock.Clock
	metrics Metrics
	log     *slog.Logger
	cfg     Config
}

// Services bundles every enrichment dependency the pipeline wires
// together. Fields left nil are skipped at their step (geo/geoAPI/
// whois/rdns are each independently optional per spec.md §4.4).
type Services struct {
	BotUA         *enrich.BotUA
	UAParser      *enrich.UAParser
	ClientSignals *enrich.ClientSignals
	RDNS          *enrich.RDNS
	Geo           *enrich.Geo
	GeoAPI        *enrich.GeoAPI
	Whois         *enrich.Whois
	Affluence     *enrich.Affluence
	LeadScore     *enrich.LeadScore
	Session       *stateful.SessionStitcher
	CrossCustomer *stateful.CrossCustomer
	Contradiction *stateful.Contradiction
	Arbitrage     *stateful.Arbitrage
	DeviceAge     *stateful.DeviceAge
	Replay        *stateful.Replay
	DeadInternet  *stateful.DeadInternet
}

// New builds a Pipeline reading from in and writing to out.
func New(in <-chan *record.TrackingRecord, out chan<- *record.TrackingRecord, svc Services, c clock.Clock, m Metrics, log *slog.Logger, cfg Config) *Pipeline {
	if c == nil {
		c = clock.Real{}
	}
	if m == nil {
		m = noopMetrics{}
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	return &Pipeline{
		in: in, out: out,
		botUA: svc.BotUA, uaParser: svc.UAParser, clientSignals: svc.ClientSignals, rdns: svc.RDNS, geo: svc.Geo,
		geoAPI: svc.GeoAPI, whois: svc.Whois, affluence: svc.Affluence, leadScore: svc.LeadScore,
		session: svc.Session, crossCustomer: svc.CrossCustomer, contradiction: svc.Contradiction,
		arbitrage: svc.Arbitrage, deviceAge: svc.DeviceAge, replay: svc.Replay, deadInternet: svc.DeadInternet,
		clock: c, metrics: m, log: log.With("component", "pipeline"), cfg: cfg,
	}
}

// Run starts cfg.Workers goroutines draining in until ctx is canceled
// or in is closed. Each worker is a fully independent reader of the
// same channel; per spec.md §4.3 this is only safe because every
// stateful service above serializes per-key.
func (p *Pipeline) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx)
		}()
	}
	wg.Wait()
}

func (p *Pipeline) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return
		case r, ok := <-p.in:
			if !ok {
				return
			}
			p.process(ctx, r)
		}
	}
}

// drain keeps consuming whatever is already buffered on in for up to
// cfg.DrainTimeout after a shutdown signal, per spec.md §5, using a
// fresh context so downstream enrichers (rdns, geoAPI, whois) aren't
// immediately canceled mid-lookup. Once in is empty or the deadline
// passes, remaining records are left unprocessed; channel drops during
// shutdown are acceptable per spec.
func (p *Pipeline) drain() {
	deadline := time.Now().Add(p.cfg.DrainTimeout)
	drainCtx, cancel := context.WithTimeout(context.Background(), p.cfg.DrainTimeout)
	defer cancel()

	for {
		select {
		case r, ok := <-p.in:
			if !ok {
				return
			}
			p.process(drainCtx, r)
		case <-time.After(time.Until(deadline)):
			return
		}
	}
}

func (p *Pipeline) process(ctx context.Context, r *record.TrackingRecord) {
	maxLen := p.cfg.MaxQueryStringLen

	p.step("botua", func() { p.runBotUA(r) })
	p.step("uaparse", func() { p.runUAParse(maxLen, r) })
	p.step("clientsignal", func() { p.runClientSignals(maxLen, r) })
	p.step("rdns", func() { p.runRDNS(ctx, maxLen, r) })
	p.step("geo", func() { p.runGeo(maxLen, r) })
	p.step("geoapi", func() { p.runGeoAPI(ctx, maxLen, r) })
	p.step("whois", func() { p.runWhois(ctx, maxLen, r) })

	fingerprint := Fingerprint(r)
	pagePath := r.RequestPath

	p.step("session", func() { p.runSession(maxLen, r, fingerprint, pagePath) })
	p.step("crosscustomer", func() { p.runCrossCustomer(maxLen, r, fingerprint) })
	p.step("affluence", func() { p.runAffluence(maxLen, r) })
	p.step("contradiction", func() { p.runContradiction(maxLen, r) })
	p.step("arbitrage", func() { p.runArbitrage(maxLen, r) })
	p.step("deviceage", func() { p.runDeviceAge(maxLen, r) })
	p.step("replay", func() { p.runReplay(maxLen, r, fingerprint) })
	p.step("deadinternet", func() { p.runDeadInternet(maxLen, r, fingerprint) })
	p.step("leadscore", func() { p.runLeadScore(maxLen, r) })

	if r.Truncated {
		p.log.Warn("query string cap reached, enrichment fields dropped", "company_id", r.CompanyID, "max_len", maxLen)
	}

	p.metrics.RecordProcessed("pipeline")

	select {
	case p.out <- r:
	default:
		p.metrics.RecordDropped("writer_channel_full")
		p.log.Warn("writer channel full, dropping record", "company_id", r.CompanyID)
	}
}

// step runs fn with panic containment and duration reporting, per
// spec.md §4.3's "any single step that fails is skipped" error policy.
func (p *Pipeline) step(name string, fn func()) {
	start := p.clock.Now()
	defer func() {
		p.metrics.StepDuration(name, p.clock.Now().Sub(start))
		if rec := recover(); rec != nil {
			p.metrics.RecordDropped("step_panic_" + name)
			p.log.Error("enrichment step panicked", "step", name, "panic", rec)
		}
	}()
	fn()
}

func (p *Pipeline) runBotUA(r *record.TrackingRecord) {
	if p.botUA != nil {
		p.botUA.Apply(p.cfg.MaxQueryStringLen, r)
	}
}

func (p *Pipeline) runUAParse(maxLen int, r *record.TrackingRecord) {
	if p.uaParser != nil {
		p.uaParser.Apply(maxLen, r)
	}
}

func (p *Pipeline) runClientSignals(maxLen int, r *record.TrackingRecord) {
	if p.clientSignals != nil {
		p.clientSignals.Apply(maxLen, r)
	}
}

func (p *Pipeline) runRDNS(ctx context.Context, maxLen int, r *record.TrackingRecord) {
	if p.rdns != nil {
		p.rdns.Apply(maxLen, r)
	}
}

func (p *Pipeline) runGeo(maxLen int, r *record.TrackingRecord) {
	if p.geo != nil {
		p.geo.Apply(maxLen, r)
	}
}

func (p *Pipeline) runGeoAPI(ctx context.Context, maxLen int, r *record.TrackingRecord) {
	if p.geoAPI != nil {
		p.geoAPI.Apply(ctx, maxLen, r)
	}
}

// runWhois fires only when step 4 (offline geo) left ASN empty, per
// spec.md §4.3's dependency note on step 6.
func (p *Pipeline) runWhois(ctx context.Context, maxLen int, r *record.TrackingRecord) {
	if p.whois == nil || r.HasServer("geoASN") {
		return
	}
	p.whois.Apply(ctx, maxLen, r)
}

func (p *Pipeline) runSession(maxLen int, r *record.TrackingRecord, fingerprint, pagePath string) {
	if p.session != nil {
		p.session.Apply(maxLen, r, fingerprint, pagePath)
	}
}

func (p *Pipeline) runCrossCustomer(maxLen int, r *record.TrackingRecord, fingerprint string) {
	if p.crossCustomer != nil {
		p.crossCustomer.Apply(maxLen, r, r.IPAddress, fingerprint, r.CompanyID)
	}
}

func (p *Pipeline) runAffluence(maxLen int, r *record.TrackingRecord) {
	if p.affluence != nil {
		p.affluence.Apply(maxLen, r)
	}
}

func (p *Pipeline) runContradiction(maxLen int, r *record.TrackingRecord) {
	if p.contradiction != nil {
		p.contradiction.Apply(maxLen, r)
	}
}

func (p *Pipeline) runArbitrage(maxLen int, r *record.TrackingRecord) {
	if p.arbitrage != nil {
		p.arbitrage.Apply(maxLen, r)
	}
}

func (p *Pipeline) runDeviceAge(maxLen int, r *record.TrackingRecord) {
	if p.deviceAge != nil {
		p.deviceAge.Apply(maxLen, r, p.clock.Now().Year())
	}
}

func (p *Pipeline) runReplay(maxLen int, r *record.TrackingRecord, fingerprint string) {
	if p.replay == nil {
		return
	}
	mousePath, _ := r.Get("mp")
	p.replay.Apply(maxLen, r, mousePath, fingerprint)
}

func (p *Pipeline) runDeadInternet(maxLen int, r *record.TrackingRecord, fingerprint string) {
	if p.deadInternet == nil {
		return
	}
	isBot := hasServerFlag(r, "knownBot")
	zeroMouse := isZeroMouse(r)
	isDatacenter := hasServerFlag(r, "datacenterTraffic")
	hasContradiction := hasNonZeroContradiction(r)
	isReplay := hasServerFlag(r, "replayDetected")
	p.deadInternet.Apply(maxLen, r, r.CompanyID, fingerprint, isBot, zeroMouse, isDatacenter, hasContradiction, isReplay)
}

func (p *Pipeline) runLeadScore(maxLen int, r *record.TrackingRecord) {
	if p.leadScore != nil {
		p.leadScore.Apply(maxLen, r)
	}
}

func hasServerFlag(r *record.TrackingRecord, key string) bool {
	v, ok := r.Get("_srv_" + key)
	return ok && v == "1"
}

func isZeroMouse(r *record.TrackingRecord) bool {
	mp, ok := r.Get("mp")
	return !ok || mp == ""
}

func hasNonZeroContradiction(r *record.TrackingRecord) bool {
	v, ok := r.Get("_srv_contradictions")
	return ok && v != "0"
}
