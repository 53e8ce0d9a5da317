package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/smartpixl/forge/internal/clock"
	"github.com/smartpixl/forge/internal/config"
	"github.com/smartpixl/forge/internal/enrich"
	"github.com/smartpixl/forge/internal/etl"
	"github.com/smartpixl/forge/internal/events"
	"github.com/smartpixl/forge/internal/maintenance"
	"github.com/smartpixl/forge/internal/metrics"
	"github.com/smartpixl/forge/internal/pipeline"
	"github.com/smartpixl/forge/internal/record"
	"github.com/smartpixl/forge/internal/stateful"
	"github.com/smartpixl/forge/internal/storage"
	"github.com/smartpixl/forge/internal/transport"
	"github.com/smartpixl/forge/internal/writer"

	"github.com/google/uuid"

	"github.com/smartpixl/forge/internal/circuitbreaker"
)

func main() {
	cfg := config.Get()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := slog.Default()
	log.Info("starting SmartPiXL Forge")

	reg := metrics.New()
	bus := events.NewEventBus()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := metrics.Serve(ctx, cfg.Metrics.ListenAddr); err != nil {
			log.Error("metrics server stopped", "error", err)
		}
	}()

	store, err := storage.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	chanEnrichment := make(chan *record.TrackingRecord, cfg.Transport.PipeChannelCapacity)
	chanWriter := make(chan *record.TrackingRecord, cfg.Writer.ChannelCapacity)

	// Component A/B: transport listener and failover replayer both feed
	// ChanEnrichment, unaware of each other.
	listener := transport.NewListener(cfg.Transport.PipeName, cfg.Transport.MaxConcurrentPipeInstances, chanEnrichment, reg, log)
	replayer := transport.NewReplayer(cfg.Failover.Directory, time.Duration(cfg.Failover.ScanIntervalSeconds)*time.Second, chanEnrichment, reg, log, bus)

	// Component C: enrichment pipeline, every service independently
	// optional per spec.md §4.4.
	svc := buildServices(ctx, cfg, store, log)
	realClock := clock.Real{}
	pl := pipeline.New(chanEnrichment, chanWriter, svc, realClock, reg, log, pipeline.Config{
		Workers:           cfg.Pipeline.Workers,
		MaxQueryStringLen: cfg.Pipeline.MaxQueryStringLen,
		DrainTimeout:      time.Duration(cfg.Pipeline.DrainTimeoutSeconds) * time.Second,
	})

	// Component F: bulk writer behind a circuit breaker, dead-lettering
	// into the same directory the failover replayer watches.
	breaker := circuitbreaker.New(circuitbreaker.BulkWriterConfig(func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state change", "breaker", name, "from", from, "to", to)
	}))
	bulkWriter := writer.New(chanWriter, store, breaker, reg, log, writer.Config{
		BatchSize:       cfg.Writer.BatchSize,
		BatchInterval:   time.Duration(cfg.Writer.BatchIntervalMs) * time.Millisecond,
		BulkCopyTimeout: time.Duration(cfg.Writer.BulkCopyTimeoutSeconds) * time.Second,
		ShutdownTimeout: time.Duration(cfg.Writer.ShutdownTimeoutSeconds) * time.Second,
		DeadLetterDir:   cfg.Writer.DeadLetterDir,
		Events:          bus,
	})

	// Component G: ETL scheduler running the fixed stored-procedure
	// sequence with deadlock retry.
	etlScheduler := etl.New(&etl.SQLRunner{DB: store.DB()}, storage.IsDeadlock, reg, log, time.Duration(cfg.ETL.IntervalSeconds)*time.Second, bus)

	// Component I: daily purge + weekly index maintenance.
	maintScheduler := maintenance.New(store, reg, log, bus)
	if err := maintScheduler.Start(ctx, maintenance.Config{
		PurgeHourUTC:            cfg.Maintenance.PurgeHourUTC,
		IndexMaintenanceHourUTC: cfg.Maintenance.IndexMaintenanceHourUTC,
		RetentionDays:           cfg.Maintenance.PurgeRetentionDays,
	}); err != nil {
		log.Error("failed to start maintenance scheduler", "error", err)
		os.Exit(1)
	}
	defer maintScheduler.Stop()

	go func() {
		if err := listener.Run(ctx); err != nil {
			log.Error("transport listener stopped", "error", err)
		}
	}()
	go replayer.Run(ctx)

	pipelineDone := make(chan struct{})
	go func() {
		pl.Run(ctx)
		close(pipelineDone)
	}()

	writerDone := make(chan struct{})
	go func() {
		bulkWriter.Run(ctx)
		close(writerDone)
	}()

	go etlScheduler.Run(ctx)

	// Component E: periodic eviction sweeps over the stateful services'
	// in-memory maps, per spec.md §4.5.1/§4.5.2/§4.5.7. Each tracker
	// bounds its own retention window; the sweeps here only reclaim
	// memory for entries that have already aged out.
	if svc.Session != nil {
		go runEvictLoop(ctx, stateful.SessionEvictionInterval, log, "session", svc.Session.Evict)
	}
	if svc.CrossCustomer != nil {
		go runEvictLoop(ctx, stateful.CrossCustomerEvictionInterval, log, "crosscustomer", svc.CrossCustomer.Evict)
	}
	if svc.DeadInternet != nil {
		go runEvictLoop(ctx, stateful.DeadInternetEvictionInterval, log, "deadinternet", svc.DeadInternet.Evict)
	}

	log.Info("SmartPiXL Forge running", "pipe", cfg.Transport.PipeName, "metrics_addr", cfg.Metrics.ListenAddr)

	<-ctx.Done()
	log.Info("shutdown signal received, draining in stage order (A/B -> C -> F -> G)")

	// A/B stop accepting new work as soon as ctx is canceled; listener
	// and replayer are fire-and-forget goroutines with no further state
	// to drain. C and F each bound their own drain window internally
	// (pipeline.Config.DrainTimeout, writer.Config.ShutdownTimeout) and
	// signal pipelineDone/writerDone when finished; G aborts between
	// procedure calls on its own without needing to be waited on here.
	// The 30s waits below are a safety net in case either stage's
	// internal bound is misconfigured to something implausibly long.
	select {
	case <-pipelineDone:
		log.Info("enrichment pipeline drained")
	case <-time.After(30 * time.Second):
		log.Warn("enrichment pipeline drain timed out")
	}

	select {
	case <-writerDone:
		log.Info("bulk writer drained")
	case <-time.After(30 * time.Second):
		log.Warn("bulk writer drain timed out")
	}

	log.Info("shutdown complete")
}

// runEvictLoop ticks evict every interval until ctx is canceled,
// logging only when a sweep actually removes something.
func runEvictLoop(ctx context.Context, interval time.Duration, log *slog.Logger, tracker string, evict func() int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := evict(); n > 0 {
				log.Info("eviction sweep removed entries", "tracker", tracker, "removed", n)
			}
		}
	}
}

func buildServices(ctx context.Context, cfg *config.Config, store *storage.Store, log *slog.Logger) pipeline.Services {
	svc := pipeline.Services{
		BotUA:         enrich.NewBotUA(),
		ClientSignals: enrich.NewClientSignals(),
		Affluence:     enrich.NewAffluence(),
		LeadScore:     enrich.NewLeadScore(),

		Contradiction: stateful.NewContradiction(),
		Arbitrage:     stateful.NewArbitrage(),
		DeviceAge:     stateful.NewDeviceAge(),
		Session:       stateful.NewSessionStitcher(clock.Real{}, uuid.NewString),
		CrossCustomer: stateful.NewCrossCustomer(clock.Real{}),
		DeadInternet:  stateful.NewDeadInternet(clock.Real{}),
	}

	if replay, err := stateful.NewReplay(); err != nil {
		log.Warn("behavioral replay index unavailable", "error", err)
	} else {
		svc.Replay = replay
	}

	svc.RDNS = enrich.NewRDNS(&net.Resolver{}, 2*time.Second)

	if cfg.Database.GeoDBDirectory != "" {
		geoPath := func(name string) string {
			path := cfg.Database.GeoDBDirectory + "/" + name
			if _, err := os.Stat(path); err != nil {
				log.Warn("offline geo database missing, lookup skipped", "path", path, "error", err)
				return ""
			}
			return path
		}
		geo, err := enrich.NewGeo(
			geoPath("GeoLite2-City.mmdb"),
			geoPath("GeoLite2-ASN.mmdb"),
			geoPath("GeoLite2-Country.mmdb"),
			log,
		)
		if err != nil {
			log.Warn("offline geo databases unavailable", "error", err)
		} else {
			svc.Geo = geo
		}

		uaParser, err := enrich.NewUAParser(cfg.Database.GeoDBDirectory+"/regexes.yaml", log)
		if err != nil {
			log.Warn("user-agent parser definitions unavailable", "error", err)
		} else {
			svc.UAParser = uaParser
		}
	}

	if cfg.GeoAPI.Enabled {
		geoAPI, err := enrich.NewGeoAPI(
			ctx,
			cfg.GeoAPI.BaseURL, cfg.GeoAPI.APIKey,
			time.Duration(cfg.GeoAPI.MinIntervalMs)*time.Millisecond,
			time.Duration(cfg.GeoAPI.KnownIPTTLDays)*24*time.Hour,
			store,
			log,
		)
		if err != nil {
			log.Warn("external geo API enricher unavailable", "error", err)
		} else {
			svc.GeoAPI = geoAPI
		}
	}

	svc.Whois = enrich.NewWhois("whois.arin.net:43", 5*time.Second)

	return svc
}
