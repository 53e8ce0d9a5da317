// Package metrics is the Forge's Prometheus metrics registry (spec.md
// SPEC_FULL.md §2, component J), exposed over /metrics alongside a
// /healthz liveness endpoint. Counter/gauge/histogram wiring follows
// the promauto pattern used throughout the wider example pack.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric the Forge's components report to. Each
// exported method implements the narrow reporting interface its
// consuming package expects (pipeline.Metrics, writer.Metrics,
// transport.Metrics, etl.Metrics, maintenance.Metrics), so wiring one
// concrete Registry into every component is a single call per
// component at startup.
type Registry struct {
	recordsProcessed *prometheus.CounterVec
	recordsDropped   *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	queueDepth       *prometheus.GaugeVec

	batchesWritten *prometheus.CounterVec
	batchesFailed  *prometheus.CounterVec
	circuitState   *prometheus.GaugeVec

	recordsEnqueued *prometheus.CounterVec
	decodeErrors    *prometheus.CounterVec

	etlTickDuration prometheus.Histogram
	etlTickOutcome  *prometheus.CounterVec
	etlProcRows     *prometheus.CounterVec
	etlProcRetries  *prometheus.CounterVec

	purgeRowsDeleted      prometheus.Counter
	indexMaintenanceOutcome *prometheus.CounterVec
}

// New registers every metric against a fresh registry.
func New() *Registry {
	return &Registry{
		recordsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forge", Subsystem: "pipeline", Name: "records_processed_total",
			Help: "Records that completed the enrichment chain.",
		}, []string{"step"}),
		recordsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forge", Subsystem: "pipeline", Name: "records_dropped_total",
			Help: "Records dropped, by reason.",
		}, []string{"reason"}),
		stepDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "forge", Subsystem: "pipeline", Name: "step_duration_seconds",
			Help:    "Per-step enrichment latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"step"}),
		queueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "forge", Name: "channel_depth",
			Help: "Current depth of an internal channel.",
		}, []string{"channel"}),

		batchesWritten: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forge", Subsystem: "writer", Name: "batches_written_total",
			Help: "Bulk-insert batches successfully written.",
		}, []string{"outcome"}),
		batchesFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forge", Subsystem: "writer", Name: "batches_failed_total",
			Help: "Bulk-insert batches that failed.",
		}, []string{"outcome"}),
		circuitState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "forge", Subsystem: "writer", Name: "circuit_state",
			Help: "Circuit breaker state: 0=closed, 1=half-open, 2=open.",
		}, []string{"name"}),

		recordsEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forge", Subsystem: "transport", Name: "records_enqueued_total",
			Help: "Records enqueued onto the enrichment channel, by source.",
		}, []string{"source"}),
		decodeErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forge", Subsystem: "transport", Name: "decode_errors_total",
			Help: "Malformed record decode failures, by source.",
		}, []string{"source"}),

		etlTickDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "forge", Subsystem: "etl", Name: "tick_duration_seconds",
			Help:    "Duration of a full ETL tick.",
			Buckets: prometheus.DefBuckets,
		}),
		etlTickOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forge", Subsystem: "etl", Name: "tick_outcome_total",
			Help: "ETL tick outcomes.",
		}, []string{"outcome"}),
		etlProcRows: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forge", Subsystem: "etl", Name: "procedure_rows_total",
			Help: "Rows affected per ETL procedure call.",
		}, []string{"procedure"}),
		etlProcRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forge", Subsystem: "etl", Name: "procedure_retries_total",
			Help: "Deadlock retries per ETL procedure.",
		}, []string{"procedure"}),

		purgeRowsDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "forge", Subsystem: "maintenance", Name: "purge_rows_deleted_total",
			Help: "Rows deleted by the daily purge job.",
		}),
		indexMaintenanceOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forge", Subsystem: "maintenance", Name: "index_maintenance_outcome_total",
			Help: "Weekly index maintenance outcomes.",
		}, []string{"action"}),
	}
}

// pipeline.Metrics

func (r *Registry) RecordProcessed(step string)         { r.recordsProcessed.WithLabelValues(step).Inc() }
func (r *Registry) RecordDropped(reason string)         { r.recordsDropped.WithLabelValues(reason).Inc() }
func (r *Registry) StepDuration(step string, d time.Duration) {
	r.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}
func (r *Registry) QueueDepth(name string, depth int) { r.queueDepth.WithLabelValues(name).Set(float64(depth)) }

// writer.Metrics

func (r *Registry) BatchWritten(size int) { r.batchesWritten.WithLabelValues("success").Inc() }
func (r *Registry) BatchFailed(size int)  { r.batchesFailed.WithLabelValues("failure").Inc() }
func (r *Registry) CircuitState(name, state string) {
	var v float64
	switch state {
	case "OPEN":
		v = 2
	case "HALF_OPEN":
		v = 1
	default:
		v = 0
	}
	r.circuitState.WithLabelValues(name).Set(v)
}

// transport.Metrics

func (r *Registry) RecordEnqueued(source string)    { r.recordsEnqueued.WithLabelValues(source).Inc() }
func (r *Registry) RecordDecodeError(source string) { r.decodeErrors.WithLabelValues(source).Inc() }

// etl.Metrics

func (r *Registry) TickDuration(d time.Duration) { r.etlTickDuration.Observe(d.Seconds()) }
func (r *Registry) TickOutcome(success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	r.etlTickOutcome.WithLabelValues(outcome).Inc()
}
func (r *Registry) ProcedureRows(name string, rows int64) {
	r.etlProcRows.WithLabelValues(name).Add(float64(rows))
}
func (r *Registry) ProcedureRetry(name string, attempt int) {
	r.etlProcRetries.WithLabelValues(name).Inc()
}

// maintenance.Metrics

func (r *Registry) PurgeRowsDeleted(n int64) { r.purgeRowsDeleted.Add(float64(n)) }
func (r *Registry) IndexMaintenanceOutcome(action string) {
	r.indexMaintenanceOutcome.WithLabelValues(action).Inc()
}

// Server returns an HTTP handler exposing /metrics and /healthz, ready
// to be served on the configured metrics listen address.
func Server() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// Serve runs the metrics HTTP server until ctx is canceled.
func Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: Server()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
