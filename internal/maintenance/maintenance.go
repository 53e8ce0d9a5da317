// Package maintenance implements the Maintenance Scheduler (spec.md
// §4.7, component I): a daily purge of aged raw-table rows and a
// weekly index-maintenance pass, both driven by robfig/cron on
// configured UTC hours.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/smartpixl/forge/internal/events"
)

// PurgeRetentionDays is the default age past which raw-table rows are
// eligible for purge.
const PurgeRetentionDays = 90

// PurgeBatchRows is the chunk size for the batch-delete loop.
const PurgeBatchRows = 10_000

// PurgeBatchPause is the pause between delete batches, to bound lock
// contention on the raw table.
const PurgeBatchPause = 1 * time.Second

// FragmentationRebuildThreshold and FragmentationReorganizeThreshold
// are the index-maintenance decision thresholds from spec.md §4.7.
const (
	FragmentationRebuildThreshold    = 30.0
	FragmentationReorganizeThreshold = 10.0
	IndexMaintenanceSkipPages        = 100
)

// Store is the relational dependency this package needs: batch
// deletion, index statistics, and an audit trail. Matches a subset of
// *storage.Store's surface.
type Store interface {
	PurgeBatch(ctx context.Context, olderThan time.Time, limit int) (deleted int64, err error)
	IndexFragmentation(ctx context.Context) (fragmentationPct float64, pageCount int64, err error)
	RebuildIndex(ctx context.Context) error
	ReorganizeIndex(ctx context.Context) error
	AppendRemediationLog(ctx context.Context, action, detail string, rowsAffected int64) error
}

// Metrics is the subset of the metrics registry this package reports to.
type Metrics interface {
	PurgeRowsDeleted(n int64)
	IndexMaintenanceOutcome(action string)
}

type noopMetrics struct{}

func (noopMetrics) PurgeRowsDeleted(int64)         {}
func (noopMetrics) IndexMaintenanceOutcome(string) {}

// Scheduler drives the daily purge and weekly index maintenance jobs.
type Scheduler struct {
	store   Store
	metrics Metrics
	log     *slog.Logger
	cron    *cron.Cron
	events  events.EventEmitter
}

// Config names the UTC hours the two jobs run at.
type Config struct {
	PurgeHourUTC           int
	IndexMaintenanceHourUTC int
	RetentionDays          int
}

// New builds a Scheduler. Call Start to register and run the cron
// jobs. emitter may be nil; when set, every purge and index-maintenance
// run is also published as a CloudEvent for audit consumers.
func New(store Store, m Metrics, log *slog.Logger, emitter events.EventEmitter) *Scheduler {
	if m == nil {
		m = noopMetrics{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		store:   store,
		metrics: m,
		log:     log.With("component", "maintenance-scheduler"),
		cron:    cron.New(cron.WithLocation(time.UTC)),
		events:  emitter,
	}
}

// Start registers the purge and index-maintenance jobs and starts the
// underlying cron runner. cfg.RetentionDays defaults to
// PurgeRetentionDays when non-positive.
func (s *Scheduler) Start(ctx context.Context, cfg Config) error {
	retention := cfg.RetentionDays
	if retention <= 0 {
		retention = PurgeRetentionDays
	}

	purgeSpec := fmt.Sprintf("0 %d * * *", cfg.PurgeHourUTC)
	if _, err := s.cron.AddFunc(purgeSpec, func() { s.runPurge(ctx, retention) }); err != nil {
		return err
	}

	indexSpec := fmt.Sprintf("0 %d * * 0", cfg.IndexMaintenanceHourUTC)
	if _, err := s.cron.AddFunc(indexSpec, func() { s.runIndexMaintenance(ctx) }); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop halts the cron runner, blocking until any in-flight job
// completes.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
}

// RunPurgeNow executes the purge job immediately, for tests and manual
// operator invocation.
func (s *Scheduler) RunPurgeNow(ctx context.Context, retentionDays int) {
	s.runPurge(ctx, retentionDays)
}

// RunIndexMaintenanceNow executes the index-maintenance job
// immediately, for tests and manual operator invocation.
func (s *Scheduler) RunIndexMaintenanceNow(ctx context.Context) {
	s.runIndexMaintenance(ctx)
}

// runPurge batch-deletes raw-table rows older than retentionDays, in
// PurgeBatchRows chunks with a pause between batches to bound lock
// contention, per spec.md §4.7.
func (s *Scheduler) runPurge(ctx context.Context, retentionDays int) {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	var total int64

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		deleted, err := s.store.PurgeBatch(ctx, cutoff, PurgeBatchRows)
		if err != nil {
			s.log.Error("purge batch failed", "error", err, "total_deleted", total)
			_ = s.store.AppendRemediationLog(ctx, "purge_failed", err.Error(), total)
			return
		}
		total += deleted
		if deleted < PurgeBatchRows {
			break
		}
		select {
		case <-ctx.Done():
			s.metrics.PurgeRowsDeleted(total)
			return
		case <-time.After(PurgeBatchPause):
		}
	}

	s.metrics.PurgeRowsDeleted(total)
	s.log.Info("purge completed", "rows_deleted", total, "cutoff", cutoff)
	_ = s.store.AppendRemediationLog(ctx, "purge_completed", fmt.Sprintf("cutoff=%s", cutoff.Format(time.RFC3339)), total)
	if s.events != nil {
		s.events.Emit("com.smartpixl.forge.maintenance.purge_completed", "maintenance-scheduler", "", map[string]interface{}{
			"rows_deleted": total,
			"cutoff":       cutoff.Format(time.RFC3339),
		})
	}
}

// runIndexMaintenance rebuilds, reorganizes, or skips based on current
// fragmentation, per the thresholds in spec.md §4.7.
func (s *Scheduler) runIndexMaintenance(ctx context.Context) {
	frag, pages, err := s.store.IndexFragmentation(ctx)
	if err != nil {
		s.log.Error("failed to read index fragmentation", "error", err)
		_ = s.store.AppendRemediationLog(ctx, "index_maintenance_failed", err.Error(), 0)
		return
	}

	var action string
	switch {
	case pages <= IndexMaintenanceSkipPages:
		action = "skipped_small_index"
	case frag > FragmentationRebuildThreshold:
		action = "rebuild"
		err = s.store.RebuildIndex(ctx)
	case frag > FragmentationReorganizeThreshold:
		action = "reorganize"
		err = s.store.ReorganizeIndex(ctx)
	default:
		action = "skipped_low_fragmentation"
	}

	if err != nil {
		s.log.Error("index maintenance action failed", "action", action, "error", err)
		_ = s.store.AppendRemediationLog(ctx, "index_maintenance_failed", action+": "+err.Error(), 0)
		return
	}

	s.metrics.IndexMaintenanceOutcome(action)
	s.log.Info("index maintenance completed", "action", action, "fragmentation_pct", frag, "pages", pages)
	_ = s.store.AppendRemediationLog(ctx, "index_maintenance_"+action, fmt.Sprintf("fragmentation=%.1f%% pages=%d", frag, pages), 0)
	if s.events != nil {
		s.events.Emit("com.smartpixl.forge.maintenance.index_maintenance_completed", "maintenance-scheduler", action, map[string]interface{}{
			"fragmentation_pct": frag,
			"pages":             pages,
		})
	}
}
