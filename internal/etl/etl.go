// Package etl implements the ETL Scheduler (spec.md §4.7): a fixed
// 60-second tick that invokes four stored procedures in sequence
// against the relational store, with jittered-backoff retry on
// deadlock.
package etl

import (
	"context"
	"database/sql"
	"log/slog"
	"math/rand"
	"time"

	"github.com/smartpixl/forge/internal/events"
)

// procedureSequence is the fixed invocation order spec.md §4.7
// requires; ordering is part of the contract, not an implementation
// detail.
var procedureSequence = []string{
	"ParseNewHits",
	"MatchVisits",
	"EnrichParsedGeo",
	"MatchLegacyVisits",
}

// TickInterval is the scheduler's fixed cadence.
const TickInterval = 60 * time.Second

// deadlockBackoffs are the fixed retry delays before jitter, per
// spec.md §4.7: 500ms, 1s, 2s.
var deadlockBackoffs = []time.Duration{500 * time.Millisecond, 1 * time.Second, 2 * time.Second}

const deadlockJitterFraction = 0.25

// DeadlockDetector reports whether an error returned by a procedure
// call was a deadlock-victim error. Matches storage.IsDeadlock.
type DeadlockDetector func(error) bool

// ProcedureRunner executes a single stored procedure and returns the
// affected row count from its first result row.
type ProcedureRunner interface {
	RunProcedure(ctx context.Context, name string) (rowsAffected int64, err error)
}

// Metrics is the subset of the metrics registry the scheduler reports to.
type Metrics interface {
	TickDuration(d time.Duration)
	TickOutcome(success bool)
	ProcedureRows(name string, rows int64)
	ProcedureRetry(name string, attempt int)
}

type noopMetrics struct{}

func (noopMetrics) TickDuration(time.Duration)      {}
func (noopMetrics) TickOutcome(bool)                {}
func (noopMetrics) ProcedureRows(string, int64)      {}
func (noopMetrics) ProcedureRetry(string, int)       {}

// Scheduler drives the ETL tick loop.
type Scheduler struct {
	runner    ProcedureRunner
	isDeadlock DeadlockDetector
	metrics   Metrics
	log       *slog.Logger
	interval  time.Duration
	rng       *rand.Rand
	events    events.EventEmitter
}

// New builds an ETL Scheduler. interval defaults to TickInterval when
// non-positive. emitter may be nil; when set, every tick's outcome is
// also published as a CloudEvent for audit consumers.
func New(runner ProcedureRunner, isDeadlock DeadlockDetector, m Metrics, log *slog.Logger, interval time.Duration, emitter events.EventEmitter) *Scheduler {
	if m == nil {
		m = noopMetrics{}
	}
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = TickInterval
	}
	if isDeadlock == nil {
		isDeadlock = func(error) bool { return false }
	}
	return &Scheduler{
		runner: runner, isDeadlock: isDeadlock, metrics: m,
		log: log.With("component", "etl-scheduler"), interval: interval,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
		events: emitter,
	}
}

// Run ticks every s.interval until ctx is canceled. Per spec.md §5, a
// shutdown aborts between procedure calls, never mid-procedure: the
// in-flight tick is allowed to finish its current procedure before the
// loop observes cancellation.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs every procedure in procedureSequence, in order, stopping
// at the first procedure that fails after exhausting retries.
func (s *Scheduler) tick(ctx context.Context) {
	start := time.Now()
	success := true

	for _, name := range procedureSequence {
		select {
		case <-ctx.Done():
			success = false
			goto done
		default:
		}
		if err := s.runWithRetry(ctx, name); err != nil {
			s.log.Error("etl procedure failed", "procedure", name, "error", err)
			success = false
			break
		}
	}

done:
	duration := time.Since(start)
	s.metrics.TickDuration(duration)
	s.metrics.TickOutcome(success)
	if s.events != nil {
		s.events.Emit("com.smartpixl.forge.etl.tick_completed", "etl-scheduler", "", map[string]interface{}{
			"success":     success,
			"duration_ms": duration.Milliseconds(),
		})
	}
}

// runWithRetry invokes name, retrying up to len(deadlockBackoffs) times
// with jittered exponential backoff when the error is a deadlock.
// Non-deadlock errors escalate immediately as a failed cycle.
func (s *Scheduler) runWithRetry(ctx context.Context, name string) error {
	var lastErr error
	for attempt := 0; attempt <= len(deadlockBackoffs); attempt++ {
		rows, err := s.runner.RunProcedure(context.WithoutCancel(ctx), name)
		if err == nil {
			s.metrics.ProcedureRows(name, rows)
			return nil
		}
		lastErr = err
		if !s.isDeadlock(err) || attempt == len(deadlockBackoffs) {
			return lastErr
		}
		s.metrics.ProcedureRetry(name, attempt+1)
		delay := s.jittered(deadlockBackoffs[attempt])
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

func (s *Scheduler) jittered(base time.Duration) time.Duration {
	jitter := (s.rng.Float64()*2 - 1) * deadlockJitterFraction
	return time.Duration(float64(base) * (1 + jitter))
}

// SQLRunner adapts a *sql.DB into a ProcedureRunner by calling each
// procedure through a SELECT-style invocation returning a single
// rowcount column, matching spec.md §4.7's "returns rowcount metrics
// via the first result row."
type SQLRunner struct {
	DB *sql.DB
}

// RunProcedure calls "SELECT rows_affected FROM <name>()" and scans the first
// result row's row-count column.
func (r *SQLRunner) RunProcedure(ctx context.Context, name string) (int64, error) {
	var rows int64
	err := r.DB.QueryRowContext(ctx, "SELECT rows_affected FROM "+name+"()").Scan(&rows)
	return rows, err
}
