// Package writer implements the Bulk Writer (spec.md §4.6): the
// single-reader consumer of ChanWriter that batches records and bulk
// inserts them into the raw hits table behind a circuit breaker.
package writer

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/smartpixl/forge/internal/circuitbreaker"
	"github.com/smartpixl/forge/internal/errs"
	"github.com/smartpixl/forge/internal/events"
	"github.com/smartpixl/forge/internal/record"
)

// BulkInserter is the storage dependency the writer batches into.
// Matches *storage.Store's BulkInsert signature.
type BulkInserter interface {
	BulkInsert(ctx context.Context, records []*record.TrackingRecord) error
}

// Metrics is the subset of the metrics registry the writer reports to.
type Metrics interface {
	BatchWritten(size int)
	BatchFailed(size int)
	RecordDropped(reason string)
	CircuitState(name string, state string)
}

type noopMetrics struct{}

func (noopMetrics) BatchWritten(int)       {}
func (noopMetrics) BatchFailed(int)        {}
func (noopMetrics) RecordDropped(string)   {}
func (noopMetrics) CircuitState(string, string) {}

// Config controls batching, dead-letter, and shutdown behavior.
type Config struct {
	BatchSize         int
	BatchInterval     time.Duration
	BulkCopyTimeout   time.Duration
	ShutdownTimeout   time.Duration
	DeadLetterDir     string

	// Events, if set, receives a CloudEvent on every circuit breaker
	// state change and every dead-lettered batch, for audit consumers
	// separate from the numeric metrics registry.
	Events events.EventEmitter
}

// Writer is the Bulk Writer component.
type Writer struct {
	in      <-chan *record.TrackingRecord
	store   BulkInserter
	breaker *circuitbreaker.CircuitBreaker
	metrics Metrics
	log     *slog.Logger
	cfg     Config

	mu           sync.Mutex
	lastKnownState circuitbreaker.State
}

// New builds a Writer. breaker should be configured with
// circuitbreaker.BulkWriterConfig so Closed->Open->HalfOpen transitions
// match spec.md §4.6.
func New(in <-chan *record.TrackingRecord, store BulkInserter, breaker *circuitbreaker.CircuitBreaker, m Metrics, log *slog.Logger, cfg Config) *Writer {
	if m == nil {
		m = noopMetrics{}
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = 500 * time.Millisecond
	}
	if cfg.BulkCopyTimeout <= 0 {
		cfg.BulkCopyTimeout = 60 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	return &Writer{in: in, store: store, breaker: breaker, metrics: m, log: log.With("component", "bulk-writer"), cfg: cfg}
}

// Run batches records off in, flushing on size or interval, until ctx
// is canceled, then drains remaining buffered records up to
// cfg.ShutdownTimeout before returning.
func (w *Writer) Run(ctx context.Context) {
	batch := make([]*record.TrackingRecord, 0, w.cfg.BatchSize)
	ticker := time.NewTicker(w.cfg.BatchInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(ctx, batch)
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			w.drain(batch)
			return
		case r, ok := <-w.in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, r)
			if len(batch) >= w.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// drain empties any already-buffered batch plus whatever remains on
// the channel, up to cfg.ShutdownTimeout, per spec.md §4.6.
func (w *Writer) drain(batch []*record.TrackingRecord) {
	deadline := time.Now().Add(w.cfg.ShutdownTimeout)
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.ShutdownTimeout)
	defer cancel()

	for {
		if len(batch) >= w.cfg.BatchSize || time.Now().After(deadline) {
			w.flush(ctx, batch)
			batch = batch[:0]
		}
		if time.Now().After(deadline) {
			break
		}
		select {
		case r, ok := <-w.in:
			if !ok {
				w.flush(ctx, batch)
				return
			}
			batch = append(batch, r)
		case <-time.After(time.Until(deadline)):
			w.flush(ctx, batch)
			w.log.Warn("shutdown drain deadline exceeded", "abandoned", len(w.in))
			return
		}
	}
}

// flush performs one bulk insert attempt through the circuit breaker.
// On an Open breaker or a failed insert, every record in batch is
// dead-lettered to disk instead of being silently lost.
func (w *Writer) flush(ctx context.Context, batch []*record.TrackingRecord) {
	if len(batch) == 0 {
		return
	}
	copied := make([]*record.TrackingRecord, len(batch))
	copy(copied, batch)

	insertCtx, cancel := context.WithTimeout(ctx, w.cfg.BulkCopyTimeout)
	defer cancel()

	_, err := w.breaker.ExecuteContext(insertCtx, func(c context.Context) (interface{}, error) {
		return nil, w.store.BulkInsert(c, copied)
	})

	w.reportState()

	if err != nil {
		w.metrics.BatchFailed(len(copied))
		w.log.Error("bulk insert failed", "batch_size", len(copied), "error", err)
		w.deadLetter(copied, &errs.BulkWriteError{BatchSize: len(copied), Err: err})
		return
	}
	w.metrics.BatchWritten(len(copied))
}

func (w *Writer) reportState() {
	state := w.breaker.State()
	w.mu.Lock()
	changed := state != w.lastKnownState
	w.lastKnownState = state
	w.mu.Unlock()
	if changed {
		w.metrics.CircuitState(w.breaker.Name(), state.String())
		if w.cfg.Events != nil {
			w.cfg.Events.Emit("com.smartpixl.forge.writer.circuit_state_changed", "bulk-writer", w.breaker.Name(), map[string]interface{}{
				"state": state.String(),
			})
		}
	}
}

// deadLetter appends the batch as newline-delimited JSON to a
// timestamped file under cfg.DeadLetterDir, in the same wire format
// the Failover Replayer already knows how to replay.
func (w *Writer) deadLetter(batch []*record.TrackingRecord, cause error) {
	if w.cfg.DeadLetterDir == "" {
		w.metrics.RecordDropped("no_dead_letter_dir")
		return
	}
	name := filepath.Join(w.cfg.DeadLetterDir, "failover_"+time.Now().UTC().Format("20060102T150405.000000000")+".jsonl")
	f, err := os.Create(name)
	if err != nil {
		w.log.Error("failed to create dead-letter file", "error", err, "cause", cause)
		w.metrics.RecordDropped("dead_letter_write_failed")
		return
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, r := range batch {
		if err := enc.Encode(r); err != nil {
			w.log.Error("failed to encode dead-letter record", "error", err)
		}
	}

	if w.cfg.Events != nil {
		w.cfg.Events.Emit("com.smartpixl.forge.writer.batch_dead_lettered", "bulk-writer", name, map[string]interface{}{
			"batch_size": len(batch),
			"cause":      cause.Error(),
		})
	}
}
