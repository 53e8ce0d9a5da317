// Package errs defines the Forge's error taxonomy (spec.md §7). Each
// error type carries a fixed propagation scope: per-record errors never
// escape the per-record handler, batch errors never escape the
// writer's retry/breaker, and ETL errors never escape the scheduler
// tick. Only ConfigError and IPCFatalError are meant to reach main and
// terminate the process.
package errs

import (
	"errors"
	"strconv"
)

// Sentinel errors for conditions that don't need extra context.
var (
	// ErrChannelFull is returned when a non-blocking channel send
	// could not be completed because the channel was at capacity.
	ErrChannelFull = errors.New("forge: channel full")

	// ErrFileAlreadyArchived names the condition of a failover file
	// that already carries the ".done" suffix. The replayer does not
	// return it: its scan glob excludes ".done" files.
	ErrFileAlreadyArchived = errors.New("forge: failover file already archived")
)

// RecordDecodeError wraps a malformed input line. Scope: single
// record. Action: drop the record, increment a counter.
type RecordDecodeError struct {
	Source string // "ipc" or "failover"
	Err    error
}

func (e *RecordDecodeError) Error() string {
	return "forge: record decode error (" + e.Source + "): " + e.Err.Error()
}

func (e *RecordDecodeError) Unwrap() error { return e.Err }

// EnrichmentStepError wraps a single enrichment step's failure. Scope:
// step × record. Action: skip the step, continue the record through
// the remaining steps.
type EnrichmentStepError struct {
	Step string
	Err  error
}

func (e *EnrichmentStepError) Error() string {
	return "forge: enrichment step " + e.Step + " failed: " + e.Err.Error()
}

func (e *EnrichmentStepError) Unwrap() error { return e.Err }

// BulkWriteError wraps a transient SQL failure during a bulk insert.
// Scope: batch. Action: retry inside the circuit breaker contract.
type BulkWriteError struct {
	BatchSize int
	Err       error
}

func (e *BulkWriteError) Error() string {
	return "forge: bulk write error (batch_size=" + strconv.Itoa(e.BatchSize) + "): " + e.Err.Error()
}

func (e *BulkWriteError) Unwrap() error { return e.Err }

// DeadlockError wraps a SQL deadlock-victim error observed by the ETL
// scheduler. Scope: one ETL procedure call. Action: bounded backoff
// retry (spec.md §4.7 — SQL error 1205 on SQL Server; see DESIGN.md for
// how this maps onto the Postgres driver this module ships with).
type DeadlockError struct {
	Procedure string
	Attempt   int
	Err       error
}

func (e *DeadlockError) Error() string {
	return "forge: deadlock on " + e.Procedure + " (attempt " + strconv.Itoa(e.Attempt) + "): " + e.Err.Error()
}

func (e *DeadlockError) Unwrap() error { return e.Err }

// ConfigError wraps a startup-time configuration failure. Scope:
// startup. Action: fatal.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return "forge: config error: " + e.Err.Error() }

func (e *ConfigError) Unwrap() error { return e.Err }

// IPCFatalError wraps a failure to bind the transport listener's
// endpoint. Scope: process. Action: fatal at startup only.
type IPCFatalError struct {
	PipeName string
	Err      error
}

func (e *IPCFatalError) Error() string {
	return "forge: cannot bind ipc endpoint " + e.PipeName + ": " + e.Err.Error()
}

func (e *IPCFatalError) Unwrap() error { return e.Err }

