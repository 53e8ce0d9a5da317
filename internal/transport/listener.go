// Package transport implements the Transport Listener (spec.md §4.1)
// and Failover Replayer (spec.md §4.2): the two producers of
// ChanEnrichment.
package transport

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/smartpixl/forge/internal/errs"
	"github.com/smartpixl/forge/internal/record"
)

// maxLineBytes caps a single newline-delimited record per spec.md
// §4.1's 64KB per-message contract.
const maxLineBytes = 64 * 1024

// enqueueBlockWindow is how long a listener instance blocks on a full
// channel before dropping the record, per spec.md §4.1.
const enqueueBlockWindow = 100 * time.Millisecond

// Metrics is the subset of the metrics registry the transport layer
// reports to.
type Metrics interface {
	RecordEnqueued(source string)
	RecordDropped(reason string)
	RecordDecodeError(source string)
}

type noopMetrics struct{}

func (noopMetrics) RecordEnqueued(string)    {}
func (noopMetrics) RecordDropped(string)     {}
func (noopMetrics) RecordDecodeError(string) {}

// Listener runs up to Instances concurrent named-pipe (or Unix socket)
// server instances, each accepting one client connection at a time and
// decoding newline-delimited JSON records onto out.
type Listener struct {
	pipeName  string
	instances int
	out       chan<- *record.TrackingRecord
	metrics   Metrics
	log       *slog.Logger
}

// NewListener returns a Listener bound to pipeName with the given
// number of parallel accept instances.
func NewListener(pipeName string, instances int, out chan<- *record.TrackingRecord, m Metrics, log *slog.Logger) *Listener {
	if instances <= 0 {
		instances = 1
	}
	if m == nil {
		m = noopMetrics{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Listener{pipeName: pipeName, instances: instances, out: out, metrics: m, log: log.With("component", "transport-listener")}
}

// Run binds pipeName and starts Instances accept loops. Returns an
// IPCFatalError immediately if the endpoint cannot be bound; per
// spec.md §4.1 this is the only fatal failure mode.
func (l *Listener) Run(ctx context.Context) error {
	ln, err := listen(l.pipeName)
	if err != nil {
		return &errs.IPCFatalError{PipeName: l.pipeName, Err: err}
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	done := make(chan struct{}, l.instances)
	for i := 0; i < l.instances; i++ {
		go func(id int) {
			l.acceptLoop(ctx, ln, id)
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < l.instances; i++ {
		<-done
	}
	return nil
}

// acceptLoop repeatedly accepts one connection at a time and recycles
// on disconnect, per spec.md §4.1's "listener instance is recycled to
// accept a new client" failure semantics.
func (l *Listener) acceptLoop(ctx context.Context, ln net.Listener, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			l.log.Warn("accept failed, retrying", "instance", id, "error", err)
			continue
		}
		l.handleConn(ctx, conn)
	}
}

func (l *Listener) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		r, err := record.Decode(line)
		if err != nil {
			l.metrics.RecordDecodeError("ipc")
			l.log.Warn("malformed record, dropping", "error", err)
			continue
		}
		l.enqueue(ctx, r)
	}
}

// enqueue attempts a non-blocking send, then a bounded blocking send,
// before dropping, per spec.md §4.1's overflow policy.
func (l *Listener) enqueue(ctx context.Context, r *record.TrackingRecord) {
	select {
	case l.out <- r:
		l.metrics.RecordEnqueued("ipc")
		return
	default:
	}

	timer := time.NewTimer(enqueueBlockWindow)
	defer timer.Stop()
	select {
	case l.out <- r:
		l.metrics.RecordEnqueued("ipc")
	case <-timer.C:
		l.metrics.RecordDropped("channel_full")
		l.log.Warn("enrichment channel full, dropping record", "company_id", r.CompanyID)
	case <-ctx.Done():
	}
}
