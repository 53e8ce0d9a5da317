package transport

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/smartpixl/forge/internal/events"
	"github.com/smartpixl/forge/internal/record"
)

// failoverPattern is the glob the replayer scans for, per spec.md §4.2.
const failoverPattern = "failover_*.jsonl"

// FailoverScanInterval is how often the replayer re-scans its directory.
const FailoverScanInterval = 60 * time.Second

// Replayer implements spec.md §4.2: periodically scans a directory for
// dead-lettered JSONL files and replays their records onto the same
// enrichment channel the live listener feeds.
type Replayer struct {
	dir          string
	scanInterval time.Duration
	out          chan<- *record.TrackingRecord
	metrics      Metrics
	log          *slog.Logger
	events       events.EventEmitter
}

// NewReplayer returns a Replayer scanning dir on scanInterval (defaults
// to FailoverScanInterval if non-positive). emitter may be nil; when
// set, every archived failover file is also published as a CloudEvent.
func NewReplayer(dir string, scanInterval time.Duration, out chan<- *record.TrackingRecord, m Metrics, log *slog.Logger, emitter events.EventEmitter) *Replayer {
	if scanInterval <= 0 {
		scanInterval = FailoverScanInterval
	}
	if m == nil {
		m = noopMetrics{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Replayer{dir: dir, scanInterval: scanInterval, out: out, metrics: m, log: log.With("component", "failover-replayer"), events: emitter}
}

// Run scans on a ticker until ctx is canceled.
func (rp *Replayer) Run(ctx context.Context) {
	ticker := time.NewTicker(rp.scanInterval)
	defer ticker.Stop()

	rp.scanOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rp.scanOnce(ctx)
		}
	}
}

// scanOnce lists failover_*.jsonl files (".done" files are excluded by
// the glob itself, since they carry a different suffix) in
// filename-sorted order and replays each.
func (rp *Replayer) scanOnce(ctx context.Context) {
	matches, err := filepath.Glob(filepath.Join(rp.dir, failoverPattern))
	if err != nil {
		rp.log.Error("failover scan failed", "error", err)
		return
	}
	sort.Strings(matches)

	for _, path := range matches {
		select {
		case <-ctx.Done():
			return
		default:
		}
		rp.replayFile(ctx, path)
	}
}

// replayFile streams path line by line, enqueuing each decodable
// record, then atomically renames the file to a ".done" suffix. A
// malformed line is skipped and counted; the file is still archived at
// EOF per spec.md §4.2.
func (rp *Replayer) replayFile(ctx context.Context, path string) {
	f, err := os.Open(path)
	if err != nil {
		rp.log.Error("failed to open failover file", "path", path, "error", err)
		return
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		r, err := record.Decode(line)
		if err != nil {
			rp.metrics.RecordDecodeError("failover")
			rp.log.Warn("malformed failover line, skipping", "path", path, "error", err)
			continue
		}
		rp.enqueue(ctx, r)
	}
	_ = f.Close()

	if err := os.Rename(path, path+".done"); err != nil {
		rp.log.Error("failed to archive failover file", "path", path, "error", err)
		return
	}
	if rp.events != nil {
		rp.events.Emit("com.smartpixl.forge.transport.failover_archived", "failover-replayer", path, map[string]interface{}{})
	}
}

func (rp *Replayer) enqueue(ctx context.Context, r *record.TrackingRecord) {
	select {
	case rp.out <- r:
		rp.metrics.RecordEnqueued("failover")
		return
	default:
	}

	timer := time.NewTimer(enqueueBlockWindow)
	defer timer.Stop()
	select {
	case rp.out <- r:
		rp.metrics.RecordEnqueued("failover")
	case <-timer.C:
		rp.metrics.RecordDropped("channel_full")
		rp.log.Warn("enrichment channel full, dropping failover record", "company_id", r.CompanyID)
	case <-ctx.Done():
	}
}
