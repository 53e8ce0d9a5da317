package writer

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/smartpixl/forge/internal/circuitbreaker"
	"github.com/smartpixl/forge/internal/record"
)

type fakeStore struct {
	mu      sync.Mutex
	batches [][]*record.TrackingRecord
	err     error
}

func (f *fakeStore) BulkInsert(ctx context.Context, records []*record.TrackingRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, records)
	return nil
}

func (f *fakeStore) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func newTestBreaker() *circuitbreaker.CircuitBreaker {
	return circuitbreaker.New(circuitbreaker.BulkWriterConfig(nil))
}

func TestWriterFlushesOnBatchSize(t *testing.T) {
	in := make(chan *record.TrackingRecord, 10)
	store := &fakeStore{}
	w := New(in, store, newTestBreaker(), nil, nil, Config{BatchSize: 2, BatchInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)

	in <- &record.TrackingRecord{CompanyID: "a"}
	in <- &record.TrackingRecord{CompanyID: "b"}

	deadline := time.After(time.Second)
	for store.batchCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for a flushed batch")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	cancel()
}

func TestWriterFlushesOnInterval(t *testing.T) {
	in := make(chan *record.TrackingRecord, 10)
	store := &fakeStore{}
	w := New(in, store, newTestBreaker(), nil, nil, Config{BatchSize: 100, BatchInterval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	in <- &record.TrackingRecord{CompanyID: "a"}

	deadline := time.After(time.Second)
	for store.batchCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for an interval-triggered flush")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestWriterDeadLettersOnFailure(t *testing.T) {
	dir := t.TempDir()
	in := make(chan *record.TrackingRecord, 10)
	store := &fakeStore{err: errors.New("insert failed")}
	w := New(in, store, newTestBreaker(), nil, nil, Config{BatchSize: 1, BatchInterval: time.Hour, DeadLetterDir: dir})

	w.flush(context.Background(), []*record.TrackingRecord{{CompanyID: "dead"}})

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 dead-letter file, got %d", len(entries))
	}

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var r record.TrackingRecord
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if r.CompanyID != "dead" {
		t.Fatalf("unexpected dead-letter content: %+v", r)
	}
}

func TestWriterDrainOnShutdown(t *testing.T) {
	in := make(chan *record.TrackingRecord, 10)
	store := &fakeStore{}
	w := New(in, store, newTestBreaker(), nil, nil, Config{BatchSize: 100, BatchInterval: time.Hour, ShutdownTimeout: 200 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	in <- &record.TrackingRecord{CompanyID: "a"}
	time.Sleep(10 * time.Millisecond)
	close(in)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Run to return after shutdown")
	}
}
