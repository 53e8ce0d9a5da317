package maintenance

import (
	"context"
	"testing"
	"time"
)

type fakeStore struct {
	purgeBatches  []int
	purgeRemain   int64
	frag          float64
	pages         int64
	rebuilt       bool
	reorganized   bool
	auditedActions []string
}

func (f *fakeStore) PurgeBatch(ctx context.Context, olderThan time.Time, limit int) (int64, error) {
	n := int64(limit)
	if f.purgeRemain < n {
		n = f.purgeRemain
	}
	f.purgeRemain -= n
	f.purgeBatches = append(f.purgeBatches, int(n))
	return n, nil
}

func (f *fakeStore) IndexFragmentation(ctx context.Context) (float64, int64, error) {
	return f.frag, f.pages, nil
}

func (f *fakeStore) RebuildIndex(ctx context.Context) error {
	f.rebuilt = true
	return nil
}

func (f *fakeStore) ReorganizeIndex(ctx context.Context) error {
	f.reorganized = true
	return nil
}

func (f *fakeStore) AppendRemediationLog(ctx context.Context, action, detail string, rowsAffected int64) error {
	f.auditedActions = append(f.auditedActions, action)
	return nil
}

func TestRunPurgeNowStopsBelowBatchSize(t *testing.T) {
	store := &fakeStore{purgeRemain: 25_000}
	s := New(store, nil, nil, nil)
	s.RunPurgeNow(context.Background(), 90)

	if len(store.purgeBatches) != 3 {
		t.Fatalf("expected 3 purge batches (10k,10k,5k), got %v", store.purgeBatches)
	}
	if store.purgeBatches[2] != 5000 {
		t.Fatalf("expected final batch of 5000, got %d", store.purgeBatches[2])
	}
}

func TestRunIndexMaintenanceRebuildsAboveThreshold(t *testing.T) {
	store := &fakeStore{frag: 45.0, pages: 5000}
	s := New(store, nil, nil, nil)
	s.RunIndexMaintenanceNow(context.Background())

	if !store.rebuilt {
		t.Fatal("expected a rebuild above the 30% fragmentation threshold")
	}
	if store.reorganized {
		t.Fatal("did not expect a reorganize when a rebuild already ran")
	}
}

func TestRunIndexMaintenanceReorganizesMidRange(t *testing.T) {
	store := &fakeStore{frag: 15.0, pages: 5000}
	s := New(store, nil, nil, nil)
	s.RunIndexMaintenanceNow(context.Background())

	if !store.reorganized {
		t.Fatal("expected a reorganize between 10% and 30% fragmentation")
	}
	if store.rebuilt {
		t.Fatal("did not expect a rebuild in the reorganize range")
	}
}

func TestRunIndexMaintenanceSkipsSmallIndex(t *testing.T) {
	store := &fakeStore{frag: 90.0, pages: 50}
	s := New(store, nil, nil, nil)
	s.RunIndexMaintenanceNow(context.Background())

	if store.rebuilt || store.reorganized {
		t.Fatal("did not expect any action on a small index regardless of fragmentation")
	}
}
