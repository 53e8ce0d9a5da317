package stateful

import (
	"testing"
	"time"

	"github.com/smartpixl/forge/internal/clock"
	"github.com/smartpixl/forge/internal/record"
)

func TestDeadInternetApplyBelowMinHitsOmitsIndex(t *testing.T) {
	fc := clock.NewFake(time.Unix(1_700_000_000, 0))
	d := NewDeadInternet(fc)

	for i := 0; i < DeadInternetMinHits-1; i++ {
		r := &record.TrackingRecord{}
		d.Apply(0, r, "companyA", "fp1", false, false, false, false, false)
		if r.HasServer("deadInternetIndex") {
			t.Fatal("did not expect an index before the minimum hit count")
		}
	}
}

func TestDeadInternetApplyAllBotTrafficMaxesIndex(t *testing.T) {
	fc := clock.NewFake(time.Unix(1_700_000_000, 0))
	d := NewDeadInternet(fc)

	var last *record.TrackingRecord
	for i := 0; i < DeadInternetMinHits; i++ {
		r := &record.TrackingRecord{}
		d.Apply(0, r, "companyA", "fp1", true, true, true, true, true)
		last = r
	}
	index, ok := last.Get("_srv_deadInternetIndex")
	if !ok {
		t.Fatal("expected an index once min hits reached")
	}
	if index != "100" {
		t.Fatalf("expected index 100 for all-bad traffic, got %q", index)
	}
}

func TestDeadInternetApplyCleanTrafficMinimizesIndex(t *testing.T) {
	fc := clock.NewFake(time.Unix(1_700_000_000, 0))
	d := NewDeadInternet(fc)

	var last *record.TrackingRecord
	for i := 0; i < DeadInternetMinHits; i++ {
		r := &record.TrackingRecord{}
		d.Apply(0, r, "companyA", "fp-distinct-"+string(rune('A'+i)), false, false, false, false, false)
		last = r
	}
	index, ok := last.Get("_srv_deadInternetIndex")
	if !ok {
		t.Fatal("expected an index once min hits reached")
	}
	if index != "0" {
		t.Fatalf("expected index 0 for clean diverse traffic, got %q", index)
	}
}

func TestDeadInternetEvictDropsIdleCustomers(t *testing.T) {
	fc := clock.NewFake(time.Unix(1_700_000_000, 0))
	d := NewDeadInternet(fc)
	d.Apply(0, &record.TrackingRecord{}, "companyA", "fp1", false, false, false, false, false)

	fc.Advance(49 * time.Hour)
	removed := d.Evict()
	if removed != 1 {
		t.Fatalf("expected 1 evicted customer, got %d", removed)
	}
}
