package stateful

import (
	"testing"

	"github.com/smartpixl/forge/internal/record"
)

func TestArbitrageApplyFullyConsistent(t *testing.T) {
	a := NewArbitrage()
	r := &record.TrackingRecord{QueryString: "lang=en-US&tzoffset=-300"}
	r.AppendServer(0, "geoCountry", "US")
	a.Apply(0, r)

	score, _ := r.Get("_srv_arbitrageScore")
	if score != "100" {
		t.Fatalf("expected full score 100, got %q", score)
	}
	if r.HasServer("culturalFlags") {
		t.Fatal("did not expect cultural flags for a consistent record")
	}
}

func TestArbitrageApplyLanguageMismatch(t *testing.T) {
	a := NewArbitrage()
	r := &record.TrackingRecord{QueryString: "lang=zh-CN&tzoffset=-300"}
	r.AppendServer(0, "geoCountry", "US")
	a.Apply(0, r)

	flags, ok := r.Get("_srv_culturalFlags")
	if !ok {
		t.Fatal("expected a cultural flag for language mismatch")
	}
	if flags != "lang" {
		t.Fatalf("expected only lang flag, got %q", flags)
	}
	score, _ := r.Get("_srv_arbitrageScore")
	if score != "80" {
		t.Fatalf("expected score 80 (100-20), got %q", score)
	}
}

func TestArbitrageApplyNoGeoCountryPassesThrough(t *testing.T) {
	a := NewArbitrage()
	r := &record.TrackingRecord{QueryString: "lang=zh-CN"}
	a.Apply(0, r)

	score, _ := r.Get("_srv_arbitrageScore")
	if score != "100" {
		t.Fatalf("expected full score without a geo country to compare, got %q", score)
	}
}
