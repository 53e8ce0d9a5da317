package enrich

import (
	"testing"

	"github.com/smartpixl/forge/internal/record"
)

func TestGeoApplyNoDatabasesLoaded(t *testing.T) {
	g, err := NewGeo("", "", "", nil)
	if err != nil {
		t.Fatalf("NewGeo: %v", err)
	}
	defer g.Close()

	r := &record.TrackingRecord{IPAddress: "8.8.8.8"}
	g.Apply(0, r)

	if r.HasServer("geoCountry") || r.HasServer("geoASN") {
		t.Fatal("expected no geo fields without loaded databases")
	}
}

func TestGeoApplyInvalidIP(t *testing.T) {
	g, err := NewGeo("", "", "", nil)
	if err != nil {
		t.Fatalf("NewGeo: %v", err)
	}
	defer g.Close()

	r := &record.TrackingRecord{IPAddress: "not-an-ip"}
	g.Apply(0, r)

	if r.QueryString != "" {
		t.Fatalf("expected no fields appended for invalid IP, got %q", r.QueryString)
	}
}
