package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smartpixl/forge/internal/record"
)

func TestGeoAPIApplySkipsWhenCountryKnown(t *testing.T) {
	g, err := NewGeoAPI(context.Background(), "http://unused.invalid", "key", time.Millisecond, time.Hour, nil, nil)
	if err != nil {
		t.Fatalf("NewGeoAPI: %v", err)
	}
	r := &record.TrackingRecord{IPAddress: "1.2.3.4"}
	r.AppendServer(0, "geoCountry", "US")

	g.Apply(context.Background(), 0, r)

	if r.HasServer("geoApiAffluence") {
		t.Fatal("did not expect an API call when geoCountry is already set")
	}
}

func TestGeoAPIApplyFetchesAndCaches(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		hits++
		_ = json.NewEncoder(w).Encode(geoAPIResponse{Affluence: "high", ISP: "Comcast"})
	}))
	defer srv.Close()

	g, err := NewGeoAPI(context.Background(), srv.URL, "key", time.Millisecond, time.Hour, nil, nil)
	if err != nil {
		t.Fatalf("NewGeoAPI: %v", err)
	}

	r1 := &record.TrackingRecord{IPAddress: "5.6.7.8"}
	g.Apply(context.Background(), 0, r1)
	v, ok := r1.Get("_srv_geoApiAffluence")
	if !ok || v != "high" {
		t.Fatalf("expected geoApiAffluence=high, got %q ok=%v", v, ok)
	}

	r2 := &record.TrackingRecord{IPAddress: "5.6.7.8"}
	time.Sleep(2 * time.Millisecond)
	g.Apply(context.Background(), 0, r2)

	if hits != 1 {
		t.Fatalf("expected cache hit to avoid a second request, got %d requests", hits)
	}
}

func TestGeoAPIApplyNoIP(t *testing.T) {
	g, err := NewGeoAPI(context.Background(), "http://unused.invalid", "key", time.Millisecond, time.Hour, nil, nil)
	if err != nil {
		t.Fatalf("NewGeoAPI: %v", err)
	}
	r := &record.TrackingRecord{}
	g.Apply(context.Background(), 0, r)
	if r.QueryString != "" {
		t.Fatalf("expected no fields for empty IP, got %q", r.QueryString)
	}
}
