package enrich

import (
	"testing"

	"github.com/smartpixl/forge/internal/record"
)

func TestClientSignalsApplyMouseAndKeyboard(t *testing.T) {
	c := NewClientSignals()
	r := &record.TrackingRecord{QueryString: "mouseMoves=47&keyPresses=12"}
	c.Apply(0, r)

	if v, _ := r.Get("_srv_hasMouse"); v != "1" {
		t.Fatalf("expected hasMouse=1, got %q", v)
	}
	if v, _ := r.Get("_srv_hasKeyboard"); v != "1" {
		t.Fatalf("expected hasKeyboard=1, got %q", v)
	}
}

func TestClientSignalsApplyNoActivity(t *testing.T) {
	c := NewClientSignals()
	r := &record.TrackingRecord{}
	c.Apply(0, r)

	if r.HasServer("hasMouse") {
		t.Fatal("did not expect hasMouse with no mouse data")
	}
	if r.HasServer("hasKeyboard") {
		t.Fatal("did not expect hasKeyboard with no keyboard data")
	}
}

func TestClientSignalsApplyMousePathWithoutCount(t *testing.T) {
	c := NewClientSignals()
	r := &record.TrackingRecord{QueryString: "mp=10,20,0;15,25,120"}
	c.Apply(0, r)

	if v, _ := r.Get("_srv_hasMouse"); v != "1" {
		t.Fatalf("expected hasMouse=1 from a raw path when mouseMoves is absent, got %q", v)
	}
}
