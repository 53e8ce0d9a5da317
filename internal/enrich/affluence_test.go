package enrich

import (
	"testing"

	"github.com/smartpixl/forge/internal/record"
)

func TestAffluenceApplyCleanHumanVisitor(t *testing.T) {
	a := NewAffluence()
	r := &record.TrackingRecord{
		UserAgent:   "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36",
		QueryString: "sw=2560&sh=1440&cores=10&mem=16&gpu=Apple+M1+Pro&plt=MacIntel",
	}
	a.Apply(0, r)

	tier, ok := r.Get("_srv_gpuTier")
	if !ok || tier != "HIGH" {
		t.Fatalf("expected gpuTier=HIGH, got %q ok=%v", tier, ok)
	}
	affluence, ok := r.Get("_srv_affluence")
	if !ok || affluence != "HIGH" {
		t.Fatalf("expected affluence=HIGH, got %q ok=%v", affluence, ok)
	}
}

func TestAffluenceApplyGPUTierOrderingPrefersSpecificMatch(t *testing.T) {
	a := NewAffluence()
	r := &record.TrackingRecord{QueryString: "gpu=NVIDIA+Quadro+RTX+8000"}
	a.Apply(0, r)

	tier, _ := r.Get("_srv_gpuTier")
	if tier != "HIGH" {
		t.Fatalf("expected the specific Quadro RTX 8000 entry to win over a generic RTX catch-all, got %q", tier)
	}
}

func TestAffluenceApplyLowEndDevice(t *testing.T) {
	a := NewAffluence()
	r := &record.TrackingRecord{QueryString: "sw=800&sh=600&cores=2&mem=2&gpu=Intel+HD+Graphics+4000"}
	a.Apply(0, r)

	tier, _ := r.Get("_srv_gpuTier")
	if tier != "LOW" {
		t.Fatalf("expected gpuTier=LOW, got %q", tier)
	}
	affluence, _ := r.Get("_srv_affluence")
	if affluence != "LOW" {
		t.Fatalf("expected affluence=LOW, got %q", affluence)
	}
}

func TestAffluenceApplyUnknownGPUDefaultsLow(t *testing.T) {
	a := NewAffluence()
	r := &record.TrackingRecord{QueryString: "gpu=SomeObscureRenderer"}
	a.Apply(0, r)

	tier, ok := r.Get("_srv_gpuTier")
	if !ok || tier != "LOW" {
		t.Fatalf("expected unmatched gpu to default to LOW, got %q ok=%v", tier, ok)
	}
}

func TestAffluenceApplyNoGPUFieldOmitsGPUTier(t *testing.T) {
	a := NewAffluence()
	r := &record.TrackingRecord{QueryString: "sw=1920&sh=1080"}
	a.Apply(0, r)

	if r.HasServer("gpuTier") {
		t.Fatal("did not expect a gpuTier when no gpu field was supplied")
	}
}
