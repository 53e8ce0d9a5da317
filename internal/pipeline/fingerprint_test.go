package pipeline

import (
	"testing"

	"github.com/smartpixl/forge/internal/record"
)

func TestFingerprintStableAcrossRequests(t *testing.T) {
	r1 := &record.TrackingRecord{QueryString: "platform=MacIntel&sw=2560&sh=1440&tzoffset=-300&lang=en-US", UserAgent: "ua1"}
	r2 := &record.TrackingRecord{QueryString: "platform=MacIntel&sw=2560&sh=1440&tzoffset=-300&lang=en-US", UserAgent: "ua1"}
	if Fingerprint(r1) != Fingerprint(r2) {
		t.Fatal("expected identical signals to produce the same fingerprint")
	}
}

func TestFingerprintDiffersOnDifferentDevice(t *testing.T) {
	r1 := &record.TrackingRecord{QueryString: "platform=MacIntel&sw=2560&sh=1440", UserAgent: "ua1"}
	r2 := &record.TrackingRecord{QueryString: "platform=Win32&sw=1920&sh=1080", UserAgent: "ua1"}
	if Fingerprint(r1) == Fingerprint(r2) {
		t.Fatal("expected different signals to produce different fingerprints")
	}
}
