package enrich

import (
	"testing"

	"github.com/smartpixl/forge/internal/record"
)

func TestLeadScoreApplyKnownBotZeroesScore(t *testing.T) {
	l := NewLeadScore()
	r := &record.TrackingRecord{}
	r.AppendServerBool(0, "knownBot", true)
	l.Apply(0, r)

	v, ok := r.Get("_srv_leadScore")
	if !ok || v != "0" {
		t.Fatalf("expected leadScore=0 for known bot, got %q ok=%v", v, ok)
	}
}

func TestLeadScoreApplyNoSignalsScoresNonCloudBaselineOnly(t *testing.T) {
	l := NewLeadScore()
	r := &record.TrackingRecord{}
	l.Apply(0, r)

	v, ok := r.Get("_srv_leadScore")
	// every positive signal needs explicit evidence except "non-cloud
	// hostname", which passes whenever no cloud provider was matched.
	if !ok || v != "10" {
		t.Fatalf("expected leadScore=10 with no signals present, got %q ok=%v", v, ok)
	}
}

func TestLeadScoreApplyCleanHumanVisitorMeetsThreshold(t *testing.T) {
	l := NewLeadScore()
	r := &record.TrackingRecord{}
	r.AppendServerBool(0, "hasMouse", true)
	r.AppendServer(0, "geoCountry", "US")
	r.AppendServerInt(0, "contradictions", 0)
	r.QueryString += "mouseMoves=47&"
	l.Apply(0, r)

	v, ok := r.Get("_srv_leadScore")
	if !ok {
		t.Fatal("expected a leadScore")
	}
	if v != "70" {
		t.Fatalf("expected leadScore=70 (mouse 20 + locale 15 + zero-contradictions 20 + non-cloud 10 + entropy 5), got %q", v)
	}
}

func TestLeadScoreApplyCloudHostedTrafficLosesNonCloudPoints(t *testing.T) {
	l := NewLeadScore()
	r := &record.TrackingRecord{}
	r.AppendServer(0, "cloudProvider", "aws")
	r.AppendServerInt(0, "contradictions", 0)
	l.Apply(0, r)

	v, _ := r.Get("_srv_leadScore")
	if v != "20" {
		t.Fatalf("expected leadScore=20 (zero-contradictions only), got %q", v)
	}
}

func TestLeadScoreApplyMultiPageEngagedSession(t *testing.T) {
	l := NewLeadScore()
	r := &record.TrackingRecord{}
	r.AppendServerBool(0, "hasMouse", true)
	r.AppendServerBool(0, "hasKeyboard", true)
	r.AppendServerInt(0, "sessionDurationSec", 120)
	r.AppendServerInt(0, "sessionPages", 3)
	r.AppendServerInt(0, "contradictions", 0)
	l.Apply(0, r)

	v, _ := r.Get("_srv_leadScore")
	// mouse 20 + keyboard 10 + duration 10 + multipage 5 + zero-contradictions 20 + non-cloud 10 = 75
	if v != "75" {
		t.Fatalf("expected leadScore=75, got %q", v)
	}
}
