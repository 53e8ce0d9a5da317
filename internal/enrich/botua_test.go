package enrich

import (
	"testing"

	"github.com/smartpixl/forge/internal/record"
)

func TestBotUADetectKnown(t *testing.T) {
	b := NewBotUA()
	isBot, name := b.Detect("Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)")
	if !isBot || name != "Googlebot" {
		t.Fatalf("expected Googlebot match, got isBot=%v name=%q", isBot, name)
	}
}

func TestBotUADetectHuman(t *testing.T) {
	b := NewBotUA()
	isBot, name := b.Detect("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	if isBot || name != "" {
		t.Fatalf("expected no bot match, got isBot=%v name=%q", isBot, name)
	}
}

func TestBotUADetectEmpty(t *testing.T) {
	b := NewBotUA()
	isBot, _ := b.Detect("")
	if isBot {
		t.Fatal("expected empty UA to not match")
	}
}

func TestBotUAApplyAppendsKeys(t *testing.T) {
	b := NewBotUA()
	r := &record.TrackingRecord{UserAgent: "curl/8.1.0"}
	b.Apply(0, r)

	v, ok := r.Get("_srv_knownBot")
	if !ok || v != "1" {
		t.Fatalf("expected _srv_knownBot=1, got %q ok=%v", v, ok)
	}
	name, ok := r.Get("_srv_botName")
	if !ok || name != "curl" {
		t.Fatalf("expected _srv_botName=curl, got %q ok=%v", name, ok)
	}
}

func TestBotUAApplyOmitsBotNameForHuman(t *testing.T) {
	b := NewBotUA()
	r := &record.TrackingRecord{UserAgent: "Mozilla/5.0 (Macintosh)"}
	b.Apply(0, r)

	if r.HasServer("botName") {
		t.Fatal("did not expect _srv_botName for a human UA")
	}
}
