package record

import "testing"

func TestDecode(t *testing.T) {
	line := []byte(`{"CompanyID":"42","PiXLID":"p1","IPAddress":"8.8.8.8","UserAgent":"ua","Referer":"","QueryString":"sw=2560","RequestPath":"/pixel","HeadersJson":"{}","ReceivedAt":"2026-01-01T00:00:00Z"}`)
	r, err := Decode(line)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if r.CompanyID != "42" || r.PixelID != "p1" {
		t.Fatalf("unexpected decode: %+v", r)
	}
}

func TestAppendServerGrowsMonotonically(t *testing.T) {
	r := &TrackingRecord{QueryString: "sw=2560&sh=1440"}
	before := r.Keys()

	r.AppendServer(0, "browser", "Chrome")
	r.AppendServer(0, "os", "Mac OS X")

	after := r.Keys()
	for k := range before {
		if _, ok := after[k]; !ok {
			t.Fatalf("key %q lost after enrichment", k)
		}
	}
	if len(after) != len(before)+2 {
		t.Fatalf("expected %d keys, got %d", len(before)+2, len(after))
	}

	v, ok := r.Get("_srv_browser")
	if !ok || v != "Chrome" {
		t.Fatalf("expected _srv_browser=Chrome, got %q ok=%v", v, ok)
	}
}

func TestAppendServerTruncatesAtCap(t *testing.T) {
	r := &TrackingRecord{}
	r.AppendServer(10, "k", "a-value-too-long-to-fit")
	if !r.Truncated {
		t.Fatal("expected Truncated to be set")
	}
	if r.QueryString != "" {
		t.Fatalf("expected no append past cap, got %q", r.QueryString)
	}
}

func TestAppendServerBoolOmitsFalse(t *testing.T) {
	r := &TrackingRecord{}
	r.AppendServerBool(0, "knownBot", false)
	if r.QueryString != "" {
		t.Fatalf("expected no key appended for false, got %q", r.QueryString)
	}
	r.AppendServerBool(0, "knownBot", true)
	if v, ok := r.Get("_srv_knownBot"); !ok || v != "1" {
		t.Fatalf("expected _srv_knownBot=1, got %q ok=%v", v, ok)
	}
}

func TestHasServerRespectsOrdering(t *testing.T) {
	r := &TrackingRecord{}
	if r.HasServer("browser") {
		t.Fatal("HasServer should be false before any append")
	}
	r.AppendServer(0, "browser", "Chrome")
	if !r.HasServer("browser") {
		t.Fatal("HasServer should be true after append")
	}
}
