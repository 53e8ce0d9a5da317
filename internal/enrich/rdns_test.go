package enrich

import (
	"context"
	"testing"
	"time"

	"github.com/smartpixl/forge/internal/record"
)

type fakeResolver struct {
	names []string
	err   error
}

func (f *fakeResolver) LookupAddr(ctx context.Context, addr string) ([]string, error) {
	return f.names, f.err
}

func TestRDNSApplyCloudHost(t *testing.T) {
	rdns := NewRDNS(&fakeResolver{names: []string{"ec2-1-2-3-4.compute.amazonaws.com."}}, time.Second)
	r := &record.TrackingRecord{IPAddress: "1.2.3.4"}
	rdns.Apply(0, r)

	host, ok := r.Get("_srv_rdns")
	if !ok || host != "ec2-1-2-3-4.compute.amazonaws.com" {
		t.Fatalf("unexpected rdns value: %q ok=%v", host, ok)
	}
	provider, ok := r.Get("_srv_cloudProvider")
	if !ok || provider != "AWS" {
		t.Fatalf("expected AWS provider, got %q ok=%v", provider, ok)
	}
	if !r.HasServer("datacenterTraffic") {
		t.Fatal("expected datacenterTraffic flag")
	}
}

func TestRDNSApplyResidential(t *testing.T) {
	rdns := NewRDNS(&fakeResolver{names: []string{"c-73-1-2-3.hsd1.ca.comcast.net."}}, time.Second)
	r := &record.TrackingRecord{IPAddress: "73.1.2.3"}
	rdns.Apply(0, r)

	if !r.HasServer("rdns") {
		t.Fatal("expected rdns to be set")
	}
	if r.HasServer("cloudProvider") {
		t.Fatal("did not expect a cloud provider match")
	}
}

func TestRDNSApplyNoIP(t *testing.T) {
	rdns := NewRDNS(&fakeResolver{}, time.Second)
	r := &record.TrackingRecord{}
	rdns.Apply(0, r)
	if r.HasServer("rdns") {
		t.Fatal("did not expect rdns without an IP")
	}
}

func TestRDNSApplyLookupError(t *testing.T) {
	rdns := NewRDNS(&fakeResolver{err: context.DeadlineExceeded}, time.Second)
	r := &record.TrackingRecord{IPAddress: "8.8.8.8"}
	rdns.Apply(0, r)
	if r.HasServer("rdns") {
		t.Fatal("expected silent failure on lookup error")
	}
}
