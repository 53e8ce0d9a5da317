package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/smartpixl/forge/internal/clock"
	"github.com/smartpixl/forge/internal/enrich"
	"github.com/smartpixl/forge/internal/record"
)

func TestPipelineProcessRunsAvailableSteps(t *testing.T) {
	in := make(chan *record.TrackingRecord, 1)
	out := make(chan *record.TrackingRecord, 1)

	svc := Services{
		BotUA:     enrich.NewBotUA(),
		Affluence: enrich.NewAffluence(),
		LeadScore: enrich.NewLeadScore(),
	}
	p := New(in, out, svc, clock.NewFake(time.Unix(1700000000, 0)), nil, nil, Config{MaxQueryStringLen: 0})

	r := &record.TrackingRecord{CompanyID: "c1", UserAgent: "curl/8.0"}
	p.process(context.Background(), r)

	select {
	case got := <-out:
		if !got.HasServer("knownBot") {
			t.Fatal("expected knownBot to be set by the bot-UA step")
		}
		if !got.HasServer("leadScore") {
			t.Fatal("expected leadScore to be set")
		}
	default:
		t.Fatal("expected a record on the writer channel")
	}
}

func TestPipelineProcessDropsOnFullWriterChannel(t *testing.T) {
	in := make(chan *record.TrackingRecord, 1)
	out := make(chan *record.TrackingRecord) // unbuffered, no reader

	p := New(in, out, Services{}, nil, nil, nil, Config{})
	r := &record.TrackingRecord{CompanyID: "c1"}
	p.process(context.Background(), r)
	// process must return without blocking even though out has no reader.
}

func TestPipelineProcessSkipsNilServicesGracefully(t *testing.T) {
	in := make(chan *record.TrackingRecord, 1)
	out := make(chan *record.TrackingRecord, 1)
	p := New(in, out, Services{}, nil, nil, nil, Config{})

	r := &record.TrackingRecord{CompanyID: "c1", UserAgent: "ua"}
	p.process(context.Background(), r)

	select {
	case got := <-out:
		if got.QueryString != "" {
			t.Fatalf("expected no enrichment fields with all services nil, got %q", got.QueryString)
		}
	default:
		t.Fatal("expected record to still reach the writer channel")
	}
}
