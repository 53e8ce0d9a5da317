package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBulkWriterConfigTripsAfterThreeConsecutiveFailures(t *testing.T) {
	var transitions []string
	cb := New(BulkWriterConfig(func(name string, from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}))

	failing := func(context.Context) (interface{}, error) { return nil, errors.New("boom") }

	for i := 0; i < 2; i++ {
		if _, err := cb.ExecuteContext(context.Background(), failing); err == nil {
			t.Fatalf("expected failing request to return its own error")
		}
		if cb.State() != StateClosed {
			t.Fatalf("breaker tripped after only %d failures, want 3", i+1)
		}
	}

	if _, err := cb.ExecuteContext(context.Background(), failing); err == nil {
		t.Fatal("expected failing request to return its own error")
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %s, want OPEN after 3 consecutive failures", cb.State())
	}
	if len(transitions) != 1 || transitions[0] != "CLOSED->OPEN" {
		t.Fatalf("transitions = %v, want [CLOSED->OPEN]", transitions)
	}
}

func TestBulkWriterConfigOpenBreakerRejectsWithoutCallingRequest(t *testing.T) {
	cb := New(BulkWriterConfig(nil))
	failing := func(context.Context) (interface{}, error) { return nil, errors.New("boom") }
	for i := 0; i < 3; i++ {
		_, _ = cb.ExecuteContext(context.Background(), failing)
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %s, want OPEN", cb.State())
	}

	called := false
	_, err := cb.ExecuteContext(context.Background(), func(context.Context) (interface{}, error) {
		called = true
		return nil, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Fatal("request body ran while breaker was open")
	}
}

func TestBulkWriterConfigHalfOpenProbeClosesOnSuccess(t *testing.T) {
	cfg := BulkWriterConfig(nil)
	cfg.Timeout = 10 * time.Millisecond
	cb := New(cfg)

	failing := func(context.Context) (interface{}, error) { return nil, errors.New("boom") }
	for i := 0; i < 3; i++ {
		_, _ = cb.ExecuteContext(context.Background(), failing)
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %s, want OPEN", cb.State())
	}

	time.Sleep(cfg.Timeout * 2)

	succeeding := func(context.Context) (interface{}, error) { return "ok", nil }
	if _, err := cb.ExecuteContext(context.Background(), succeeding); err != nil {
		t.Fatalf("half-open probe failed: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %s, want CLOSED after successful half-open probe", cb.State())
	}
}
