package etl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeRunner struct {
	mu       sync.Mutex
	calls    []string
	failN    map[string]int // procedure name -> number of times to fail before succeeding
	deadlock bool
}

func (f *fakeRunner) RunProcedure(ctx context.Context, name string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if n, ok := f.failN[name]; ok && n > 0 {
		f.failN[name]--
		if f.deadlock {
			return 0, errDeadlock
		}
		return 0, errors.New("transient failure")
	}
	return 10, nil
}

var errDeadlock = errors.New("deadlock victim")

func TestSchedulerTickRunsProceduresInOrder(t *testing.T) {
	runner := &fakeRunner{failN: map[string]int{}}
	s := New(runner, nil, nil, nil, time.Hour, nil)
	s.tick(context.Background())

	want := []string{"ParseNewHits", "MatchVisits", "EnrichParsedGeo", "MatchLegacyVisits"}
	if len(runner.calls) != len(want) {
		t.Fatalf("expected %d calls, got %d: %v", len(want), len(runner.calls), runner.calls)
	}
	for i, name := range want {
		if runner.calls[i] != name {
			t.Fatalf("call %d: expected %s, got %s", i, name, runner.calls[i])
		}
	}
}

func TestSchedulerRetriesOnDeadlock(t *testing.T) {
	runner := &fakeRunner{failN: map[string]int{"MatchVisits": 2}, deadlock: true}
	isDeadlock := func(err error) bool { return err == errDeadlock }
	s := New(runner, isDeadlock, nil, nil, time.Hour, nil)

	start := time.Now()
	s.tick(context.Background())
	elapsed := time.Since(start)

	matchVisitsCalls := 0
	for _, c := range runner.calls {
		if c == "MatchVisits" {
			matchVisitsCalls++
		}
	}
	if matchVisitsCalls != 3 {
		t.Fatalf("expected 3 attempts at MatchVisits (2 failures + 1 success), got %d", matchVisitsCalls)
	}
	if elapsed < 500*time.Millisecond {
		t.Fatalf("expected backoff delay between retries, elapsed only %v", elapsed)
	}
}

func TestSchedulerStopsOnNonDeadlockFailure(t *testing.T) {
	runner := &fakeRunner{failN: map[string]int{"MatchVisits": 1}, deadlock: false}
	isDeadlock := func(err error) bool { return err == errDeadlock }
	s := New(runner, isDeadlock, nil, nil, time.Hour, nil)
	s.tick(context.Background())

	var sawEnrich bool
	for _, c := range runner.calls {
		if c == "EnrichParsedGeo" {
			sawEnrich = true
		}
	}
	if sawEnrich {
		t.Fatal("did not expect the sequence to continue past a non-deadlock failure")
	}
}
