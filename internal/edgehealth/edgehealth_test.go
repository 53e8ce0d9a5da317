package edgehealth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientHealthReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/internal/health" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL)
	status := c.Health(context.Background())
	if !status.IsReachable {
		t.Fatal("expected reachable status")
	}
}

func TestClientHealthUnreachableOnConnError(t *testing.T) {
	c := New("http://127.0.0.1:1") // nothing listens here
	status := c.Health(context.Background())
	if status.IsReachable {
		t.Fatal("expected unreachable status on connection failure")
	}
}

func TestClientResetCircuitPostsToExpectedPath(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL)
	status := c.ResetCircuit(context.Background())
	if !status.IsReachable {
		t.Fatal("expected reachable status")
	}
	if gotMethod != http.MethodPost || gotPath != "/internal/circuit-reset" {
		t.Fatalf("unexpected request: %s %s", gotMethod, gotPath)
	}
}
