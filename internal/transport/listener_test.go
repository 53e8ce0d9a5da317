package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/smartpixl/forge/internal/record"
)

func TestListenerRunDecodesAndEnqueues(t *testing.T) {
	out := make(chan *record.TrackingRecord, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipeName := "forge-test-listener"
	l := NewListener(pipeName, 1, out, nil, nil)

	go func() { _ = l.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("unix", socketPath(pipeName))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	line := []byte(`{"CompanyID":"c1","PiXLID":"p1","IPAddress":"1.2.3.4"}` + "\n")
	if _, err := conn.Write(line); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.Close()

	select {
	case r := <-out:
		if r.CompanyID != "c1" {
			t.Fatalf("unexpected record: %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for enqueued record")
	}
}

func TestListenerHandleConnSkipsMalformedLines(t *testing.T) {
	out := make(chan *record.TrackingRecord, 10)
	l := NewListener("unused", 1, out, nil, nil)

	server, client := net.Pipe()
	done := make(chan struct{})
	go func() {
		l.handleConn(context.Background(), server)
		close(done)
	}()

	go func() {
		_, _ = client.Write([]byte("not json\n"))
		_, _ = client.Write([]byte(`{"CompanyID":"ok"}` + "\n"))
		_ = client.Close()
	}()

	select {
	case r := <-out:
		if r.CompanyID != "ok" {
			t.Fatalf("expected the valid line to decode, got %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the valid record")
	}
	<-done
}
