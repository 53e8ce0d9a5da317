package transport

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smartpixl/forge/internal/record"
)

func TestReplayerScanOnceReplaysAndArchives(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "failover_0001.jsonl")
	content := `{"CompanyID":"c1"}` + "\n" + "not json" + "\n" + `{"CompanyID":"c2"}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	out := make(chan *record.TrackingRecord, 10)
	rp := NewReplayer(dir, time.Hour, out, nil, nil, nil)
	rp.scanOnce(context.Background())

	var got []string
	for i := 0; i < 2; i++ {
		select {
		case r := <-out:
			got = append(got, r.CompanyID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for replayed records")
		}
	}
	if len(got) != 2 || got[0] != "c1" || got[1] != "c2" {
		t.Fatalf("unexpected replayed records: %v", got)
	}

	if _, err := os.Stat(path + ".done"); err != nil {
		t.Fatalf("expected archived file, stat error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected original file to no longer exist under its original name")
	}
}

func TestReplayerScanOnceSkipsAlreadyArchivedFiles(t *testing.T) {
	dir := t.TempDir()
	donePath := filepath.Join(dir, "failover_0001.jsonl.done")
	if err := os.WriteFile(donePath, []byte(`{"CompanyID":"c1"}`+"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	out := make(chan *record.TrackingRecord, 10)
	rp := NewReplayer(dir, time.Hour, out, nil, nil, nil)
	rp.scanOnce(context.Background())

	select {
	case <-out:
		t.Fatal("did not expect an already-archived file to be replayed")
	default:
	}
}
