package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatingWriter_KeepsOneBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingest.log")
	w, err := NewRotatingWriter(path, 64)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer w.Close()

	line := []byte(strings.Repeat("x", 40) + "\n")
	for i := 0; i < 5; i++ {
		if _, err := w.Write(line); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("expected backup file: %v", err)
	}
	if _, err := os.Stat(path + ".2"); !os.IsNotExist(err) {
		t.Fatalf("expected a single backup only")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() > 64 {
		t.Fatalf("current file should have rotated, size %d", info.Size())
	}
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingest.log")
	logger, w, err := Setup("debug", path)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer w.Close()

	logger.Infow("listing saved", "domain_listing_id", "123")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `"domain_listing_id":"123"`) {
		t.Fatalf("expected structured field in log file, got %s", data)
	}
}

func TestSetup_RejectsUnknownLevel(t *testing.T) {
	if _, _, err := Setup("chatty", ""); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
