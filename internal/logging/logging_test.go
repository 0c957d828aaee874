package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "docstage.log")

	logs := New(Options{File: path, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1, Quiet: true})
	logs.For("daemon").Println("started")
	logs.For("sync").Println("drained")
	if err := logs.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected log file: %v", err)
	}
	for _, want := range []string{"[daemon] ", "started", "[sync] ", "drained"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("expected %q in log file:\n%s", want, data)
		}
	}
}

func TestNew_Quiet(t *testing.T) {
	logs := New(Options{Quiet: true})
	logs.For("x").Println("dropped")
	if err := logs.Close(); err != nil {
		t.Errorf("Close without file failed: %v", err)
	}
}
