package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestInInbox(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		path string
		want bool
	}{
		{filepath.Join(dir, "scan.pdf"), true},
		{filepath.Join(dir, ".scan.pdf.part"), false},
		{filepath.Join(dir, "scan.pdf~"), false},
		{filepath.Join(dir, ArchiveDir), false},
		{filepath.Join(dir, ArchiveDir, "scan.pdf"), false},
		{filepath.Join(dir, "sub", "scan.pdf"), false},
	}

	for _, tt := range tests {
		t.Run(filepath.Base(tt.path), func(t *testing.T) {
			if got := inInbox(dir, tt.path); got != tt.want {
				t.Errorf("inInbox(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestInboxWatcher_Events(t *testing.T) {
	dir := t.TempDir()

	w, err := NewInboxWatcher()
	if err != nil {
		t.Fatalf("NewInboxWatcher failed: %v", err)
	}
	if err := w.Start(dir); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	if err := w.Start(dir); err == nil {
		t.Error("expected error starting a running watcher")
	}

	path := filepath.Join(dir, "invoice.pdf")
	if err := os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-w.Events():
		if ev.Path != path {
			t.Errorf("expected event for %s, got %s", path, ev.Path)
		}
		if ev.Op != OpCreate && ev.Op != OpModify {
			t.Errorf("expected create or modify, got %s", ev.Op)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-w.Events():
			if ev.Op == OpDelete {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for delete event")
		}
	}
}

func TestInboxWatcher_StopIdempotent(t *testing.T) {
	w, err := NewInboxWatcher()
	if err != nil {
		t.Fatalf("NewInboxWatcher failed: %v", err)
	}
	if err := w.Start(t.TempDir()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
	if w.IsRunning() {
		t.Error("expected watcher not running after Stop")
	}
	if _, ok := <-w.Events(); ok {
		t.Error("expected events channel closed")
	}
	if err := w.Start(t.TempDir()); err == nil {
		t.Error("expected error restarting a stopped watcher")
	}
}

func TestEventOpString(t *testing.T) {
	tests := []struct {
		op   EventOp
		want string
	}{
		{OpCreate, "create"},
		{OpModify, "modify"},
		{OpDelete, "delete"},
		{EventOp(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("EventOp(%d).String() = %q, want %q", tt.op, got, tt.want)
		}
	}
}
