package daemon

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/docstage/docstage/internal/document"
	"github.com/docstage/docstage/internal/orchestrator"
)

// fakeOrchestrator records what the daemon asks of it.
type fakeOrchestrator struct {
	mu       sync.Mutex
	ingested []orchestrator.IngestRequest
	probes   int
	cleanups int
	failName string
}

func (f *fakeOrchestrator) Ingest(ctx context.Context, req orchestrator.IngestRequest) (orchestrator.IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.FileName == f.failName {
		return orchestrator.IngestResult{}, errors.New("ingest rejected")
	}
	f.ingested = append(f.ingested, req)
	return orchestrator.IngestResult{ID: document.NewID(), Source: document.SourceLocal, Status: document.StatusPending}, nil
}

func (f *fakeOrchestrator) CheckConnectivity(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	return true
}

func (f *fakeOrchestrator) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	return 0, nil
}

func (f *fakeOrchestrator) counts() (ingested, probes, cleanups int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ingested), f.probes, f.cleanups
}

func testConfig(inbox string) *Config {
	return &Config{
		ProbeInterval:    20 * time.Millisecond,
		CleanupInterval:  20 * time.Millisecond,
		DebounceInterval: 20 * time.Millisecond,
		InboxDir:         inbox,
		Logger:           log.New(io.Discard, "", 0),
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestNew(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("expected error for nil orchestrator")
	}

	d, err := NewWithConfig(&fakeOrchestrator{}, &Config{Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("NewWithConfig failed: %v", err)
	}
	defer d.Stop()

	if d.config.ProbeInterval != DefaultConfig().ProbeInterval {
		t.Errorf("expected default probe interval, got %v", d.config.ProbeInterval)
	}
	if d.watcher != nil {
		t.Error("expected no watcher without an inbox")
	}
}

func TestScanInbox(t *testing.T) {
	inbox := filepath.Join(t.TempDir(), "inbox")
	orch := &fakeOrchestrator{failName: "bad.txt"}
	d, err := NewWithConfig(orch, testConfig(inbox))
	if err != nil {
		t.Fatalf("NewWithConfig failed: %v", err)
	}
	defer d.Stop()

	writeFile(t, inbox, "scan.pdf", "%PDF-1.7")
	writeFile(t, inbox, "photo.JPG", "jpeg")
	writeFile(t, inbox, "bad.txt", "nope")
	writeFile(t, inbox, ".partial", "hidden")

	n, err := d.ScanInbox(context.Background())
	if err != nil {
		t.Fatalf("ScanInbox failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 ingested, got %d", n)
	}

	types := map[string]string{}
	for _, req := range orch.ingested {
		types[req.FileName] = req.FileType
		if req.Size != int64(len(req.Payload)) {
			t.Errorf("%s: size %d does not match payload %d", req.FileName, req.Size, len(req.Payload))
		}
	}
	if types["scan.pdf"] != "application/pdf" {
		t.Errorf("expected application/pdf, got %q", types["scan.pdf"])
	}
	if types["photo.JPG"] != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %q", types["photo.JPG"])
	}

	for _, name := range []string{"scan.pdf", "photo.JPG"} {
		if _, err := os.Stat(filepath.Join(inbox, ArchiveDir, name)); err != nil {
			t.Errorf("expected %s archived: %v", name, err)
		}
		if _, err := os.Stat(filepath.Join(inbox, name)); !os.IsNotExist(err) {
			t.Errorf("expected %s removed from inbox", name)
		}
	}

	// Failed and hidden files stay put
	for _, name := range []string{"bad.txt", ".partial"} {
		if _, err := os.Stat(filepath.Join(inbox, name)); err != nil {
			t.Errorf("expected %s to remain in inbox: %v", name, err)
		}
	}
}

func TestArchive_NameClash(t *testing.T) {
	inbox := t.TempDir()
	if err := os.MkdirAll(filepath.Join(inbox, ArchiveDir), 0755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(inbox, ArchiveDir), "a.txt", "old")
	path := writeFile(t, inbox, "a.txt", "new")

	if err := archive(inbox, path, "doc1"); err != nil {
		t.Fatalf("archive failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(inbox, ArchiveDir, "doc1_a.txt"))
	if err != nil || string(data) != "new" {
		t.Errorf("expected clash to be archived under id prefix, got %q, %v", data, err)
	}
}

func TestDaemon_WatchesInbox(t *testing.T) {
	inbox := filepath.Join(t.TempDir(), "inbox")
	orch := &fakeOrchestrator{}
	d, err := NewWithConfig(orch, testConfig(inbox))
	if err != nil {
		t.Fatalf("NewWithConfig failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	waitFor(t, 2*time.Second, func() bool { return d.watcher.IsRunning() })

	writeFile(t, inbox, "dropped.png", "\x89PNG\r\n\x1a\n")

	waitFor(t, 5*time.Second, func() bool {
		n, _, _ := orch.counts()
		return n == 1
	})
	waitFor(t, 2*time.Second, func() bool {
		_, err := os.Stat(filepath.Join(inbox, ArchiveDir, "dropped.png"))
		return err == nil
	})

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Start returned error: %v", err)
	}

	// The archive move must not trigger a second ingest
	if n, _, _ := orch.counts(); n != 1 {
		t.Errorf("expected exactly one ingest, got %d", n)
	}
}

func TestDaemon_PeriodicLoops(t *testing.T) {
	orch := &fakeOrchestrator{}
	d, err := NewWithConfig(orch, testConfig(""))
	if err != nil {
		t.Fatalf("NewWithConfig failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	waitFor(t, 5*time.Second, func() bool {
		_, probes, cleanups := orch.counts()
		return probes >= 3 && cleanups >= 2
	})

	if err := d.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Start returned error: %v", err)
	}
	cancel()

	// Stop is idempotent
	if err := d.Stop(); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
}
