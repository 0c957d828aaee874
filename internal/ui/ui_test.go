package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/docstage/docstage/internal/document"
	"github.com/docstage/docstage/internal/orchestrator"
)

func TestDocuments(t *testing.T) {
	var buf bytes.Buffer
	p := PlainPrinter(&buf)

	p.Documents([]*document.Document{
		{
			ID:        "0123456789abcdef",
			FileName:  "invoice.pdf",
			FileType:  "application/pdf",
			FileSize:  2048,
			Status:    document.StatusSynced,
			Source:    document.SourceRemote,
			CreatedAt: time.Now().Add(-2 * time.Hour),
		},
		{
			ID:        "fedcba98",
			FileName:  "scan.jpg",
			FileType:  "image/jpeg",
			Status:    document.StatusPending,
			Source:    document.SourceFallback,
			CreatedAt: time.Now(),
		},
	})

	out := buf.String()
	for _, want := range []string{"01234567", "invoice.pdf", "2.0 kB", "synced", "remote", "fallback", "2 hours ago", "2 document(s)"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("plain printer emitted escape sequences")
	}
}

func TestDocuments_Empty(t *testing.T) {
	var buf bytes.Buffer
	PlainPrinter(&buf).Documents(nil)
	if !strings.Contains(buf.String(), "No documents.") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestStats(t *testing.T) {
	var buf bytes.Buffer
	p := PlainPrinter(&buf)

	last := time.Now().Add(-time.Minute)
	p.Stats(&orchestrator.StorageStats{
		Total:          3,
		ByStatus:       map[document.Status]int{document.StatusPending: 1, document.StatusSynced: 2},
		BySource:       map[string]int{"local": 1, "remote": 2},
		TotalBytes:     3000,
		IsOnline:       true,
		LocalAvailable: false,
		Backlog:        4,
		FallbackBytes:  2048,
		LastSyncTime:   &last,
	})

	out := buf.String()
	for _, want := range []string{"Documents:", "3.0 kB", "online", "unavailable (using fallback)", "synced 2", "local 1  remote 2", "1 minute ago", "Backlog:", "2.0 kB", "Last checked:"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestDrain(t *testing.T) {
	tests := []struct {
		name string
		res  orchestrator.DrainResult
		want string
	}{
		{"offline", orchestrator.DrainResult{Skipped: orchestrator.SkipOffline}, "Remote unreachable"},
		{"busy", orchestrator.DrainResult{Skipped: orchestrator.SkipBusy}, "already running"},
		{"local down", orchestrator.DrainResult{Skipped: orchestrator.SkipLocalDown}, "Local store unavailable"},
		{"clean", orchestrator.DrainResult{Synced: 4}, "Synced 4 in"},
		{"partial", orchestrator.DrainResult{Synced: 2, Failed: 1}, "Synced 2, failed 1"},
		{"truncated", orchestrator.DrainResult{Synced: 100, Truncated: true}, "follow-up pass"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			PlainPrinter(&buf).Drain(tt.res)
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("expected %q in %q", tt.want, buf.String())
			}
		})
	}
}

func TestShortID(t *testing.T) {
	if got := ShortID("abc"); got != "abc" {
		t.Errorf("ShortID(abc) = %q", got)
	}
	if got := ShortID("0123456789"); got != "01234567" {
		t.Errorf("ShortID(0123456789) = %q", got)
	}
}
