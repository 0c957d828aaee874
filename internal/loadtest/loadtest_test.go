package loadtest

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

// TestRun_Small verifies a small end-to-end run syncs everything.
func TestRun_Small(t *testing.T) {
	report, err := Run(context.Background(), Options{
		Dir:          t.TempDir(),
		Documents:    60,
		Writers:      4,
		Readers:      2,
		QueriesEach:  2,
		PayloadBytes: 256,
		MaxPerDrain:  25,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Ingest.Operations != 60 || report.Ingest.Errors != 0 {
		t.Errorf("expected 60 clean ingests, got %d with %d errors", report.Ingest.Operations, report.Ingest.Errors)
	}
	if report.Synced != 60 || report.Failed != 0 {
		t.Errorf("expected 60 synced, got %d synced %d failed", report.Synced, report.Failed)
	}
	// 25 + 25 + 10, then nothing truncated
	if report.DrainPasses != 3 {
		t.Errorf("expected 3 drain passes, got %d", report.DrainPasses)
	}
	if report.Upload.Operations != 60 {
		t.Errorf("expected 60 upserts, got %d", report.Upload.Operations)
	}
	if report.List.Operations != 4 || report.List.Errors != 0 {
		t.Errorf("expected 4 clean listings, got %d with %d errors", report.List.Operations, report.List.Errors)
	}
	if report.Listed != 60 {
		t.Errorf("expected 60 documents listed, got %d", report.Listed)
	}

	var buf bytes.Buffer
	report.Print(&buf)
	if !strings.Contains(buf.String(), "Synced 60") {
		t.Errorf("unexpected report output:\n%s", buf.String())
	}
	t.Log("\n" + buf.String())
}

// TestRun_PendingStayLocal checks documents without derived data never sync.
func TestRun_PendingStayLocal(t *testing.T) {
	report, err := Run(context.Background(), Options{
		Dir:          t.TempDir(),
		Documents:    20,
		DerivedPct:   0.5,
		PayloadBytes: 64,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Synced != 10 {
		t.Errorf("expected 10 synced, got %d", report.Synced)
	}
	if report.Listed != 20 {
		t.Errorf("expected 20 listed, got %d", report.Listed)
	}
}

func TestRun_RequiresDir(t *testing.T) {
	if _, err := Run(context.Background(), Options{}); err == nil {
		t.Error("expected error without a directory")
	}
}

func TestComputeLatencyStats(t *testing.T) {
	var durations []time.Duration
	for i := 100; i >= 1; i-- {
		durations = append(durations, time.Duration(i)*time.Millisecond)
	}

	stats := computeLatencyStats(durations)

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"min", stats.Min, 1 * time.Millisecond},
		{"max", stats.Max, 100 * time.Millisecond},
		{"p50", stats.P50, 51 * time.Millisecond},
		{"p95", stats.P95, 96 * time.Millisecond},
		{"p99", stats.P99, 100 * time.Millisecond},
		{"mean", stats.Mean, 50500 * time.Microsecond},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if stats.Operations != 100 {
		t.Errorf("expected 100 operations, got %d", stats.Operations)
	}

	// Input order is untouched
	if durations[0] != 100*time.Millisecond {
		t.Error("computeLatencyStats modified its input")
	}

	if empty := computeLatencyStats(nil); empty.Operations != 0 {
		t.Errorf("expected empty stats, got %+v", empty)
	}
}

func TestGenerateRequests_Deterministic(t *testing.T) {
	opts := Options{Documents: 10, PayloadBytes: 16, DerivedPct: 0.3}.withDefaults()

	a := generateRequests(opts)
	b := generateRequests(opts)
	if len(a) != 10 {
		t.Fatalf("expected 10 requests, got %d", len(a))
	}

	derived := 0
	seen := map[string]bool{}
	for i := range a {
		if !bytes.Equal(a[i].Payload, b[i].Payload) {
			t.Errorf("request %d: payload differs between runs", i)
		}
		if seen[a[i].FileName] {
			t.Errorf("duplicate file name %s", a[i].FileName)
		}
		seen[a[i].FileName] = true
		if a[i].Derived != nil {
			derived++
		}
	}
	if derived != 3 {
		t.Errorf("expected 3 requests with derived data, got %d", derived)
	}
}
