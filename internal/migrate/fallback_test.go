package migrate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/docstage/docstage/internal/document"
	"github.com/docstage/docstage/internal/store/fallback"
	"github.com/docstage/docstage/internal/store/local"
)

func setupTestStores(t *testing.T) (*fallback.Store, *local.Store) {
	t.Helper()
	tmpDir := t.TempDir()

	fb, err := fallback.Open(filepath.Join(tmpDir, "fallback"), 0)
	if err != nil {
		t.Fatalf("failed to open fallback store: %v", err)
	}
	ls, err := local.Open(filepath.Join(tmpDir, "docstage.db"))
	if err != nil {
		t.Fatalf("failed to open local store: %v", err)
	}
	t.Cleanup(func() { ls.Close() })
	return fb, ls
}

func putFallback(t *testing.T, fb *fallback.Store, name string, derived *document.Derived, created time.Time) *document.Document {
	t.Helper()
	doc := document.New(name, "application/pdf", 4, derived, created)
	if err := fb.PutDocument(doc, []byte("data")); err != nil {
		t.Fatalf("PutDocument failed: %v", err)
	}
	return doc
}

func TestFromFallback(t *testing.T) {
	ctx := context.Background()
	fb, ls := setupTestStores(t)

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	plain := putFallback(t, fb, "plain.pdf", nil, created)
	rich := putFallback(t, fb, "rich.pdf", &document.Derived{ExtractedText: "hello"}, created.Add(time.Minute))

	result, err := FromFallback(ctx, fb, ls, Options{})
	if err != nil {
		t.Fatalf("FromFallback failed: %v", err)
	}
	if result.Imported != 2 || result.Removed != 2 || len(result.Errors) != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	got, err := ls.Get(ctx, plain.ID)
	if err != nil {
		t.Fatalf("expected %s in local store: %v", plain.ID, err)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("expected createdAt %v kept, got %v", created, got.CreatedAt)
	}
	if got.Status != document.StatusPending {
		t.Errorf("expected pending, got %s", got.Status)
	}

	got, err = ls.Get(ctx, rich.ID)
	if err != nil {
		t.Fatalf("expected %s in local store: %v", rich.ID, err)
	}
	if got.Status != document.StatusProcessed || got.ExtractedText != "hello" {
		t.Errorf("expected processed with text, got %s %q", got.Status, got.ExtractedText)
	}

	payload, err := ls.Payload(ctx, rich.ID)
	if err != nil || string(payload) != "data" {
		t.Errorf("expected payload copied, got %q, %v", payload, err)
	}

	docs, err := fb.Documents()
	if err != nil {
		t.Fatalf("Documents failed: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("expected fallback area empty, got %d", len(docs))
	}
}

func TestFromFallback_DryRun(t *testing.T) {
	fb, ls := setupTestStores(t)
	doc := putFallback(t, fb, "a.pdf", nil, time.Now())

	result, err := FromFallback(context.Background(), fb, ls, Options{DryRun: true, Backup: t.TempDir()})
	if err != nil {
		t.Fatalf("FromFallback failed: %v", err)
	}
	if result.Imported != 1 || result.Removed != 0 || result.BackupCreated != "" {
		t.Errorf("unexpected dry run result: %+v", result)
	}
	if _, err := ls.Get(context.Background(), doc.ID); !errors.Is(err, document.ErrRecordNotFound) {
		t.Errorf("expected nothing written locally, got %v", err)
	}
	if _, err := fb.GetRecord(doc.ID); err != nil {
		t.Errorf("expected fallback record kept: %v", err)
	}
}

func TestFromFallback_AlreadyLocal(t *testing.T) {
	ctx := context.Background()
	fb, ls := setupTestStores(t)
	doc := putFallback(t, fb, "a.pdf", nil, time.Now())

	if _, err := ls.Create(ctx, doc, []byte("data")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	result, err := FromFallback(ctx, fb, ls, Options{})
	if err != nil {
		t.Fatalf("FromFallback failed: %v", err)
	}
	if result.AlreadyLocal != 1 || result.Imported != 0 || result.Removed != 1 {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestFromFallback_BackupAndCorrupt(t *testing.T) {
	fb, ls := setupTestStores(t)
	doc := putFallback(t, fb, "a.pdf", nil, time.Now())

	if err := os.WriteFile(filepath.Join(fb.Dir(), fallback.DocumentKey("broken")+".json"), []byte("{nope"), 0600); err != nil {
		t.Fatal(err)
	}

	backupDir := filepath.Join(t.TempDir(), "backup")
	result, err := FromFallback(context.Background(), fb, ls, Options{Backup: backupDir})
	if err != nil {
		t.Fatalf("FromFallback failed: %v", err)
	}
	if result.Corrupt != 1 {
		t.Errorf("expected 1 corrupt record, got %d", result.Corrupt)
	}
	if result.BackupCreated != backupDir {
		t.Errorf("expected backup at %s, got %q", backupDir, result.BackupCreated)
	}
	if _, err := os.Stat(filepath.Join(backupDir, fallback.DocumentKey(doc.ID)+".json")); err != nil {
		t.Errorf("expected backup file: %v", err)
	}
}

func TestFromFallback_LocalUnavailable(t *testing.T) {
	fb, ls := setupTestStores(t)
	putFallback(t, fb, "a.pdf", nil, time.Now())
	ls.Close()

	_, err := FromFallback(context.Background(), fb, ls, Options{})
	if err == nil {
		t.Fatal("expected error with closed local store")
	}

	docs, err := fb.Documents()
	if err != nil || len(docs) != 1 {
		t.Errorf("expected fallback record kept, got %d, %v", len(docs), err)
	}
}

func TestImportDocument(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	created := time.Date(2026, 4, 1, 8, 30, 0, 0, time.FixedZone("x", 3600))

	tests := []struct {
		name string
		rec  fallback.Record
		want document.Status
	}{
		{"bare", fallback.Record{ID: "1", FileName: "a", CreatedAt: created}, document.StatusPending},
		{"text", fallback.Record{ID: "2", FileName: "a", CreatedAt: created, ExtractedText: "t"}, document.StatusProcessed},
		{"metadata", fallback.Record{ID: "3", FileName: "a", CreatedAt: created, Metadata: map[string]any{"k": 1}}, document.StatusProcessed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := ImportDocument(&tt.rec, now)
			if doc.Status != tt.want {
				t.Errorf("expected %s, got %s", tt.want, doc.Status)
			}
			if doc.ID != tt.rec.ID || !doc.CreatedAt.Equal(created) {
				t.Errorf("expected id and createdAt kept, got %s %v", doc.ID, doc.CreatedAt)
			}
			if doc.Source != document.SourceLocal || !doc.UpdatedAt.Equal(now) {
				t.Errorf("unexpected source %s or updatedAt %v", doc.Source, doc.UpdatedAt)
			}
		})
	}
}
