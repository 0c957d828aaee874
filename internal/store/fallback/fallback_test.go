package fallback

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/docstage/docstage/internal/document"
)

func setupTestStore(t *testing.T, maxBytes int64) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "fallback"), maxBytes)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return store
}

func TestPutGetDelete(t *testing.T) {
	store := setupTestStore(t, 0)

	if err := store.Put("doc_1", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	data, err := store.Get("doc_1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Errorf("unexpected value: %s", data)
	}

	if err := store.Put("doc_1", []byte(`{"a":2}`)); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	data, _ = store.Get("doc_1")
	if string(data) != `{"a":2}` {
		t.Errorf("expected overwritten value, got %s", data)
	}

	if err := store.Delete("doc_1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get("doc_1"); !errors.Is(err, document.ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound after delete, got %v", err)
	}
	if err := store.Delete("doc_1"); !errors.Is(err, document.ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound deleting twice, got %v", err)
	}
}

func TestPut_RejectsInvalidInput(t *testing.T) {
	store := setupTestStore(t, 0)

	tests := []struct {
		name string
		key  string
		data string
	}{
		{"empty key", "", `{}`},
		{"path traversal", "../escape", `{}`},
		{"dot prefix", ".hidden", `{}`},
		{"slash", "a/b", `{}`},
		{"not json", "doc_x", `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.Put(tt.key, []byte(tt.data)); err == nil {
				t.Errorf("expected error for key %q", tt.key)
			}
		})
	}
}

func TestListByPrefix(t *testing.T) {
	store := setupTestStore(t, 0)

	for _, key := range []string{"doc_b", "doc_a", "setting_x"} {
		if err := store.Put(key, []byte(`{}`)); err != nil {
			t.Fatalf("Put %s failed: %v", key, err)
		}
	}
	// Stray temp file from an interrupted write is ignored
	if err := os.WriteFile(filepath.Join(store.Dir(), ".doc_c.tmp"), []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}

	keys, err := store.ListByPrefix(DocumentPrefix)
	if err != nil {
		t.Fatalf("ListByPrefix failed: %v", err)
	}
	if strings.Join(keys, ",") != "doc_a,doc_b" {
		t.Errorf("unexpected keys: %v", keys)
	}
}

func TestQuota(t *testing.T) {
	store := setupTestStore(t, 20)

	if err := store.Put("doc_a", []byte(`{"v":"0123456"}`)); err != nil { // 15 bytes
		t.Fatalf("Put within quota failed: %v", err)
	}

	err := store.Put("doc_b", []byte(`{"v":1}`)) // 7 more bytes
	if !errors.Is(err, document.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}

	// Replacing a record only counts the difference
	if err := store.Put("doc_a", []byte(`{"v":"01234567"}`)); err != nil {
		t.Errorf("replacement within quota failed: %v", err)
	}

	used, err := store.Usage()
	if err != nil {
		t.Fatalf("Usage failed: %v", err)
	}
	if used != 16 {
		t.Errorf("expected 16 bytes used, got %d", used)
	}
}

func TestDocuments(t *testing.T) {
	store := setupTestStore(t, 0)
	created := time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)

	doc := document.New("scan.png", "image/png", 512, &document.Derived{ExtractedText: "text"}, created)
	if err := store.PutDocument(doc, []byte{0x89, 'P', 'N', 'G'}); err != nil {
		t.Fatalf("PutDocument failed: %v", err)
	}

	rec, err := store.GetRecord(doc.ID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if string(rec.Payload) != "\x89PNG" {
		t.Errorf("payload not preserved: %q", rec.Payload)
	}

	docs, err := store.Documents()
	if err != nil {
		t.Fatalf("Documents failed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	got := docs[0]
	if got.Source != document.SourceFallback {
		t.Errorf("expected fallback source, got %s", got.Source)
	}
	if got.Status != document.StatusPending {
		t.Errorf("fallback documents must be pending, got %s", got.Status)
	}
	if got.Key() != doc.Key() {
		t.Errorf("dedup key mismatch: %+v vs %+v", got.Key(), doc.Key())
	}
}

func TestRecords_SkipsCorrupt(t *testing.T) {
	store := setupTestStore(t, 0)

	doc := document.New("ok.txt", "text/plain", 2, nil, time.Now())
	if err := store.PutDocument(doc, nil); err != nil {
		t.Fatalf("PutDocument failed: %v", err)
	}
	if err := store.Put("doc_bad", []byte(`{"file_size":"nope"}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	records, skipped, err := store.Records()
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if len(records) != 1 || skipped != 1 {
		t.Errorf("expected 1 record and 1 skipped, got %d and %d", len(records), skipped)
	}
}
