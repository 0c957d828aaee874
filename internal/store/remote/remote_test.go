package remote

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/docstage/docstage/internal/document"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// setupTestRemote opens a remote store backed by a temp SQLite file.
func setupTestRemote(t *testing.T, owner string) (*Store, *sql.DB) {
	t.Helper()

	db, err := sql.Open("sqlite3", "file:"+filepath.Join(t.TempDir(), "remote.db"))
	if err != nil {
		t.Fatalf("failed to open remote db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := New(db, &Config{
		Owner:   owner,
		Timeout: 5 * time.Second,
		Logger:  log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return store, db
}

func testDocument(name string) *document.Document {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	doc := document.New(name, "application/pdf", 2048, &document.Derived{
		ExtractedText: "hello",
		Metadata: map[string]any{
			MetaTemplateID:       "invoice-v2",
			MetaPageCount:        float64(3),
			MetaComplianceScore:  0.92,
			MetaValidationIssues: []any{"missing signature"},
		},
	}, created)
	return doc
}

func TestProbe(t *testing.T) {
	store, db := setupTestRemote(t, "alice")
	ctx := context.Background()

	if store.Probe(ctx) {
		t.Error("Probe should fail before the table exists")
	}

	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	if !store.Probe(ctx) {
		t.Error("Probe should succeed on an empty table")
	}

	db.Close()
	if store.Probe(ctx) {
		t.Error("Probe should fail on a closed connection")
	}
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	store, _ := setupTestRemote(t, "alice")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := store.EnsureSchema(ctx); err != nil {
			t.Fatalf("EnsureSchema pass %d failed: %v", i, err)
		}
	}
}

func TestUpsertDocument_RoundTrip(t *testing.T) {
	store, _ := setupTestRemote(t, "alice")
	ctx := context.Background()
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	doc := testDocument("invoice.pdf")
	remoteID, err := store.UpsertDocument(ctx, doc)
	if err != nil {
		t.Fatalf("UpsertDocument failed: %v", err)
	}
	if remoteID == "" {
		t.Fatal("expected a remote id")
	}

	rows, err := store.List(ctx, "alice")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}

	row := rows[0]
	if row.ID != remoteID {
		t.Errorf("expected id %s, got %s", remoteID, row.ID)
	}
	if row.LocalID != doc.ID {
		t.Errorf("expected local id %s, got %s", doc.ID, row.LocalID)
	}
	if row.OriginalName != "invoice.pdf" {
		t.Errorf("expected original name invoice.pdf, got %s", row.OriginalName)
	}
	if row.TemplateID != "invoice-v2" {
		t.Errorf("expected template invoice-v2, got %q", row.TemplateID)
	}
	if row.PageCount == nil || *row.PageCount != 3 {
		t.Errorf("expected page count 3, got %v", row.PageCount)
	}
	if row.OptimizedSize != nil {
		t.Errorf("expected NULL optimized size, got %v", *row.OptimizedSize)
	}
	if row.ComplianceScore == nil || *row.ComplianceScore != 0.92 {
		t.Errorf("expected compliance 0.92, got %v", row.ComplianceScore)
	}
	if len(row.ValidationIssues) != 1 || row.ValidationIssues[0] != "missing signature" {
		t.Errorf("unexpected validation issues: %v", row.ValidationIssues)
	}
	if !row.CreatedAt.Equal(doc.CreatedAt) {
		t.Errorf("expected created %v, got %v", doc.CreatedAt, row.CreatedAt)
	}

	converted := row.ToDocument()
	if converted.Source != document.SourceRemote {
		t.Errorf("expected remote source, got %s", converted.Source)
	}
	if converted.Status != document.StatusSynced {
		t.Errorf("expected synced status, got %s", converted.Status)
	}
	if converted.Key() != doc.Key() {
		t.Errorf("dedup key mismatch: %+v vs %+v", converted.Key(), doc.Key())
	}
}

func TestUpsert_UpdatesInPlace(t *testing.T) {
	store, _ := setupTestRemote(t, "alice")
	ctx := context.Background()
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	doc := testDocument("report.pdf")
	first, err := store.UpsertDocument(ctx, doc)
	if err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}

	doc.ExtractedText = "revised"
	second, err := store.UpsertDocument(ctx, doc)
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if first != second {
		t.Errorf("expected stable remote id, got %s then %s", first, second)
	}

	rows, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row after re-upload, got %d", len(rows))
	}
	if rows[0].ExtractedText != "revised" {
		t.Errorf("expected updated text, got %q", rows[0].ExtractedText)
	}
}

func TestList_ScopedByOwner(t *testing.T) {
	alice, db := setupTestRemote(t, "alice")
	ctx := context.Background()
	if err := alice.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	bob, err := New(db, &Config{Owner: "bob", Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := alice.UpsertDocument(ctx, testDocument("a.pdf")); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if _, err := bob.UpsertDocument(ctx, testDocument("b.pdf")); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	docs, err := alice.Documents(ctx)
	if err != nil {
		t.Fatalf("Documents failed: %v", err)
	}
	if len(docs) != 1 || docs[0].FileName != "a.pdf" {
		t.Errorf("expected only alice's document, got %v", docs)
	}
}

func TestUpsert_Unreachable(t *testing.T) {
	store, db := setupTestRemote(t, "alice")
	ctx := context.Background()
	db.Close()

	_, err := store.UpsertDocument(ctx, testDocument("x.pdf"))
	if err == nil {
		t.Fatal("expected error on closed connection")
	}
	if !errors.Is(err, document.ErrRemoteUnreachable) {
		t.Errorf("expected ErrRemoteUnreachable, got %v", err)
	}
	if !document.IsRetryable(err) {
		t.Error("remote failures should be retryable")
	}

	if _, err := store.List(ctx, ""); !errors.Is(err, document.ErrRemoteUnreachable) {
		t.Errorf("expected ErrRemoteUnreachable from List, got %v", err)
	}
}

func TestUpsert_RequiresLocalID(t *testing.T) {
	store, _ := setupTestRemote(t, "alice")
	if _, err := store.Upsert(context.Background(), Row{}); err == nil {
		t.Error("expected error for a row without local id")
	}
}

func TestUpsertSession(t *testing.T) {
	store, _ := setupTestRemote(t, "alice")
	ctx := context.Background()
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	session := document.NewSession("march batch", []string{"d1", "d2"}, time.Now())
	for i := 0; i < 2; i++ {
		if err := store.UpsertSession(ctx, SessionRowFrom(session)); err != nil {
			t.Fatalf("UpsertSession pass %d failed: %v", i, err)
		}
	}

	sessions, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	got := sessions[0]
	if got.Name != "march batch" || len(got.DocumentIDs) != 2 {
		t.Errorf("unexpected session: %+v", got)
	}
	if got.Status != string(document.SessionSynced) {
		t.Errorf("expected synced status, got %s", got.Status)
	}

	back := got.Session()
	if back.ID != session.ID || back.Status != document.SessionSynced || !back.CreatedAt.Equal(session.CreatedAt) {
		t.Errorf("unexpected session from row: %+v", back)
	}
}

func TestDefaultMapper(t *testing.T) {
	tests := []struct {
		name      string
		metadata  map[string]any
		wantPages *int64
		wantScore *float64
		wantTmpl  string
	}{
		{
			name:     "no metadata",
			metadata: nil,
		},
		{
			name:      "native types",
			metadata:  map[string]any{MetaPageCount: 4, MetaComplianceScore: 1, MetaTemplateID: "t"},
			wantPages: ptr(int64(4)),
			wantScore: ptr(1.0),
			wantTmpl:  "t",
		},
		{
			name:     "mistyped values are dropped",
			metadata: map[string]any{MetaPageCount: "four", MetaTemplateID: 7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := document.New("f.pdf", "application/pdf", 1, nil, time.Now())
			doc.Metadata = tt.metadata
			row := DefaultMapper(doc)

			if row.LocalID != doc.ID {
				t.Errorf("expected local id %s, got %s", doc.ID, row.LocalID)
			}
			if !equalPtr(row.PageCount, tt.wantPages) {
				t.Errorf("page count: got %v, want %v", row.PageCount, tt.wantPages)
			}
			if !equalPtr(row.ComplianceScore, tt.wantScore) {
				t.Errorf("compliance: got %v, want %v", row.ComplianceScore, tt.wantScore)
			}
			if row.TemplateID != tt.wantTmpl {
				t.Errorf("template: got %q, want %q", row.TemplateID, tt.wantTmpl)
			}
		})
	}
}

func ptr[T any](v T) *T { return &v }

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
