// Package fallback provides the best-effort key-value area used when the
// local store cannot be opened.
//
// Each key is one JSON file in a directory. Writes go to a temp file that is
// renamed into place so a crash never leaves a half-written record. Records
// written here are never synced; they stay visible in merged listings until
// imported into the local store.
package fallback

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/docstage/docstage/internal/document"
)

// DocumentPrefix is the key prefix of document records.
const DocumentPrefix = "doc_"

const fileExt = ".json"

// Store is a directory of JSON records.
type Store struct {
	dir      string
	maxBytes int64 // 0 = unlimited

	mu sync.Mutex
}

// Open creates the directory if needed and returns a store rooted there.
// maxBytes caps the total size of all records; 0 disables the quota.
func Open(dir string, maxBytes int64) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("fallback directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create fallback directory: %w", err)
	}
	return &Store{dir: dir, maxBytes: maxBytes}, nil
}

// Dir returns the root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Put stores data under key, replacing any previous value.
// data must be valid JSON.
func (s *Store) Put(key string, data []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON for key %s", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxBytes > 0 {
		used, err := s.usage()
		if err != nil {
			return err
		}
		if info, err := os.Stat(s.path(key)); err == nil {
			used -= info.Size()
		}
		if used+int64(len(data)) > s.maxBytes {
			return fmt.Errorf("%w: fallback area holds %d of %d bytes, record needs %d",
				document.ErrQuotaExceeded, used, s.maxBytes, len(data))
		}
	}

	tmpPath := filepath.Join(s.dir, "."+key+".tmp")
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := os.Rename(tmpPath, s.path(key)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to commit %s: %w", key, err)
	}
	return nil
}

// Get returns the value for key or document.ErrRecordNotFound.
func (s *Store) Get(key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", document.ErrRecordNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

// ListByPrefix returns the sorted keys starting with prefix.
func (s *Store) ListByPrefix(prefix string) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list fallback directory: %w", err)
	}

	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
			continue
		}
		key := strings.TrimSuffix(name, fileExt)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes key. Deleting a missing key returns document.ErrRecordNotFound.
func (s *Store) Delete(key string) error {
	if err := validKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(key))
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", document.ErrRecordNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Usage returns the total bytes currently stored.
func (s *Store) Usage() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage()
}

func (s *Store) usage() (int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list fallback directory: %w", err)
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // removed concurrently
		}
		total += info.Size()
	}
	return total, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+fileExt)
}

// validKey rejects keys that would escape the directory or collide with
// temp files.
func validKey(key string) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	if strings.HasPrefix(key, ".") {
		return fmt.Errorf("invalid key %q: must not start with a dot", key)
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '.':
		default:
			return fmt.Errorf("invalid key %q: unexpected character %q", key, r)
		}
	}
	return nil
}

// Record is the JSON shape of a document kept in the fallback area.
type Record struct {
	ID            string          `json:"id"`
	FileName      string          `json:"file_name"`
	FileType      string          `json:"file_type"`
	FileSize      int64           `json:"file_size"`
	ExtractedText string          `json:"extracted_text,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	Thumbnail     string          `json:"thumbnail,omitempty"`
	Status        document.Status `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Payload       []byte          `json:"payload,omitempty"` // base64 in JSON
}

// Document converts the record to a document tagged SourceFallback.
func (r *Record) Document() *document.Document {
	return &document.Document{
		ID:            r.ID,
		FileName:      r.FileName,
		FileType:      r.FileType,
		FileSize:      r.FileSize,
		ExtractedText: r.ExtractedText,
		Metadata:      r.Metadata,
		Thumbnail:     r.Thumbnail,
		Status:        r.Status,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		Source:        document.SourceFallback,
	}
}

// DocumentKey returns the key a document is stored under.
func DocumentKey(id string) string {
	return DocumentPrefix + id
}

// PutDocument stores doc and its payload under doc_<id>.
// Fallback documents are always pending; they never enter the sync backlog.
func (s *Store) PutDocument(doc *document.Document, payload []byte) error {
	rec := Record{
		ID:            doc.ID,
		FileName:      doc.FileName,
		FileType:      doc.FileType,
		FileSize:      doc.FileSize,
		ExtractedText: doc.ExtractedText,
		Metadata:      doc.Metadata,
		Thumbnail:     doc.Thumbnail,
		Status:        document.StatusPending,
		CreatedAt:     doc.CreatedAt.UTC(),
		UpdatedAt:     doc.UpdatedAt.UTC(),
		Payload:       payload,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal document %s: %w", doc.ID, err)
	}
	return s.Put(DocumentKey(doc.ID), data)
}

// GetRecord loads the record of one document.
func (s *Store) GetRecord(id string) (*Record, error) {
	data, err := s.Get(DocumentKey(id))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse document %s: %w", id, err)
	}
	return &rec, nil
}

// Records loads every document record. Unreadable records are skipped and
// reported in the returned skip count.
func (s *Store) Records() ([]*Record, int, error) {
	keys, err := s.ListByPrefix(DocumentPrefix)
	if err != nil {
		return nil, 0, err
	}

	records := make([]*Record, 0, len(keys))
	skipped := 0
	for _, key := range keys {
		rec, err := s.GetRecord(strings.TrimPrefix(key, DocumentPrefix))
		if err != nil {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	return records, skipped, nil
}

// Documents lists every fallback document tagged SourceFallback.
func (s *Store) Documents() ([]*document.Document, error) {
	records, _, err := s.Records()
	if err != nil {
		return nil, err
	}
	docs := make([]*document.Document, 0, len(records))
	for _, rec := range records {
		docs = append(docs, rec.Document())
	}
	return docs, nil
}

// DeleteDocument removes the record of one document.
func (s *Store) DeleteDocument(id string) error {
	return s.Delete(DocumentKey(id))
}
