package document

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Document is a unit of storage.
type Document struct {
	// ===== Identity =====
	ID string `json:"id"`

	// ===== Content =====
	FileName string `json:"file_name"`
	FileType string `json:"file_type"` // declared MIME type
	FileSize int64  `json:"file_size"` // declared, not measured

	// ===== Derived (attached by collaborators) =====
	ExtractedText string         `json:"extracted_text,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Thumbnail     string         `json:"thumbnail,omitempty"`

	// ===== Lifecycle =====
	Status     Status `json:"status"`
	FailedFrom Status `json:"failed_from,omitempty"`

	// ===== Timestamps =====
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	SyncedAt  *time.Time `json:"synced_at,omitempty"`

	// Source is set when the document is read back. Not persisted.
	Source Source `json:"source"`
}

// Derived holds the optional data collaborators compute from a file.
type Derived struct {
	ExtractedText string         `json:"extracted_text,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Thumbnail     string         `json:"thumbnail,omitempty"`
}

// Empty reports whether no derived data is present.
func (d *Derived) Empty() bool {
	return d == nil || (d.ExtractedText == "" && len(d.Metadata) == 0 && d.Thumbnail == "")
}

// New builds a document for a freshly ingested file.
// Status is processed when derived data is supplied, pending otherwise.
func New(fileName, fileType string, size int64, derived *Derived, now time.Time) *Document {
	now = now.UTC()
	doc := &Document{
		ID:        NewID(),
		FileName:  fileName,
		FileType:  fileType,
		FileSize:  size,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !derived.Empty() {
		doc.Apply(derived)
		doc.Status = StatusProcessed
	}
	return doc
}

// NewID returns a fresh, never reused document id.
func NewID() string {
	return uuid.NewString()
}

// Apply copies non-empty derived fields onto the document.
func (d *Document) Apply(derived *Derived) {
	if derived == nil {
		return
	}
	if derived.ExtractedText != "" {
		d.ExtractedText = derived.ExtractedText
	}
	if len(derived.Metadata) > 0 {
		if d.Metadata == nil {
			d.Metadata = make(map[string]any, len(derived.Metadata))
		}
		for k, v := range derived.Metadata {
			d.Metadata[k] = v
		}
	}
	if derived.Thumbnail != "" {
		d.Thumbnail = derived.Thumbnail
	}
}

// Validate checks the fields every store relies on.
// Content is never inspected.
func (d *Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("id is required")
	}
	if d.FileName == "" {
		return fmt.Errorf("file_name is required")
	}
	if d.FileSize < 0 {
		return fmt.Errorf("file_size must not be negative (got %d)", d.FileSize)
	}
	if !d.Status.Valid() {
		return fmt.Errorf("invalid status %q", d.Status)
	}
	if d.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if d.UpdatedAt.IsZero() {
		return fmt.Errorf("updated_at is required")
	}
	return nil
}

// Unsynced reports whether the document belongs to the sync backlog.
func (d *Document) Unsynced() bool {
	return d.Status == StatusProcessed && d.SyncedAt == nil
}

// DedupKey identifies the same logical document across independent stores.
type DedupKey struct {
	FileName  string
	FileSize  int64
	CreatedAt int64 // unix seconds, rounded half up
}

// Key returns the dedup key of the document. Creation times are rounded to
// the nearest second, so copies whose stores kept different sub-second
// precision still collide.
func (d *Document) Key() DedupKey {
	return DedupKey{
		FileName:  d.FileName,
		FileSize:  d.FileSize,
		CreatedAt: d.CreatedAt.UTC().Round(time.Second).Unix(),
	}
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	c := *d
	if d.Metadata != nil {
		c.Metadata = make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			c.Metadata[k] = v
		}
	}
	if d.SyncedAt != nil {
		t := *d.SyncedAt
		c.SyncedAt = &t
	}
	return &c
}

// Patch describes a partial update. Nil fields are left unchanged.
type Patch struct {
	Status        *Status
	ExtractedText *string
	Metadata      map[string]any
	Thumbnail     *string
}

// StatusPatch is shorthand for a patch that only changes status.
func StatusPatch(s Status) Patch {
	return Patch{Status: &s}
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Status == nil && p.ExtractedText == nil && p.Metadata == nil && p.Thumbnail == nil
}
