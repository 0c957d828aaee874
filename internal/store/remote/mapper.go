package remote

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/docstage/docstage/internal/document"
)

// Metadata keys read by DefaultMapper.
const (
	MetaTemplateID       = "template_id"
	MetaPageCount        = "page_count"
	MetaOptimizedSize    = "optimized_size"
	MetaComplianceScore  = "compliance_score"
	MetaValidationIssues = "validation_issues"
)

// Row is one document in the remote table.
type Row struct {
	ID      string
	OwnerID string
	LocalID string

	Filename     string // storage name, unique per owner
	OriginalName string // name as ingested
	FileType     string
	FileSize     int64

	TemplateID       string
	ProcessingStatus string
	ExtractedText    string
	PageCount        *int64
	OptimizedSize    *int64
	ComplianceScore  *float64
	ValidationIssues []string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	ProcessedAt *time.Time
}

// Mapper converts a local document into a remote row.
// OwnerID may be left empty; the store fills it in.
type Mapper func(doc *document.Document) Row

// DefaultMapper maps the document fields directly and reads the derived
// columns from well-known metadata keys. Missing or mistyped keys leave the
// column NULL.
func DefaultMapper(doc *document.Document) Row {
	processedAt := doc.UpdatedAt.UTC()
	row := Row{
		LocalID:          doc.ID,
		Filename:         fmt.Sprintf("%s_%s", doc.ID, doc.FileName),
		OriginalName:     doc.FileName,
		FileType:         doc.FileType,
		FileSize:         doc.FileSize,
		ProcessingStatus: string(doc.Status),
		ExtractedText:    doc.ExtractedText,
		CreatedAt:        doc.CreatedAt.UTC(),
		UpdatedAt:        time.Now().UTC(),
		ProcessedAt:      &processedAt,
	}

	if doc.Metadata == nil {
		return row
	}

	if v, ok := doc.Metadata[MetaTemplateID].(string); ok {
		row.TemplateID = v
	}
	row.PageCount = metaInt(doc.Metadata[MetaPageCount])
	row.OptimizedSize = metaInt(doc.Metadata[MetaOptimizedSize])
	row.ComplianceScore = metaFloat(doc.Metadata[MetaComplianceScore])
	row.ValidationIssues = metaStrings(doc.Metadata[MetaValidationIssues])

	return row
}

// ToDocument converts a remote row back to a document tagged SourceRemote.
// The local id is kept so the row lines up with its local twin.
func (r *Row) ToDocument() *document.Document {
	doc := &document.Document{
		ID:            r.LocalID,
		FileName:      r.OriginalName,
		FileType:      r.FileType,
		FileSize:      r.FileSize,
		ExtractedText: r.ExtractedText,
		Status:        document.StatusSynced,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		Source:        document.SourceRemote,
	}
	if r.ProcessedAt != nil {
		t := *r.ProcessedAt
		doc.SyncedAt = &t
	} else {
		t := r.UpdatedAt
		doc.SyncedAt = &t
	}

	meta := map[string]any{}
	if r.TemplateID != "" {
		meta[MetaTemplateID] = r.TemplateID
	}
	if r.PageCount != nil {
		meta[MetaPageCount] = *r.PageCount
	}
	if r.OptimizedSize != nil {
		meta[MetaOptimizedSize] = *r.OptimizedSize
	}
	if r.ComplianceScore != nil {
		meta[MetaComplianceScore] = *r.ComplianceScore
	}
	if len(r.ValidationIssues) > 0 {
		meta[MetaValidationIssues] = r.ValidationIssues
	}
	if len(meta) > 0 {
		doc.Metadata = meta
	}
	return doc
}

// metaInt accepts the numeric shapes metadata takes in memory and after a
// JSON round trip.
func metaInt(v any) *int64 {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case float64:
		n = int64(x)
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return nil
		}
		n = i
	default:
		return nil
	}
	return &n
}

func metaFloat(v any) *float64 {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return nil
		}
		f = n
	default:
		return nil
	}
	return &f
}

func metaStrings(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if x == "" {
			return nil
		}
		return []string{x}
	}
	return nil
}
