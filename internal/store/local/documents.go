package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docstage/docstage/internal/document"
)

const documentColumns = `id, file_name, file_type, file_size, extracted_text, metadata,
	thumbnail, status, failed_from, created_at, updated_at, synced_at`

// Create inserts a document and its payload in one transaction.
// The document must carry an id; it is returned for convenience.
func (s *Store) Create(ctx context.Context, doc *document.Document, payload []byte) (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	if err := doc.Validate(); err != nil {
		return "", fmt.Errorf("invalid document: %w", err)
	}

	metadataJSON, err := marshalMetadata(doc.Metadata)
	if err != nil {
		return "", err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	query := `
	INSERT INTO documents (
		id, file_name, file_type, file_size, extracted_text, metadata,
		thumbnail, status, failed_from, created_at, updated_at, synced_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.ExecContext(ctx, query,
		doc.ID,
		doc.FileName,
		doc.FileType,
		doc.FileSize,
		nullString(doc.ExtractedText),
		metadataJSON,
		nullString(doc.Thumbnail),
		string(doc.Status),
		nullString(string(doc.FailedFrom)),
		formatTime(doc.CreatedAt),
		formatTime(doc.UpdatedAt),
		timeToNullString(doc.SyncedAt),
	)
	if err != nil {
		return "", classify(fmt.Errorf("failed to insert document %s: %w", doc.ID, err))
	}

	if payload == nil {
		payload = []byte{}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO payloads (document_id, data) VALUES (?, ?)`, doc.ID, payload); err != nil {
		return "", classify(fmt.Errorf("failed to insert payload for %s: %w", doc.ID, err))
	}

	if err := tx.Commit(); err != nil {
		return "", classify(fmt.Errorf("failed to commit document %s: %w", doc.ID, err))
	}

	return doc.ID, nil
}

// Get retrieves a single document by id.
// Returns document.ErrRecordNotFound if the id is unknown.
func (s *Store) Get(ctx context.Context, id string) (*document.Document, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	row := s.conn.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, document.ErrRecordNotFound)
	}
	if err != nil {
		return nil, classify(err)
	}
	return doc, nil
}

// Payload returns the raw bytes stored for a document.
func (s *Store) Payload(ctx context.Context, id string) ([]byte, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.conn.QueryRowContext(ctx, `SELECT data FROM payloads WHERE document_id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payload %s: %w", id, document.ErrRecordNotFound)
	}
	if err != nil {
		return nil, classify(fmt.Errorf("failed to read payload %s: %w", id, err))
	}
	return data, nil
}

// Update applies a partial update to a document.
//
// Status changes must follow the document lifecycle; moving to failed
// records the previous status so Retry can restore it. Setting status to
// synced is rejected here: use MarkSynced, which also stamps synced_at.
func (s *Store) Update(ctx context.Context, id string, patch document.Patch) error {
	if err := s.check(); err != nil {
		return err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("document %s: %w", id, document.ErrRecordNotFound)
	}
	if err != nil {
		return classify(fmt.Errorf("failed to read document %s: %w", id, err))
	}

	var sets []string
	var args []interface{}

	if patch.Status != nil {
		from, to := document.Status(current), *patch.Status
		if to == document.StatusSynced && from != document.StatusSynced {
			return fmt.Errorf("%w: synced is set by MarkSynced", document.ErrInvalidTransition)
		}
		if err := document.CheckTransition(from, to); err != nil {
			return fmt.Errorf("document %s: %w", id, err)
		}
		sets = append(sets, "status = ?")
		args = append(args, string(to))
		if to == document.StatusFailed && from != document.StatusFailed {
			sets = append(sets, "failed_from = ?")
			args = append(args, string(from))
		}
	}

	if patch.ExtractedText != nil {
		sets = append(sets, "extracted_text = ?")
		args = append(args, nullString(*patch.ExtractedText))
	}

	if patch.Metadata != nil {
		metadataJSON, err := marshalMetadata(patch.Metadata)
		if err != nil {
			return err
		}
		sets = append(sets, "metadata = ?")
		args = append(args, metadataJSON)
	}

	if patch.Thumbnail != nil {
		sets = append(sets, "thumbnail = ?")
		args = append(args, nullString(*patch.Thumbnail))
	}

	// Every mutation bumps updated_at, even an empty patch.
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(time.Now()))
	args = append(args, id)

	query := `UPDATE documents SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return classify(fmt.Errorf("failed to update document %s: %w", id, err))
	}

	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("failed to commit update %s: %w", id, err))
	}
	return nil
}

// MarkSynced moves a processed document to synced and stamps synced_at.
// synced_at is written exactly once; a second call fails with
// document.ErrInvalidTransition.
func (s *Store) MarkSynced(ctx context.Context, id string, at time.Time) error {
	if err := s.check(); err != nil {
		return err
	}

	res, err := s.conn.ExecContext(ctx, `
	UPDATE documents
	SET status = ?, synced_at = ?, updated_at = ?
	WHERE id = ? AND status = ? AND synced_at IS NULL
	`,
		string(document.StatusSynced),
		formatTime(at),
		formatTime(time.Now()),
		id,
		string(document.StatusProcessed),
	)
	if err != nil {
		return classify(fmt.Errorf("failed to mark document %s synced: %w", id, err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n == 1 {
		return nil
	}

	doc, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("document %s: %w: %s -> synced", id, document.ErrInvalidTransition, doc.Status)
}

// Retry requeues a failed document to the status it held before failing.
// Returns the restored status.
func (s *Store) Retry(ctx context.Context, id string) (document.Status, error) {
	if err := s.check(); err != nil {
		return "", err
	}

	doc, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if doc.Status != document.StatusFailed {
		return "", fmt.Errorf("document %s: %w: %s is not failed", id, document.ErrInvalidTransition, doc.Status)
	}

	restore := doc.FailedFrom
	if !document.CanRetryTo(restore) {
		restore = document.StatusPending
	}

	_, err = s.conn.ExecContext(ctx, `
	UPDATE documents SET status = ?, failed_from = NULL, updated_at = ?
	WHERE id = ? AND status = ?
	`, string(restore), formatTime(time.Now()), id, string(document.StatusFailed))
	if err != nil {
		return "", classify(fmt.Errorf("failed to retry document %s: %w", id, err))
	}
	return restore, nil
}

// Delete removes a document and its payload.
// Returns document.ErrRecordNotFound if the id is unknown.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.check(); err != nil {
		return err
	}

	res, err := s.conn.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return classify(fmt.Errorf("failed to delete document %s: %w", id, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, document.ErrRecordNotFound)
	}
	return nil
}

// Filter configures the Query operation.
type Filter struct {
	// Statuses restricts to any of the given statuses (empty = all)
	Statuses []document.Status
	// FileType filters by exact MIME type (empty = all)
	FileType string
	// CreatedSince keeps documents created at or after this time (zero = no bound)
	CreatedSince time.Time
	// CreatedBefore keeps documents created strictly before this time (zero = no bound)
	CreatedBefore time.Time
	// Unsynced keeps only documents without synced_at
	Unsynced bool
	// SyncedBefore keeps documents whose synced_at is strictly before this time
	SyncedBefore time.Time
	// Limit restricts the number of results (0 = no limit)
	Limit int
	// Ascending orders by created_at oldest first (default newest first)
	Ascending bool
}

// Query retrieves documents matching the filter.
func (s *Store) Query(ctx context.Context, filter Filter) ([]*document.Document, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	var conditions []string
	var args []interface{}

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		conditions = append(conditions, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	if filter.FileType != "" {
		conditions = append(conditions, "file_type = ?")
		args = append(args, filter.FileType)
	}

	if !filter.CreatedSince.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, formatTime(filter.CreatedSince))
	}

	if !filter.CreatedBefore.IsZero() {
		conditions = append(conditions, "created_at < ?")
		args = append(args, formatTime(filter.CreatedBefore))
	}

	if filter.Unsynced {
		conditions = append(conditions, "synced_at IS NULL")
	}

	if !filter.SyncedBefore.IsZero() {
		conditions = append(conditions, "synced_at IS NOT NULL AND synced_at < ?")
		args = append(args, formatTime(filter.SyncedBefore))
	}

	query := `SELECT ` + documentColumns + ` FROM documents`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	if filter.Ascending {
		query += " ORDER BY created_at ASC, id ASC"
	} else {
		query += " ORDER BY created_at DESC, id DESC"
	}

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query documents: %w", err))
	}
	defer rows.Close()

	return scanDocuments(rows)
}

// Backlog returns processed documents that have not been synced, oldest
// first. limit <= 0 returns the whole backlog.
func (s *Store) Backlog(ctx context.Context, limit int) ([]*document.Document, error) {
	return s.Query(ctx, Filter{
		Statuses:  []document.Status{document.StatusProcessed},
		Unsynced:  true,
		Ascending: true,
		Limit:     limit,
	})
}

// Counts holds aggregate figures for the documents table.
type Counts struct {
	Total      int
	ByStatus   map[document.Status]int
	TotalBytes int64
}

// Counts returns per-status counts and the sum of declared sizes.
func (s *Store) Counts(ctx context.Context) (*Counts, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	rows, err := s.conn.QueryContext(ctx, `
	SELECT status, COUNT(*), COALESCE(SUM(file_size), 0)
	FROM documents
	GROUP BY status
	`)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to count documents: %w", err))
	}
	defer rows.Close()

	counts := &Counts{ByStatus: make(map[document.Status]int)}
	for rows.Next() {
		var status string
		var n int
		var bytes int64
		if err := rows.Scan(&status, &n, &bytes); err != nil {
			return nil, fmt.Errorf("failed to scan counts: %w", err)
		}
		counts.ByStatus[document.Status(status)] = n
		counts.Total += n
		counts.TotalBytes += bytes
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}
	return counts, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanDocument reads one row selected with documentColumns.
func scanDocument(row scanner) (*document.Document, error) {
	var doc document.Document
	var extractedText, metadataJSON, thumbnail, failedFrom, syncedAt sql.NullString
	var status, createdAt, updatedAt string

	err := row.Scan(
		&doc.ID,
		&doc.FileName,
		&doc.FileType,
		&doc.FileSize,
		&extractedText,
		&metadataJSON,
		&thumbnail,
		&status,
		&failedFrom,
		&createdAt,
		&updatedAt,
		&syncedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.ExtractedText = extractedText.String
	doc.Thumbnail = thumbnail.String
	doc.Status = document.Status(status)
	doc.FailedFrom = document.Status(failedFrom.String)
	doc.CreatedAt = parseTime(createdAt)
	doc.UpdatedAt = parseTime(updatedAt)
	doc.SyncedAt = nullStringToTime(syncedAt)
	doc.Source = document.SourceLocal

	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for %s: %w", doc.ID, err)
		}
	}

	return &doc, nil
}

// scanDocuments is a helper function to scan multiple documents.
func scanDocuments(rows *sql.Rows) ([]*document.Document, error) {
	var docs []*document.Document

	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}

	return docs, nil
}

func marshalMetadata(m map[string]any) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
